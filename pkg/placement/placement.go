// Package placement implements Anvil's Placement Engine: rendezvous
// (highest-random-weight) hashing over the current cluster membership.
//
// Grounded directly on original_source/anvil-core/src/placement.rs: for
// each live peer, hash key||peer_identity with BLAKE3, sort descending by
// hash bytes, take the first count. Hand-rolled rather than delegating to
// github.com/dgryski/go-rendezvous (an indirect dependency surfaced by
// eniz1806-VaultS3's go.mod) because the original source's algorithm is
// simple, unweighted, and directly reproducible with the same blake3
// dependency already wired for content hashing — see DESIGN.md.
package placement

import (
	"bytes"
	"sort"

	"lukechampine.com/blake3"

	"github.com/anvilfs/anvil/pkg/types"
)

type scored struct {
	identity string
	score    [32]byte
}

func score(key, peerIdentity string) [32]byte {
	h := blake3.New(32, nil)
	h.Write([]byte(key))
	h.Write([]byte(peerIdentity))
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Calculate returns an ordered list of peer identities for objectKey, drawn
// from members, of length min(count, len(members)). Determinism: the same
// members set and key always produce the same ordering. Empty members
// yields an empty result.
func Calculate(objectKey string, members []*types.Peer, count int) []string {
	if len(members) == 0 || count <= 0 {
		return nil
	}

	scores := make([]scored, len(members))
	for i, p := range members {
		scores[i] = scored{identity: p.Identity, score: score(objectKey, p.Identity)}
	}

	sort.Slice(scores, func(i, j int) bool {
		cmp := bytes.Compare(scores[i].score[:], scores[j].score[:])
		if cmp != 0 {
			return cmp > 0 // descending
		}
		return scores[i].identity < scores[j].identity // deterministic tiebreak
	})

	if count > len(scores) {
		count = len(scores)
	}
	out := make([]string, count)
	for i := 0; i < count; i++ {
		out[i] = scores[i].identity
	}
	return out
}
