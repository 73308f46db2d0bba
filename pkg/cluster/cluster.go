// Package cluster holds Anvil's Cluster State: an in-memory peer-identity
// to Peer mapping, behind a many-reader/single-writer lock, updated
// exclusively by the gossip subsystem (pkg/gossip) and read by Placement
// and the Object Manager at request time.
//
// Grounded on the teacher's storage.Store in-memory-map-of-record idiom,
// simplified to a pure memory structure (no persistence) since membership
// is, by design, only "eventually the union of gossip messages received".
package cluster

import (
	"sync"
	"time"

	"github.com/anvilfs/anvil/pkg/types"
)

// State is the live membership map.
type State struct {
	mu    sync.RWMutex
	peers map[string]*types.Peer
}

// New creates an empty Cluster State.
func New() *State {
	return &State{peers: make(map[string]*types.Peer)}
}

// Upsert inserts or refreshes a peer on gossip discovery/heartbeat.
func (s *State) Upsert(p *types.Peer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	cp.LastSeen = time.Now()
	s.peers[p.Identity] = &cp
}

// Remove deletes a peer on gossip expiry.
func (s *State) Remove(identity string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.peers, identity)
}

// Get returns the peer for identity, or (nil, false) if not a member.
func (s *State) Get(identity string) (*types.Peer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.peers[identity]
	return p, ok
}

// Live returns a snapshot slice of all current members. The caller must
// not mutate the returned Peer values.
func (s *State) Live() []*types.Peer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*types.Peer, 0, len(s.peers))
	for _, p := range s.peers {
		out = append(out, p)
	}
	return out
}

// Count returns the number of live peers.
func (s *State) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.peers)
}

// ExpireOlderThan removes every peer whose LastSeen predates the cutoff,
// returning the identities removed. Called by the gossip sweep loop.
func (s *State) ExpireOlderThan(cutoff time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed []string
	for id, p := range s.peers {
		if p.LastSeen.Before(cutoff) {
			delete(s.peers, id)
			removed = append(removed, id)
		}
	}
	return removed
}
