package placement

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/anvilfs/anvil/pkg/types"
)

func peers(ids ...string) []*types.Peer {
	out := make([]*types.Peer, len(ids))
	for i, id := range ids {
		out[i] = &types.Peer{Identity: id}
	}
	return out
}

func TestCalculateIsDeterministic(t *testing.T) {
	members := peers("peer-a", "peer-b", "peer-c", "peer-d", "peer-e", "peer-f")
	first := Calculate("my-object-key", members, 4)
	second := Calculate("my-object-key", members, 4)
	require.Equal(t, first, second)
	require.Len(t, first, 4)
}

func TestCalculateIsKeySensitive(t *testing.T) {
	members := peers("peer-a", "peer-b", "peer-c", "peer-d", "peer-e", "peer-f")
	a := Calculate("key-one", members, 6)
	b := Calculate("key-two", members, 6)
	require.NotEqual(t, a, b)
}

func TestCalculateEmptyMembership(t *testing.T) {
	require.Empty(t, Calculate("k", nil, 4))
}

func TestCalculateCountExceedsMembership(t *testing.T) {
	members := peers("peer-a", "peer-b")
	out := Calculate("k", members, 6)
	require.Len(t, out, 2)
}

func TestCalculateIsPrefixStable(t *testing.T) {
	members := peers("peer-a", "peer-b", "peer-c", "peer-d", "peer-e", "peer-f")
	smaller := Calculate("k", members, 2)
	larger := Calculate("k", members, 4)
	require.Equal(t, smaller, larger[:2])
}
