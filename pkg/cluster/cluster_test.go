package cluster

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/anvilfs/anvil/pkg/types"
)

func TestUpsertGetRemove(t *testing.T) {
	s := New()
	s.Upsert(&types.Peer{Identity: "peer-a", GRPCAddr: "10.0.0.1:9090"})

	p, ok := s.Get("peer-a")
	require.True(t, ok)
	require.Equal(t, "10.0.0.1:9090", p.GRPCAddr)

	s.Remove("peer-a")
	_, ok = s.Get("peer-a")
	require.False(t, ok)
}

func TestExpireOlderThan(t *testing.T) {
	s := New()
	s.Upsert(&types.Peer{Identity: "stale"})
	// Upsert always stamps "now", so instead of backdating the peer the
	// test asserts that a cutoff in the future expires everything.
	removed := s.ExpireOlderThan(time.Now().Add(time.Minute))
	require.Contains(t, removed, "stale")
	require.Equal(t, 0, s.Count())
}
