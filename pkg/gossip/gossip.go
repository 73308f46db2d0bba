// Package gossip drives Anvil's Cluster State from peer-to-peer gossip
// messages. The wire transport (QUIC/TCP/mDNS) is an external collaborator
// per the spec; this package defines only the message contract and the
// membership-expiry sweep.
//
// Grounded on the teacher's pkg/reconciler ticker-loop idiom
// (time.NewTicker + select + stop channel), generalized from container
// health polling to peer liveness polling.
package gossip

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/anvilfs/anvil/pkg/cluster"
	"github.com/anvilfs/anvil/pkg/log"
	"github.com/anvilfs/anvil/pkg/metrics"
	"github.com/anvilfs/anvil/pkg/types"
)

// Message is the opaque gossip payload the core consumes: a peer
// announcement carrying its identity, p2p addresses, and public RPC
// address.
type Message struct {
	PeerIdentity string
	P2PAddrs     []string
	GRPCAddr     string
}

// ExpiryWindow is how long a peer may go unseen before it is pruned from
// Cluster State.
const ExpiryWindow = 30 * time.Second

// sweepInterval is how often the expiry sweep runs.
const sweepInterval = 10 * time.Second

// Membership applies inbound gossip messages to Cluster State and runs a
// background sweep that expires peers that have gone quiet.
type Membership struct {
	state  *cluster.State
	logger zerolog.Logger
	stopCh chan struct{}
}

// NewMembership wraps a Cluster State with gossip application and expiry.
func NewMembership(state *cluster.State) *Membership {
	return &Membership{
		state:  state,
		logger: log.WithComponent("gossip"),
		stopCh: make(chan struct{}),
	}
}

// Apply inserts or refreshes the peer named in msg.
func (m *Membership) Apply(msg Message) {
	m.state.Upsert(&types.Peer{
		Identity: msg.PeerIdentity,
		P2PAddrs: msg.P2PAddrs,
		GRPCAddr: msg.GRPCAddr,
	})
}

// Start begins the background expiry sweep.
func (m *Membership) Start() {
	go m.run()
}

// Stop halts the background expiry sweep.
func (m *Membership) Stop() {
	close(m.stopCh)
}

func (m *Membership) run() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	m.logger.Info().Msg("gossip membership sweep started")

	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-ExpiryWindow)
			removed := m.state.ExpireOlderThan(cutoff)
			metrics.GossipSweepsTotal.Inc()
			for _, id := range removed {
				m.logger.Warn().Str("peer_identity", id).Msg("peer expired from cluster state")
			}
		case <-m.stopCh:
			m.logger.Info().Msg("gossip membership sweep stopped")
			return
		}
	}
}
