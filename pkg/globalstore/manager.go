package globalstore

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
	"github.com/rs/zerolog"

	"github.com/anvilfs/anvil/pkg/anvilerr"
	"github.com/anvilfs/anvil/pkg/types"
)

// Config configures one Global Control Plane node.
type Config struct {
	NodeID    string
	BindAddr  string
	DataDir   string
	Bootstrap bool
}

// Manager wraps a raft.Raft instance replicating control-plane commands
// across regions, adapted directly from the teacher's pkg/manager.Manager
// (NewManager/Bootstrap/IsLeader/LeaderAddr/GetRaftStats/Apply), generalized
// from Node/Service/Task commands to Tenant/App/Bucket/Policy commands.
type Manager struct {
	nodeID    string
	bindAddr  string
	dataDir   string
	bootstrap bool
	raft      *raft.Raft
	fsm       *FSM
	logger    zerolog.Logger
}

// NewManager constructs an unstarted Manager.
func NewManager(cfg Config, logger zerolog.Logger) *Manager {
	return &Manager{
		nodeID:    cfg.NodeID,
		bindAddr:  cfg.BindAddr,
		dataDir:   cfg.DataDir,
		bootstrap: cfg.Bootstrap,
		fsm:       NewFSM(),
		logger:    logger.With().Str("component", "globalstore").Logger(),
	}
}

// Bootstrap starts the raft subsystem: TCP transport, file snapshot store,
// bbolt-backed log and stable stores, and — when cfg.Bootstrap was set —
// a single-server cluster configuration naming this node the initial
// leader. Timeouts mirror the teacher's tuned values for fast local-cluster
// convergence rather than raft's WAN-oriented defaults.
func (m *Manager) Bootstrap() error {
	if err := os.MkdirAll(m.dataDir, 0o755); err != nil {
		return fmt.Errorf("globalstore: create data dir: %w", err)
	}

	raftDir := filepath.Join(m.dataDir, "raft")
	if err := os.MkdirAll(raftDir, 0o755); err != nil {
		return fmt.Errorf("globalstore: create raft dir: %w", err)
	}

	conf := raft.DefaultConfig()
	conf.LocalID = raft.ServerID(m.nodeID)
	conf.HeartbeatTimeout = 500 * time.Millisecond
	conf.ElectionTimeout = 500 * time.Millisecond
	conf.CommitTimeout = 50 * time.Millisecond
	conf.LeaderLeaseTimeout = 250 * time.Millisecond

	addr, err := net.ResolveTCPAddr("tcp", m.bindAddr)
	if err != nil {
		return fmt.Errorf("globalstore: resolve bind addr: %w", err)
	}
	transport, err := raft.NewTCPTransport(m.bindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return fmt.Errorf("globalstore: create transport: %w", err)
	}

	snapshots, err := raft.NewFileSnapshotStore(raftDir, 2, os.Stderr)
	if err != nil {
		return fmt.Errorf("globalstore: create snapshot store: %w", err)
	}

	boltStore, err := raftboltdb.NewBoltStore(filepath.Join(raftDir, "raft.db"))
	if err != nil {
		return fmt.Errorf("globalstore: create bolt store: %w", err)
	}

	r, err := raft.NewRaft(conf, m.fsm, boltStore, boltStore, snapshots, transport)
	if err != nil {
		return fmt.Errorf("globalstore: create raft: %w", err)
	}
	m.raft = r

	if m.bootstrap {
		config := raft.Configuration{
			Servers: []raft.Server{
				{ID: conf.LocalID, Address: transport.LocalAddr()},
			},
		}
		future := r.BootstrapCluster(config)
		if err := future.Error(); err != nil && err != raft.ErrCantBootstrap {
			return fmt.Errorf("globalstore: bootstrap cluster: %w", err)
		}
	}

	return nil
}

// IsLeader reports whether this node currently holds raft leadership.
func (m *Manager) IsLeader() bool { return m.raft.State() == raft.Leader }

// LeaderAddr returns the bind address of the current raft leader, if known.
func (m *Manager) LeaderAddr() string { return string(m.raft.Leader()) }

// GetRaftStats returns a snapshot of raft's internal stats, useful for a
// diagnostics endpoint.
func (m *Manager) GetRaftStats() map[string]interface{} {
	stats := map[string]interface{}{
		"state":  m.raft.State().String(),
		"leader": m.LeaderAddr(),
	}
	if cfgFuture := m.raft.GetConfiguration(); cfgFuture.Error() == nil {
		stats["servers"] = cfgFuture.Configuration().Servers
	}
	return stats
}

// AddVoter adds a voting member to the raft cluster; only the leader may
// call this successfully.
func (m *Manager) AddVoter(id, addr string) error {
	future := m.raft.AddVoter(raft.ServerID(id), raft.ServerAddress(addr), 0, 10*time.Second)
	return future.Error()
}

// Apply JSON-marshals cmd and submits it through raft, returning any error
// the FSM produced while applying the committed entry.
func (m *Manager) Apply(cmd Command, timeout time.Duration) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return anvilerr.Wrap(anvilerr.Internal, "marshal command", err)
	}
	future := m.raft.Apply(data, timeout)
	if err := future.Error(); err != nil {
		return anvilerr.Wrap(anvilerr.Unavailable, "raft apply", err)
	}
	if resp := future.Response(); resp != nil {
		if err, ok := resp.(error); ok && err != nil {
			return err
		}
	}
	return nil
}

// --- row operations: writes are submitted as raft commands; reads are
// served locally from the FSM's in-memory store, since raft already
// guarantees this node's FSM reflects every committed write. ---

// CreateTenant submits a create_tenant command and returns the assigned ID.
func (m *Manager) CreateTenant(name string) (*types.Tenant, error) {
	t := &types.Tenant{Name: name}
	data, _ := json.Marshal(t)
	if err := m.Apply(Command{Op: opCreateTenant, Data: data}, 5*time.Second); err != nil {
		return nil, err
	}
	return m.findTenantByName(name)
}

func (m *Manager) findTenantByName(name string) (*types.Tenant, error) {
	m.fsm.mu.RLock()
	defer m.fsm.mu.RUnlock()
	for _, t := range m.fsm.store.tenants {
		if t.Name == name {
			return t, nil
		}
	}
	return nil, anvilerr.New(anvilerr.NotFound, "tenant not found")
}

// GetTenant loads a tenant by ID from local FSM state.
func (m *Manager) GetTenant(id int64) (*types.Tenant, error) {
	m.fsm.mu.RLock()
	defer m.fsm.mu.RUnlock()
	t, ok := m.fsm.store.getTenant(id)
	if !ok {
		return nil, anvilerr.New(anvilerr.NotFound, "tenant not found")
	}
	return t, nil
}

// CreateApp submits a create_app command.
func (m *Manager) CreateApp(a *types.App) error {
	data, err := json.Marshal(a)
	if err != nil {
		return anvilerr.Wrap(anvilerr.Internal, "marshal app", err)
	}
	return m.Apply(Command{Op: opCreateApp, Data: data}, 5*time.Second)
}

// GetApp loads an app by ID from local FSM state.
func (m *Manager) GetApp(id int64) (*types.App, error) {
	m.fsm.mu.RLock()
	defer m.fsm.mu.RUnlock()
	a, ok := m.fsm.store.getApp(id)
	if !ok {
		return nil, anvilerr.New(anvilerr.NotFound, "app not found")
	}
	return a, nil
}

// FindAppByClientID resolves an app by its public client id (the S3
// access key id / gRPC auth client id) from local FSM state.
func (m *Manager) FindAppByClientID(clientID string) (*types.App, error) {
	m.fsm.mu.RLock()
	defer m.fsm.mu.RUnlock()
	a, ok := m.fsm.store.findAppByClientID(clientID)
	if !ok {
		return nil, anvilerr.New(anvilerr.NotFound, "app not found")
	}
	return a, nil
}

// CreateBucket submits a create_bucket command.
func (m *Manager) CreateBucket(b *types.Bucket) error {
	data, err := json.Marshal(b)
	if err != nil {
		return anvilerr.Wrap(anvilerr.Internal, "marshal bucket", err)
	}
	return m.Apply(Command{Op: opCreateBucket, Data: data}, 5*time.Second)
}

// UpdateBucket submits an update_bucket command (used for soft-delete and
// set_bucket_public_access).
func (m *Manager) UpdateBucket(b *types.Bucket) error {
	data, err := json.Marshal(b)
	if err != nil {
		return anvilerr.Wrap(anvilerr.Internal, "marshal bucket", err)
	}
	return m.Apply(Command{Op: opUpdateBucket, Data: data}, 5*time.Second)
}

// GetBucket loads a bucket by ID from local FSM state.
func (m *Manager) GetBucket(id int64) (*types.Bucket, error) {
	m.fsm.mu.RLock()
	defer m.fsm.mu.RUnlock()
	b, ok := m.fsm.store.getBucket(id)
	if !ok {
		return nil, anvilerr.New(anvilerr.NotFound, "bucket not found")
	}
	return b, nil
}

// FindBucketByName resolves a tenant's bucket by name from local FSM state.
func (m *Manager) FindBucketByName(tenantID int64, name string) (*types.Bucket, error) {
	m.fsm.mu.RLock()
	defer m.fsm.mu.RUnlock()
	b, ok := m.fsm.store.findBucketByName(tenantID, name)
	if !ok {
		return nil, anvilerr.New(anvilerr.NotFound, "bucket not found")
	}
	return b, nil
}

// FindPublicBucketByName resolves a bucket by name alone, ignoring tenant
// ownership, for anonymous (unauthenticated) reads — only a bucket with
// IsPublicRead set can be reached this way. Grounded on original_source's
// get_public_bucket_by_name (src/object_manager.rs), which performs the same
// tenant-agnostic, public-flag-filtered lookup.
func (m *Manager) FindPublicBucketByName(name string) (*types.Bucket, error) {
	m.fsm.mu.RLock()
	defer m.fsm.mu.RUnlock()
	b, ok := m.fsm.store.findPublicBucketByName(name)
	if !ok {
		return nil, anvilerr.New(anvilerr.NotFound, "bucket not found")
	}
	return b, nil
}

// CreatePolicy submits a create_policy command.
func (m *Manager) CreatePolicy(p *types.Policy) error {
	data, err := json.Marshal(p)
	if err != nil {
		return anvilerr.Wrap(anvilerr.Internal, "marshal policy", err)
	}
	return m.Apply(Command{Op: opCreatePolicy, Data: data}, 5*time.Second)
}

// DeletePolicy submits a delete_policy command.
func (m *Manager) DeletePolicy(id int64) error {
	data, _ := json.Marshal(id)
	return m.Apply(Command{Op: opDeletePolicy, Data: data}, 5*time.Second)
}

// ListBucketsForTenant returns every non-deleted bucket owned by tenantID
// from local FSM state.
func (m *Manager) ListBucketsForTenant(tenantID int64) []*types.Bucket {
	m.fsm.mu.RLock()
	defer m.fsm.mu.RUnlock()
	var out []*types.Bucket
	for _, b := range m.fsm.store.buckets {
		if b.TenantID == tenantID && b.DeletedAt == nil {
			out = append(out, b)
		}
	}
	return out
}

// PoliciesForApp returns every policy granted to appID from local FSM state.
func (m *Manager) PoliciesForApp(appID int64) []*types.Policy {
	m.fsm.mu.RLock()
	defer m.fsm.mu.RUnlock()
	return m.fsm.store.policiesForApp(appID)
}
