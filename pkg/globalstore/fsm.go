// Package globalstore implements Anvil's Global Control Plane: a
// hashicorp/raft-replicated finite state machine holding Tenant, App,
// Bucket, and Policy rows. The rows live in an in-memory store rebuilt from
// the raft log and snapshots; bbolt backs only the raft log/stable stores.
//
// Grounded directly on the teacher's pkg/manager + pkg/manager/fsm.go
// (Command{Op,Data} envelope, Apply/Snapshot/Restore shape), generalized
// from Node/Service/Task commands to Tenant/App/Bucket/Policy commands.
package globalstore

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/hashicorp/raft"

	"github.com/anvilfs/anvil/pkg/types"
)

// Command is one state-change operation applied to the FSM through raft.
type Command struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data"`
}

const (
	opCreateTenant = "create_tenant"
	opCreateApp    = "create_app"
	opCreateBucket = "create_bucket"
	opUpdateBucket = "update_bucket"
	opDeleteBucket = "hard_delete_bucket"
	opCreatePolicy = "create_policy"
	opDeletePolicy = "delete_policy"
)

// FSM implements raft.FSM over an in-memory control-plane store. Writes
// only ever happen through Apply, called by raft once a log entry commits.
type FSM struct {
	mu    sync.RWMutex
	store *memStore
}

// NewFSM builds an empty FSM.
func NewFSM() *FSM {
	return &FSM{store: newMemStore()}
}

// Apply decodes and applies one committed raft log entry.
func (f *FSM) Apply(log *raft.Log) interface{} {
	var cmd Command
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		return fmt.Errorf("globalstore: unmarshal command: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch cmd.Op {
	case opCreateTenant:
		var t types.Tenant
		if err := json.Unmarshal(cmd.Data, &t); err != nil {
			return err
		}
		return f.store.createTenant(&t)

	case opCreateApp:
		var a types.App
		if err := json.Unmarshal(cmd.Data, &a); err != nil {
			return err
		}
		return f.store.createApp(&a)

	case opCreateBucket:
		var b types.Bucket
		if err := json.Unmarshal(cmd.Data, &b); err != nil {
			return err
		}
		return f.store.createBucket(&b)

	case opUpdateBucket:
		var b types.Bucket
		if err := json.Unmarshal(cmd.Data, &b); err != nil {
			return err
		}
		return f.store.updateBucket(&b)

	case opDeleteBucket:
		var id int64
		if err := json.Unmarshal(cmd.Data, &id); err != nil {
			return err
		}
		return f.store.hardDeleteBucket(id)

	case opCreatePolicy:
		var p types.Policy
		if err := json.Unmarshal(cmd.Data, &p); err != nil {
			return err
		}
		return f.store.createPolicy(&p)

	case opDeletePolicy:
		var id int64
		if err := json.Unmarshal(cmd.Data, &id); err != nil {
			return err
		}
		return f.store.deletePolicy(id)

	default:
		return fmt.Errorf("globalstore: unknown command %q", cmd.Op)
	}
}

// Snapshot captures the full control-plane state for raft log compaction.
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.store.snapshot(), nil
}

// Restore replaces the FSM's state from a previously-persisted snapshot.
func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()
	var snap stateSnapshot
	if err := json.NewDecoder(rc).Decode(&snap); err != nil {
		return fmt.Errorf("globalstore: decode snapshot: %w", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.store = snap.toMemStore()
	return nil
}

// stateSnapshot is the wire/on-disk shape of a point-in-time FSM snapshot.
type stateSnapshot struct {
	Tenants  []*types.Tenant
	Apps     []*types.App
	Buckets  []*types.Bucket
	Policies []*types.Policy
}

func (s *stateSnapshot) toMemStore() *memStore {
	m := newMemStore()
	for _, t := range s.Tenants {
		m.tenants[t.ID] = t
		if t.ID > m.nextTenant {
			m.nextTenant = t.ID
		}
	}
	for _, a := range s.Apps {
		m.apps[a.ID] = a
		if a.ID > m.nextApp {
			m.nextApp = a.ID
		}
	}
	for _, b := range s.Buckets {
		m.buckets[b.ID] = b
		if b.ID > m.nextBucket {
			m.nextBucket = b.ID
		}
	}
	for _, p := range s.Policies {
		m.policies[p.ID] = p
		if p.ID > m.nextPolicy {
			m.nextPolicy = p.ID
		}
	}
	return m
}

// Persist writes the snapshot to raft's SnapshotSink as JSON.
func (s *stateSnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		if err := json.NewEncoder(sink).Encode(s); err != nil {
			return err
		}
		return sink.Close()
	}()
	if err != nil {
		sink.Cancel()
	}
	return err
}

// Release is a no-op; stateSnapshot holds no resources to free.
func (s *stateSnapshot) Release() {}
