package globalstore

import (
	"fmt"

	"github.com/anvilfs/anvil/pkg/anvilerr"
	"github.com/anvilfs/anvil/pkg/types"
)

// memStore holds the control plane's rows in memory. It is only ever
// mutated from FSM.Apply, which raft guarantees is called serially and
// identically on every voter, so no locking is needed here: FSM.mu already
// serializes access from the outside.
type memStore struct {
	tenants    map[int64]*types.Tenant
	apps       map[int64]*types.App
	buckets    map[int64]*types.Bucket
	policies   map[int64]*types.Policy
	nextTenant int64
	nextApp    int64
	nextBucket int64
	nextPolicy int64
}

func newMemStore() *memStore {
	return &memStore{
		tenants:  make(map[int64]*types.Tenant),
		apps:     make(map[int64]*types.App),
		buckets:  make(map[int64]*types.Bucket),
		policies: make(map[int64]*types.Policy),
	}
}

func (m *memStore) createTenant(t *types.Tenant) error {
	m.nextTenant++
	t.ID = m.nextTenant
	m.tenants[t.ID] = t
	return nil
}

func (m *memStore) createApp(a *types.App) error {
	if _, ok := m.tenants[a.TenantID]; !ok {
		return anvilerr.New(anvilerr.InvalidArgument, fmt.Sprintf("tenant %d does not exist", a.TenantID))
	}
	m.nextApp++
	a.ID = m.nextApp
	m.apps[a.ID] = a
	return nil
}

func (m *memStore) createBucket(b *types.Bucket) error {
	if _, ok := m.tenants[b.TenantID]; !ok {
		return anvilerr.New(anvilerr.InvalidArgument, fmt.Sprintf("tenant %d does not exist", b.TenantID))
	}
	for _, existing := range m.buckets {
		if existing.TenantID == b.TenantID && existing.Name == b.Name && existing.DeletedAt == nil {
			return anvilerr.New(anvilerr.AlreadyExists, fmt.Sprintf("bucket %q already exists", b.Name))
		}
	}
	m.nextBucket++
	b.ID = m.nextBucket
	m.buckets[b.ID] = b
	return nil
}

func (m *memStore) updateBucket(b *types.Bucket) error {
	if _, ok := m.buckets[b.ID]; !ok {
		return anvilerr.New(anvilerr.NotFound, fmt.Sprintf("bucket %d not found", b.ID))
	}
	m.buckets[b.ID] = b
	return nil
}

func (m *memStore) hardDeleteBucket(id int64) error {
	if _, ok := m.buckets[id]; !ok {
		return anvilerr.New(anvilerr.NotFound, fmt.Sprintf("bucket %d not found", id))
	}
	delete(m.buckets, id)
	return nil
}

func (m *memStore) createPolicy(p *types.Policy) error {
	if _, ok := m.apps[p.AppID]; !ok {
		return anvilerr.New(anvilerr.InvalidArgument, fmt.Sprintf("app %d does not exist", p.AppID))
	}
	m.nextPolicy++
	p.ID = m.nextPolicy
	m.policies[p.ID] = p
	return nil
}

func (m *memStore) deletePolicy(id int64) error {
	if _, ok := m.policies[id]; !ok {
		return anvilerr.New(anvilerr.NotFound, fmt.Sprintf("policy %d not found", id))
	}
	delete(m.policies, id)
	return nil
}

func (m *memStore) getTenant(id int64) (*types.Tenant, bool) {
	t, ok := m.tenants[id]
	return t, ok
}

func (m *memStore) getApp(id int64) (*types.App, bool) {
	a, ok := m.apps[id]
	return a, ok
}

func (m *memStore) getBucket(id int64) (*types.Bucket, bool) {
	b, ok := m.buckets[id]
	return b, ok
}

func (m *memStore) findAppByClientID(clientID string) (*types.App, bool) {
	for _, a := range m.apps {
		if a.ClientID == clientID {
			return a, true
		}
	}
	return nil, false
}

func (m *memStore) findBucketByName(tenantID int64, name string) (*types.Bucket, bool) {
	for _, b := range m.buckets {
		if b.TenantID == tenantID && b.Name == name && b.DeletedAt == nil {
			return b, true
		}
	}
	return nil, false
}

func (m *memStore) findPublicBucketByName(name string) (*types.Bucket, bool) {
	for _, b := range m.buckets {
		if b.Name == name && b.IsPublicRead && b.DeletedAt == nil {
			return b, true
		}
	}
	return nil, false
}

func (m *memStore) policiesForApp(appID int64) []*types.Policy {
	var out []*types.Policy
	for _, p := range m.policies {
		if p.AppID == appID {
			out = append(out, p)
		}
	}
	return out
}

func (m *memStore) snapshot() *stateSnapshot {
	snap := &stateSnapshot{}
	for _, t := range m.tenants {
		snap.Tenants = append(snap.Tenants, t)
	}
	for _, a := range m.apps {
		snap.Apps = append(snap.Apps, a)
	}
	for _, b := range m.buckets {
		snap.Buckets = append(snap.Buckets, b)
	}
	for _, p := range m.policies {
		snap.Policies = append(snap.Policies, p)
	}
	return snap
}
