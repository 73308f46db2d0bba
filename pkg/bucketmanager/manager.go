// Package bucketmanager implements create_bucket, delete_bucket,
// list_buckets, and set_bucket_public_access against the Global Control
// Plane, per SPEC_FULL.md §4.8.
//
// Grounded on the teacher's pkg/manager.Manager CRUD wrapper pattern,
// generalized from Service rows to Bucket rows.
package bucketmanager

import (
	"fmt"
	"time"

	"github.com/anvilfs/anvil/pkg/anvilerr"
	"github.com/anvilfs/anvil/pkg/auth"
	"github.com/anvilfs/anvil/pkg/globalstore"
	"github.com/anvilfs/anvil/pkg/taskqueue"
	"github.com/anvilfs/anvil/pkg/types"
)

// Manager implements bucket lifecycle operations.
type Manager struct {
	global *globalstore.Manager
	queue  *taskqueue.Queue
}

// New builds a bucket manager.
func New(global *globalstore.Manager, queue *taskqueue.Queue) *Manager {
	return &Manager{global: global, queue: queue}
}

// CreateBucket validates the name (3-63 lowercase letters, digits and
// hyphens, not starting or ending with a hyphen), authorizes bucket:write,
// and inserts the row, mapping a name collision to AlreadyExists. The region
// is stored as given; it is not checked.
func (m *Manager) CreateBucket(claims *types.Claims, name, region string) (*types.Bucket, error) {
	if len(name) < 3 || len(name) > 63 || name[0] == '-' || name[len(name)-1] == '-' {
		return nil, anvilerr.New(anvilerr.InvalidArgument, "invalid bucket name")
	}
	for _, ch := range name {
		if !(ch >= 'a' && ch <= 'z' || ch >= '0' && ch <= '9' || ch == '-') {
			return nil, anvilerr.New(anvilerr.InvalidArgument, "invalid bucket name")
		}
	}
	if !auth.Authorize(claims.Scopes, auth.ActionBucketWrite, fmt.Sprintf("bucket:%s", name)) {
		return nil, anvilerr.New(anvilerr.PermissionDenied, "bucket:write denied")
	}
	bucket := &types.Bucket{
		TenantID:  claims.TenantID,
		Name:      name,
		Region:    region,
		CreatedAt: time.Now(),
	}
	if err := m.global.CreateBucket(bucket); err != nil {
		return nil, err
	}
	return m.global.FindBucketByName(claims.TenantID, name)
}

// DeleteBucket authorizes bucket:write, soft-deletes the bucket row, and
// enqueues a DeleteBucket task to fan out object cleanup.
func (m *Manager) DeleteBucket(claims *types.Claims, name string) error {
	if !auth.Authorize(claims.Scopes, auth.ActionBucketWrite, fmt.Sprintf("bucket:%s", name)) {
		return anvilerr.New(anvilerr.PermissionDenied, "bucket:write denied")
	}
	bucket, err := m.global.FindBucketByName(claims.TenantID, name)
	if err != nil {
		return anvilerr.New(anvilerr.NotFound, "bucket not found")
	}
	now := time.Now()
	bucket.DeletedAt = &now
	if err := m.global.UpdateBucket(bucket); err != nil {
		return err
	}
	_, err = m.queue.Enqueue(types.TaskDeleteBucket, types.DeleteBucketPayload{BucketID: bucket.ID}, 50)
	return err
}

// ListBuckets authorizes bucket:read|bucket:* and returns every non-deleted
// bucket belonging to the tenant.
func (m *Manager) ListBuckets(claims *types.Claims) ([]*types.Bucket, error) {
	if !auth.Authorize(claims.Scopes, auth.ActionBucketRead, "bucket:*") {
		return nil, anvilerr.New(anvilerr.PermissionDenied, "bucket:read denied")
	}
	return m.global.ListBucketsForTenant(claims.TenantID), nil
}

// SetBucketPublicAccess authorizes policy:grant and flips the public-read
// flag.
func (m *Manager) SetBucketPublicAccess(claims *types.Claims, name string, public bool) error {
	if !auth.Authorize(claims.Scopes, auth.ActionPolicyGrant, fmt.Sprintf("bucket:%s", name)) {
		return anvilerr.New(anvilerr.PermissionDenied, "policy:grant denied")
	}
	bucket, err := m.global.FindBucketByName(claims.TenantID, name)
	if err != nil {
		return anvilerr.New(anvilerr.NotFound, "bucket not found")
	}
	bucket.IsPublicRead = public
	return m.global.UpdateBucket(bucket)
}
