// Package taskhandlers wires pkg/taskqueue.Handler functions for each
// types.TaskType, grounded on the same orchestration primitives
// pkg/objectmanager uses directly: pkg/localstore for local shard removal,
// pkg/internalrpc for fanning delete_shard out to remote peers, and
// pkg/regionalstore for the metadata side of cleanup.
package taskhandlers

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/anvilfs/anvil/pkg/anvilerr"
	"github.com/anvilfs/anvil/pkg/auth"
	"github.com/anvilfs/anvil/pkg/cluster"
	"github.com/anvilfs/anvil/pkg/globalstore"
	"github.com/anvilfs/anvil/pkg/internalrpc"
	"github.com/anvilfs/anvil/pkg/localstore"
	"github.com/anvilfs/anvil/pkg/regionalstore"
	"github.com/anvilfs/anvil/pkg/taskqueue"
	"github.com/anvilfs/anvil/pkg/types"
)

// Deps bundles the collaborators every task handler needs.
type Deps struct {
	Local    *localstore.Store
	Regional *regionalstore.Store
	Global   *globalstore.Manager
	Queue    *taskqueue.Queue
	Cluster  *cluster.State
	Tokens   *auth.TokenManager
	Region   string

	dialMu sync.Mutex
	conns  map[string]*internalrpc.ShardClient
}

// NewDeps builds Deps with its connection cache initialized.
func NewDeps(local *localstore.Store, regional *regionalstore.Store, global *globalstore.Manager, queue *taskqueue.Queue, clusterState *cluster.State, tokens *auth.TokenManager, region string) *Deps {
	return &Deps{
		Local:    local,
		Regional: regional,
		Global:   global,
		Queue:    queue,
		Cluster:  clusterState,
		Tokens:   tokens,
		Region:   region,
		conns:    make(map[string]*internalrpc.ShardClient),
	}
}

func (d *Deps) shardClient(addr string) (*internalrpc.ShardClient, error) {
	d.dialMu.Lock()
	defer d.dialMu.Unlock()
	if c, ok := d.conns[addr]; ok {
		return c, nil
	}
	conn, err := internalrpc.Dial(addr)
	if err != nil {
		return nil, anvilerr.Wrap(anvilerr.Unavailable, "dial peer", err)
	}
	c := internalrpc.NewShardClient(conn)
	d.conns[addr] = c
	return c, nil
}

func (d *Deps) withInternalToken(ctx context.Context, action auth.Action, resource string) (context.Context, error) {
	token, err := d.Tokens.Mint(0, 0, []string{string(action) + "|" + resource}, time.Minute)
	if err != nil {
		return nil, anvilerr.Wrap(anvilerr.Internal, "mint internal token", err)
	}
	return internalrpc.ContextWithToken(ctx, token), nil
}

// Register installs every handler on pool.
func Register(pool *taskqueue.Pool, deps *Deps) {
	pool.Register(types.TaskDeleteObject, deps.HandleDeleteObject)
	pool.Register(types.TaskDeleteBucket, deps.HandleDeleteBucket)
}

// HandleDeleteObject physically removes every shard (local and remote) of
// a soft-deleted object, then hard-deletes its metadata row.
func (d *Deps) HandleDeleteObject(ctx context.Context, task *types.Task) error {
	var payload types.DeleteObjectPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return anvilerr.Wrap(anvilerr.Internal, "unmarshal delete_object payload", err)
	}

	if len(payload.ShardMap) == 0 {
		if err := d.Local.DeleteWholeObject(payload.ContentHash); err != nil {
			return anvilerr.Wrap(anvilerr.Internal, "delete whole object", err)
		}
		return d.Regional.HardDeleteObject(payload.ObjectID)
	}

	var wg sync.WaitGroup
	var firstErr error
	var mu sync.Mutex
	for i, addr := range payload.ShardMap {
		wg.Add(1)
		go func(i int, addr string) {
			defer wg.Done()
			if err := d.Local.DeleteShard(payload.ContentHash, i); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				return
			}
			if _, ok := d.Cluster.Get(addr); !ok {
				return
			}
			client, err := d.shardClient(addr)
			if err != nil {
				return
			}
			callCtx, err := d.withInternalToken(ctx, auth.ActionInternalDeleteShard, fmt.Sprintf("%s/%d", payload.ContentHash, i))
			if err != nil {
				return
			}
			_, _ = client.DeleteShard(callCtx, &internalrpc.DeleteShardRequest{ContentHash: payload.ContentHash, ShardIndex: i})
		}(i, addr)
	}
	wg.Wait()
	if firstErr != nil {
		return firstErr
	}

	return d.Regional.HardDeleteObject(payload.ObjectID)
}

// HandleDeleteBucket soft-deletes every object still owned by the bucket
// and enqueues a DeleteObject task for each. It does not remove the bucket
// row.
func (d *Deps) HandleDeleteBucket(ctx context.Context, task *types.Task) error {
	var payload types.DeleteBucketPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return anvilerr.Wrap(anvilerr.Internal, "unmarshal delete_bucket payload", err)
	}

	objs, err := d.Regional.ListAllObjectsInBucket(payload.BucketID)
	if err != nil {
		return anvilerr.Wrap(anvilerr.Internal, "list bucket objects", err)
	}

	for _, obj := range objs {
		now := time.Now()
		obj.DeletedAt = &now
		if err := d.Regional.SoftDeleteObject(obj); err != nil {
			return err
		}
		childPayload := types.DeleteObjectPayload{
			ObjectID:    obj.ID,
			ContentHash: obj.ContentHash,
			Region:      d.Region,
			ShardMap:    obj.ShardMap,
		}
		if _, err := d.Queue.Enqueue(types.TaskDeleteObject, childPayload, 100); err != nil {
			return err
		}
	}

	return nil
}
