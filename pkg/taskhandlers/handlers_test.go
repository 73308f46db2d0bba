package taskhandlers

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/anvilfs/anvil/pkg/auth"
	"github.com/anvilfs/anvil/pkg/cluster"
	"github.com/anvilfs/anvil/pkg/localstore"
	"github.com/anvilfs/anvil/pkg/regionalstore"
	"github.com/anvilfs/anvil/pkg/taskqueue"
	"github.com/anvilfs/anvil/pkg/types"
)

func newDeps(t *testing.T) (*Deps, *localstore.Store, *regionalstore.Store, *taskqueue.Queue) {
	t.Helper()
	local, err := localstore.New(t.TempDir())
	require.NoError(t, err)

	regional, err := regionalstore.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { regional.Close() })

	queue := taskqueue.New(regional, 10)
	tokens := auth.NewTokenManager("test-secret")

	deps := NewDeps(local, regional, nil, queue, cluster.New(), tokens, "test-region")
	return deps, local, regional, queue
}

func TestHandleDeleteObjectWholeObjectPath(t *testing.T) {
	deps, local, regional, _ := newDeps(t)

	require.NoError(t, local.CommitWholeObjectFromBytes([]byte("payload"), "hash-1"))
	obj := &types.Object{BucketID: 1, Key: "k", ContentHash: "hash-1"}
	require.NoError(t, regional.PutObject(obj))

	payload := types.DeleteObjectPayload{ObjectID: obj.ID, ContentHash: "hash-1"}
	task := &types.Task{ID: 1, Type: types.TaskDeleteObject}
	task.Payload = mustJSON(t, payload)

	require.NoError(t, deps.HandleDeleteObject(context.Background(), task))

	require.False(t, local.HasWholeObject("hash-1"))
	_, err := regional.GetObjectByID(obj.ID)
	require.Error(t, err)
}

func TestHandleDeleteBucketEnqueuesChildDeletes(t *testing.T) {
	deps, _, regional, queue := newDeps(t)

	require.NoError(t, regional.PutObject(&types.Object{BucketID: 7, Key: "a", ContentHash: "h1"}))
	require.NoError(t, regional.PutObject(&types.Object{BucketID: 7, Key: "b", ContentHash: "h2"}))

	payload := types.DeleteBucketPayload{BucketID: 7}
	task := &types.Task{ID: 1, Type: types.TaskDeleteBucket}
	task.Payload = mustJSON(t, payload)

	require.NoError(t, deps.HandleDeleteBucket(context.Background(), task))

	remaining, err := regional.ListAllObjectsInBucket(7)
	require.NoError(t, err)
	for _, o := range remaining {
		require.NotNil(t, o.DeletedAt)
	}

	claimed, err := queue.Claim(10)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	for _, task := range claimed {
		require.Equal(t, types.TaskDeleteObject, task.Type)
	}
}

func mustJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}
