package taskqueue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/anvilfs/anvil/pkg/regionalstore"
	"github.com/anvilfs/anvil/pkg/types"
)

func newQueue(t *testing.T) *Queue {
	t.Helper()
	store, err := regionalstore.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return New(store, 3)
}

func TestEnqueueClaimComplete(t *testing.T) {
	q := newQueue(t)

	id, err := q.Enqueue(types.TaskDeleteObject, types.DeleteObjectPayload{ObjectID: 1}, 10)
	require.NoError(t, err)
	require.NotZero(t, id)

	claimed, err := q.Claim(10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.Equal(t, types.TaskRunning, claimed[0].Status)

	// A running task is not eligible for a second claim.
	again, err := q.Claim(10)
	require.NoError(t, err)
	require.Empty(t, again)

	require.NoError(t, q.Complete(id))
}

func TestFailRetriesThenDeadLetters(t *testing.T) {
	q := newQueue(t)

	id, err := q.Enqueue(types.TaskDeleteBucket, types.DeleteBucketPayload{BucketID: 1}, 10)
	require.NoError(t, err)

	cause := errors.New("peer unavailable")
	for i := 0; i < 3; i++ {
		require.NoError(t, q.Fail(id, cause))
	}

	dead, err := q.DeadLettered()
	require.NoError(t, err)
	require.Len(t, dead, 1)
	require.Equal(t, id, dead[0].ID)
	require.Equal(t, 3, dead[0].Attempts)
}

func TestPoolDispatchesToRegisteredHandler(t *testing.T) {
	q := newQueue(t)
	_, err := q.Enqueue(types.TaskDeleteObject, types.DeleteObjectPayload{ObjectID: 42}, 10)
	require.NoError(t, err)

	handled := make(chan int64, 1)
	pool := NewPool(q, 10*time.Millisecond, 5, zerolog.Nop())
	pool.Register(types.TaskDeleteObject, func(ctx context.Context, task *types.Task) error {
		handled <- task.ID
		return nil
	})
	pool.Start()
	defer pool.Stop()

	select {
	case <-handled:
	case <-time.After(2 * time.Second):
		t.Fatal("task was never dispatched to its handler")
	}
}
