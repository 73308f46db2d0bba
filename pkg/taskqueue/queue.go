// Package taskqueue implements Anvil's durable task queue: a bbolt-backed
// row store shared with pkg/regionalstore, claimed by worker goroutines
// through a single write transaction per batch. bbolt only ever allows one
// writer at a time, so a batch claim transaction gives "select ... for
// update skip locked" semantics for free, without a separate lock table.
//
// Grounded on the teacher's pkg/reconciler ticker-loop idiom for the worker
// pool's polling goroutine, and pkg/storage/boltdb.go for the bucket/JSON
// row pattern.
package taskqueue

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/anvilfs/anvil/pkg/anvilerr"
	"github.com/anvilfs/anvil/pkg/regionalstore"
	"github.com/anvilfs/anvil/pkg/types"
)

// Queue provides durable enqueue/claim/complete/fail operations over the
// shared regional bbolt database's "tasks" bucket.
type Queue struct {
	db          *bolt.DB
	bucket      []byte
	maxAttempts int
}

// New builds a Queue over store's underlying database.
func New(store *regionalstore.Store, maxAttempts int) *Queue {
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	return &Queue{db: store.DB(), bucket: regionalstore.TasksBucketName(), maxAttempts: maxAttempts}
}

func taskKey(id int64) []byte {
	return []byte(fmt.Sprintf("%020d", id))
}

// Enqueue inserts a new pending task, scheduled to run immediately.
func (q *Queue) Enqueue(taskType types.TaskType, payload interface{}, priority int) (int64, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, anvilerr.Wrap(anvilerr.Internal, "marshal task payload", err)
	}

	var id int64
	err = q.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(q.bucket)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		id = int64(seq)
		now := time.Now()
		task := &types.Task{
			ID:          id,
			Type:        taskType,
			Payload:     data,
			Status:      types.TaskPending,
			Priority:    priority,
			CreatedAt:   now,
			ScheduledAt: now,
			UpdatedAt:   now,
		}
		row, err := json.Marshal(task)
		if err != nil {
			return err
		}
		return b.Put(taskKey(id), row)
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// Claim atomically marks up to n eligible pending/failed tasks as Running
// and returns them. Eligibility: status is Pending, or Failed with
// ScheduledAt in the past (backoff elapsed) and Attempts below maxAttempts.
func (q *Queue) Claim(n int) ([]*types.Task, error) {
	var claimed []*types.Task
	now := time.Now()

	err := q.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(q.bucket)
		c := b.Cursor()
		for k, v := c.First(); k != nil && len(claimed) < n; k, v = c.Next() {
			var task types.Task
			if err := json.Unmarshal(v, &task); err != nil {
				return err
			}
			if !q.eligible(&task, now) {
				continue
			}
			task.Status = types.TaskRunning
			task.UpdatedAt = now
			row, err := json.Marshal(&task)
			if err != nil {
				return err
			}
			if err := b.Put(k, row); err != nil {
				return err
			}
			claimed = append(claimed, &task)
		}
		return nil
	})
	return claimed, err
}

func (q *Queue) eligible(task *types.Task, now time.Time) bool {
	switch task.Status {
	case types.TaskPending:
		return !task.ScheduledAt.After(now)
	case types.TaskFailed:
		return task.Attempts < q.maxAttempts && !task.ScheduledAt.After(now)
	default:
		return false
	}
}

// Complete marks a claimed task Completed.
func (q *Queue) Complete(id int64) error {
	return q.update(id, func(task *types.Task) {
		task.Status = types.TaskCompleted
		task.LastError = ""
	})
}

// Fail records a handler error against a claimed task, transitioning it to
// DeadLetter once attempts reach maxAttempts, or back to Failed with a
// quadratic backoff delay (attempts^2 * 10s) otherwise.
func (q *Queue) Fail(id int64, cause error) error {
	return q.update(id, func(task *types.Task) {
		task.Attempts++
		task.LastError = cause.Error()
		if task.Attempts >= q.maxAttempts {
			task.Status = types.TaskDeadLetter
			return
		}
		task.Status = types.TaskFailed
		backoff := time.Duration(math.Pow(float64(task.Attempts), 2)) * 10 * time.Second
		task.ScheduledAt = time.Now().Add(backoff)
	})
}

func (q *Queue) update(id int64, mutate func(*types.Task)) error {
	return q.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(q.bucket)
		key := taskKey(id)
		data := b.Get(key)
		if data == nil {
			return anvilerr.New(anvilerr.NotFound, "task not found")
		}
		var task types.Task
		if err := json.Unmarshal(data, &task); err != nil {
			return err
		}
		mutate(&task)
		task.UpdatedAt = time.Now()
		row, err := json.Marshal(&task)
		if err != nil {
			return err
		}
		return b.Put(key, row)
	})
}

// DeadLettered returns every task currently in DeadLetter status, for
// operator inspection.
func (q *Queue) DeadLettered() ([]*types.Task, error) {
	var out []*types.Task
	err := q.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(q.bucket)
		return b.ForEach(func(k, v []byte) error {
			var task types.Task
			if err := json.Unmarshal(v, &task); err != nil {
				return err
			}
			if task.Status == types.TaskDeadLetter {
				out = append(out, &task)
			}
			return nil
		})
	})
	return out, err
}
