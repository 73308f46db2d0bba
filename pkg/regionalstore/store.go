// Package regionalstore implements Anvil's Regional Metadata Store: a
// plain (non-raft) bbolt-backed store, one instance per region, holding
// Object rows, Ingestion job/item/key rows, and backing the Task Queue.
// No cross-region replication, matching the spec's stated non-goal.
//
// Grounded directly on the teacher's pkg/storage/boltdb.go: one bucket per
// entity, JSON-marshal-by-key CRUD, db.Update/db.View wrapping.
package regionalstore

import (
	"encoding/binary"
	"fmt"
	"path/filepath"
	"strings"

	bolt "go.etcd.io/bbolt"

	"github.com/anvilfs/anvil/pkg/anvilerr"
	"github.com/anvilfs/anvil/pkg/types"
)

var (
	bucketObjects        = []byte("objects")
	bucketObjectIndex    = []byte("object_index") // bucketID\x00key -> objectID
	bucketIngestionJobs  = []byte("ingestion_jobs")
	bucketIngestionItems = []byte("ingestion_items")
	bucketIngestionKeys  = []byte("ingestion_keys")
	bucketTasks          = []byte("tasks")
)

// Store is the bbolt-backed regional metadata store.
type Store struct {
	db *bolt.DB
}

// New opens (creating if necessary) a regional store at dataDir/anvil-regional.db.
func New(dataDir string) (*Store, error) {
	dbPath := filepath.Join(dataDir, "anvil-regional.db")
	db, err := bolt.Open(dbPath, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("regionalstore: open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketObjects, bucketObjectIndex, bucketIngestionJobs, bucketIngestionItems, bucketIngestionKeys, bucketTasks} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// DB exposes the underlying bbolt handle so pkg/taskqueue can run its own
// claim-and-lock transactions against the shared "tasks" bucket.
func (s *Store) DB() *bolt.DB { return s.db }

// TasksBucketName is the bucket taskqueue.Queue operates on.
func TasksBucketName() []byte { return bucketTasks }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

func idKey(id int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(id))
	return buf
}

func objectIndexKey(bucketID int64, key string) []byte {
	return []byte(fmt.Sprintf("%020d\x00%s", bucketID, key))
}

func objectIndexPrefix(bucketID int64) string {
	return fmt.Sprintf("%020d\x00", bucketID)
}

// PutObject assigns a fresh ID if obj.ID is zero, stores the row, and
// updates the (bucketID, key) -> id index so later reads resolve to this
// version. This realizes "last writer wins": two concurrent puts to the
// same key each get a distinct ID, and whichever PutObject call commits
// last wins the index pointer.
func (s *Store) PutObject(obj *types.Object) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		objs := tx.Bucket(bucketObjects)
		idx := tx.Bucket(bucketObjectIndex)

		if obj.ID == 0 {
			seq, err := objs.NextSequence()
			if err != nil {
				return err
			}
			obj.ID = int64(seq)
		}

		data, err := marshalJSON(obj)
		if err != nil {
			return err
		}
		if err := objs.Put(idKey(obj.ID), data); err != nil {
			return err
		}
		if obj.DeletedAt == nil {
			return idx.Put(objectIndexKey(obj.BucketID, obj.Key), idKey(obj.ID))
		}
		return nil
	})
}

// GetObjectByKey resolves the current live object for (bucketID, key).
func (s *Store) GetObjectByKey(bucketID int64, key string) (*types.Object, error) {
	var obj types.Object
	err := s.db.View(func(tx *bolt.Tx) error {
		idx := tx.Bucket(bucketObjectIndex)
		idBytes := idx.Get(objectIndexKey(bucketID, key))
		if idBytes == nil {
			return anvilerr.New(anvilerr.NotFound, "object not found")
		}
		data := tx.Bucket(bucketObjects).Get(idBytes)
		if data == nil {
			return anvilerr.New(anvilerr.Internal, "object index points to missing row")
		}
		return unmarshalJSON(data, &obj)
	})
	if err != nil {
		return nil, err
	}
	return &obj, nil
}

// GetObjectByID loads an object row directly by ID, including soft-deleted
// rows (used by the DeleteObject task handler's hard-delete step).
func (s *Store) GetObjectByID(id int64) (*types.Object, error) {
	var obj types.Object
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketObjects).Get(idKey(id))
		if data == nil {
			return anvilerr.New(anvilerr.NotFound, "object not found")
		}
		return unmarshalJSON(data, &obj)
	})
	if err != nil {
		return nil, err
	}
	return &obj, nil
}

// SoftDeleteObject stamps DeletedAt on the row and removes it from the
// listing index, without removing the row itself.
func (s *Store) SoftDeleteObject(obj *types.Object) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := marshalJSON(obj)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketObjects).Put(idKey(obj.ID), data); err != nil {
			return err
		}
		return tx.Bucket(bucketObjectIndex).Delete(objectIndexKey(obj.BucketID, obj.Key))
	})
}

// HardDeleteObject physically removes the object row.
func (s *Store) HardDeleteObject(id int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketObjects).Delete(idKey(id))
	})
}

// ListObjects returns live objects in bucketID whose key begins with
// prefix and is > startAfter, ordered by key ascending, capped at limit (0
// means the default cap of 1000).
func (s *Store) ListObjects(bucketID int64, prefix, startAfter string, limit int) ([]*types.Object, error) {
	if limit <= 0 {
		limit = 1000
	}
	var out []*types.Object
	err := s.db.View(func(tx *bolt.Tx) error {
		idx := tx.Bucket(bucketObjectIndex)
		objs := tx.Bucket(bucketObjects)
		c := idx.Cursor()

		seekPrefix := objectIndexKey(bucketID, prefix)
		for k, v := c.Seek(seekPrefix); k != nil && strings.HasPrefix(string(k), objectIndexPrefix(bucketID)); k, v = c.Next() {
			key := strings.TrimPrefix(string(k), objectIndexPrefix(bucketID))
			if !strings.HasPrefix(key, prefix) {
				break
			}
			if key <= startAfter {
				continue
			}
			data := objs.Get(v)
			if data == nil {
				continue
			}
			var obj types.Object
			if err := unmarshalJSON(data, &obj); err != nil {
				return err
			}
			out = append(out, &obj)
			if len(out) >= limit {
				break
			}
		}
		return nil
	})
	return out, err
}

// ListAllObjectsInBucket returns every live object owned by bucketID,
// unpaginated — used by the DeleteBucket task handler to enqueue child
// DeleteObject tasks.
func (s *Store) ListAllObjectsInBucket(bucketID int64) ([]*types.Object, error) {
	var out []*types.Object
	err := s.db.View(func(tx *bolt.Tx) error {
		idx := tx.Bucket(bucketObjectIndex)
		objs := tx.Bucket(bucketObjects)
		c := idx.Cursor()
		p := objectIndexPrefix(bucketID)
		for k, v := c.Seek([]byte(p)); k != nil && strings.HasPrefix(string(k), p); k, v = c.Next() {
			data := objs.Get(v)
			if data == nil {
				continue
			}
			var obj types.Object
			if err := unmarshalJSON(data, &obj); err != nil {
				return err
			}
			out = append(out, &obj)
		}
		return nil
	})
	return out, err
}
