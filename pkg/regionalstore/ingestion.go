package regionalstore

import (
	bolt "go.etcd.io/bbolt"

	"github.com/anvilfs/anvil/pkg/anvilerr"
	"github.com/anvilfs/anvil/pkg/types"
)

// CreateIngestionJob assigns a fresh ID and stores the job row.
func (s *Store) CreateIngestionJob(job *types.IngestionJob) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketIngestionJobs)
		if job.ID == 0 {
			seq, err := b.NextSequence()
			if err != nil {
				return err
			}
			job.ID = int64(seq)
		}
		data, err := marshalJSON(job)
		if err != nil {
			return err
		}
		return b.Put(idKey(job.ID), data)
	})
}

// GetIngestionJob loads a job row by ID.
func (s *Store) GetIngestionJob(id int64) (*types.IngestionJob, error) {
	var job types.IngestionJob
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketIngestionJobs).Get(idKey(id))
		if data == nil {
			return anvilerr.New(anvilerr.NotFound, "ingestion job not found")
		}
		return unmarshalJSON(data, &job)
	})
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// UpdateIngestionJob overwrites an existing job row.
func (s *Store) UpdateIngestionJob(job *types.IngestionJob) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := marshalJSON(job)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketIngestionJobs).Put(idKey(job.ID), data)
	})
}

// PutIngestionItem upserts a per-file ingestion item, keyed by
// "{jobID}\x00{sourcePath}".
func (s *Store) PutIngestionItem(item *types.IngestionItem) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := marshalJSON(item)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketIngestionItems).Put(ingestionItemKey(item.JobID, item.SourcePath), data)
	})
}

// GetIngestionItem loads one item by job id and source path.
func (s *Store) GetIngestionItem(jobID int64, sourcePath string) (*types.IngestionItem, error) {
	var item types.IngestionItem
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketIngestionItems).Get(ingestionItemKey(jobID, sourcePath))
		if data == nil {
			return anvilerr.New(anvilerr.NotFound, "ingestion item not found")
		}
		return unmarshalJSON(data, &item)
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func ingestionItemKey(jobID int64, sourcePath string) []byte {
	return append(append(idKey(jobID), 0), []byte(sourcePath)...)
}

// CreateIngestionKey assigns a fresh ID and stores the encrypted
// credential row.
func (s *Store) CreateIngestionKey(key *types.IngestionKey) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketIngestionKeys)
		if key.ID == 0 {
			seq, err := b.NextSequence()
			if err != nil {
				return err
			}
			key.ID = int64(seq)
		}
		data, err := marshalJSON(key)
		if err != nil {
			return err
		}
		return b.Put(idKey(key.ID), data)
	})
}

// GetIngestionKey loads an encrypted credential row by ID.
func (s *Store) GetIngestionKey(id int64) (*types.IngestionKey, error) {
	var key types.IngestionKey
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketIngestionKeys).Get(idKey(id))
		if data == nil {
			return anvilerr.New(anvilerr.NotFound, "ingestion key not found")
		}
		return unmarshalJSON(data, &key)
	})
	if err != nil {
		return nil, err
	}
	return &key, nil
}
