// Package localstore implements Anvil's Local Shard Store: an on-disk root
// with "objects/" and "tmp/" subdirectories, atomic temp-to-final rename,
// and content-addressed final paths.
//
// Grounded on original_source/anvil-core/src/storage.rs (same directory
// layout, same rename-commit semantics, same BLAKE3 streaming hash) and on
// the teacher's boltdb.go idiom of one small, explicit method per
// operation.
package localstore

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"lukechampine.com/blake3"

	"github.com/anvilfs/anvil/pkg/anvilerr"
)

const (
	objectsDir = "objects"
	tempDir    = "tmp"
)

// Store is a filesystem-backed Local Shard Store rooted at a directory.
type Store struct {
	root     string
	objects  string
	temp     string
}

// New opens (creating if necessary) a Store at root.
func New(root string) (*Store, error) {
	objects := filepath.Join(root, objectsDir)
	temp := filepath.Join(root, tempDir)
	if err := os.MkdirAll(objects, 0o755); err != nil {
		return nil, fmt.Errorf("localstore: create objects dir: %w", err)
	}
	if err := os.MkdirAll(temp, 0o755); err != nil {
		return nil, fmt.Errorf("localstore: create tmp dir: %w", err)
	}
	return &Store{root: root, objects: objects, temp: temp}, nil
}

func (s *Store) wholeObjectPath(contentHash string) string {
	return filepath.Join(s.objects, contentHash)
}

func (s *Store) shardPath(contentHash string, shardIndex int) string {
	return filepath.Join(s.objects, fmt.Sprintf("%s-%02d", contentHash, shardIndex))
}

func (s *Store) tempWholeObjectPath(uploadID string) string {
	return filepath.Join(s.temp, uploadID)
}

func (s *Store) tempShardPath(uploadID string, shardIndex int) string {
	return filepath.Join(s.temp, fmt.Sprintf("%s-%02d", uploadID, shardIndex))
}

// NewUploadID mints a fresh upload identifier for staging.
func NewUploadID() string {
	return uuid.NewString()
}

// StreamToTempFile consumes r fully, writing it to a fresh temp path while
// computing the BLAKE3 hash of the untouched byte stream. Returns the temp
// path, total bytes written, and the hex content hash.
func (s *Store) StreamToTempFile(r io.Reader) (tempPath string, totalBytes int64, contentHash string, err error) {
	uploadID := NewUploadID()
	tempPath = s.tempWholeObjectPath(uploadID)

	f, err := os.Create(tempPath)
	if err != nil {
		return "", 0, "", anvilerr.Wrap(anvilerr.Internal, "localstore: create temp file", err)
	}
	defer f.Close()

	hasher := blake3.New(32, nil)
	n, err := io.Copy(io.MultiWriter(f, hasher), r)
	if err != nil {
		return "", 0, "", anvilerr.Wrap(anvilerr.Internal, "localstore: write temp file", err)
	}
	if err := f.Sync(); err != nil {
		return "", 0, "", anvilerr.Wrap(anvilerr.Internal, "localstore: fsync temp file", err)
	}
	return tempPath, n, fmt.Sprintf("%x", hasher.Sum(nil)), nil
}

// CommitWholeObject atomically renames tempPath to objects/{contentHash}.
// Idempotent: if the destination already exists, the rename still succeeds
// on POSIX filesystems (replacing a file with identical content).
func (s *Store) CommitWholeObject(tempPath, contentHash string) error {
	if err := os.Rename(tempPath, s.wholeObjectPath(contentHash)); err != nil {
		return anvilerr.Wrap(anvilerr.Internal, "localstore: commit whole object", err)
	}
	return nil
}

// CommitWholeObjectFromBytes writes data directly to its final content-hash
// path, used by internally-synthesized uploads (e.g. the HF ingestion
// index file) that already have bytes in memory.
func (s *Store) CommitWholeObjectFromBytes(data []byte, contentHash string) error {
	if err := os.WriteFile(s.wholeObjectPath(contentHash), data, 0o644); err != nil {
		return anvilerr.Wrap(anvilerr.Internal, "localstore: write whole object", err)
	}
	return nil
}

// StoreTempShard appends data to the staging file for (uploadID,
// shardIndex).
func (s *Store) StoreTempShard(uploadID string, shardIndex int, data []byte) error {
	path := s.tempShardPath(uploadID, shardIndex)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return anvilerr.Wrap(anvilerr.Internal, "localstore: open temp shard", err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return anvilerr.Wrap(anvilerr.Internal, "localstore: write temp shard", err)
	}
	return nil
}

// CommitShard atomically renames the staged shard to
// objects/{contentHash}-{shardIndex:02}.
func (s *Store) CommitShard(uploadID string, shardIndex int, contentHash string) error {
	src := s.tempShardPath(uploadID, shardIndex)
	dst := s.shardPath(contentHash, shardIndex)
	if err := os.Rename(src, dst); err != nil {
		if os.IsNotExist(err) {
			// Already committed by a prior attempt for the same content
			// hash; success if the destination now exists.
			if _, statErr := os.Stat(dst); statErr == nil {
				return nil
			}
		}
		return anvilerr.Wrap(anvilerr.Internal, "localstore: commit shard", err)
	}
	return nil
}

// RetrieveWholeObject reads back objects/{contentHash}.
func (s *Store) RetrieveWholeObject(contentHash string) ([]byte, error) {
	data, err := os.ReadFile(s.wholeObjectPath(contentHash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, anvilerr.New(anvilerr.NotFound, "whole object not found")
		}
		return nil, anvilerr.Wrap(anvilerr.Internal, "localstore: retrieve whole object", err)
	}
	return data, nil
}

// RetrieveShard reads back objects/{contentHash}-{shardIndex:02}.
func (s *Store) RetrieveShard(contentHash string, shardIndex int) ([]byte, error) {
	data, err := os.ReadFile(s.shardPath(contentHash, shardIndex))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, anvilerr.New(anvilerr.NotFound, "shard not found")
		}
		return nil, anvilerr.Wrap(anvilerr.Internal, "localstore: retrieve shard", err)
	}
	return data, nil
}

// DeleteShard removes a shard file. A missing file is not an error — the
// caller (the DeleteObject task handler) treats absence as success.
func (s *Store) DeleteShard(contentHash string, shardIndex int) error {
	err := os.Remove(s.shardPath(contentHash, shardIndex))
	if err != nil && !os.IsNotExist(err) {
		return anvilerr.Wrap(anvilerr.Internal, "localstore: delete shard", err)
	}
	return nil
}

// DeleteWholeObject removes objects/{contentHash}. A missing file is not an
// error.
func (s *Store) DeleteWholeObject(contentHash string) error {
	err := os.Remove(s.wholeObjectPath(contentHash))
	if err != nil && !os.IsNotExist(err) {
		return anvilerr.Wrap(anvilerr.Internal, "localstore: delete whole object", err)
	}
	return nil
}

// HasWholeObject reports whether a whole-object file exists locally,
// without reading its contents (fast-path probe for get_object).
func (s *Store) HasWholeObject(contentHash string) bool {
	_, err := os.Stat(s.wholeObjectPath(contentHash))
	return err == nil
}

// HasShard reports whether a shard file exists locally.
func (s *Store) HasShard(contentHash string, shardIndex int) bool {
	_, err := os.Stat(s.shardPath(contentHash, shardIndex))
	return err == nil
}
