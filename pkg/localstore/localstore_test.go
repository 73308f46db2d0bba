package localstore

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStreamCommitRetrieveWholeObject(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	payload := []byte("hello world")
	tempPath, n, hash, err := s.StreamToTempFile(bytes.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, int64(len(payload)), n)

	require.NoError(t, s.CommitWholeObject(tempPath, hash))

	got, err := s.RetrieveWholeObject(hash)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestShardStageCommitRetrieveDelete(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	uploadID := NewUploadID()
	require.NoError(t, s.StoreTempShard(uploadID, 0, []byte("shard-bytes")))
	require.NoError(t, s.CommitShard(uploadID, 0, "deadbeef"))

	got, err := s.RetrieveShard("deadbeef", 0)
	require.NoError(t, err)
	require.Equal(t, []byte("shard-bytes"), got)

	require.NoError(t, s.DeleteShard("deadbeef", 0))
	_, err = s.RetrieveShard("deadbeef", 0)
	require.Error(t, err)

	// Deleting an already-absent shard is not an error.
	require.NoError(t, s.DeleteShard("deadbeef", 0))
}

func TestRetrieveMissingIsNotFound(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	_, err = s.RetrieveWholeObject("does-not-exist")
	require.Error(t, err)
}
