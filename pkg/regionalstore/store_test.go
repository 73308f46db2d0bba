package regionalstore

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/anvilfs/anvil/pkg/types"
)

func TestPutGetListObjects(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.PutObject(&types.Object{BucketID: 1, Key: "a/one", ContentHash: "h1"}))
	require.NoError(t, s.PutObject(&types.Object{BucketID: 1, Key: "a/two", ContentHash: "h2"}))
	require.NoError(t, s.PutObject(&types.Object{BucketID: 2, Key: "a/one", ContentHash: "h3"}))

	got, err := s.GetObjectByKey(1, "a/one")
	require.NoError(t, err)
	require.Equal(t, "h1", got.ContentHash)

	list, err := s.ListObjects(1, "a/", "", 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "a/one", list[0].Key)
	require.Equal(t, "a/two", list[1].Key)
}

func TestSoftThenHardDelete(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.PutObject(&types.Object{BucketID: 1, Key: "k", ContentHash: "h"}))
	obj, err := s.GetObjectByKey(1, "k")
	require.NoError(t, err)

	now := obj.CreatedAt
	obj.DeletedAt = &now
	require.NoError(t, s.SoftDeleteObject(obj))

	_, err = s.GetObjectByKey(1, "k")
	require.Error(t, err)

	require.NoError(t, s.HardDeleteObject(obj.ID))
	_, err = s.GetObjectByID(obj.ID)
	require.Error(t, err)
}

func TestListObjectsPagination(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	for _, k := range []string{"a", "b", "c", "d"} {
		require.NoError(t, s.PutObject(&types.Object{BucketID: 9, Key: k, ContentHash: k}))
	}
	page1, err := s.ListObjects(9, "", "", 2)
	require.NoError(t, err)
	require.Len(t, page1, 2)

	page2, err := s.ListObjects(9, "", page1[len(page1)-1].Key, 2)
	require.NoError(t, err)
	require.Len(t, page2, 2)
	require.Equal(t, "c", page2[0].Key)
}
