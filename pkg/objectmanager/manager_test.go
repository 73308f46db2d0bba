package objectmanager

import (
	"bytes"
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/anvilfs/anvil/pkg/anvilerr"
	"github.com/anvilfs/anvil/pkg/auth"
	"github.com/anvilfs/anvil/pkg/cluster"
	"github.com/anvilfs/anvil/pkg/codec"
	"github.com/anvilfs/anvil/pkg/globalstore"
	"github.com/anvilfs/anvil/pkg/localstore"
	"github.com/anvilfs/anvil/pkg/regionalstore"
	"github.com/anvilfs/anvil/pkg/taskqueue"
	"github.com/anvilfs/anvil/pkg/types"
)

// testFixture wires a full Manager against real, temp-dir-backed
// dependencies and no live cluster peers, so PutObject always takes the
// whole-object local path (placement.Calculate returns no peers).
type testFixture struct {
	mgr    *Manager
	global *globalstore.Manager
}

var testAddrCounter = 17200

func newFixture(t *testing.T) *testFixture {
	t.Helper()

	testAddrCounter++
	addr := "127.0.0.1:" + strconv.Itoa(testAddrCounter)
	global := globalstore.NewManager(globalstore.Config{
		NodeID:    "n1",
		BindAddr:  addr,
		DataDir:   t.TempDir(),
		Bootstrap: true,
	}, zerolog.Nop())
	require.NoError(t, global.Bootstrap())
	waitForLeader(t, global)

	local, err := localstore.New(t.TempDir())
	require.NoError(t, err)

	regional, err := regionalstore.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { regional.Close() })

	queue := taskqueue.New(regional, 10)

	var key [32]byte
	shardCodec, err := codec.New(2, 1, key)
	require.NoError(t, err)

	tokens := auth.NewTokenManager("test-secret")

	mgr := New(local, cluster.New(), regional, global, queue, shardCodec, tokens, "test-region", zerolog.Nop())

	return &testFixture{mgr: mgr, global: global}
}

func waitForLeader(t *testing.T, m *globalstore.Manager) {
	t.Helper()
	for i := 0; i < 200; i++ {
		if m.IsLeader() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("manager never became leader")
}

func (f *testFixture) createTenantBucket(t *testing.T, bucketName string, public bool) (*types.Tenant, *types.Bucket) {
	t.Helper()
	tenant, err := f.global.CreateTenant("acme-" + bucketName)
	require.NoError(t, err)
	bucket := &types.Bucket{TenantID: tenant.ID, Name: bucketName, Region: "test-region", IsPublicRead: public}
	require.NoError(t, f.global.CreateBucket(bucket))
	got, err := f.global.FindBucketByName(tenant.ID, bucketName)
	require.NoError(t, err)
	return tenant, got
}

func writerClaims(tenantID int64) *types.Claims {
	scope := auth.Scope{Action: auth.ActionAll, Pattern: "*"}
	return &types.Claims{TenantID: tenantID, Scopes: []string{scope.String()}}
}

func TestPutGetObjectAuthenticated(t *testing.T) {
	f := newFixture(t)
	_, bucket := f.createTenantBucket(t, "private-bucket", false)
	claims := writerClaims(bucket.TenantID)

	obj, err := f.mgr.PutObject(context.Background(), claims, bucket.Name, "k.txt", bytes.NewReader([]byte("hello world")))
	require.NoError(t, err)
	require.Equal(t, int64(len("hello world")), obj.Size)

	_, chunks, errCh, err := f.mgr.GetObject(context.Background(), claims, bucket.Name, "k.txt")
	require.NoError(t, err)
	data := drain(t, chunks, errCh)
	require.Equal(t, "hello world", string(data))
}

func TestAnonymousGetObjectPublicBucketSucceeds(t *testing.T) {
	f := newFixture(t)
	_, bucket := f.createTenantBucket(t, "public-bucket", true)
	claims := writerClaims(bucket.TenantID)

	_, err := f.mgr.PutObject(context.Background(), claims, bucket.Name, "k.txt", bytes.NewReader([]byte("anyone can read this")))
	require.NoError(t, err)

	_, chunks, errCh, err := f.mgr.GetObject(context.Background(), nil, bucket.Name, "k.txt")
	require.NoError(t, err)
	data := drain(t, chunks, errCh)
	require.Equal(t, "anyone can read this", string(data))
}

func TestAnonymousHeadAndListObjectPublicBucketSucceeds(t *testing.T) {
	f := newFixture(t)
	_, bucket := f.createTenantBucket(t, "public-bucket-2", true)
	claims := writerClaims(bucket.TenantID)

	_, err := f.mgr.PutObject(context.Background(), claims, bucket.Name, "a/k.txt", bytes.NewReader([]byte("data")))
	require.NoError(t, err)

	obj, err := f.mgr.HeadObject(nil, bucket.Name, "a/k.txt")
	require.NoError(t, err)
	require.Equal(t, "a/k.txt", obj.Key)

	list, err := f.mgr.ListObjects(nil, bucket.Name, "a/", "", "", 0)
	require.NoError(t, err)
	require.Len(t, list.Objects, 1)
}

func TestAnonymousGetObjectPrivateBucketDenied(t *testing.T) {
	f := newFixture(t)
	_, bucket := f.createTenantBucket(t, "private-bucket-2", false)
	claims := writerClaims(bucket.TenantID)

	_, err := f.mgr.PutObject(context.Background(), claims, bucket.Name, "k.txt", bytes.NewReader([]byte("secret")))
	require.NoError(t, err)

	// A private bucket is invisible to the anonymous, tenant-agnostic
	// public-bucket lookup, so this fails closed as NotFound rather than
	// leaking that a private bucket of this name exists.
	_, _, _, err = f.mgr.GetObject(context.Background(), nil, bucket.Name, "k.txt")
	require.Error(t, err)
	require.Equal(t, anvilerr.NotFound, anvilerr.KindOf(err))
}

func TestDeleteObjectThenGetNotFound(t *testing.T) {
	f := newFixture(t)
	_, bucket := f.createTenantBucket(t, "del-bucket", false)
	claims := writerClaims(bucket.TenantID)

	_, err := f.mgr.PutObject(context.Background(), claims, bucket.Name, "k.txt", bytes.NewReader([]byte("bye")))
	require.NoError(t, err)

	require.NoError(t, f.mgr.DeleteObject(claims, bucket.Name, "k.txt"))

	_, err = f.mgr.HeadObject(claims, bucket.Name, "k.txt")
	require.Error(t, err)
}

func drain(t *testing.T, chunks <-chan []byte, errCh <-chan error) []byte {
	t.Helper()
	var buf bytes.Buffer
	for chunks != nil || errCh != nil {
		select {
		case c, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			buf.Write(c)
		case e, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			require.NoError(t, e)
		}
	}
	return buf.Bytes()
}
