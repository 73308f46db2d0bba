package bucketmanager

import (
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/anvilfs/anvil/pkg/anvilerr"
	"github.com/anvilfs/anvil/pkg/auth"
	"github.com/anvilfs/anvil/pkg/globalstore"
	"github.com/anvilfs/anvil/pkg/regionalstore"
	"github.com/anvilfs/anvil/pkg/taskqueue"
	"github.com/anvilfs/anvil/pkg/types"
)

var testAddrCounter = 17300

func newFixture(t *testing.T) (*Manager, *types.Claims) {
	t.Helper()

	testAddrCounter++
	global := globalstore.NewManager(globalstore.Config{
		NodeID:    "n1",
		BindAddr:  "127.0.0.1:" + strconv.Itoa(testAddrCounter),
		DataDir:   t.TempDir(),
		Bootstrap: true,
	}, zerolog.Nop())
	require.NoError(t, global.Bootstrap())
	for i := 0; i < 200 && !global.IsLeader(); i++ {
		time.Sleep(10 * time.Millisecond)
	}
	require.True(t, global.IsLeader())

	regional, err := regionalstore.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { regional.Close() })
	queue := taskqueue.New(regional, 10)

	tenant, err := global.CreateTenant("acme")
	require.NoError(t, err)

	scope := auth.Scope{Action: auth.ActionAll, Pattern: "*"}
	claims := &types.Claims{TenantID: tenant.ID, Scopes: []string{scope.String()}}

	return New(global, queue), claims
}

func TestCreateListDeleteBucket(t *testing.T) {
	m, claims := newFixture(t)

	bucket, err := m.CreateBucket(claims, "media", "us-east")
	require.NoError(t, err)
	require.Equal(t, "media", bucket.Name)
	require.False(t, bucket.IsPublicRead)

	list, err := m.ListBuckets(claims)
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, m.DeleteBucket(claims, "media"))

	list, err = m.ListBuckets(claims)
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestCreateBucketDuplicateNameRejected(t *testing.T) {
	m, claims := newFixture(t)

	_, err := m.CreateBucket(claims, "dupe", "us-east")
	require.NoError(t, err)

	_, err = m.CreateBucket(claims, "dupe", "us-east")
	require.Error(t, err)
	require.Equal(t, anvilerr.AlreadyExists, anvilerr.KindOf(err))
}

func TestSetBucketPublicAccess(t *testing.T) {
	m, claims := newFixture(t)

	_, err := m.CreateBucket(claims, "assets", "us-east")
	require.NoError(t, err)

	require.NoError(t, m.SetBucketPublicAccess(claims, "assets", true))

	list, err := m.ListBuckets(claims)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.True(t, list[0].IsPublicRead)
}

func TestCreateBucketDeniedWithoutScope(t *testing.T) {
	m, claims := newFixture(t)
	claims.Scopes = []string{auth.Scope{Action: auth.ActionObjectRead, Pattern: "*"}.String()}

	_, err := m.CreateBucket(claims, "media", "us-east")
	require.Error(t, err)
	require.Equal(t, anvilerr.PermissionDenied, anvilerr.KindOf(err))
}
