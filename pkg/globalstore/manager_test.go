package globalstore

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/anvilfs/anvil/pkg/types"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager(Config{NodeID: "n1", BindAddr: "127.0.0.1:17100", DataDir: t.TempDir(), Bootstrap: true}, zerolog.Nop())
	require.NoError(t, m.Bootstrap())
	waitForLeader(t, m)
	return m
}

func waitForLeader(t *testing.T, m *Manager) {
	t.Helper()
	for i := 0; i < 200; i++ {
		if m.IsLeader() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("manager never became leader")
}

func TestCreateTenantAppBucket(t *testing.T) {
	m := newTestManager(t)

	tenant, err := m.CreateTenant("acme")
	require.NoError(t, err)
	require.NotZero(t, tenant.ID)

	require.NoError(t, m.CreateApp(&types.App{Name: "uploader", TenantID: tenant.ID}))

	require.NoError(t, m.CreateBucket(&types.Bucket{TenantID: tenant.ID, Name: "assets", Region: "us-east"}))
	bucket, err := m.FindBucketByName(tenant.ID, "assets")
	require.NoError(t, err)
	require.Equal(t, "us-east", bucket.Region)

	err = m.CreateBucket(&types.Bucket{TenantID: 999, Name: "bad"})
	require.Error(t, err)
}

func TestCreateBucketDuplicateNameRejected(t *testing.T) {
	m := newTestManager(t)
	tenant, err := m.CreateTenant("acme")
	require.NoError(t, err)

	require.NoError(t, m.CreateBucket(&types.Bucket{TenantID: tenant.ID, Name: "dup"}))
	err = m.CreateBucket(&types.Bucket{TenantID: tenant.ID, Name: "dup"})
	require.Error(t, err)
}
