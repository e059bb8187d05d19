package certmgr

import (
	"testing"

	"github.com/maand-sh/maand/pkg/storage"
	"github.com/maand-sh/maand/pkg/types"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *storage.BoltStore {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRunIssuesHostAndJobCerts(t *testing.T) {
	store := newTestStore(t)
	bucket := &types.Bucket{BucketID: "bucket-1"}
	hosts := []*types.Host{{HostID: "h1", HostIP: "10.0.0.1"}}
	job := &types.Job{Name: "api", Certs: []types.JobCert{{Name: "server", Subject: "/CN=api"}}}
	allocations := []*types.Allocation{{HostIP: "10.0.0.1", Job: "api"}}

	result, err := Run(store, bucket, hosts, []*types.Job{job}, allocations, 60)
	require.NoError(t, err)
	require.Equal(t, 1, result.HostCertsIssued)
	require.Equal(t, 1, result.JobCertsIssued)
	require.False(t, result.CARotated)
	require.NotEmpty(t, bucket.CAMD5Hash)
}

func TestRunIsIdempotentWithoutChange(t *testing.T) {
	store := newTestStore(t)
	bucket := &types.Bucket{BucketID: "bucket-2"}
	hosts := []*types.Host{{HostID: "h1", HostIP: "10.0.0.1"}}

	_, err := Run(store, bucket, hosts, nil, nil, 60)
	require.NoError(t, err)

	result, err := Run(store, bucket, hosts, nil, nil, 60)
	require.NoError(t, err)
	require.Equal(t, 0, result.HostCertsIssued, "re-running with no change should not re-issue a fresh cert")
	require.False(t, result.CARotated)
}

func TestRestoreHostCertRoundTrip(t *testing.T) {
	// spec.md §8: "A cert archived to KV after issuance can be restored to
	// disk byte-for-byte from the KV row alone."
	store := newTestStore(t)
	bucket := &types.Bucket{BucketID: "bucket-3"}
	hosts := []*types.Host{{HostID: "h1", HostIP: "10.0.0.5"}}

	_, err := Run(store, bucket, hosts, nil, nil, 60)
	require.NoError(t, err)

	certPEM, keyPEM, caPEM, ok, err := RestoreHostCert(store, "10.0.0.5")
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEmpty(t, certPEM)
	require.NotEmpty(t, keyPEM)
	require.NotEmpty(t, caPEM)
}

func TestRestoreJobCertRoundTrip(t *testing.T) {
	store := newTestStore(t)
	bucket := &types.Bucket{BucketID: "bucket-4"}
	hosts := []*types.Host{{HostID: "h1", HostIP: "10.0.0.6"}}
	job := &types.Job{Name: "web", Certs: []types.JobCert{{Name: "tls", Subject: "/CN=web"}}}
	allocations := []*types.Allocation{{HostIP: "10.0.0.6", Job: "web"}}

	_, err := Run(store, bucket, hosts, []*types.Job{job}, allocations, 60)
	require.NoError(t, err)

	certPEM, keyPEM, caPEM, ok, err := RestoreJobCert(store, "10.0.0.6", "web", "tls")
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEmpty(t, certPEM)
	require.NotEmpty(t, keyPEM)
	require.NotEmpty(t, caPEM)
}

func TestRestoreMissingCertReturnsNotOK(t *testing.T) {
	store := newTestStore(t)
	_, _, _, ok, err := RestoreHostCert(store, "10.0.0.99")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRunDefaultsCertsTTLWhenZero(t *testing.T) {
	store := newTestStore(t)
	bucket := &types.Bucket{BucketID: "bucket-5"}
	job := &types.Job{Name: "api", Certs: []types.JobCert{{Name: "server", Subject: "/CN=api"}}}
	allocations := []*types.Allocation{{HostIP: "10.0.0.7", Job: "api"}}
	hosts := []*types.Host{{HostID: "h1", HostIP: "10.0.0.7"}}

	result, err := Run(store, bucket, hosts, []*types.Job{job}, allocations, 0)
	require.NoError(t, err)
	require.Equal(t, 1, result.JobCertsIssued)
}
