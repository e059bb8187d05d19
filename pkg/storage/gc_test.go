package storage

import (
	"strconv"
	"testing"
	"time"

	"github.com/maand-sh/maand/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGCExpiresLongDetainedHosts(t *testing.T) {
	store := newTestStore(t)

	detainedAt := time.Now().Add(-40 * 24 * time.Hour).Unix()
	host := &types.Host{
		HostIP:   "10.0.0.1",
		Detained: true,
		Tags:     map[string]string{"_detained_at": strconv.FormatInt(detainedAt, 10)},
	}
	require.NoError(t, store.UpsertHost(host))
	require.NoError(t, store.UpsertAllocation(&types.Allocation{HostIP: "10.0.0.1", Job: "api"}))
	require.NoError(t, store.Put("host/10.0.0.1", "memory", "1024", 0))

	result, err := store.GC(30)
	require.NoError(t, err)
	assert.Equal(t, 1, result.HostsExpired)

	got, err := store.GetHost("10.0.0.1")
	require.NoError(t, err)
	assert.Nil(t, got)

	allocs, err := store.ListAllocationsByHost("10.0.0.1")
	require.NoError(t, err)
	assert.Empty(t, allocs)

	keys, err := store.ListKeys("host/10.0.0.1")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestGCDoesNotExpireRecentlyDetainedHosts(t *testing.T) {
	store := newTestStore(t)

	detainedAt := time.Now().Add(-2 * 24 * time.Hour).Unix()
	host := &types.Host{
		HostIP:   "10.0.0.2",
		Detained: true,
		Tags:     map[string]string{"_detained_at": strconv.FormatInt(detainedAt, 10)},
	}
	require.NoError(t, store.UpsertHost(host))

	result, err := store.GC(30)
	require.NoError(t, err)
	assert.Equal(t, 0, result.HostsExpired)

	got, err := store.GetHost("10.0.0.2")
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestGCIgnoresNonDetainedHosts(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.UpsertHost(&types.Host{HostIP: "10.0.0.3", Detained: false}))

	result, err := store.GC(0)
	require.NoError(t, err)
	assert.Equal(t, 0, result.HostsExpired)

	got, err := store.GetHost("10.0.0.3")
	require.NoError(t, err)
	assert.NotNil(t, got)
}
