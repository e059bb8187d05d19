package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	store, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestKVPutGetRoundTrip(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Put("host/10.0.0.1", "memory", "4096", 0))
	v, ok, err := store.Get("host/10.0.0.1", "memory")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "4096", v)
}

func TestKVGetMissingKeyReturnsNotOK(t *testing.T) {
	store := newTestStore(t)
	_, ok, err := store.Get("host/10.0.0.1", "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestKVDeleteTombstonesAndHidesKey(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Put("job/api", "port_http", "8080", 0))
	require.NoError(t, store.Delete("job/api", "port_http"))

	_, ok, err := store.Get("job/api", "port_http")
	require.NoError(t, err)
	assert.False(t, ok)

	keys, err := store.ListKeys("job/api")
	require.NoError(t, err)
	assert.NotContains(t, keys, "port_http")
}

func TestKVIdenticalPutDoesNotAdvanceVersion(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Put("job/api", "memory", "1024", 0))
	meta1, ok, err := store.GetMetadata("job/api", "memory")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, store.Put("job/api", "memory", "1024", 0))
	meta2, ok, err := store.GetMetadata("job/api", "memory")
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, meta1.Version, meta2.Version)
}

func TestKVChangedValueAdvancesVersion(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Put("job/api", "memory", "1024", 0))
	meta1, _, err := store.GetMetadata("job/api", "memory")
	require.NoError(t, err)

	require.NoError(t, store.Put("job/api", "memory", "2048", 0))
	meta2, _, err := store.GetMetadata("job/api", "memory")
	require.NoError(t, err)

	assert.Greater(t, meta2.Version, meta1.Version)
	assert.Equal(t, "2048", meta2.Value)
}

func TestKVListKeysExcludesDeleted(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Put("host/10.0.0.1", "a", "1", 0))
	require.NoError(t, store.Put("host/10.0.0.1", "b", "2", 0))
	require.NoError(t, store.Delete("host/10.0.0.1", "a"))

	keys, err := store.ListKeys("host/10.0.0.1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"b"}, keys)
}

func TestKVListKeysEmptyNamespace(t *testing.T) {
	store := newTestStore(t)
	keys, err := store.ListKeys("host/does-not-exist")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestKVDeleteOfMissingKeyIsNoOp(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Delete("host/10.0.0.1", "nope"))
}

func TestKVDeleteNamespacePurgesAllKeys(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Put("host/10.0.0.2", "memory", "1024", 0))
	require.NoError(t, store.Put("host/10.0.0.2", "cpu", "1000", 0))

	require.NoError(t, store.DeleteNamespace("host/10.0.0.2"))

	keys, err := store.ListKeys("host/10.0.0.2")
	require.NoError(t, err)
	assert.Empty(t, keys)
	_, ok, err := store.Get("host/10.0.0.2", "memory")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestKVWritesWithinTransactionAreVisible(t *testing.T) {
	// spec.md §5 ordering guarantee #4: a command plugin's KV writes are
	// visible to subsequent reads within the same cursor transaction.
	store := newTestStore(t)
	tx, err := store.Begin(true)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback() }()

	require.NoError(t, tx.Put("job/api", "memory", "512", 0))
	v, ok, err := tx.Get("job/api", "memory")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "512", v)
}

func TestKVRollbackDiscardsWrites(t *testing.T) {
	store := newTestStore(t)
	tx, err := store.Begin(true)
	require.NoError(t, err)
	require.NoError(t, tx.Put("job/api", "memory", "512", 0))
	require.NoError(t, tx.Rollback())

	_, ok, err := store.Get("job/api", "memory")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGCKeepsRecentTombstone(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Put("job/api", "stale", "1", 0))
	require.NoError(t, store.Delete("job/api", "stale"))

	// A fresh tombstone is not old enough to be purged at a long retention
	// window.
	result, err := store.GC(30)
	require.NoError(t, err)
	assert.Equal(t, 0, result.KVRowsDeleted)

	_, ok, err := store.GetMetadata("job/api", "stale")
	require.NoError(t, err)
	assert.True(t, ok, "tombstone row itself should still exist until aged out")
}

func TestGCKeepsRecentVersionsWithinWindow(t *testing.T) {
	store := newTestStore(t)
	for i := 0; i < 3; i++ {
		require.NoError(t, store.Put("job/api", "memory", string(rune('0'+i)), 0))
	}
	result, err := store.GC(30)
	require.NoError(t, err)
	assert.Equal(t, 0, result.KVRowsDeleted, "fewer than keepVersions-behind revisions should survive gc")
}
