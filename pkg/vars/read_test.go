package vars

import (
	"testing"

	"github.com/maand-sh/maand/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadReturnsAllKeysInNamespace(t *testing.T) {
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Put("host/10.0.0.1", "worker_nodes", "10.0.0.1", 0))
	require.NoError(t, store.Put("host/10.0.0.1", "worker_length", "1", 0))

	got, err := Read(store, "host/10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"worker_nodes": "10.0.0.1", "worker_length": "1"}, got)
}

func TestReadEmptyNamespaceReturnsEmptyMap(t *testing.T) {
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	got, err := Read(store, "host/does-not-exist")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestReadExcludesDeletedKeys(t *testing.T) {
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Put("job/api", "memory", "1024", 0))
	require.NoError(t, store.Delete("job/api", "memory"))

	got, err := Read(store, "job/api")
	require.NoError(t, err)
	assert.Empty(t, got)
}
