package command

import (
	"testing"

	"github.com/maand-sh/maand/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultHostVarsMergesClusterBeneathHost(t *testing.T) {
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Put("cluster", "region", "us-east", 0))
	require.NoError(t, store.Put("cluster", "tier", "cluster-default", 0))
	require.NoError(t, store.Put("host/10.0.0.1", "tier", "host-override", 0))

	hv := defaultHostVars(store)
	merged, err := hv("10.0.0.1")
	require.NoError(t, err)

	assert.Equal(t, "us-east", merged["region"])
	assert.Equal(t, "host-override", merged["tier"], "host namespace must win over cluster on collision")
}

func TestDefaultHostVarsWithoutClusterNamespaceIsJustHostVars(t *testing.T) {
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Put("host/10.0.0.2", "memory", "4096", 0))

	hv := defaultHostVars(store)
	merged, err := hv("10.0.0.2")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"memory": "4096"}, merged)
}
