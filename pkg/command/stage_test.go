package command

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/maand-sh/maand/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStageModuleRootExtractsOnlyModulesSubtree(t *testing.T) {
	job := &types.Job{Files: []types.JobFile{
		{Path: "_modules/start.sh", Content: []byte("#!/bin/sh\necho start")},
		{Path: "_modules/lib", IsDir: true},
		{Path: "_modules/lib/helper.sh", Content: []byte("helper")},
		{Path: "service.yml", Content: []byte("port: 8080")},
	}}

	scratchRoot := filepath.Join(t.TempDir(), "scratch")
	require.NoError(t, StageModuleRoot(job, scratchRoot))

	content, err := os.ReadFile(filepath.Join(scratchRoot, "start.sh"))
	require.NoError(t, err)
	assert.Equal(t, "#!/bin/sh\necho start", string(content))

	content, err = os.ReadFile(filepath.Join(scratchRoot, "lib", "helper.sh"))
	require.NoError(t, err)
	assert.Equal(t, "helper", string(content))

	_, err = os.Stat(filepath.Join(scratchRoot, "service.yml"))
	assert.True(t, os.IsNotExist(err), "non-module file should not be staged")
}

func TestStageModuleRootEmptyJobCreatesRoot(t *testing.T) {
	job := &types.Job{}
	scratchRoot := filepath.Join(t.TempDir(), "scratch")
	require.NoError(t, StageModuleRoot(job, scratchRoot))

	info, err := os.Stat(scratchRoot)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestResolveEntrypointPlainName(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "health_check"), []byte("#!/bin/sh"), 0755))

	path, err := ResolveEntrypoint(dir, "health_check")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "health_check"), path)
}

func TestResolveEntrypointShSuffix(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "health_check.sh"), []byte("#!/bin/sh"), 0755))

	path, err := ResolveEntrypoint(dir, "health_check")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "health_check.sh"), path)
}

func TestResolveEntrypointMissingFileErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := ResolveEntrypoint(dir, "missing")
	assert.Error(t, err)
}

func TestResolveEntrypointIgnoresDirectoryOfSameName(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "start"), 0755))
	_, err := ResolveEntrypoint(dir, "start")
	assert.Error(t, err)
}
