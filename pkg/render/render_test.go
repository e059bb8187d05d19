package render

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderStringSubstitutesBothSyntaxes(t *testing.T) {
	out, err := RenderString("f.conf", "host=${host} port=$port", map[string]string{"host": "10.0.0.1", "port": "8080"})
	require.NoError(t, err)
	assert.Equal(t, "host=10.0.0.1 port=8080", out)
}

func TestRenderStringUndefinedVariableIsFatal(t *testing.T) {
	_, err := RenderString("f.conf", "host=${missing}", map[string]string{})
	require.Error(t, err)
	var undef *UndefinedVariableError
	require.ErrorAs(t, err, &undef)
	assert.Equal(t, "missing", undef.Variable)
}

func TestIsRenderable(t *testing.T) {
	assert.True(t, IsRenderable("service.conf"))
	assert.True(t, IsRenderable("APP.JSON"))
	assert.False(t, IsRenderable("binary.so"))
	assert.False(t, IsRenderable("_modules/entrypoint"))
}

func TestTreeSkipsUnchangedFileAndPreservesMtime(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.conf")
	require.NoError(t, os.WriteFile(path, []byte("static content"), 0644))

	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(path, past, past))

	require.NoError(t, Tree(dir, map[string]string{"unused": "x"}))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.WithinDuration(t, past, info.ModTime(), time.Second)
}

func TestTreeRewritesChangedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.conf")
	require.NoError(t, os.WriteFile(path, []byte("host=${host}"), 0644))

	require.NoError(t, Tree(dir, map[string]string{"host": "10.0.0.5"}))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "host=10.0.0.5", string(raw))
}
