package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTempFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "tmp")
	f, err := CreateTempFile(dir, "run")
	require.NoError(t, err)

	exists, err := PathExists(f.Name())
	require.NoError(t, err)
	assert.True(t, exists)

	name := f.Name()
	CloseAndRemove(f)
	exists, err = PathExists(name)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestReplaceFile(t *testing.T) {
	dir := t.TempDir()
	from := filepath.Join(dir, "a.TMM")
	to := filepath.Join(dir, "a.MYI")
	require.NoError(t, os.WriteFile(from, []byte("new"), 0644))
	require.NoError(t, os.WriteFile(to, []byte("old"), 0644))

	require.NoError(t, ReplaceFile(from, to))
	data, err := os.ReadFile(to)
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
}
