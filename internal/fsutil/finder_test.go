package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindFilesByExtension(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested"), 0o755))
	for _, name := range []string{"b.hcl", "a.hcl", "ignore.txt", "nested/c.hcl"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}

	files, err := FindFilesByExtension(dir, ".hcl")
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.hcl"),
		filepath.Join(dir, "b.hcl"),
		filepath.Join(dir, "nested", "c.hcl"),
	}, files)

	t.Run("missing root fails", func(t *testing.T) {
		_, err := FindFilesByExtension(filepath.Join(dir, "nope"), ".hcl")
		assert.Error(t, err)
	})

	t.Run("empty extension panics", func(t *testing.T) {
		assert.Panics(t, func() { FindFilesByExtension(dir, "") })
	})
}
