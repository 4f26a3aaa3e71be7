package local

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPutObject_WritesFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := New(Config{BaseDir: dir})
	require.NoError(t, err)

	uri, err := store.PutObject(context.Background(), "runs/r1/42.html", "text/html", []byte("<p>before</p>"))
	require.NoError(t, err)
	require.Contains(t, uri, "file://")

	data, err := os.ReadFile(filepath.Join(dir, "runs", "r1", "42.html"))
	require.NoError(t, err)
	require.Equal(t, "<p>before</p>", string(data))
}

func TestPutObject_RejectsEscapingPath(t *testing.T) {
	t.Parallel()

	store, err := New(Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	_, err = store.PutObject(context.Background(), "../outside.html", "", []byte("x"))
	require.Error(t, err)
}

func TestNew_RequiresBaseDir(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	require.Error(t, err)
}
