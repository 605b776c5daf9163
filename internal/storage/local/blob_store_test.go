package local_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/jobharvest/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("CreatesMissingDir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "runs", "archive")
		store, err := local.New(local.Config{BaseDir: dir})
		require.NoError(t, err)
		require.NotNil(t, store)
		require.DirExists(t, dir)
	})

	t.Run("MissingBaseDir", func(t *testing.T) {
		_, err := local.New(local.Config{BaseDir: "  "})
		require.Error(t, err)
	})

	t.Run("BaseDirIsAFile", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "plain")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := local.New(local.Config{BaseDir: file})
		require.Error(t, err)
	})
}

func TestPutObject(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)
	ctx := context.Background()

	uri, err := store.PutObject(ctx, "runs/abc.json", "application/json", bytes.NewReader([]byte(`{"v":1}`)))
	require.NoError(t, err)
	require.Equal(t, "file://"+filepath.Join(dir, "runs/abc.json"), uri)

	_, err = store.PutObject(ctx, "runs/abc.json", "application/json", bytes.NewReader([]byte(`{"v":2}`)))
	require.NoError(t, err)
	// #nosec G304 -- test reads from the controlled temp directory.
	data, err := os.ReadFile(filepath.Join(dir, "runs/abc.json"))
	require.NoError(t, err)
	require.Equal(t, `{"v":2}`, string(data))

	entries, err := os.ReadDir(filepath.Join(dir, "runs"))
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp files are cleaned up")

	_, err = store.PutObject(ctx, "", "text/plain", bytes.NewReader(nil))
	require.Error(t, err)
	_, err = store.PutObject(ctx, "../escape.json", "text/plain", bytes.NewReader(nil))
	require.Error(t, err)
}
