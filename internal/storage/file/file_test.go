package file

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/jgivc/imergfetch/internal/common"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

const testDir = "/data/imerg"

func discardLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

func TestStore(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := NewFileStorageWithFS(fs, testDir, discardLog())

	path, err := s.Store(context.Background(), []byte("first"), "2011-08-01.tif")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(testDir, "2011-08-01.tif"), path)

	content, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	require.Equal(t, "first", string(content))
	require.True(t, s.Exists("2011-08-01.tif"))

	_, err = s.Store(context.Background(), []byte("second"), "2011-08-01.tif")
	require.NoError(t, err)

	content, err = afero.ReadFile(fs, path)
	require.NoError(t, err)
	require.Equal(t, "second", string(content))

	entries, err := afero.ReadDir(fs, testDir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp files must not remain")
}

func TestStoreFailureLeavesNoFile(t *testing.T) {
	base := afero.NewMemMapFs()
	require.NoError(t, base.MkdirAll(testDir, dirPerm))

	s := NewFileStorageWithFS(afero.NewReadOnlyFs(base), testDir, discardLog())

	_, err := s.Store(context.Background(), []byte("data"), "2011-08-01.tif")
	require.ErrorIs(t, err, common.ErrWriteError)

	exists, err := afero.Exists(base, filepath.Join(testDir, "2011-08-01.tif"))
	require.NoError(t, err)
	require.False(t, exists)
}

func TestStoreCanceled(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := NewFileStorageWithFS(fs, testDir, discardLog())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Store(ctx, []byte("data"), "2011-08-01.tif")
	require.ErrorIs(t, err, common.ErrWriteError)
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, s.Exists("2011-08-01.tif"))
}

func TestStoreInvalidName(t *testing.T) {
	s := NewFileStorageWithFS(afero.NewMemMapFs(), testDir, discardLog())

	for _, name := range []string{"", "../etc/passwd", "a/b.tif", `a\b.tif`} {
		_, err := s.Store(context.Background(), []byte("x"), name)
		require.ErrorIs(t, err, common.ErrWriteError, name)
	}
}

func TestExists(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := NewFileStorageWithFS(fs, testDir, discardLog())

	require.False(t, s.Exists("2011-08-01.tif"))

	require.NoError(t, afero.WriteFile(fs, filepath.Join(testDir, "2011-08-01.tif"), nil, filePerm))
	require.False(t, s.Exists("2011-08-01.tif"), "empty files do not count")

	require.NoError(t, afero.WriteFile(fs, filepath.Join(testDir, "2011-08-01.tif"), []byte("x"), filePerm))
	require.True(t, s.Exists("2011-08-01.tif"))
}
