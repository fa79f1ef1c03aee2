package file

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/jgivc/imergfetch/internal/common"
	"github.com/spf13/afero"
)

const (
	dirPerm  = 0o755
	filePerm = 0o644

	tmpPattern = ".*.part"
)

type fileStorage struct {
	fs  afero.Fs
	dir string
	log *slog.Logger
}

func NewFileStorage(dir string, log *slog.Logger) *fileStorage {
	return NewFileStorageWithFS(afero.NewOsFs(), dir, log)
}

func NewFileStorageWithFS(fs afero.Fs, dir string, log *slog.Logger) *fileStorage {
	return &fileStorage{
		fs:  fs,
		dir: dir,
		log: log.With(slog.String("item", "FileStorage")),
	}
}

// Store writes data to dir/name through a temp file in the same directory,
// so a failed write never leaves a partial file at the final path. An
// existing file is replaced.
func (s *fileStorage) Store(ctx context.Context, data []byte, name string) (string, error) {
	if err := validName(name); err != nil {
		return "", err
	}

	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %w", common.ErrWriteError, err)
	}

	if err := s.fs.MkdirAll(s.dir, dirPerm); err != nil {
		return "", fmt.Errorf("%w: cannot create dir %s: %w", common.ErrWriteError, s.dir, err)
	}

	finalPath := filepath.Join(s.dir, name)

	tmp, err := afero.TempFile(s.fs, s.dir, name+tmpPattern)
	if err != nil {
		return "", fmt.Errorf("%w: cannot create temp file: %w", common.ErrWriteError, err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		s.remove(tmpPath)

		return "", fmt.Errorf("%w: cannot write %s: %w", common.ErrWriteError, tmpPath, err)
	}

	if err := tmp.Close(); err != nil {
		s.remove(tmpPath)

		return "", fmt.Errorf("%w: cannot close %s: %w", common.ErrWriteError, tmpPath, err)
	}

	if err := s.fs.Chmod(tmpPath, filePerm); err != nil {
		s.log.Debug("Cannot chmod temp file", slog.String("path", tmpPath), slog.Any("error", err))
	}

	if err := s.fs.Rename(tmpPath, finalPath); err != nil {
		s.remove(tmpPath)

		return "", fmt.Errorf("%w: cannot rename to %s: %w", common.ErrWriteError, finalPath, err)
	}

	s.log.Debug("Stored", slog.String("path", finalPath), slog.Int("bytes", len(data)))

	return finalPath, nil
}

// Exists reports whether a non-empty file is stored under name.
func (s *fileStorage) Exists(name string) bool {
	stat, err := s.fs.Stat(filepath.Join(s.dir, name))
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Error("Cannot stat file", slog.String("name", name), slog.Any("error", err))
		}

		return false
	}

	return stat.Mode().IsRegular() && stat.Size() > 0
}

func (s *fileStorage) Path(name string) string {
	return filepath.Join(s.dir, name)
}

func (s *fileStorage) remove(path string) {
	if err := s.fs.Remove(path); err != nil && !os.IsNotExist(err) {
		s.log.Error("Cannot remove temp file", slog.String("path", path), slog.Any("error", err))
	}
}

func validName(name string) error {
	if name == "" || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return fmt.Errorf("%w: invalid file name %q", common.ErrWriteError, name)
	}

	return nil
}
