package manifest

import (
	"context"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// FileStore persists a manifest as JSON inside a build output directory.
type FileStore struct {
	dir    string
	logger zerolog.Logger
}

// NewFileStore returns a store rooted at dir.
func NewFileStore(dir string, logger zerolog.Logger) *FileStore {
	return &FileStore{
		dir:    dir,
		logger: logger,
	}
}

// Path returns the manifest location.
func (s *FileStore) Path() string {
	return filepath.Join(s.dir, FileName)
}

// Load reads the manifest from disk.
func (s *FileStore) Load(ctx context.Context) (VersionManifest, error) {
	if err := ctx.Err(); err != nil {
		return VersionManifest{}, err
	}

	data, err := os.ReadFile(s.Path())
	if err != nil {
		return VersionManifest{}, err
	}
	return Decode(data)
}

// Save writes the manifest atomically, creating the directory tree if absent.
func (s *FileStore) Save(ctx context.Context, m VersionManifest) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}

	data, err := Encode(m)
	if err != nil {
		return err
	}

	tempFile, err := os.CreateTemp(s.dir, ".version-*.json")
	if err != nil {
		return err
	}

	cleanup := func() {
		_ = os.Remove(tempFile.Name())
	}

	if _, err := tempFile.Write(data); err != nil {
		_ = tempFile.Close()
		cleanup()
		return err
	}
	if err := tempFile.Sync(); err != nil {
		_ = tempFile.Close()
		cleanup()
		return err
	}
	if err := tempFile.Close(); err != nil {
		cleanup()
		return err
	}
	// CreateTemp uses 0600; the manifest is served as a static asset.
	if err := os.Chmod(tempFile.Name(), 0o644); err != nil {
		cleanup()
		return err
	}

	if err := os.Rename(tempFile.Name(), s.Path()); err != nil {
		cleanup()
		return err
	}

	if dirHandle, err := os.Open(s.dir); err == nil {
		_ = dirHandle.Sync()
		_ = dirHandle.Close()
	}

	s.logger.Debug().Str("path", s.Path()).Str("version", m.Version).Msg("manifest saved")
	return nil
}
