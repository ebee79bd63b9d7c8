package storage

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// LocalStore writes assets to the local filesystem.
type LocalStore struct {
	baseDir string
}

// NewLocalStore creates a new local filesystem store rooted at baseDir.
func NewLocalStore(baseDir string) (*LocalStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("create base directory %s: %w", baseDir, err)
	}

	return &LocalStore{
		baseDir: baseDir,
	}, nil
}

// Write streams body to a temp file and renames it into place, hashing
// the bytes as they pass through. A failed write leaves nothing at the
// final path.
func (s *LocalStore) Write(ctx context.Context, key string, body io.Reader) (*WriteResult, error) {
	path := filepath.Join(s.baseDir, filepath.FromSlash(key))

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create directory %s: %w", dir, err)
	}

	tempPath := path + ".tmp"

	f, err := os.Create(tempPath)
	if err != nil {
		return nil, fmt.Errorf("create temp file %s: %w", tempPath, err)
	}

	hash := sha256.New()
	n, err := io.Copy(f, io.TeeReader(body, hash))
	if err != nil {
		f.Close()
		os.Remove(tempPath)
		return nil, fmt.Errorf("write temp file %s: %w", tempPath, err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tempPath)
		return nil, fmt.Errorf("close temp file %s: %w", tempPath, err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return nil, fmt.Errorf("rename %s to %s: %w", tempPath, path, err)
	}

	return &WriteResult{
		Key:      key,
		Bytes:    n,
		Checksum: FormatChecksum(hash.Sum(nil)),
	}, nil
}

// WriteManifest writes a manifest file to the local filesystem.
func (s *LocalStore) WriteManifest(ctx context.Context, key string, manifest *Manifest) error {
	path := filepath.Join(s.baseDir, filepath.FromSlash(key))

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	data, err := manifest.MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}

	tempPath := path + ".tmp"

	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("write temp file %s: %w", tempPath, err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("rename %s to %s: %w", tempPath, path, err)
	}

	return nil
}

// Exists checks if an asset already exists.
func (s *LocalStore) Exists(ctx context.Context, key string) (bool, error) {
	path := filepath.Join(s.baseDir, filepath.FromSlash(key))
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// URI returns the canonical URI for the given key.
func (s *LocalStore) URI(key string) string {
	absPath, err := filepath.Abs(filepath.Join(s.baseDir, filepath.FromSlash(key)))
	if err != nil {
		absPath = filepath.Join(s.baseDir, filepath.FromSlash(key))
	}
	return "file://" + absPath
}

// Close is a no-op for local storage.
func (s *LocalStore) Close() error {
	return nil
}

// Verify LocalStore implements AssetStore.
var _ AssetStore = (*LocalStore)(nil)
