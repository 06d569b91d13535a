// Package contentstore provides content-addressed storage for raw uploaded
// file bytes, keyed by content hash.
package contentstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Store persists raw file bytes by content hash. Put must be idempotent:
// retrying with the same hash never creates a duplicate object.
type Store interface {
	// Put writes the content under its hash and returns the storage path.
	Put(ctx context.Context, contentHash string, content io.Reader) (string, error)

	// Get opens the stored content at path.
	Get(ctx context.Context, path string) (io.ReadCloser, error)
}

// FileStore is a filesystem-backed Store. Objects live at
// <root>/<hash[0:2]>/<hash>, so a directory never accumulates millions of
// entries.
type FileStore struct {
	root string
}

// NewFileStore creates a FileStore rooted at root, creating the directory
// if needed.
func NewFileStore(root string) (*FileStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create content store root: %w", err)
	}
	return &FileStore{root: root}, nil
}

var _ Store = (*FileStore)(nil)

// Put writes content under its hash. Existing objects are left untouched:
// identical bytes hash to the same path, so a second write is a no-op. The
// write goes to a temp file first and is renamed into place, so readers
// never observe partial objects.
func (s *FileStore) Put(ctx context.Context, contentHash string, content io.Reader) (string, error) {
	if len(contentHash) < 3 {
		return "", fmt.Errorf("content hash too short: %q", contentHash)
	}

	rel := filepath.Join(contentHash[:2], contentHash)
	dst := filepath.Join(s.root, rel)

	if _, err := os.Stat(dst); err == nil {
		return rel, nil
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("create object directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".put-*")
	if err != nil {
		return "", fmt.Errorf("create temp object: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, content); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("write object: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("close object: %w", err)
	}

	if err := os.Rename(tmpName, dst); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("finalize object: %w", err)
	}

	return rel, nil
}

// Get opens the stored content at the path previously returned by Put.
func (s *FileStore) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Join(s.root, path))
	if err != nil {
		return nil, fmt.Errorf("open object %s: %w", path, err)
	}
	return f, nil
}
