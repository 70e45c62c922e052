// Package storage persists uploaded audio blobs on the local filesystem.
// Blobs are opaque: no decoding or format handling happens here, only byte
// I/O under a configured root directory. Keys are relative paths issued by
// Save and stored on the voice note record.
package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// AudioStore stores and retrieves opaque audio blobs.
type AudioStore interface {
	// Save writes the blob and returns its key and size.
	Save(r io.Reader, originalName string) (key string, size int64, err error)
	// Open returns a reader over a stored blob. The caller closes it.
	Open(key string) (io.ReadCloser, error)
	// Delete removes a stored blob. Deleting a missing blob is not an error.
	Delete(key string) error
}

// LocalStore is an AudioStore backed by a directory on the local filesystem.
type LocalStore struct {
	root string
}

// NewLocalStore creates the root directory if needed and returns the store.
func NewLocalStore(root string) (*LocalStore, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("storage: root directory must not be empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create root: %w", err)
	}
	return &LocalStore{root: root}, nil
}

// Save streams the blob to disk under a fresh UUID-prefixed name. The
// original extension is kept so transcription backends can sniff the
// container format from the filename.
func (s *LocalStore) Save(r io.Reader, originalName string) (string, int64, error) {
	ext := sanitizeExt(filepath.Ext(originalName))
	key := uuid.NewString() + ext

	f, err := os.Create(filepath.Join(s.root, key))
	if err != nil {
		return "", 0, fmt.Errorf("storage: create blob: %w", err)
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(filepath.Join(s.root, key))
		return "", 0, fmt.Errorf("storage: write blob: %w", err)
	}
	return key, n, nil
}

// Open returns a reader over the stored blob.
func (s *LocalStore) Open(key string) (io.ReadCloser, error) {
	p, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, fmt.Errorf("storage: open blob: %w", err)
	}
	return f, nil
}

// Delete removes the stored blob; a missing blob is treated as deleted.
func (s *LocalStore) Delete(key string) error {
	p, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("storage: delete blob: %w", err)
	}
	return nil
}

// resolve joins a key with the root and rejects path traversal. Keys are
// issued by Save but also round-trip through the database, so they are
// re-validated on the way back in.
func (s *LocalStore) resolve(key string) (string, error) {
	if key == "" || strings.Contains(key, "..") || strings.ContainsAny(key, `/\`) {
		return "", fmt.Errorf("storage: invalid blob key %q", key)
	}
	return filepath.Join(s.root, key), nil
}

// sanitizeExt keeps only short, plain extensions ("" otherwise).
func sanitizeExt(ext string) string {
	if len(ext) == 0 || len(ext) > 8 {
		return ""
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return strings.ToLower(ext)
}
