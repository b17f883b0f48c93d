// Package storage provides blob storage for raw uploads and artifact
// snapshots, addressed by opaque keys. The local-disk backend is the only
// implementation; the interface keeps callers independent of the backing
// medium.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned by Get when no blob exists under the key.
var ErrNotFound = errors.New("storage: blob not found")

// Blob reads and writes opaque byte blobs by key. Keys are slash-separated
// relative paths (e.g. "documents/<id>.pdf"). Implementations must be safe
// for concurrent use across distinct keys.
type Blob interface {
	// Put writes data under key, overwriting any existing blob.
	Put(ctx context.Context, key string, data []byte) error
	// Get returns the blob stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Delete removes the blob under key. Deleting an absent key is a no-op.
	Delete(ctx context.Context, key string) error
}

// Disk is a Blob backed by a local directory tree.
type Disk struct {
	// root is the base directory all keys resolve under.
	root string
}

// NewDisk constructs a Disk store rooted at dir, creating it if needed.
func NewDisk(dir string) (*Disk, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("storage: create root %s: %w", dir, err)
	}
	return &Disk{root: dir}, nil
}

// DefaultDir returns the default blob directory, ~/.studybuddy/blobs.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("storage: could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".studybuddy", "blobs"), nil
}

// Put writes data under key, creating parent directories as needed.
// The write goes through a temp file + rename so readers never observe a
// partially written blob.
func (d *Disk) Put(ctx context.Context, key string, data []byte) error {
	path, err := d.resolve(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("storage: create dir for %s: %w", key, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("storage: temp file for %s: %w", key, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("storage: write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("storage: close %s: %w", key, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("storage: rename %s: %w", key, err)
	}
	return nil
}

// Get returns the blob stored under key, or ErrNotFound.
func (d *Disk) Get(ctx context.Context, key string) ([]byte, error) {
	path, err := d.resolve(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", key, err)
	}
	return data, nil
}

// Delete removes the blob under key. Deleting an absent key is a no-op.
func (d *Disk) Delete(ctx context.Context, key string) error {
	path, err := d.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("storage: delete %s: %w", key, err)
	}
	return nil
}

// resolve validates key and returns the absolute path under root.
// Keys must be relative and must not escape the root.
func (d *Disk) resolve(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("storage: invalid key %q", key)
	}
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("storage: key %q escapes the storage root", key)
	}
	return filepath.Join(d.root, clean), nil
}
