// Package cache persists raw status snapshots on disk, one file per source
// URL, and decides their freshness from the file modification time.
package cache

import (
	"encoding/base64"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
)

// ErrNotFound is returned by Read when no usable entry exists for a key.
var ErrNotFound = errors.New("cache entry not found")

// WriteError reports a failure to persist an entry. The snapshot being
// written is still valid for the current run.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("writing cache entry %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Entry is a cached snapshot as stored on disk.
type Entry struct {
	Key     string
	Data    []byte
	ModTime time.Time
}

// Cache stores entries under a root directory of an afero filesystem.
type Cache struct {
	fs   afero.Fs
	root string
	now  func() time.Time
}

// New creates a cache rooted at root on fs.
func New(fs afero.Fs, root string) *Cache {
	return &Cache{fs: fs, root: root, now: time.Now}
}

// NewOS creates a cache rooted at root on the host filesystem.
func NewOS(root string) *Cache {
	return New(afero.NewOsFs(), root)
}

// Key maps a source URL to its cache key: the unpadded URL-safe base64
// encoding of the URL bytes.
func Key(sourceURL string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(sourceURL))
}

// Root returns the cache directory.
func (c *Cache) Root() string { return c.root }

// Path returns the file that holds the entry for key.
func (c *Cache) Path(key string) string {
	return filepath.Join(c.root, key+".json")
}

// Read loads the entry for key. Anything that prevents reading the file,
// including a failed stat, yields ErrNotFound.
func (c *Cache) Read(key string) (*Entry, error) {
	path := c.Path(key)
	fi, err := c.fs.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	if fi.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrNotFound, path)
	}
	data, err := afero.ReadFile(c.fs, path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return &Entry{Key: key, Data: data, ModTime: fi.ModTime()}, nil
}

// Write stores data as the entry for key, creating the cache directory if
// needed. The file is written to a temporary name and renamed into place so
// readers never see a partial entry.
func (c *Cache) Write(key string, data []byte) error {
	path := c.Path(key)

	if err := c.fs.MkdirAll(c.root, 0o755); err != nil {
		return &WriteError{Path: path, Err: err}
	}

	tmp, err := afero.TempFile(c.fs, c.root, key+".*.tmp")
	if err != nil {
		return &WriteError{Path: path, Err: err}
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = c.fs.Remove(tmpName)
		return &WriteError{Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		_ = c.fs.Remove(tmpName)
		return &WriteError{Path: path, Err: err}
	}
	if err := c.fs.Chmod(tmpName, 0o644); err != nil {
		_ = c.fs.Remove(tmpName)
		return &WriteError{Path: path, Err: err}
	}
	if err := c.fs.Rename(tmpName, path); err != nil {
		_ = c.fs.Remove(tmpName)
		return &WriteError{Path: path, Err: err}
	}
	return nil
}

// IsExpired reports whether entry is older than ttl. A nil entry is expired.
func (c *Cache) IsExpired(entry *Entry, ttl time.Duration) bool {
	if entry == nil {
		return true
	}
	return c.now().Sub(entry.ModTime) > ttl
}
