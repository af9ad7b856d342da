// Package disk provides the on-disk chunk cache.
//
// Entries live at {dir}/{app}/{name}. Writes go to a temporary file in the
// same directory and are renamed into place, so readers never observe a
// partially written entry.
package disk

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/meigma/mochi/internal/mochitype"
	"github.com/meigma/mochi/internal/pathutil"
)

const defaultDirPerm = 0o700

// Errors re-exported from mochitype.
var (
	// ErrInvalidPath is returned for app or entry names that are not a
	// single path element.
	ErrInvalidPath = mochitype.ErrInvalidPath

	// ErrNotFound is returned by ReadFile for missing entries.
	ErrNotFound = mochitype.ErrNotFound

	// ErrCacheFull is returned by Put when pruning unpinned entries cannot
	// make room under the size limit.
	ErrCacheFull = mochitype.ErrCacheFull
)

// Cache stores files grouped by app. It is safe for concurrent use.
type Cache struct {
	dir      string       // root directory for cached files
	dirPerm  os.FileMode  // permissions for created directories
	maxBytes int64        // maximum cache size (0 = unlimited)
	bytes    atomic.Int64 // current total size of cached files
	pruneMu  sync.Mutex   // serializes prune operations

	pinMu  sync.Mutex
	pinned map[string]int // app -> pin count; pinned apps are never pruned
}

// Option configures a disk cache.
type Option func(*Cache)

// WithDirPerm sets the directory permissions used for cache directories.
func WithDirPerm(mode os.FileMode) Option {
	return func(c *Cache) {
		c.dirPerm = mode
	}
}

// WithMaxBytes sets the maximum cache size in bytes.
// Values < 0 are invalid. Use 0 to disable the limit.
func WithMaxBytes(n int64) Option {
	return func(c *Cache) {
		c.maxBytes = n
	}
}

// New creates a disk-backed cache rooted at dir.
func New(dir string, opts ...Option) (*Cache, error) {
	if dir == "" {
		return nil, errors.New("cache dir is empty")
	}
	c := &Cache{
		dir:     dir,
		dirPerm: defaultDirPerm,
		pinned:  make(map[string]int),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.maxBytes < 0 {
		return nil, errors.New("max bytes must be >= 0")
	}
	if err := os.MkdirAll(dir, c.dirPerm); err != nil {
		return nil, err
	}
	size, err := dirSize(dir)
	if err != nil {
		return nil, err
	}
	c.bytes.Store(size)
	return c, nil
}

// Dir returns the cache root.
func (c *Cache) Dir() string {
	return c.dir
}

// Path returns the file path of an entry.
func (c *Cache) Path(app, name string) (string, error) {
	if err := validElem(app); err != nil {
		return "", err
	}
	if err := validElem(name); err != nil {
		return "", err
	}
	return filepath.Join(c.dir, app, name), nil
}

// Has reports whether an entry exists.
func (c *Cache) Has(app, name string) bool {
	path, err := c.Path(app, name)
	if err != nil {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// Get returns an fs.File for reading a cached entry.
// Returns nil, false if the entry is not cached.
func (c *Cache) Get(app, name string) (fs.File, bool) {
	path, err := c.Path(app, name)
	if err != nil {
		return nil, false
	}
	f, err := os.Open(path) //nolint:gosec // path elements are validated
	if err != nil {
		return nil, false
	}
	return f, true
}

// ReadFile returns the whole content of an entry. The file is closed
// before ReadFile returns.
func (c *Cache) ReadFile(app, name string) ([]byte, error) {
	path, err := c.Path(app, name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path) //nolint:gosec // path elements are validated
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("cache %s/%s: %w", app, name, ErrNotFound)
	}
	return data, err
}

// Put stores the content of r as an entry, replacing any previous entry.
// It returns the number of bytes written.
func (c *Cache) Put(app, name string, r io.Reader) (int64, error) {
	path, err := c.Path(app, name)
	if err != nil {
		return 0, err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, c.dirPerm); err != nil {
		return 0, err
	}

	tmp, err := os.CreateTemp(dir, ".cache-*")
	if err != nil {
		return 0, err
	}
	tmpPath := tmp.Name()

	written, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return written, err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return written, err
	}

	if err := c.ensureCapacity(written); err != nil {
		_ = os.Remove(tmpPath)
		return written, err
	}

	var previous int64
	if info, statErr := os.Stat(path); statErr == nil {
		previous = info.Size()
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return written, err
	}
	c.bytes.Add(written - previous)
	return written, nil
}

// Delete removes one entry. Missing entries are a no-op.
func (c *Cache) Delete(app, name string) error {
	path, err := c.Path(app, name)
	if err != nil {
		return err
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	c.bytes.Add(-info.Size())
	return nil
}

// PurgeApp removes every entry of app and returns the bytes freed.
func (c *Cache) PurgeApp(app string) (int64, error) {
	if err := validElem(app); err != nil {
		return 0, err
	}
	root := filepath.Join(c.dir, app)
	size, err := dirSize(root)
	if err != nil {
		return 0, err
	}
	if err := os.RemoveAll(root); err != nil {
		return 0, err
	}
	c.bytes.Add(-size)
	return size, nil
}

// MaxBytes returns the configured cache size limit (0 = unlimited).
func (c *Cache) MaxBytes() int64 {
	return c.maxBytes
}

// SizeBytes returns the current cache size in bytes.
func (c *Cache) SizeBytes() int64 {
	return c.bytes.Load()
}

// Prune removes the oldest entries of unpinned apps until the cache is at
// or below targetBytes and returns the bytes freed. Pinned entries are kept
// even when that leaves the cache above targetBytes.
func (c *Cache) Prune(targetBytes int64) (int64, error) {
	if targetBytes < 0 {
		targetBytes = 0
	}
	c.pruneMu.Lock()
	defer c.pruneMu.Unlock()

	freed, remaining, err := pruneDir(c.dir, targetBytes, c.isPinned)
	if err != nil {
		return 0, err
	}
	c.bytes.Store(remaining)
	return freed, nil
}

// Pin protects the entries of app from pruning until the returned function
// is called. Pins nest; the app is unprotected after its last unpin.
func (c *Cache) Pin(app string) (unpin func(), err error) {
	if err := validElem(app); err != nil {
		return nil, err
	}
	c.pinMu.Lock()
	c.pinned[app]++
	c.pinMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.pinMu.Lock()
			defer c.pinMu.Unlock()
			if c.pinned[app]--; c.pinned[app] <= 0 {
				delete(c.pinned, app)
			}
		})
	}, nil
}

func (c *Cache) isPinned(app string) bool {
	c.pinMu.Lock()
	defer c.pinMu.Unlock()
	return c.pinned[app] > 0
}

func (c *Cache) ensureCapacity(need int64) error {
	if c.maxBytes <= 0 {
		return nil
	}
	if need > c.maxBytes {
		return fmt.Errorf("%w: entry of %d bytes exceeds limit of %d", ErrCacheFull, need, c.maxBytes)
	}
	if c.SizeBytes()+need <= c.maxBytes {
		return nil
	}
	if _, err := c.Prune(c.maxBytes - need); err != nil {
		return err
	}
	if size := c.SizeBytes(); size+need > c.maxBytes {
		return fmt.Errorf("%w: %d pinned or in use bytes, %d more needed, limit %d", ErrCacheFull, size, need, c.maxBytes)
	}
	return nil
}

func validElem(name string) error {
	if !pathutil.ValidElem(name) {
		return fmt.Errorf("%w: %q", ErrInvalidPath, name)
	}
	return nil
}
