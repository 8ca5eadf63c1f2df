// Package assets mounts game data roots, plain directories and .pk4
// archives, as one layered file system.
package assets

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

type mount struct {
	name   string
	fsys   fs.FS
	closer io.Closer // nil for plain directories
}

// Stack is an ordered set of asset roots presented as a single file system.
// Roots are searched in reverse mount order, so a patch archive mounted
// after the base data shadows it. Stack implements fs.FS, fs.ReadFileFS and
// fs.ReadDirFS over the merged view.
type Stack struct {
	mu     sync.RWMutex
	mounts []mount
	cache  *Cache
}

// NewStack returns a stack with no mounts.
func NewStack() *Stack {
	return &Stack{cache: NewCache()}
}

// Mount adds one root by path: a directory, or a zip-format archive
// (.pk4, .pk3 or .zip).
func (s *Stack) Mount(root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("mounting %s: %w", root, err)
	}
	if info.IsDir() {
		s.MountFS(root, os.DirFS(root))
		return nil
	}

	switch strings.ToLower(filepath.Ext(root)) {
	case ".pk4", ".pk3", ".zip":
		r, err := zip.OpenReader(root)
		if err != nil {
			return fmt.Errorf("mounting %s: %w", root, err)
		}
		s.mu.Lock()
		s.mounts = append(s.mounts, mount{name: root, fsys: &r.Reader, closer: r})
		s.mu.Unlock()
		return nil
	}
	return fmt.Errorf("mounting %s: not a directory or pk4 archive", root)
}

// MountFS adds an already-open file system under the given name.
func (s *Stack) MountFS(name string, fsys fs.FS) {
	s.mu.Lock()
	s.mounts = append(s.mounts, mount{name: name, fsys: fsys})
	s.mu.Unlock()
}

// Mounts returns the mounted root names in mount order.
func (s *Stack) Mounts() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, len(s.mounts))
	for i, m := range s.mounts {
		names[i] = m.name
	}
	return names
}

// Normalize rewrites an asset path into fs.FS form: forward slashes, no
// leading slash, dot segments collapsed. Material scripts and mesh files
// frequently carry Windows-style paths.
func Normalize(p string) string {
	p = strings.ReplaceAll(p, `\`, "/")
	return path.Clean(strings.TrimPrefix(p, "/"))
}

// Open opens the named file from the highest mount that has it.
func (s *Stack) Open(name string) (fs.File, error) {
	name = Normalize(name)
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.mounts) - 1; i >= 0; i-- {
		if f, err := s.mounts[i].fsys.Open(name); err == nil {
			return f, nil
		}
	}
	return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
}

// ReadFile reads the named file from the highest mount that has it. Contents
// are cached, so repeated reads skip archive decompression; the returned
// slice is the caller's to modify.
func (s *Stack) ReadFile(name string) ([]byte, error) {
	name = Normalize(name)
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "readfile", Path: name, Err: fs.ErrInvalid}
	}

	if data, ok := s.cache.Get(name); ok {
		out := make([]byte, len(data))
		copy(out, data)
		return out, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.mounts) - 1; i >= 0; i-- {
		data, err := fs.ReadFile(s.mounts[i].fsys, name)
		if err != nil {
			continue
		}
		s.cache.Set(name, data)
		out := make([]byte, len(data))
		copy(out, data)
		return out, nil
	}
	return nil, &fs.PathError{Op: "readfile", Path: name, Err: fs.ErrNotExist}
}

// ReadDir lists a directory merged across every mount that has it. A name
// appearing in several mounts keeps the entry from the highest one.
func (s *Stack) ReadDir(name string) ([]fs.DirEntry, error) {
	name = Normalize(name)
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrInvalid}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]fs.DirEntry)
	found := false
	for i := len(s.mounts) - 1; i >= 0; i-- {
		entries, err := fs.ReadDir(s.mounts[i].fsys, name)
		if err != nil {
			continue
		}
		found = true
		for _, e := range entries {
			if _, ok := seen[e.Name()]; !ok {
				seen[e.Name()] = e
			}
		}
	}
	if !found {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrNotExist}
	}

	out := make([]fs.DirEntry, 0, len(seen))
	for _, e := range seen {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out, nil
}

// Stats returns the read cache's hit and miss counts.
func (s *Stack) Stats() (hits, misses int) {
	return s.cache.Stats()
}

// Close unmounts everything, closing archives in reverse mount order, and
// drops the cache. The first close error is returned.
func (s *Stack) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for i := len(s.mounts) - 1; i >= 0; i-- {
		if c := s.mounts[i].closer; c != nil {
			if err := c.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	s.mounts = nil
	s.cache.Clear()
	return firstErr
}

// Cache is a simple in-memory cache for loaded assets.
type Cache struct {
	mu   sync.Mutex
	data map[string][]byte

	// Stats
	hits   int
	misses int
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{data: make(map[string][]byte)}
}

// Get retrieves an item from cache.
func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, ok := c.data[key]
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	return data, ok
}

// Set stores an item in cache.
func (c *Cache) Set(key string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = data
}

// Clear clears the cache.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = make(map[string][]byte)
	c.hits = 0
	c.misses = 0
}

// Stats returns cache statistics.
func (c *Cache) Stats() (hits, misses int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}
