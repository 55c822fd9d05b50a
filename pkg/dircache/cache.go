// Package dircache remembers which directories are known to exist on the
// cartridge's SD card so uploads can skip redundant MKDIR round trips.
//
// Paths are normalized before use: absolute, cleaned, without a trailing
// slash and case-folded, since the card's FAT filesystem ignores case.
// The root directory is always known. The cache only grows; entries leave
// it through an explicit Forget. It is never cleared on disconnect.
package dircache

import (
	"path"
	"sort"
	"strings"
	"sync"
)

// Root is the normalized root directory.
const Root = "/"

// Cache is a concurrency-safe set of known directories.
type Cache struct {
	mu   sync.RWMutex
	dirs map[string]struct{}
}

// New creates a cache that knows only the root.
func New() *Cache {
	return &Cache{dirs: make(map[string]struct{})}
}

// Normalize returns the canonical key for p.
func Normalize(p string) string {
	return strings.ToLower(Clean(p))
}

// Clean makes p absolute and cleaned but keeps its case, which is what
// the device should see.
func Clean(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	return path.Clean("/" + p)
}

// Has reports whether dir is known to exist.
func (c *Cache) Has(dir string) bool {
	key := Normalize(dir)
	if key == Root {
		return true
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.dirs[key]
	return ok
}

// Remember records dir and all its ancestors as existing.
// It returns true if dir was not known before.
func (c *Cache) Remember(dir string) bool {
	key := Normalize(dir)
	if key == Root {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	_, known := c.dirs[key]
	for p := key; p != Root; p = path.Dir(p) {
		c.dirs[p] = struct{}{}
	}
	return !known
}

// Forget drops dir and everything below it.
func (c *Cache) Forget(dir string) {
	key := Normalize(dir)

	c.mu.Lock()
	defer c.mu.Unlock()

	if key == Root {
		clear(c.dirs)
		return
	}
	prefix := key + "/"
	for p := range c.dirs {
		if p == key || strings.HasPrefix(p, prefix) {
			delete(c.dirs, p)
		}
	}
}

// Seed remembers every path in dirs.
func (c *Cache) Seed(dirs []string) {
	for _, d := range dirs {
		c.Remember(d)
	}
}

// Snapshot returns the known directories, excluding the root, sorted.
func (c *Cache) Snapshot() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]string, 0, len(c.dirs))
	for p := range c.dirs {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of known directories, excluding the root.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.dirs)
}

// Missing returns the ancestors of dir, from the outermost down to dir
// itself, that are not yet known. Paths keep the case given in dir.
func (c *Cache) Missing(dir string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var missing []string
	for p := Clean(dir); p != Root; p = path.Dir(p) {
		if _, ok := c.dirs[strings.ToLower(p)]; ok {
			break
		}
		missing = append(missing, p)
	}
	for i, j := 0, len(missing)-1; i < j; i, j = i+1, j-1 {
		missing[i], missing[j] = missing[j], missing[i]
	}
	return missing
}
