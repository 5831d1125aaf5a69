// Package cache holds recently read repository files in a bounded LRU.
package cache

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/golang/groupcache/lru"

	"xrepo/internal/errors"
	"xrepo/internal/paths"
)

// Key identifies a file by repository and repo-relative path.
type Key struct {
	Repo string
	Path string
}

func (k Key) String() string {
	return k.Repo + "/" + k.Path
}

type entry struct {
	content []byte
	modTime time.Time
	size    int64
}

// Stats counts cache activity.
type Stats struct {
	Hits      int `json:"hits"`
	Misses    int `json:"misses"`
	Evictions int `json:"evictions"`
	Entries   int `json:"entries"`
}

// FileCache is a bounded LRU of file contents. Entries are revalidated against
// the file's modification time and size on every read.
type FileCache struct {
	mu     sync.Mutex
	lru    *lru.Cache
	byRepo map[string]map[Key]struct{}
	stats  Stats

	// invalidating suppresses the eviction hook for explicit removals.
	invalidating bool
	onEvicted    func(Key)
}

// New creates a cache holding at most maxEntries files. onEvicted, if set, is
// called with the key of every entry dropped to make room, in eviction order.
// It runs under the cache lock and must not call back into the cache.
func New(maxEntries int, onEvicted func(Key)) (*FileCache, error) {
	if maxEntries <= 0 {
		return nil, errors.Newf(errors.ConfigurationError, "file cache size must be positive, got %d", maxEntries)
	}
	c := &FileCache{
		lru:       lru.New(maxEntries),
		byRepo:    make(map[string]map[Key]struct{}),
		onEvicted: onEvicted,
	}
	c.lru.OnEvicted = c.evicted
	return c, nil
}

func (c *FileCache) evicted(k lru.Key, _ interface{}) {
	key := k.(Key)
	if set := c.byRepo[key.Repo]; set != nil {
		delete(set, key)
		if len(set) == 0 {
			delete(c.byRepo, key.Repo)
		}
	}
	if c.invalidating {
		return
	}
	c.stats.Evictions++
	if c.onEvicted != nil {
		c.onEvicted(key)
	}
}

// Read returns the content of the file at path inside root, attributed to repo.
// The cached copy is used when the file is unchanged on disk.
func (c *FileCache) Read(repo, root, path string) ([]byte, error) {
	key := Key{Repo: repo, Path: paths.NormalizePath(path)}
	abs := paths.JoinRepoPath(root, key.Path)
	if !paths.RelWithinRepo(root, key.Path) {
		return nil, errors.Newf(errors.ValidationError, "file %s is outside the repository root", key)
	}

	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Newf(errors.NotFound, "file %s not found", key)
		}
		return nil, fmt.Errorf("stat %s: %w", abs, err)
	}
	if info.IsDir() {
		return nil, errors.Newf(errors.ValidationError, "%s is a directory", key)
	}

	c.mu.Lock()
	if v, ok := c.lru.Get(key); ok {
		e := v.(*entry)
		if e.modTime.Equal(info.ModTime()) && e.size == info.Size() {
			c.stats.Hits++
			c.mu.Unlock()
			return e.content, nil
		}
		c.remove(key)
	}
	c.stats.Misses++
	c.mu.Unlock()

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", abs, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.byRepo[repo] == nil {
		c.byRepo[repo] = make(map[Key]struct{})
	}
	c.byRepo[repo][key] = struct{}{}
	c.lru.Add(key, &entry{content: data, modTime: info.ModTime(), size: info.Size()})
	return data, nil
}

func (c *FileCache) remove(key Key) {
	c.invalidating = true
	c.lru.Remove(key)
	c.invalidating = false
}

// Invalidate drops one file.
func (c *FileCache) Invalidate(repo, path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remove(Key{Repo: repo, Path: paths.NormalizePath(path)})
}

// InvalidateRepo drops every file of a repository and returns how many were cached.
func (c *FileCache) InvalidateRepo(repo string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]Key, 0, len(c.byRepo[repo]))
	for k := range c.byRepo[repo] {
		keys = append(keys, k)
	}
	for _, k := range keys {
		c.remove(k)
	}
	return len(keys)
}

// Len returns the number of cached files.
func (c *FileCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Stats returns a copy of the counters.
func (c *FileCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.stats
	st.Entries = c.lru.Len()
	return st
}
