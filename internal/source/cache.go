package source

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"
)

const (
	defaultCacheSize = 2048
	defaultCacheTTL  = 10 * time.Minute
)

type cacheEntry struct {
	paths     []string
	content   string
	expiresAt time.Time
}

func (e cacheEntry) expired(now time.Time) bool {
	return now.After(e.expiresAt)
}

// Cached is a read-through decorator over a Client. Entries carry a
// fixed TTL; an expired entry counts as a miss and the call takes the
// cold path again.
type Cached struct {
	inner Client
	ttl   time.Duration
	cache *lru.Cache[string, cacheEntry]
	now   func() time.Time
}

// NewCached wraps inner with an LRU+TTL cache. A non-positive ttl or
// size falls back to the defaults.
func NewCached(inner Client, size int, ttl time.Duration) *Cached {
	if size <= 0 {
		size = defaultCacheSize
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	cache, _ := lru.New[string, cacheEntry](size)
	return &Cached{
		inner: inner,
		ttl:   ttl,
		cache: cache,
		now:   time.Now,
	}
}

// ListFiles returns the cached listing when fresh, otherwise delegates
// and stores the result.
func (c *Cached) ListFiles(ctx context.Context, owner, repo string) ([]string, error) {
	key := "tree:" + owner + "/" + repo
	if entry, ok := c.cache.Get(key); ok && !entry.expired(c.now()) {
		log.Debug().Str("key", key).Msg("source cache hit")
		return entry.paths, nil
	}

	paths, err := c.inner.ListFiles(ctx, owner, repo)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, cacheEntry{paths: paths, expiresAt: c.now().Add(c.ttl)})
	return paths, nil
}

// GetFileContent returns the cached content when fresh, otherwise
// delegates and stores the result.
func (c *Cached) GetFileContent(ctx context.Context, owner, repo, path string) (string, error) {
	key := "file:" + owner + "/" + repo + ":" + path
	if entry, ok := c.cache.Get(key); ok && !entry.expired(c.now()) {
		log.Debug().Str("key", key).Msg("source cache hit")
		return entry.content, nil
	}

	content, err := c.inner.GetFileContent(ctx, owner, repo, path)
	if err != nil {
		return "", err
	}
	c.cache.Add(key, cacheEntry{content: content, expiresAt: c.now().Add(c.ttl)})
	return content, nil
}

// Evict drops every cached entry.
func (c *Cached) Evict() {
	c.cache.Purge()
}
