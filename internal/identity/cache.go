package identity

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rynzz22/digital.talibon/model"
)

// CacheRecorder counts cache hits and misses.
type CacheRecorder interface {
	RecordIdentityCacheHit()
	RecordIdentityCacheMiss()
}

type cacheEntry struct {
	actor   model.Actor
	found   bool
	expires time.Time
}

// CachedSource wraps a ProfileSource with an in-memory TTL cache. Missing
// profiles are cached too, so subjects without a profile do not hit the
// source on every request.
type CachedSource struct {
	source  ProfileSource
	ttl     time.Duration
	metrics CacheRecorder
	now     func() time.Time

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

// NewCachedSource creates a caching source. metrics may be nil.
func NewCachedSource(source ProfileSource, ttl time.Duration, metrics CacheRecorder) *CachedSource {
	return &CachedSource{
		source:  source,
		ttl:     ttl,
		metrics: metrics,
		now:     time.Now,
		cache:   make(map[string]cacheEntry),
	}
}

func cacheKey(subjectID, email string) string {
	return subjectID + "|" + strings.ToLower(email)
}

// Lookup implements ProfileSource. Source errors are not cached.
func (c *CachedSource) Lookup(ctx context.Context, subjectID, email string) (model.Actor, bool, error) {
	key := cacheKey(subjectID, email)

	c.mu.RLock()
	if entry, ok := c.cache[key]; ok && c.now().Before(entry.expires) {
		c.mu.RUnlock()
		c.hit()
		return entry.actor, entry.found, nil
	}
	c.mu.RUnlock()
	c.miss()

	actor, found, err := c.source.Lookup(ctx, subjectID, email)
	if err != nil {
		return model.Actor{}, false, err
	}

	c.mu.Lock()
	c.cache[key] = cacheEntry{actor: actor, found: found, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()

	return actor, found, nil
}

// Invalidate drops every cached entry for subjectID.
func (c *CachedSource) Invalidate(subjectID string) {
	prefix := subjectID + "|"
	c.mu.Lock()
	for key := range c.cache {
		if strings.HasPrefix(key, prefix) {
			delete(c.cache, key)
		}
	}
	c.mu.Unlock()
}

// Flush drops every cached entry. Call it after the underlying directory
// reloads.
func (c *CachedSource) Flush() {
	c.mu.Lock()
	c.cache = make(map[string]cacheEntry)
	c.mu.Unlock()
}

func (c *CachedSource) hit() {
	if c.metrics != nil {
		c.metrics.RecordIdentityCacheHit()
	}
}

func (c *CachedSource) miss() {
	if c.metrics != nil {
		c.metrics.RecordIdentityCacheMiss()
	}
}
