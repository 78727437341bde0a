package translate

import (
	"sync"
	"time"
)

type cacheKey struct {
	target string
	text   string
}

type cacheEntry struct {
	translated string
	expiresAt  time.Time
}

// batchCache memoizes per-fragment translations so repeated report layouts
// (section headings, field labels) skip the network entirely. When the cache
// grows past maxSize it is cleared wholesale rather than evicted piecemeal;
// fragments are cheap to retranslate.
type batchCache struct {
	mu      sync.Mutex
	entries map[cacheKey]cacheEntry
	ttl     time.Duration
	maxSize int

	now func() time.Time
}

func newBatchCache(ttl time.Duration, maxSize int) *batchCache {
	return &batchCache{
		entries: make(map[cacheKey]cacheEntry),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
	}
}

// split partitions texts into cached translations and misses, preserving order
// within the miss set.
func (c *batchCache) split(texts []string, target string) (hits map[string]string, missing []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	hits = make(map[string]string)
	now := c.now()
	for _, text := range texts {
		e, ok := c.entries[cacheKey{target, text}]
		if ok && e.expiresAt.After(now) {
			hits[text] = e.translated
		} else {
			missing = append(missing, text)
		}
	}
	return hits, missing
}

func (c *batchCache) store(pairs map[string]string, target string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) > c.maxSize {
		c.entries = make(map[cacheKey]cacheEntry)
	}

	expires := c.now().Add(c.ttl)
	for original, translated := range pairs {
		c.entries[cacheKey{target, original}] = cacheEntry{translated: translated, expiresAt: expires}
	}
}

func (c *batchCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
