// Package cache provides in-memory TTL caches keyed by report fingerprint.
//
// Two instances back the generation pipeline: a short-lived cache of raw
// upstream payloads and a longer-lived cache of rendered documents. Both share
// the same contract: entries are immutable once written, expiry is lazy, and
// writes overwrite unconditionally.
package cache

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// entry is a stored payload with its expiry deadline. Payloads are treated as
// immutable after Put; callers must not modify the returned slice.
type entry struct {
	payload    []byte
	compressed string // compression marker, empty if stored raw
	createdAt  time.Time
	expiresAt  time.Time
}

// Cache is an in-memory TTL cache keyed by fingerprint.
type Cache struct {
	mu          sync.RWMutex
	entries     map[uint64]entry
	ttl         time.Duration
	compression string
	logger      *zap.Logger

	// test hook; defaults to time.Now
	now func() time.Time
}

// New creates a cache with the given default TTL. Compression is applied to
// payloads above the size threshold using the configured algorithm
// (none, snappy, lz4).
func New(ttl time.Duration, compression string, logger *zap.Logger) *Cache {
	return &Cache{
		entries:     make(map[uint64]entry),
		ttl:         ttl,
		compression: compression,
		logger:      logger,
		now:         time.Now,
	}
}

// Get returns the payload for fp if present and unexpired. Expired entries are
// removed on access.
func (c *Cache) Get(fp Fingerprint) ([]byte, bool) {
	key := fp.Key()

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}

	if c.now().After(e.expiresAt) {
		c.mu.Lock()
		// Re-check under write lock: a concurrent Put may have refreshed it
		if cur, still := c.entries[key]; still && c.now().After(cur.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false
	}

	payload, err := Decompress(e.payload, e.compressed)
	if err != nil {
		c.logger.Warn("Cache entry decompression failed, dropping",
			zap.String("fingerprint", fp.String()),
			zap.Error(err))
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, false
	}

	return payload, true
}

// Put stores a payload under fp with the cache's default TTL, overwriting any
// existing entry.
func (c *Cache) Put(fp Fingerprint, payload []byte) {
	c.PutTTL(fp, payload, c.ttl)
}

// PutTTL stores a payload with an explicit TTL.
func (c *Cache) PutTTL(fp Fingerprint, payload []byte, ttl time.Duration) {
	stored, marker, err := Compress(payload, c.compression)
	if err != nil {
		// Store uncompressed rather than losing the entry
		c.logger.Warn("Cache compression failed, storing raw",
			zap.String("fingerprint", fp.String()),
			zap.Error(err))
		stored, marker = payload, ""
	}

	now := c.now()
	c.mu.Lock()
	c.entries[fp.Key()] = entry{
		payload:    stored,
		compressed: marker,
		createdAt:  now,
		expiresAt:  now.Add(ttl),
	}
	c.mu.Unlock()
}

// Delete removes an entry if present.
func (c *Cache) Delete(fp Fingerprint) {
	c.mu.Lock()
	delete(c.entries, fp.Key())
	c.mu.Unlock()
}

// Len returns the number of stored entries, including ones not yet lazily expired.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Sweep removes all expired entries. Intended for a periodic background task;
// correctness does not depend on it because Get expires lazily.
func (c *Cache) Sweep() int {
	now := c.now()
	removed := 0

	c.mu.Lock()
	for key, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, key)
			removed++
		}
	}
	c.mu.Unlock()

	return removed
}
