package api

import (
	"sync"

	"github.com/reviewlake/reviewlake/pkg/review"
)

// ArtifactCache is a thread-safe LRU cache of decoded bronze artifacts,
// keyed by content checksum so a rewritten artifact never hits a stale
// entry.
type ArtifactCache struct {
	mu      sync.Mutex
	maxSize int
	entries map[string][]review.Review
	order   []string // oldest first
}

// NewArtifactCache creates a cache with the given maximum number of
// entries. If maxSize <= 0, it defaults to 20.
func NewArtifactCache(maxSize int) *ArtifactCache {
	if maxSize <= 0 {
		maxSize = 20
	}
	return &ArtifactCache{
		maxSize: maxSize,
		entries: make(map[string][]review.Review),
	}
}

// Get returns the cached rows for checksum.
func (c *ArtifactCache) Get(checksum string) ([]review.Review, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rows, ok := c.entries[checksum]
	if ok {
		c.moveToEnd(checksum)
	}
	return rows, ok
}

// Put adds rows to the cache, evicting the oldest entry if full.
func (c *ArtifactCache) Put(checksum string, rows []review.Review) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[checksum]; ok {
		c.entries[checksum] = rows
		c.moveToEnd(checksum)
		return
	}

	for len(c.entries) >= c.maxSize && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}

	c.entries[checksum] = rows
	c.order = append(c.order, checksum)
}

// Len returns the number of cached artifacts.
func (c *ArtifactCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *ArtifactCache) moveToEnd(checksum string) {
	for i, k := range c.order {
		if k == checksum {
			c.order = append(c.order[:i], c.order[i+1:]...)
			c.order = append(c.order, checksum)
			return
		}
	}
}
