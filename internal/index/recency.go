package index

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/veland/gitatlas/internal/models"
)

// DefaultRecencyCapacity bounds the record cache when no capacity is
// configured.
const DefaultRecencyCapacity = 1000

// RecencyCache is a capacity-bounded path -> record cache with
// least-recently-used eviction. It is purely an optimization: a miss
// falls back to the canonical store and the caller backfills.
//
// Records are copied on the way in and the way out so cache entries
// never alias caller-held maps or slices.
type RecencyCache struct {
	entries *lru.Cache[string, models.Repository]
}

// NewRecencyCache creates a cache bounded to capacity entries. A
// non-positive capacity falls back to DefaultRecencyCapacity.
func NewRecencyCache(capacity int) *RecencyCache {
	if capacity <= 0 {
		capacity = DefaultRecencyCapacity
	}
	// lru.New only fails on a non-positive size, which is guarded above.
	entries, _ := lru.New[string, models.Repository](capacity)
	return &RecencyCache{entries: entries}
}

// Get returns a copy of the cached record and promotes it to
// most-recently-used.
func (c *RecencyCache) Get(path string) (models.Repository, bool) {
	repo, ok := c.entries.Get(path)
	if !ok {
		return models.Repository{}, false
	}
	return repo.Clone(), true
}

// Put inserts or replaces a record, evicting the least-recently-used
// entry when over capacity.
func (c *RecencyCache) Put(path string, repo models.Repository) {
	c.entries.Add(path, repo.Clone())
}

// Pop removes a record unconditionally.
func (c *RecencyCache) Pop(path string) {
	c.entries.Remove(path)
}

// Contains reports whether a record is cached without promoting it.
func (c *RecencyCache) Contains(path string) bool {
	return c.entries.Contains(path)
}

// Purge drops every entry.
func (c *RecencyCache) Purge() {
	c.entries.Purge()
}

// Len returns the number of cached records.
func (c *RecencyCache) Len() int {
	return c.entries.Len()
}
