package core

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// RecencyCache maps song IDs to items for songs outside both queues, so repeated
// lookups return the same item. Least recently used entries are evicted first.
type RecencyCache struct {
	cache *lru.Cache[string, Item]
}

// NewRecencyCache creates a cache holding at most size items.
func NewRecencyCache(size int) *RecencyCache {
	if size <= 0 {
		size = DefaultRecencyCacheSize
	}
	cache, _ := lru.New[string, Item](size)
	return &RecencyCache{cache: cache}
}

// Get returns the cached item for songID and marks it as recently used.
func (rc *RecencyCache) Get(songID string) (Item, bool) {
	return rc.cache.Get(songID)
}

// Put stores item under songID.
func (rc *RecencyCache) Put(songID string, item Item) {
	rc.cache.Add(songID, item)
}

// Len returns the number of cached items.
func (rc *RecencyCache) Len() int {
	return rc.cache.Len()
}
