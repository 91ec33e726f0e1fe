// Package shuffle supplies random songs for shuffle play, avoiding recent repeats.
package shuffle

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	lru "github.com/hashicorp/golang-lru/v2"
)

// RecentStore remembers the most recently shuffled song IDs. A bloom filter answers most
// negative lookups; the set is authoritative and the LRU decides what to forget first.
type RecentStore struct {
	songIDs           map[string]struct{}
	bloom             *bloom.BloomFilter
	lru               *lru.Cache[string, struct{}]
	mutex             sync.RWMutex
	capacity          int
	falsePositiveRate float64
}

// NewRecentStore creates a store holding at most capacity IDs.
func NewRecentStore(capacity int, falsePositiveRate float64) *RecentStore {
	if capacity <= 0 {
		panic("recent store capacity must be positive")
	}

	rs := &RecentStore{
		songIDs:           make(map[string]struct{}),
		bloom:             bloom.NewWithEstimates(uint(capacity), falsePositiveRate),
		capacity:          capacity,
		falsePositiveRate: falsePositiveRate,
	}
	// Evictions run inside Add and Clear, which already hold the mutex.
	rs.lru, _ = lru.NewWithEvict(capacity, func(songID string, _ struct{}) {
		delete(rs.songIDs, songID)
	})
	return rs
}

// Has reports whether songID was shuffled recently.
func (rs *RecentStore) Has(songID string) bool {
	rs.mutex.RLock()
	defer rs.mutex.RUnlock()

	if !rs.bloom.TestString(songID) {
		return false
	}

	_, exists := rs.songIDs[songID]
	return exists
}

// Add records songID, forgetting the oldest ID when full.
func (rs *RecentStore) Add(songID string) {
	rs.mutex.Lock()
	defer rs.mutex.Unlock()

	if _, exists := rs.songIDs[songID]; exists {
		rs.lru.Get(songID)
		return
	}

	rs.songIDs[songID] = struct{}{}
	rs.bloom.AddString(songID)
	rs.lru.Add(songID, struct{}{})
}

// Size returns the number of remembered IDs.
func (rs *RecentStore) Size() int {
	rs.mutex.RLock()
	defer rs.mutex.RUnlock()
	return len(rs.songIDs)
}

// Clear forgets every ID.
func (rs *RecentStore) Clear() {
	rs.mutex.Lock()
	defer rs.mutex.Unlock()

	rs.lru.Purge()
	rs.songIDs = make(map[string]struct{})
	// Bloom filters do not support removal, so start a fresh one.
	rs.bloom = bloom.NewWithEstimates(uint(rs.capacity), rs.falsePositiveRate)
}
