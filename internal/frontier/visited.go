package frontier

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// VisitedSet is the append-only set of admitted URLs. A Bloom filter answers
// most negative lookups; an exact set settles its false positives.
type VisitedSet struct {
	mu     sync.RWMutex
	filter *bloom.BloomFilter
	exact  map[string]struct{}
	order  []string
}

// NewVisitedSet creates a set sized for estimatedItems.
func NewVisitedSet(estimatedItems int) *VisitedSet {
	if estimatedItems < 1000 {
		estimatedItems = 1000
	}

	return &VisitedSet{
		filter: bloom.NewWithEstimates(uint(estimatedItems), 0.001),
		exact:  make(map[string]struct{}),
	}
}

// Add inserts url and reports whether it was new.
func (v *VisitedSet) Add(url string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, exists := v.exact[url]; exists {
		return false
	}
	v.filter.AddString(url)
	v.exact[url] = struct{}{}
	v.order = append(v.order, url)
	return true
}

// Contains reports whether url has been added.
func (v *VisitedSet) Contains(url string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if !v.filter.TestString(url) {
		return false
	}
	_, exists := v.exact[url]
	return exists
}

// Len returns the number of URLs in the set.
func (v *VisitedSet) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.order)
}

// All returns the URLs in insertion order.
func (v *VisitedSet) All() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return append([]string(nil), v.order...)
}
