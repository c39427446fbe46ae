// Package verifycache is a bounded, process-local cache of verification
// results keyed by model.VerificationRequest.CacheKey. No cross-process
// coherence is promised; each engine instance owns its own cache.
package verifycache

import (
	"container/list"
	"sync"

	"github.com/axiomguard/engine/internal/model"
)

// Cache is a least-recently-used cache of verification results.
type Cache struct {
	mu       sync.Mutex
	capacity int
	ll       *list.List
	items    map[string]*list.Element
}

type entry struct {
	key    string
	result model.VerificationResult
}

// New creates a Cache with the given capacity. Default capacity is 1000 per
// the verification cache design; a non-positive capacity falls back to that
// default.
func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = 1000
	}
	return &Cache{
		capacity: capacity,
		ll:       list.New(),
		items:    make(map[string]*list.Element),
	}
}

// Get looks up a request's cached result. On hit, the result is returned
// with model_used suffixed " (Cached)" and cost_usd coerced to zero, per the
// cache-idempotence contract.
func (c *Cache) Get(req model.VerificationRequest) (model.VerificationResult, bool) {
	key, err := req.CacheKey()
	if err != nil {
		return model.VerificationResult{}, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return model.VerificationResult{}, false
	}
	c.ll.MoveToFront(el)
	return el.Value.(*entry).result.Cached(), true
}

// Set stores a result for req, evicting the least-recently-used entry if the
// cache is at capacity.
func (c *Cache) Set(req model.VerificationRequest, result model.VerificationResult) {
	key, err := req.CacheKey()
	if err != nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.ll.MoveToFront(el)
		el.Value.(*entry).result = result
		return
	}

	el := c.ll.PushFront(&entry{key: key, result: result})
	c.items[key] = el

	for c.ll.Len() > c.capacity {
		oldest := c.ll.Back()
		if oldest == nil {
			break
		}
		c.ll.Remove(oldest)
		delete(c.items, oldest.Value.(*entry).key)
	}
}

// Len returns the current number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}
