package embedding

import (
	"container/list"
	"sync"
)

// memoCache is a bounded, text-keyed LRU of embedding vectors. No example
// repo in the retrieval pack imports an LRU library directly (golang-lru only
// shows up as an unused transitive indirect of unrelated tools), so this is
// hand-rolled on container/list + map rather than reaching for an unjustified
// dependency.
type memoCache struct {
	mu       sync.Mutex
	capacity int
	ll       *list.List
	items    map[string]*list.Element
}

type memoEntry struct {
	key string
	vec []float32
}

func newMemoCache(capacity int) *memoCache {
	return &memoCache{
		capacity: capacity,
		ll:       list.New(),
		items:    make(map[string]*list.Element),
	}
}

func (c *memoCache) get(key string) ([]float32, bool) {
	if c.capacity <= 0 {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	c.ll.MoveToFront(el)
	return el.Value.(*memoEntry).vec, true
}

func (c *memoCache) put(key string, vec []float32) {
	if c.capacity <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.ll.MoveToFront(el)
		el.Value.(*memoEntry).vec = vec
		return
	}

	el := c.ll.PushFront(&memoEntry{key: key, vec: vec})
	c.items[key] = el

	for c.ll.Len() > c.capacity {
		oldest := c.ll.Back()
		if oldest == nil {
			break
		}
		c.ll.Remove(oldest)
		delete(c.items, oldest.Value.(*memoEntry).key)
	}
}
