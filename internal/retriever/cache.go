package retriever

import (
	"container/list"
	"sync"

	"portablebrain/internal/embedding"
)

// lruCache is a fixed-capacity LRU map. Each cache instance carries its own
// lock; callers never share one lock across caches.
type lruCache[V any] struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // front = most recently used
	entries  map[string]*list.Element
}

type lruEntry[V any] struct {
	key   string
	value V
}

func newLRUCache[V any](capacity int) *lruCache[V] {
	return &lruCache[V]{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[string]*list.Element, capacity),
	}
}

// get promotes the key to most recently used on a hit.
func (c *lruCache[V]) get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		c.order.MoveToFront(el)
		return el.Value.(*lruEntry[V]).value, true
	}
	var zero V
	return zero, false
}

// put inserts or refreshes the key, evicting the least recently used entry
// when over capacity.
func (c *lruCache[V]) put(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		el.Value.(*lruEntry[V]).value = value
		c.order.MoveToFront(el)
		return
	}
	c.entries[key] = c.order.PushFront(&lruEntry[V]{key: key, value: value})
	if c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*lruEntry[V]).key)
	}
}

func (c *lruCache[V]) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// semanticCache is a FIFO deque of (query vector, results) pairs matched by
// cosine similarity instead of exact key.
type semanticCache struct {
	mu        sync.Mutex
	capacity  int
	threshold float64
	entries   []semanticEntry // oldest first
}

type semanticEntry struct {
	vector  []float32
	results []string
}

func newSemanticCache(capacity int, threshold float64) *semanticCache {
	return &semanticCache{capacity: capacity, threshold: threshold}
}

// lookup scans newest-first and returns the first entry whose vector clears
// the similarity threshold.
func (c *semanticCache) lookup(queryVec []float32) ([]string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.entries) - 1; i >= 0; i-- {
		if embedding.CosineSimilarity(queryVec, c.entries[i].vector) >= c.threshold {
			return c.entries[i].results, true
		}
	}
	return nil, false
}

// push appends the newest entry, dropping the oldest on overflow.
func (c *semanticCache) push(queryVec []float32, results []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, semanticEntry{vector: queryVec, results: results})
	if len(c.entries) > c.capacity {
		c.entries = c.entries[1:]
	}
}

func (c *semanticCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
