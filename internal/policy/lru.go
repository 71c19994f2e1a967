package policy

import (
	"container/list"
	"sync"
)

// lruCache is a fixed-capacity cache of per-pair state with strict
// least-recently-used eviction. Both Get and Put refresh recency.
type lruCache struct {
	mu    sync.Mutex
	cap   int
	order *list.List // front = most recent
	items map[Key]*list.Element
}

type lruEntry struct {
	key   Key
	state *State
}

func newLRUCache(capacity int) *lruCache {
	if capacity <= 0 {
		capacity = 1024
	}
	return &lruCache{
		cap:   capacity,
		order: list.New(),
		items: make(map[Key]*list.Element, capacity),
	}
}

func (c *lruCache) Get(key Key) (*State, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*lruEntry).state, true
}

func (c *lruCache) Put(key Key, st *State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		el.Value.(*lruEntry).state = st
		c.order.MoveToFront(el)
		return
	}
	c.items[key] = c.order.PushFront(&lruEntry{key: key, state: st})
	if c.order.Len() > c.cap {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.items, oldest.Value.(*lruEntry).key)
		}
	}
}

func (c *lruCache) Remove(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.order.Remove(el)
		delete(c.items, key)
	}
}

func (c *lruCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
