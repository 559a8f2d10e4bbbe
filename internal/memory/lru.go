package memory

import (
	"container/list"
	"sync"

	"novel-engine/shared/models"
)

// itemCache - LRU-кэш горячих записей перед badger. maxSize <= 0 отключает кэш.
type itemCache struct {
	mu       sync.Mutex
	maxSize  int
	items    map[string]*list.Element
	eviction *list.List
}

type cacheEntry struct {
	key  string
	item *models.MemoryItem
}

func newItemCache(maxSize int) *itemCache {
	return &itemCache{
		maxSize:  maxSize,
		items:    make(map[string]*list.Element),
		eviction: list.New(),
	}
}

func (c *itemCache) get(key string) (*models.MemoryItem, bool) {
	if c.maxSize <= 0 {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.eviction.MoveToFront(elem)
		cacheLookups.WithLabelValues("hit").Inc()
		return elem.Value.(*cacheEntry).item.Clone(), true
	}
	cacheLookups.WithLabelValues("miss").Inc()
	return nil, false
}

func (c *itemCache) put(key string, item *models.MemoryItem) {
	if c.maxSize <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	item = item.Clone()
	if elem, ok := c.items[key]; ok {
		c.eviction.MoveToFront(elem)
		elem.Value.(*cacheEntry).item = item
		return
	}
	if c.eviction.Len() >= c.maxSize {
		if back := c.eviction.Back(); back != nil {
			c.eviction.Remove(back)
			delete(c.items, back.Value.(*cacheEntry).key)
		}
	}
	c.items[key] = c.eviction.PushFront(&cacheEntry{key: key, item: item})
}

func (c *itemCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
