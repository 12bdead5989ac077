package captions

import "sync"

// Cache maps caption text to its translation. It is unbounded and lives as
// long as the queue that owns it.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]string
}

func NewCache() *Cache {
	return &Cache{entries: make(map[string]string)}
}

func (c *Cache) Get(text string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[text]
	return v, ok
}

func (c *Cache) Put(text, translation string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[text] = translation
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
