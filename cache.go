package main

import (
	"sync"
	"time"
)

// ConversationListCache provides thread-safe caching for the conversation list
type ConversationListCache struct {
	mu          sync.RWMutex
	items       []ConversationMetadata
	loaded      bool
	lastUpdated time.Time
	ttl         time.Duration
}

// NewConversationListCache creates a new list cache with the specified TTL
func NewConversationListCache(ttl time.Duration) *ConversationListCache {
	return &ConversationListCache{
		ttl: ttl,
	}
}

// Get retrieves the list if it is loaded and not expired.
// An empty list is a valid cache hit.
func (c *ConversationListCache) Get() ([]ConversationMetadata, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.loaded || time.Since(c.lastUpdated) > c.ttl {
		return nil, false
	}

	itemsCopy := make([]ConversationMetadata, len(c.items))
	copy(itemsCopy, c.items)

	return itemsCopy, true
}

// Peek returns the cached list regardless of age
func (c *ConversationListCache) Peek() []ConversationMetadata {
	c.mu.RLock()
	defer c.mu.RUnlock()

	itemsCopy := make([]ConversationMetadata, len(c.items))
	copy(itemsCopy, c.items)
	return itemsCopy
}

// Set replaces the cached list
func (c *ConversationListCache) Set(items []ConversationMetadata) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make([]ConversationMetadata, len(items))
	copy(c.items, items)
	c.loaded = true
	c.lastUpdated = time.Now()
}

// Prepend adds a conversation to the front of the list without
// touching its age; a newly created conversation is the newest one.
func (c *ConversationListCache) Prepend(item ConversationMetadata) {
	c.mu.Lock()
	defer c.mu.Unlock()

	items := make([]ConversationMetadata, 0, len(c.items)+1)
	items = append(items, item)
	for _, existing := range c.items {
		if existing.ID != item.ID {
			items = append(items, existing)
		}
	}
	c.items = items
}

// Invalidate marks the list stale but keeps it for display
func (c *ConversationListCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastUpdated = time.Time{}
}
