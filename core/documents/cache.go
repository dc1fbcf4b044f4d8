// Package documents manages scope knowledge: the local document cache used as
// the retrieval fallback, document uploads and directory syncing.
package documents

import (
	"sync"

	"github.com/koscakluka/ema-persona/core/conversations"
)

// Cache keeps an in-memory copy of the documents of tracked scopes, updated
// from store notifications.
type Cache struct {
	store conversations.DocumentStore

	mu      sync.RWMutex
	docs    map[conversations.Scope][]conversations.Document
	tracked map[conversations.Scope]func()
}

func NewCache(store conversations.DocumentStore) *Cache {
	return &Cache{
		store:   store,
		docs:    map[conversations.Scope][]conversations.Document{},
		tracked: map[conversations.Scope]func(){},
	}
}

// Track starts following scope. Tracking an already tracked scope is a no-op.
func (c *Cache) Track(scope conversations.Scope) {
	c.mu.Lock()
	if _, ok := c.tracked[scope]; ok {
		c.mu.Unlock()
		return
	}
	c.tracked[scope] = func() {}
	c.mu.Unlock()

	unsubscribe := c.store.SubscribeDocuments(scope, func(docs []conversations.Document) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if _, ok := c.tracked[scope]; !ok {
			return
		}
		c.docs[scope] = append([]conversations.Document(nil), docs...)
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.tracked[scope]; !ok {
		unsubscribe()
		return
	}
	c.tracked[scope] = unsubscribe
}

// Untrack stops following scope and forgets its documents.
func (c *Cache) Untrack(scope conversations.Scope) {
	c.mu.Lock()
	unsubscribe, ok := c.tracked[scope]
	delete(c.tracked, scope)
	delete(c.docs, scope)
	c.mu.Unlock()

	if ok {
		unsubscribe()
	}
}

// ListAll returns the cached documents of scope in upload order.
func (c *Cache) ListAll(scope conversations.Scope) []conversations.Document {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]conversations.Document(nil), c.docs[scope]...)
}

func (c *Cache) Close() {
	c.mu.Lock()
	unsubscribes := make([]func(), 0, len(c.tracked))
	for _, unsubscribe := range c.tracked {
		unsubscribes = append(unsubscribes, unsubscribe)
	}
	c.tracked = map[conversations.Scope]func(){}
	c.docs = map[conversations.Scope][]conversations.Document{}
	c.mu.Unlock()

	for _, unsubscribe := range unsubscribes {
		unsubscribe()
	}
}
