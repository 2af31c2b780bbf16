package intent

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	intent    PendingIntent
	expiresAt time.Time
}

// MemoryCache is a process-local Cache for single instance deployments and tests
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
	stop    chan struct{}
	once    sync.Once
}

// NewMemoryCache creates a cache whose entries live for ttl.
// A cleanup goroutine runs every cleanupPeriod until Close.
func NewMemoryCache(ttl, cleanupPeriod time.Duration) *MemoryCache {
	c := &MemoryCache{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	if cleanupPeriod > 0 {
		go c.cleanupExpired(cleanupPeriod)
	}
	return c
}

func (c *MemoryCache) Put(ctx context.Context, scope string, in PendingIntent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[scope] = memoryEntry{intent: in, expiresAt: c.now().Add(c.ttl)}
	return nil
}

func (c *MemoryCache) Get(ctx context.Context, scope string) (*PendingIntent, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[scope]
	if !ok || c.expired(entry) {
		return nil, false, nil
	}
	in := entry.intent
	return &in, true, nil
}

func (c *MemoryCache) Clear(ctx context.Context, scope string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, scope)
	return nil
}

func (c *MemoryCache) ClearSession(ctx context.Context, scope, sessionID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[scope]
	if !ok || entry.intent.SessionID != sessionID {
		return false, nil
	}
	delete(c.entries, scope)
	return !c.expired(entry), nil
}

// Count returns the number of stored intents, including expired ones not yet swept
func (c *MemoryCache) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Close stops the cleanup goroutine
func (c *MemoryCache) Close() {
	c.once.Do(func() { close(c.stop) })
}

func (c *MemoryCache) expired(entry memoryEntry) bool {
	return c.ttl > 0 && c.now().After(entry.expiresAt)
}

func (c *MemoryCache) cleanupExpired(period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

func (c *MemoryCache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for scope, entry := range c.entries {
		if c.expired(entry) {
			delete(c.entries, scope)
		}
	}
}

var _ Cache = (*MemoryCache)(nil)
