package paygate

import (
	"context"
	"sync"
	"time"
)

// settlement is one slot in the cache: a broadcast in progress or its
// retained outcome. done closes when the slot resolves; result is nil when
// the owner abandoned the attempt without an accepted broadcast.
type settlement struct {
	done      chan struct{}
	result    *SettleResponse
	expiresAt time.Time
}

// SettlementCache deduplicates concurrent and retried settlements for the
// same transaction identifier. The first caller to acquire a key owns the
// broadcast; everyone else awaits the owner's outcome, whether it is still
// running or already resolved within the retention TTL.
type SettlementCache struct {
	mu          sync.Mutex
	settlements map[string]*settlement
	ttl         time.Duration
}

// NewSettlementCache creates a cache whose resolved outcomes live for ttl.
func NewSettlementCache(ttl time.Duration) *SettlementCache {
	return &SettlementCache{
		settlements: make(map[string]*settlement),
		ttl:         ttl,
	}
}

// Acquire returns the settlement slot for key. When owner is true the caller
// holds a fresh slot and must finish it with Resolve or Abandon; otherwise
// the slot belongs to another caller and should be passed to Await.
func (c *SettlementCache) Acquire(key string) (entry *settlement, owner bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.settlements[key]; ok {
		expired := !existing.expiresAt.IsZero() && time.Now().After(existing.expiresAt)
		if !expired {
			return existing, false
		}
		delete(c.settlements, key)
	}

	entry = &settlement{done: make(chan struct{})}
	c.settlements[key] = entry
	return entry, true
}

// Await blocks until entry resolves or ctx ends. A nil result with nil error
// means the owner abandoned the attempt and the caller may acquire a fresh
// slot.
func (c *SettlementCache) Await(ctx context.Context, entry *settlement) (*SettleResponse, error) {
	select {
	case <-entry.done:
		return entry.result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Resolve records the settlement outcome on entry, starts its retention
// clock, and wakes waiters.
func (c *SettlementCache) Resolve(key string, entry *settlement, response *SettleResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry.result = response
	entry.expiresAt = time.Now().Add(c.ttl)
	close(entry.done)

	now := time.Now()
	for k, s := range c.settlements {
		if !s.expiresAt.IsZero() && now.After(s.expiresAt) {
			delete(c.settlements, k)
		}
	}
}

// Abandon releases the slot without an outcome, so waiters and later callers
// may retry the settlement.
func (c *SettlementCache) Abandon(key string, entry *settlement) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.settlements[key] == entry {
		delete(c.settlements, key)
	}
	close(entry.done)
}
