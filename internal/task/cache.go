package task

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// CachedStore keeps recently read tasks in a bounded, expiring LRU.
//
// Only FetchByID populates the cache. Every write through the store evicts
// the affected entry, so a transition always evaluates against the stored
// record or a copy read after the last write.
//
// A read that overlaps a write may return the old record to its caller but
// never caches it: writes advance a generation before and after reaching
// the backend, and a fill is kept only if the generation is unchanged since
// the read began.
type CachedStore struct {
	Store
	cache *expirable.LRU[string, *Task]

	mu  sync.Mutex
	gen uint64
}

// NewCachedStore wraps s with a cache of up to size entries living ttl.
func NewCachedStore(s Store, size int, ttl time.Duration) *CachedStore {
	if size <= 0 {
		size = 1024
	}
	return &CachedStore{
		Store: s,
		cache: expirable.NewLRU[string, *Task](size, nil, ttl),
	}
}

// FetchByID serves from the cache or reads through on a miss.
func (c *CachedStore) FetchByID(ctx context.Context, id string) (*Task, error) {
	if t, ok := c.cache.Get(id); ok {
		return t.Clone(), nil
	}
	gen := c.generation()
	t, err := c.Store.FetchByID(ctx, id)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.gen == gen {
		c.cache.Add(id, t.Clone())
	}
	c.mu.Unlock()
	return t, nil
}

// CreateRecord writes through and evicts any stale entry.
func (c *CachedStore) CreateRecord(ctx context.Context, t *Task) error {
	c.Invalidate(t.ID)
	defer c.Invalidate(t.ID)
	return c.Store.CreateRecord(ctx, t)
}

// WriteFields writes through and evicts the entry, even on failure, since a
// timed-out write may still have landed.
func (c *CachedStore) WriteFields(ctx context.Context, id string, u Update) error {
	c.Invalidate(id)
	defer c.Invalidate(id)
	return c.Store.WriteFields(ctx, id, u)
}

// Invalidate drops a cached entry and discards fills of reads in flight.
func (c *CachedStore) Invalidate(id string) {
	c.mu.Lock()
	c.gen++
	c.cache.Remove(id)
	c.mu.Unlock()
}

func (c *CachedStore) generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// Len returns the number of cached entries.
func (c *CachedStore) Len() int {
	return c.cache.Len()
}

// Unwrap returns the decorated store.
func (c *CachedStore) Unwrap() Store {
	return c.Store
}
