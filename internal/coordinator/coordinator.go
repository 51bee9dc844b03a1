// Package coordinator provides keyed mutual exclusion under a global
// concurrency budget.
//
// A caller first takes the lock for its key, then one slot of the global
// budget. Waiting on a busy key therefore never consumes budget that other
// keys could use. Slots are granted in FIFO order.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrConcurrencyTimeout is returned when a lock or slot could not be
// obtained within the configured lock timeout.
var ErrConcurrencyTimeout = errors.New("concurrency timeout")

// DefaultMaxConcurrency is used when Config.MaxConcurrency is not positive.
const DefaultMaxConcurrency = 8

// Config configures a Coordinator.
type Config struct {
	MaxConcurrency int
	// LockTimeout bounds acquisition. Zero means wait until ctx is done.
	LockTimeout time.Duration
}

// Observer receives coordinator measurements. A nil Observer is ignored.
type Observer interface {
	ObserveWait(d time.Duration, timedOut bool)
	SetInFlight(n int)
}

// keyLock is a context-aware mutex. refs counts holders and waiters and is
// guarded by Coordinator.mu.
type keyLock struct {
	ch   chan struct{}
	refs int
}

// Coordinator serializes work per key while capping total concurrency.
type Coordinator struct {
	cfg      Config
	sem      *semaphore.Weighted
	observer Observer

	mu       sync.Mutex
	locks    map[string]*keyLock
	inFlight int
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithObserver attaches a metrics observer.
func WithObserver(o Observer) Option {
	return func(c *Coordinator) {
		c.observer = o
	}
}

// New creates a Coordinator.
func New(cfg Config, opts ...Option) *Coordinator {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultMaxConcurrency
	}
	c := &Coordinator{
		cfg:   cfg,
		sem:   semaphore.NewWeighted(int64(cfg.MaxConcurrency)),
		locks: make(map[string]*keyLock),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// MaxConcurrency returns the global budget.
func (c *Coordinator) MaxConcurrency() int {
	return c.cfg.MaxConcurrency
}

// Acquire blocks until the key lock and a global slot are held. The
// returned release func must be called exactly once; extra calls are no-ops.
//
// On timeout it returns ErrConcurrencyTimeout. If ctx is done first it
// returns ctx.Err().
func (c *Coordinator) Acquire(ctx context.Context, key string) (func(), error) {
	start := time.Now()
	waitCtx := ctx
	if c.cfg.LockTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, c.cfg.LockTimeout)
		defer cancel()
	}

	kl := c.ref(key)

	select {
	case kl.ch <- struct{}{}:
	case <-waitCtx.Done():
		c.unref(key, kl)
		return nil, c.waitErr(ctx, key, start)
	}

	if err := c.sem.Acquire(waitCtx, 1); err != nil {
		<-kl.ch
		c.unref(key, kl)
		return nil, c.waitErr(ctx, key, start)
	}

	c.observeAcquired(time.Since(start))

	var once sync.Once
	return func() {
		once.Do(func() {
			c.sem.Release(1)
			<-kl.ch
			c.unref(key, kl)
			c.observeReleased()
		})
	}, nil
}

// Do runs fn while holding the lock for key. The lock is released when fn
// returns or panics. fn's error is returned unchanged.
func (c *Coordinator) Do(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	release, err := c.Acquire(ctx, key)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx)
}

// Len returns the number of keys with a holder or waiter.
func (c *Coordinator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.locks)
}

func (c *Coordinator) ref(key string) *keyLock {
	c.mu.Lock()
	defer c.mu.Unlock()
	kl, ok := c.locks[key]
	if !ok {
		kl = &keyLock{ch: make(chan struct{}, 1)}
		c.locks[key] = kl
	}
	kl.refs++
	return kl
}

func (c *Coordinator) unref(key string, kl *keyLock) {
	c.mu.Lock()
	defer c.mu.Unlock()
	kl.refs--
	if kl.refs == 0 {
		delete(c.locks, key)
	}
}

// waitErr distinguishes caller cancellation from the lock timeout.
func (c *Coordinator) waitErr(ctx context.Context, key string, start time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.observer != nil {
		c.observer.ObserveWait(time.Since(start), true)
	}
	return fmt.Errorf("%w: key %q after %s", ErrConcurrencyTimeout, key, c.cfg.LockTimeout)
}

func (c *Coordinator) observeAcquired(wait time.Duration) {
	c.mu.Lock()
	c.inFlight++
	n := c.inFlight
	c.mu.Unlock()
	if c.observer != nil {
		c.observer.ObserveWait(wait, false)
		c.observer.SetInFlight(n)
	}
}

func (c *Coordinator) observeReleased() {
	c.mu.Lock()
	c.inFlight--
	n := c.inFlight
	c.mu.Unlock()
	if c.observer != nil {
		c.observer.SetInFlight(n)
	}
}
