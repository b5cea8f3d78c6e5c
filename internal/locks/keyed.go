// Package locks serialises work per key, in process and optionally across replicas.
package locks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hubflo/hubflo/internal/logging"
)

// UnlockFunc releases a distributed lock.
type UnlockFunc func(ctx context.Context) error

// DistributedLocker takes a lock shared by every replica.
type DistributedLocker interface {
	Lock(ctx context.Context, key string, ttl time.Duration) (UnlockFunc, error)
}

const defaultTTL = 30 * time.Second

type entry struct {
	mu   sync.Mutex
	refs int
}

// Keyed hands out one mutex per key and drops it when nobody holds or waits on it.
type Keyed struct {
	mu      sync.Mutex
	entries map[string]*entry

	locker DistributedLocker
	ttl    time.Duration
	logger *slog.Logger
}

type Option func(*Keyed)

// WithLocker adds a distributed lock taken after the local one.
func WithLocker(locker DistributedLocker) Option {
	return func(k *Keyed) {
		k.locker = locker
	}
}

// WithTTL sets the distributed lock expiry.
func WithTTL(ttl time.Duration) Option {
	return func(k *Keyed) {
		if ttl > 0 {
			k.ttl = ttl
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(k *Keyed) {
		k.logger = logger
	}
}

func NewKeyed(opts ...Option) *Keyed {
	k := &Keyed{
		entries: make(map[string]*entry),
		ttl:     defaultTTL,
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

func (k *Keyed) acquire(key string) *entry {
	k.mu.Lock()
	defer k.mu.Unlock()

	e, ok := k.entries[key]
	if !ok {
		e = &entry{}
		k.entries[key] = e
	}
	e.refs++
	return e
}

func (k *Keyed) release(key string) {
	k.mu.Lock()
	defer k.mu.Unlock()

	e, ok := k.entries[key]
	if !ok {
		return
	}
	e.refs--
	if e.refs <= 0 {
		delete(k.entries, key)
	}
}

// WithLock runs fn while holding the lock for key.
func (k *Keyed) WithLock(ctx context.Context, key string, fn func(context.Context) error) error {
	e := k.acquire(key)
	e.mu.Lock()
	defer func() {
		e.mu.Unlock()
		k.release(key)
	}()

	if k.locker != nil {
		unlock, err := k.locker.Lock(ctx, key, k.ttl)
		if err != nil {
			return fmt.Errorf("failed to acquire distributed lock: %w", err)
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				k.logger.Warn("failed to release distributed lock, it will expire",
					"key", key,
					"err", err,
				)
			}
		}()
	}

	return fn(ctx)
}

// Len reports how many keys currently have holders or waiters.
func (k *Keyed) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}
