package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// Loader is the authoritative read invoked on a cache miss. Loaders must
// be idempotent: under store failures or rare races the same loader may
// run more than once.
type Loader func(ctx context.Context) ([]byte, error)

// Coordinator is a read-through cache over a Store. The relational store
// stays the single source of truth: writers call Invalidate after their
// write commits, readers go through Get. Any cache failure degrades the
// operation to a direct loader call, never to an error.
type Coordinator struct {
	store  Store
	ttl    time.Duration
	logger *logrus.Logger
	group  singleflight.Group
	down   atomic.Bool // outage episode flag, one log line per episode
}

func NewCoordinator(store Store, ttl time.Duration, logger *logrus.Logger) *Coordinator {
	if logger == nil {
		logger = logrus.New()
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Coordinator{store: store, ttl: ttl, logger: logger}
}

// Get returns the cached value for key, loading and storing it on miss.
// Concurrent misses for the same key coalesce onto a single loader call.
func (c *Coordinator) Get(ctx context.Context, key string, load Loader) ([]byte, error) {
	if c == nil || c.store == nil {
		return load(ctx)
	}
	ver, err := c.store.Version(ctx, key)
	if err != nil {
		c.degraded("read version", err)
		return load(ctx)
	}
	entry, err := c.store.Get(ctx, key)
	if err == nil && entry.Version >= ver {
		c.recovered()
		return entry.Value, nil
	}
	if err != nil && !errors.Is(err, ErrMiss) {
		c.degraded("read entry", err)
		return load(ctx)
	}
	c.recovered()

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		value, err := load(ctx)
		if err != nil {
			return nil, err
		}
		// Stored under the version observed before loading, so an
		// invalidation racing this load supersedes the entry on the
		// next read instead of being lost.
		if serr := c.store.Set(ctx, key, Entry{Value: value, Version: ver}, c.ttl); serr != nil {
			c.degraded("write entry", serr)
		}
		return value, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// Invalidate bumps each key's version counter, superseding whatever the
// cache holds. Call only after the authoritative write has committed.
func (c *Coordinator) Invalidate(ctx context.Context, keys ...string) {
	if c == nil || c.store == nil {
		return
	}
	ok := true
	for _, key := range keys {
		if err := c.store.Bump(ctx, key); err != nil {
			c.degraded("invalidate", err)
			ok = false
		}
	}
	if ok {
		c.recovered()
	}
}

func (c *Coordinator) degraded(op string, err error) {
	if c.down.CompareAndSwap(false, true) {
		c.logger.Warnf("cache degraded, falling back to direct store reads: %s: %v", op, err)
	}
}

func (c *Coordinator) recovered() {
	if c.down.CompareAndSwap(true, false) {
		c.logger.Info("cache recovered")
	}
}

// GetJSON runs Get and unmarshals the cached payload into dest. The
// loader's result is stored JSON-encoded.
func GetJSON(ctx context.Context, c *Coordinator, key string, dest interface{}, load func(ctx context.Context) (interface{}, error)) error {
	raw, err := c.Get(ctx, key, func(ctx context.Context) ([]byte, error) {
		v, err := load(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)
	})
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}
