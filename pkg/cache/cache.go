package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Options controls entry lifetimes. A fresh entry is served until TTL, then
// served stale for StaleWhileRevalidate while one background refresh runs.
type Options struct {
	TTL                  time.Duration
	StaleWhileRevalidate time.Duration
	NegativeTTL          time.Duration
	MaxEntries           int
}

type MetricsHooks struct {
	OnHit   func(labels map[string]string)
	OnMiss  func(labels map[string]string)
	OnStale func(labels map[string]string)
	OnStore func(labels map[string]string)
	OnError func(labels map[string]string)
}

func (h MetricsHooks) fire(fn func(map[string]string), labels map[string]string) {
	if fn != nil {
		fn(labels)
	}
}

type entry[V any] struct {
	value     V
	err       error
	expiresAt time.Time
	staleAt   time.Time
	negative  bool
	lastUsed  time.Time
}

// Cache is a keyed read-through cache with single-flight loading. It also
// remembers the last successful value per key so callers can degrade to it
// after the entry itself has expired.
type Cache[V any] struct {
	mu       sync.Mutex
	items    map[string]*entry[V]
	lastGood map[string]V
	order    []string
	opts     Options
	metrics  MetricsHooks
	sf       singleflight.Group
	now      func() time.Time
}

// SnapshotEntry represents a point-in-time cache entry for debugging.
type SnapshotEntry[V any] struct {
	Key       string
	Value     V
	Err       error
	ExpiresAt time.Time
	StaleAt   time.Time
	LastUsed  time.Time
	Negative  bool
}

func New[V any](opts Options, hooks MetricsHooks) *Cache[V] {
	return &Cache[V]{
		items:    make(map[string]*entry[V]),
		lastGood: make(map[string]V),
		order:    make([]string, 0, 16),
		opts:     opts,
		metrics:  hooks,
		now:      time.Now,
	}
}

// Loader fetches the value for key. ok=false with err marks a failed load.
type Loader[V any] func(ctx context.Context, key string) (V, bool, error)

type loadResult[V any] struct {
	val V
	ok  bool
	err error
}

func (c *Cache[V]) Get(ctx context.Context, key string, loader Loader[V]) (V, bool, error) {
	var zero V
	now := c.now()

	c.mu.Lock()
	if e, ok := c.items[key]; ok {
		if now.Before(e.expiresAt) {
			e.lastUsed = now
			c.mu.Unlock()
			c.metrics.fire(c.metrics.OnHit, map[string]string{"key": key})
			if e.negative {
				return zero, false, e.err
			}
			return e.value, true, nil
		}
		if now.Before(e.staleAt) {
			e.lastUsed = now
			val, negative, err := e.value, e.negative, e.err
			c.mu.Unlock()

			c.metrics.fire(c.metrics.OnStale, map[string]string{"key": key})
			// The refresh outlives the caller's request.
			refreshCtx := context.WithoutCancel(ctx)
			go func() {
				_, _, _ = c.sf.Do("refresh:"+key, func() (interface{}, error) {
					c.refresh(refreshCtx, key, loader)
					return nil, nil
				})
			}()
			if negative {
				return zero, false, err
			}
			return val, true, nil
		}
		// Hard expired: drop and load synchronously
		delete(c.items, key)
		c.removeFromOrder(key)
	}
	c.mu.Unlock()

	c.metrics.fire(c.metrics.OnMiss, map[string]string{"key": key})
	result, _, _ := c.sf.Do(key, func() (interface{}, error) {
		val, ok, err := loader(ctx, key)
		c.store(key, val, ok, err)
		return loadResult[V]{val: val, ok: ok, err: err}, nil
	})
	res := result.(loadResult[V])
	if !res.ok {
		return zero, false, res.err
	}
	return res.val, true, nil
}

func (c *Cache[V]) refresh(ctx context.Context, key string, loader Loader[V]) {
	val, ok, err := loader(ctx, key)
	c.store(key, val, ok, err)
}

func (c *Cache[V]) store(key string, val V, ok bool, err error) {
	now := c.now()
	e := &entry[V]{lastUsed: now}
	if ok {
		e.value = val
		e.expiresAt = now.Add(c.opts.TTL)
		e.staleAt = e.expiresAt.Add(c.opts.StaleWhileRevalidate)
	} else {
		c.metrics.fire(c.metrics.OnError, map[string]string{"key": key})
		if c.opts.NegativeTTL <= 0 {
			// Do not store negatives
			return
		}
		e.err = err
		e.negative = true
		e.expiresAt = now.Add(c.opts.NegativeTTL)
		e.staleAt = e.expiresAt
	}

	c.mu.Lock()
	c.put(key, e)
	if ok {
		c.lastGood[key] = val
	}
	c.mu.Unlock()

	c.metrics.fire(c.metrics.OnStore, map[string]string{"key": key, "ok": boolStr(ok)})
}

// put must be called with c.mu held
func (c *Cache[V]) put(key string, e *entry[V]) {
	if _, exists := c.items[key]; !exists {
		c.order = append(c.order, key)
	}
	c.items[key] = e
	c.evictIfNeeded()
}

func (c *Cache[V]) removeFromOrder(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

func (c *Cache[V]) evictIfNeeded() {
	if c.opts.MaxEntries <= 0 || len(c.items) <= c.opts.MaxEntries {
		return
	}
	// FIFO by first insertion
	excess := len(c.items) - c.opts.MaxEntries
	for excess > 0 && len(c.order) > 0 {
		victim := c.order[0]
		c.order = c.order[1:]
		delete(c.items, victim)
		delete(c.lastGood, victim)
		excess--
	}
}

func (c *Cache[V]) Set(key string, val V, ttl time.Duration) {
	now := c.now()
	e := &entry[V]{value: val, expiresAt: now.Add(ttl), staleAt: now.Add(ttl).Add(c.opts.StaleWhileRevalidate), lastUsed: now}
	c.mu.Lock()
	c.put(key, e)
	c.lastGood[key] = val
	c.mu.Unlock()
}

// LastGood returns the most recent successfully loaded value for key, however old.
func (c *Cache[V]) LastGood(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.lastGood[key]
	return v, ok
}

// Snapshot returns a copy of current cache entries for debugging/inspection.
func (c *Cache[V]) Snapshot() []SnapshotEntry[V] {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]SnapshotEntry[V], 0, len(c.items))
	for k, e := range c.items {
		out = append(out, SnapshotEntry[V]{
			Key:       k,
			Value:     e.value,
			Err:       e.err,
			ExpiresAt: e.expiresAt,
			StaleAt:   e.staleAt,
			LastUsed:  e.lastUsed,
			Negative:  e.negative,
		})
	}
	return out
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
