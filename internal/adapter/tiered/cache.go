// Package tiered implements the three-tier cache hierarchy: Hot (in-process),
// Warm (fast key-value store with TTL) and Durable (transactional store).
package tiered

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cachedom "github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/domain/cache"
	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/port/cache"
	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/port/durable"
	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/resilience"
)

// ErrCacheUnavailable is returned when the Durable tier cannot be read or written.
var ErrCacheUnavailable = errors.New("cache unavailable")

// Options configures a Cache. Hot, Warm and Durable are required.
type Options struct {
	Hot       cache.Cache
	Warm      cache.Cache
	Durable   durable.Store
	HotTTL    time.Duration
	WarmTTL   time.Duration
	IOTimeout time.Duration
	// Breaker guards Durable writes. Optional.
	Breaker *resilience.Breaker
	Logger  *slog.Logger
	// Observe is called once per tier consulted by Get. Optional.
	Observe func(ctx context.Context, tier cachedom.Tier, hit bool)
	Now     func() time.Time
}

// Cache reads Hot, then Warm, then Durable and promotes lower-tier hits
// upward. Writes reach Durable synchronously; Hot and Warm are best-effort.
type Cache struct {
	hot     cache.Cache
	warm    cache.Cache
	store   durable.Store
	hotTTL  time.Duration
	warmTTL time.Duration
	timeout time.Duration
	breaker *resilience.Breaker
	log     *slog.Logger
	observe func(context.Context, cachedom.Tier, bool)
	now     func() time.Time
	locks   keyLocks
}

// New creates a cache hierarchy from opts.
func New(opts Options) *Cache {
	c := &Cache{
		hot:     opts.Hot,
		warm:    opts.Warm,
		store:   opts.Durable,
		hotTTL:  opts.HotTTL,
		warmTTL: opts.WarmTTL,
		timeout: opts.IOTimeout,
		breaker: opts.Breaker,
		log:     opts.Logger,
		observe: opts.Observe,
		now:     opts.Now,
		locks:   keyLocks{m: make(map[string]*keyLock)},
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.timeout <= 0 {
		c.timeout = 2 * time.Second
	}
	return c
}

// Get returns the freshest visible entry for key. Hot and Warm failures are
// treated as misses; a Durable failure returns ErrCacheUnavailable. Reads
// that promote hold the key lock so a concurrent Put cannot be overwritten
// by the value it replaced.
func (c *Cache) Get(ctx context.Context, key string) (cachedom.Entry, bool, error) {
	now := c.now()

	if e, ok := c.lookup(ctx, c.hot, cachedom.TierHot, key, now); ok {
		return e, true, nil
	}

	unlock := c.locks.lock(key)
	defer unlock()

	if e, ok := c.lookup(ctx, c.warm, cachedom.TierWarm, key, now); ok {
		c.fill(ctx, c.hot, cachedom.TierHot, key, e, c.hotTTL, now)
		return e, true, nil
	}

	rctx, cancel := context.WithTimeout(ctx, c.timeout)
	raw, found, err := c.store.Read(rctx, key)
	cancel()
	if err != nil {
		c.log.Error("durable read failed", "key", key, "error", err)
		return cachedom.Entry{}, false, fmt.Errorf("read %s: %w: %w", key, ErrCacheUnavailable, err)
	}
	c.record(ctx, cachedom.TierDurable, found)
	if !found {
		return cachedom.Entry{}, false, nil
	}
	e, err := cachedom.Decode(key, cachedom.TierDurable, raw)
	if err != nil {
		return cachedom.Entry{}, false, fmt.Errorf("read %s: %w", key, err)
	}

	c.fill(ctx, c.warm, cachedom.TierWarm, key, e, c.warmTTL, now)
	c.fill(ctx, c.hot, cachedom.TierHot, key, e, c.hotTTL, now)
	return e, true, nil
}

// Put commits value to Durable before returning, then copies it into the
// tiers named by hint. Writes to the same key are serialized.
func (c *Cache) Put(ctx context.Context, key string, value []byte, hint cachedom.Hint) error {
	if !hint.Valid() {
		return fmt.Errorf("put %s: unknown tier hint %q", key, hint)
	}
	unlock := c.locks.lock(key)
	defer unlock()

	now := c.now()
	raw, err := cachedom.Encode(value, now, 0)
	if err != nil {
		return err
	}

	write := func() error {
		wctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		return c.store.Write(wctx, key, raw)
	}
	if c.breaker != nil {
		err = c.breaker.Execute(write)
	} else {
		err = write()
	}
	if err != nil {
		c.log.Error("durable write failed", "key", key, "error", err)
		return fmt.Errorf("write %s: %w: %w", key, ErrCacheUnavailable, err)
	}

	e := cachedom.Entry{Key: key, Value: value, Tier: cachedom.TierDurable, WriteTimestamp: now}
	switch hint {
	case cachedom.TierHot:
		c.fill(ctx, c.warm, cachedom.TierWarm, key, e, c.warmTTL, now)
		c.fill(ctx, c.hot, cachedom.TierHot, key, e, c.hotTTL, now)
	case cachedom.TierWarm:
		c.fill(ctx, c.warm, cachedom.TierWarm, key, e, c.warmTTL, now)
		c.drop(ctx, c.hot, cachedom.TierHot, key)
	default:
		c.drop(ctx, c.warm, cachedom.TierWarm, key)
		c.drop(ctx, c.hot, cachedom.TierHot, key)
	}
	return nil
}

// Invalidate removes key from Hot and Warm. The next Get re-reads Durable.
func (c *Cache) Invalidate(ctx context.Context, key string) {
	unlock := c.locks.lock(key)
	defer unlock()

	c.drop(ctx, c.warm, cachedom.TierWarm, key)
	c.drop(ctx, c.hot, cachedom.TierHot, key)
}

// Delete removes key from every tier.
func (c *Cache) Delete(ctx context.Context, key string) error {
	unlock := c.locks.lock(key)
	defer unlock()

	dctx, cancel := context.WithTimeout(ctx, c.timeout)
	err := c.store.Delete(dctx, key)
	cancel()
	if err != nil {
		c.log.Error("durable delete failed", "key", key, "error", err)
		return fmt.Errorf("delete %s: %w: %w", key, ErrCacheUnavailable, err)
	}
	c.drop(ctx, c.warm, cachedom.TierWarm, key)
	c.drop(ctx, c.hot, cachedom.TierHot, key)
	return nil
}

// lookup reads one best-effort tier. Expired or undecodable entries are
// removed and reported as misses.
func (c *Cache) lookup(ctx context.Context, t cache.Cache, tier cachedom.Tier, key string, now time.Time) (cachedom.Entry, bool) {
	tctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	raw, found, err := t.Get(tctx, key)
	if err != nil {
		c.log.Warn("cache tier read failed", "tier", string(tier), "key", key, "error", err)
		c.record(ctx, tier, false)
		return cachedom.Entry{}, false
	}
	if !found {
		c.record(ctx, tier, false)
		return cachedom.Entry{}, false
	}
	e, err := cachedom.Decode(key, tier, raw)
	if err != nil || e.Expired(now) {
		if err != nil {
			c.log.Warn("cache tier entry corrupt", "tier", string(tier), "key", key, "error", err)
		}
		_ = t.Delete(tctx, key)
		c.record(ctx, tier, false)
		return cachedom.Entry{}, false
	}
	c.record(ctx, tier, true)
	return e, true
}

// fill copies e into a best-effort tier. The copy never outlives the
// source entry's own expiry.
func (c *Cache) fill(ctx context.Context, t cache.Cache, tier cachedom.Tier, key string, e cachedom.Entry, ttl time.Duration, now time.Time) {
	expires := now.Add(ttl)
	if e.ExpiresAt != nil && e.ExpiresAt.Before(expires) {
		expires = *e.ExpiresAt
	}
	if !expires.After(now) {
		return
	}
	raw, err := cachedom.EncodeUntil(e.Value, e.WriteTimestamp, &expires)
	if err != nil {
		return
	}

	tctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := t.Set(tctx, key, raw, expires.Sub(now)); err != nil {
		c.log.Debug("cache tier write failed", "tier", string(tier), "key", key, "error", err)
	}
}

func (c *Cache) drop(ctx context.Context, t cache.Cache, tier cachedom.Tier, key string) {
	tctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := t.Delete(tctx, key); err != nil {
		c.log.Debug("cache tier delete failed", "tier", string(tier), "key", key, "error", err)
	}
}

func (c *Cache) record(ctx context.Context, tier cachedom.Tier, hit bool) {
	if c.observe != nil {
		c.observe(ctx, tier, hit)
	}
}

// keyLocks hands out one mutex per key, released when the last holder is done.
type keyLocks struct {
	mu sync.Mutex
	m  map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func (l *keyLocks) lock(key string) func() {
	l.mu.Lock()
	kl, ok := l.m[key]
	if !ok {
		kl = &keyLock{}
		l.m[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	kl.mu.Lock()
	return func() {
		kl.mu.Unlock()
		l.mu.Lock()
		kl.refs--
		if kl.refs == 0 {
			delete(l.m, key)
		}
		l.mu.Unlock()
	}
}
