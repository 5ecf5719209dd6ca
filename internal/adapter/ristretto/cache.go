// Package ristretto implements the Hot tier of the cache hierarchy on
// dgraph-io/ristretto.
package ristretto

import (
	"context"
	"errors"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// ErrRejected is returned when the admission policy drops a write.
var ErrRejected = errors.New("ristretto: write rejected by admission policy")

// Cache wraps a ristretto cache as the in-process Hot tier.
type Cache struct {
	c *ristretto.Cache[string, []byte]
}

// New creates a ristretto-backed cache. maxCostBytes is the maximum total
// size of cached values in bytes.
func New(maxCostBytes int64) (*Cache, error) {
	counters := maxCostBytes / 100 * 10 // ~10x expected items
	if counters < 1000 {
		counters = 1000
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: counters,
		MaxCost:     maxCostBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Cache{c: c}, nil
}

// Get retrieves a value from the cache.
func (c *Cache) Get(_ context.Context, key string) (data []byte, ok bool, err error) {
	val, found := c.c.Get(key)
	if !found {
		return nil, false, nil
	}
	return val, true, nil
}

// Set stores a copy of value with the given TTL and waits until it is
// visible to readers. A ttl of zero keeps the value until eviction.
func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	v := append([]byte(nil), value...)
	if !c.c.SetWithTTL(key, v, int64(len(v)), ttl) {
		return ErrRejected
	}
	c.c.Wait()
	return nil
}

// Delete removes a value from the cache.
func (c *Cache) Delete(_ context.Context, key string) error {
	c.c.Del(key)
	return nil
}

// Close shuts down the cache and releases resources.
func (c *Cache) Close() {
	c.c.Close()
}
