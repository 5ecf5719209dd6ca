// Package cache defines the port interface for a single cache tier backend.
package cache

import (
	"context"
	"time"
)

// Cache is one tier of the hierarchy. Values are opaque envelopes; a ttl of
// zero means the backend keeps the value until it is deleted.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
