// Package durable defines the port for the transactional record store that
// backs the bottom tier of the cache hierarchy.
package durable

import "context"

// Store is the durable record store. Writes are acknowledged only once they
// are committed. Deleting a missing key is not an error.
type Store interface {
	Read(ctx context.Context, key string) ([]byte, bool, error)
	Write(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}
