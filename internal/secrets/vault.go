// Package secrets holds credentials in memory and reloads them on demand,
// so rotated keys reach long-lived clients without a restart.
package secrets

import (
	"fmt"
	"sync"
)

// Loader retrieves secrets from a source (env vars, file, remote vault, etc.).
type Loader func() (map[string]string, error)

// Vault holds secret values in memory and supports atomic reloading.
type Vault struct {
	mu     sync.RWMutex
	values map[string]string
	loader Loader
}

// NewVault creates a Vault, calling the loader once to populate initial values.
func NewVault(loader Loader) (*Vault, error) {
	vals, err := loader()
	if err != nil {
		return nil, fmt.Errorf("initial secret load: %w", err)
	}
	return &Vault{values: vals, loader: loader}, nil
}

// Get returns the secret for key, or an empty string if not found.
func (v *Vault) Get(key string) string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.values[key]
}

// Source returns a function reading key on every call.
func (v *Vault) Source(key string) func() string {
	return func() string { return v.Get(key) }
}

// Reload calls the loader and swaps in the new values atomically.
// If the loader returns an error, existing values are preserved.
func (v *Vault) Reload() error {
	newVals, err := v.loader()
	if err != nil {
		return fmt.Errorf("reload secrets: %w", err)
	}
	v.mu.Lock()
	v.values = newVals
	v.mu.Unlock()
	return nil
}

// Redacted returns a masked form of key's value for logs: the first two
// characters of secrets longer than four, "****" otherwise.
func (v *Vault) Redacted(key string) string {
	val := v.Get(key)
	switch {
	case val == "":
		return ""
	case len(val) <= 4:
		return "****"
	default:
		return val[:2] + "****"
	}
}
