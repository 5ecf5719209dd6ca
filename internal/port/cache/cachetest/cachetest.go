// Package cachetest provides the behaviour every cache tier backend must share.
package cachetest

import (
	"context"
	"testing"
	"time"

	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/port/cache"
)

// RunCompliance runs the standard compliance suite against a tier backend.
// settle is called after each write for backends that apply writes
// asynchronously; it may be nil.
func RunCompliance(t *testing.T, c cache.Cache, settle func()) {
	t.Helper()
	ctx := context.Background()
	if settle == nil {
		settle = func() {}
	}

	t.Run("SetAndGet", func(t *testing.T) {
		if err := c.Set(ctx, "application/app-1", []byte(`{"stage":"intake"}`), time.Minute); err != nil {
			t.Fatal(err)
		}
		settle()
		val, found, err := c.Get(ctx, "application/app-1")
		if err != nil {
			t.Fatal(err)
		}
		if !found {
			t.Fatal("expected found after Set")
		}
		if string(val) != `{"stage":"intake"}` {
			t.Fatalf("unexpected value %s", val)
		}
	})

	t.Run("GetMiss", func(t *testing.T) {
		_, found, err := c.Get(ctx, "application/missing")
		if err != nil {
			t.Fatal(err)
		}
		if found {
			t.Fatal("expected miss for nonexistent key")
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = c.Set(ctx, "application/del", []byte("v"), time.Minute)
		settle()
		if err := c.Delete(ctx, "application/del"); err != nil {
			t.Fatal(err)
		}
		_, found, err := c.Get(ctx, "application/del")
		if err != nil {
			t.Fatal(err)
		}
		if found {
			t.Fatal("expected miss after Delete")
		}
	})

	t.Run("DeleteNonexistent", func(t *testing.T) {
		if err := c.Delete(ctx, "application/never"); err != nil {
			t.Fatalf("Delete of nonexistent key should not error: %v", err)
		}
	})

	t.Run("Overwrite", func(t *testing.T) {
		_ = c.Set(ctx, "application/ow", []byte("v1"), time.Minute)
		settle()
		_ = c.Set(ctx, "application/ow", []byte("v2"), time.Minute)
		settle()
		val, found, err := c.Get(ctx, "application/ow")
		if err != nil {
			t.Fatal(err)
		}
		if !found || string(val) != "v2" {
			t.Fatalf("expected v2 after overwrite, got %s (found=%v)", val, found)
		}
	})
}
