package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/port/cache"
	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/port/cache/cachetest"
	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/port/durable"
)

var (
	_ cache.Cache   = (*WarmCache)(nil)
	_ durable.Store = (*DurableStore)(nil)
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "eligibility.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestWarmCompliance(t *testing.T) {
	cachetest.RunCompliance(t, openTestStore(t).Warm(), nil)
}

func TestWarmExpiry(t *testing.T) {
	s := openTestStore(t)
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	w := s.Warm()
	ctx := context.Background()

	if err := w.Set(ctx, "application/a", []byte("v"), time.Minute); err != nil {
		t.Fatal(err)
	}
	if err := w.Set(ctx, "application/b", []byte("v"), time.Hour); err != nil {
		t.Fatal(err)
	}

	now = now.Add(2 * time.Minute)
	if _, ok, err := w.Get(ctx, "application/a"); err != nil || ok {
		t.Fatalf("expected expired miss, got ok=%v err=%v", ok, err)
	}

	if err := w.Set(ctx, "application/c", []byte("v"), time.Second); err != nil {
		t.Fatal(err)
	}
	now = now.Add(2 * time.Second)
	n, err := w.Sweep(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected 1 swept entry, got %d", n)
	}
	if _, ok, _ := w.Get(ctx, "application/b"); !ok {
		t.Fatal("unexpired entry must survive the sweep")
	}
}

func TestDurableReadWrite(t *testing.T) {
	d := openTestStore(t).Durable()
	ctx := context.Background()

	if _, ok, err := d.Read(ctx, "application/x"); err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}
	if err := d.Write(ctx, "application/x", []byte("v1")); err != nil {
		t.Fatal(err)
	}
	if err := d.Write(ctx, "application/x", []byte("v2")); err != nil {
		t.Fatal(err)
	}
	got, ok, err := d.Read(ctx, "application/x")
	if err != nil || !ok || string(got) != "v2" {
		t.Fatalf("expected v2, got %q ok=%v err=%v", got, ok, err)
	}
	if err := d.Delete(ctx, "application/x"); err != nil {
		t.Fatal(err)
	}
	if err := d.Delete(ctx, "application/x"); err != nil {
		t.Fatalf("deleting a missing key must not error: %v", err)
	}
}

func TestDurableIgnoresWarmTTL(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()
	s.now = func() time.Time { return now }
	ctx := context.Background()

	if err := s.Durable().Write(ctx, "k", []byte("v")); err != nil {
		t.Fatal(err)
	}
	now = now.Add(24 * 365 * time.Hour)
	if _, ok, _ := s.Durable().Read(ctx, "k"); !ok {
		t.Fatal("durable entries are permanent until deleted")
	}
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")
	ctx := context.Background()

	s, err := Open(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Durable().Write(ctx, "k", []byte("v")); err != nil {
		t.Fatal(err)
	}
	_ = s.Close()

	s, err = Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	if _, ok, _ := s.Durable().Read(ctx, "k"); !ok {
		t.Fatal("expected data to survive reopen")
	}
}
