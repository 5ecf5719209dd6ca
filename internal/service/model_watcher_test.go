package service_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/domain/model"
	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/service"
)

type mockReloader struct {
	mu          sync.Mutex
	chains      []map[string]model.Chain
	invalidated []string
	all         int
}

var _ service.ChainReloader = (*mockReloader)(nil)

func (m *mockReloader) Reload(c map[string]model.Chain) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chains = append(m.chains, c)
	return nil
}

func (m *mockReloader) Invalidate(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalidated = append(m.invalidated, name)
}

func (m *mockReloader) InvalidateAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.all++
}

func (m *mockReloader) last() map[string]model.Chain {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.chains) == 0 {
		return nil
	}
	return m.chains[len(m.chains)-1]
}

const modelsV1 = `
chains:
  eligibility:
    - version: v1
      priority: 1
      path: models/v1.json
`

const modelsV2 = `
chains:
  eligibility:
    - version: v2
      priority: 1
      path: models/v2.json
    - version: v1
      priority: 2
      path: models/v1.json
`

func writeModels(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestModelWatcher_ReloadNowMergesBase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models.yaml")
	writeModels(t, path, modelsV1)
	base := map[string]model.Chain{"fraud": {{Version: "f1", Priority: 1}}}
	rl := &mockReloader{}
	w := service.NewModelWatcher(path, base, rl, nil)

	if err := w.ReloadNow(); err != nil {
		t.Fatal(err)
	}
	got := rl.last()
	if len(got["eligibility"]) != 1 || got["eligibility"][0].Version != "v1" {
		t.Fatalf("unexpected eligibility chain %+v", got["eligibility"])
	}
	if len(got["fraud"]) != 1 {
		t.Fatal("base chains should survive a reload")
	}
}

func TestModelWatcher_InvalidFileKeepsChains(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models.yaml")
	writeModels(t, path, `
chains:
  eligibility:
    - version: v1
      priority: 1
    - version: v2
      priority: 1
`)
	rl := &mockReloader{}
	w := service.NewModelWatcher(path, nil, rl, nil)
	if err := w.ReloadNow(); err == nil {
		t.Fatal("expected duplicate priority to be rejected")
	}
	if rl.last() != nil {
		t.Fatal("invalid file must not reach the resolver")
	}
}

func TestModelWatcher_RunPicksUpEdits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models.yaml")
	writeModels(t, path, modelsV1)
	rl := &mockReloader{}
	w := service.NewModelWatcher(path, nil, rl, nil)
	w.SetDebounce(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Run: %v", err)
		}
	}()

	// The watch is registered asynchronously; keep writing until it lands.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		writeModels(t, path, modelsV2)
		time.Sleep(30 * time.Millisecond)
		if c := rl.last(); c != nil && len(c["eligibility"]) == 2 {
			return
		}
	}
	t.Fatal("edit to models file was not picked up")
}

func TestModelWatcher_HandleReloadMessage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models.yaml")
	writeModels(t, path, modelsV1)
	rl := &mockReloader{}
	w := service.NewModelWatcher(path, nil, rl, nil)
	ctx := context.Background()

	if err := w.HandleReloadMessage(ctx, "models.reload", []byte(`{"name":"eligibility"}`)); err != nil {
		t.Fatal(err)
	}
	if err := w.HandleReloadMessage(ctx, "models.reload", []byte(`{}`)); err != nil {
		t.Fatal(err)
	}
	if err := w.HandleReloadMessage(ctx, "models.reload", []byte(`not json`)); err != nil {
		t.Fatal(err)
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if len(rl.invalidated) != 1 || rl.invalidated[0] != "eligibility" {
		t.Fatalf("unexpected invalidations %v", rl.invalidated)
	}
	if len(rl.chains) != 1 {
		t.Fatalf("expected an empty name to reload the file, got %d reloads", len(rl.chains))
	}
	if w.Reloads() != 1 {
		t.Fatalf("expected 1 reload, got %d", w.Reloads())
	}
}

func TestModelWatcher_HandleReloadWithoutFile(t *testing.T) {
	rl := &mockReloader{}
	w := service.NewModelWatcher("", nil, rl, nil)
	if err := w.HandleReloadMessage(context.Background(), "models.reload", []byte(`{"name":""}`)); err != nil {
		t.Fatal(err)
	}
	if rl.all != 1 {
		t.Fatalf("expected InvalidateAll, got %d", rl.all)
	}
}
