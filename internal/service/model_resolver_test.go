package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/adapter/modelfile"
	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/domain/application"
	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/domain/model"
	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/port/modelloader"
	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/service"
)

// mockLoader loads versions listed in ok and fails the rest.
type mockLoader struct {
	mu    sync.Mutex
	ok    map[string]bool
	calls map[string]int
	delay time.Duration
	panic map[string]bool
}

var _ modelloader.Loader = (*mockLoader)(nil)

func newMockLoader(ok ...string) *mockLoader {
	l := &mockLoader{ok: make(map[string]bool), calls: make(map[string]int), panic: make(map[string]bool)}
	for _, v := range ok {
		l.ok[v] = true
	}
	return l
}

func (l *mockLoader) Load(ctx context.Context, v model.Version) (model.Predictor, error) {
	l.mu.Lock()
	l.calls[v.Version]++
	ok, boom, delay := l.ok[v.Version], l.panic[v.Version], l.delay
	l.mu.Unlock()

	if boom {
		panic("corrupt weights")
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if !ok {
		return nil, errors.New("artifact missing")
	}
	return model.NewRuleBased([]model.Rule{{Feature: "x", Op: "gt", Threshold: 0, Weight: 1}}), nil
}

func (l *mockLoader) callsFor(v string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[v]
}

// logRecorder is a slog.Handler that keeps every record.
type logRecorder struct {
	mu      sync.Mutex
	records []slog.Record
}

func (h *logRecorder) Enabled(context.Context, slog.Level) bool { return true }
func (h *logRecorder) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, r.Clone())
	return nil
}
func (h *logRecorder) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *logRecorder) WithGroup(string) slog.Handler      { return h }

func (h *logRecorder) count(level slog.Level) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, r := range h.records {
		if r.Level == level {
			n++
		}
	}
	return n
}

// attrs returns the string attributes of every record at level.
func (h *logRecorder) attrs(level slog.Level) []map[string]string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []map[string]string
	for _, r := range h.records {
		if r.Level != level {
			continue
		}
		m := make(map[string]string)
		r.Attrs(func(a slog.Attr) bool {
			m[a.Key] = a.Value.String()
			return true
		})
		out = append(out, m)
	}
	return out
}

func chain3() map[string]model.Chain {
	return map[string]model.Chain{
		"eligibility": {
			{Version: "v1", Priority: 3, Path: "v1.json"},
			{Version: "v3", Priority: 1, Path: "v3.json"},
			{Version: "v2", Priority: 2, Path: "v2.json"},
		},
	}
}

func newResolver(t *testing.T, loader modelloader.Loader, opts ...service.ResolverOption) (*service.ModelResolver, *logRecorder) {
	t.Helper()
	rec := &logRecorder{}
	opts = append([]service.ResolverOption{service.WithResolverLogger(slog.New(rec))}, opts...)
	r, err := service.NewModelResolver(loader, chain3(), opts...)
	if err != nil {
		t.Fatalf("NewModelResolver: %v", err)
	}
	return r, rec
}

func TestResolveFallsBackInPriorityOrder(t *testing.T) {
	loader := newMockLoader("v1")
	var fallbacks atomic.Int32
	r, logs := newResolver(t, loader, service.WithFallbackHook(func(_ context.Context, _ string, failed int) {
		fallbacks.Add(int32(failed))
	}))

	b := r.Resolve(context.Background(), "eligibility")
	if b.Version != "v1" || b.Fallback {
		t.Fatalf("expected v1, got %+v", b)
	}
	if n := logs.count(slog.LevelWarn); n != 2 {
		t.Fatalf("expected 2 WARN records, got %d", n)
	}
	if n := logs.count(slog.LevelError); n != 0 {
		t.Fatalf("expected no ERROR records, got %d", n)
	}

	want := []string{"v3", "v2", "v1"}
	if len(b.Attempts) != len(want) {
		t.Fatalf("expected %d attempts, got %d", len(want), len(b.Attempts))
	}
	for i, a := range b.Attempts {
		if a.Version != want[i] {
			t.Fatalf("attempt %d: got %s, want %s", i, a.Version, want[i])
		}
		if a.Success != (i == 2) {
			t.Fatalf("attempt %d: success = %v", i, a.Success)
		}
	}
	if fallbacks.Load() != 2 {
		t.Fatalf("expected fallback hook with 2 failures, got %d", fallbacks.Load())
	}
	warned := logs.attrs(slog.LevelWarn)
	for i, v := range []string{"v3", "v2"} {
		if warned[i]["kind"] != string(application.KindModelLoad) || warned[i]["version"] != v {
			t.Fatalf("WARN %d: unexpected attrs %v", i, warned[i])
		}
	}
	if b.Attempts[0].Error != "load failed" {
		t.Fatalf("attempt error should be a failure class, got %q", b.Attempts[0].Error)
	}

	chain := r.Chain("eligibility")
	if chain[0].Version != "v3" || chain[0].Loadable || !chain[2].Loadable {
		t.Fatalf("unexpected loadable flags: %+v", chain)
	}
}

func TestResolveExhaustionUsesRuleBasedDefault(t *testing.T) {
	r, logs := newResolver(t, newMockLoader())

	b := r.Resolve(context.Background(), "eligibility")
	if b.Version != model.RuleBasedVersion || !b.Fallback || b.Predictor == nil {
		t.Fatalf("expected rule-based default, got %+v", b)
	}
	if n := logs.count(slog.LevelWarn); n != 3 {
		t.Fatalf("expected 3 WARN records, got %d", n)
	}
	if n := logs.count(slog.LevelError); n != 1 {
		t.Fatalf("expected exactly 1 ERROR record, got %d", n)
	}
	last := b.Attempts[len(b.Attempts)-1]
	if last.Version != model.RuleBasedVersion || !last.Success {
		t.Fatalf("expected the default recorded as the final attempt, got %+v", last)
	}
}

func TestResolveUnknownNameUsesDefault(t *testing.T) {
	r, logs := newResolver(t, newMockLoader("v1"))
	b := r.Resolve(context.Background(), "income-verifier")
	if b.Version != model.RuleBasedVersion {
		t.Fatalf("expected default, got %s", b.Version)
	}
	if logs.count(slog.LevelError) != 0 {
		t.Fatal("a name without a chain is not an exhaustion")
	}
}

func TestResolveIsCachedUntilInvalidate(t *testing.T) {
	loader := newMockLoader("v3")
	r, _ := newResolver(t, loader)
	ctx := context.Background()

	for range 3 {
		if b := r.Resolve(ctx, "eligibility"); b.Version != "v3" {
			t.Fatalf("expected v3, got %s", b.Version)
		}
	}
	if n := loader.callsFor("v3"); n != 1 {
		t.Fatalf("expected 1 load, got %d", n)
	}

	r.Invalidate("eligibility")
	if _, ok := r.Bound("eligibility"); ok {
		t.Fatal("expected binding dropped")
	}
	r.Resolve(ctx, "eligibility")
	if n := loader.callsFor("v3"); n != 2 {
		t.Fatalf("expected re-resolution after Invalidate, got %d loads", n)
	}
}

func TestResolveConcurrentCallersShareOneLoad(t *testing.T) {
	loader := newMockLoader("v3")
	loader.delay = 20 * time.Millisecond
	r, _ := newResolver(t, loader)

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if b := r.Resolve(context.Background(), "eligibility"); b.Version != "v3" {
				t.Errorf("expected v3, got %s", b.Version)
			}
		}()
	}
	wg.Wait()
	if n := loader.callsFor("v3"); n != 1 {
		t.Fatalf("expected a single load, got %d", n)
	}
}

func TestResolveCandidateTimeout(t *testing.T) {
	loader := newMockLoader("v3", "v2")
	loader.delay = time.Second
	r, logs := newResolver(t, loader, service.WithLoadTimeout(10*time.Millisecond))

	b := r.Resolve(context.Background(), "eligibility")
	if b.Version != model.RuleBasedVersion {
		t.Fatalf("expected default after timeouts, got %s", b.Version)
	}
	if logs.count(slog.LevelWarn) != 3 {
		t.Fatalf("expected each timed-out candidate logged at WARN")
	}
}

func TestResolvePanickingLoaderIsAFailedCandidate(t *testing.T) {
	loader := newMockLoader("v2")
	loader.panic["v3"] = true
	r, _ := newResolver(t, loader)

	b := r.Resolve(context.Background(), "eligibility")
	if b.Version != "v2" {
		t.Fatalf("expected v2 after panic in v3, got %s", b.Version)
	}
	if b.Attempts[0].Error != "loader panicked" {
		t.Fatalf("unexpected attempt error %q", b.Attempts[0].Error)
	}
}

func TestResolveHidesModelFilePaths(t *testing.T) {
	dir := t.TempDir()
	chains := map[string]model.Chain{
		"eligibility": {{Version: "v2", Priority: 1, Path: "secret/eligibility-v2.json"}},
	}
	r, err := service.NewModelResolver(modelfile.NewLoader(dir), chains,
		service.WithResolverLogger(slog.New(&logRecorder{})))
	if err != nil {
		t.Fatal(err)
	}

	b := r.Resolve(context.Background(), "eligibility")
	if !b.Fallback || b.Attempts[0].Error != "model file missing" {
		t.Fatalf("unexpected binding %+v", b)
	}
	for name, v := range map[string]any{"binding": b, "chain": r.Chain("eligibility")} {
		raw, err := json.Marshal(v)
		if err != nil {
			t.Fatal(err)
		}
		if strings.Contains(string(raw), "secret") || strings.Contains(string(raw), dir) {
			t.Fatalf("%s exposes a model path: %s", name, raw)
		}
	}
}

func TestReloadIsAtomic(t *testing.T) {
	loader := newMockLoader("v3", "v9")
	r, _ := newResolver(t, loader)
	ctx := context.Background()
	r.Resolve(ctx, "eligibility")

	bad := map[string]model.Chain{
		"eligibility": {{Version: "v9", Priority: 1}, {Version: "v8", Priority: 1}},
	}
	if err := r.Reload(bad); err == nil {
		t.Fatal("expected duplicate priorities to be rejected")
	}
	if b, ok := r.Bound("eligibility"); !ok || b.Version != "v3" {
		t.Fatal("rejected reload must leave state untouched")
	}

	good := map[string]model.Chain{"eligibility": {{Version: "v9", Priority: 1}}}
	if err := r.Reload(good); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if b := r.Resolve(ctx, "eligibility"); b.Version != "v9" {
		t.Fatalf("expected v9 after reload, got %s", b.Version)
	}
	if got := r.Names(); len(got) != 1 || got[0] != "eligibility" {
		t.Fatalf("unexpected names %v", got)
	}
}

func TestNewModelResolverRejectsInvalidChain(t *testing.T) {
	_, err := service.NewModelResolver(newMockLoader(), map[string]model.Chain{
		"eligibility": {{Version: model.RuleBasedVersion, Priority: 1}},
	})
	if err == nil {
		t.Fatal("expected reserved version to be rejected")
	}
}
