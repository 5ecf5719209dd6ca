package logger

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/config"
)

// stageSink collects the message and stage attribute of each record it
// handles. hold, when set, blocks every Handle until it is closed.
type stageSink struct {
	mu     sync.Mutex
	lines  []string
	stage  string
	parent *stageSink
	hold   chan struct{}
}

func (s *stageSink) root() *stageSink {
	if s.parent != nil {
		return s.parent
	}
	return s
}

func (s *stageSink) Enabled(context.Context, slog.Level) bool { return true }

func (s *stageSink) Handle(_ context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	r := s.root()
	if r.hold != nil {
		<-r.hold
	}
	line := rec.Message
	if s.stage != "" {
		line = s.stage + ":" + line
	}
	r.mu.Lock()
	r.lines = append(r.lines, line)
	r.mu.Unlock()
	return nil
}

func (s *stageSink) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := &stageSink{stage: s.stage, parent: s.root()}
	for _, a := range attrs {
		if a.Key == "stage" {
			out.stage = a.Value.String()
		}
	}
	return out
}

func (s *stageSink) WithGroup(string) slog.Handler { return s }

func (s *stageSink) snapshot() []string {
	r := s.root()
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}

func TestAsyncHandler_SingleWorkerKeepsStageOrder(t *testing.T) {
	sink := &stageSink{}
	ah := NewAsyncHandler(sink, 16, 1)
	l := slog.New(ah)

	for _, stage := range []string{"extract", "validate", "assess", "recommend", "explain"} {
		l.With("stage", stage).Info("stage finished")
	}
	ah.Close()

	got := sink.snapshot()
	want := []string{
		"extract:stage finished",
		"validate:stage finished",
		"assess:stage finished",
		"recommend:stage finished",
		"explain:stage finished",
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d lines, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("line %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestAsyncHandler_BlockedSinkDropsOverflow(t *testing.T) {
	sink := &stageSink{hold: make(chan struct{})}
	ah := NewAsyncHandler(sink, 2, 1)
	l := slog.New(ah)

	// One record parks in the worker and two fill the buffer; the rest drop.
	for i := range 10 {
		l.Info("retry scheduled", "attempt", i)
	}
	deadline := time.Now().Add(2 * time.Second)
	for ah.DroppedCount() < 7 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	close(sink.hold)
	ah.Close()

	kept := len(sink.snapshot())
	if dropped := ah.DroppedCount(); int64(kept)+dropped != 10 {
		t.Fatalf("kept %d + dropped %d should account for every record", kept, dropped)
	}
	if kept > 3 {
		t.Fatalf("expected at most 3 records to survive a blocked sink, got %d", kept)
	}
}

func TestAsyncHandler_LateRecordsAreCounted(t *testing.T) {
	sink := &stageSink{}
	ah := NewAsyncHandler(sink, 4, 2)
	derived := slog.New(ah).With("stage", "explain")

	derived.Info("explanation written")
	ah.Close()
	ah.Close()
	derived.Info("after shutdown")

	if got := sink.snapshot(); len(got) != 1 || got[0] != "explain:explanation written" {
		t.Fatalf("unexpected lines %v", got)
	}
	if ah.DroppedCount() != 1 {
		t.Fatalf("expected the post-close record counted as dropped, got %d", ah.DroppedCount())
	}
}

func TestAsyncLogger_ApplicationIDSurvivesQueue(t *testing.T) {
	var buf bytes.Buffer
	var mu sync.Mutex
	w := writerFunc(func(p []byte) (int, error) {
		mu.Lock()
		defer mu.Unlock()
		return buf.Write(p)
	})
	l, closer := newWithWriter(config.Logging{Level: "info", Service: "eligibility", Async: true, BufferSize: 1024, Workers: 4}, w)

	const apps = 20
	var wg sync.WaitGroup
	for i := range apps {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := fmt.Sprintf("app-%02d", i)
			ctx, cancel := context.WithCancel(WithApplicationID(context.Background(), id))
			l.InfoContext(ctx, "stage started", "stage", "extract", "expect", id)
			// The drain workers never see the caller's context.
			cancel()
		}()
	}
	wg.Wait()
	closer.Close()

	seen := map[string]bool{}
	sc := bufio.NewScanner(&buf)
	for sc.Scan() {
		var rec map[string]any
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			t.Fatalf("decode %q: %v", sc.Text(), err)
		}
		if rec["application_id"] != rec["expect"] {
			t.Fatalf("record tagged %v, logged for %v", rec["application_id"], rec["expect"])
		}
		seen[rec["application_id"].(string)] = true
	}
	if len(seen) != apps {
		t.Fatalf("expected %d applications in the log, got %d", apps, len(seen))
	}
}

type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }
