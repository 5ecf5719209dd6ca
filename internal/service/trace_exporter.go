package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/domain"
	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/domain/trace"
	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/port/messagequeue"
)

// EventPublisher is the subset of messagequeue.Queue the exporter needs.
type EventPublisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

var safeID = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// TraceOption configures a TraceExporter.
type TraceOption func(*TraceExporter)

// WithTracePublisher forwards every event to subject applications.trace.
func WithTracePublisher(p EventPublisher) TraceOption {
	return func(e *TraceExporter) { e.pub = p }
}

// WithTraceBuffer sets the capacity of the async sink queue.
func WithTraceBuffer(n int) TraceOption {
	return func(e *TraceExporter) {
		if n > 0 {
			e.bufSize = n
		}
	}
}

// WithTraceWriteTimeout bounds each publish and file write.
func WithTraceWriteTimeout(d time.Duration) TraceOption {
	return func(e *TraceExporter) { e.writeTimeout = d }
}

// WithTraceLogger sets the logger for persist failures.
func WithTraceLogger(l *slog.Logger) TraceOption {
	return func(e *TraceExporter) { e.log = l }
}

type traceBuffer struct {
	events   []trace.Event
	final    string
	complete bool
	seq      uint64
}

type sinkJob struct {
	event *trace.Event
	id    string
}

// TraceExporter keeps an ordered in-memory record per application and
// exports it as <dir>/<id>.json. Recording never blocks: publishing and
// persisting happen on a background worker, and their failures are logged.
type TraceExporter struct {
	dir          string
	pub          EventPublisher
	log          *slog.Logger
	bufSize      int
	writeTimeout time.Duration
	now          func() time.Time

	mu      sync.Mutex
	records map[string]*traceBuffer
	fileMu  sync.Mutex

	order atomic.Uint64

	sinkMu  sync.RWMutex
	sink    chan sinkJob
	closed  bool
	done    chan struct{}
	dropped atomic.Int64
}

// NewTraceExporter creates the export directory and starts the sink worker.
func NewTraceExporter(dir string, opts ...TraceOption) (*TraceExporter, error) {
	e := &TraceExporter{
		dir:          dir,
		log:          slog.Default(),
		bufSize:      1024,
		writeTimeout: 5 * time.Second,
		now:          time.Now,
		records:      make(map[string]*traceBuffer),
		done:         make(chan struct{}),
	}
	for _, o := range opts {
		o(e)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create trace dir: %w", err)
	}
	e.sink = make(chan sinkJob, e.bufSize)
	go e.run()
	return e, nil
}

// Record appends ev to its application's record. Events are immutable once
// recorded.
func (e *TraceExporter) Record(ev trace.Event) {
	if ev.Seq == 0 {
		ev.Seq = e.order.Add(1)
	}
	e.mu.Lock()
	b := e.buffer(ev.ApplicationID)
	b.events = append(b.events, ev)
	b.seq++
	b.complete = false
	b.final = trace.FinalInProgress
	e.mu.Unlock()

	if e.pub != nil {
		cp := ev
		e.enqueue(sinkJob{event: &cp})
	}
}

// Finish marks the record complete with its final outcome and schedules a
// write to disk.
func (e *TraceExporter) Finish(id, outcome string) {
	e.mu.Lock()
	b := e.buffer(id)
	b.final = outcome
	b.complete = true
	b.seq++
	e.mu.Unlock()

	e.enqueue(sinkJob{id: id})
}

// buffer must be called with e.mu held.
func (e *TraceExporter) buffer(id string) *traceBuffer {
	b, ok := e.records[id]
	if !ok {
		b = &traceBuffer{final: trace.FinalInProgress}
		e.records[id] = b
	}
	return b
}

// Flush exports the current record of id and returns it. In-flight
// applications export a partial record marked incomplete. A failed write is
// logged; the record is still returned.
func (e *TraceExporter) Flush(ctx context.Context, id string) (trace.Record, error) {
	rec, _, ok, err := e.snapshot(id)
	if err != nil {
		return trace.Record{}, err
	}
	if !ok {
		return trace.Record{}, fmt.Errorf("trace %s: %w", id, domain.ErrNotFound)
	}
	if err := e.write(ctx, rec); err != nil {
		e.log.Warn("trace export failed", "application_id", id, "error", err)
	}
	return rec, nil
}

// snapshot merges the on-disk record with buffered events. seq identifies
// the buffer state the record was built from.
func (e *TraceExporter) snapshot(id string) (rec trace.Record, seq uint64, ok bool, err error) {
	if !safeID.MatchString(id) {
		return trace.Record{}, 0, false, fmt.Errorf("trace id %q: %w", id, domain.ErrValidation)
	}

	onDisk, diskOK := e.read(id)

	e.mu.Lock()
	b, memOK := e.records[id]
	var events []trace.Event
	final, complete := trace.FinalInProgress, false
	if memOK {
		events = append(events, b.events...)
		final, complete, seq = b.final, b.complete, b.seq
	}
	e.mu.Unlock()

	if !memOK && !diskOK {
		return trace.Record{}, 0, false, nil
	}
	if !memOK {
		return onDisk, 0, true, nil
	}

	all := mergeEvents(onDisk.Stages, events)
	return trace.Record{
		ApplicationID:   id,
		Stages:          all,
		FinalOutcome:    final,
		Complete:        complete,
		TotalDurationMs: trace.TotalDuration(all),
		ExportedAt:      e.now().UTC(),
	}, seq, true, nil
}

// mergeEvents appends buffered events to those already on disk, skipping
// duplicates, and orders the result.
func mergeEvents(disk, mem []trace.Event) []trace.Event {
	type key struct {
		run     int
		stage   string
		attempt int
		started int64
	}
	seen := make(map[key]struct{}, len(disk))
	out := make([]trace.Event, 0, len(disk)+len(mem))
	for _, ev := range append(append([]trace.Event(nil), disk...), mem...) {
		k := key{ev.Run, ev.Stage, ev.AttemptNumber, ev.StartedAt.UnixNano()}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, ev)
	}
	sort.SliceStable(out, func(i, j int) bool { return trace.Before(out[i], out[j]) })
	return out
}

func (e *TraceExporter) path(id string) string {
	return filepath.Join(e.dir, id+".json")
}

func (e *TraceExporter) read(id string) (trace.Record, bool) {
	data, err := os.ReadFile(e.path(id))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			e.log.Warn("trace read failed", "application_id", id, "error", err)
		}
		return trace.Record{}, false
	}
	var rec trace.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		e.log.Warn("trace file corrupt", "application_id", id, "error", err)
		return trace.Record{}, false
	}
	return rec, true
}

// write replaces <dir>/<id>.json atomically.
func (e *TraceExporter) write(ctx context.Context, rec trace.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal trace: %w", err)
	}

	e.fileMu.Lock()
	defer e.fileMu.Unlock()

	tmp, err := os.CreateTemp(e.dir, rec.ApplicationID+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp trace: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write trace: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync trace: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close trace: %w", err)
	}
	if err := os.Rename(tmp.Name(), e.path(rec.ApplicationID)); err != nil {
		return fmt.Errorf("rename trace: %w", err)
	}
	return nil
}

func (e *TraceExporter) enqueue(j sinkJob) {
	e.sinkMu.RLock()
	defer e.sinkMu.RUnlock()
	if e.closed {
		return
	}
	select {
	case e.sink <- j:
	default:
		n := e.dropped.Add(1)
		e.log.Warn("trace sink full, dropping job", "application_id", j.appID(), "dropped_total", n)
	}
}

func (j sinkJob) appID() string {
	if j.event != nil {
		return j.event.ApplicationID
	}
	return j.id
}

func (e *TraceExporter) run() {
	defer close(e.done)
	for j := range e.sink {
		if j.event != nil {
			e.publish(*j.event)
			continue
		}
		e.persist(j.id)
	}
}

func (e *TraceExporter) publish(ev trace.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		e.log.Warn("marshal trace event", "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), e.writeTimeout)
	defer cancel()
	if err := e.pub.Publish(ctx, messagequeue.SubjectTraceEvent, data); err != nil {
		e.log.Warn("trace publish failed", "application_id", ev.ApplicationID, "error", err)
	}
}

// persist writes a finished record and releases its buffer once nothing
// newer was recorded in the meantime.
func (e *TraceExporter) persist(id string) {
	rec, seq, ok, err := e.snapshot(id)
	if err != nil || !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), e.writeTimeout)
	defer cancel()
	if err := e.write(ctx, rec); err != nil {
		e.log.Warn("trace export failed", "application_id", id, "error", err)
		return
	}

	e.mu.Lock()
	if b, ok := e.records[id]; ok && b.complete && b.seq == seq {
		delete(e.records, id)
	}
	e.mu.Unlock()
}

// Dropped returns how many sink jobs were dropped because the queue was full.
func (e *TraceExporter) Dropped() int64 {
	return e.dropped.Load()
}

// Close stops accepting jobs, drains the sink, and writes every record still
// in memory. Records of unfinished applications are written as incomplete.
func (e *TraceExporter) Close(ctx context.Context) error {
	e.sinkMu.Lock()
	if e.closed {
		e.sinkMu.Unlock()
		return nil
	}
	e.closed = true
	close(e.sink)
	e.sinkMu.Unlock()

	select {
	case <-e.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	e.mu.Lock()
	ids := make([]string, 0, len(e.records))
	for id := range e.records {
		ids = append(ids, id)
	}
	e.mu.Unlock()

	for _, id := range ids {
		rec, _, ok, err := e.snapshot(id)
		if err != nil || !ok {
			continue
		}
		if err := e.write(ctx, rec); err != nil {
			e.log.Warn("trace export failed", "application_id", id, "error", err)
		}
	}
	return nil
}
