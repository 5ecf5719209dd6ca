package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	cfotel "github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/adapter/otel"
	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/config"
	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/domain"
	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/domain/application"
	cachedom "github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/domain/cache"
	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/domain/trace"
	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/port/broadcast"
	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/port/worker"
)

// ErrShuttingDown is returned by Submit once Close has been called.
var ErrShuttingDown = errors.New("orchestrator is shutting down")

var applicationIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,128}$`)

// StateStore is the cache hierarchy as seen by the orchestrator.
type StateStore interface {
	Get(ctx context.Context, key string) (cachedom.Entry, bool, error)
	Put(ctx context.Context, key string, value []byte, hint cachedom.Hint) error
}

// TraceRecorder receives stage attempts and exports per-application records.
type TraceRecorder interface {
	Record(ev trace.Event)
	Finish(id, outcome string)
	Flush(ctx context.Context, id string) (trace.Record, error)
}

// Router decides what happens after a scored stage.
type Router interface {
	Route(stage application.Stage, confidence *float64, payload application.PayloadView, retriesUsed int) Decision
}

// Workers holds one worker per stage. Completeness runs alongside Validate.
type Workers struct {
	Extract      worker.Worker
	Validate     worker.Worker
	Completeness worker.Worker
	Assess       worker.Worker
	Recommend    worker.Worker
	Explain      worker.Worker
}

func (w Workers) validate() error {
	for name, wk := range map[string]worker.Worker{
		"extract": w.Extract, "validate": w.Validate, "completeness": w.Completeness,
		"assess": w.Assess, "recommend": w.Recommend, "explain": w.Explain,
	} {
		if wk == nil {
			return fmt.Errorf("worker %s is required", name)
		}
	}
	return nil
}

// Deps are the orchestrator's collaborators. Store, Workers, Router and
// Trace are required.
type Deps struct {
	Store       StateStore
	Workers     Workers
	Router      Router
	Trace       TraceRecorder
	Broadcaster broadcast.Broadcaster
	Publisher   EventPublisher
	Metrics     *cfotel.Metrics
	Logger      *slog.Logger
	Now         func() time.Time
	NewID       func() string
	// Sleep waits between retries; it returns early with ctx's error.
	Sleep func(ctx context.Context, d time.Duration) error
}

// run is one in-flight pipeline execution.
type run struct {
	id        string
	state     *application.State
	cancelled atomic.Bool

	mu       sync.RWMutex
	snapshot *application.State
}

func (r *run) publish(s *application.State) {
	r.mu.Lock()
	r.snapshot = s
	r.mu.Unlock()
}

func (r *run) view() *application.State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshot.Clone()
}

// Orchestrator drives applications through the stage pipeline, one
// goroutine per in-flight application.
type Orchestrator struct {
	deps Deps
	cfg  config.Pipeline
	log  *slog.Logger
	sem  *semaphore.Weighted

	baseCtx context.Context
	stop    context.CancelFunc

	mu       sync.Mutex
	live     map[string]*run
	stranded map[string]*application.State
	closed   bool
	wg       sync.WaitGroup
}

// NewOrchestrator validates deps and creates an orchestrator.
func NewOrchestrator(deps Deps, cfg config.Pipeline) (*Orchestrator, error) {
	if deps.Store == nil || deps.Router == nil || deps.Trace == nil {
		return nil, errors.New("orchestrator: store, router and trace are required")
	}
	if err := deps.Workers.validate(); err != nil {
		return nil, fmt.Errorf("orchestrator: %w", err)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.NewID == nil {
		deps.NewID = uuid.NewString
	}
	if deps.Sleep == nil {
		deps.Sleep = sleepCtx
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 1
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Orchestrator{
		deps:     deps,
		cfg:      cfg,
		log:      deps.Logger,
		sem:      semaphore.NewWeighted(int64(cfg.MaxInFlight)),
		baseCtx:  ctx,
		stop:     stop,
		live:     make(map[string]*run),
		stranded: make(map[string]*application.State),
	}, nil
}

func stateKey(id string) string { return "application/" + id }

func archiveKey(id string, runNo int) string {
	return fmt.Sprintf("application/%s/runs/%d", id, runNo)
}

// Submit validates req, persists the new application in Intake and starts
// processing asynchronously. It returns once Intake is durable. A request
// carrying an application id resubmits that application; only Failed
// applications can be resubmitted.
func (o *Orchestrator) Submit(ctx context.Context, req application.SubmitRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	seed, err := req.Seed()
	if err != nil {
		return "", fmt.Errorf("seed payload: %w", domain.ErrValidation)
	}

	id := req.ApplicationID
	resubmit := id != ""
	if resubmit && !applicationIDPattern.MatchString(id) {
		return "", fmt.Errorf("application_id %q is malformed: %w", id, domain.ErrValidation)
	}
	if !resubmit {
		id = o.deps.NewID()
	}

	r := &run{id: id}
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return "", ErrShuttingDown
	}
	if _, busy := o.live[id]; busy {
		o.mu.Unlock()
		return "", fmt.Errorf("application %s is in flight: %w", id, domain.ErrConflict)
	}
	o.live[id] = r
	o.mu.Unlock()

	release := func() {
		o.mu.Lock()
		delete(o.live, id)
		o.mu.Unlock()
	}

	runNo := 1
	if resubmit {
		prev, err := o.load(ctx, id)
		if err != nil {
			release()
			return "", err
		}
		if prev.Stage != application.StageFailed {
			release()
			return "", fmt.Errorf("application %s is %s: %w", id, prev.Stage, domain.ErrConflict)
		}
		if err := o.archive(ctx, prev); err != nil {
			release()
			return "", err
		}
		o.mu.Lock()
		delete(o.stranded, id)
		o.mu.Unlock()
		runNo = prev.Run + 1
	}

	r.state = application.New(id, runNo, seed, o.deps.Now())
	if err := o.persist(ctx, r.state); err != nil {
		release()
		return "", err
	}
	r.publish(r.state.Clone())

	o.log.InfoContext(ctx, "application submitted", "application_id", id, "run", runNo, "resubmit", resubmit)
	if o.deps.Metrics != nil {
		o.deps.Metrics.RecordOutcome(ctx, cfotel.OutcomeSubmitted)
	}
	o.announce(ctx, r.state, "", "submitted")

	o.wg.Add(1)
	go o.process(r)
	return id, nil
}

func (o *Orchestrator) archive(ctx context.Context, prev *application.State) error {
	data, err := json.Marshal(prev)
	if err != nil {
		return fmt.Errorf("marshal archived run: %w", err)
	}
	if err := o.deps.Store.Put(ctx, archiveKey(prev.ID, prev.Run), data, cachedom.TierDurable); err != nil {
		return fmt.Errorf("archive run %d of %s: %w", prev.Run, prev.ID, err)
	}
	return nil
}

// GetState returns a snapshot of the application's full state.
func (o *Orchestrator) GetState(ctx context.Context, id string) (*application.State, error) {
	o.mu.Lock()
	r, ok := o.live[id]
	o.mu.Unlock()
	if ok {
		if s := r.view(); s != nil {
			return s, nil
		}
	}
	return o.load(ctx, id)
}

// Status returns the user-facing projection of the application.
func (o *Orchestrator) Status(ctx context.Context, id string) (application.Status, error) {
	s, err := o.GetState(ctx, id)
	if err != nil {
		return application.Status{}, err
	}
	return s.Status(), nil
}

// Cancel asks an in-flight application to stop. The running worker finishes
// first; the application then fails with reason Cancelled.
func (o *Orchestrator) Cancel(ctx context.Context, id string) error {
	o.mu.Lock()
	r, ok := o.live[id]
	o.mu.Unlock()
	if ok {
		if s := r.view(); s != nil && s.Stage.IsTerminal() {
			return fmt.Errorf("application %s is %s: %w", id, s.Stage, domain.ErrConflict)
		}
		r.cancelled.Store(true)
		o.log.InfoContext(ctx, "cancellation requested", "application_id", id)
		return nil
	}
	s, err := o.load(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("application %s is %s: %w", id, s.Stage, domain.ErrConflict)
}

// Trace exports and returns the trace record of the application.
func (o *Orchestrator) Trace(ctx context.Context, id string) (trace.Record, error) {
	return o.deps.Trace.Flush(ctx, id)
}

// InFlight returns the number of applications currently being processed.
func (o *Orchestrator) InFlight() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.live)
}

// Close stops accepting submissions and waits for in-flight applications.
// When ctx expires first, every remaining application is cancelled and
// Close waits for the cancellations to land.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		o.stop()
		return nil
	case <-ctx.Done():
	}

	o.mu.Lock()
	for _, r := range o.live {
		r.cancelled.Store(true)
	}
	o.mu.Unlock()
	o.stop()
	<-done
	return ctx.Err()
}

func (o *Orchestrator) load(ctx context.Context, id string) (*application.State, error) {
	o.mu.Lock()
	s, ok := o.stranded[id]
	o.mu.Unlock()
	if ok {
		return s.Clone(), nil
	}
	e, ok, err := o.deps.Store.Get(ctx, stateKey(id))
	if err != nil {
		return nil, fmt.Errorf("load application %s: %w", id, err)
	}
	if !ok {
		return nil, fmt.Errorf("application %s: %w", id, domain.ErrNotFound)
	}
	var st application.State
	if err := json.Unmarshal(e.Value, &st); err != nil {
		return nil, fmt.Errorf("decode application %s: %w", id, err)
	}
	return &st, nil
}

func (o *Orchestrator) persist(ctx context.Context, s *application.State) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal application %s: %w", s.ID, err)
	}
	return o.deps.Store.Put(ctx, stateKey(s.ID), data, cachedom.TierHot)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
