package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	cfotel "github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/adapter/otel"
	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/domain"
	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/domain/application"
	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/domain/trace"
	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/logger"
	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/port/broadcast"
	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/port/messagequeue"
	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/port/worker"
)

const publishTimeout = 5 * time.Second

func (o *Orchestrator) now() time.Time { return o.deps.Now().UTC() }

// process runs one application until it reaches a terminal stage.
func (o *Orchestrator) process(r *run) {
	defer o.wg.Done()

	ctx := logger.WithApplicationID(o.baseCtx, r.id)
	ctx, span := cfotel.StartApplicationSpan(ctx, r.id, r.state.Run)
	defer span.End()

	if err := o.sem.Acquire(ctx, 1); err != nil {
		o.fail(ctx, r, application.KindCancelled, "shut down before processing started")
		o.retire(ctx, r)
		return
	}
	defer o.sem.Release(1)

	for !r.state.Stage.IsTerminal() {
		if r.state.Stage == application.StageIntake {
			if r.cancelled.Load() {
				o.fail(ctx, r, application.KindCancelled, "cancelled before extraction")
				break
			}
			o.advance(ctx, r, "accepted", func(s *application.State) error {
				return s.Transition(application.StageExtracting, "accepted", o.now())
			})
			continue
		}
		o.runStage(ctx, r)
	}
	o.retire(ctx, r)
}

// retire drops the run from the live set and closes its trace. From here
// on queries are served from the store.
func (o *Orchestrator) retire(ctx context.Context, r *run) {
	o.mu.Lock()
	delete(o.live, r.id)
	o.mu.Unlock()
	o.finish(ctx, r)
}

// runStage executes the current work stage until it advances, escalates or
// fails. Attempt numbers count every attempt of the stage in this run.
func (o *Orchestrator) runStage(ctx context.Context, r *run) {
	stage := r.state.Stage
	name := stage.Name()
	transientLeft := o.cfg.RetriesFor(name)
	transientUsed := 0

	for attempt := 1; ; attempt++ {
		if r.cancelled.Load() {
			o.fail(ctx, r, application.KindCancelled, "cancelled before "+name)
			return
		}

		view := r.state.Payload.View()
		started := o.now()
		actx, span := cfotel.StartStageSpan(ctx, name, attempt)
		res, err := o.execute(actx, stage, view)
		elapsed := o.now().Sub(started)
		if err != nil {
			span.RecordError(err)
		}
		span.End()

		ev := trace.Event{
			ApplicationID: r.id,
			Run:           r.state.Run,
			Stage:         name,
			AttemptNumber: attempt,
			StartedAt:     started,
			DurationMs:    elapsed.Milliseconds(),
			OutputSummary: res.Summary,
			ModelVersion:  res.ModelVersion,
		}
		if res.Scored {
			c := res.Confidence
			ev.Confidence = &c
		}

		if r.cancelled.Load() {
			o.record(ctx, ev, trace.OutcomeFailed, "cancelled", elapsed)
			o.fail(ctx, r, application.KindCancelled, "cancelled during "+name)
			return
		}

		if err != nil {
			kind := application.KindWorkerTransient
			switch worker.Classify(err) {
			case worker.ClassFatal:
				kind = application.KindWorkerFatal
			case worker.ClassRejected:
				kind = application.KindValidationRejected
			default:
				if transientUsed < transientLeft {
					transientUsed++
					o.log.WarnContext(ctx, "stage attempt failed, retrying",
						"stage", name, "attempt", attempt, "retry", transientUsed, "error", err)
					o.record(ctx, ev, trace.OutcomeRetried, err.Error(), elapsed)
					msg := application.KindWorkerTransient.Describe()
					if !o.advance(ctx, r, "", func(s *application.State) error {
						at := o.now()
						s.AddError(stage, application.KindWorkerTransient, msg, at)
						s.RecordRetry(attempt, application.KindWorkerTransient, nil, msg, at)
						return nil
					}) {
						return
					}
					_ = o.deps.Sleep(ctx, o.backoff(transientUsed))
					continue
				}
			}
			o.log.ErrorContext(ctx, "stage failed", "stage", name, "attempt", attempt, "kind", kind, "error", err)
			o.record(ctx, ev, trace.OutcomeFailed, err.Error(), elapsed)
			msg := kind.Describe()
			if kind == application.KindValidationRejected {
				msg = err.Error()
			}
			o.fail(ctx, r, kind, msg)
			return
		}

		var confidence *float64
		if res.Scored {
			confidence = ev.Confidence
		}
		d := o.deps.Router.Route(stage, confidence, view, r.state.RetriesOf(stage, application.KindLowConfidence))

		switch d.Verdict {
		case VerdictRetry:
			o.log.InfoContext(ctx, "low confidence, retrying stage", "stage", name, "attempt", attempt, "confidence", d.Confidence)
			o.record(ctx, ev, trace.OutcomeRetried, d.Reason, elapsed)
			c := d.Confidence
			if !o.advance(ctx, r, "", func(s *application.State) error {
				at := o.now()
				s.Merge(stage, d.Adjustment, at)
				s.SetConfidence(stage, c)
				s.RecordRetry(attempt, application.KindLowConfidence, &c, d.Reason, at)
				return nil
			}) {
				return
			}
			continue

		case VerdictEscalate:
			if stage == application.StageAssessing {
				o.log.WarnContext(ctx, "low confidence, escalating to review", "stage", name, "confidence", d.Confidence)
				o.record(ctx, ev, trace.OutcomeEscalated, d.Reason, elapsed)
				o.advance(ctx, r, d.Reason, func(s *application.State) error {
					at := o.now()
					s.Merge(stage, res.Delta, at)
					s.SetConfidence(stage, d.Confidence)
					return s.Escalate(attempt, d.Confidence, d.Reason, at)
				})
				return
			}
			// Only assessment escalates; elsewhere the stage proceeds with the
			// low confidence on record.
			o.log.WarnContext(ctx, "low confidence outside assessment, continuing", "stage", name, "confidence", d.Confidence)
		}

		o.record(ctx, ev, trace.OutcomeSuccess, "", elapsed)
		next := stage.Next()
		o.advance(ctx, r, d.Reason, func(s *application.State) error {
			at := o.now()
			s.Merge(stage, res.Delta, at)
			if res.Scored {
				s.SetConfidence(stage, clamp01(res.Confidence))
			}
			if d.Verdict == VerdictEscalate {
				s.AddError(stage, application.KindLowConfidence, d.Reason, at)
			}
			return s.Transition(next, d.Reason, at)
		})
		return
	}
}

// execute runs the worker of stage. Validation runs together with the
// completeness check and their deltas merge validate first.
func (o *Orchestrator) execute(ctx context.Context, stage application.Stage, view application.PayloadView) (worker.Result, error) {
	w := o.deps.Workers
	switch stage {
	case application.StageExtracting:
		return o.call(ctx, "extract", w.Extract, view)
	case application.StageValidating:
		var (
			g          errgroup.Group
			vres, cres worker.Result
			verr, cerr error
		)
		g.Go(func() error {
			vres, verr = o.call(ctx, "validate", w.Validate, view)
			return nil
		})
		g.Go(func() error {
			cres, cerr = o.call(ctx, "completeness", w.Completeness, view)
			return nil
		})
		_ = g.Wait()
		return mergePair(vres, verr, cres, cerr)
	case application.StageAssessing:
		return o.call(ctx, "assess", w.Assess, view)
	case application.StageRecommending:
		return o.call(ctx, "recommend", w.Recommend, view)
	case application.StageExplaining:
		return o.call(ctx, "explain", w.Explain, view)
	default:
		return worker.Result{}, worker.Fatal(fmt.Errorf("no worker for stage %s", stage))
	}
}

// call runs one worker attempt under the configured timeout. A worker that
// panics fails fatally; one that outlives its timeout fails transiently.
func (o *Orchestrator) call(ctx context.Context, name string, w worker.Worker, view application.PayloadView) (worker.Result, error) {
	if d := o.cfg.TimeoutFor(name); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	type outcome struct {
		res worker.Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: worker.Fatal(fmt.Errorf("%s worker panic: %v", name, p))}
			}
		}()
		res, err := w.Execute(ctx, view)
		done <- outcome{res: res, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return out.res, fmt.Errorf("%s: %w", name, out.err)
		}
		return out.res, nil
	case <-ctx.Done():
		return worker.Result{}, worker.Transient(fmt.Errorf("%s: %w", name, ctx.Err()))
	}
}

// mergePair combines the validate and completeness results. The most severe
// error wins; confidence is the lower of the scored results.
func mergePair(v worker.Result, verr error, c worker.Result, cerr error) (worker.Result, error) {
	if verr != nil || cerr != nil {
		switch {
		case verr == nil:
			return worker.Result{}, cerr
		case cerr == nil:
			return worker.Result{}, verr
		case severity(cerr) > severity(verr):
			return worker.Result{}, cerr
		default:
			return worker.Result{}, verr
		}
	}
	out := worker.Result{Delta: application.MergeDeltas(v.Delta, c.Delta)}
	for _, r := range []worker.Result{v, c} {
		if !r.Scored {
			continue
		}
		if !out.Scored || r.Confidence < out.Confidence {
			out.Confidence = r.Confidence
		}
		out.Scored = true
	}
	var parts []string
	for _, s := range []string{v.Summary, c.Summary} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	out.Summary = strings.Join(parts, "; ")
	return out, nil
}

func severity(err error) int {
	switch worker.Classify(err) {
	case worker.ClassRejected:
		return 2
	case worker.ClassFatal:
		return 1
	default:
		return 0
	}
}

func (o *Orchestrator) backoff(retry int) time.Duration {
	d := o.cfg.BackoffBase
	for i := 1; i < retry; i++ {
		d *= 2
		if o.cfg.BackoffMax > 0 && d >= o.cfg.BackoffMax {
			return o.cfg.BackoffMax
		}
	}
	if o.cfg.BackoffMax > 0 && d > o.cfg.BackoffMax {
		return o.cfg.BackoffMax
	}
	return d
}

// record appends the attempt to the trace and updates stage metrics.
func (o *Orchestrator) record(ctx context.Context, ev trace.Event, outcome trace.Outcome, detail string, elapsed time.Duration) {
	ev.Outcome = outcome
	if detail != "" && outcome != trace.OutcomeSuccess {
		d := detail
		ev.ErrorDetail = &d
	}
	o.deps.Trace.Record(ev)
	if o.deps.Metrics != nil {
		o.deps.Metrics.RecordStage(ctx, ev.Stage, string(outcome), elapsed.Seconds())
	}
}

// advance applies mutate to a copy of the state and commits it. The new
// state becomes visible only after the durable write succeeded. A failed
// commit fails the application and advance reports false.
func (o *Orchestrator) advance(ctx context.Context, r *run, reason string, mutate func(*application.State) error) bool {
	from := r.state.Stage
	next := r.state.Clone()
	if err := mutate(next); err != nil {
		o.log.ErrorContext(ctx, "invalid state change", "stage", from, "error", err)
		o.strand(ctx, r, application.KindWorkerFatal, "invalid state change")
		return false
	}
	if err := o.persist(context.WithoutCancel(ctx), next); err != nil {
		o.log.ErrorContext(ctx, "durable write failed", "stage", from, "error", err)
		r.state.AddError(from, application.KindCacheUnavailable, application.KindCacheUnavailable.Describe(), o.now())
		o.strand(ctx, r, application.KindWorkerFatal, "state could not be persisted")
		return false
	}
	r.state = next
	r.publish(next.Clone())
	if next.Stage != from {
		o.announce(ctx, next, from, reason)
	}
	return true
}

// fail moves the application to Failed.
func (o *Orchestrator) fail(ctx context.Context, r *run, kind application.ErrorKind, msg string) {
	if r.state.Stage.IsTerminal() {
		return
	}
	o.advance(ctx, r, string(kind), func(s *application.State) error {
		return s.Fail(kind, msg, o.now())
	})
}

// strand fails the application after a commit could not be made. The final
// state is written once more; when that fails too it is kept in memory so
// status queries still see the failure.
func (o *Orchestrator) strand(ctx context.Context, r *run, kind application.ErrorKind, msg string) {
	from := r.state.Stage
	if from.IsTerminal() {
		return
	}
	if err := r.state.Fail(kind, msg, o.now()); err != nil {
		o.log.ErrorContext(ctx, "cannot fail application", "stage", from, "error", err)
		return
	}
	if err := o.persist(context.WithoutCancel(ctx), r.state); err != nil {
		o.log.ErrorContext(ctx, "final state not persisted", "error", err)
		o.mu.Lock()
		o.stranded[r.id] = r.state.Clone()
		o.mu.Unlock()
	}
	r.publish(r.state.Clone())
	o.announce(ctx, r.state, from, string(kind))
}

// finish closes the trace of a terminal application and records the outcome.
func (o *Orchestrator) finish(ctx context.Context, r *run) {
	s := r.state
	var final, metric string
	switch s.Stage {
	case application.StageCompleted:
		final, metric = trace.FinalCompleted, cfotel.OutcomeCompleted
	case application.StageAwaitingReview:
		final, metric = trace.FinalAwaitingReview, cfotel.OutcomeEscalated
	default:
		final, metric = trace.FinalFailed, cfotel.OutcomeFailed
	}
	o.deps.Trace.Finish(r.id, final)
	if o.deps.Metrics != nil {
		o.deps.Metrics.RecordOutcome(ctx, metric)
	}
	st := s.Status()
	o.log.InfoContext(ctx, "application finished", "run", s.Run, "outcome", final, "reason", st.Reason)
}

// announce pushes the transition to websocket clients and the queue.
func (o *Orchestrator) announce(ctx context.Context, s *application.State, from application.Stage, reason string) {
	p := messagequeue.TransitionPayload{
		ApplicationID: s.ID,
		Run:           s.Run,
		From:          string(from),
		To:            string(s.Stage),
		Confidence:    make(map[string]float64, len(s.ConfidenceScores)),
		Reason:        reason,
		At:            s.UpdatedAt,
	}
	for k, v := range s.ConfidenceScores {
		p.Confidence[k] = v
	}
	if s.Stage == application.StageFailed {
		p.Reason = s.Status().Reason
	}

	if o.deps.Broadcaster != nil {
		o.deps.Broadcaster.BroadcastEvent(ctx, broadcast.EventTransition, p)
	}
	if o.deps.Publisher == nil {
		return
	}
	data, err := json.Marshal(p)
	if err != nil {
		o.log.WarnContext(ctx, "marshal transition", "error", err)
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := o.deps.Publisher.Publish(pctx, messagequeue.SubjectApplicationTransition, data); err != nil {
		o.log.WarnContext(ctx, "publish transition", "to", p.To, "error", err)
	}
}

// HandleSubmitMessage is the queue handler for applications.submit.
// Invalid or conflicting submissions are acknowledged and dropped.
func (o *Orchestrator) HandleSubmitMessage(ctx context.Context, _ string, data []byte) error {
	var req messagequeue.SubmitPayload
	if err := json.Unmarshal(data, &req); err != nil {
		o.log.WarnContext(ctx, "discarding malformed submission", "error", err)
		return nil
	}
	id, err := o.Submit(ctx, req)
	switch {
	case err == nil:
		o.log.InfoContext(ctx, "submission accepted from queue", "application_id", id)
		return nil
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrConflict):
		o.log.WarnContext(ctx, "submission rejected", "error", err)
		return nil
	default:
		return err
	}
}
