package application

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// ErrorKind classifies errors recorded against an application.
type ErrorKind string

const (
	KindInvalidInput       ErrorKind = "InvalidInput"
	KindWorkerTransient    ErrorKind = "WorkerTransientError"
	KindWorkerFatal        ErrorKind = "WorkerFatalError"
	KindModelLoad          ErrorKind = "ModelLoadError"
	KindLowConfidence      ErrorKind = "LowConfidence"
	KindCacheUnavailable   ErrorKind = "CacheUnavailable"
	KindTraceWrite         ErrorKind = "TraceWriteError"
	KindCancelled          ErrorKind = "Cancelled"
	KindValidationRejected ErrorKind = "ValidationRejected"
)

var kindMessages = map[ErrorKind]string{
	KindInvalidInput:       "input rejected",
	KindWorkerTransient:    "stage worker failed transiently",
	KindWorkerFatal:        "stage worker failed",
	KindModelLoad:          "model could not be loaded",
	KindLowConfidence:      "confidence below threshold",
	KindCacheUnavailable:   "durable store unavailable",
	KindTraceWrite:         "trace write failed",
	KindCancelled:          "cancelled",
	KindValidationRejected: "rejected by validation",
}

// Describe returns the user-facing message for k. Raw causes stay in logs
// and traces.
func (k ErrorKind) Describe() string {
	if m, ok := kindMessages[k]; ok {
		return m
	}
	return "processing error"
}

// ErrorRecord is one entry of the append-only error log.
type ErrorRecord struct {
	Stage   Stage     `json:"stage"`
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// HistoryKind distinguishes the entries of the audit history.
type HistoryKind string

const (
	HistoryTransition HistoryKind = "transition"
	HistoryRetry      HistoryKind = "retry"
	HistoryEscalation HistoryKind = "escalation"
	HistoryOverwrite  HistoryKind = "overwrite"
)

// HistoryEvent is one audit record. Transition, retry and escalation events
// carry From/To; overwrite events carry Field/Previous.
type HistoryEvent struct {
	Kind       HistoryKind     `json:"kind"`
	From       Stage           `json:"from,omitempty"`
	To         Stage           `json:"to,omitempty"`
	Attempt    int             `json:"attempt,omitempty"`
	Tag        ErrorKind       `json:"tag,omitempty"`
	Confidence *float64        `json:"confidence,omitempty"`
	Field      string          `json:"field,omitempty"`
	Previous   json.RawMessage `json:"previous,omitempty"`
	Reason     string          `json:"reason,omitempty"`
	At         time.Time       `json:"at"`
}

// State is the unit of work flowing through the pipeline.
type State struct {
	ID               string             `json:"id"`
	Run              int                `json:"run"`
	Stage            Stage              `json:"stage"`
	Payload          Payload            `json:"payload"`
	ConfidenceScores map[string]float64 `json:"confidence_scores"`
	Errors           []ErrorRecord      `json:"errors"`
	History          []HistoryEvent     `json:"history"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
	FinishedAt       *time.Time         `json:"finished_at,omitempty"`
}

// New creates an application in the Intake stage seeded with the submitted fields.
func New(id string, run int, seed Delta, now time.Time) *State {
	s := &State{
		ID:               id,
		Run:              run,
		Stage:            StageIntake,
		Payload:          make(Payload, len(seed)),
		ConfidenceScores: make(map[string]float64),
		Errors:           []ErrorRecord{},
		History:          []HistoryEvent{},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	for _, k := range seed.Keys() {
		s.Payload[k] = Field{Value: seed[k], Stage: StageIntake, WrittenAt: now}
	}
	return s
}

// Transition moves the application to the next stage, enforcing the state
// graph and terminal immutability.
func (s *State) Transition(to Stage, reason string, at time.Time) error {
	if s.Stage.IsTerminal() {
		return fmt.Errorf("application %s is %s: immutable", s.ID, s.Stage)
	}
	if err := ValidateTransition(s.Stage, to); err != nil {
		return err
	}
	s.History = append(s.History, HistoryEvent{
		Kind:   HistoryTransition,
		From:   s.Stage,
		To:     to,
		Reason: reason,
		At:     at,
	})
	s.Stage = to
	s.UpdatedAt = at
	if to == StageCompleted || to == StageFailed {
		t := at
		s.FinishedAt = &t
	}
	return nil
}

// RecordRetry appends an explicit retry record for re-entering the current stage.
func (s *State) RecordRetry(attempt int, tag ErrorKind, confidence *float64, reason string, at time.Time) {
	s.History = append(s.History, HistoryEvent{
		Kind:       HistoryRetry,
		From:       s.Stage,
		To:         s.Stage,
		Attempt:    attempt,
		Tag:        tag,
		Confidence: confidence,
		Reason:     reason,
		At:         at,
	})
	s.UpdatedAt = at
}

// Escalate records a low-confidence escalation and moves to AwaitingReview.
func (s *State) Escalate(attempt int, confidence float64, reason string, at time.Time) error {
	if err := ValidateTransition(s.Stage, StageAwaitingReview); err != nil {
		return err
	}
	c := confidence
	s.History = append(s.History, HistoryEvent{
		Kind:       HistoryEscalation,
		From:       s.Stage,
		To:         StageAwaitingReview,
		Attempt:    attempt,
		Tag:        KindLowConfidence,
		Confidence: &c,
		Reason:     reason,
		At:         at,
	})
	s.Stage = StageAwaitingReview
	s.UpdatedAt = at
	return nil
}

// Fail records the error and moves to Failed.
func (s *State) Fail(kind ErrorKind, message string, at time.Time) error {
	stage := s.Stage
	s.AddError(stage, kind, message, at)
	return s.Transition(StageFailed, string(kind), at)
}

// AddError appends to the error log.
func (s *State) AddError(stage Stage, kind ErrorKind, message string, at time.Time) {
	s.Errors = append(s.Errors, ErrorRecord{Stage: stage, Kind: kind, Message: message, At: at})
	s.UpdatedAt = at
}

// Merge applies a worker delta produced in stage. New fields are added;
// fields whose value changes get an overwrite history entry carrying the
// previous value. Identical rewrites are no-ops.
func (s *State) Merge(stage Stage, d Delta, at time.Time) {
	if s.Payload == nil {
		s.Payload = make(Payload, len(d))
	}
	for _, k := range d.Keys() {
		v := d[k]
		if prev, ok := s.Payload[k]; ok {
			if sameJSON(prev.Value, v) {
				continue
			}
			s.History = append(s.History, HistoryEvent{
				Kind:     HistoryOverwrite,
				From:     prev.Stage,
				To:       stage,
				Field:    k,
				Previous: prev.Value,
				At:       at,
			})
		}
		s.Payload[k] = Field{Value: append(json.RawMessage(nil), v...), Stage: stage, WrittenAt: at}
	}
	s.UpdatedAt = at
}

// SetConfidence stores the confidence a stage attached to its output.
func (s *State) SetConfidence(stage Stage, c float64) {
	if s.ConfidenceScores == nil {
		s.ConfidenceScores = make(map[string]float64)
	}
	s.ConfidenceScores[stage.Name()] = c
}

// RetriesOf counts retry records for stage tagged with tag ("" matches any).
func (s *State) RetriesOf(stage Stage, tag ErrorKind) int {
	n := 0
	for i := range s.History {
		h := &s.History[i]
		if h.Kind == HistoryRetry && h.From == stage && (tag == "" || h.Tag == tag) {
			n++
		}
	}
	return n
}

// StagePath returns the sequence of stages visited, starting with the
// initial stage, including retry re-entries.
func (s *State) StagePath() []Stage {
	path := []Stage{StageIntake}
	for i := range s.History {
		h := &s.History[i]
		switch h.Kind {
		case HistoryTransition, HistoryEscalation, HistoryRetry:
			path = append(path, h.To)
		}
	}
	return path
}

// Clone returns a deep copy. Snapshots handed to callers are clones.
// Redacted returns a copy whose error log carries only kind-level messages.
// Business rejections keep their reason.
func (s *State) Redacted() *State {
	c := s.Clone()
	if c == nil {
		return nil
	}
	for i := range c.Errors {
		if c.Errors[i].Kind != KindValidationRejected {
			c.Errors[i].Message = c.Errors[i].Kind.Describe()
		}
	}
	return c
}

func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	out := *s
	out.Payload = s.Payload.clone()
	out.ConfidenceScores = make(map[string]float64, len(s.ConfidenceScores))
	for k, v := range s.ConfidenceScores {
		out.ConfidenceScores[k] = v
	}
	out.Errors = append([]ErrorRecord(nil), s.Errors...)
	out.History = make([]HistoryEvent, len(s.History))
	for i, h := range s.History {
		if h.Confidence != nil {
			c := *h.Confidence
			h.Confidence = &c
		}
		h.Previous = append(json.RawMessage(nil), h.Previous...)
		out.History[i] = h
	}
	if s.FinishedAt != nil {
		t := *s.FinishedAt
		out.FinishedAt = &t
	}
	return &out
}

// Status is the user-facing projection of a State. It never carries raw
// error messages, only kinds and stage names.
type Status struct {
	ID                   string             `json:"id"`
	Run                  int                `json:"run"`
	Stage                Stage              `json:"stage"`
	Confidence           map[string]float64 `json:"confidence"`
	Outcome              string             `json:"outcome,omitempty"`
	Reason               string             `json:"reason,omitempty"`
	EscalationConfidence *float64           `json:"escalation_confidence,omitempty"`
	UpdatedAt            time.Time          `json:"updated_at"`
}

// Status builds the user-facing view.
func (s *State) Status() Status {
	st := Status{
		ID:         s.ID,
		Run:        s.Run,
		Stage:      s.Stage,
		Confidence: make(map[string]float64, len(s.ConfidenceScores)),
		UpdatedAt:  s.UpdatedAt,
	}
	for k, v := range s.ConfidenceScores {
		st.Confidence[k] = v
	}
	switch s.Stage {
	case StageCompleted:
		st.Outcome = "completed"
	case StageFailed:
		st.Outcome = "failed"
		if n := len(s.Errors); n > 0 {
			last := s.Errors[n-1]
			st.Reason = fmt.Sprintf("%s during %s", last.Kind, last.Stage.Name())
		}
	case StageAwaitingReview:
		st.Outcome = "awaiting_review"
		for i := len(s.History) - 1; i >= 0; i-- {
			if s.History[i].Kind == HistoryEscalation && s.History[i].Confidence != nil {
				c := *s.History[i].Confidence
				st.EscalationConfidence = &c
				st.Reason = fmt.Sprintf("%s during %s", KindLowConfidence, s.History[i].From.Name())
				break
			}
		}
	}
	return st
}

// ConfidenceStages returns the stage names with a recorded confidence, sorted.
func (s *State) ConfidenceStages() []string {
	keys := make([]string, 0, len(s.ConfidenceScores))
	for k := range s.ConfidenceScores {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
