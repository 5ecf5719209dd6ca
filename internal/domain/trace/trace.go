// Package trace defines the per-application audit record of stage attempts.
package trace

import "time"

// Outcome is the result of one stage attempt.
type Outcome string

const (
	OutcomeSuccess   Outcome = "Success"
	OutcomeRetried   Outcome = "Retried"
	OutcomeEscalated Outcome = "Escalated"
	OutcomeFailed    Outcome = "Failed"
)

// Final outcomes of an exported record.
const (
	FinalCompleted      = "completed"
	FinalFailed         = "failed"
	FinalAwaitingReview = "awaiting_review"
	FinalInProgress     = "in_progress"
)

// Event is one immutable stage attempt. Run distinguishes resubmissions of
// the same application id.
type Event struct {
	ApplicationID string    `json:"applicationId"`
	Run           int       `json:"run"`
	Stage         string    `json:"stage"`
	AttemptNumber int       `json:"attemptNumber"`
	StartedAt     time.Time `json:"startedAt"`
	DurationMs    int64     `json:"durationMs"`
	Outcome       Outcome   `json:"outcome"`
	OutputSummary string    `json:"outputSummary,omitempty"`
	ErrorDetail   *string   `json:"errorDetail"`
	Confidence    *float64  `json:"confidence,omitempty"`
	ModelVersion  string    `json:"modelVersion,omitempty"`
	// Seq is the recording order assigned by the exporter.
	Seq uint64 `json:"seq,omitempty"`
}

// Record is the exported document for one application.
type Record struct {
	ApplicationID   string    `json:"applicationId"`
	Stages          []Event   `json:"stages"`
	FinalOutcome    string    `json:"finalOutcome"`
	Complete        bool      `json:"complete"`
	TotalDurationMs int64     `json:"totalDurationMs"`
	ExportedAt      time.Time `json:"exportedAt"`
}

// Before orders events by run, then attempt start time, then recording
// order. Events without a sequence fall back to the attempt number.
func Before(a, b Event) bool {
	if a.Run != b.Run {
		return a.Run < b.Run
	}
	if !a.StartedAt.Equal(b.StartedAt) {
		return a.StartedAt.Before(b.StartedAt)
	}
	if a.Seq != 0 && b.Seq != 0 {
		return a.Seq < b.Seq
	}
	return a.AttemptNumber < b.AttemptNumber
}

// TotalDuration sums the duration of all events in the record.
func TotalDuration(events []Event) int64 {
	var total int64
	for _, e := range events {
		total += e.DurationMs
	}
	return total
}

// ApplicationKey scopes the event to its application.
func (e Event) ApplicationKey() string { return e.ApplicationID }
