package service

import (
	"fmt"
	"math"
	"strings"

	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/config"
	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/domain/application"
)

// Verdict is the routing decision after a scored stage.
type Verdict string

const (
	VerdictContinue Verdict = "continue"
	VerdictRetry    Verdict = "retry"
	VerdictEscalate Verdict = "escalate"
)

// Decision is what the router tells the orchestrator to do. Adjustment is
// merged into the payload before a retry.
type Decision struct {
	Verdict    Verdict
	Confidence float64
	Adjustment application.Delta
	Reason     string
}

// RetryHook builds the payload adjustment for a low-confidence retry.
// attempt counts retries of stage, starting at 1.
type RetryHook func(stage application.Stage, attempt int, payload application.PayloadView) application.Delta

// DefaultRetryHook marks the retry and asks extraction-aware workers for
// their richer mode.
func DefaultRetryHook(stage application.Stage, attempt int, _ application.PayloadView) application.Delta {
	d := application.Delta{}
	d.MustSet("retry."+stage.Name(), attempt)
	d.MustSet("extraction.mode", "rich")
	return d
}

// ConfidenceRouter decides between continuing, retrying and escalating
// based on a stage's confidence.
type ConfidenceRouter struct {
	cfg    config.Router
	hook   RetryHook
	routed map[string]struct{}
}

// NewConfidenceRouter creates a router. A nil hook uses DefaultRetryHook.
func NewConfidenceRouter(cfg config.Router, hook RetryHook) *ConfidenceRouter {
	if hook == nil {
		hook = DefaultRetryHook
	}
	routed := make(map[string]struct{}, len(cfg.Stages))
	for _, s := range cfg.Stages {
		routed[strings.TrimSpace(s)] = struct{}{}
	}
	return &ConfidenceRouter{cfg: cfg, hook: hook, routed: routed}
}

// Routes reports whether stage's confidence is routed at all.
func (r *ConfidenceRouter) Routes(stage application.Stage) bool {
	_, ok := r.routed[stage.Name()]
	return ok
}

// Route decides what happens after stage produced confidence. A nil
// confidence means the stage carries no signal and always continues.
// retriesUsed counts low-confidence retries of stage so far.
func (r *ConfidenceRouter) Route(stage application.Stage, confidence *float64, payload application.PayloadView, retriesUsed int) Decision {
	if confidence == nil {
		return Decision{Verdict: VerdictContinue, Reason: "no confidence signal"}
	}
	c := clamp01(*confidence)
	if !r.Routes(stage) {
		return Decision{Verdict: VerdictContinue, Confidence: c, Reason: "stage not routed"}
	}

	if c >= r.cfg.ContinueThreshold {
		return Decision{
			Verdict:    VerdictContinue,
			Confidence: c,
			Reason:     fmt.Sprintf("confidence %.2f >= %.2f", c, r.cfg.ContinueThreshold),
		}
	}

	budget := r.cfg.BudgetFor(stage.Name())
	if c >= r.cfg.RetryThreshold && retriesUsed < budget {
		return Decision{
			Verdict:    VerdictRetry,
			Confidence: c,
			Adjustment: r.hook(stage, retriesUsed+1, payload),
			Reason:     fmt.Sprintf("confidence %.2f below %.2f, retry %d of %d", c, r.cfg.ContinueThreshold, retriesUsed+1, budget),
		}
	}

	reason := fmt.Sprintf("confidence %.2f below %.2f", c, r.cfg.RetryThreshold)
	if c >= r.cfg.RetryThreshold {
		reason = fmt.Sprintf("confidence %.2f below %.2f, retry budget %d exhausted", c, r.cfg.ContinueThreshold, budget)
	}
	return Decision{Verdict: VerdictEscalate, Confidence: c, Reason: reason}
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
