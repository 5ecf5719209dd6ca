// Package worker defines the stage worker port and the error classification
// the orchestrator uses to decide between retrying and failing.
package worker

import (
	"context"
	"errors"

	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/domain/application"
)

// Result is what a worker proposes for the application. Scored is false for
// stages that carry no confidence signal.
type Result struct {
	Delta        application.Delta
	Confidence   float64
	Scored       bool
	Summary      string
	ModelVersion string
}

// Worker executes one pipeline stage. It reads the payload view and returns
// a delta; it must not mutate shared state.
type Worker interface {
	Execute(ctx context.Context, payload application.PayloadView) (Result, error)
}

// Func adapts a function to Worker.
type Func func(ctx context.Context, payload application.PayloadView) (Result, error)

// Execute calls f.
func (f Func) Execute(ctx context.Context, payload application.PayloadView) (Result, error) {
	return f(ctx, payload)
}

// Class is the retry classification of a worker error.
type Class int

const (
	ClassTransient Class = iota
	ClassFatal
	ClassRejected
)

type classified struct {
	class Class
	err   error
}

func (c *classified) Error() string { return c.err.Error() }
func (c *classified) Unwrap() error { return c.err }

// Transient marks err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &classified{class: ClassTransient, err: err}
}

// Fatal marks err as not retryable.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &classified{class: ClassFatal, err: err}
}

// Reject marks err as a business rejection of the application, for example a
// critical validation issue. It is not retried.
func Reject(err error) error {
	if err == nil {
		return nil
	}
	return &classified{class: ClassRejected, err: err}
}

// Classify returns the classification of err. Unclassified errors are
// transient.
func Classify(err error) Class {
	var c *classified
	if errors.As(err, &c) {
		return c.class
	}
	return ClassTransient
}
