package stages

import (
	"context"
	"fmt"

	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/domain/application"
	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/port/worker"
)

// CompletenessChecker reports required document types that were not
// submitted. Missing documents do not fail the application; Recommend turns
// them into conditions.
type CompletenessChecker struct {
	required []string
}

var _ worker.Worker = (*CompletenessChecker)(nil)

// NewCompletenessChecker creates a checker for the required document types.
func NewCompletenessChecker(required []string) *CompletenessChecker {
	return &CompletenessChecker{required: append([]string(nil), required...)}
}

// Execute implements worker.Worker.
func (c *CompletenessChecker) Execute(ctx context.Context, p application.PayloadView) (worker.Result, error) {
	if err := ctx.Err(); err != nil {
		return worker.Result{}, err
	}
	docs, err := documents(p)
	if err != nil {
		return worker.Result{}, worker.Fatal(err)
	}
	have := make(map[string]bool, len(docs))
	for _, d := range docs {
		have[normalize(d.Type)] = true
	}
	missing := []string{}
	for _, r := range c.required {
		if !have[normalize(r)] {
			missing = append(missing, r)
		}
	}

	confidence := 1.0
	if len(c.required) > 0 {
		confidence = float64(len(c.required)-len(missing)) / float64(len(c.required))
	}
	d := application.Delta{}
	d.MustSet(FieldCompletenessMissing, missing)
	d.MustSet(FieldCompletenessComplete, len(missing) == 0)
	return worker.Result{
		Delta:      d,
		Confidence: confidence,
		Scored:     true,
		Summary:    fmt.Sprintf("%d of %d required documents present", len(c.required)-len(missing), len(c.required)),
	}, nil
}
