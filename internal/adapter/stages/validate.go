package stages

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/domain/application"
	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/port/worker"
)

// Validator checks that documents agree with the applicant and that the
// extracted figures are plausible. Disagreements are critical and reject
// the application; soft findings are recorded as issues.
type Validator struct{}

var _ worker.Worker = (*Validator)(nil)

// NewValidator creates a validator.
func NewValidator() *Validator { return &Validator{} }

// Execute implements worker.Worker.
func (v *Validator) Execute(ctx context.Context, p application.PayloadView) (worker.Result, error) {
	if err := ctx.Err(); err != nil {
		return worker.Result{}, err
	}
	applicant := normalize(p.String(application.FieldApplicantName))

	var names map[string]string
	if p.Has(FieldExtractedNames) {
		if err := p.Decode(FieldExtractedNames, &names); err != nil {
			return worker.Result{}, worker.Fatal(err)
		}
	}
	types := make([]string, 0, len(names))
	for t := range names {
		types = append(types, t)
	}
	sort.Strings(types)

	var mismatched []string
	for _, t := range types {
		if normalize(names[t]) != applicant {
			mismatched = append(mismatched, t)
		}
	}
	if len(mismatched) > 0 {
		return worker.Result{}, worker.Reject(fmt.Errorf("applicant name does not match %s", strings.Join(mismatched, ", ")))
	}

	if f, ok := p.Float(extractedPrefix + "monthly_income"); ok && f < 0 {
		return worker.Result{}, worker.Reject(errors.New("monthly income is negative"))
	}
	if f, ok := p.Float(extractedPrefix + "family_size"); ok && f < 1 {
		return worker.Result{}, worker.Reject(errors.New("family size must be at least 1"))
	}

	issues := []string{}
	if len(names) == 0 {
		issues = append(issues, "no document carries the applicant name")
	}
	if p.String(application.FieldApplicantEmail) == "" {
		issues = append(issues, "no contact email")
	}

	confidence := 1.0
	if len(names) == 0 {
		confidence = 0.5
	}
	d := application.Delta{}
	d.MustSet(FieldValidationPassed, true)
	d.MustSet(FieldValidationIssues, issues)
	return worker.Result{
		Delta:      d,
		Confidence: confidence,
		Scored:     true,
		Summary:    fmt.Sprintf("%d documents agree, %d issues", len(names), len(issues)),
	}, nil
}
