package stages

import (
	"context"
	"errors"
	"fmt"

	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/domain/application"
	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/port/worker"
)

// Recommender maps the assessment score onto a decision band. Missing
// documents downgrade an approval to a conditional one.
type Recommender struct {
	approve     float64
	conditional float64
}

var _ worker.Worker = (*Recommender)(nil)

// NewRecommender creates a recommender with the given band floors.
func NewRecommender(approve, conditional float64) *Recommender {
	return &Recommender{approve: approve, conditional: conditional}
}

// Execute implements worker.Worker.
func (r *Recommender) Execute(ctx context.Context, p application.PayloadView) (worker.Result, error) {
	if err := ctx.Err(); err != nil {
		return worker.Result{}, err
	}
	score, ok := p.Float(FieldAssessmentScore)
	if !ok {
		return worker.Result{}, worker.Fatal(errors.New("assessment score missing"))
	}
	var missing []string
	if p.Has(FieldCompletenessMissing) {
		if err := p.Decode(FieldCompletenessMissing, &missing); err != nil {
			return worker.Result{}, worker.Fatal(err)
		}
	}

	decision := DecisionDecline
	switch {
	case score >= r.approve:
		decision = DecisionApprove
	case score >= r.conditional:
		decision = DecisionConditional
	}
	conditions := []string{}
	if decision != DecisionDecline {
		for _, m := range missing {
			conditions = append(conditions, "provide "+m)
		}
	}
	if decision == DecisionApprove && len(conditions) > 0 {
		decision = DecisionConditional
	}

	d := application.Delta{}
	d.MustSet(FieldDecision, decision)
	d.MustSet(FieldConditions, conditions)
	return worker.Result{
		Delta:   d,
		Summary: fmt.Sprintf("%s at score %.2f", decision, score),
	}, nil
}
