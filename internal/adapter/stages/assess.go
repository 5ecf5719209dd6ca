package stages

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/domain/application"
	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/domain/model"
	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/port/worker"
)

// Assessor scores the application with whichever version of the eligibility
// model the resolver serves. Features come from extracted.<name>; net_worth
// is derived from total_assets and total_liabilities. In rich mode missing
// features are looked up again in the documents.
type Assessor struct {
	models   ModelSource
	features []string
}

var _ worker.Worker = (*Assessor)(nil)

// NewAssessor creates an assessor over the named features.
func NewAssessor(models ModelSource, features []string) *Assessor {
	return &Assessor{models: models, features: append([]string(nil), features...)}
}

// Execute implements worker.Worker.
func (a *Assessor) Execute(ctx context.Context, p application.PayloadView) (worker.Result, error) {
	if a.models == nil {
		return worker.Result{}, worker.Fatal(errors.New("no model source configured"))
	}
	feats, err := a.collect(p)
	if err != nil {
		return worker.Result{}, worker.Fatal(err)
	}

	predictor, version := a.models.Predictor(ctx, EligibilityModel)
	if predictor == nil {
		return worker.Result{}, worker.Fatal(fmt.Errorf("model %s has no predictor", EligibilityModel))
	}
	if err := ctx.Err(); err != nil {
		return worker.Result{}, err
	}
	pred, err := predictor.Predict(feats)
	if err != nil {
		return worker.Result{}, worker.Fatal(fmt.Errorf("predict with %s@%s: %w", EligibilityModel, version, err))
	}
	score := clamp(pred.Score)
	label := pred.Label
	if label == "" {
		label = model.Label(score)
	}

	d := application.Delta{}
	d.MustSet(FieldAssessmentScore, score)
	d.MustSet(FieldAssessmentLabel, label)
	d.MustSet(FieldAssessmentModel, version)
	d.MustSet(FieldAssessmentFeatures, feats)
	if len(pred.Contributions) > 0 {
		d.MustSet(FieldAssessmentDrivers, pred.Contributions)
	}
	return worker.Result{
		Delta:        d,
		Confidence:   clamp(pred.Confidence),
		Scored:       true,
		Summary:      fmt.Sprintf("score %.2f (%s) from %d features", score, label, len(feats)),
		ModelVersion: version,
	}, nil
}

func (a *Assessor) collect(p application.PayloadView) (map[string]float64, error) {
	rich := richMode(p)
	var docs []application.DocumentRef
	if rich {
		var err error
		if docs, err = documents(p); err != nil {
			return nil, err
		}
	}
	get := func(name string) (float64, bool) {
		if f, ok := p.Float(extractedPrefix + name); ok {
			return f, true
		}
		if !rich {
			return 0, false
		}
		raw, ok := lookup(docs, name, true)
		if !ok {
			return 0, false
		}
		return parseNumber(raw, true)
	}

	feats := make(map[string]float64, len(a.features))
	for _, name := range a.features {
		if name == "net_worth" {
			assets, okA := get("total_assets")
			debts, okD := get("total_liabilities")
			if okA && okD {
				feats[name] = assets - debts
			}
			continue
		}
		if f, ok := get(name); ok {
			feats[name] = f
		}
	}
	return feats, nil
}

func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
