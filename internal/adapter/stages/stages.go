// Package stages provides the built-in stage workers: extraction from
// pre-parsed document fields, cross-document validation, completeness,
// model-based assessment, recommendation and explanation.
package stages

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"unicode"

	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/config"
	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/domain/application"
	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/domain/model"
	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/service"
)

// Payload fields written by the built-in workers.
const (
	FieldExtractionMode       = "extraction.mode"
	FieldExtractedNames       = "extracted.names"
	FieldValidationPassed     = "validation.passed"
	FieldValidationIssues     = "validation.issues"
	FieldCompletenessMissing  = "completeness.missing"
	FieldCompletenessComplete = "completeness.complete"
	FieldAssessmentScore      = "assessment.score"
	FieldAssessmentLabel      = "assessment.label"
	FieldAssessmentModel      = "assessment.model_version"
	FieldAssessmentFeatures   = "assessment.features"
	FieldAssessmentDrivers    = "assessment.contributions"
	FieldDecision             = "recommendation.decision"
	FieldConditions           = "recommendation.conditions"
	FieldExplanation          = "explanation.text"
	FieldExplanationSource    = "explanation.source"

	extractedPrefix = "extracted."
	modeRich        = "rich"

	// EligibilityModel is the model name Assess resolves.
	EligibilityModel = "eligibility"
)

// Decisions produced by Recommend.
const (
	DecisionApprove     = "approve"
	DecisionConditional = "conditional"
	DecisionDecline     = "decline"
)

// ModelSource hands out the predictor currently serving a model name.
type ModelSource interface {
	Predictor(ctx context.Context, name string) (model.Predictor, string)
}

var _ ModelSource = (*service.ModelResolver)(nil)

// Workers wires the built-in workers into the orchestrator's registry. A nil
// llm selects the template explainer.
func Workers(cfg config.Stages, models ModelSource, llm Completer, llmModel string, log *slog.Logger) service.Workers {
	if log == nil {
		log = slog.Default()
	}
	return service.Workers{
		Extract:      NewExtractor(cfg.ExpectedFields),
		Validate:     NewValidator(),
		Completeness: NewCompletenessChecker(cfg.RequiredDocuments),
		Assess:       NewAssessor(models, cfg.Features),
		Recommend:    NewRecommender(cfg.ApproveScore, cfg.ConditionalScore),
		Explain:      NewExplainer(llm, llmModel, log),
	}
}

func richMode(p application.PayloadView) bool {
	return p.String(FieldExtractionMode) == modeRich
}

func documents(p application.PayloadView) ([]application.DocumentRef, error) {
	var docs []application.DocumentRef
	if err := p.Decode(application.FieldDocuments, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

// normalize folds a field label for loose matching: "Monthly Income",
// "monthly-income" and "monthly_income" all become "monthlyincome".
func normalize(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

// lookup finds field in the documents' parsed fields. Strict mode matches
// keys exactly; rich mode also matches loosely.
func lookup(docs []application.DocumentRef, field string, rich bool) (string, bool) {
	for _, d := range docs {
		if v, ok := d.Fields[field]; ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v), true
		}
	}
	if !rich {
		return "", false
	}
	want := normalize(field)
	for _, d := range docs {
		for k, v := range d.Fields {
			if normalize(k) == want && strings.TrimSpace(v) != "" {
				return strings.TrimSpace(v), true
			}
		}
	}
	return "", false
}

// parseNumber reads a numeric document value. Rich mode tolerates currency
// labels and thousands separators.
func parseNumber(s string, rich bool) (float64, bool) {
	if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
		return f, true
	}
	if !rich {
		return 0, false
	}
	var b strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) || r == '.' || r == '-' {
			b.WriteRune(r)
		}
	}
	f, err := strconv.ParseFloat(b.String(), 64)
	return f, err == nil
}
