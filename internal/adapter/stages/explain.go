package stages

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/adapter/litellm"
	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/domain/application"
	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/port/worker"
)

// Completer is the chat completion call of the LiteLLM client.
type Completer interface {
	Complete(ctx context.Context, req litellm.ChatRequest) (text, model string, err error)
}

var _ Completer = (*litellm.Client)(nil)

const explainSystemPrompt = "You explain social support eligibility decisions to applicants. " +
	"Be factual and brief, mention the decision, the main drivers and any conditions. " +
	"Do not invent figures."

// Explainer writes the applicant-facing explanation. With an LLM it asks
// the model; otherwise, or when the model rejects the request, it fills a
// template. Retryable LLM failures are transient.
type Explainer struct {
	llm   Completer
	model string
	log   *slog.Logger
}

var _ worker.Worker = (*Explainer)(nil)

// NewExplainer creates an explainer. llm may be nil.
func NewExplainer(llm Completer, model string, log *slog.Logger) *Explainer {
	if log == nil {
		log = slog.Default()
	}
	return &Explainer{llm: llm, model: model, log: log}
}

type facts struct {
	Name       string
	Decision   string
	Score      float64
	Conditions []string
	Drivers    []string
}

// Execute implements worker.Worker.
func (e *Explainer) Execute(ctx context.Context, p application.PayloadView) (worker.Result, error) {
	f, err := gather(p)
	if err != nil {
		return worker.Result{}, worker.Fatal(err)
	}

	if e.llm != nil {
		text, served, err := e.llm.Complete(ctx, litellm.ChatRequest{
			Model: e.model,
			Messages: []litellm.ChatMessage{
				{Role: "system", Content: explainSystemPrompt},
				{Role: "user", Content: prompt(f)},
			},
			Temperature: 0.2,
			MaxTokens:   400,
		})
		switch {
		case err == nil:
			return explained(text, "llm", served), nil
		case litellm.IsRetryable(err):
			return worker.Result{}, worker.Transient(err)
		default:
			e.log.WarnContext(ctx, "llm explanation rejected, using template", "error", err)
		}
	}
	return explained(template(f), "template", ""), nil
}

func explained(text, source, modelVersion string) worker.Result {
	d := application.Delta{}
	d.MustSet(FieldExplanation, text)
	d.MustSet(FieldExplanationSource, source)
	return worker.Result{Delta: d, Summary: "explanation from " + source, ModelVersion: modelVersion}
}

func gather(p application.PayloadView) (facts, error) {
	f := facts{
		Name:     p.String(application.FieldApplicantName),
		Decision: p.String(FieldDecision),
	}
	if f.Decision == "" {
		return facts{}, errors.New("recommendation missing")
	}
	f.Score, _ = p.Float(FieldAssessmentScore)
	if p.Has(FieldConditions) {
		if err := p.Decode(FieldConditions, &f.Conditions); err != nil {
			return facts{}, err
		}
	}
	if p.Has(FieldAssessmentDrivers) {
		var drivers map[string]float64
		if err := p.Decode(FieldAssessmentDrivers, &drivers); err != nil {
			return facts{}, err
		}
		for k := range drivers {
			f.Drivers = append(f.Drivers, k)
		}
		sort.Slice(f.Drivers, func(i, j int) bool {
			a, b := drivers[f.Drivers[i]], drivers[f.Drivers[j]]
			if a != b {
				return a > b
			}
			return f.Drivers[i] < f.Drivers[j]
		})
		if len(f.Drivers) > 3 {
			f.Drivers = f.Drivers[:3]
		}
	}
	return f, nil
}

func prompt(f facts) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Applicant: %s\nDecision: %s\nEligibility score: %.2f\n", f.Name, f.Decision, f.Score)
	if len(f.Drivers) > 0 {
		fmt.Fprintf(&b, "Main drivers: %s\n", strings.Join(f.Drivers, ", "))
	}
	if len(f.Conditions) > 0 {
		fmt.Fprintf(&b, "Conditions: %s\n", strings.Join(f.Conditions, "; "))
	}
	b.WriteString("Write a short explanation addressed to the applicant.")
	return b.String()
}

func template(f facts) string {
	var b strings.Builder
	name := f.Name
	if name == "" {
		name = "Applicant"
	}
	switch f.Decision {
	case DecisionApprove:
		fmt.Fprintf(&b, "Dear %s, your application has been approved.", name)
	case DecisionConditional:
		fmt.Fprintf(&b, "Dear %s, your application can be approved once the listed conditions are met.", name)
	default:
		fmt.Fprintf(&b, "Dear %s, your application does not meet the eligibility criteria at this time.", name)
	}
	fmt.Fprintf(&b, " Eligibility score: %.2f.", f.Score)
	if len(f.Drivers) > 0 {
		fmt.Fprintf(&b, " Main factors: %s.", strings.Join(f.Drivers, ", "))
	}
	if len(f.Conditions) > 0 {
		fmt.Fprintf(&b, " Conditions: %s.", strings.Join(f.Conditions, "; "))
	}
	return b.String()
}
