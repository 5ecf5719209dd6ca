package stages

import (
	"context"
	"fmt"

	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/domain/application"
	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/port/worker"
)

// Extractor lifts expected fields out of the documents' pre-parsed fields
// into extracted.<field>. Its confidence is the share of expected fields
// found.
type Extractor struct {
	expected []string
}

var _ worker.Worker = (*Extractor)(nil)

// NewExtractor creates an extractor for the expected field names.
func NewExtractor(expected []string) *Extractor {
	return &Extractor{expected: append([]string(nil), expected...)}
}

// Execute implements worker.Worker.
func (e *Extractor) Execute(ctx context.Context, p application.PayloadView) (worker.Result, error) {
	if err := ctx.Err(); err != nil {
		return worker.Result{}, err
	}
	docs, err := documents(p)
	if err != nil {
		return worker.Result{}, worker.Fatal(err)
	}
	rich := richMode(p)

	d := application.Delta{}
	found := 0
	for _, f := range e.expected {
		raw, ok := lookup(docs, f, rich)
		if !ok {
			continue
		}
		found++
		if n, ok := parseNumber(raw, rich); ok {
			d.MustSet(extractedPrefix+f, n)
		} else {
			d.MustSet(extractedPrefix+f, raw)
		}
	}

	names := make(map[string]string)
	for _, doc := range docs {
		single := []application.DocumentRef{doc}
		if n, ok := lookup(single, "name", rich); ok {
			names[doc.Type] = n
		} else if rich {
			if n, ok := lookup(single, "full_name", true); ok {
				names[doc.Type] = n
			}
		}
	}
	if len(names) > 0 {
		d.MustSet(FieldExtractedNames, names)
	}

	confidence := 1.0
	if len(e.expected) > 0 {
		confidence = float64(found) / float64(len(e.expected))
	}
	return worker.Result{
		Delta:      d,
		Confidence: confidence,
		Scored:     true,
		Summary:    fmt.Sprintf("extracted %d/%d fields from %d documents", found, len(e.expected), len(docs)),
	}, nil
}
