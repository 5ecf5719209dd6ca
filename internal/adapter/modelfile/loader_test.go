package modelfile

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/domain/model"
)

func writeModel(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestLoadAndPredict(t *testing.T) {
	dir := t.TempDir()
	writeModel(t, dir, "v2.json", `{
		"name": "eligibility", "version": "v2", "bias": -1,
		"weights": {"family_size": 0.5, "monthly_income": -2},
		"scale": {"monthly_income": 10000}
	}`)

	p, err := NewLoader(dir).Load(context.Background(), model.Version{Name: "eligibility", Version: "v2", Path: "v2.json"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	pred, err := p.Predict(map[string]float64{"family_size": 6, "monthly_income": 5000})
	if err != nil {
		t.Fatal(err)
	}
	// z = -1 + 0.5*6 - 2*0.5 = 1
	want := 1 / (1 + math.Exp(-1))
	if math.Abs(pred.Score-want) > 1e-9 {
		t.Fatalf("score = %v, want %v", pred.Score, want)
	}
	if pred.Label != "eligible" {
		t.Fatalf("label = %s", pred.Label)
	}
	if math.Abs(pred.Confidence-want) > 1e-9 {
		t.Fatalf("confidence = %v, want %v", pred.Confidence, want)
	}
}

func TestPredictMissingFeaturesLowersConfidence(t *testing.T) {
	m := &Logistic{file: File{Weights: map[string]float64{"a": 1, "b": 1}}}
	full, _ := m.Predict(map[string]float64{"a": 0, "b": 0})
	half, _ := m.Predict(map[string]float64{"a": 0})
	if half.Confidence >= full.Confidence {
		t.Fatalf("expected lower confidence with missing features: %v >= %v", half.Confidence, full.Confidence)
	}
}

func TestLoadFailures(t *testing.T) {
	dir := t.TempDir()
	writeModel(t, dir, "bad.json", `{not json`)
	writeModel(t, dir, "other.json", `{"name":"eligibility","version":"v9","weights":{"a":1}}`)
	writeModel(t, dir, "empty.json", `{"name":"eligibility","version":"v1","weights":{}}`)

	tests := []struct {
		name  string
		v     model.Version
		class error
	}{
		{"no path", model.Version{Name: "eligibility", Version: "v1"}, model.ErrModelMissing},
		{"missing file", model.Version{Name: "eligibility", Version: "v1", Path: "nope.json"}, model.ErrModelMissing},
		{"corrupt", model.Version{Name: "eligibility", Version: "v1", Path: "bad.json"}, model.ErrModelInvalid},
		{"version mismatch", model.Version{Name: "eligibility", Version: "v1", Path: "other.json"}, model.ErrModelInvalid},
		{"no weights", model.Version{Name: "eligibility", Version: "v1", Path: "empty.json"}, model.ErrModelInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLoader(dir).Load(context.Background(), tt.v)
			if !errors.Is(err, tt.class) {
				t.Fatalf("expected %v, got %v", tt.class, err)
			}
			if got := model.FailureClass(err); got != tt.class.Error() {
				t.Fatalf("unexpected failure class %q", got)
			}
		})
	}
}

func TestLoadHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewLoader(t.TempDir()).Load(ctx, model.Version{Name: "m", Version: "v1", Path: "x.json"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
