// Package modelfile loads versioned logistic eligibility models from JSON
// files on disk.
package modelfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/domain/model"
	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/port/modelloader"
)

// ErrNoPath is returned for versions that do not name a file.
var ErrNoPath = errors.New("model version has no path")

// File is the on-disk model format.
type File struct {
	Name    string             `json:"name"`
	Version string             `json:"version"`
	Bias    float64            `json:"bias"`
	Weights map[string]float64 `json:"weights"`
	// Scale divides a feature before weighting; absent or zero means 1.
	Scale map[string]float64 `json:"scale,omitempty"`
}

var _ modelloader.Loader = (*Loader)(nil)

// Loader reads model files. Relative paths resolve against Dir.
type Loader struct {
	Dir string
}

// NewLoader creates a loader rooted at dir.
func NewLoader(dir string) *Loader {
	return &Loader{Dir: dir}
}

// Load reads and validates the file named by v.Path.
func (l *Loader) Load(ctx context.Context, v model.Version) (model.Predictor, error) {
	if v.Path == "" {
		return nil, fmt.Errorf("load %s@%s: %w: %w", v.Name, v.Version, model.ErrModelMissing, ErrNoPath)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("load %s@%s: %w", v.Name, v.Version, err)
	}

	path := v.Path
	if !filepath.IsAbs(path) && l.Dir != "" {
		path = filepath.Join(l.Dir, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s@%s: %w: %w", v.Name, v.Version, model.ErrModelMissing, err)
		}
		return nil, fmt.Errorf("load %s@%s: %w", v.Name, v.Version, err)
	}

	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("load %s@%s: %w: parse %s: %w", v.Name, v.Version, model.ErrModelInvalid, filepath.Base(path), err)
	}
	if f.Name != v.Name || f.Version != v.Version {
		return nil, fmt.Errorf("load %s@%s: %w: file declares %s@%s", v.Name, v.Version, model.ErrModelInvalid, f.Name, f.Version)
	}
	if len(f.Weights) == 0 {
		return nil, fmt.Errorf("load %s@%s: %w: no weights", v.Name, v.Version, model.ErrModelInvalid)
	}
	for k, w := range f.Weights {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return nil, fmt.Errorf("load %s@%s: %w: weight %s is not finite", v.Name, v.Version, model.ErrModelInvalid, k)
		}
	}
	return &Logistic{file: f}, nil
}

// Logistic is a loaded logistic-regression predictor.
type Logistic struct {
	file File
}

// Predict returns sigmoid(bias + Σ w·x/scale). Confidence is the share of
// weighted features present, scaled by how far the score sits from the
// decision boundary.
func (m *Logistic) Predict(features map[string]float64) (model.Prediction, error) {
	keys := make([]string, 0, len(m.file.Weights))
	for k := range m.file.Weights {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	z := m.file.Bias
	var total, present float64
	contrib := make(map[string]float64, len(keys))
	for _, k := range keys {
		w := m.file.Weights[k]
		total += math.Abs(w)
		x, ok := features[k]
		if !ok {
			continue
		}
		present += math.Abs(w)
		if s := m.file.Scale[k]; s != 0 {
			x /= s
		}
		contrib[k] = w * x
		z += w * x
	}

	score := 1 / (1 + math.Exp(-z))
	coverage := 1.0
	if total > 0 {
		coverage = present / total
	}
	return model.Prediction{
		Score:         score,
		Confidence:    coverage * (0.5 + math.Abs(score-0.5)),
		Label:         model.Label(score),
		Contributions: contrib,
	}, nil
}
