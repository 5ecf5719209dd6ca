// Package model defines versioned prediction models, priority chains and the
// rule-based default that terminates every chain.
package model

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"
)

// RuleBasedVersion is the version string reported by the in-process default.
const RuleBasedVersion = "rule-based"

// Version is one candidate in a model chain. Lower Priority wins.
type Version struct {
	Name     string `json:"name" yaml:"name"`
	Version  string `json:"version" yaml:"version"`
	Priority int    `json:"priority" yaml:"priority"`
	Path     string `json:"-" yaml:"path"`
	Loadable bool   `json:"loadable" yaml:"-"`
}

// Chain is the ordered fallback list for one model name.
type Chain []Version

// Sorted returns a copy ordered by ascending priority.
func (c Chain) Sorted() Chain {
	out := append(Chain(nil), c...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}

// Validate checks that the chain belongs to name and that priorities form a
// strict total order.
func (c Chain) Validate(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("model chain: empty name")
	}
	seen := make(map[int]string, len(c))
	for i, v := range c {
		if v.Name != "" && v.Name != name {
			return fmt.Errorf("model chain %q: entry %d belongs to %q", name, i, v.Name)
		}
		if strings.TrimSpace(v.Version) == "" {
			return fmt.Errorf("model chain %q: entry %d has no version", name, i)
		}
		if v.Version == RuleBasedVersion {
			return fmt.Errorf("model chain %q: version %q is reserved", name, RuleBasedVersion)
		}
		if prev, dup := seen[v.Priority]; dup {
			return fmt.Errorf("model chain %q: versions %s and %s share priority %d", name, prev, v.Version, v.Priority)
		}
		seen[v.Priority] = v.Version
	}
	return nil
}

// Loader failure classes. Loaders wrap them alongside the underlying cause.
var (
	ErrModelMissing = errors.New("model file missing")
	ErrModelInvalid = errors.New("model file invalid")
)

// FailureClass names why a load failed without file paths or raw causes.
func FailureClass(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrModelMissing), errors.Is(err, fs.ErrNotExist):
		return ErrModelMissing.Error()
	case errors.Is(err, ErrModelInvalid):
		return ErrModelInvalid.Error()
	case errors.Is(err, fs.ErrPermission):
		return "model file unreadable"
	case errors.Is(err, context.DeadlineExceeded):
		return "load timed out"
	case errors.Is(err, context.Canceled):
		return "load cancelled"
	default:
		return "load failed"
	}
}

// Attempt records one load attempt made while resolving a name. Error holds
// the failure class only.
type Attempt struct {
	Name     string    `json:"name"`
	Version  string    `json:"version"`
	Priority int       `json:"priority"`
	Success  bool      `json:"success"`
	Error    string    `json:"error,omitempty"`
	At       time.Time `json:"at"`
}

// Prediction is the output of a model on one feature set.
type Prediction struct {
	Score         float64            `json:"score"`
	Confidence    float64            `json:"confidence"`
	Label         string             `json:"label"`
	Contributions map[string]float64 `json:"contributions,omitempty"`
}

// Predictor scores a feature vector.
type Predictor interface {
	Predict(features map[string]float64) (Prediction, error)
}

// Label maps a score onto the eligibility label used downstream.
func Label(score float64) string {
	switch {
	case score >= 0.5:
		return "eligible"
	default:
		return "not_eligible"
	}
}
