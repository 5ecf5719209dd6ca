package model

import "math"

// Rule is one weighted threshold test of the rule-based default.
// Op is one of "lt", "lte", "gt", "gte".
type Rule struct {
	Feature   string  `json:"feature" yaml:"feature"`
	Op        string  `json:"op" yaml:"op"`
	Threshold float64 `json:"threshold" yaml:"threshold"`
	Weight    float64 `json:"weight" yaml:"weight"`
}

func (r Rule) match(v float64) bool {
	switch r.Op {
	case "lt":
		return v < r.Threshold
	case "lte":
		return v <= r.Threshold
	case "gt":
		return v > r.Threshold
	case "gte":
		return v >= r.Threshold
	default:
		return false
	}
}

// RuleBased is the in-process default predictor. It cannot fail to load and
// never returns an error from Predict.
type RuleBased struct {
	Rules []Rule
}

// NewRuleBased returns the default predictor for rules.
func NewRuleBased(rules []Rule) *RuleBased {
	return &RuleBased{Rules: append([]Rule(nil), rules...)}
}

// Predict scores features as the weighted share of matching rules. Missing
// features count as non-matching. With no rules the score is neutral (0.5).
// Confidence is the share of rule weight whose feature was present.
func (r *RuleBased) Predict(features map[string]float64) (Prediction, error) {
	if len(r.Rules) == 0 {
		return Prediction{Score: 0.5, Confidence: 0.5, Label: Label(0.5)}, nil
	}
	var total, matched, observed float64
	contrib := make(map[string]float64, len(r.Rules))
	for _, rule := range r.Rules {
		w := math.Abs(rule.Weight)
		total += w
		v, ok := features[rule.Feature]
		if !ok {
			continue
		}
		observed += w
		if rule.match(v) {
			matched += w
			contrib[rule.Feature] += w
		}
	}
	if total == 0 {
		return Prediction{Score: 0.5, Confidence: 0.5, Label: Label(0.5)}, nil
	}
	score := matched / total
	return Prediction{
		Score:         score,
		Confidence:    observed / total,
		Label:         Label(score),
		Contributions: contrib,
	}, nil
}
