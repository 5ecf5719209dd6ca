package model

import "testing"

func TestChainValidate(t *testing.T) {
	tests := []struct {
		name    string
		chain   Chain
		wantErr bool
	}{
		{"empty chain", nil, false},
		{"strict order", Chain{{Version: "v2", Priority: 1}, {Version: "v1", Priority: 2}}, false},
		{"duplicate priority", Chain{{Version: "v2", Priority: 1}, {Version: "v1", Priority: 1}}, true},
		{"missing version", Chain{{Priority: 1}}, true},
		{"foreign name", Chain{{Name: "other", Version: "v1", Priority: 1}}, true},
		{"reserved version", Chain{{Version: RuleBasedVersion, Priority: 1}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.chain.Validate("eligibility")
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestChainSorted(t *testing.T) {
	c := Chain{{Version: "v1", Priority: 3}, {Version: "v3", Priority: 1}, {Version: "v2", Priority: 2}}
	s := c.Sorted()
	if s[0].Version != "v3" || s[2].Version != "v1" {
		t.Fatalf("unexpected order: %+v", s)
	}
	if c[0].Version != "v1" {
		t.Fatal("Sorted must not mutate the receiver")
	}
}

func TestRuleBasedPredict(t *testing.T) {
	rb := NewRuleBased([]Rule{
		{Feature: "income", Op: "lt", Threshold: 5000, Weight: 2},
		{Feature: "family_size", Op: "gte", Threshold: 4, Weight: 1},
		{Feature: "net_worth", Op: "lt", Threshold: 100000, Weight: 1},
	})

	p, err := rb.Predict(map[string]float64{"income": 3000, "family_size": 2, "net_worth": 50000})
	if err != nil {
		t.Fatal(err)
	}
	if p.Score != 0.75 {
		t.Fatalf("expected score 0.75, got %v", p.Score)
	}
	if p.Confidence != 1 {
		t.Fatalf("expected confidence 1, got %v", p.Confidence)
	}
	if p.Label != "eligible" {
		t.Fatalf("expected eligible, got %s", p.Label)
	}

	p, _ = rb.Predict(map[string]float64{"income": 3000})
	if p.Confidence != 0.5 {
		t.Fatalf("expected confidence 0.5 with half the weight observed, got %v", p.Confidence)
	}
}

func TestRuleBasedWithoutRules(t *testing.T) {
	p, err := NewRuleBased(nil).Predict(nil)
	if err != nil {
		t.Fatal(err)
	}
	if p.Score != 0.5 {
		t.Fatalf("expected neutral score, got %v", p.Score)
	}
}
