package trace

import (
	"sort"
	"strings"
	"testing"
	"time"
)

func TestBefore(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		a, b Event
		want bool
	}{
		{"earlier run first", Event{Run: 1, StartedAt: t0.Add(time.Hour)}, Event{Run: 2, StartedAt: t0}, true},
		{"earlier start first", Event{Run: 1, StartedAt: t0}, Event{Run: 1, StartedAt: t0.Add(time.Millisecond)}, true},
		{"tie uses recording order", Event{Run: 1, StartedAt: t0, AttemptNumber: 2, Seq: 2}, Event{Run: 1, StartedAt: t0, AttemptNumber: 1, Seq: 3}, true},
		{"tie without sequence uses attempt", Event{Run: 1, StartedAt: t0, AttemptNumber: 1}, Event{Run: 1, StartedAt: t0, AttemptNumber: 2}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Before(tt.a, tt.b); got != tt.want {
				t.Fatalf("Before = %v, want %v", got, tt.want)
			}
			if Before(tt.b, tt.a) {
				t.Fatal("Before must be asymmetric")
			}
		})
	}
}

func TestBeforeKeepsRetryAheadOfNextStage(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	evs := []Event{
		{Run: 1, Stage: "validate", AttemptNumber: 1, StartedAt: t0, Seq: 3},
		{Run: 1, Stage: "extract", AttemptNumber: 2, StartedAt: t0, Seq: 2},
		{Run: 1, Stage: "extract", AttemptNumber: 1, StartedAt: t0, Seq: 1},
	}
	sort.SliceStable(evs, func(i, j int) bool { return Before(evs[i], evs[j]) })
	var got []string
	for _, e := range evs {
		got = append(got, e.Stage)
	}
	if s := strings.Join(got, ","); s != "extract,extract,validate" {
		t.Fatalf("unexpected order %s", s)
	}
}
