package application

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/domain"
)

var t0 = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func TestTransitionTableCoverage(t *testing.T) {
	all := []Stage{
		StageIntake, StageExtracting, StageValidating, StageAssessing, StageRecommending,
		StageExplaining, StageAwaitingReview, StageCompleted, StageFailed,
	}
	want := map[[2]Stage]bool{
		{StageIntake, StageExtracting}:        true,
		{StageIntake, StageFailed}:            true,
		{StageExtracting, StageValidating}:    true,
		{StageExtracting, StageFailed}:        true,
		{StageValidating, StageAssessing}:     true,
		{StageValidating, StageFailed}:        true,
		{StageAssessing, StageRecommending}:   true,
		{StageAssessing, StageAwaitingReview}: true,
		{StageAssessing, StageFailed}:         true,
		{StageRecommending, StageExplaining}:  true,
		{StageRecommending, StageFailed}:      true,
		{StageExplaining, StageCompleted}:     true,
		{StageExplaining, StageFailed}:        true,
	}

	for _, from := range all {
		for _, to := range all {
			err := ValidateTransition(from, to)
			if want[[2]Stage{from, to}] && err != nil {
				t.Errorf("%s -> %s: expected allowed, got %v", from, to, err)
			}
			if !want[[2]Stage{from, to}] && err == nil {
				t.Errorf("%s -> %s: expected rejected", from, to)
			}
		}
	}

	edges := 0
	for _, tos := range Transitions() {
		edges += len(tos)
	}
	if edges != len(want) {
		t.Fatalf("expected %d edges, got %d", len(want), edges)
	}
}

func TestValidateTransitionUnknownStage(t *testing.T) {
	if err := ValidateTransition("bogus", StageFailed); err == nil {
		t.Fatal("expected error for unknown stage")
	}
}

func TestHappyPathNext(t *testing.T) {
	s := StageIntake
	var path []Stage
	for s != "" {
		path = append(path, s)
		s = s.Next()
	}
	if len(path) != 7 || path[len(path)-1] != StageCompleted {
		t.Fatalf("unexpected happy path: %v", path)
	}
	for i := 1; i < len(path); i++ {
		if err := ValidateTransition(path[i-1], path[i]); err != nil {
			t.Fatalf("happy path edge rejected: %v", err)
		}
	}
}

func TestStageNames(t *testing.T) {
	for _, s := range WorkStages {
		got, ok := StageForName(s.Name())
		if !ok || got != s {
			t.Errorf("StageForName(%q) = %q, %v", s.Name(), got, ok)
		}
	}
	if _, ok := StageForName("intake"); ok {
		t.Error("intake is not a work stage")
	}
}

func TestTerminalStagesAreImmutable(t *testing.T) {
	for _, terminal := range []Stage{StageCompleted, StageFailed, StageAwaitingReview} {
		s := New("app-1", 1, nil, t0)
		s.Stage = terminal
		if err := s.Transition(StageFailed, "x", t0); err == nil {
			t.Errorf("expected transition out of %s to fail", terminal)
		}
	}
}

func TestMergeRecordsOverwrites(t *testing.T) {
	seed := Delta{}
	seed.MustSet("income", 1000)
	s := New("app-1", 1, seed, t0)

	d := Delta{}
	d.MustSet("income", 1200)
	d.MustSet("employer", "ACME")
	s.Merge(StageExtracting, d, t0.Add(time.Second))

	if got, _ := s.Payload.View().Float("income"); got != 1200 {
		t.Fatalf("expected income 1200, got %v", got)
	}
	if s.Payload["employer"].Stage != StageExtracting {
		t.Fatalf("expected employer written by extracting, got %s", s.Payload["employer"].Stage)
	}

	var overwrites []HistoryEvent
	for _, h := range s.History {
		if h.Kind == HistoryOverwrite {
			overwrites = append(overwrites, h)
		}
	}
	if len(overwrites) != 1 {
		t.Fatalf("expected 1 overwrite record, got %d", len(overwrites))
	}
	if overwrites[0].Field != "income" || string(overwrites[0].Previous) != "1000" {
		t.Fatalf("unexpected overwrite record: %+v", overwrites[0])
	}

	// Identical rewrite is not an overwrite.
	same := Delta{"income": json.RawMessage(` 1200 `)}
	s.Merge(StageValidating, same, t0.Add(2*time.Second))
	if n := len(s.History); n != 1 {
		t.Fatalf("expected history unchanged, got %d entries", n)
	}
}

func TestMergeDeltasFixedOrder(t *testing.T) {
	a := Delta{}
	a.MustSet("shared", "a")
	a.MustSet("only_a", 1)
	b := Delta{}
	b.MustSet("shared", "b")
	b.MustSet("only_b", 2)

	ab := MergeDeltas(a, b)
	if string(ab["shared"]) != `"b"` {
		t.Fatalf("expected last delta to win, got %s", ab["shared"])
	}
	if len(ab) != 3 {
		t.Fatalf("expected 3 keys, got %d", len(ab))
	}
}

func TestEscalateOnlyFromAssessing(t *testing.T) {
	s := New("app-1", 1, nil, t0)
	if err := s.Escalate(1, 0.4, "low", t0); err == nil {
		t.Fatal("expected escalation from intake to fail")
	}
	s.Stage = StageAssessing
	if err := s.Escalate(1, 0.4, "low", t0); err != nil {
		t.Fatalf("escalate: %v", err)
	}
	st := s.Status()
	if st.Outcome != "awaiting_review" || st.EscalationConfidence == nil || *st.EscalationConfidence != 0.4 {
		t.Fatalf("unexpected status: %+v", st)
	}
}

func TestStatusHidesRawErrors(t *testing.T) {
	s := New("app-1", 1, nil, t0)
	s.Stage = StageRecommending
	if err := s.Fail(KindWorkerFatal, "write /var/lib/durable/key application/app-1: disk full", t0); err != nil {
		t.Fatal(err)
	}
	st := s.Status()
	if st.Reason != "WorkerFatalError during recommend" {
		t.Fatalf("unexpected reason %q", st.Reason)
	}
	if s.FinishedAt == nil {
		t.Fatal("expected finished_at to be set")
	}
}

func TestRedactedKeepsOnlyKindMessages(t *testing.T) {
	s := New("app-1", 1, nil, t0)
	s.Stage = StageValidating
	s.AddError(StageValidating, KindValidationRejected, "name mismatch across documents", t0)
	if err := s.Fail(KindCacheUnavailable, "write application/app-1: dial tcp 10.0.0.5:5432: connection refused", t0); err != nil {
		t.Fatal(err)
	}

	r := s.Redacted()
	if got := r.Errors[0].Message; got != "name mismatch across documents" {
		t.Fatalf("rejection reason should survive, got %q", got)
	}
	if got := r.Errors[1].Message; got != "durable store unavailable" {
		t.Fatalf("expected kind-level message, got %q", got)
	}
	if s.Errors[1].Message == r.Errors[1].Message {
		t.Fatal("Redacted must not modify the original")
	}
	if got := ErrorKind("Unknown").Describe(); got != "processing error" {
		t.Fatalf("unexpected fallback %q", got)
	}
}

func TestStagePathMonotonic(t *testing.T) {
	s := New("app-1", 1, nil, t0)
	_ = s.Transition(StageExtracting, "", t0)
	_ = s.Transition(StageValidating, "", t0)
	_ = s.Transition(StageAssessing, "", t0)
	s.RecordRetry(1, KindLowConfidence, nil, "retry", t0)
	_ = s.Transition(StageRecommending, "", t0)

	path := s.StagePath()
	for i := 1; i < len(path); i++ {
		if path[i].Rank() < path[i-1].Rank() {
			t.Fatalf("stage path went backwards at %d: %v", i, path)
		}
		if path[i] == path[i-1] && s.RetriesOf(path[i], "") == 0 {
			t.Fatalf("re-entry without retry record: %v", path)
		}
	}
}

func TestCloneIsDeep(t *testing.T) {
	seed := Delta{}
	seed.MustSet("a", 1)
	s := New("app-1", 1, seed, t0)
	s.SetConfidence(StageAssessing, 0.9)
	c := s.Clone()
	c.ConfidenceScores["assess"] = 0.1
	c.Payload["a"] = Field{Value: json.RawMessage("2")}
	if s.ConfidenceScores["assess"] != 0.9 {
		t.Fatal("clone shares confidence map")
	}
	if string(s.Payload["a"].Value) != "1" {
		t.Fatal("clone shares payload")
	}
}

func TestSubmitRequestValidate(t *testing.T) {
	valid := SubmitRequest{
		Applicant: Applicant{Name: "Amal", NationalID: "784-1990-1234567-1"},
		Documents: []DocumentRef{{Type: "bank_statement", URI: "s3://docs/1.pdf"}},
	}
	tests := []struct {
		name   string
		modify func(*SubmitRequest)
		ok     bool
	}{
		{"valid", func(*SubmitRequest) {}, true},
		{"missing name", func(r *SubmitRequest) { r.Applicant.Name = " " }, false},
		{"missing national id", func(r *SubmitRequest) { r.Applicant.NationalID = "" }, false},
		{"no documents", func(r *SubmitRequest) { r.Documents = nil }, false},
		{"document without uri", func(r *SubmitRequest) { r.Documents = []DocumentRef{{Type: "id"}} }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := valid
			r.Documents = append([]DocumentRef(nil), valid.Documents...)
			tt.modify(&r)
			err := r.Validate()
			if tt.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.ok && !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestSubmitRequestSeed(t *testing.T) {
	r := SubmitRequest{
		Applicant: Applicant{Name: " Amal ", NationalID: "784"},
		Documents: []DocumentRef{{Type: "id", URI: "file://id.png"}},
	}
	d, err := r.Seed()
	if err != nil {
		t.Fatal(err)
	}
	s := New("app-1", 1, d, t0)
	if got := s.Payload.View().String(FieldApplicantName); got != "Amal" {
		t.Fatalf("expected trimmed name, got %q", got)
	}
	var docs []DocumentRef
	if err := s.Payload.View().Decode(FieldDocuments, &docs); err != nil || len(docs) != 1 {
		t.Fatalf("expected 1 document, got %v (%v)", docs, err)
	}
}
