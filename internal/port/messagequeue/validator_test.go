package messagequeue

import (
	"strings"
	"testing"
)

func TestValidateValidSubmit(t *testing.T) {
	data := []byte(`{"applicant":{"name":"Amal","national_id":"784"},"documents":[{"type":"bank_statement","uri":"s3://b/1.pdf"}]}`)
	if err := Validate(SubjectApplicationSubmit, data); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateValidTransition(t *testing.T) {
	data := []byte(`{"application_id":"a1","run":1,"from":"assessing","to":"recommending","confidence":{"assess":0.82},"at":"2026-01-01T00:00:00Z"}`)
	if err := Validate(SubjectApplicationTransition, data); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateValidTraceEvent(t *testing.T) {
	data := []byte(`{"applicationId":"a1","stage":"extract","attemptNumber":1,"startedAt":"2026-01-01T00:00:00Z","durationMs":12,"outcome":"Success","errorDetail":null}`)
	if err := Validate(SubjectTraceEvent, data); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateUnknownSubject(t *testing.T) {
	data := []byte(`{"foo":"bar"}`)
	if err := Validate("unknown.subject", data); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateInvalidJSON(t *testing.T) {
	err := Validate(SubjectApplicationSubmit, []byte(`{not valid json`))
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
	if !strings.Contains(err.Error(), "invalid JSON") {
		t.Fatalf("expected 'invalid JSON' in error, got: %v", err)
	}
}

func TestValidateInvalidSchema(t *testing.T) {
	err := Validate(SubjectApplicationTransition, []byte(`"just a string"`))
	if err == nil {
		t.Fatal("expected schema validation error")
	}
	if !strings.Contains(err.Error(), "schema validation failed") {
		t.Fatalf("expected 'schema validation failed' in error, got: %v", err)
	}
}

func TestValidateWrongFieldType(t *testing.T) {
	err := Validate(SubjectApplicationTransition, []byte(`{"run":"one"}`))
	if err == nil {
		t.Fatal("expected schema validation error for string run")
	}
}
