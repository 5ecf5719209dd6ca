package application

import (
	"fmt"
	"strings"

	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/domain"
)

// Payload field names written at intake.
const (
	FieldApplicantName       = "applicant.name"
	FieldApplicantNationalID = "applicant.national_id"
	FieldApplicantEmail      = "applicant.email"
	FieldDocuments           = "documents"
)

// Applicant holds the identifying fields of the person applying.
type Applicant struct {
	Name       string `json:"name"`
	NationalID string `json:"national_id"`
	Email      string `json:"email,omitempty"`
}

// DocumentRef points at an uploaded document. Fields carries values already
// parsed out of the document by an upstream extractor, if any.
type DocumentRef struct {
	Type   string            `json:"type"`
	URI    string            `json:"uri"`
	Fields map[string]string `json:"fields,omitempty"`
}

// SubmitRequest is the structured submission accepted at intake.
// ApplicationID is optional and only used to resubmit a failed application.
type SubmitRequest struct {
	ApplicationID string        `json:"application_id,omitempty"`
	Applicant     Applicant     `json:"applicant"`
	Documents     []DocumentRef `json:"documents"`
}

// Validate rejects requests missing required fields.
func (r *SubmitRequest) Validate() error {
	if strings.TrimSpace(r.Applicant.Name) == "" {
		return fmt.Errorf("applicant.name is required: %w", domain.ErrValidation)
	}
	if strings.TrimSpace(r.Applicant.NationalID) == "" {
		return fmt.Errorf("applicant.national_id is required: %w", domain.ErrValidation)
	}
	if len(r.Documents) == 0 {
		return fmt.Errorf("at least one document is required: %w", domain.ErrValidation)
	}
	for i, d := range r.Documents {
		if strings.TrimSpace(d.Type) == "" {
			return fmt.Errorf("documents[%d].type is required: %w", i, domain.ErrValidation)
		}
		if strings.TrimSpace(d.URI) == "" {
			return fmt.Errorf("documents[%d].uri is required: %w", i, domain.ErrValidation)
		}
	}
	return nil
}

// Seed converts the request into the intake payload.
func (r *SubmitRequest) Seed() (Delta, error) {
	d := make(Delta)
	if err := d.Set(FieldApplicantName, strings.TrimSpace(r.Applicant.Name)); err != nil {
		return nil, err
	}
	if err := d.Set(FieldApplicantNationalID, strings.TrimSpace(r.Applicant.NationalID)); err != nil {
		return nil, err
	}
	if r.Applicant.Email != "" {
		if err := d.Set(FieldApplicantEmail, r.Applicant.Email); err != nil {
			return nil, err
		}
	}
	if err := d.Set(FieldDocuments, r.Documents); err != nil {
		return nil, err
	}
	return d, nil
}
