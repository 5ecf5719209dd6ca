package messagequeue

import (
	"time"

	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/domain/application"
)

// SubmitPayload is the schema for applications.submit messages.
type SubmitPayload = application.SubmitRequest

// TransitionPayload is the schema for applications.transition messages.
type TransitionPayload struct {
	ApplicationID string             `json:"application_id"`
	Run           int                `json:"run"`
	From          string             `json:"from"`
	To            string             `json:"to"`
	Confidence    map[string]float64 `json:"confidence,omitempty"`
	Reason        string             `json:"reason,omitempty"`
	At            time.Time          `json:"at"`
}

// ModelReloadPayload is the schema for models.reload messages. An empty
// Name invalidates every cached resolution.
type ModelReloadPayload struct {
	Name string `json:"name"`
}

// ApplicationKey scopes the payload to its application.
func (p TransitionPayload) ApplicationKey() string { return p.ApplicationID }
