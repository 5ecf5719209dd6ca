package http

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/domain/application"
	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/domain/model"
	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/domain/trace"
	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/service"
)

// Applications is the pipeline as seen by the HTTP API.
type Applications interface {
	Submit(ctx context.Context, req application.SubmitRequest) (string, error)
	GetState(ctx context.Context, id string) (*application.State, error)
	Status(ctx context.Context, id string) (application.Status, error)
	Cancel(ctx context.Context, id string) error
	Trace(ctx context.Context, id string) (trace.Record, error)
	InFlight() int
}

// ModelCatalog exposes model bindings.
type ModelCatalog interface {
	Resolve(ctx context.Context, name string) service.BoundModel
	Chain(name string) model.Chain
	Invalidate(name string)
	Names() []string
}

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Handlers holds the HTTP handlers and their dependencies.
type Handlers struct {
	Applications Applications
	Models       ModelCatalog
	Checks       map[string]HealthCheck
	Version      string
	BodyLimit    int64
	CheckTimeout time.Duration
}

// --- Applications ---

type submitResponse struct {
	ID string `json:"id"`
}

// SubmitApplication handles POST /api/v1/applications.
func (h *Handlers) SubmitApplication(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[application.SubmitRequest](w, r, h.BodyLimit)
	if !ok {
		return
	}
	id, err := h.Applications.Submit(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "application not found")
		return
	}
	w.Header().Set("Location", "/api/v1/applications/"+id)
	writeJSON(w, http.StatusAccepted, submitResponse{ID: id})
}

// GetApplication handles GET /api/v1/applications/{id}.
func (h *Handlers) GetApplication(w http.ResponseWriter, r *http.Request) {
	id, ok := pathName(w, r, "id")
	if !ok {
		return
	}
	st, err := h.Applications.Status(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "application not found")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// GetApplicationState handles GET /api/v1/applications/{id}/state.
func (h *Handlers) GetApplicationState(w http.ResponseWriter, r *http.Request) {
	id, ok := pathName(w, r, "id")
	if !ok {
		return
	}
	s, err := h.Applications.GetState(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "application not found")
		return
	}
	writeJSON(w, http.StatusOK, s.Redacted())
}

// CancelApplication handles POST /api/v1/applications/{id}/cancel.
func (h *Handlers) CancelApplication(w http.ResponseWriter, r *http.Request) {
	id, ok := pathName(w, r, "id")
	if !ok {
		return
	}
	if err := h.Applications.Cancel(r.Context(), id); err != nil {
		writeDomainError(w, err, "application not found")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

// GetApplicationTrace handles GET /api/v1/applications/{id}/trace.
func (h *Handlers) GetApplicationTrace(w http.ResponseWriter, r *http.Request) {
	id, ok := pathName(w, r, "id")
	if !ok {
		return
	}
	rec, err := h.Applications.Trace(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, "trace not found")
		return
	}
	writeJSON(w, http.StatusOK, redactTrace(rec))
}

// redactTrace replaces raw worker errors with the attempt outcome. The full
// detail stays in the exported trace file.
func redactTrace(rec trace.Record) trace.Record {
	stages := make([]trace.Event, len(rec.Stages))
	for i, ev := range rec.Stages {
		if ev.ErrorDetail != nil {
			d := fmt.Sprintf("%s attempt %d %s", ev.Stage, ev.AttemptNumber, strings.ToLower(string(ev.Outcome)))
			ev.ErrorDetail = &d
		}
		stages[i] = ev
	}
	rec.Stages = stages
	return rec
}

// --- Models ---

type modelResponse struct {
	service.BoundModel
	Chain model.Chain `json:"chain"`
}

// ListModels handles GET /api/v1/models.
func (h *Handlers) ListModels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"models": h.Models.Names()})
}

// GetModel handles GET /api/v1/models/{name}. Unconfigured names resolve to
// the rule-based default.
func (h *Handlers) GetModel(w http.ResponseWriter, r *http.Request) {
	name, ok := pathName(w, r, "name")
	if !ok {
		return
	}
	b := h.Models.Resolve(r.Context(), name)
	writeJSON(w, http.StatusOK, modelResponse{BoundModel: b, Chain: h.Models.Chain(name)})
}

// InvalidateModel handles POST /api/v1/models/{name}/invalidate.
func (h *Handlers) InvalidateModel(w http.ResponseWriter, r *http.Request) {
	name, ok := pathName(w, r, "name")
	if !ok {
		return
	}
	h.Models.Invalidate(name)
	w.WriteHeader(http.StatusNoContent)
}

// --- Health ---

type healthStatus struct {
	Status   string            `json:"status"`
	Version  string            `json:"version,omitempty"`
	InFlight int               `json:"in_flight"`
	Checks   map[string]string `json:"checks,omitempty"`
}

// Health handles GET /health. Any failing check turns the response into a 503.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	timeout := h.CheckTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	status := healthStatus{Status: "ok", Version: h.Version, InFlight: h.Applications.InFlight()}
	if len(h.Checks) > 0 {
		status.Checks = make(map[string]string, len(h.Checks))
		names := make([]string, 0, len(h.Checks))
		for n := range h.Checks {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, n := range names {
			if err := h.Checks[n](ctx); err != nil {
				status.Checks[n] = "down"
				status.Status = "degraded"
				continue
			}
			status.Checks[n] = "up"
		}
	}

	code := http.StatusOK
	if status.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}
