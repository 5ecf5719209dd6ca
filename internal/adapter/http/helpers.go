package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/domain"
	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/service"
)

const defaultBodyLimit = 1 << 20 // 1 MB

// ---------------------------------------------------------------------------
// Request helpers
// ---------------------------------------------------------------------------

// readJSON decodes a JSON request body with a size limit. Unknown fields are
// rejected.
func readJSON[T any](w http.ResponseWriter, r *http.Request, bodyLimit int64) (T, bool) {
	var v T
	if bodyLimit <= 0 {
		bodyLimit = defaultBodyLimit
	}
	r.Body = http.MaxBytesReader(w, r.Body, bodyLimit)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		} else {
			writeError(w, http.StatusBadRequest, "invalid request body")
		}
		return v, false
	}
	return v, true
}

// urlParam is a short alias for chi.URLParam.
func urlParam(r *http.Request, name string) string {
	return chi.URLParam(r, name)
}

// sanitizeName validates a path parameter used as a key or file name.
// It rejects names containing path separators, dots-prefix, or other traversal patterns.
func sanitizeName(name string) error {
	if name == "" {
		return errors.New("name is required")
	}
	if len(name) > 128 {
		return errors.New("name too long (max 128 chars)")
	}
	if strings.ContainsAny(name, `/\`) {
		return errors.New("name must not contain path separators")
	}
	if strings.Contains(name, "..") {
		return errors.New("name must not contain '..'")
	}
	if name[0] == '.' {
		return errors.New("name must not start with '.'")
	}
	if filepath.Clean(name) != name {
		return errors.New("name contains invalid path characters")
	}
	return nil
}

// pathName reads and sanitizes a path parameter, writing a 400 on failure.
func pathName(w http.ResponseWriter, r *http.Request, param string) (string, bool) {
	name := urlParam(r, param)
	if err := sanitizeName(name); err != nil {
		writeError(w, http.StatusBadRequest, param+": "+err.Error())
		return "", false
	}
	return name, true
}

// ---------------------------------------------------------------------------
// Response helpers
// ---------------------------------------------------------------------------

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

func writeDomainError(w http.ResponseWriter, err error, fallbackMsg string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, fallbackMsg)
	case errors.Is(err, domain.ErrConflict):
		writeError(w, http.StatusConflict, reason(err, domain.ErrConflict, "resource is in a conflicting state"))
	case errors.Is(err, domain.ErrValidation):
		writeError(w, http.StatusBadRequest, reason(err, domain.ErrValidation, "invalid request"))
	case errors.Is(err, service.ErrShuttingDown):
		w.Header().Set("Retry-After", "5")
		writeError(w, http.StatusServiceUnavailable, "service is shutting down")
	default:
		writeInternalError(w, err)
	}
}

// reason strips the wrapped sentinel from err's message so clients see the
// cause only.
func reason(err, sentinel error, fallback string) string {
	msg := err.Error()
	if i := strings.LastIndex(msg, ": "+sentinel.Error()); i > 0 {
		return msg[:i]
	}
	return fallback
}

// writeInternalError logs the actual error server-side and returns a generic message to the client.
func writeInternalError(w http.ResponseWriter, err error) {
	slog.Error("request failed", "error", err)
	writeError(w, http.StatusInternalServerError, "internal server error")
}
