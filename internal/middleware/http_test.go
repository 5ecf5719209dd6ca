package middleware

import (
	"bufio"
	"bytes"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
)

type hijackableRecorder struct {
	*httptest.ResponseRecorder
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return nil, nil, nil
}

func TestStatusWriterHijack(t *testing.T) {
	rw := &statusWriter{ResponseWriter: &hijackableRecorder{httptest.NewRecorder()}, status: http.StatusOK}
	hj, ok := http.ResponseWriter(rw).(http.Hijacker)
	if !ok {
		t.Fatal("statusWriter does not implement http.Hijacker")
	}
	if _, _, err := hj.Hijack(); err != nil {
		t.Fatalf("Hijack returned unexpected error: %v", err)
	}
}

func TestStatusWriterHijackFallback(t *testing.T) {
	rw := &statusWriter{ResponseWriter: httptest.NewRecorder(), status: http.StatusOK}
	if _, _, err := rw.Hijack(); err == nil {
		t.Fatal("expected error when upstream does not implement Hijacker")
	}
}

func TestStatusWriterFlush(t *testing.T) {
	inner := httptest.NewRecorder()
	rw := &statusWriter{ResponseWriter: inner, status: http.StatusOK}
	rw.Flush()
	if !inner.Flushed {
		t.Fatal("expected inner ResponseRecorder to be flushed")
	}
}

func TestLoggerRecordsStatusAndRequestID(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))
	h := RequestID(Logger(log)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/applications", http.NoBody)
	req.Header.Set("X-Request-ID", "req-42")
	h.ServeHTTP(httptest.NewRecorder(), req)

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log line is not JSON: %v (%s)", err, buf.String())
	}
	if line["status"] != float64(http.StatusAccepted) || line["request_id"] != "req-42" {
		t.Fatalf("unexpected log line %v", line)
	}
}

func TestCORSPreflight(t *testing.T) {
	called := false
	h := CORS("http://localhost:3000")(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/v1/applications", http.NoBody))
	if rec.Code != http.StatusNoContent || called {
		t.Fatalf("expected preflight short-circuit, got %d (called=%v)", rec.Code, called)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "http://localhost:3000" {
		t.Fatal("missing allow-origin header")
	}
}

func TestSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SecurityHeaders(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	for _, h := range []string{"X-Content-Type-Options", "X-Frame-Options", "Content-Security-Policy"} {
		if rec.Header().Get(h) == "" {
			t.Errorf("missing %s", h)
		}
	}
}
