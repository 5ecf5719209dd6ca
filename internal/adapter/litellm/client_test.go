package litellm_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/adapter/litellm"
	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/resilience"
)

func TestComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method: %s", r.Method)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Fatalf("unexpected auth: %q", auth)
		}

		var req litellm.ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if req.Model != "gpt-4o-mini" || len(req.Messages) != 2 {
			t.Fatalf("unexpected request: %+v", req)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model": "gpt-4o-mini-2024",
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": "  You qualify.  "}},
			},
		})
	}))
	defer srv.Close()

	client := litellm.NewClient(srv.URL+"/", "test-key", time.Second)
	text, model, err := client.Complete(context.Background(), litellm.ChatRequest{
		Model: "gpt-4o-mini",
		Messages: []litellm.ChatMessage{
			{Role: "system", Content: "explain"},
			{Role: "user", Content: "score 0.8"},
		},
	})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if text != "You qualify." || model != "gpt-4o-mini-2024" {
		t.Fatalf("unexpected result: %q %q", text, model)
	}
}

func TestCompleteEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	client := litellm.NewClient(srv.URL, "", time.Second)
	if _, _, err := client.Complete(context.Background(), litellm.ChatRequest{Model: "m"}); err == nil {
		t.Fatal("expected error for empty response")
	}
}

func TestStatusErrorClassification(t *testing.T) {
	tests := []struct {
		code      int
		retryable bool
	}{
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
		{http.StatusTooManyRequests, true},
		{http.StatusBadGateway, true},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "nope", tt.code)
		}))

		client := litellm.NewClient(srv.URL, "", time.Second)
		_, _, err := client.Complete(context.Background(), litellm.ChatRequest{Model: "m"})
		srv.Close()

		var se *litellm.StatusError
		if !errors.As(err, &se) || se.Code != tt.code {
			t.Fatalf("code %d: expected StatusError, got %v", tt.code, err)
		}
		if got := litellm.IsRetryable(err); got != tt.retryable {
			t.Errorf("code %d: retryable = %v, want %v", tt.code, got, tt.retryable)
		}
	}
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health/liveliness" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`"I'm alive!"`))
	}))
	defer srv.Close()

	ok, err := litellm.NewClient(srv.URL, "", time.Second).Health(context.Background())
	if !ok || err != nil {
		t.Fatalf("Health = %v, %v", ok, err)
	}
}

func TestBreakerOpensAfterFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := litellm.NewClient(srv.URL, "", time.Second)
	client.SetBreaker(resilience.NewBreaker(2, time.Minute))

	ctx := context.Background()
	for range 3 {
		_, _, _ = client.Complete(ctx, litellm.ChatRequest{Model: "m"})
	}
	if n := calls.Load(); n != 2 {
		t.Fatalf("expected 2 calls before the breaker opened, got %d", n)
	}
	_, _, err := client.Complete(ctx, litellm.ChatRequest{Model: "m"})
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestKeySourceRotates(t *testing.T) {
	var seen atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen.Store(r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	var key atomic.Value
	key.Store("first")
	client := litellm.NewClient(srv.URL, "static", time.Second)
	client.SetKeySource(func() string { return key.Load().(string) })

	if _, err := client.Health(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := seen.Load(); got != "Bearer first" {
		t.Fatalf("expected rotated key, got %v", got)
	}

	key.Store("second")
	if _, err := client.Health(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := seen.Load(); got != "Bearer second" {
		t.Fatalf("expected second key, got %v", got)
	}
}
