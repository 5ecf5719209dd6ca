// Package litellm provides an HTTP client for the LiteLLM Proxy, used to
// draft applicant-facing explanations.
package litellm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lucidAkhtar/Social-Support-Agentic-AI/internal/resilience"
)

// StatusError is returned for non-2xx responses from the proxy.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("litellm API error %d: %s", e.Code, e.Body)
}

// Retryable reports whether the failure may succeed on a later attempt.
func (e *StatusError) Retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// IsRetryable reports whether err is a transport failure or a retryable
// status from the proxy.
func IsRetryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return err != nil
}

// ChatMessage is one turn of a chat completion request.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the OpenAI-compatible chat completion request body.
type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message ChatMessage `json:"message"`
	} `json:"choices"`
}

// Client talks to the LiteLLM Proxy.
type Client struct {
	baseURL    string
	masterKey  func() string
	httpClient *http.Client
	breaker    *resilience.Breaker
}

// NewClient creates a new LiteLLM client.
func NewClient(baseURL, masterKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		masterKey: func() string { return masterKey },
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// SetKeySource makes the client read the master key from fn on every
// request, so rotated keys apply without a restart.
func (c *Client) SetKeySource(fn func() string) {
	if fn != nil {
		c.masterKey = fn
	}
}

// SetBreaker attaches a circuit breaker to all outgoing HTTP calls.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

// Complete sends a chat completion and returns the first choice's content
// and the model that served it.
func (c *Client) Complete(ctx context.Context, req ChatRequest) (text, model string, err error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", "", fmt.Errorf("marshal chat request: %w", err)
	}

	resp, err := c.doRequest(ctx, http.MethodPost, "/v1/chat/completions", body)
	if err != nil {
		return "", "", fmt.Errorf("chat completion: %w", err)
	}

	var out chatResponse
	if err := json.Unmarshal(resp, &out); err != nil {
		return "", "", fmt.Errorf("unmarshal chat response: %w", err)
	}
	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		return "", "", errors.New("chat completion: empty response")
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), out.Model, nil
}

// Health checks if LiteLLM is healthy.
func (c *Client) Health(ctx context.Context) (bool, error) {
	_, err := c.doRequest(ctx, http.MethodGet, "/health/liveliness", nil)
	return err == nil, err
}

func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var result []byte
	call := func() error {
		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}

		req.Header.Set("Content-Type", "application/json")
		if key := c.masterKey(); key != "" {
			req.Header.Set("Authorization", "Bearer "+key)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("http request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}

		if resp.StatusCode >= 400 {
			return &StatusError{Code: resp.StatusCode, Body: string(data)}
		}

		result = data
		return nil
	}

	if c.breaker != nil {
		if err := c.breaker.Execute(call); err != nil {
			return nil, err
		}
		return result, nil
	}

	if err := call(); err != nil {
		return nil, err
	}
	return result, nil
}
