// Package llm abstracts the policy-oracle calls made by the strategic
// agent and the safety guardian behind one small interface, so callers never depend on a concrete
// model provider. An HTTP client targets any OpenAI-compatible chat
// completion endpoint; a mock client drives deterministic tests and the
// no-external-dependency demo mode.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Role identifies which control-plane component a Client was built for.
// The startup wiring only logs it; the model name is passed separately.
type Role string

const (
	RoleStrategic Role = "strategic"
	RoleZone      Role = "zone"
	RoleGuardian  Role = "guardian"
)

// Client completes a single prompt and returns the raw text response.
// Implementations must be safe for concurrent use.
type Client interface {
	Complete(ctx context.Context, prompt string, temperature float64) (string, error)
	Model() string
}

// Config is the subset of internal/config.LLMConfig a Client needs.
type Config struct {
	BaseURL        string
	APIKey         string
	Model          string
	ContextWindow  int
	RequestTimeout time.Duration
}

// HTTPClient calls an OpenAI-compatible /chat/completions endpoint.
type HTTPClient struct {
	cfg    Config
	client *http.Client
}

// NewHTTPClient constructs a Client bound to cfg.Model, reached over
// cfg.BaseURL with the standard OpenAI chat completion wire shape.
func NewHTTPClient(cfg Config) *HTTPClient {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) Model() string { return c.cfg.Model }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Complete sends prompt as a single user message and returns the first
// choice's content.
func (c *HTTPClient) Complete(ctx context.Context, prompt string, temperature float64) (string, error) {
	reqBody, err := json.Marshal(chatRequest{
		Model:       c.cfg.Model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: temperature,
	})
	if err != nil {
		return "", fmt.Errorf("llm: failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("llm: failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("llm: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("llm: failed to read response: %w", err)
	}

	var out chatResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("llm: failed to parse response: %w", err)
	}
	if out.Error != nil {
		return "", fmt.Errorf("llm: provider error: %s", out.Error.Message)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("llm: response carried no choices")
	}
	return out.Choices[0].Message.Content, nil
}

// MockClient returns a caller-supplied canned response, used in tests and
// in demo mode where no real model endpoint is configured.
type MockClient struct {
	model    string
	Respond  func(prompt string) string
}

// NewMockClient constructs a MockClient. If respond is nil, Complete
// always returns the fixed safe/low-risk JSON shape the guardian expects.
func NewMockClient(model string, respond func(prompt string) string) *MockClient {
	if respond == nil {
		respond = func(string) string {
			return `{"safe": true, "risk_level": "LOW", "reasoning": "mock client, no policy oracle configured", "conditions": []}`
		}
	}
	return &MockClient{model: model, Respond: respond}
}

func (m *MockClient) Model() string { return m.model }

func (m *MockClient) Complete(_ context.Context, prompt string, _ float64) (string, error) {
	return m.Respond(prompt), nil
}
