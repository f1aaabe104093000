// Package aigateway calls the upstream chat-completions API with a forced
// function call and returns the structured arguments. Every request leaves the
// process through the egress guard.
package aigateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/pablocopete/IBM/internal/apierror"
	"github.com/pablocopete/IBM/internal/egress"
)

const (
	DefaultURL   = "https://ai.gateway.lovable.dev/v1/chat/completions"
	DefaultModel = "google/gemini-2.5-flash"

	// DefaultTimeout bounds one completion, including reading the body.
	DefaultTimeout = 60 * time.Second

	maxResponseBytes = 4 << 20
	maxErrorSnippet  = 512

	// MsgPaymentRequired is shown when the gateway workspace is out of credits.
	MsgPaymentRequired = "Payment required. Please add credits to your Lovable AI workspace."
)

var (
	// ErrNotConfigured is returned when no API key is set.
	ErrNotConfigured = errors.New("AI gateway API key is not configured")
	// ErrNoToolCall is returned when the model answered without calling the tool.
	ErrNoToolCall = errors.New("no tool call in AI response")
)

// Config holds the gateway endpoint settings. Zero values take the defaults.
type Config struct {
	URL     string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Prompt is the system and user message pair of one completion.
type Prompt struct {
	System string
	User   string
}

// Tool is the function the model is forced to call.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Client sends tool-call completions through an egress guard.
type Client struct {
	guard   *egress.Guard
	url     string
	apiKey  string
	model   string
	timeout time.Duration
}

// NewClient returns a client that performs every request via guard.
func NewClient(guard *egress.Guard, cfg Config) *Client {
	c := &Client{
		guard:   guard,
		url:     cfg.URL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		timeout: cfg.Timeout,
	}
	if c.url == "" {
		c.url = DefaultURL
	}
	if c.model == "" {
		c.model = DefaultModel
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	return c
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type toolSpec struct {
	Type     string `json:"type"`
	Function Tool   `json:"function"`
}

type toolChoice struct {
	Type     string `json:"type"`
	Function struct {
		Name string `json:"name"`
	} `json:"function"`
}

type chatRequest struct {
	Model      string        `json:"model"`
	Messages   []chatMessage `json:"messages"`
	Tools      []toolSpec    `json:"tools"`
	ToolChoice toolChoice    `json:"tool_choice"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			ToolCalls []struct {
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
}

// CallTool asks the model to answer prompt by calling tool and returns the
// call's JSON arguments.
func (c *Client) CallTool(ctx context.Context, prompt Prompt, tool Tool) (json.RawMessage, error) {
	if c.apiKey == "" {
		return nil, ErrNotConfigured
	}

	reqBody := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: prompt.System},
			{Role: "user", Content: prompt.User},
		},
		Tools: []toolSpec{{Type: "function", Function: tool}},
	}
	reqBody.ToolChoice.Type = "function"
	reqBody.ToolChoice.Function.Name = tool.Name

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create completion request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.guard.SecureFetch(ctx, req, c.timeout)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading completion: %w", egress.ErrUpstream, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, statusError(tool.Name, resp.StatusCode, respBody)
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("%w: decoding completion: %w", egress.ErrUpstream, err)
	}
	if len(parsed.Choices) == 0 || len(parsed.Choices[0].Message.ToolCalls) == 0 {
		return nil, ErrNoToolCall
	}

	args := parsed.Choices[0].Message.ToolCalls[0].Function.Arguments
	if !json.Valid([]byte(args)) {
		return nil, fmt.Errorf("%w: tool arguments are not JSON", egress.ErrUpstream)
	}
	return json.RawMessage(args), nil
}

func statusError(tool string, status int, body []byte) error {
	snippet := body
	if len(snippet) > maxErrorSnippet {
		snippet = snippet[:maxErrorSnippet]
	}
	slog.Warn("AI gateway error", "tool", tool, "status", status)

	cause := fmt.Errorf("%w: AI gateway status %d: %s", egress.ErrUpstream, status, snippet)
	switch status {
	case http.StatusTooManyRequests:
		return apierror.New(apierror.KindRateLimited, apierror.MsgRateLimited, cause)
	case http.StatusPaymentRequired:
		return apierror.New(apierror.KindUpstream, MsgPaymentRequired, cause)
	}
	return apierror.New(apierror.KindUpstream, apierror.MsgUpstream, cause)
}
