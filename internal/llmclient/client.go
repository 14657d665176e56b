// Package llmclient talks to OpenAI-compatible chat completion endpoints.
package llmclient

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

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hattiebot/familiar/internal/core"
	"github.com/hattiebot/familiar/internal/metrics"
)

var tracer = otel.Tracer("github.com/hattiebot/familiar/internal/llmclient")

// Config selects the endpoint and model.
type Config struct {
	Provider   string
	Model      string
	APIKey     string
	BaseURL    string // overrides the provider's default
	Timeout    time.Duration
	MaxRetries int
}

// Client calls an OpenAI-compatible chat completions API.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	provider   string
	maxRetries int
	backoff    time.Duration

	HTTP   *http.Client
	log    zerolog.Logger
	health *Health
}

// New creates a client for cfg.
func New(cfg Config, log zerolog.Logger) (*Client, error) {
	base := cfg.BaseURL
	if base == "" {
		u, err := BaseURL(cfg.Provider)
		if err != nil {
			return nil, err
		}
		base = u
	}
	if cfg.Model == "" {
		return nil, errors.New("llm: model not set")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm: API key for %s not set", cfg.Provider)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Client{
		baseURL:    strings.TrimRight(base, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		provider:   cfg.Provider,
		maxRetries: cfg.MaxRetries,
		backoff:    time.Second,
		HTTP:       &http.Client{Timeout: timeout},
		log:        log.With().Str("component", "llm").Str("provider", cfg.Provider).Logger(),
		health:     &Health{},
	}, nil
}

func (c *Client) Provider() string { return c.provider }

func (c *Client) Model() string { return c.model }

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string                `json:"model"`
	Messages       []core.Message        `json:"messages"`
	Tools          []core.ToolDefinition `json:"tools,omitempty"`
	ToolChoice     string                `json:"tool_choice,omitempty"`
	ResponseFormat *responseFormat       `json:"response_format,omitempty"`
	Stream         bool                  `json:"stream,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content   json.RawMessage `json:"content"`
			Role      string          `json:"role"`
			ToolCalls []core.ToolCall `json:"tool_calls,omitempty"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *Client) buildRequest(req core.CompletionRequest, stream bool) chatRequest {
	body := chatRequest{
		Model:    c.model,
		Messages: req.Messages,
		Stream:   stream,
	}
	if len(req.Tools) > 0 {
		body.Tools = req.Tools
		body.ToolChoice = req.ToolChoice
		if body.ToolChoice == "" {
			body.ToolChoice = "auto"
		}
	}
	if req.JSONMode {
		body.ResponseFormat = &responseFormat{Type: "json_object"}
	}
	return body
}

func (c *Client) newHTTPRequest(ctx context.Context, raw []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	return req, nil
}

// ChatCompletion sends a non-streaming request and returns the assistant message.
// Network errors, 429 and 5xx responses are retried with exponential backoff.
func (c *Client) ChatCompletion(ctx context.Context, req core.CompletionRequest) (_ *core.Completion, err error) {
	ctx, span := c.startSpan(ctx, "llm.chat_completion", req, false)
	start := time.Now()
	defer func() { c.finish(span, "complete", start, err) }()

	raw, err := json.Marshal(c.buildRequest(req, false))
	if err != nil {
		return nil, err
	}

	backoff := c.backoff
	var bodyBytes []byte
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			c.log.Warn().Err(err).Int("attempt", attempt).Dur("backoff", backoff).Msg("retrying completion")
			select {
			case <-ctx.Done():
				return nil, transportErr("chat completion", ctx.Err())
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		bodyBytes, err = c.do(ctx, raw)
		if err == nil {
			break
		}
		var apiErr *APIError
		retryable := ctx.Err() == nil && (!errors.As(err, &apiErr) || apiErr.retryable())
		if !retryable || attempt >= c.maxRetries {
			return nil, err
		}
	}

	var out chatResponse
	if err := json.Unmarshal(bodyBytes, &out); err != nil {
		return nil, transportErr("decode response", err)
	}
	if out.Error != nil {
		return nil, transportErr("chat completion", errors.New(out.Error.Message))
	}
	if len(out.Choices) == 0 {
		return nil, transportErr("chat completion", fmt.Errorf("no choices in response (body: %s)", string(bodyBytes)))
	}
	choice := out.Choices[0]
	return &core.Completion{
		Content:      parseContent(choice.Message.Content),
		ToolCalls:    choice.Message.ToolCalls,
		Model:        out.Model,
		FinishReason: choice.FinishReason,
	}, nil
}

func (c *Client) do(ctx context.Context, raw []byte) ([]byte, error) {
	req, err := c.newHTTPRequest(ctx, raw)
	if err != nil {
		return nil, transportErr("build request", err)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, transportErr("chat completion", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportErr("read response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{Status: resp.StatusCode, Body: truncate(string(body), 512)}
	}
	return body, nil
}

func (c *Client) startSpan(ctx context.Context, name string, req core.CompletionRequest, stream bool) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("llm.provider", c.provider),
		attribute.String("llm.model", c.model),
		attribute.Int("llm.messages", len(req.Messages)),
		attribute.Int("llm.tools", len(req.Tools)),
		attribute.Bool("llm.json_mode", req.JSONMode),
		attribute.Bool("llm.stream", stream),
	))
}

func (c *Client) finish(span trace.Span, mode string, start time.Time, err error) {
	metrics.LLMLatency.WithLabelValues(mode).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.LLMRequests.WithLabelValues(mode, "error").Inc()
		c.health.RecordError(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		metrics.LLMRequests.WithLabelValues(mode, "ok").Inc()
		c.health.RecordSuccess()
	}
	span.End()
}

// parseContent parses API content that may be string, null, or array of parts (e.g. [{"type":"text","text":"..."}]).
func parseContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var parts []map[string]any
	if err := json.Unmarshal(raw, &parts); err != nil {
		return ""
	}
	var b strings.Builder
	for _, p := range parts {
		if t, ok := p["text"].(string); ok {
			b.WriteString(t)
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

var _ core.LLMClient = (*Client)(nil)
