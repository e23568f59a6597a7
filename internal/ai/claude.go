// Package ai provides the language model completion client used for intent
// classification, reply drafting and operator summaries.
package ai

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

	"go.uber.org/zap"

	"github.com/jkindrix/plumbot/internal/circuitbreaker"
	"github.com/jkindrix/plumbot/internal/config"
	apperrors "github.com/jkindrix/plumbot/internal/errors"
	"github.com/jkindrix/plumbot/internal/metrics"
)

const (
	defaultAPIURL     = "https://api.anthropic.com/v1/messages"
	anthropicVersion  = "2023-06-01"
	defaultMaxTokens  = 300
	maxResponseBytes  = 1 << 20
	breakerName       = "anthropic"
	defaultAPITimeout = 30 * time.Second
)

// Request is one completion call.
type Request struct {
	System      string
	User        string
	Temperature float64
	MaxTokens   int
}

// Completer produces text from a prompt. Every call site treats it as
// unreliable and keeps a deterministic fallback.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Limiter admits model calls against a budget.
type Limiter interface {
	Acquire(ctx context.Context) error
	Release()
}

// ClaudeClient handles communication with the Anthropic Messages API.
type ClaudeClient struct {
	apiKey         string
	model          string
	apiURL         string
	httpClient     *http.Client
	circuitBreaker *circuitbreaker.CircuitBreaker
	limiter        Limiter
	metrics        *metrics.Metrics
	logger         *zap.Logger
}

// Option configures a ClaudeClient.
type Option func(*ClaudeClient)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cc *ClaudeClient) { cc.httpClient = c }
}

// WithMetrics records call outcomes and breaker state.
func WithMetrics(m *metrics.Metrics) Option {
	return func(cc *ClaudeClient) { cc.metrics = m }
}

// WithLimiter refuses calls once the budget is spent.
func WithLimiter(l Limiter) Option {
	return func(cc *ClaudeClient) { cc.limiter = l }
}

// NewClaudeClient creates a new Claude client.
func NewClaudeClient(cfg *config.AnthropicConfig, logger *zap.Logger, opts ...Option) *ClaudeClient {
	if logger == nil {
		panic("logger is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultAPITimeout
	}
	apiURL := cfg.APIURL
	if apiURL == "" {
		apiURL = defaultAPIURL
	}

	c := &ClaudeClient{
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		apiURL:     apiURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.circuitBreaker = circuitbreaker.New(breakerName, circuitbreaker.Config{
		FailureThreshold:    5,
		SuccessThreshold:    2,
		OpenTimeout:         30 * time.Second,
		HalfOpenMaxRequests: 2,
		OnStateChange: func(_ string, _, to circuitbreaker.State) {
			c.metrics.SetCircuitBreakerState(breakerName, int(to))
		},
	}, logger)

	return c
}

// ClaudeRequest represents a request to the Claude API.
type ClaudeRequest struct {
	Model       string          `json:"model"`
	MaxTokens   int             `json:"max_tokens"`
	System      string          `json:"system,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	Messages    []ClaudeMessage `json:"messages"`
}

// ClaudeMessage represents a message in a Claude conversation.
type ClaudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ClaudeResponse represents a response from the Claude API.
type ClaudeResponse struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Role    string `json:"role"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Model      string `json:"model"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// ClaudeError represents an error response from the Claude API.
type ClaudeError struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Configured reports whether an API key is present. Without one every call
// fails fast and callers use their fallbacks.
func (c *ClaudeClient) Configured() bool {
	return c.apiKey != ""
}

// Complete sends one prompt and returns the trimmed text of the first
// content block.
func (c *ClaudeClient) Complete(ctx context.Context, req Request) (string, error) {
	if !c.Configured() {
		return "", apperrors.AIError("ai.Complete", errors.New("no API key configured"))
	}
	if c.limiter != nil {
		if err := c.limiter.Acquire(ctx); err != nil {
			return "", err
		}
		defer c.limiter.Release()
	}

	var result string
	start := time.Now()
	err := c.circuitBreaker.Execute(ctx, func(ctx context.Context) error {
		var execErr error
		result, execErr = c.doComplete(ctx, req)
		return execErr
	})

	if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		c.metrics.RecordAICircuitOpen()
		return "", err
	}
	c.metrics.RecordAICall(err == nil, time.Since(start))
	if err != nil {
		return "", err
	}
	return result, nil
}

// BreakerState returns the current circuit breaker state.
func (c *ClaudeClient) BreakerState() circuitbreaker.State {
	return c.circuitBreaker.State()
}

// ResetCircuitBreaker resets the circuit breaker to closed state.
func (c *ClaudeClient) ResetCircuitBreaker() {
	c.circuitBreaker.Reset()
}

func (c *ClaudeClient) doComplete(ctx context.Context, r Request) (string, error) {
	maxTokens := r.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	temperature := r.Temperature

	reqBody := ClaudeRequest{
		Model:       c.model,
		MaxTokens:   maxTokens,
		System:      r.System,
		Temperature: &temperature,
		Messages:    []ClaudeMessage{{Role: "user", Content: r.User}},
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", apperrors.AIError("ai.Complete", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", apperrors.AIError("ai.Complete", fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		var errResp ClaudeError
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
			return "", apperrors.AIError("ai.Complete", fmt.Errorf("status %d: %s - %s", resp.StatusCode, errResp.Error.Type, errResp.Error.Message))
		}
		return "", apperrors.AIError("ai.Complete", fmt.Errorf("status %d", resp.StatusCode))
	}

	var claudeResp ClaudeResponse
	if err := json.Unmarshal(body, &claudeResp); err != nil {
		return "", apperrors.AIError("ai.Complete", fmt.Errorf("failed to parse response: %w", err))
	}

	var text string
	for _, block := range claudeResp.Content {
		if block.Type == "" || block.Type == "text" {
			text = strings.TrimSpace(block.Text)
			break
		}
	}
	if text == "" {
		return "", apperrors.AIError("ai.Complete", errors.New("empty response"))
	}

	c.logger.Debug("completion received",
		zap.Int("input_tokens", claudeResp.Usage.InputTokens),
		zap.Int("output_tokens", claudeResp.Usage.OutputTokens),
	)

	return text, nil
}

var _ Completer = (*ClaudeClient)(nil)
