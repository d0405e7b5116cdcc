// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package provider implements dispatch.Provider over OpenAI-compatible chat
// completion APIs (OpenAI, OpenRouter, DashScope, a local Ollama /v1, ...).
package provider

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/jeranaias/kgassist/internal/dispatch"
	"github.com/jeranaias/kgassist/internal/tools"
)

// Configuration constants.
const (
	// DefaultBaseURL is the OpenAI-compatible endpoint used when none is set.
	DefaultBaseURL = "https://api.openai.com/v1"

	// DefaultModel is used when none is configured.
	DefaultModel = "gpt-4o-mini"

	// DefaultTimeout bounds one HTTP attempt.
	DefaultTimeout = 60 * time.Second

	// DefaultMaxRetries is the number of attempts for transient errors.
	DefaultMaxRetries = 3

	retryBaseDelay = 500 * time.Millisecond
	retryMaxDelay  = 10 * time.Second

	// MaxResponseSize caps a response body.
	MaxResponseSize = 10 * 1024 * 1024
)

// Error variables for common API errors.
var (
	// ErrNotConfigured indicates the API key is not set for a remote endpoint.
	ErrNotConfigured = errors.New("provider API key not configured")

	// ErrAuthFailed indicates an invalid or expired API key.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrRateLimited indicates too many requests were made.
	ErrRateLimited = errors.New("rate limited")

	// ErrModelNotFound indicates the requested model does not exist.
	ErrModelNotFound = errors.New("model not found")

	// ErrEmptyResponse indicates the API returned no choices.
	ErrEmptyResponse = errors.New("empty response")
)

// APIError is an error returned by the completion API.
type APIError struct {
	Code    string
	Message string
	Status  int
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("provider error [%s] (HTTP %d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("provider error (HTTP %d): %s", e.Status, e.Message)
}

// =============================================================================
// WIRE TYPES
// =============================================================================

type chatMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	Name       string         `json:"name,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
}

type wireToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type chatRequest struct {
	Model       string               `json:"model"`
	Messages    []chatMessage        `json:"messages"`
	Stream      bool                 `json:"stream"`
	Temperature float64              `json:"temperature,omitempty"`
	MaxTokens   int                  `json:"max_tokens,omitempty"`
	Tools       []tools.FunctionTool `json:"tools,omitempty"`
	ToolChoice  string               `json:"tool_choice,omitempty"`
	User        string               `json:"user,omitempty"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type apiErrorResponse struct {
	Error struct {
		Code    any    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// =============================================================================
// CLIENT
// =============================================================================

// Client calls an OpenAI-compatible chat completions endpoint.
// It is safe for concurrent use.
type Client struct {
	apiKey      string
	baseURL     string
	model       string
	temperature float64
	maxRetries  int
	httpClient  *http.Client
	limiter     *rate.Limiter
	logger      zerolog.Logger
}

// Options configures a Client.
type Options struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	Timeout     time.Duration
	MaxRetries  int
	// RequestsPerSecond throttles outgoing calls (0 = unlimited).
	RequestsPerSecond float64
	// HTTPClient overrides the transport (tests).
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// New creates a client. Missing fields take the package defaults.
func New(opts Options) *Client {
	c := &Client{
		apiKey:      strings.TrimSpace(opts.APIKey),
		baseURL:     strings.TrimSuffix(opts.BaseURL, "/"),
		model:       opts.Model,
		temperature: opts.Temperature,
		maxRetries:  opts.MaxRetries,
		httpClient:  opts.HTTPClient,
		logger:      opts.Logger,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.model == "" {
		c.model = DefaultModel
	}
	if c.maxRetries <= 0 {
		c.maxRetries = DefaultMaxRetries
	}
	if c.httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		c.httpClient = &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		}
	}
	if opts.RequestsPerSecond > 0 {
		burst := int(opts.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	return c
}

var _ dispatch.Provider = (*Client)(nil)

// Model returns the configured model.
func (c *Client) Model() string {
	return c.model
}

// IsConfigured reports whether requests can be sent. Loopback endpoints
// (a local Ollama, for instance) need no key.
func (c *Client) IsConfigured() bool {
	return c.apiKey != "" || isLoopback(c.baseURL)
}

// KeyFingerprint identifies the API key in logs without exposing it.
func (c *Client) KeyFingerprint() string {
	if c.apiKey == "" {
		return "none"
	}
	h := sha256.Sum256([]byte(c.apiKey))
	return hex.EncodeToString(h[:4])
}

// Complete sends one chat completion, retrying rate limits and 5xx responses
// with exponential backoff.
func (c *Client) Complete(ctx context.Context, req dispatch.CompletionRequest) (*dispatch.Completion, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}

	body := c.buildRequest(req)

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(calculateBackoff(attempt)):
			}
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		resp, err := c.doRequest(ctx, body)
		if err == nil {
			return toCompletion(resp)
		}
		if !isRetryable(err) {
			return nil, err
		}
		lastErr = err
		c.logger.Warn().Err(err).Int("attempt", attempt+1).Msg("PROVIDER_RETRY")
	}
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (c *Client) buildRequest(req dispatch.CompletionRequest) chatRequest {
	out := chatRequest{
		Model:       c.model,
		Messages:    make([]chatMessage, 0, len(req.Messages)),
		Temperature: c.temperature,
		MaxTokens:   req.MaxTokens,
		Tools:       tools.ToFunctionTools(req.Tools),
		User:        req.UserID,
	}
	if len(out.Tools) > 0 {
		out.ToolChoice = "auto"
	}
	for _, m := range req.Messages {
		cm := chatMessage{Role: m.Role, Content: m.Content, Name: m.Name, ToolCallID: m.ToolCallID}
		for _, call := range m.ToolCalls {
			var wc wireToolCall
			wc.ID = call.ID
			wc.Type = "function"
			wc.Function.Name = call.Name
			args, err := json.Marshal(call.Params)
			if err != nil || call.Params == nil {
				args = []byte("{}")
			}
			wc.Function.Arguments = string(args)
			cm.ToolCalls = append(cm.ToolCalls, wc)
		}
		out.Messages = append(out.Messages, cm)
	}
	return out
}

func (c *Client) doRequest(ctx context.Context, body chatRequest) (*chatResponse, error) {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "kgassist/1.0")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	c.logger.Debug().
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Str("model", c.model).
		Msg("PROVIDER_RESPONSE")

	raw, err := readResponse(resp)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, handleErrorResponse(resp.StatusCode, raw)
	}

	var out chatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &out, nil
}

func toCompletion(resp *chatResponse) (*dispatch.Completion, error) {
	if len(resp.Choices) == 0 {
		return nil, ErrEmptyResponse
	}
	choice := resp.Choices[0]
	out := &dispatch.Completion{
		Text:         strings.TrimSpace(choice.Message.Content),
		TokensUsed:   resp.Usage.TotalTokens,
		FinishReason: choice.FinishReason,
		Model:        resp.Model,
	}
	for _, wc := range choice.Message.ToolCalls {
		params := map[string]any{}
		if wc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(wc.Function.Arguments), &params); err != nil {
				params = map[string]any{"query": wc.Function.Arguments}
			}
		}
		out.ToolCalls = append(out.ToolCalls, tools.ToolCall{ID: wc.ID, Name: wc.Function.Name, Params: params})
	}
	return out, nil
}

// readResponse reads the body with a size limit.
func readResponse(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(body)) == MaxResponseSize {
		return nil, fmt.Errorf("response exceeded maximum size of %d bytes", MaxResponseSize)
	}
	return body, nil
}

// handleErrorResponse converts HTTP error responses to errors.
func handleErrorResponse(status int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	code := ""
	var apiErr apiErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		msg = apiErr.Error.Message
		if apiErr.Error.Code != nil {
			code = fmt.Sprint(apiErr.Error.Code)
		}
	}

	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrAuthFailed, msg)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrModelNotFound, msg)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", ErrRateLimited, msg)
	default:
		return &APIError{Code: code, Message: msg, Status: status}
	}
}

// isRetryable reports whether err should trigger another attempt.
func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= 500 && apiErr.Status < 600
	}
	return false
}

// calculateBackoff returns the delay before the given attempt:
// 500ms, 1s, 2s, ... capped at retryMaxDelay.
func calculateBackoff(attempt int) time.Duration {
	delay := retryBaseDelay * time.Duration(1<<uint(attempt-1))
	if delay > retryMaxDelay {
		delay = retryMaxDelay
	}
	return delay
}

func isLoopback(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
