// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cloud provides the client for OpenAI-compatible hosted
// completion APIs.
//
// CLOUD: Secure logging, retry logic, and streaming
package cloud

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/morganforge/parley/internal/stream"
)

// Configuration constants for the cloud API.
const (
	// DefaultBaseURL is the default completion API base URL.
	DefaultBaseURL = "https://openrouter.ai/api/v1"

	// DefaultTimeout is the default timeout for non-streaming requests.
	DefaultTimeout = 60 * time.Second

	// DefaultMaxRetries is the retry budget for transient errors.
	DefaultMaxRetries = 3

	// retryBaseDelay is the base delay for exponential backoff.
	retryBaseDelay = 500 * time.Millisecond

	// retryMaxDelay caps the exponential backoff.
	retryMaxDelay = 10 * time.Second

	// MaxResponseSize limits non-streaming response bodies.
	// SECURITY: Response size limit prevents memory exhaustion.
	MaxResponseSize = 10 * 1024 * 1024
)

var (
	// PERFORMANCE: Connection pooling reduces TCP handshake overhead.
	sharedHTTPClient = &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		},
		Timeout: DefaultTimeout,
	}

	// sharedStreamingClient has no client timeout. A wall-clock timeout
	// would kill long generations mid-stream; cancellation is the
	// caller's context.
	sharedStreamingClient = &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		},
	}
)

// =============================================================================
// WIRE TYPES
// =============================================================================

// ChatMessage is a single message on the wire.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the chat completions request body.
type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Stream      bool          `json:"stream"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

// ChatResponse is the non-streaming chat completions response body.
type ChatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      ChatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// GetContent returns the content of the first choice, or empty string.
func (r *ChatResponse) GetContent() string {
	if len(r.Choices) > 0 {
		return r.Choices[0].Message.Content
	}
	return ""
}

// ModelInfo describes one model the API offers.
type ModelInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ContextSize int    `json:"context_length"`
}

type modelsResponse struct {
	Data []ModelInfo `json:"data"`
}

// =============================================================================
// CLIENT
// =============================================================================

// Client talks to an OpenAI-compatible chat completions API.
type Client struct {
	apiKey       string
	baseURL      string
	maxRetries   int
	httpClient   *http.Client
	streamClient *http.Client
}

// NewClient creates a client with the shared pooled transports.
func NewClient(apiKey string) *Client {
	return &Client{
		apiKey:       apiKey,
		baseURL:      DefaultBaseURL,
		maxRetries:   DefaultMaxRetries,
		httpClient:   sharedHTTPClient,
		streamClient: sharedStreamingClient,
	}
}

// WithBaseURL overrides the API base URL. Used in tests and for
// self-hosted gateways.
func (c *Client) WithBaseURL(url string) *Client {
	c.baseURL = strings.TrimRight(url, "/")
	return c
}

// WithMaxRetries overrides the retry budget for non-streaming calls.
func (c *Client) WithMaxRetries(n int) *Client {
	c.maxRetries = n
	return c
}

// IsConfigured reports whether an API key is present.
func (c *Client) IsConfigured() bool {
	return c.apiKey != ""
}

// APIKeyMasked returns a redacted form of the key, safe for logs.
func (c *Client) APIKeyMasked() string {
	if len(c.apiKey) <= 8 {
		return "***"
	}
	return c.apiKey[:4] + "..." + c.apiKey[len(c.apiKey)-4:]
}

// setHeaders sets the common request headers.
// SECURITY: The key travels only in the Authorization header, never in
// URLs or logs.
func (c *Client) setHeaders(req *http.Request, streaming bool) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "parley/0.1")
	if streaming {
		req.Header.Set("Accept", "text/event-stream")
	}
}

func (c *Client) logResponse(resp *http.Response, duration time.Duration) {
	log.Printf("cloud: %d %s (%v)", resp.StatusCode, resp.Request.URL.Path, duration)
}

// =============================================================================
// STREAMING CHAT
// =============================================================================

// ChatStream POSTs a streaming completion request and calls onFragment
// for each content fragment in arrival order.
//
// Cancellation: cancel ctx. The in-flight read fails and the error
// returned wraps context.Canceled.
func (c *Client) ChatStream(ctx context.Context, req ChatRequest, onFragment func(fragment string) error) error {
	if !c.IsConfigured() {
		return ErrNotConfigured
	}

	req.Stream = true
	bodyBytes, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(httpReq, true)

	start := time.Now()
	resp, err := c.streamClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	c.logResponse(resp, time.Since(start))

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
		return errorFromResponse(resp.StatusCode, body)
	}

	err = stream.Drain(stream.NewDecoder(resp.Body, stream.FramingSSE), onFragment)
	if err != nil {
		// Body reads after cancellation surface as url.Error wrapping
		// context.Canceled, which callers test with errors.Is.
		return fmt.Errorf("stream failed: %w", err)
	}
	return nil
}

// =============================================================================
// NON-STREAMING CHAT
// =============================================================================

// Chat POSTs a blocking completion request and returns the full response.
// Used when streaming is disabled in settings.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}

	req.Stream = false
	bodyBytes, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(calculateBackoff(attempt - 1)):
			}
		}

		resp, err := c.doChat(ctx, bodyBytes)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !isRetryable(err) {
			return nil, err
		}
		log.Printf("cloud: retrying after error (attempt %d/%d): %v", attempt+1, c.maxRetries, err)
	}
	return nil, lastErr
}

func (c *Client) doChat(ctx context.Context, body []byte) (*ChatResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(httpReq, false)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	c.logResponse(resp, time.Since(start))

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errorFromResponse(resp.StatusCode, respBody)
	}

	var chatResp ChatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &chatResp, nil
}

// =============================================================================
// MODELS
// =============================================================================

// ListModels retrieves the models the API offers.
func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(httpReq, false)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errorFromResponse(resp.StatusCode, body)
	}

	var models modelsResponse
	if err := json.Unmarshal(body, &models); err != nil {
		return nil, fmt.Errorf("failed to decode models: %w", err)
	}
	return models.Data, nil
}

// =============================================================================
// RETRY HELPERS
// =============================================================================

// isRetryable reports whether the error is worth another attempt.
func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Status >= 500 && statusErr.Status < 600
	}
	return false
}

// calculateBackoff returns the exponential backoff delay for an attempt.
func calculateBackoff(attempt int) time.Duration {
	delay := retryBaseDelay * time.Duration(1<<uint(attempt))
	if delay > retryMaxDelay {
		delay = retryMaxDelay
	}
	return delay
}
