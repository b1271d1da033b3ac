// Package llmclient is the LLM Client Adapter: one instance per API
// credential, each with its own rate limiter and its own upload/poll/
// generate/delete lifecycle. Instances are never shared or reused as a
// global singleton across credentials -- a file uploaded under one
// credential must never be referenced from another.
package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"
)

const (
	DefaultTimeout          = 30 * time.Second
	DefaultStreamingTimeout = 5 * time.Minute
	DefaultDialTimeout      = 10 * time.Second
	DefaultTLSTimeout       = 10 * time.Second
	DefaultHeaderTimeout    = 30 * time.Second
	DefaultIdleTimeout      = 90 * time.Second
)

// Transport performs authenticated HTTP calls against one credential's base
// URL, applying retry-with-backoff and rate limiting uniformly.
type Transport struct {
	apiKey      string
	baseURL     string
	httpClient  *http.Client
	retryConfig RetryConfig
	rateLimiter *RateLimiter
}

// TransportConfig configures a Transport for a single credential.
type TransportConfig struct {
	APIKey            string
	BaseURL           string
	Timeout           time.Duration
	RetryConfig       *RetryConfig
	RateLimiterConfig *RateLimiterConfig
}

// RetryConfig holds retry configuration for failed requests.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryConfig returns conservative retry defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     2,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
	}
}

// NewTransport builds a Transport bound to a single credential's key and base URL.
func NewTransport(config TransportConfig) *Transport {
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}

	retryConfig := DefaultRetryConfig()
	if config.RetryConfig != nil {
		retryConfig = *config.RetryConfig
	}

	rateLimiterConfig := DefaultRateLimiterConfig()
	if config.RateLimiterConfig != nil {
		rateLimiterConfig = *config.RateLimiterConfig
	}

	return &Transport{
		apiKey:  config.APIKey,
		baseURL: config.BaseURL,
		httpClient: &http.Client{
			Timeout: config.Timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   DefaultDialTimeout,
					KeepAlive: DefaultIdleTimeout,
				}).DialContext,
				TLSHandshakeTimeout:   DefaultTLSTimeout,
				ResponseHeaderTimeout: DefaultHeaderTimeout,
				MaxIdleConns:          100,
				MaxIdleConnsPerHost:   20,
			},
		},
		retryConfig: retryConfig,
		rateLimiter: NewRateLimiter(rateLimiterConfig),
	}
}

// IsRetryableStatusCode reports whether a status code should trigger a retry.
func IsRetryableStatusCode(statusCode int) bool {
	return statusCode == 408 || statusCode == 409 || statusCode == 429 || statusCode >= 500
}

// CalculateBackoff returns exponential backoff for a given attempt, capped at MaxBackoff.
func CalculateBackoff(attempt int, config RetryConfig) time.Duration {
	backoff := config.InitialBackoff * time.Duration(1<<uint(attempt))
	if backoff > config.MaxBackoff {
		return config.MaxBackoff
	}
	return backoff
}

// ParseRetryAfter extracts the Retry-After header as a duration, or 0.
func ParseRetryAfter(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}
	retryAfter := resp.Header.Get("Retry-After")
	if retryAfter == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(retryAfter); err == nil {
		return time.Duration(seconds) * time.Second
	}
	if t, err := http.ParseTime(retryAfter); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// APIError represents an error response from the LLM provider's API.
type APIError struct {
	Message    string `json:"message"`
	RequestID  string `json:"request_id"`
	StatusCode int    `json:"-"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("llm API error: %s (request_id: %s, status: %d)", e.Message, e.RequestID, e.StatusCode)
}

// Do performs an authenticated JSON request with rate limiting, retrying up
// to RetryConfig.MaxRetries times with backoff on retryable status codes.
func (t *Transport) Do(ctx context.Context, method, endpoint string, body interface{}, result interface{}) error {
	if err := t.rateLimiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait cancelled: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= t.retryConfig.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(CalculateBackoff(attempt-1, t.retryConfig)):
			}
		}

		statusCode, err := t.doOnce(ctx, method, endpoint, body, result)
		if err == nil {
			return nil
		}
		lastErr = err

		if statusCode == 429 {
			t.rateLimiter.SetBackoffMultiplier(2.0)
		}
		if !IsRetryableStatusCode(statusCode) {
			return err
		}
	}
	return lastErr
}

func (t *Transport) doOnce(ctx context.Context, method, endpoint string, body interface{}, result interface{}) (int, error) {
	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+endpoint, reqBody)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+t.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr APIError
		if jsonErr := json.Unmarshal(respBody, &apiErr); jsonErr != nil {
			return resp.StatusCode, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
		}
		apiErr.StatusCode = resp.StatusCode
		return resp.StatusCode, &apiErr
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return resp.StatusCode, nil
}
