package llmclient

import (
	"time"
)

// ModelTier selects which model a Client targets for a given call.
type ModelTier string

const (
	TierFlash ModelTier = "flash"
	TierPro   ModelTier = "pro"
)

// Client is the per-credential LLM adapter: transport, rate limiting, and
// the upload/generate/delete surface, all bound to one API key. Build one
// Client per credential pulled from the credential pool; never share a
// Client across credentials.
type Client struct {
	credentialID string
	transport    *Transport
	model        string
	uploadPath   string
}

// ClientConfig configures a single-credential Client.
type ClientConfig struct {
	CredentialID string
	APIKey       string
	BaseURL      string
	Model        string
	UploadPath   string // endpoint path for file uploads, e.g. "/v1/files"
	RetryConfig  *RetryConfig
	RateConfig   *RateLimiterConfig
	Timeout      time.Duration
}

// New builds a Client bound to one credential.
func New(config ClientConfig) *Client {
	transport := NewTransport(TransportConfig{
		APIKey:            config.APIKey,
		BaseURL:           config.BaseURL,
		Timeout:           config.Timeout,
		RetryConfig:       config.RetryConfig,
		RateLimiterConfig: config.RateConfig,
	})

	uploadPath := config.UploadPath
	if uploadPath == "" {
		uploadPath = "/v1/files"
	}

	return &Client{
		credentialID: config.CredentialID,
		transport:    transport,
		model:        config.Model,
		uploadPath:   uploadPath,
	}
}

// CredentialID reports which credential this Client is bound to, for
// logging and audit-trail attribution.
func (c *Client) CredentialID() string {
	return c.credentialID
}

// WithModel returns a shallow copy of the Client targeting a different
// model name, sharing the same transport and rate limiter so the swap
// doesn't cost a second connection pool or bucket.
func (c *Client) WithModel(model string) *Client {
	clone := *c
	clone.model = model
	return &clone
}
