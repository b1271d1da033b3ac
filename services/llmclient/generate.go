package llmclient

import (
	"context"
	"fmt"
)

// Message is one turn in a chat-completion request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerateRequest is an OpenAI-compatible chat completion request.
type GenerateRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`

	// Files references uploaded file handles (UploadedFile.Name) this call
	// should ground its answer in, isolated to whichever credential
	// uploaded them (P5: a handle from key A is meaningless under key B).
	Files []string `json:"files,omitempty"`
}

type generateChoice struct {
	Message Message `json:"message"`
}

// GenerateUsage reports the token cost of a single generate call, as
// reported by the provider.
type GenerateUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// GenerateResponse is an OpenAI-compatible chat completion response.
type GenerateResponse struct {
	Choices []generateChoice `json:"choices"`
	Usage   GenerateUsage    `json:"usage"`
}

// GenerateOption mutates a GenerateRequest before it's sent.
type GenerateOption func(*GenerateRequest)

func WithMaxTokens(tokens int) GenerateOption {
	return func(r *GenerateRequest) { r.MaxTokens = tokens }
}

func WithTemperature(temp float64) GenerateOption {
	return func(r *GenerateRequest) { r.Temperature = temp }
}

// WithFiles attaches previously uploaded file handles to the generate
// call so the model can ground its answer in their content instead of
// (or in addition to) the inlined prompt text.
func WithFiles(refs []string) GenerateOption {
	return func(r *GenerateRequest) { r.Files = refs }
}

// Generate sends a system+user prompt pair to the chat completions endpoint
// and returns the raw assistant text (not yet JSON-parsed; see
// services/parser for that stage).
func (c *Client) Generate(ctx context.Context, systemPrompt, userPrompt string, opts ...GenerateOption) (string, GenerateUsage, error) {
	req := GenerateRequest{
		Model:       c.model,
		Messages:    []Message{{Role: "system", Content: systemPrompt}, {Role: "user", Content: userPrompt}},
		Temperature: 0,
		MaxTokens:   8192,
	}
	for _, opt := range opts {
		opt(&req)
	}

	var resp GenerateResponse
	if err := c.transport.Do(ctx, "POST", "/v1/chat/completions", req, &resp); err != nil {
		return "", GenerateUsage{}, fmt.Errorf("generate call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", GenerateUsage{}, fmt.Errorf("no choices returned from generate API")
	}
	return resp.Choices[0].Message.Content, resp.Usage, nil
}
