// Package llm generates character responses through OpenAI-compatible or
// Ollama backends.
package llm

import (
	"context"
	"errors"
)

// Sentinel errors shared by all backends.
var (
	ErrUnavailable   = errors.New("llm backend unavailable")
	ErrEmptyResponse = errors.New("llm returned an empty response")
)

// Message is one chat turn sent to the model.
type Message struct {
	Role    string `json:"role"` // "system", "user" or "assistant"
	Content string `json:"content"`
}

// Request is a single generation request. System is prepended as the system
// message; Messages carry the conversation window oldest first.
type Request struct {
	System      string
	Messages    []Message
	MaxTokens   int
	Temperature float64
}

// Response is the model's reply.
type Response struct {
	Text             string
	Model            string
	PromptTokens     int
	CompletionTokens int
}

// Generator is implemented by LLM backends.
type Generator interface {
	// Generate produces one response for the request.
	Generate(ctx context.Context, req *Request) (*Response, error)
	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
	// Name identifies the backend for logs.
	Name() string
}
