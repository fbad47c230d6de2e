package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// OllamaConfig configures the local Ollama backend.
type OllamaConfig struct {
	BaseURL     string  `mapstructure:"base_url"`
	Model       string  `mapstructure:"model"`
	Temperature float64 `mapstructure:"temperature"`
	TimeoutSecs int     `mapstructure:"timeout_secs"`
}

// DefaultOllamaConfig targets a local Ollama daemon.
func DefaultOllamaConfig() *OllamaConfig {
	return &OllamaConfig{
		BaseURL:     "http://localhost:11434",
		Model:       "llama3.1",
		Temperature: 0.8,
		TimeoutSecs: 120,
	}
}

// OllamaClient talks to a local Ollama daemon's chat API.
type OllamaClient struct {
	config *OllamaConfig
	client *http.Client
	logger zerolog.Logger
}

// NewOllamaClient creates a client from config.
func NewOllamaClient(logger zerolog.Logger, config *OllamaConfig) *OllamaClient {
	if config == nil {
		config = DefaultOllamaConfig()
	}
	timeout := time.Duration(config.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &OllamaClient{
		config: config,
		client: &http.Client{Timeout: timeout},
		logger: logger.With().Str("provider", "ollama").Logger(),
	}
}

// Name returns the backend identifier.
func (c *OllamaClient) Name() string { return "ollama" }

type ollamaChatRequest struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Model   string `json:"model"`
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done            bool   `json:"done"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
	Error           string `json:"error,omitempty"`
}

// Generate sends the conversation to /api/chat without streaming.
func (c *OllamaClient) Generate(ctx context.Context, req *Request) (*Response, error) {
	messages := make([]Message, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, Message{Role: "system", Content: req.System})
	}
	messages = append(messages, req.Messages...)

	temperature := req.Temperature
	if temperature <= 0 {
		temperature = c.config.Temperature
	}
	options := map[string]any{"temperature": temperature}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}

	body, err := json.Marshal(ollamaChatRequest{
		Model:    c.config.Model,
		Messages: messages,
		Stream:   false,
		Options:  options,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := strings.TrimRight(c.config.BaseURL, "/") + "/api/chat"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama error %d: %s", resp.StatusCode, string(respBody))
	}

	var chat ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if chat.Error != "" {
		return nil, fmt.Errorf("ollama error: %s", chat.Error)
	}
	if strings.TrimSpace(chat.Message.Content) == "" {
		return nil, ErrEmptyResponse
	}

	c.logger.Debug().
		Str("model", chat.Model).
		Int("prompt_tokens", chat.PromptEvalCount).
		Int("completion_tokens", chat.EvalCount).
		Dur("latency", time.Since(start)).
		Msg("Generated response")

	return &Response{
		Text:             strings.TrimSpace(chat.Message.Content),
		Model:            chat.Model,
		PromptTokens:     chat.PromptEvalCount,
		CompletionTokens: chat.EvalCount,
	}, nil
}

// Ping checks the daemon's version endpoint.
func (c *OllamaClient) Ping(ctx context.Context) error {
	url := strings.TrimRight(c.config.BaseURL, "/") + "/api/version"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	return nil
}
