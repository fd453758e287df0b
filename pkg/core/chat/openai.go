package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultBaseURL is the OpenAI API endpoint.
	DefaultBaseURL = "https://api.openai.com/v1"

	defaultTemperature = 0.7
	defaultMaxTokens   = 200
)

// OpenAI is a chat completions client for the OpenAI REST API.
type OpenAI struct {
	apiKey      string
	model       string
	baseURL     string
	temperature float64
	maxTokens   int
	httpClient  *http.Client
	logger      *slog.Logger
}

// Option configures the client.
type Option func(*OpenAI)

// WithBaseURL points the client at a different endpoint.
func WithBaseURL(u string) Option {
	return func(c *OpenAI) { c.baseURL = u }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *OpenAI) { c.httpClient = hc }
}

// WithSampling overrides the default temperature and token budget.
func WithSampling(temperature float64, maxTokens int) Option {
	return func(c *OpenAI) {
		c.temperature = temperature
		c.maxTokens = maxTokens
	}
}

// WithLogger attaches a logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *OpenAI) { c.logger = l }
}

// NewOpenAI creates a client for the given model.
func NewOpenAI(apiKey, model string, opts ...Option) *OpenAI {
	c := &OpenAI{
		apiKey:      apiKey,
		model:       model,
		baseURL:     DefaultBaseURL,
		temperature: defaultTemperature,
		maxTokens:   defaultMaxTokens,
		httpClient:  &http.Client{Timeout: 60 * time.Second},
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type chatRequest struct {
	Model          string    `json:"model"`
	Messages       []Message `json:"messages"`
	Temperature    float64   `json:"temperature"`
	MaxTokens      int       `json:"max_tokens,omitempty"`
	ResponseFormat any       `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type apiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Complete runs a completion with the client defaults.
func (c *OpenAI) Complete(ctx context.Context, messages []Message) (string, error) {
	return c.CompleteWith(ctx, messages, Params{})
}

// CompleteWith runs a completion with per-request parameters.
func (c *OpenAI) CompleteWith(ctx context.Context, messages []Message, p Params) (string, error) {
	req := chatRequest{
		Model:          c.model,
		Messages:       messages,
		Temperature:    c.temperature,
		MaxTokens:      c.maxTokens,
		ResponseFormat: p.ResponseFormat,
	}
	if p.Temperature > 0 {
		req.Temperature = p.Temperature
	}
	if p.MaxTokens > 0 {
		req.MaxTokens = p.MaxTokens
	}

	start := time.Now()
	respBody, err := c.doRequest(ctx, req)
	if err != nil {
		return "", err
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}

	content := parsed.Choices[0].Message.Content
	c.logger.Debug("chat completion",
		"model", c.model,
		"duration_ms", time.Since(start).Milliseconds(),
		"prompt_tokens", parsed.Usage.PromptTokens,
		"completion_tokens", parsed.Usage.CompletionTokens,
		"response_chars", len(content))
	return content, nil
}

func (c *OpenAI) doRequest(ctx context.Context, req chatRequest) ([]byte, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(c.baseURL, "/")+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		var apiErr apiErrorResponse
		if err := json.Unmarshal(respBody, &apiErr); err == nil && apiErr.Error.Message != "" {
			return nil, fmt.Errorf("openai: %s (status %d)", apiErr.Error.Message, resp.StatusCode)
		}
		return nil, fmt.Errorf("openai: status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return respBody, nil
}
