package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

const whisperBaseURL = "https://api.openai.com/v1"

// WhisperProvider implements the STT Provider interface using OpenAI's
// Whisper transcription API.
type WhisperProvider struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// WhisperOption configures the provider.
type WhisperOption func(*WhisperProvider)

// WithWhisperBaseURL points the provider at a different endpoint.
func WithWhisperBaseURL(u string) WhisperOption {
	return func(p *WhisperProvider) { p.baseURL = u }
}

// WithWhisperHTTPClient replaces the underlying HTTP client.
func WithWhisperHTTPClient(hc *http.Client) WhisperOption {
	return func(p *WhisperProvider) { p.httpClient = hc }
}

// NewWhisper creates a Whisper STT provider.
func NewWhisper(apiKey string, opts ...WhisperOption) *WhisperProvider {
	p := &WhisperProvider{
		apiKey:     apiKey,
		model:      "whisper-1",
		baseURL:    whisperBaseURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the provider identifier.
func (p *WhisperProvider) Name() string {
	return "whisper"
}

// Transcribe converts audio to text via the transcriptions endpoint.
func (p *WhisperProvider) Transcribe(ctx context.Context, audio []byte, language string) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fw, err := mw.CreateFormFile("file", "audio.mp3")
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := fw.Write(audio); err != nil {
		return "", fmt.Errorf("write audio data: %w", err)
	}
	if err := mw.WriteField("model", p.model); err != nil {
		return "", fmt.Errorf("write model field: %w", err)
	}
	if language != "" {
		if err := mw.WriteField("language", language); err != nil {
			return "", fmt.Errorf("write language field: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(p.baseURL, "/")+"/audio/transcriptions", &buf)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("whisper: status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var parsed struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return strings.TrimSpace(parsed.Text), nil
}
