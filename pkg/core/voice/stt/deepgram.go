package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	api "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/websocket/interfaces"
	"github.com/gorilla/websocket"
)

const deepgramListenURL = "wss://api.deepgram.com/v1/listen"

// DeepgramProvider implements the STT Provider interface over Deepgram's
// streaming websocket. Each Transcribe call opens one connection, writes
// the whole utterance, closes the stream, and joins the final segments.
type DeepgramProvider struct {
	apiKey      string
	model       string
	listenURL   string
	encoding    string
	sampleRate  int
	readTimeout time.Duration
}

// DeepgramOption configures the provider.
type DeepgramOption func(*DeepgramProvider)

// WithDeepgramModel overrides the transcription model.
func WithDeepgramModel(model string) DeepgramOption {
	return func(p *DeepgramProvider) { p.model = model }
}

// WithDeepgramListenURL points the provider at a different endpoint.
func WithDeepgramListenURL(u string) DeepgramOption {
	return func(p *DeepgramProvider) { p.listenURL = u }
}

// WithDeepgramAudioFormat sets the encoding and sample rate announced to
// the API. Defaults match 8kHz telephony PCM.
func WithDeepgramAudioFormat(encoding string, sampleRate int) DeepgramOption {
	return func(p *DeepgramProvider) {
		p.encoding = encoding
		p.sampleRate = sampleRate
	}
}

// NewDeepgram creates a Deepgram STT provider.
func NewDeepgram(apiKey string, opts ...DeepgramOption) *DeepgramProvider {
	p := &DeepgramProvider{
		apiKey:      apiKey,
		model:       "nova-3",
		listenURL:   deepgramListenURL,
		encoding:    "linear16",
		sampleRate:  8000,
		readTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the provider identifier.
func (p *DeepgramProvider) Name() string {
	return "deepgram"
}

// Transcribe streams the utterance through the listen websocket and
// accumulates the final transcript segments until the server closes.
func (p *DeepgramProvider) Transcribe(ctx context.Context, audio []byte, language string) (string, error) {
	conn, err := p.dial(ctx, language)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.BinaryMessage, audio); err != nil {
		return "", fmt.Errorf("write audio: %w", err)
	}
	if err := conn.WriteJSON(struct {
		Type string `json:"type"`
	}{Type: string(api.TypeCloseStreamResponse)}); err != nil {
		return "", fmt.Errorf("close stream: %w", err)
	}

	deadline := time.Now().Add(p.readTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetReadDeadline(deadline)

	var parts []string
	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			if len(parts) > 0 || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				break
			}
			return "", fmt.Errorf("read transcription: %w", err)
		}
		if msgType == websocket.BinaryMessage {
			continue
		}

		var envelope struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(msg, &envelope); err != nil {
			continue
		}
		if api.TypeResponse(envelope.Type) != api.TypeMessageResponse {
			continue
		}

		var msgResp api.MessageResponse
		if err := json.Unmarshal(msg, &msgResp); err != nil {
			continue
		}
		if !msgResp.IsFinal || len(msgResp.Channel.Alternatives) == 0 {
			continue
		}
		if transcript := strings.TrimSpace(msgResp.Channel.Alternatives[0].Transcript); transcript != "" {
			parts = append(parts, transcript)
		}
	}
	return strings.Join(parts, " "), nil
}

func (p *DeepgramProvider) dial(ctx context.Context, language string) (*websocket.Conn, error) {
	listenURL, err := url.Parse(p.listenURL)
	if err != nil {
		return nil, fmt.Errorf("parse listen url: %w", err)
	}
	q := listenURL.Query()
	q.Set("encoding", p.encoding)
	q.Set("sample_rate", strconv.Itoa(p.sampleRate))
	q.Set("channels", "1")
	q.Set("model", p.model)
	if language != "" {
		q.Set("language", language)
	}
	q.Set("smart_format", "true")
	listenURL.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, listenURL.String(),
		http.Header{"Authorization": {"Token " + p.apiKey}})
	if err != nil {
		return nil, fmt.Errorf("dial deepgram: %w", err)
	}
	return conn, nil
}
