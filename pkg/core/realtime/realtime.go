// Package realtime implements a WebSocket client for the OpenAI Realtime
// API. A Session carries a full speech-to-speech conversation over one
// connection: callers push raw audio in, and receive synthesized audio,
// transcript fragments for both speakers, and turn boundaries as events.
package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/outdial-ai/outdial/pkg/core/call"
)

const (
	// DefaultURL is the OpenAI Realtime WebSocket endpoint.
	DefaultURL = "wss://api.openai.com/v1/realtime"

	// DefaultModel is used when Config.Model is empty.
	DefaultModel = "gpt-4o-realtime-preview"

	defaultVoice       = "alloy"
	defaultTemperature = 0.8
)

// EventType identifies the kind of event a Session emits.
type EventType string

const (
	// EventAudioDelta carries a chunk of synthesized assistant audio.
	EventAudioDelta EventType = "audio_delta"

	// EventTranscriptDelta carries transcript text attributed to a speaker.
	// Assistant transcripts arrive incrementally; user transcripts arrive
	// as one completed utterance per turn.
	EventTranscriptDelta EventType = "transcript_delta"

	// EventTurnComplete marks the end of an assistant response.
	EventTurnComplete EventType = "turn_complete"

	// EventError carries an API or transport error.
	EventError EventType = "error"
)

// Event is a single occurrence on a realtime session. Only the fields
// relevant to Type are populated.
type Event struct {
	Type    EventType
	Audio   []byte
	Text    string
	Speaker call.Speaker
	Err     error
}

// Config holds the parameters for a realtime session.
type Config struct {
	APIKey       string
	Model        string  // default: DefaultModel
	URL          string  // default: DefaultURL
	Voice        string  // default: alloy
	Instructions string  // system prompt for the assistant
	Temperature  float64 // default: 0.8
}

// Session is a live connection to the Realtime API. Audio is sent with
// SendAudio and results are consumed from Events. The events channel is
// closed when the conversation ends, for any reason.
type Session struct {
	conn    *websocket.Conn
	events  chan Event
	done    chan struct{}
	closed  atomic.Bool
	writeMu sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
}

// Dial connects to the Realtime API and configures the session with the
// given voice, instructions, and server-side turn detection.
func Dial(ctx context.Context, cfg Config) (*Session, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("realtime: api key required")
	}

	base := cfg.URL
	if base == "" {
		base = DefaultURL
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse realtime URL: %w", err)
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	q := u.Query()
	q.Set("model", model)
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+cfg.APIKey)
	headers.Set("OpenAI-Beta", "realtime=v1")

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	conn, resp, err := dialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			if len(body) > 0 {
				return nil, fmt.Errorf("realtime connect (status %d): %s", resp.StatusCode, string(body))
			}
			return nil, fmt.Errorf("realtime connect: status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("realtime connect: %w", err)
	}

	sctx, cancel := context.WithCancel(ctx)
	s := &Session{
		conn:   conn,
		events: make(chan Event, 100),
		done:   make(chan struct{}),
		ctx:    sctx,
		cancel: cancel,
	}

	if err := s.configure(cfg); err != nil {
		cancel()
		conn.Close()
		return nil, fmt.Errorf("configure session: %w", err)
	}

	go s.readLoop()

	return s, nil
}

// configure sends the initial session.update with audio formats, the
// transcription model for caller speech, and server VAD so the API
// detects turn boundaries itself.
func (s *Session) configure(cfg Config) error {
	voice := cfg.Voice
	if voice == "" {
		voice = defaultVoice
	}
	temperature := cfg.Temperature
	if temperature == 0 {
		temperature = defaultTemperature
	}

	update := sessionUpdate{
		Type: "session.update",
		Session: sessionConfig{
			Modalities:        []string{"text", "audio"},
			Instructions:      cfg.Instructions,
			Voice:             voice,
			InputAudioFormat:  "pcm16",
			OutputAudioFormat: "pcm16",
			InputAudioTranscription: transcriptionConfig{
				Model: "whisper-1",
			},
			TurnDetection: turnDetection{
				Type:              "server_vad",
				Threshold:         0.5,
				PrefixPaddingMS:   300,
				SilenceDurationMS: 500,
			},
			Temperature: temperature,
		},
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(update)
}

func (s *Session) readLoop() {
	defer func() {
		close(s.events)
		close(s.done)
	}()

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if !s.closed.Load() && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.emit(Event{Type: EventError, Err: err})
			}
			return
		}

		var ev serverEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			continue
		}

		switch ev.Type {
		case "response.audio.delta":
			audio, err := base64.StdEncoding.DecodeString(ev.Delta)
			if err != nil || len(audio) == 0 {
				continue
			}
			s.emit(Event{Type: EventAudioDelta, Audio: audio, Speaker: call.SpeakerAssistant})

		case "response.audio_transcript.delta":
			if ev.Delta == "" {
				continue
			}
			s.emit(Event{Type: EventTranscriptDelta, Text: ev.Delta, Speaker: call.SpeakerAssistant})

		case "conversation.item.input_audio_transcription.completed":
			if ev.Transcript == "" {
				continue
			}
			s.emit(Event{Type: EventTranscriptDelta, Text: ev.Transcript, Speaker: call.SpeakerUser})

		case "response.done":
			s.emit(Event{Type: EventTurnComplete})

		case "error":
			msg := "unknown error"
			if ev.Error != nil && ev.Error.Message != "" {
				msg = ev.Error.Message
			}
			s.emit(Event{Type: EventError, Err: fmt.Errorf("realtime: %s", msg)})
		}
	}
}

func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}

// SendAudio appends raw caller audio to the input buffer. Turn boundaries
// are detected server-side, so no explicit commit is needed between chunks.
func (s *Session) SendAudio(data []byte) error {
	if s.closed.Load() {
		return fmt.Errorf("session closed")
	}
	ev := clientEvent{
		Type:  "input_audio_buffer.append",
		Audio: base64.StdEncoding.EncodeToString(data),
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(ev)
}

// CommitAudio forces the input buffer to be processed now instead of
// waiting for server VAD to detect end of speech.
func (s *Session) CommitAudio() error {
	if s.closed.Load() {
		return fmt.Errorf("session closed")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(clientEvent{Type: "input_audio_buffer.commit"})
}

// Events returns the channel of session events. It is closed when the
// connection ends.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Done returns a channel that is closed when the session ends.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Close shuts the session down. Safe to call more than once.
func (s *Session) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.cancel()

	s.writeMu.Lock()
	s.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	s.writeMu.Unlock()

	return s.conn.Close()
}

type sessionUpdate struct {
	Type    string        `json:"type"`
	Session sessionConfig `json:"session"`
}

type sessionConfig struct {
	Modalities              []string            `json:"modalities"`
	Instructions            string              `json:"instructions"`
	Voice                   string              `json:"voice"`
	InputAudioFormat        string              `json:"input_audio_format"`
	OutputAudioFormat       string              `json:"output_audio_format"`
	InputAudioTranscription transcriptionConfig `json:"input_audio_transcription"`
	TurnDetection           turnDetection       `json:"turn_detection"`
	Temperature             float64             `json:"temperature"`
}

type transcriptionConfig struct {
	Model string `json:"model"`
}

type turnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMS   int     `json:"prefix_padding_ms"`
	SilenceDurationMS int     `json:"silence_duration_ms"`
}

type clientEvent struct {
	Type  string `json:"type"`
	Audio string `json:"audio,omitempty"`
}

type serverEvent struct {
	Type       string    `json:"type"`
	Delta      string    `json:"delta"`
	Transcript string    `json:"transcript"`
	Error      *apiError `json:"error"`
}

type apiError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
