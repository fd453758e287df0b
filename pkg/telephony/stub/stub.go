// Package stub is a deterministic telephony gateway for development and
// tests. It answers every call on a timer and plays a scripted caller:
// each ReceiveAudio pops the next scripted utterance as UTF-8 bytes, and
// the caller hangs up once the script is exhausted.
package stub

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/outdial-ai/outdial/pkg/telephony"
)

var defaultResponses = []string{
	"Да, здравствуйте",
	"Да, интересно. Расскажите подробнее",
	"А сколько это стоит?",
	"Хорошо, спасибо за информацию",
	"До свидания",
}

// Gateway simulates an outbound telephony provider.
type Gateway struct {
	sink   telephony.EventSink
	logger *slog.Logger

	ringDelay     time.Duration
	answerDelay   time.Duration
	replyDelay    time.Duration
	playbackDelay time.Duration
	responses     []string
	outcome       telephony.Event
	outcomeReason string

	mu    sync.Mutex
	calls map[string]*scriptedCall
}

type scriptedCall struct {
	phone      string
	answered   bool
	closed     bool
	hangupSent bool
	queue      []string
	sent       [][]byte
}

// Option adjusts the scripted behavior.
type Option func(*Gateway)

// WithResponses replaces the scripted caller utterances.
func WithResponses(responses ...string) Option {
	return func(g *Gateway) { g.responses = responses }
}

// WithOutcome makes every call end with the given pre-answer event
// instead of being answered.
func WithOutcome(outcome telephony.Event, reason string) Option {
	return func(g *Gateway) {
		g.outcome = outcome
		g.outcomeReason = reason
	}
}

// WithDelays overrides the scripted timings. Zero values collapse the
// script so tests run instantly.
func WithDelays(ring, answer, reply, playback time.Duration) Option {
	return func(g *Gateway) {
		g.ringDelay = ring
		g.answerDelay = answer
		g.replyDelay = reply
		g.playbackDelay = playback
	}
}

// New returns a stub gateway that reports progress through sink.
func New(sink telephony.EventSink, logger *slog.Logger, opts ...Option) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gateway{
		sink:          sink,
		logger:        logger.With("component", "telephony.stub"),
		ringDelay:     2 * time.Second,
		answerDelay:   2 * time.Second,
		replyDelay:    time.Second,
		playbackDelay: 500 * time.Millisecond,
		responses:     defaultResponses,
		outcome:       telephony.EventAnswered,
		calls:         make(map[string]*scriptedCall),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Initiate registers the call and starts the scripted ring/answer flow in
// the background.
func (g *Gateway) Initiate(ctx context.Context, callID, phone string) error {
	queue := make([]string, len(g.responses))
	copy(queue, g.responses)

	g.mu.Lock()
	g.calls[callID] = &scriptedCall{phone: phone, queue: queue}
	g.mu.Unlock()

	g.logger.Info("initiating call", "call_id", callID, "phone", phone)
	go g.runScript(callID)
	return nil
}

// runScript walks the call through ringing and then either an answer or
// the configured failure outcome.
func (g *Gateway) runScript(callID string) {
	time.Sleep(g.ringDelay)
	if !g.alive(callID) {
		return
	}
	g.emit(callID, telephony.EventRinging, "")

	time.Sleep(g.answerDelay)
	if !g.alive(callID) {
		return
	}

	if g.outcome != telephony.EventAnswered {
		g.logger.Info("scripted call outcome", "call_id", callID, "outcome", g.outcome)
		g.mu.Lock()
		if c, ok := g.calls[callID]; ok {
			c.closed = true
			c.hangupSent = true
		}
		g.mu.Unlock()
		g.emit(callID, g.outcome, g.outcomeReason)
		return
	}

	g.mu.Lock()
	if c, ok := g.calls[callID]; ok {
		c.answered = true
	}
	g.mu.Unlock()
	g.logger.Info("call answered", "call_id", callID)
	g.emit(callID, telephony.EventAnswered, "")
}

// SendAudio records the assistant audio and simulates playback time.
func (g *Gateway) SendAudio(ctx context.Context, callID string, audio []byte) error {
	g.mu.Lock()
	c, ok := g.calls[callID]
	if !ok || c.closed {
		g.mu.Unlock()
		g.logger.Warn("send audio on unknown call", "call_id", callID)
		return nil
	}
	buf := make([]byte, len(audio))
	copy(buf, audio)
	c.sent = append(c.sent, buf)
	g.mu.Unlock()

	select {
	case <-time.After(g.playbackDelay):
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// ReceiveAudio returns the next scripted caller utterance as bytes. When
// the script runs out the caller hangs up and io.EOF is returned.
func (g *Gateway) ReceiveAudio(ctx context.Context, callID string) ([]byte, error) {
	g.mu.Lock()
	c, ok := g.calls[callID]
	if !ok || c.closed || !c.answered {
		g.mu.Unlock()
		return nil, io.EOF
	}
	if len(c.queue) == 0 {
		c.closed = true
		sendEvent := !c.hangupSent
		c.hangupSent = true
		g.mu.Unlock()
		g.logger.Info("script exhausted, caller hangs up", "call_id", callID)
		if sendEvent {
			g.emit(callID, telephony.EventHangup, "")
		}
		return nil, io.EOF
	}
	next := c.queue[0]
	c.queue = c.queue[1:]
	g.mu.Unlock()

	select {
	case <-time.After(g.replyDelay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	g.logger.Info("caller speaks", "call_id", callID, "text", next)
	return []byte(next), nil
}

// Hangup ends the call from our side. The provider still reports the
// disconnect through the event sink, mirroring real providers.
func (g *Gateway) Hangup(ctx context.Context, callID string) error {
	g.mu.Lock()
	c, ok := g.calls[callID]
	if !ok {
		g.mu.Unlock()
		g.logger.Warn("hangup on unknown call", "call_id", callID)
		return nil
	}
	c.closed = true
	sendEvent := !c.hangupSent
	c.hangupSent = true
	g.mu.Unlock()

	g.logger.Info("hanging up call", "call_id", callID)
	if sendEvent {
		g.emit(callID, telephony.EventHangup, "")
	}
	return nil
}

// SentAudio returns a copy of everything sent to the caller so far.
func (g *Gateway) SentAudio(callID string) [][]byte {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.calls[callID]
	if !ok {
		return nil
	}
	out := make([][]byte, len(c.sent))
	for i, b := range c.sent {
		buf := make([]byte, len(b))
		copy(buf, b)
		out[i] = buf
	}
	return out
}

func (g *Gateway) alive(callID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.calls[callID]
	return ok && !c.closed
}

func (g *Gateway) emit(callID string, ev telephony.Event, reason string) {
	if g.sink == nil {
		return
	}
	g.sink(context.Background(), telephony.ProviderEvent{
		Event:     ev,
		CallID:    callID,
		Timestamp: time.Now().UTC(),
		Reason:    reason,
	})
}
