// Package relay bridges a live call transport to a continuous AI speech
// session. Caller audio arriving on the transport is forwarded to the AI
// session; synthesized audio and transcripts flow back out. One Relay
// serves one call.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/outdial-ai/outdial/pkg/core/call"
	"github.com/outdial-ai/outdial/pkg/core/realtime"
)

// AISession is the slice of a realtime session the relay consumes.
type AISession interface {
	SendAudio(data []byte) error
	Events() <-chan realtime.Event
	Close() error
}

// Relay pumps events from an AI session to the call transport and keeps
// the session transcript current. The transport attaches lazily: audio
// produced before a transport is connected is dropped.
type Relay struct {
	callID string
	sess   *call.Session
	ai     AISession
	logger *slog.Logger

	mu   sync.Mutex
	send func(audio []byte) error

	done   chan struct{}
	closed atomic.Bool
}

// New creates a relay for one call.
func New(callID string, sess *call.Session, ai AISession, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		callID: callID,
		sess:   sess,
		ai:     ai,
		logger: logger.With("call_id", callID),
		done:   make(chan struct{}),
	}
}

// AttachTransport sets the function used to deliver assistant audio to
// the caller. The audio websocket handler calls this once connected;
// reconnects may replace it.
func (r *Relay) AttachTransport(send func(audio []byte) error) {
	r.mu.Lock()
	r.send = send
	r.mu.Unlock()
}

// Forward pushes one chunk of caller audio into the AI session.
func (r *Relay) Forward(chunk []byte) error {
	if r.closed.Load() {
		return fmt.Errorf("relay closed")
	}
	return r.ai.SendAudio(chunk)
}

// Run consumes AI session events until the session ends, an error event
// arrives, or ctx is canceled. The AI session is closed on every exit
// path. Run returns when the conversation is over; finalization is the
// caller's job.
func (r *Relay) Run(ctx context.Context) {
	defer func() {
		r.closed.Store(true)
		if err := r.ai.Close(); err != nil {
			r.logger.Error("ai session close failed", "error", err)
		}
		close(r.done)
		r.logger.Info("relay ended")
	}()

	r.logger.Info("relay started")

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-r.ai.Events():
			if !ok {
				return
			}
			switch ev.Type {
			case realtime.EventAudioDelta:
				if err := r.deliver(ev.Audio); err != nil {
					r.logger.Error("transport send failed", "error", err)
					return
				}
			case realtime.EventTranscriptDelta:
				r.sess.AddTurn(ev.Speaker, ev.Text)
				r.logger.Info("transcript", "speaker", ev.Speaker, "text", ev.Text)
			case realtime.EventTurnComplete:
				r.logger.Debug("assistant turn complete")
			case realtime.EventError:
				r.logger.Error("ai session error", "error", ev.Err)
				return
			}
		}
	}
}

func (r *Relay) deliver(audio []byte) error {
	r.mu.Lock()
	send := r.send
	r.mu.Unlock()
	if send == nil {
		r.logger.Debug("no transport attached, dropping audio", "bytes", len(audio))
		return nil
	}
	return send(audio)
}

// Close tears the relay down, unblocking Run. Safe to call repeatedly.
func (r *Relay) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	return r.ai.Close()
}

// Done is closed once Run has finished.
func (r *Relay) Done() <-chan struct{} {
	return r.done
}
