// Package telephony defines the provider-neutral surface for placing and
// controlling outbound calls. Concrete adapters live in subpackages and
// are selected by configuration at startup.
package telephony

import (
	"context"
	"errors"
	"time"
)

// ErrNotSupported is returned by gateway operations the active provider
// cannot perform, such as direct audio I/O on a scenario-driven provider.
var ErrNotSupported = errors.New("telephony: operation not supported by provider")

// Gateway places calls and, where the provider allows it, moves audio.
//
// ReceiveAudio blocks until a chunk of caller audio is available and
// returns (nil, io.EOF) once the call's audio stream is closed.
type Gateway interface {
	Initiate(ctx context.Context, callID, phone string) error
	SendAudio(ctx context.Context, callID string, audio []byte) error
	ReceiveAudio(ctx context.Context, callID string) ([]byte, error)
	Hangup(ctx context.Context, callID string) error
}

// Event is the normalized name of a provider lifecycle signal.
type Event string

const (
	EventRinging  Event = "ringing"
	EventAnswered Event = "answered"
	EventBusy     Event = "busy"
	EventNoAnswer Event = "no_answer"
	EventHangup   Event = "hangup"
	EventError    Event = "error"
)

// Terminal reports whether the event ends the call attempt.
func (e Event) Terminal() bool {
	switch e {
	case EventBusy, EventNoAnswer, EventHangup, EventError:
		return true
	default:
		return false
	}
}

// ProviderEvent is one normalized lifecycle signal for a call. CallID is
// the local call id the adapter was handed at Initiate.
type ProviderEvent struct {
	Event     Event     `json:"event"`
	CallID    string    `json:"call_id"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason,omitempty"`
}

// EventSink receives normalized events from an adapter. Webhook-driven
// providers deliver through the HTTP surface instead; adapters that learn
// about progress themselves (stub scripts, fallback polling) push here.
type EventSink func(ctx context.Context, ev ProviderEvent)
