package voximplant

import (
	"strings"
	"time"

	"github.com/outdial-ai/outdial/pkg/telephony"
)

// WebhookPayload is the event shape the VoxEngine scenario posts back.
type WebhookPayload struct {
	Event   string `json:"event"`
	CallID  string `json:"call_id"`
	Reason  string `json:"reason,omitempty"`
	Speaker string `json:"speaker,omitempty"`
	Text    string `json:"text,omitempty"`
}

// MapEvent normalizes a VoxEngine lifecycle event. ok is false for events
// that carry no lifecycle signal (transcript updates, unknown kinds);
// those are handled elsewhere or ignored.
func MapEvent(p WebhookPayload) (telephony.ProviderEvent, bool) {
	ev := telephony.ProviderEvent{
		CallID:    p.CallID,
		Timestamp: time.Now().UTC(),
		Reason:    p.Reason,
	}

	switch p.Event {
	case "Ringing":
		ev.Event = telephony.EventRinging
	case "Connected":
		ev.Event = telephony.EventAnswered
	case "Disconnected":
		ev.Event = telephony.EventHangup
		if ev.Reason == "" {
			ev.Reason = "normal"
		}
	case "Failed":
		reason := strings.ToLower(p.Reason)
		switch {
		case strings.Contains(reason, "busy"):
			ev.Event = telephony.EventBusy
		case strings.Contains(reason, "no answer"), strings.Contains(reason, "no_answer"), strings.Contains(reason, "timeout"):
			ev.Event = telephony.EventNoAnswer
		default:
			ev.Event = telephony.EventError
		}
		if ev.Reason == "" {
			ev.Reason = "unknown"
		}
	default:
		return telephony.ProviderEvent{}, false
	}
	return ev, true
}
