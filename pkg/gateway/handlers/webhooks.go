package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/outdial-ai/outdial/pkg/core/store"
	"github.com/outdial-ai/outdial/pkg/gateway/apierror"
	"github.com/outdial-ai/outdial/pkg/telephony"
	"github.com/outdial-ai/outdial/pkg/telephony/voximplant"
)

// EventHandler applies normalized provider lifecycle events to calls.
type EventHandler interface {
	HandleProviderEvent(ctx context.Context, ev telephony.ProviderEvent)
}

// TelephonyWebhookHandler ingests provider-neutral lifecycle events.
// Semantic problems are acked with a warning, never rejected: providers
// retry non-2xx responses and a malformed event stays malformed.
type TelephonyWebhookHandler struct {
	Events EventHandler
	Logger *slog.Logger
}

func (h TelephonyWebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Events == nil {
		apierror.Write(w, apierror.Unavailable("Service not ready"))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var ev telephony.ProviderEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		apierror.Write(w, apierror.Validation("invalid_json", "malformed JSON body"))
		return
	}
	if ev.CallID == "" || ev.Event == "" {
		apierror.Write(w, apierror.Validation("missing_field", "call_id and event are required"))
		return
	}

	ev.Event = telephony.Event(strings.ToLower(strings.TrimSpace(string(ev.Event))))
	switch ev.Event {
	case telephony.EventRinging, telephony.EventAnswered, telephony.EventBusy,
		telephony.EventNoAnswer, telephony.EventHangup, telephony.EventError:
	default:
		logOr(h.Logger).Warn("unknown telephony event", "event", ev.Event, "call_id", ev.CallID)
		writeJSON(w, http.StatusOK, ackResponse{Status: "ok", Message: "Unknown event: " + string(ev.Event)})
		return
	}

	h.Events.HandleProviderEvent(r.Context(), ev)
	writeJSON(w, http.StatusOK, ackResponse{Status: "ok"})
}

// VoximplantEventsHandler ingests VoxEngine lifecycle callbacks and maps
// them onto the provider-neutral event set.
type VoximplantEventsHandler struct {
	Events EventHandler
	Store  *store.Store
	Logger *slog.Logger
}

func (h VoximplantEventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Events == nil || h.Store == nil {
		apierror.Write(w, apierror.Unavailable("Service not ready"))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var p voximplant.WebhookPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		apierror.Write(w, apierror.Validation("invalid_json", "malformed JSON body"))
		return
	}
	if p.Event == "" {
		apierror.Write(w, apierror.Validation("missing_field", "Missing event"))
		return
	}

	logger := logOr(h.Logger)

	// Events without a call id, or naming a call this instance never
	// created, come from the provider's test console. Acked and dropped.
	if p.CallID == "" {
		logger.Info("voximplant test event", "event", p.Event)
		writeJSON(w, http.StatusOK, ackResponse{Status: "ok", Event: p.Event, Message: "test event accepted"})
		return
	}
	if _, ok := h.Store.Get(p.CallID); !ok {
		logger.Warn("voximplant event for unknown call", "event", p.Event, "call_id", p.CallID)
		writeJSON(w, http.StatusOK, ackResponse{Status: "ok", Event: p.Event, Message: "test event accepted"})
		return
	}

	ev, ok := voximplant.MapEvent(p)
	if !ok {
		logger.Warn("voximplant event carries no lifecycle signal", "event", p.Event, "call_id", p.CallID)
		writeJSON(w, http.StatusOK, ackResponse{Status: "ok", CallID: p.CallID})
		return
	}

	h.Events.HandleProviderEvent(r.Context(), ev)
	writeJSON(w, http.StatusOK, ackResponse{Status: "ok", CallID: p.CallID})
}
