package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"github.com/outdial-ai/outdial/pkg/core/call"
	"github.com/outdial-ai/outdial/pkg/core/store"
	"github.com/outdial-ai/outdial/pkg/gateway/apierror"
)

// CallStarter is the slice of the orchestrator the call-creation route
// drives.
type CallStarter interface {
	CreateCall(ctx context.Context, phone string, opts call.Options) *call.Session
	StartCallBackground(ctx context.Context, id string)
}

var phonePattern = regexp.MustCompile(`^(\+7|8)\d{10}$`)

const badPhoneMessage = "Invalid phone number format. Expected: +7XXXXXXXXXX or 8XXXXXXXXXX"

// normalizePhone validates the dialable number shape and rewrites the
// domestic 8 prefix to +7.
func normalizePhone(raw string) (string, bool) {
	if !phonePattern.MatchString(raw) {
		return "", false
	}
	if strings.HasPrefix(raw, "8") {
		return "+7" + raw[1:], true
	}
	return raw, true
}

// CallsHandler creates a call session and starts dialing in the
// background; the response does not wait for the provider roundtrip.
type CallsHandler struct {
	Calls  CallStarter
	Logger *slog.Logger
}

type createCallRequest struct {
	Phone    string `json:"phone"`
	Greeting string `json:"greeting"`
	Prompt   string `json:"prompt"`
	Voice    string `json:"voice"`
	Language string `json:"language"`
}

type createCallResponse struct {
	CallID string `json:"call_id"`
	Status string `json:"status"`
}

func (h CallsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Calls == nil {
		apierror.Write(w, apierror.Unavailable("Service not ready"))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req createCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierror.Write(w, apierror.Validation("invalid_json", "malformed JSON body"))
		return
	}

	phone, ok := normalizePhone(strings.TrimSpace(req.Phone))
	if !ok {
		apierror.Write(w, apierror.Validation("invalid_phone", badPhoneMessage))
		return
	}

	sess := h.Calls.CreateCall(r.Context(), phone, call.Options{
		Greeting: strings.TrimSpace(req.Greeting),
		Prompt:   strings.TrimSpace(req.Prompt),
		Voice:    strings.TrimSpace(req.Voice),
		Language: strings.TrimSpace(req.Language),
	})
	h.Calls.StartCallBackground(r.Context(), sess.ID)

	writeJSON(w, http.StatusAccepted, createCallResponse{
		CallID: sess.ID,
		Status: string(sess.Status()),
	})
}

// CallStatusHandler reports where a live call sits in the processing
// pipeline, in the fixed projection the frontend polls. Finalized calls
// leave the store, so they answer 404.
type CallStatusHandler struct {
	Store  *store.Store
	Logger *slog.Logger
}

type statusProjection struct {
	CallStatus     string `json:"call_status"`
	AnalysisStatus string `json:"analysis_status"`
	FollowupStatus string `json:"followup_status"`
	SMSStatus      string `json:"sms_status"`
	CRMStatus      string `json:"crm_status"`
	ChatReady      bool   `json:"chat_ready"`
}

// stageProjections is the full pipeline table. The stages past
// "analyzing" belong to the follow-up pipeline (SMS, CRM) that runs
// outside this service.
var stageProjections = map[string]statusProjection{
	"initiated":           {CallStatus: "pending", AnalysisStatus: "pending", FollowupStatus: "pending", SMSStatus: "pending", CRMStatus: "pending"},
	"call_in_progress":    {CallStatus: "in_progress", AnalysisStatus: "pending", FollowupStatus: "pending", SMSStatus: "pending", CRMStatus: "pending"},
	"analyzing":           {CallStatus: "completed", AnalysisStatus: "in_progress", FollowupStatus: "pending", SMSStatus: "pending", CRMStatus: "pending"},
	"generating_followup": {CallStatus: "completed", AnalysisStatus: "done", FollowupStatus: "in_progress", SMSStatus: "pending", CRMStatus: "pending"},
	"sending_sms":         {CallStatus: "completed", AnalysisStatus: "done", FollowupStatus: "done", SMSStatus: "sending", CRMStatus: "pending", ChatReady: true},
	"adding_to_crm":       {CallStatus: "completed", AnalysisStatus: "done", FollowupStatus: "done", SMSStatus: "sent", CRMStatus: "adding", ChatReady: true},
	"completed":           {CallStatus: "completed", AnalysisStatus: "done", FollowupStatus: "done", SMSStatus: "sent", CRMStatus: "added", ChatReady: true},
	"failed":              {CallStatus: "failed", AnalysisStatus: "pending", FollowupStatus: "pending", SMSStatus: "pending", CRMStatus: "pending"},
}

// stageFor derives the pipeline stage from the live session. A terminal
// status without a disposition means finalization is still running.
func stageFor(sess *call.Session) string {
	switch sess.Status() {
	case call.StatusCreated, call.StatusDialing:
		return "initiated"
	case call.StatusInProgress:
		return "call_in_progress"
	case call.StatusFailed:
		return "failed"
	case call.StatusCompleted, call.StatusNoAnswer:
		if sess.Disposition() == "" {
			return "analyzing"
		}
		return "completed"
	default:
		return "initiated"
	}
}

func (h CallStatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, ok := h.Store.Get(id)
	if !ok {
		apierror.Write(w, apierror.NotFound("call not found"))
		return
	}
	writeJSON(w, http.StatusOK, stageProjections[stageFor(sess)])
}
