package voximplant

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/outdial-ai/outdial/pkg/core/call"
	"github.com/outdial-ai/outdial/pkg/telephony"
)

func testConfig(baseURL string) Config {
	return Config{
		AccountID:  "12345",
		APIKey:     "vox-key",
		RuleID:     "67890",
		CallerID:   "+74950000000",
		BackendURL: "https://backend.example.com",
		BaseURL:    baseURL,
	}
}

func TestInitiate_SendsStartScenarios(t *testing.T) {
	var gotForm map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/StartScenarios" {
			t.Errorf("path = %q, want /StartScenarios", r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("ParseForm() error = %v", err)
		}
		gotForm = map[string]string{
			"account_id":         r.PostFormValue("account_id"),
			"api_key":            r.PostFormValue("api_key"),
			"rule_id":            r.PostFormValue("rule_id"),
			"script_custom_data": r.PostFormValue("script_custom_data"),
		}
		_, _ = w.Write([]byte(`{"result":1,"media_session_access_url":"http://msa.example"}`))
	}))
	defer srv.Close()

	g := New(testConfig(srv.URL), nil, func(string) (call.Status, bool) { return call.StatusDialing, false }, nil)
	defer g.Close()

	if err := g.Initiate(context.Background(), "call-1", "+79161234567"); err != nil {
		t.Fatalf("Initiate() error = %v", err)
	}

	if gotForm["account_id"] != "12345" || gotForm["api_key"] != "vox-key" || gotForm["rule_id"] != "67890" {
		t.Fatalf("form = %+v", gotForm)
	}

	var custom scenarioData
	if err := json.Unmarshal([]byte(gotForm["script_custom_data"]), &custom); err != nil {
		t.Fatalf("script_custom_data not JSON: %v", err)
	}
	if custom.CallID != "call-1" || custom.Phone != "+79161234567" {
		t.Fatalf("custom data = %+v", custom)
	}
	if custom.WebhookURL != "https://backend.example.com/webhooks/voximplant/events" {
		t.Fatalf("webhook url = %q", custom.WebhookURL)
	}
}

func TestInitiate_APIRefusal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"result":0,"error":{"msg":"Invalid rule","code":103}}`))
	}))
	defer srv.Close()

	g := New(testConfig(srv.URL), nil, nil, nil)
	defer g.Close()

	err := g.Initiate(context.Background(), "call-1", "+79161234567")
	if err == nil || !strings.Contains(err.Error(), "Invalid rule") {
		t.Fatalf("Initiate() error = %v, want api refusal", err)
	}
}

func TestInitiate_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	g := New(testConfig(srv.URL), nil, nil, nil)
	defer g.Close()

	if err := g.Initiate(context.Background(), "call-1", "+79161234567"); err == nil {
		t.Fatal("Initiate() should fail on 5xx")
	}
}

func TestAudioNotSupported(t *testing.T) {
	g := New(testConfig("http://unused"), nil, nil, nil)
	defer g.Close()

	if err := g.SendAudio(context.Background(), "call-1", []byte("x")); !errors.Is(err, telephony.ErrNotSupported) {
		t.Fatalf("SendAudio() error = %v, want ErrNotSupported", err)
	}
	if _, err := g.ReceiveAudio(context.Background(), "call-1"); !errors.Is(err, telephony.ErrNotSupported) {
		t.Fatalf("ReceiveAudio() error = %v, want ErrNotSupported", err)
	}
}

func TestPollStatus_AssumesConnectedAfterTenPolls(t *testing.T) {
	events := make(chan telephony.ProviderEvent, 1)
	sink := func(ctx context.Context, ev telephony.ProviderEvent) { events <- ev }

	polls := 0
	status := func(string) (call.Status, bool) {
		polls++
		return call.StatusDialing, true
	}

	g := New(testConfig("http://unused"), sink, status, nil)
	defer g.Close()
	g.pollInterval = time.Millisecond

	g.pollStatus("call-1")

	select {
	case ev := <-events:
		if ev.Event != telephony.EventAnswered || ev.CallID != "call-1" {
			t.Fatalf("event = %+v, want synthetic answered", ev)
		}
	default:
		t.Fatal("expected a synthetic answered event")
	}
	if polls != 10 {
		t.Fatalf("polls = %d, want 10", polls)
	}
}

func TestPollStatus_StopsWhenWebhookWins(t *testing.T) {
	events := make(chan telephony.ProviderEvent, 1)
	sink := func(ctx context.Context, ev telephony.ProviderEvent) { events <- ev }

	status := func(string) (call.Status, bool) { return call.StatusInProgress, true }

	g := New(testConfig("http://unused"), sink, status, nil)
	defer g.Close()
	g.pollInterval = time.Millisecond

	g.pollStatus("call-1")

	select {
	case ev := <-events:
		t.Fatalf("unexpected event %+v after webhook already answered", ev)
	default:
	}
}

func TestPollStatus_StopsWhenCallGone(t *testing.T) {
	status := func(string) (call.Status, bool) { return "", false }

	g := New(testConfig("http://unused"), func(ctx context.Context, ev telephony.ProviderEvent) {
		t.Errorf("unexpected event %+v", ev)
	}, status, nil)
	defer g.Close()
	g.pollInterval = time.Millisecond

	g.pollStatus("call-1")
}

func TestMapEvent(t *testing.T) {
	tests := []struct {
		name      string
		payload   WebhookPayload
		wantEvent telephony.Event
		wantOK    bool
		wantReasn string
	}{
		{"ringing", WebhookPayload{Event: "Ringing", CallID: "c1"}, telephony.EventRinging, true, ""},
		{"connected", WebhookPayload{Event: "Connected", CallID: "c1"}, telephony.EventAnswered, true, ""},
		{"disconnected default reason", WebhookPayload{Event: "Disconnected", CallID: "c1"}, telephony.EventHangup, true, "normal"},
		{"disconnected keeps reason", WebhookPayload{Event: "Disconnected", CallID: "c1", Reason: "remote bye"}, telephony.EventHangup, true, "remote bye"},
		{"failed busy", WebhookPayload{Event: "Failed", CallID: "c1", Reason: "User Busy"}, telephony.EventBusy, true, "User Busy"},
		{"failed no answer", WebhookPayload{Event: "Failed", CallID: "c1", Reason: "No Answer"}, telephony.EventNoAnswer, true, "No Answer"},
		{"failed timeout", WebhookPayload{Event: "Failed", CallID: "c1", Reason: "connection timeout"}, telephony.EventNoAnswer, true, "connection timeout"},
		{"failed other", WebhookPayload{Event: "Failed", CallID: "c1", Reason: "codec mismatch"}, telephony.EventError, true, "codec mismatch"},
		{"failed empty reason", WebhookPayload{Event: "Failed", CallID: "c1"}, telephony.EventError, true, "unknown"},
		{"transcript update ignored", WebhookPayload{Event: "TranscriptUpdate", CallID: "c1", Speaker: "user", Text: "привет"}, "", false, ""},
		{"unknown ignored", WebhookPayload{Event: "SomethingElse", CallID: "c1"}, "", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, ok := MapEvent(tt.payload)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if ev.Event != tt.wantEvent {
				t.Errorf("Event = %q, want %q", ev.Event, tt.wantEvent)
			}
			if ev.Reason != tt.wantReasn {
				t.Errorf("Reason = %q, want %q", ev.Reason, tt.wantReasn)
			}
			if ev.CallID != "c1" {
				t.Errorf("CallID = %q, want c1", ev.CallID)
			}
		})
	}
}
