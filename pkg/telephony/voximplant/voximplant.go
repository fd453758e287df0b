// Package voximplant places calls through the Voximplant HTTP API. The
// call itself runs inside a VoxEngine scenario on the provider side:
// lifecycle progress arrives by webhook, dialog audio never crosses this
// process, and SendAudio/ReceiveAudio report ErrNotSupported.
//
// Provider webhooks for the answer signal have proven unreliable, so
// every initiated call also runs a fallback poll that assumes the call
// connected after five seconds of dialing. The first writer wins; if the
// real webhook lands first the poll stops without effect. A wrongly
// assumed answer is not reconciled later, the terminal webhook still
// finalizes the call normally.
package voximplant

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/outdial-ai/outdial/pkg/core/call"
	"github.com/outdial-ai/outdial/pkg/telephony"
)

// DefaultBaseURL is the Voximplant management API endpoint.
const DefaultBaseURL = "https://api.voximplant.com/platform_api"

const (
	pollInterval    = 500 * time.Millisecond
	maxPolls        = 60 // 30 seconds
	assumeAfterPoll = 10 // 5 seconds of dialing
)

// StatusFunc reports the lifecycle status of a call. ok is false once the
// call is no longer tracked.
type StatusFunc func(callID string) (call.Status, bool)

// Config carries the provider credentials and callback addressing.
type Config struct {
	AccountID  string
	APIKey     string
	RuleID     string
	CallerID   string
	BackendURL string
	BaseURL    string // defaults to DefaultBaseURL
}

// Gateway is the Voximplant implementation of telephony.Gateway.
type Gateway struct {
	cfg        Config
	sink       telephony.EventSink
	status     StatusFunc
	httpClient *http.Client
	logger     *slog.Logger

	pollInterval time.Duration

	mu     sync.Mutex
	active map[string]*activeCall
	closed chan struct{}
	once   sync.Once
}

type activeCall struct {
	phone           string
	mediaSessionURL string
}

// New returns a gateway. The sink receives synthetic events from the
// fallback poll; webhook events reach the orchestrator through the HTTP
// surface instead.
func New(cfg Config, sink telephony.EventSink, status StatusFunc, logger *slog.Logger) *Gateway {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		cfg:          cfg,
		sink:         sink,
		status:       status,
		httpClient:   &http.Client{Timeout: 15 * time.Second},
		logger:       logger.With("component", "telephony.voximplant"),
		pollInterval: pollInterval,
		active:       make(map[string]*activeCall),
		closed:       make(chan struct{}),
	}
}

// scenarioData is handed to the VoxEngine scenario as script_custom_data.
type scenarioData struct {
	CallID     string `json:"call_id"`
	Phone      string `json:"phone"`
	CallerID   string `json:"caller_id"`
	WebhookURL string `json:"webhook_url"`
}

type startScenariosResponse struct {
	Result                int    `json:"result"`
	MediaSessionAccessURL string `json:"media_session_access_url"`
	Error                 *struct {
		Msg  string `json:"msg"`
		Code int    `json:"code"`
	} `json:"error"`
}

// Initiate starts the calling scenario and begins the fallback poll.
func (g *Gateway) Initiate(ctx context.Context, callID, phone string) error {
	custom, err := json.Marshal(scenarioData{
		CallID:     callID,
		Phone:      phone,
		CallerID:   g.cfg.CallerID,
		WebhookURL: strings.TrimRight(g.cfg.BackendURL, "/") + "/webhooks/voximplant/events",
	})
	if err != nil {
		return fmt.Errorf("marshal scenario data: %w", err)
	}

	form := url.Values{}
	form.Set("account_id", g.cfg.AccountID)
	form.Set("api_key", g.cfg.APIKey)
	form.Set("rule_id", g.cfg.RuleID)
	form.Set("script_custom_data", string(custom))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		g.cfg.BaseURL+"/StartScenarios", strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("start scenario: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("start scenario: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed startScenariosResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if parsed.Result != 1 {
		msg := "unknown error"
		if parsed.Error != nil && parsed.Error.Msg != "" {
			msg = parsed.Error.Msg
		}
		return fmt.Errorf("start scenario refused: %s", msg)
	}

	g.mu.Lock()
	g.active[callID] = &activeCall{phone: phone, mediaSessionURL: parsed.MediaSessionAccessURL}
	g.mu.Unlock()

	g.logger.Info("call initiated", "call_id", callID, "phone", phone)
	go g.pollStatus(callID)
	return nil
}

// pollStatus is the answer-signal fallback. It watches the call status
// every 500ms and injects a synthetic answered event once the call has
// been dialing for five seconds, for at most thirty seconds total.
func (g *Gateway) pollStatus(callID string) {
	ticker := time.NewTicker(g.pollInterval)
	defer ticker.Stop()

	for poll := 1; poll <= maxPolls; poll++ {
		select {
		case <-ticker.C:
		case <-g.closed:
			return
		}

		st, ok := g.status(callID)
		if !ok {
			g.logger.Info("fallback poll stopped, call gone", "call_id", callID)
			return
		}
		if st != call.StatusCreated && st != call.StatusDialing {
			g.logger.Info("fallback poll stopped", "call_id", callID, "status", string(st))
			return
		}

		if poll >= assumeAfterPoll {
			g.logger.Info("assuming call connected", "call_id", callID, "after", g.pollInterval*time.Duration(poll))
			g.emit(callID, telephony.EventAnswered, "")
			return
		}
	}
	g.logger.Warn("fallback poll exhausted without answer", "call_id", callID)
}

// SendAudio is not available: scenario-driven calls keep audio on the
// provider side.
func (g *Gateway) SendAudio(ctx context.Context, callID string, audio []byte) error {
	return telephony.ErrNotSupported
}

// ReceiveAudio is not available: scenario-driven calls keep audio on the
// provider side.
func (g *Gateway) ReceiveAudio(ctx context.Context, callID string) ([]byte, error) {
	return nil, telephony.ErrNotSupported
}

// Hangup releases local tracking. The scenario owns the line and reports
// the disconnect by webhook.
func (g *Gateway) Hangup(ctx context.Context, callID string) error {
	g.mu.Lock()
	_, ok := g.active[callID]
	delete(g.active, callID)
	g.mu.Unlock()
	if !ok {
		g.logger.Warn("hangup on unknown call", "call_id", callID)
		return nil
	}
	g.logger.Info("call released", "call_id", callID)
	return nil
}

// Close stops all fallback polls.
func (g *Gateway) Close() {
	g.once.Do(func() { close(g.closed) })
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
