// Package server assembles the HTTP surface: operator API, provider
// webhooks, scenario callbacks, the audio websocket and the ops routes.
package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/outdial-ai/outdial/pkg/core/chat"
	"github.com/outdial-ai/outdial/pkg/core/correlate"
	"github.com/outdial-ai/outdial/pkg/core/orchestrate"
	"github.com/outdial-ai/outdial/pkg/core/relay"
	"github.com/outdial-ai/outdial/pkg/core/store"
	"github.com/outdial-ai/outdial/pkg/gateway/config"
	"github.com/outdial-ai/outdial/pkg/gateway/handlers"
	"github.com/outdial-ai/outdial/pkg/gateway/metrics"
	"github.com/outdial-ai/outdial/pkg/gateway/mw"
)

// Deps are the long-lived components the HTTP surface fronts. All fields
// except Metrics are required.
type Deps struct {
	Orchestrator *orchestrate.Orchestrator
	Store        *store.Store
	Correlator   *correlate.Correlator
	Relays       *relay.Registry
	Chat         chat.Client
	Metrics      *metrics.Metrics
}

type Server struct {
	cfg     config.Config
	logger  *slog.Logger
	mux     *http.ServeMux
	started time.Time
}

func New(cfg config.Config, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:     cfg,
		logger:  logger,
		mux:     http.NewServeMux(),
		started: time.Now(),
	}

	s.routes(deps)
	return s
}

func (s *Server) routes(d Deps) {
	apiKey := func(h http.Handler) http.Handler {
		return mw.APIKey(s.cfg.APIAuthKey, h)
	}

	s.mux.Handle("POST /v1/calls", apiKey(handlers.CallsHandler{
		Calls:  d.Orchestrator,
		Logger: s.logger,
	}))
	s.mux.Handle("GET /v1/calls/{id}/status", apiKey(handlers.CallStatusHandler{
		Store:  d.Store,
		Logger: s.logger,
	}))

	// The provider's media leg cannot attach custom headers, so the audio
	// websocket stays outside the API key check. Unknown call ids are
	// rejected after the upgrade instead.
	s.mux.Handle("GET /v1/calls/{id}/audio", handlers.AudioHandler{
		Store:  d.Store,
		Relays: d.Relays,
		Logger: s.logger,
	})

	s.mux.Handle("POST /webhooks/telephony", handlers.TelephonyWebhookHandler{
		Events: d.Orchestrator,
		Logger: s.logger,
	})
	s.mux.Handle("POST /webhooks/voximplant/events", handlers.VoximplantEventsHandler{
		Events: d.Orchestrator,
		Store:  d.Store,
		Logger: s.logger,
	})
	s.mux.Handle("POST /webhooks/voximplant/config", handlers.ScenarioConfigHandler{
		Correlator: d.Correlator,
		Greeting:   s.cfg.DefaultGreeting,
		Prompt:     s.cfg.DefaultPrompt,
		Logger:     s.logger,
	})
	turn := handlers.ScenarioTurnHandler{
		Correlator: d.Correlator,
		Chat:       d.Chat,
		Logger:     s.logger,
	}
	if d.Metrics != nil {
		turn.Metrics = d.Metrics
	}
	s.mux.Handle("POST /webhooks/voximplant/turn", turn)
	s.mux.Handle("POST /webhooks/voximplant/message", handlers.ScenarioMessageHandler{
		Correlator: d.Correlator,
		Logger:     s.logger,
	})

	s.mux.Handle("GET /healthz", handlers.HealthHandler{
		Active: d.Orchestrator,
		Start:  s.started,
	})
	if d.Metrics != nil {
		s.mux.Handle("GET /metrics", d.Metrics.Handler())
	}

	s.mux.Handle("/", handlers.NotFoundHandler{})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.CORS(h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}
