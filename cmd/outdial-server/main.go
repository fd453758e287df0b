package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/outdial-ai/outdial/internal/dotenv"
	"github.com/outdial-ai/outdial/pkg/core/call"
	"github.com/outdial-ai/outdial/pkg/core/chat"
	"github.com/outdial-ai/outdial/pkg/core/classify"
	"github.com/outdial-ai/outdial/pkg/core/correlate"
	"github.com/outdial-ai/outdial/pkg/core/dialog"
	"github.com/outdial-ai/outdial/pkg/core/ledger"
	"github.com/outdial-ai/outdial/pkg/core/orchestrate"
	"github.com/outdial-ai/outdial/pkg/core/relay"
	"github.com/outdial-ai/outdial/pkg/core/store"
	"github.com/outdial-ai/outdial/pkg/core/voice/stt"
	"github.com/outdial-ai/outdial/pkg/core/voice/tts"
	"github.com/outdial-ai/outdial/pkg/gateway/config"
	"github.com/outdial-ai/outdial/pkg/gateway/metrics"
	gatewayserver "github.com/outdial-ai/outdial/pkg/gateway/server"
	"github.com/outdial-ai/outdial/pkg/telephony"
	"github.com/outdial-ai/outdial/pkg/telephony/stub"
	"github.com/outdial-ai/outdial/pkg/telephony/voximplant"
)

type serverDeps struct {
	loadConfig   func() (config.Config, error)
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultServerDeps() serverDeps {
	return serverDeps{
		loadConfig: config.LoadFromEnv,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

// app holds the assembled call pipeline and its HTTP surface.
type app struct {
	orchestrator *orchestrate.Orchestrator
	server       *gatewayserver.Server
	mode         orchestrate.Mode
	closeGateway func()
}

func buildApp(cfg config.Config, logger *slog.Logger) (*app, error) {
	st := store.New()
	corr := correlate.New(st)
	relays := relay.NewRegistry()
	m := metrics.New("")

	llm := chat.NewOpenAI(cfg.OpenAIAPIKey, cfg.GPTModel, chat.WithLogger(logger))

	var transcriber stt.Provider
	switch cfg.STTProvider {
	case config.STTDeepgram:
		transcriber = stt.NewDeepgram(cfg.DeepgramAPIKey)
	default:
		transcriber = stt.NewWhisper(cfg.OpenAIAPIKey)
	}
	speech := tts.NewOpenAI(cfg.OpenAIAPIKey)

	var rows ledger.Store
	switch cfg.LedgerBackend {
	case config.LedgerSQLite:
		s, err := ledger.NewSQLite(cfg.LedgerSQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite ledger: %w", err)
		}
		rows = s
	case config.LedgerHTTP:
		rows = ledger.NewHTTP(cfg.LedgerURL, ledger.WithHTTPToken(cfg.LedgerToken))
	default:
		rows = ledger.NewMemory()
	}
	writer := ledger.NewWriter(rows, cfg.LedgerFallbackDir, logger)

	// Adapters push lifecycle events into the orchestrator, which does not
	// exist yet; the sink resolves through this variable once assembly
	// finishes. Events cannot arrive before the first Initiate.
	var orch *orchestrate.Orchestrator
	sink := func(ctx context.Context, ev telephony.ProviderEvent) {
		orch.HandleProviderEvent(ctx, ev)
	}

	mode := orchestrate.Mode(cfg.DialogMode)
	var gw telephony.Gateway
	var closeGateway func()
	switch cfg.TelephonyProvider {
	case config.TelephonyVoximplant:
		vox := voximplant.New(voximplant.Config{
			AccountID:  cfg.VoximplantAccountID,
			APIKey:     cfg.VoximplantAPIKey,
			RuleID:     cfg.VoximplantRuleID,
			CallerID:   cfg.VoximplantCallerID,
			BackendURL: cfg.BackendURL,
		}, sink, func(id string) (call.Status, bool) {
			sess, ok := st.Get(id)
			if !ok {
				return "", false
			}
			return sess.Status(), true
		}, logger)
		gw = vox
		closeGateway = vox.Close
		// Voximplant cannot move audio through the gateway interface;
		// turn dialogs run as provider-hosted scenario callbacks.
		if mode == orchestrate.ModeTurn {
			mode = orchestrate.ModeScenario
		}
	default:
		gw = stub.New(sink, logger)
	}

	orch = orchestrate.New(orchestrate.Deps{
		Store:      st,
		Correlator: corr,
		Gateway:    gw,
		Engine:     dialog.NewTurnEngine(llm, transcriber, speech, gw, logger),
		Dialer:     &relay.Dialer{APIKey: cfg.OpenAIAPIKey, Model: cfg.RealtimeModel, URL: cfg.RealtimeURL},
		Relays:     relays,
		Classifier: classify.New(llm, logger),
		Ledger:     writer,
		Metrics:    m,
		Logger:     logger,
		Provider:   string(cfg.TelephonyProvider),
		Mode:       mode,
		Defaults: call.Options{
			Greeting:    cfg.DefaultGreeting,
			Prompt:      cfg.DefaultPrompt,
			Voice:       cfg.TTSVoice,
			Language:    cfg.DefaultLanguage,
			MaxTurns:    cfg.MaxDialogTurns,
			MaxDuration: cfg.MaxCallDuration,
		},
	})

	srv := gatewayserver.New(cfg, gatewayserver.Deps{
		Orchestrator: orch,
		Store:        st,
		Correlator:   corr,
		Relays:       relays,
		Chat:         llm,
		Metrics:      m,
	}, logger)

	return &app{
		orchestrator: orch,
		server:       srv,
		mode:         mode,
		closeGateway: closeGateway,
	}, nil
}

func runServer(ctx context.Context, logger *slog.Logger, deps serverDeps) error {
	if deps.loadConfig == nil {
		return errors.New("missing loadConfig dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if level, lvlErr := cfg.SlogLevel(); lvlErr == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	}

	a, err := buildApp(cfg, logger)
	if err != nil {
		return fmt.Errorf("assemble: %w", err)
	}
	httpSrv := buildHTTPServer(cfg, a.server.Handler())

	logger.Info("starting server",
		"addr", cfg.Addr(),
		"telephony", cfg.TelephonyProvider,
		"stt", cfg.STTProvider,
		"ledger", cfg.LedgerBackend,
		"mode", a.mode,
	)

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	drainCtx, drainCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer drainCancel()
	a.orchestrator.Shutdown(drainCtx)
	if a.closeGateway != nil {
		a.closeGateway()
	}

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

func runMain(ctx context.Context, stderr io.Writer, deps serverDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := slog.New(slog.NewJSONHandler(stderr, nil))

	if err := dotenv.LoadFile(".env"); err != nil {
		fmt.Fprintf(stderr, "outdial-server: %v\n", err)
		return 1
	}

	if err := runServer(ctx, logger, deps); err != nil {
		fmt.Fprintf(stderr, "outdial-server: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr, defaultServerDeps()))
}
