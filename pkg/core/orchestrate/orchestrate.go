// Package orchestrate drives the lifecycle of outbound calls: creating
// sessions, dialing through the telephony gateway, reacting to provider
// events, running the configured dialog engine on answered calls, and
// finalizing each call exactly once.
package orchestrate

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/outdial-ai/outdial/pkg/core/call"
	"github.com/outdial-ai/outdial/pkg/core/classify"
	"github.com/outdial-ai/outdial/pkg/core/correlate"
	"github.com/outdial-ai/outdial/pkg/core/ledger"
	"github.com/outdial-ai/outdial/pkg/core/relay"
	"github.com/outdial-ai/outdial/pkg/core/store"
	"github.com/outdial-ai/outdial/pkg/telephony"
)

// Mode selects how answered calls hold their conversation.
type Mode string

const (
	// ModeTurn runs the in-process turn engine over gateway audio.
	ModeTurn Mode = "turn"
	// ModeStreaming relays audio between the caller and a continuous
	// speech session.
	ModeStreaming Mode = "streaming"
	// ModeScenario leaves the dialog to provider-hosted scenario
	// callbacks; no local task is started on answer.
	ModeScenario Mode = "scenario"
)

// DialogEngine speaks with an answered call until the conversation ends.
type DialogEngine interface {
	Run(ctx context.Context, sess *call.Session, opts call.Options)
}

// AIDialer opens a continuous speech session for streaming mode.
type AIDialer interface {
	Dial(ctx context.Context, opts call.Options) (relay.AISession, error)
}

// Classifier labels a finished transcript with an outcome.
type Classifier interface {
	Classify(ctx context.Context, transcript string) (classify.Result, error)
}

// LedgerWriter records one finished call.
type LedgerWriter interface {
	Write(ctx context.Context, row ledger.Row) error
}

// Metrics receives orchestration counters. The gateway metrics registry
// implements it; the default is a no-op.
type Metrics interface {
	CallStarted(provider string)
	ProviderEventReceived(event string)
	DialogTurns(engine string, turns int)
	CallFinalized(status string)
	LedgerOutcome(outcome string)
	ActiveCalls(n int)
	CallDuration(seconds float64)
}

type nopMetrics struct{}

func (nopMetrics) CallStarted(string)           {}
func (nopMetrics) ProviderEventReceived(string) {}
func (nopMetrics) DialogTurns(string, int)      {}
func (nopMetrics) CallFinalized(string)         {}
func (nopMetrics) LedgerOutcome(string)         {}
func (nopMetrics) ActiveCalls(int)              {}
func (nopMetrics) CallDuration(float64)         {}

// Deps wires an orchestrator. Store, Correlator, Gateway, Classifier and
// Ledger are required; zero values of the rest fall back to defaults.
type Deps struct {
	Store      *store.Store
	Correlator *correlate.Correlator
	Gateway    telephony.Gateway
	Engine     DialogEngine
	Dialer     AIDialer
	Relays     *relay.Registry
	Classifier Classifier
	Ledger     LedgerWriter
	Metrics    Metrics
	Logger     *slog.Logger

	Provider string
	Mode     Mode
	Defaults call.Options
}

// Orchestrator owns every live call from creation to the ledger row.
type Orchestrator struct {
	store      *store.Store
	correlator *correlate.Correlator
	gateway    telephony.Gateway
	engine     DialogEngine
	dialer     AIDialer
	relays     *relay.Registry
	classifier Classifier
	ledger     LedgerWriter
	tracker    *Tracker
	metrics    Metrics
	logger     *slog.Logger

	provider string
	mode     Mode
	defaults call.Options

	mu         sync.Mutex
	finalizing map[string]*sync.Mutex
}

// New assembles an orchestrator from its dependencies.
func New(d Deps) *Orchestrator {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Metrics == nil {
		d.Metrics = nopMetrics{}
	}
	if d.Relays == nil {
		d.Relays = relay.NewRegistry()
	}
	if d.Mode == "" {
		d.Mode = ModeTurn
	}
	return &Orchestrator{
		store:      d.Store,
		correlator: d.Correlator,
		gateway:    d.Gateway,
		engine:     d.Engine,
		dialer:     d.Dialer,
		relays:     d.Relays,
		classifier: d.Classifier,
		ledger:     d.Ledger,
		tracker:    NewTracker(),
		metrics:    d.Metrics,
		logger:     d.Logger.With("component", "orchestrator"),
		provider:   d.Provider,
		mode:       d.Mode,
		defaults:   d.Defaults,
		finalizing: make(map[string]*sync.Mutex),
	}
}

// ActiveCalls reports the number of sessions currently live.
func (o *Orchestrator) ActiveCalls() int {
	return o.store.Len()
}

// CreateCall registers a new session for an already validated phone
// number. The call is not dialed yet; StartCall does that.
func (o *Orchestrator) CreateCall(ctx context.Context, phone string, opts call.Options) *call.Session {
	merged := o.defaults.Merged(opts)
	sess := call.New(phone, merged)
	o.store.Put(sess)
	o.correlator.Track(sess.ID, merged.Greeting, merged.Prompt)
	o.metrics.ActiveCalls(o.store.Len())
	o.logger.Info("call created", "call_id", sess.ID, "phone", phone)
	return sess
}

// StartCall dials a created call through the telephony gateway. A gateway
// refusal fails the call and finalizes it immediately.
func (o *Orchestrator) StartCall(ctx context.Context, id string) error {
	sess, ok := o.store.Get(id)
	if !ok {
		return fmt.Errorf("orchestrate: start of unknown call %s", id)
	}
	logger := o.logger.With("call_id", id)

	sess.Transition(call.StatusDialing, call.StatusCreated)
	o.metrics.CallStarted(o.provider)
	logger.Info("dialing", "phone", sess.Phone)

	if err := o.gateway.Initiate(ctx, id, sess.Phone); err != nil {
		logger.Error("call initiation failed", "error", err)
		sess.SetStatus(call.StatusFailed)
		o.Finalize(ctx, id)
		return fmt.Errorf("orchestrate: initiate call %s: %w", id, err)
	}
	return nil
}

// StartCallBackground runs StartCall in a tracked task so the API handler
// can acknowledge before the provider roundtrip completes.
func (o *Orchestrator) StartCallBackground(ctx context.Context, id string) {
	o.spawn(ctx, id+":start", func(taskCtx context.Context) {
		_ = o.StartCall(taskCtx, id)
	})
}

// HandleProviderEvent applies one provider lifecycle signal to the call it
// names. Events for unknown calls are logged and dropped; redelivered
// terminal events are deduplicated through the correlator.
func (o *Orchestrator) HandleProviderEvent(ctx context.Context, ev telephony.ProviderEvent) {
	o.metrics.ProviderEventReceived(string(ev.Event))

	sess, ok := o.store.Get(ev.CallID)
	if !ok {
		o.logger.Warn("event for unknown call", "call_id", ev.CallID, "event", ev.Event)
		return
	}
	logger := o.logger.With("call_id", ev.CallID)

	switch ev.Event {
	case telephony.EventRinging:
		if sess.Transition(call.StatusDialing, call.StatusCreated, call.StatusDialing) {
			logger.Info("call ringing")
		}
	case telephony.EventAnswered:
		if !sess.Transition(call.StatusInProgress, call.StatusCreated, call.StatusDialing) {
			logger.Debug("answered signal ignored", "status", sess.Status())
			return
		}
		sess.MarkStarted(eventTime(ev))
		logger.Info("call answered")
		o.startDialog(ctx, sess)
	case telephony.EventBusy, telephony.EventNoAnswer:
		sess.SetStatus(call.StatusNoAnswer)
		logger.Info("call not answered", "event", ev.Event, "reason", ev.Reason)
	case telephony.EventError:
		sess.SetStatus(call.StatusFailed)
		logger.Error("provider reported call failure", "reason", ev.Reason)
	case telephony.EventHangup:
		if sess.Transition(call.StatusCompleted, call.StatusInProgress) {
			logger.Info("caller hung up")
		} else {
			logger.Info("hangup before answer", "status", sess.Status())
		}
	default:
		logger.Warn("unhandled provider event", "event", ev.Event)
		return
	}

	if !ev.Event.Terminal() {
		return
	}
	if !o.correlator.MarkEnded(ev.CallID) {
		logger.Debug("terminal event for already ended call", "event", ev.Event)
		return
	}
	sess.MarkEnded(eventTime(ev))
	if o.tracker.Cancel(ev.CallID) {
		// The call task finalizes on its way out.
		return
	}
	o.Finalize(ctx, ev.CallID)
}

// startDialog launches the per-call conversation task for the configured
// mode. Scenario mode has no local task; turns arrive through callbacks.
func (o *Orchestrator) startDialog(ctx context.Context, sess *call.Session) {
	switch o.mode {
	case ModeStreaming:
		o.spawn(ctx, sess.ID, func(taskCtx context.Context) { o.runRelay(taskCtx, sess) })
	case ModeScenario:
	default:
		o.spawn(ctx, sess.ID, func(taskCtx context.Context) { o.runTurnDialog(taskCtx, sess) })
	}
}

// runTurnDialog drives one answered call through the turn engine, then
// hangs up our leg and finalizes whatever happened.
func (o *Orchestrator) runTurnDialog(ctx context.Context, sess *call.Session) {
	logger := o.logger.With("call_id", sess.ID)
	endCtx := context.WithoutCancel(ctx)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("dialog task panic", "panic", r)
			sess.SetStatus(call.StatusFailed)
		}
		o.Finalize(endCtx, sess.ID)
	}()

	o.engine.Run(ctx, sess, sess.Opts)
	o.metrics.DialogTurns(string(ModeTurn), len(sess.Transcript()))

	sess.Transition(call.StatusCompleted, call.StatusInProgress)
	if err := o.gateway.Hangup(endCtx, sess.ID); err != nil {
		logger.Debug("hangup after dialog", "error", err)
	}
}

// runRelay owns the streaming conversation: dial the speech session, make
// the relay reachable for the audio endpoint, and pump events until the
// call ends.
func (o *Orchestrator) runRelay(ctx context.Context, sess *call.Session) {
	logger := o.logger.With("call_id", sess.ID)
	endCtx := context.WithoutCancel(ctx)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("relay task panic", "panic", r)
			sess.SetStatus(call.StatusFailed)
		}
		o.Finalize(endCtx, sess.ID)
	}()

	if o.dialer == nil {
		logger.Error("streaming mode without a speech dialer")
		sess.SetStatus(call.StatusFailed)
		return
	}
	ai, err := o.dialer.Dial(ctx, sess.Opts)
	if err != nil {
		logger.Error("speech session dial failed", "error", err)
		sess.SetStatus(call.StatusFailed)
		return
	}

	rl := relay.New(sess.ID, sess, ai, o.logger)
	if err := o.relays.Register(sess.ID, rl); err != nil {
		logger.Error("relay registration failed", "error", err)
		_ = rl.Close()
		sess.SetStatus(call.StatusFailed)
		return
	}
	defer o.relays.Unregister(sess.ID)

	rl.Run(ctx)
	o.metrics.DialogTurns(string(ModeStreaming), len(sess.Transcript()))

	sess.Transition(call.StatusCompleted, call.StatusInProgress)
	if err := o.gateway.Hangup(endCtx, sess.ID); err != nil {
		logger.Debug("hangup after relay", "error", err)
	}
}

// Finalize closes out a call exactly once: stamps the end time, classifies
// the transcript, writes the ledger row, and releases every registration.
// Safe to call from multiple paths; later calls are no-ops.
func (o *Orchestrator) Finalize(ctx context.Context, id string) {
	lk := o.finalizeLock(id)
	lk.Lock()
	defer lk.Unlock()

	sess, ok := o.store.Get(id)
	if !ok {
		return
	}
	logger := o.logger.With("call_id", id)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic during finalization", "panic", r)
		}
		o.store.Remove(id)
		o.correlator.Discard(id)
		o.dropFinalizeLock(id)
		o.metrics.ActiveCalls(o.store.Len())
	}()

	sess.MarkEnded(time.Now().UTC())
	if len(sess.Transcript()) == 0 {
		if hist := o.correlator.History(id); len(hist) > 0 {
			sess.MergeTurns(hist)
		}
	}

	snap := sess.Snapshot()
	if snap.Transcript == "" {
		sess.SetDisposition(call.DispositionUnknown)
		sess.SetSummary("Не дозвонились: статус " + string(snap.Status))
	} else if res, err := o.classifier.Classify(ctx, snap.Transcript); err != nil {
		logger.Error("classification failed", "error", err)
		sess.SetDisposition(call.DispositionUnknown)
		sess.SetSummary("Ошибка классификации: " + err.Error())
	} else {
		sess.SetDisposition(res.Disposition)
		sess.SetSummary(res.Summary)
	}

	final := sess.Snapshot()
	row := ledger.FromSnapshot(final)
	if final.Transcript == "" {
		row.DurationSec = 0
	}
	if err := o.ledger.Write(ctx, row); err != nil {
		logger.Error("ledger write failed", "error", err)
		o.metrics.LedgerOutcome("failed")
	} else {
		o.metrics.LedgerOutcome("ok")
	}

	o.metrics.CallFinalized(string(final.Status))
	if final.StartedAt != nil {
		o.metrics.CallDuration(float64(final.DurationSec))
	}
	logger.Info("call finalized",
		"status", final.Status,
		"disposition", final.Disposition,
		"duration_sec", row.DurationSec,
		"turns", final.Turns)
}

// Shutdown cancels every tracked call task and waits for them to drain
// within the bounds of ctx.
func (o *Orchestrator) Shutdown(ctx context.Context) {
	if n := o.tracker.CancelAll(); n > 0 {
		o.logger.Info("canceling call tasks", "count", n)
	}
	if !o.tracker.Wait(ctx) {
		o.logger.Warn("call tasks still running at shutdown deadline", "remaining", o.tracker.Count())
	}
}

// spawn runs fn as a tracked task. The task context detaches from the
// trigger, usually an HTTP request, so the task survives the response
// while still inheriting request values.
func (o *Orchestrator) spawn(ctx context.Context, key string, fn func(context.Context)) {
	taskCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	unregister := o.tracker.Register(key, cancel)
	go func() {
		defer unregister()
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				o.logger.Error("call task panic", "task", key, "panic", r)
			}
		}()
		fn(taskCtx)
	}()
}

func (o *Orchestrator) finalizeLock(id string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	lk, ok := o.finalizing[id]
	if !ok {
		lk = &sync.Mutex{}
		o.finalizing[id] = lk
	}
	return lk
}

func (o *Orchestrator) dropFinalizeLock(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.finalizing, id)
}

func eventTime(ev telephony.ProviderEvent) time.Time {
	if ev.Timestamp.IsZero() {
		return time.Now().UTC()
	}
	return ev.Timestamp
}
