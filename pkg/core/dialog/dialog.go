// Package dialog runs the turn-based conversation loop for an answered
// call: receive caller audio, transcribe it, complete a reply, synthesize
// speech, and play it back through the telephony gateway.
package dialog

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/outdial-ai/outdial/pkg/core/call"
	"github.com/outdial-ai/outdial/pkg/core/chat"
	"github.com/outdial-ai/outdial/pkg/core/voice/stt"
	"github.com/outdial-ai/outdial/pkg/core/voice/tts"
	"github.com/outdial-ai/outdial/pkg/telephony"
)

// systemPrompt is the default operator persona when a call carries no
// custom prompt.
const systemPrompt = `Ты - вежливый оператор call-центра. Твоя задача:
1. Представить продукт/услугу клиенту
2. Выяснить, интересно ли это клиенту
3. Ответить на базовые вопросы

Правила поведения:
- Говори короткими фразами (1-2 предложения)
- Будь вежливым и нейтральным
- Не спорь с клиентом
- Не обсуждай посторонние темы
- НЕ упоминай, что ты искусственный интеллект
- Говори естественно, как живой человек

Если клиент заинтересован - предложи дальнейшие действия.
Если не заинтересован - вежливо попрощайся.
Если просит перезвонить позже - уточни время и попрощайся.

Представься и начни разговор.`

// apologyText is spoken when reply generation fails. It contains a
// closing phrase, so speaking it also ends the conversation.
const apologyText = "Извините, произошла техническая ошибка. До свидания."

// closingPhrases end the loop when the assistant says any of them.
var closingPhrases = []string{
	"до свидания",
	"всего доброго",
	"всего хорошего",
	"прощайте",
	"до встречи",
}

// Budget defaults applied when call options carry no override.
const (
	DefaultMaxDuration = 120 * time.Second
	DefaultMaxTurns    = 12
)

// llmWindow is how many trailing messages are sent to the LLM in
// addition to the system message.
const llmWindow = 10

// TurnEngine drives one call's conversation in discrete turns.
type TurnEngine struct {
	llm    chat.Client
	stt    stt.Provider
	tts    tts.Provider
	gw     telephony.Gateway
	logger *slog.Logger
}

// NewTurnEngine assembles an engine from its collaborators.
func NewTurnEngine(llm chat.Client, sttProvider stt.Provider, ttsProvider tts.Provider, gw telephony.Gateway, logger *slog.Logger) *TurnEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &TurnEngine{
		llm:    llm,
		stt:    sttProvider,
		tts:    ttsProvider,
		gw:     gw,
		logger: logger,
	}
}

// Run executes the dialog loop until the caller hangs up, a budget is
// exhausted, the assistant closes the conversation, or ctx is canceled.
// Every spoken phrase is appended to the session transcript. Run never
// returns an error: all failures degrade per-turn, and finalization is
// the caller's responsibility.
func (e *TurnEngine) Run(ctx context.Context, sess *call.Session, opts call.Options) {
	logger := e.logger.With("call_id", sess.ID)
	logger.Info("dialog started")

	maxDuration := opts.MaxDuration
	if maxDuration <= 0 {
		maxDuration = DefaultMaxDuration
	}
	maxTurns := opts.MaxTurns
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}

	system := opts.Prompt
	if system == "" {
		system = systemPrompt
	}
	messages := []chat.Message{{Role: chat.RoleSystem, Content: system}}

	start := time.Now()
	turns := 0

	defer func() {
		logger.Info("dialog ended", "turns", turns, "duration", time.Since(start))
	}()

	e.sendGreeting(ctx, sess, &messages, opts, logger)
	turns++

	for {
		if ctx.Err() != nil {
			logger.Info("dialog canceled")
			return
		}
		if elapsed := time.Since(start); elapsed >= maxDuration {
			logger.Info("max duration reached", "elapsed", elapsed)
			e.sendGoodbye(ctx, sess, messages, opts, "Время разговора истекло", logger)
			return
		}
		if turns >= maxTurns {
			logger.Info("max turns reached", "turns", turns)
			e.sendGoodbye(ctx, sess, messages, opts, "Достигнут лимит вопросов", logger)
			return
		}

		turnStart := time.Now()

		audio, err := e.gw.ReceiveAudio(ctx, sess.ID)
		if err != nil {
			if errors.Is(err, io.EOF) {
				logger.Info("caller audio stream closed")
			} else {
				logger.Error("receive audio failed", "error", err)
			}
			return
		}

		userText, err := e.transcribe(ctx, audio, opts.Language)
		if err != nil {
			logger.Error("transcription failed", "error", err)
			userText = ""
		}
		if strings.TrimSpace(userText) == "" {
			logger.Warn("empty transcription, skipping turn")
			continue
		}

		sess.AddTurn(call.SpeakerUser, userText)
		messages = append(messages, chat.Message{Role: chat.RoleUser, Content: userText})
		logger.Info("caller said", "text", userText)

		assistantText, err := e.llm.Complete(ctx, window(messages))
		if err != nil {
			logger.Error("reply generation failed", "error", err)
			assistantText = apologyText
		}

		sess.AddTurn(call.SpeakerAssistant, assistantText)
		messages = append(messages, chat.Message{Role: chat.RoleAssistant, Content: assistantText})
		logger.Info("assistant said", "text", assistantText)

		reply, err := e.tts.Synthesize(ctx, assistantText, opts.Voice)
		if err != nil {
			logger.Error("speech synthesis failed", "error", err)
			return
		}
		if err := e.gw.SendAudio(ctx, sess.ID, reply); err != nil {
			logger.Error("send audio failed", "error", err)
			return
		}

		logger.Debug("dialog turn completed", "duration", time.Since(turnStart))

		if wantsToEnd(assistantText) {
			logger.Info("assistant closed the conversation")
			return
		}
		turns++
	}
}

// sendGreeting opens the conversation. A fixed greeting from the call
// options is spoken as-is; otherwise the LLM produces one from the system
// prompt. Failures are logged and the dialog continues.
func (e *TurnEngine) sendGreeting(ctx context.Context, sess *call.Session, messages *[]chat.Message, opts call.Options, logger *slog.Logger) {
	greeting := opts.Greeting
	if greeting == "" {
		var err error
		greeting, err = e.llm.Complete(ctx, *messages)
		if err != nil {
			logger.Error("greeting generation failed", "error", err)
			return
		}
	}

	sess.AddTurn(call.SpeakerAssistant, greeting)
	*messages = append(*messages, chat.Message{Role: chat.RoleAssistant, Content: greeting})
	logger.Info("assistant said", "text", greeting)

	audio, err := e.tts.Synthesize(ctx, greeting, opts.Voice)
	if err != nil {
		logger.Error("greeting synthesis failed", "error", err)
		return
	}
	if err := e.gw.SendAudio(ctx, sess.ID, audio); err != nil {
		logger.Error("greeting send failed", "error", err)
	}
}

// sendGoodbye speaks one parting phrase explaining why the call ends.
// Failures are logged, never propagated.
func (e *TurnEngine) sendGoodbye(ctx context.Context, sess *call.Session, messages []chat.Message, opts call.Options, reason string, logger *slog.Logger) {
	prompt := "Клиент: " + reason + ". Вежливо попрощайся с клиентом (1 фраза)."
	messages = append(messages, chat.Message{Role: chat.RoleUser, Content: prompt})

	goodbye, err := e.llm.Complete(ctx, messages)
	if err != nil {
		logger.Error("goodbye generation failed", "error", err)
		return
	}
	sess.AddTurn(call.SpeakerAssistant, goodbye)
	logger.Info("assistant said", "text", goodbye)

	audio, err := e.tts.Synthesize(ctx, goodbye, opts.Voice)
	if err != nil {
		logger.Error("goodbye synthesis failed", "error", err)
		return
	}
	if err := e.gw.SendAudio(ctx, sess.ID, audio); err != nil {
		logger.Error("goodbye send failed", "error", err)
	}
}

// transcribe turns caller audio into text. Stub transports deliver short
// printable text instead of PCM; that text is used directly.
func (e *TurnEngine) transcribe(ctx context.Context, audio []byte, language string) (string, error) {
	if text, ok := passthroughText(audio); ok {
		return text, nil
	}
	return e.stt.Transcribe(ctx, audio, language)
}

func passthroughText(audio []byte) (string, bool) {
	if !utf8.Valid(audio) {
		return "", false
	}
	text := string(audio)
	if utf8.RuneCountInString(text) >= 200 {
		return "", false
	}
	for _, r := range text {
		if !unicode.IsPrint(r) {
			return "", false
		}
	}
	return text, true
}

// window keeps the system message plus the trailing llmWindow messages.
func window(messages []chat.Message) []chat.Message {
	if len(messages) <= llmWindow+1 {
		return messages
	}
	out := make([]chat.Message, 0, llmWindow+1)
	out = append(out, messages[0])
	out = append(out, messages[len(messages)-llmWindow:]...)
	return out
}

func wantsToEnd(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range closingPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}
