// Package classify grades a finished call transcript into a disposition
// and a short summary using an LLM.
package classify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/outdial-ai/outdial/pkg/core/call"
	"github.com/outdial-ai/outdial/pkg/core/chat"
)

const systemPrompt = "Ты - аналитик разговоров."

const promptTemplate = `Проанализируй следующий диалог между оператором и клиентом.

Определи:
1. Уровень интереса клиента: interested, not_interested, call_later, neutral
2. Краткое резюме разговора (1-2 предложения)

Диалог:
%s

Ответь СТРОГО в формате JSON:
{
    "disposition": "interested|not_interested|call_later|neutral",
    "summary": "краткое описание результата разговора"
}`

const (
	classifyTemperature = 0.3

	defaultSummary    = "Разговор завершен"
	unparsableSummary = "Не удалось определить результат"
)

// Result is a graded transcript.
type Result struct {
	Disposition call.Disposition
	Summary     string
}

// verdict mirrors the JSON shape the model is asked for.
type verdict struct {
	Disposition string `json:"disposition" jsonschema:"enum=interested,enum=not_interested,enum=call_later,enum=neutral"`
	Summary     string `json:"summary"`
}

// Classifier asks an LLM to grade transcripts.
type Classifier struct {
	llm    chat.Completer
	logger *slog.Logger
}

// New creates a Classifier on top of a chat completer.
func New(llm chat.Completer, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{llm: llm, logger: logger}
}

// Classify grades the transcript. A reply that is not valid JSON degrades
// to a neutral result rather than an error; only transport and API
// failures are returned to the caller.
func (c *Classifier) Classify(ctx context.Context, transcript string) (Result, error) {
	start := time.Now()

	v, err := chat.CompleteJSON[verdict](ctx, c.llm, systemPrompt, fmt.Sprintf(promptTemplate, transcript), chat.Params{
		Temperature: classifyTemperature,
	})
	if err != nil {
		if errors.Is(err, chat.ErrMalformedReply) {
			c.logger.Warn("classification reply unparsable", "error", err)
			return Result{Disposition: call.DispositionNeutral, Summary: unparsableSummary}, nil
		}
		return Result{}, fmt.Errorf("classify transcript: %w", err)
	}

	result := Result{
		Disposition: mapDisposition(v.Disposition),
		Summary:     v.Summary,
	}
	if result.Summary == "" {
		result.Summary = defaultSummary
	}

	c.logger.Info("classification completed",
		"duration", time.Since(start),
		"disposition", result.Disposition,
		"summary_length", len(result.Summary))

	return result, nil
}

func mapDisposition(s string) call.Disposition {
	switch s {
	case "interested":
		return call.DispositionInterested
	case "not_interested":
		return call.DispositionNotInterested
	case "call_later":
		return call.DispositionCallLater
	case "neutral":
		return call.DispositionNeutral
	default:
		return call.DispositionNeutral
	}
}
