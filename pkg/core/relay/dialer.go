package relay

import (
	"context"

	"github.com/outdial-ai/outdial/pkg/core/call"
	"github.com/outdial-ai/outdial/pkg/core/realtime"
)

const defaultInstructions = "Вы - вежливый и профессиональный голосовой ассистент компании HALO. " +
	"Ваша задача - представить компанию, узнать интерес клиента и предложить следующие шаги. " +
	"Говорите естественно, как живой человек. Будьте краткими и по делу."

const autoLanguageDirective = "Автоматически определите язык собеседника и общайтесь на нем."

var languageDirectives = map[string]string{
	"ru":    "Говорите на русском языке.",
	"uz":    "Говорите на узбекском языке.",
	"tj":    "Говорите на таджикском языке.",
	"kk":    "Говорите на казахском языке.",
	"ky":    "Говорите на киргизском языке.",
	"tm":    "Говорите на туркменском языке.",
	"az":    "Говорите на азербайджанском языке.",
	"fa-af": "Говорите на дари (афганском персидском) языке.",
	"en":    "Speak in English.",
	"tr":    "Türkçe konuşun.",
}

// Dialer opens a realtime speech session per call, carrying the per-call
// prompt, voice, and language into the session configuration.
type Dialer struct {
	APIKey string
	Model  string
	URL    string
}

// Dial connects a speech session configured for one call.
func (d *Dialer) Dial(ctx context.Context, opts call.Options) (AISession, error) {
	sess, err := realtime.Dial(ctx, realtime.Config{
		APIKey:       d.APIKey,
		Model:        d.Model,
		URL:          d.URL,
		Voice:        opts.Voice,
		Instructions: Instructions(opts.Prompt, opts.Language),
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// Instructions assembles the assistant instructions for a streaming
// session: the per-call prompt, or the stock persona, plus a language
// directive. An empty or "auto" language asks the assistant to mirror
// whatever language the caller speaks; unknown codes add nothing.
func Instructions(prompt, language string) string {
	base := prompt
	if base == "" {
		base = defaultInstructions
	}
	if language == "" || language == "auto" {
		return base + " " + autoLanguageDirective
	}
	if directive, ok := languageDirectives[language]; ok {
		return base + " " + directive
	}
	return base
}
