package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/outdial-ai/outdial/pkg/core/call"
	"github.com/outdial-ai/outdial/pkg/core/chat"
	"github.com/outdial-ai/outdial/pkg/core/correlate"
	"github.com/outdial-ai/outdial/pkg/gateway/apierror"
)

// defaultGreeting opens scenario calls that carry no per-call greeting.
const defaultGreeting = "Здравствуйте! Я голосовой ассистент HALO. Чем могу помочь?"

// Sampling for scenario turns. Replies are spoken over the phone, so the
// token budget is tight.
const (
	scenarioTemperature = 0.7
	scenarioMaxTokens   = 150
)

// defaultSystemPrompt steers the scenario dialog when neither the call
// nor the request supplies a prompt.
const defaultSystemPrompt = `РОЛЬ ГОЛОСОВОГО АССИСТЕНТА HALO

1. Кто ты в этом разговоре
Ты — живой человек, который позвонил по делу.
Не оператор колл-центра.
Не автоответчик.
Не «ассистент системы».
Ты ведёшь себя так, как ведёт себя:
нормальный консультант,
или менеджер,
или специалист,
который умеет говорить по телефону и чувствует собеседника.
Твоя цель — нормальный разговор, а не отработка сценария.

2. Как ты себя ощущаешь в разговоре (очень важно)
Ты:
не спешишь,
не боишься пауз,
не стараешься «захватить инициативу» любой ценой,
не читаешь заученный текст.
Ты реагируешь, а не декламируешь.
Если человек говорит просто — ты отвечаешь просто.
Если человек напряжён — ты снижаешь давление.
Если человек уверен — ты не сюсюкаешь.

3. Базовая психологическая модель поведения
Используй модель «равный собеседник», а не «продавец ↔ клиент».
Это означает:
ты не выше и не ниже собеседника,
ты не оправдываешься,
ты не давишь,
ты не «выпрашиваешь внимание».
Ты разговариваешь на равных.

4. Как ты строишь ответы
4.1. Фокус на последнюю реплику
Ты всегда отвечаешь на то, что человек сказал последним.
Не возвращайся к старым фразам.
Не продолжай мысль, если разговор уже ушёл в сторону.
Если человек сменил тему — ты принимаешь это как норму.

4.2. Длина ответа
Ты адаптируешь длину ответа:
если человек говорит коротко → ты тоже коротко;
если человек рассуждает → можно объяснять чуть подробнее;
если человек перебивает или торопится → отвечай максимально сжато.

5. Речь и формулировки
Ты используешь живую разговорную речь, как по телефону.
Запрещённые паттерны (строго):
канцелярит,
«официальные» обороты,
шаблоны колл-центров,
избыточная вежливость.
не верно:
«Благодарю вас за уделённое время»
«В соответствии с вашим запросом»
«Данный функционал позволяет»
верно:
«Понял»
«Да, конечно»
«Смотрите, тут так…»

6. Язык общения
Ты всегда говоришь на языке собеседника.
Если собеседник меняет язык — ты полностью переключаешься.
Не смешивай языки.
Не комментируй факт смены языка.
Ты ведёшь себя так, будто изначально владеешь этим языком.

7. Отношение к отказу
Если человек говорит, что ему:
неинтересно,
неудобно,
он не хочет продолжать,
Ты:
не споришь,
не убеждаешь,
не задаёшь лишних вопросов,
не «дожимаешь».

Используй естественную речь обычного живого телефонного разговора.
Избегай конструкций, которые звучат формально, книжно или как заученный скрипт.`

// ScenarioConfigHandler tells the provider scenario what to say first.
// The provider's id for the call is linked to a pending session here,
// before any other callback references it. This endpoint never fails:
// a call with no session data still gets the defaults.
type ScenarioConfigHandler struct {
	Correlator *correlate.Correlator
	Greeting   string
	Prompt     string
	Logger     *slog.Logger
}

type scenarioConfigRequest struct {
	CallID string `json:"call_id"`
}

type scenarioConfigResponse struct {
	Greeting string `json:"greeting"`
	Prompt   string `json:"prompt"`
}

func (h ScenarioConfigHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := scenarioConfigResponse{Greeting: h.Greeting, Prompt: h.Prompt}
	if resp.Greeting == "" {
		resp.Greeting = defaultGreeting
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req scenarioConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CallID == "" {
		logOr(h.Logger).Warn("scenario config request without call id")
		writeJSON(w, http.StatusOK, resp)
		return
	}

	if h.Correlator != nil {
		if entry, ok := h.Correlator.Resolve(req.CallID); ok {
			if entry.Greeting != "" {
				resp.Greeting = entry.Greeting
			}
			if entry.Prompt != "" {
				resp.Prompt = entry.Prompt
			}
			logOr(h.Logger).Info("scenario config resolved", "call_id", req.CallID, "session_id", entry.SessionID)
			writeJSON(w, http.StatusOK, resp)
			return
		}
	}

	logOr(h.Logger).Warn("scenario config for unknown call, returning defaults", "call_id", req.CallID)
	writeJSON(w, http.StatusOK, resp)
}

// TurnRecorder counts completed dialog turns per engine.
type TurnRecorder interface {
	DialogTurns(engine string, turns int)
}

// ScenarioTurnHandler answers one recognized utterance with the next
// assistant line. The provider runs speech recognition and synthesis;
// only the language-model hop happens here, so this exchange sits on the
// caller's hold time.
type ScenarioTurnHandler struct {
	Correlator *correlate.Correlator
	Chat       chat.Client
	Metrics    TurnRecorder
	Logger     *slog.Logger
}

type scenarioTurnRequest struct {
	CallID   string `json:"call_id"`
	UserText string `json:"user_text"`
	Prompt   string `json:"prompt"`
}

type scenarioTurnResponse struct {
	UserText string `json:"user_text"`
	AIText   string `json:"ai_text"`
}

func (h ScenarioTurnHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Chat == nil || h.Correlator == nil {
		apierror.Write(w, apierror.Unavailable("Service not ready"))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req scenarioTurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierror.Write(w, apierror.Validation("invalid_json", "malformed JSON body"))
		return
	}
	if req.CallID == "" || req.UserText == "" {
		apierror.Write(w, apierror.Validation("missing_field", "Missing call_id or user_text"))
		return
	}

	logger := logOr(h.Logger).With("call_id", req.CallID)

	prompt := req.Prompt
	entry, _ := h.Correlator.Resolve(req.CallID)
	if prompt == "" && entry != nil {
		prompt = entry.Prompt
	}
	if prompt == "" {
		prompt = defaultSystemPrompt
	}

	tracked := h.Correlator.AppendHistory(req.CallID, call.Turn{
		Speaker:   call.SpeakerUser,
		Text:      req.UserText,
		Timestamp: time.Now().UTC(),
	})

	history := h.Correlator.History(req.CallID)
	messages := make([]chat.Message, 0, len(history)+2)
	messages = append(messages, chat.Message{Role: chat.RoleSystem, Content: prompt})
	for _, turn := range history {
		role := chat.RoleUser
		if turn.Speaker == call.SpeakerAssistant {
			role = chat.RoleAssistant
		}
		messages = append(messages, chat.Message{Role: role, Content: turn.Text})
	}
	if !tracked {
		// No session to buffer under; the turn is still answered, it just
		// won't reach the final transcript.
		logger.Warn("scenario turn for untracked call")
		messages = append(messages, chat.Message{Role: chat.RoleUser, Content: req.UserText})
	}

	reply, err := h.Chat.CompleteWith(r.Context(), messages, chat.Params{
		Temperature: scenarioTemperature,
		MaxTokens:   scenarioMaxTokens,
	})
	if err != nil {
		logger.Error("scenario completion failed", "error", err)
		apierror.Write(w, apierror.Internal("internal error"))
		return
	}

	h.Correlator.AppendHistory(req.CallID, call.Turn{
		Speaker:   call.SpeakerAssistant,
		Text:      reply,
		Timestamp: time.Now().UTC(),
	})
	if h.Metrics != nil {
		h.Metrics.DialogTurns("scenario", 1)
	}
	logger.Info("scenario turn", "history_len", len(history)+1)

	writeJSON(w, http.StatusOK, scenarioTurnResponse{UserText: req.UserText, AIText: reply})
}

// ScenarioMessageHandler records an assistant line the provider already
// spoke, usually the opening greeting.
type ScenarioMessageHandler struct {
	Correlator *correlate.Correlator
	Logger     *slog.Logger
}

type scenarioMessageRequest struct {
	CallID string `json:"call_id"`
	AIText string `json:"ai_text"`
}

func (h ScenarioMessageHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Correlator == nil {
		apierror.Write(w, apierror.Unavailable("Service not ready"))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req scenarioMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierror.Write(w, apierror.Validation("invalid_json", "malformed JSON body"))
		return
	}
	if req.CallID == "" || req.AIText == "" {
		apierror.Write(w, apierror.Validation("missing_field", "Missing call_id or ai_text"))
		return
	}

	logger := logOr(h.Logger).With("call_id", req.CallID)

	// The first recorded line of a call is the greeting; the tracked
	// per-call greeting wins over whatever the scenario template rendered.
	text := req.AIText
	entry, _ := h.Correlator.Resolve(req.CallID)
	if entry != nil && entry.Greeting != "" && len(h.Correlator.History(req.CallID)) == 0 {
		text = entry.Greeting
	}

	h.Correlator.AppendHistory(req.CallID, call.Turn{
		Speaker:   call.SpeakerAssistant,
		Text:      text,
		Timestamp: time.Now().UTC(),
	})
	logger.Info("assistant line recorded", "chars", len(text))

	writeJSON(w, http.StatusOK, ackResponse{Status: "ok", CallID: req.CallID})
}
