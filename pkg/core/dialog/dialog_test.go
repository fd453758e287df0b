package dialog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/outdial-ai/outdial/pkg/core/call"
	"github.com/outdial-ai/outdial/pkg/core/chat"
)

type inbound struct {
	audio []byte
	err   error
}

// scriptedGateway feeds a fixed sequence of caller audio and records what
// the engine plays back.
type scriptedGateway struct {
	mu      sync.Mutex
	queue   []inbound
	sent    [][]byte
	sendErr error
}

func (g *scriptedGateway) Initiate(context.Context, string, string) error { return nil }
func (g *scriptedGateway) Hangup(context.Context, string) error           { return nil }

func (g *scriptedGateway) SendAudio(_ context.Context, _ string, audio []byte) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sendErr != nil {
		return g.sendErr
	}
	g.sent = append(g.sent, audio)
	return nil
}

func (g *scriptedGateway) ReceiveAudio(context.Context, string) ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.queue) == 0 {
		return nil, io.EOF
	}
	next := g.queue[0]
	g.queue = g.queue[1:]
	return next.audio, next.err
}

func (g *scriptedGateway) sentCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sent)
}

// scriptedLLM returns canned replies in order and records every request.
type scriptedLLM struct {
	replies  []string
	err      error
	failFrom int // 1-based call number from which err is returned; 0 = always if err set
	calls    int
	prompts  [][]chat.Message
}

func (l *scriptedLLM) Complete(ctx context.Context, messages []chat.Message) (string, error) {
	return l.CompleteWith(ctx, messages, chat.Params{})
}

func (l *scriptedLLM) CompleteWith(_ context.Context, messages []chat.Message, _ chat.Params) (string, error) {
	l.calls++
	l.prompts = append(l.prompts, messages)
	if l.err != nil && (l.failFrom == 0 || l.calls >= l.failFrom) {
		return "", l.err
	}
	if len(l.replies) == 0 {
		return "", fmt.Errorf("script exhausted")
	}
	reply := l.replies[0]
	l.replies = l.replies[1:]
	return reply, nil
}

type fakeSTT struct {
	text  string
	err   error
	calls int
}

func (s *fakeSTT) Name() string { return "fake" }

func (s *fakeSTT) Transcribe(context.Context, []byte, string) (string, error) {
	s.calls++
	return s.text, s.err
}

type fakeTTS struct {
	err      error
	failFrom int
	calls    int
}

func (t *fakeTTS) Name() string { return "fake" }

func (t *fakeTTS) Synthesize(_ context.Context, text, _ string) ([]byte, error) {
	t.calls++
	if t.err != nil && (t.failFrom == 0 || t.calls >= t.failFrom) {
		return nil, t.err
	}
	return []byte("audio:" + text), nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newSession(t *testing.T) *call.Session {
	t.Helper()
	sess := call.New("+79991234567", call.Options{})
	sess.SetStatus(call.StatusInProgress)
	return sess
}

func speakerTexts(sess *call.Session) []string {
	var out []string
	for _, turn := range sess.Transcript() {
		out = append(out, string(turn.Speaker)+": "+turn.Text)
	}
	return out
}

func TestRun_ConversationUntilClosingPhrase(t *testing.T) {
	gw := &scriptedGateway{queue: []inbound{
		{audio: []byte("Да, слушаю")},
		{audio: []byte("Не интересно")},
	}}
	llm := &scriptedLLM{replies: []string{
		"Здравствуйте! Я представляю компанию.",
		"Расскажу подробнее, это займет минуту.",
		"Понял вас. Всего доброго!",
	}}
	e := NewTurnEngine(llm, &fakeSTT{}, &fakeTTS{}, gw, testLogger())
	sess := newSession(t)

	e.Run(context.Background(), sess, call.Options{})

	want := []string{
		"assistant: Здравствуйте! Я представляю компанию.",
		"user: Да, слушаю",
		"assistant: Расскажу подробнее, это займет минуту.",
		"user: Не интересно",
		"assistant: Понял вас. Всего доброго!",
	}
	got := speakerTexts(sess)
	if len(got) != len(want) {
		t.Fatalf("transcript = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("turn %d = %q, want %q", i, got[i], want[i])
		}
	}

	// Greeting plus two replies were spoken; the closing phrase ended the
	// loop before another receive.
	if gw.sentCount() != 3 {
		t.Errorf("sent audio chunks = %d, want 3", gw.sentCount())
	}
}

func TestRun_FixedGreetingSkipsLLM(t *testing.T) {
	gw := &scriptedGateway{}
	llm := &scriptedLLM{}
	e := NewTurnEngine(llm, &fakeSTT{}, &fakeTTS{}, gw, testLogger())
	sess := newSession(t)

	e.Run(context.Background(), sess, call.Options{Greeting: "Здравствуйте, это HALO!"})

	turns := sess.Transcript()
	if len(turns) != 1 || turns[0].Text != "Здравствуйте, это HALO!" {
		t.Fatalf("transcript = %v", speakerTexts(sess))
	}
	if llm.calls != 0 {
		t.Errorf("llm calls = %d, want 0", llm.calls)
	}
	if gw.sentCount() != 1 {
		t.Errorf("sent = %d, want 1", gw.sentCount())
	}
}

func TestRun_CallerHangupEndsLoop(t *testing.T) {
	gw := &scriptedGateway{} // empty queue: immediate EOF
	llm := &scriptedLLM{replies: []string{"Здравствуйте!"}}
	e := NewTurnEngine(llm, &fakeSTT{}, &fakeTTS{}, gw, testLogger())
	sess := newSession(t)

	e.Run(context.Background(), sess, call.Options{})

	if n := len(sess.Transcript()); n != 1 {
		t.Fatalf("transcript length = %d, want greeting only", n)
	}
}

func TestRun_MaxTurnsTriggersGoodbye(t *testing.T) {
	gw := &scriptedGateway{queue: []inbound{
		{audio: []byte("Да")},
		{audio: []byte("Ага")},
	}}
	llm := &scriptedLLM{replies: []string{
		"Здравствуйте!",
		"Первый ответ.",
		"Спасибо за разговор, хорошего дня!",
	}}
	e := NewTurnEngine(llm, &fakeSTT{}, &fakeTTS{}, gw, testLogger())
	sess := newSession(t)

	e.Run(context.Background(), sess, call.Options{MaxTurns: 2})

	turns := sess.Transcript()
	last := turns[len(turns)-1]
	if last.Speaker != call.SpeakerAssistant || last.Text != "Спасибо за разговор, хорошего дня!" {
		t.Fatalf("last turn = %+v", last)
	}

	// The goodbye request tells the model why the call is ending.
	lastPrompt := llm.prompts[len(llm.prompts)-1]
	tail := lastPrompt[len(lastPrompt)-1]
	if tail.Role != chat.RoleUser || !strings.Contains(tail.Content, "Достигнут лимит вопросов") {
		t.Errorf("goodbye prompt = %+v", tail)
	}
}

func TestRun_MaxDurationTriggersGoodbye(t *testing.T) {
	gw := &scriptedGateway{queue: []inbound{{audio: []byte("Да")}}}
	llm := &scriptedLLM{replies: []string{
		"Здравствуйте!",
		"Извините, время вышло.",
	}}
	e := NewTurnEngine(llm, &fakeSTT{}, &fakeTTS{}, gw, testLogger())
	sess := newSession(t)

	e.Run(context.Background(), sess, call.Options{MaxDuration: time.Nanosecond})

	lastPrompt := llm.prompts[len(llm.prompts)-1]
	tail := lastPrompt[len(lastPrompt)-1]
	if !strings.Contains(tail.Content, "Время разговора истекло") {
		t.Errorf("goodbye prompt = %+v", tail)
	}
	// No caller audio was consumed: the budget check runs first.
	if len(gw.queue) != 1 {
		t.Errorf("queue consumed = %d items", 1-len(gw.queue))
	}
}

func TestRun_STTFailureSkipsTurn(t *testing.T) {
	binary := []byte{0xff, 0xfe, 0x00}
	gw := &scriptedGateway{queue: []inbound{{audio: binary}}}
	llm := &scriptedLLM{replies: []string{"Здравствуйте!"}}
	sttp := &fakeSTT{err: fmt.Errorf("stt down")}
	e := NewTurnEngine(llm, sttp, &fakeTTS{}, gw, testLogger())
	sess := newSession(t)

	e.Run(context.Background(), sess, call.Options{})

	if sttp.calls != 1 {
		t.Errorf("stt calls = %d, want 1", sttp.calls)
	}
	// Failed turn left no user entry; next receive hit EOF.
	if n := len(sess.Transcript()); n != 1 {
		t.Errorf("transcript length = %d, want 1", n)
	}
}

func TestRun_BinaryAudioGoesToSTT(t *testing.T) {
	binary := []byte{0xff, 0xfe, 0x01, 0x02}
	gw := &scriptedGateway{queue: []inbound{{audio: binary}}}
	llm := &scriptedLLM{replies: []string{
		"Здравствуйте!",
		"Конечно, до свидания!",
	}}
	sttp := &fakeSTT{text: "Расскажите подробнее"}
	e := NewTurnEngine(llm, sttp, &fakeTTS{}, gw, testLogger())
	sess := newSession(t)

	e.Run(context.Background(), sess, call.Options{})

	if sttp.calls != 1 {
		t.Errorf("stt calls = %d, want 1", sttp.calls)
	}
	turns := sess.Transcript()
	if len(turns) < 2 || turns[1].Text != "Расскажите подробнее" {
		t.Fatalf("transcript = %v", speakerTexts(sess))
	}
}

func TestRun_TextAudioBypassesSTT(t *testing.T) {
	gw := &scriptedGateway{queue: []inbound{{audio: []byte("Да, интересно")}}}
	llm := &scriptedLLM{replies: []string{
		"Здравствуйте!",
		"Отлично, до свидания!",
	}}
	sttp := &fakeSTT{text: "should not be used"}
	e := NewTurnEngine(llm, sttp, &fakeTTS{}, gw, testLogger())
	sess := newSession(t)

	e.Run(context.Background(), sess, call.Options{})

	if sttp.calls != 0 {
		t.Errorf("stt calls = %d, want 0 for printable text audio", sttp.calls)
	}
	turns := sess.Transcript()
	if len(turns) < 2 || turns[1].Text != "Да, интересно" {
		t.Fatalf("transcript = %v", speakerTexts(sess))
	}
}

func TestRun_LLMFailureSpeaksApologyAndEnds(t *testing.T) {
	gw := &scriptedGateway{queue: []inbound{
		{audio: []byte("Да")},
		{audio: []byte("Еще вопрос")},
	}}
	llm := &scriptedLLM{
		replies:  []string{"Здравствуйте!"},
		err:      fmt.Errorf("api down"),
		failFrom: 2,
	}
	e := NewTurnEngine(llm, &fakeSTT{}, &fakeTTS{}, gw, testLogger())
	sess := newSession(t)

	e.Run(context.Background(), sess, call.Options{})

	turns := sess.Transcript()
	last := turns[len(turns)-1]
	if last.Text != "Извините, произошла техническая ошибка. До свидания." {
		t.Fatalf("last turn = %+v", last)
	}
	// The apology contains a closing phrase, so the loop ended without
	// consuming the second chunk.
	if len(gw.queue) != 1 {
		t.Errorf("unconsumed queue = %d, want 1", len(gw.queue))
	}
}

func TestRun_TTSFailureEndsCall(t *testing.T) {
	gw := &scriptedGateway{queue: []inbound{
		{audio: []byte("Да")},
		{audio: []byte("Еще")},
	}}
	llm := &scriptedLLM{replies: []string{
		"Здравствуйте!",
		"Первый ответ.",
	}}
	ttsp := &fakeTTS{err: fmt.Errorf("tts down"), failFrom: 2}
	e := NewTurnEngine(llm, &fakeSTT{}, ttsp, gw, testLogger())
	sess := newSession(t)

	e.Run(context.Background(), sess, call.Options{})

	// The reply is on the transcript even though it was never spoken.
	turns := sess.Transcript()
	last := turns[len(turns)-1]
	if last.Text != "Первый ответ." {
		t.Fatalf("last turn = %+v", last)
	}
	if gw.sentCount() != 1 {
		t.Errorf("sent = %d, want greeting only", gw.sentCount())
	}
}

func TestRun_GreetingTTSFailureKeepsGoing(t *testing.T) {
	gw := &scriptedGateway{queue: []inbound{{audio: []byte("Алло")}}}
	llm := &scriptedLLM{replies: []string{
		"Здравствуйте!",
		"Слышно меня? До свидания!",
	}}
	ttsp := &fakeTTS{err: fmt.Errorf("tts down"), failFrom: 1}
	e := NewTurnEngine(llm, &fakeSTT{}, ttsp, gw, testLogger())
	sess := newSession(t)

	e.Run(context.Background(), sess, call.Options{})

	// Greeting synthesis failed but the loop still ran one turn. The
	// second synthesis failure then ended the call.
	turns := sess.Transcript()
	if len(turns) != 3 {
		t.Fatalf("transcript = %v", speakerTexts(sess))
	}
}

func TestRun_ContextCancellation(t *testing.T) {
	gw := &scriptedGateway{queue: []inbound{{audio: []byte("Да")}}}
	llm := &scriptedLLM{replies: []string{"Здравствуйте!"}}
	e := NewTurnEngine(llm, &fakeSTT{}, &fakeTTS{}, gw, testLogger())
	sess := newSession(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e.Run(ctx, sess, call.Options{})

	if n := len(sess.Transcript()); n != 1 {
		t.Errorf("transcript length = %d, want greeting only", n)
	}
}

func TestWindow(t *testing.T) {
	var messages []chat.Message
	messages = append(messages, chat.Message{Role: chat.RoleSystem, Content: "system"})
	for i := 0; i < 14; i++ {
		messages = append(messages, chat.Message{Role: chat.RoleUser, Content: fmt.Sprintf("m%d", i)})
	}

	got := window(messages)
	if len(got) != llmWindow+1 {
		t.Fatalf("len = %d, want %d", len(got), llmWindow+1)
	}
	if got[0].Content != "system" {
		t.Errorf("first = %q, want system message", got[0].Content)
	}
	if got[1].Content != "m4" || got[len(got)-1].Content != "m13" {
		t.Errorf("window = %q..%q", got[1].Content, got[len(got)-1].Content)
	}
}

func TestWindow_ShortHistoryUnchanged(t *testing.T) {
	messages := []chat.Message{
		{Role: chat.RoleSystem, Content: "system"},
		{Role: chat.RoleUser, Content: "hi"},
	}
	if got := window(messages); len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
}

func TestWantsToEnd(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"Спасибо, До Свидания!", true},
		{"Всего доброго вам", true},
		{"всего хорошего", true},
		{"Прощайте.", true},
		{"До встречи!", true},
		{"Расскажу подробнее.", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := wantsToEnd(tt.text); got != tt.want {
			t.Errorf("wantsToEnd(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}
