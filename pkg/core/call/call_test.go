package call

import (
	"testing"
	"time"
)

func TestNew_Defaults(t *testing.T) {
	sess := New("+79161234567", Options{})

	if sess.ID == "" {
		t.Fatal("ID should be minted")
	}
	if sess.Phone != "+79161234567" {
		t.Errorf("Phone = %q, want %q", sess.Phone, "+79161234567")
	}
	if sess.Status() != StatusCreated {
		t.Errorf("Status = %q, want %q", sess.Status(), StatusCreated)
	}
	if sess.CreatedAt.IsZero() {
		t.Error("CreatedAt should be stamped")
	}

	other := New("+79161234567", Options{})
	if other.ID == sess.ID {
		t.Error("ids should be unique per session")
	}
}

func TestStatus_Terminal(t *testing.T) {
	tests := []struct {
		status Status
		want   bool
	}{
		{StatusCreated, false},
		{StatusDialing, false},
		{StatusInProgress, false},
		{StatusCompleted, true},
		{StatusFailed, true},
		{StatusNoAnswer, true},
	}
	for _, tt := range tests {
		if got := tt.status.Terminal(); got != tt.want {
			t.Errorf("Terminal(%q) = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestSession_Transition(t *testing.T) {
	sess := New("+79161234567", Options{})

	if !sess.Transition(StatusDialing, StatusCreated) {
		t.Fatal("created -> dialing should succeed")
	}
	if sess.Status() != StatusDialing {
		t.Fatalf("Status = %q, want %q", sess.Status(), StatusDialing)
	}

	// hangup before answer leaves the status untouched
	if sess.Transition(StatusCompleted, StatusInProgress) {
		t.Fatal("dialing -> completed should be refused")
	}
	if sess.Status() != StatusDialing {
		t.Fatalf("Status = %q, want %q", sess.Status(), StatusDialing)
	}

	if !sess.Transition(StatusInProgress, StatusCreated, StatusDialing) {
		t.Fatal("dialing -> in_progress should succeed")
	}
	// second answer signal loses the race
	if sess.Transition(StatusInProgress, StatusCreated, StatusDialing) {
		t.Fatal("repeated answer transition should be refused")
	}
}

func TestSession_MarkStarted_FirstWriteWins(t *testing.T) {
	sess := New("+79161234567", Options{})

	first := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	second := first.Add(5 * time.Second)

	sess.MarkStarted(first)
	sess.MarkStarted(second)

	got := sess.StartedAt()
	if got == nil || !got.Equal(first) {
		t.Fatalf("StartedAt = %v, want %v", got, first)
	}
}

func TestSession_DurationSec(t *testing.T) {
	sess := New("+79161234567", Options{})
	if sess.DurationSec() != 0 {
		t.Fatalf("DurationSec = %d before timestamps, want 0", sess.DurationSec())
	}

	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	sess.MarkStarted(start)
	if sess.DurationSec() != 0 {
		t.Fatalf("DurationSec = %d without end, want 0", sess.DurationSec())
	}

	sess.MarkEnded(start.Add(42 * time.Second))
	if sess.DurationSec() != 42 {
		t.Fatalf("DurationSec = %d, want 42", sess.DurationSec())
	}
}

func TestSession_TranscriptText(t *testing.T) {
	sess := New("+79161234567", Options{})
	if sess.TranscriptText() != "" {
		t.Fatalf("TranscriptText = %q on empty transcript, want empty", sess.TranscriptText())
	}

	sess.AddTurn(SpeakerAssistant, "Здравствуйте!")
	sess.AddTurn(SpeakerUser, "Добрый день")

	want := "assistant: Здравствуйте!\nuser: Добрый день"
	if got := sess.TranscriptText(); got != want {
		t.Errorf("TranscriptText = %q, want %q", got, want)
	}

	turns := sess.Transcript()
	if len(turns) != 2 {
		t.Fatalf("len(Transcript) = %d, want 2", len(turns))
	}
	turns[0].Text = "mutated"
	if sess.Transcript()[0].Text != "Здравствуйте!" {
		t.Error("Transcript should return a copy")
	}
}

func TestSession_MergeTurns(t *testing.T) {
	stamp := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	buffered := []Turn{
		{Speaker: SpeakerAssistant, Text: "Здравствуйте!", Timestamp: stamp},
		{Speaker: SpeakerUser, Text: "Слушаю", Timestamp: stamp.Add(2 * time.Second)},
	}

	sess := New("+79161234567", Options{})
	if !sess.MergeTurns(buffered) {
		t.Fatal("MergeTurns = false on an empty transcript")
	}
	turns := sess.Transcript()
	if len(turns) != 2 {
		t.Fatalf("len(Transcript) = %d, want 2", len(turns))
	}
	if !turns[0].Timestamp.Equal(stamp) {
		t.Errorf("Timestamp = %v, want the buffered stamp kept", turns[0].Timestamp)
	}

	if sess.MergeTurns(buffered) {
		t.Error("MergeTurns must refuse a non-empty transcript")
	}
	if sess.MergeTurns(nil) {
		t.Error("MergeTurns must refuse an empty turn list")
	}

	direct := New("+79161234567", Options{})
	direct.AddTurn(SpeakerUser, "Алло")
	if direct.MergeTurns(buffered) {
		t.Error("MergeTurns must not override directly recorded turns")
	}
}

func TestSession_Snapshot(t *testing.T) {
	sess := New("+79161234567", Options{})
	sess.SetStatus(StatusCompleted)
	sess.SetDisposition(DispositionInterested)
	sess.SetSummary("Клиент заинтересован")
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	sess.MarkStarted(start)
	sess.MarkEnded(start.Add(30 * time.Second))
	sess.AddTurn(SpeakerAssistant, "Здравствуйте!")

	snap := sess.Snapshot()
	if snap.Status != StatusCompleted {
		t.Errorf("Status = %q, want %q", snap.Status, StatusCompleted)
	}
	if snap.Disposition != DispositionInterested {
		t.Errorf("Disposition = %q, want %q", snap.Disposition, DispositionInterested)
	}
	if snap.DurationSec != 30 {
		t.Errorf("DurationSec = %d, want 30", snap.DurationSec)
	}
	if snap.Turns != 1 {
		t.Errorf("Turns = %d, want 1", snap.Turns)
	}
	if snap.Transcript != "assistant: Здравствуйте!" {
		t.Errorf("Transcript = %q", snap.Transcript)
	}
}

func TestOptions_Merged(t *testing.T) {
	defaults := Options{
		Greeting:    "Здравствуйте! Я голосовой ассистент.",
		Prompt:      "Ты вежливый ассистент.",
		Voice:       "alloy",
		Language:    "ru",
		MaxTurns:    12,
		MaxDuration: 120 * time.Second,
	}

	merged := defaults.Merged(Options{Greeting: "Привет!", MaxTurns: 2})

	if merged.Greeting != "Привет!" {
		t.Errorf("Greeting = %q, want override", merged.Greeting)
	}
	if merged.MaxTurns != 2 {
		t.Errorf("MaxTurns = %d, want 2", merged.MaxTurns)
	}
	if merged.Voice != "alloy" || merged.Language != "ru" {
		t.Errorf("defaults lost: %+v", merged)
	}
	if merged.MaxDuration != 120*time.Second {
		t.Errorf("MaxDuration = %v, want 120s", merged.MaxDuration)
	}
	if defaults.Greeting != "Здравствуйте! Я голосовой ассистент." {
		t.Error("receiver must not be modified")
	}
}
