// Package call defines the data model for one outbound call: the session
// record, its lifecycle status, the transcript, and per-call options.
package call

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a call.
type Status string

const (
	StatusCreated    Status = "created"
	StatusDialing    Status = "dialing"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusNoAnswer   Status = "no_answer"
)

// Terminal reports whether the status ends the call lifecycle.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusNoAnswer:
		return true
	default:
		return false
	}
}

// Disposition is the classified outcome of a finished conversation.
type Disposition string

const (
	DispositionInterested    Disposition = "interested"
	DispositionNotInterested Disposition = "not_interested"
	DispositionCallLater     Disposition = "call_later"
	DispositionNeutral       Disposition = "neutral"
	DispositionUnknown       Disposition = "unknown"
)

// Speaker identifies who produced a transcript turn.
type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

// Turn is one utterance in the conversation. Turns are immutable once
// appended to a session.
type Turn struct {
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is the in-memory record of one call. Identity fields are set at
// creation and never change; mutable state is guarded by the session mutex
// because webhook handlers, the dialog engine, and finalization touch it
// from different goroutines.
type Session struct {
	ID        string
	Phone     string
	CreatedAt time.Time
	Opts      Options

	mu          sync.Mutex
	status      Status
	disposition Disposition
	startedAt   *time.Time
	endedAt     *time.Time
	transcript  []Turn
	summary     string
}

// New mints a session in status created.
func New(phone string, opts Options) *Session {
	return &Session{
		ID:        uuid.NewString(),
		Phone:     phone,
		CreatedAt: time.Now().UTC(),
		Opts:      opts,
		status:    StatusCreated,
	}
}

// Status returns the current lifecycle status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// SetStatus overwrites the lifecycle status unconditionally.
func (s *Session) SetStatus(st Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = st
}

// Transition sets the status to next only when the current status is one
// of from. It returns false, leaving the status untouched, otherwise.
// Concurrent writers race on the lock, so exactly one wins.
func (s *Session) Transition(next Status, from ...Status) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range from {
		if s.status == f {
			s.status = next
			return true
		}
	}
	return false
}

// MarkStarted stamps the answer time once; later calls are no-ops.
func (s *Session) MarkStarted(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startedAt == nil {
		t := t.UTC()
		s.startedAt = &t
	}
}

// MarkEnded stamps the end time once; later calls are no-ops.
func (s *Session) MarkEnded(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.endedAt == nil {
		t := t.UTC()
		s.endedAt = &t
	}
}

// StartedAt returns the answer time, or nil if the call never connected.
func (s *Session) StartedAt() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startedAt
}

// EndedAt returns the end time, or nil while the call is live.
func (s *Session) EndedAt() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endedAt
}

// DurationSec is the connected duration in whole seconds. It is zero
// unless both the start and end timestamps are set.
func (s *Session) DurationSec() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startedAt == nil || s.endedAt == nil {
		return 0
	}
	return int(s.endedAt.Sub(*s.startedAt).Seconds())
}

// AddTurn appends an utterance to the transcript and returns it.
func (s *Session) AddTurn(speaker Speaker, text string) Turn {
	turn := Turn{Speaker: speaker, Text: text, Timestamp: time.Now().UTC()}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcript = append(s.transcript, turn)
	return turn
}

// MergeTurns adopts turns buffered outside the session, keeping their
// original timestamps. The merge happens only when the transcript is
// still empty; it reports whether the turns were taken.
func (s *Session) MergeTurns(turns []Turn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.transcript) > 0 || len(turns) == 0 {
		return false
	}
	s.transcript = append(s.transcript, turns...)
	return true
}

// Transcript returns a copy of the turns recorded so far.
func (s *Session) Transcript() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Turn, len(s.transcript))
	copy(out, s.transcript)
	return out
}

// TranscriptText renders the transcript as "speaker: text" lines, the
// shape the classifier and the ledger consume.
func (s *Session) TranscriptText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.transcript) == 0 {
		return ""
	}
	lines := make([]string, 0, len(s.transcript))
	for _, t := range s.transcript {
		lines = append(lines, fmt.Sprintf("%s: %s", t.Speaker, t.Text))
	}
	return strings.Join(lines, "\n")
}

// Disposition returns the classified outcome, empty until finalization.
func (s *Session) Disposition() Disposition {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disposition
}

// SetDisposition records the classified outcome.
func (s *Session) SetDisposition(d Disposition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disposition = d
}

// Summary returns the short classification summary.
func (s *Session) Summary() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summary
}

// SetSummary records the short classification summary.
func (s *Session) SetSummary(summary string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summary = summary
}

// Snapshot is a point-in-time copy of the mutable session state, safe to
// hand to handlers and the ledger without holding the session lock.
type Snapshot struct {
	ID          string
	Phone       string
	Status      Status
	Disposition Disposition
	CreatedAt   time.Time
	StartedAt   *time.Time
	EndedAt     *time.Time
	Turns       int
	DurationSec int
	Summary     string
	Transcript  string
}

// Snapshot copies the current state under the session lock.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		ID:          s.ID,
		Phone:       s.Phone,
		Status:      s.status,
		Disposition: s.disposition,
		CreatedAt:   s.CreatedAt,
		StartedAt:   s.startedAt,
		EndedAt:     s.endedAt,
		Turns:       len(s.transcript),
		Summary:     s.summary,
	}
	if s.startedAt != nil && s.endedAt != nil {
		snap.DurationSec = int(s.endedAt.Sub(*s.startedAt).Seconds())
	}
	if len(s.transcript) > 0 {
		lines := make([]string, 0, len(s.transcript))
		for _, t := range s.transcript {
			lines = append(lines, fmt.Sprintf("%s: %s", t.Speaker, t.Text))
		}
		snap.Transcript = strings.Join(lines, "\n")
	}
	return snap
}
