// Package ledger persists the results of finished calls. A Store is a
// single append-only backend; the Writer wraps one with retries and a
// local JSON fallback so a flaky backend never loses a call result.
package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/outdial-ai/outdial/pkg/core/call"
)

// Row is one call result. Field order matches the column layout used by
// external sheet backends.
type Row struct {
	Timestamp   string `json:"timestamp"`
	CallID      string `json:"call_id"`
	Phone       string `json:"phone"`
	Status      string `json:"status"`
	Disposition string `json:"final_disposition"`
	DurationSec int    `json:"duration_sec"`
	Summary     string `json:"short_summary"`
	Transcript  string `json:"transcript"`
}

// FromSnapshot builds a Row from a finalized call snapshot. Timestamp is
// the call's end time in RFC 3339, or empty if the call never ended.
func FromSnapshot(snap call.Snapshot) Row {
	timestamp := ""
	if snap.EndedAt != nil {
		timestamp = snap.EndedAt.UTC().Format(time.RFC3339)
	}
	return Row{
		Timestamp:   timestamp,
		CallID:      snap.ID,
		Phone:       snap.Phone,
		Status:      string(snap.Status),
		Disposition: string(snap.Disposition),
		DurationSec: snap.DurationSec,
		Summary:     snap.Summary,
		Transcript:  snap.Transcript,
	}
}

// Store is an append-only call result backend.
type Store interface {
	// Name identifies the backend in logs and metrics.
	Name() string

	// Append records one call result.
	Append(ctx context.Context, row Row) error
}

// MemoryStore keeps rows in memory. Used for development and tests.
type MemoryStore struct {
	mu   sync.Mutex
	rows []Row
}

// NewMemory creates an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{}
}

// Name returns the backend identifier.
func (m *MemoryStore) Name() string { return "memory" }

// Append records the row.
func (m *MemoryStore) Append(_ context.Context, row Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, row)
	return nil
}

// Rows returns a copy of everything appended so far.
func (m *MemoryStore) Rows() []Row {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Row, len(m.rows))
	copy(out, m.rows)
	return out
}
