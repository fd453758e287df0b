// Package correlate binds provider-side identifiers to local call
// sessions. Telephony scenario callbacks arrive keyed by whatever id the
// provider minted for its leg of the call, which is not the id the call
// was created under; every observed id is mapped onto one shared entry so
// greeting lookup, dialog history, and teardown all agree on which call
// they belong to.
//
// When an unknown id arrives it is linked to the most recently created
// session that is still waiting to be answered. With two concurrent dials
// in the pre-answer window this can bind the id to the wrong session.
// That is a known limitation of the id-less callback flow and is kept
// as-is; the link is made once and never re-evaluated (first observation
// wins).
package correlate

import (
	"sync"
	"time"

	"github.com/outdial-ai/outdial/pkg/core/call"
)

// SessionSource is the view of live sessions that linking decisions read.
type SessionSource interface {
	Get(id string) (*call.Session, bool)
}

// Entry is the shared record behind every id observed for one call.
// Identity fields are fixed at Track time; history and the ended flag are
// mutated only by Correlator methods under its lock.
type Entry struct {
	SessionID string
	Greeting  string
	Prompt    string

	history []call.Turn
	linked  []string
	ended   bool
}

// Correlator maps observed ids to entries. All ids linked to a call alias
// one *Entry, so state reached under any of them is the same state.
type Correlator struct {
	mu       sync.Mutex
	entries  map[string]*Entry
	sessions SessionSource
}

// New returns a correlator reading session state from src.
func New(src SessionSource) *Correlator {
	return &Correlator{
		entries:  make(map[string]*Entry),
		sessions: src,
	}
}

// Track registers a new call under its local id. Called once at session
// creation, before any provider traffic can arrive.
func (c *Correlator) Track(sessionID, greeting, prompt string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[sessionID] = &Entry{
		SessionID: sessionID,
		Greeting:  greeting,
		Prompt:    prompt,
	}
}

// Resolve returns the entry for an observed id. An exact match wins; an
// unknown id is linked to the best pre-answer candidate and from then on
// resolves to that entry. Resolving an already linked id is a no-op.
func (c *Correlator) Resolve(observedID string) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[observedID]; ok {
		return e, true
	}
	e := c.linkLocked(observedID)
	if e == nil {
		return nil, false
	}
	return e, true
}

// linkLocked binds an unknown id to the most recently created session
// still in a pre-answer status. Returns nil when no candidate exists.
func (c *Correlator) linkLocked(observedID string) *Entry {
	var best *Entry
	var bestCreated time.Time
	seen := make(map[*Entry]bool, len(c.entries))
	for _, e := range c.entries {
		if seen[e] {
			continue
		}
		seen[e] = true
		sess, ok := c.sessions.Get(e.SessionID)
		if !ok {
			continue
		}
		switch sess.Status() {
		case call.StatusCreated, call.StatusDialing:
		default:
			continue
		}
		if best == nil || sess.CreatedAt.After(bestCreated) {
			best = e
			bestCreated = sess.CreatedAt
		}
	}
	if best == nil {
		return nil
	}
	c.entries[observedID] = best
	best.linked = append(best.linked, observedID)
	return best
}

// AppendHistory buffers a dialog turn under any id of the call.
func (c *Correlator) AppendHistory(observedID string, turn call.Turn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[observedID]
	if !ok {
		if e = c.linkLocked(observedID); e == nil {
			return false
		}
	}
	e.history = append(e.history, turn)
	return true
}

// History returns a copy of the buffered dialog turns for an observed id.
func (c *Correlator) History(observedID string) []call.Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[observedID]
	if !ok {
		return nil
	}
	out := make([]call.Turn, len(e.history))
	copy(out, e.history)
	return out
}

// MarkEnded flags the call as terminated by the provider. The first call
// per entry returns true; redeliveries and unknown ids return false so
// the caller can skip duplicate finalization.
func (c *Correlator) MarkEnded(observedID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[observedID]
	if !ok || e.ended {
		return false
	}
	e.ended = true
	return true
}

// Discard removes the entry and every alias linked to it, returning a
// copy of the buffered history so finalization can still read the dialog
// after cleanup.
func (c *Correlator) Discard(sessionID string) ([]call.Turn, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[sessionID]
	if !ok {
		return nil, false
	}
	history := make([]call.Turn, len(e.history))
	copy(history, e.history)
	delete(c.entries, sessionID)
	for _, id := range e.linked {
		delete(c.entries, id)
	}
	return history, true
}

// Len reports the number of distinct ids currently mapped.
func (c *Correlator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
