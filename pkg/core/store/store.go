// Package store keeps live call sessions in memory, keyed by call id.
package store

import (
	"sync"

	"github.com/outdial-ai/outdial/pkg/core/call"
)

// Store is a concurrency-safe registry of active sessions. A missing id
// is reported through the ok bool, never as an error.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*call.Session
}

// New returns an empty store.
func New() *Store {
	return &Store{sessions: make(map[string]*call.Session)}
}

// Put registers a session under its id, replacing any previous entry.
func (s *Store) Put(sess *call.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess
}

// Get looks up a session by call id.
func (s *Store) Get(id string) (*call.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// Remove deletes a session. Removing an absent id is a no-op, and the ok
// bool tells the caller whether anything was there.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	return ok
}

// Len reports the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// All returns the live sessions in no particular order.
func (s *Store) All() []*call.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*call.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	return out
}
