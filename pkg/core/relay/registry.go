package relay

import (
	"fmt"
	"sync"
)

// Registry is the transport-facing lookup of live relays by call id. The
// audio websocket handler resolves inbound connections through it.
type Registry struct {
	mu     sync.Mutex
	relays map[string]*Relay
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{relays: make(map[string]*Relay)}
}

// Register adds the relay under its call id. A second registration for
// the same id is an error.
func (g *Registry) Register(callID string, r *Relay) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.relays[callID]; exists {
		return fmt.Errorf("relay already registered for call %s", callID)
	}
	g.relays[callID] = r
	return nil
}

// Get returns the relay for a call, if one is live.
func (g *Registry) Get(callID string) (*Relay, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.relays[callID]
	return r, ok
}

// Unregister removes the relay for a call. Unknown ids are a no-op.
func (g *Registry) Unregister(callID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.relays, callID)
}

// Len reports how many relays are live.
func (g *Registry) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.relays)
}
