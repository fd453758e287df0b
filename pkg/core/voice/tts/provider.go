// Package tts provides text-to-speech functionality.
package tts

import (
	"context"
)

// Provider is the interface for text-to-speech services.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// Synthesize converts text to playable audio.
	Synthesize(ctx context.Context, text, voice string) ([]byte, error)
}
