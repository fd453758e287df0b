// Package stt provides speech-to-text functionality.
package stt

import (
	"context"
)

// Provider is the interface for speech-to-text services.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// Transcribe converts one recorded utterance to text. An empty
	// string with a nil error means the audio carried no usable speech.
	Transcribe(ctx context.Context, audio []byte, language string) (string, error)
}
