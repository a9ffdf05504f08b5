package engine

import (
	"context"

	"avanevis/internal/model"
)

// Result represents the outcome of one transcription call
type Result struct {
	Text        string // The transcribed text
	RawResponse string // Raw provider response (for debugging/logging)
}

// Engine defines the interface for speech-to-text providers. Transcribe
// must honour ctx: cancellation and deadline expiry abort the provider
// interaction as cleanly as the provider's API allows.
type Engine interface {
	// Transcribe sends the audio file to the provider and returns the text.
	Transcribe(ctx context.Context, audioPath string) (*Result, error)

	// Name returns the engine tag stored on jobs (e.g. "eboo", "vira").
	Name() model.EngineName
}
