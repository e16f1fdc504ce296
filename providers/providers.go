// Package providers wraps the external AI services the gateway chains
// together: speech-to-text, response generation, speech synthesis, and
// viseme extraction. Each adapter exposes one capability behind a small
// interface so the gateway can try an ordered list of credentials.
package providers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/emiliacb/voice-agent/viseme"
)

// ErrAllProvidersFailed is returned when every strategy in a fallback
// chain has been exhausted.
var ErrAllProvidersFailed = errors.New("all providers failed")

// Transcript is the result of a transcription call. Language is the
// detected language tag when the provider reports one, otherwise empty.
type Transcript struct {
	Text     string
	Language string
}

// Transcriber converts an audio clip to text.
type Transcriber interface {
	Transcribe(ctx context.Context, wavAudio []byte, lang string) (Transcript, error)
}

// Generator produces the reply text for a transcribed user message.
type Generator interface {
	Generate(ctx context.Context, userText, lang string) (string, error)
}

// Synthesizer converts reply text to an audio clip.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, lang string) ([]byte, error)
}

// VisemeExtractor derives mouth cues from a synthesized clip. Extractors
// may have cold-start latency; WarmUp asks the provider to spin up ahead
// of the first real call.
type VisemeExtractor interface {
	Extract(ctx context.Context, wavAudio []byte) ([]viseme.Cue, error)
	WarmUp(ctx context.Context) error
}

// Attempt is one strategy in a fallback chain.
type Attempt[T any] func(ctx context.Context) (T, error)

// FirstSuccess tries each attempt in order and returns the first result.
// When every attempt fails the last error is surfaced wrapped in
// ErrAllProvidersFailed.
func FirstSuccess[T any](ctx context.Context, name string, attempts []Attempt[T]) (T, error) {
	var zero T
	var lastErr error
	for i, attempt := range attempts {
		result, err := attempt(ctx)
		if err == nil {
			if i > 0 {
				slog.Info("Fallback provider succeeded", "stage", name, "attempt", i+1)
			}
			return result, nil
		}
		lastErr = err
		slog.Warn("Provider attempt failed",
			"stage", name,
			"attempt", i+1,
			"of", len(attempts),
			"error", err)
	}
	if lastErr == nil {
		lastErr = errors.New("no providers configured")
	}
	return zero, fmt.Errorf("%w: %s: %w", ErrAllProvidersFailed, name, lastErr)
}
