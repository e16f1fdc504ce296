package gateway

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	"github.com/emiliacb/voice-agent/audio"
	"github.com/emiliacb/voice-agent/message"
	"github.com/emiliacb/voice-agent/providers"
	"github.com/emiliacb/voice-agent/viseme"
)

// Pipeline chains the provider stages for one voice turn. Each stage holds
// an ordered strategy list: index zero is the primary credential, the rest
// are fallbacks tried once each.
type Pipeline struct {
	Transcribers []providers.Transcriber
	Generators   []providers.Generator
	Synthesizers []providers.Synthesizer
	Extractors   []providers.VisemeExtractor

	// MaxChunkChars bounds the text length of a single synthesis call.
	// Longer replies are split and their cue timelines re-offset.
	MaxChunkChars int

	// StageTimeout bounds each provider call. The chain itself runs to
	// completion once started.
	StageTimeout time.Duration

	FFmpegPath string

	// Convert overrides the ffmpeg transcode step; nil means the real one.
	Convert func(ctx context.Context, input []byte, ffmpegPath string) ([]byte, error)
}

// Run executes the full chain and returns the combined turn.
func (p *Pipeline) Run(ctx context.Context, rawAudio []byte, lang string) (*message.Turn, error) {
	return p.run(ctx, rawAudio, lang, nil)
}

// RunStream executes the chain, emitting incremental events as chunks
// complete. The returned turn matches the terminal complete event.
func (p *Pipeline) RunStream(ctx context.Context, rawAudio []byte, lang string, emit func(message.StreamEvent)) (*message.Turn, error) {
	return p.run(ctx, rawAudio, lang, emit)
}

func (p *Pipeline) run(ctx context.Context, rawAudio []byte, lang string, emit func(message.StreamEvent)) (*message.Turn, error) {
	convert := p.Convert
	if convert == nil {
		convert = audio.ConvertToWav
	}
	wavInput, err := convert(ctx, rawAudio, p.FFmpegPath)
	if err != nil {
		return nil, fmt.Errorf("audio conversion failed: %w", err)
	}

	transcript, err := p.transcribe(ctx, wavInput, lang)
	if err != nil {
		return nil, err
	}
	slog.Info("Transcription completed",
		"text", transcript.Text,
		"detectedLanguage", transcript.Language)

	if lang == "" {
		lang = transcript.Language
	}

	reply, err := p.generate(ctx, transcript.Text, lang)
	if err != nil {
		return nil, err
	}
	slog.Info("Reply generated", "length", len(reply))

	textChunks := splitText(reply, p.MaxChunkChars)

	var clips [][]byte
	var cueChunks []viseme.Chunk
	var offset float64

	for i, text := range textChunks {
		if emit != nil {
			emit(message.StreamEvent{Type: message.EventText, Text: text})
		}

		clip, err := p.synthesize(ctx, text, lang)
		if err != nil {
			return nil, err
		}

		// Some providers return raw encoded samples without a container.
		clip = audio.EnsureWav(clip, audio.SampleRate)

		duration, err := audio.Duration(clip)
		if err != nil {
			return nil, fmt.Errorf("failed to measure synthesized chunk %d: %w", i, err)
		}

		cues := p.extractCues(ctx, clip)

		if emit != nil {
			// Cues are shifted onto the absolute response timeline before
			// emission; clients use them for preview only.
			emit(message.StreamEvent{
				Type:      message.EventAudio,
				Audio:     base64.StdEncoding.EncodeToString(clip),
				MouthCues: viseme.Offset(cues, offset),
			})
		}

		clips = append(clips, clip)
		cueChunks = append(cueChunks, viseme.Chunk{Cues: cues, Duration: duration})
		offset += duration

		slog.Debug("Synthesized chunk",
			"index", i,
			"of", len(textChunks),
			"duration", duration,
			"cues", len(cues))
	}

	fullAudio, err := audio.ConcatWav(clips)
	if err != nil {
		return nil, fmt.Errorf("failed to concatenate response audio: %w", err)
	}

	turn := &message.Turn{
		Audio:     base64.StdEncoding.EncodeToString(fullAudio),
		MouthCues: viseme.Merge(cueChunks),
		Text:      reply,
	}

	if emit != nil {
		emit(message.StreamEvent{Type: message.EventComplete, MouthCues: turn.MouthCues})
	}

	return turn, nil
}

func (p *Pipeline) transcribe(ctx context.Context, wavInput []byte, lang string) (providers.Transcript, error) {
	attempts := make([]providers.Attempt[providers.Transcript], len(p.Transcribers))
	for i, tr := range p.Transcribers {
		tr := tr
		attempts[i] = func(ctx context.Context) (providers.Transcript, error) {
			return tr.Transcribe(ctx, wavInput, lang)
		}
	}
	return stage(ctx, p, "transcribe", attempts)
}

func (p *Pipeline) generate(ctx context.Context, userText, lang string) (string, error) {
	attempts := make([]providers.Attempt[string], len(p.Generators))
	for i, g := range p.Generators {
		g := g
		attempts[i] = func(ctx context.Context) (string, error) {
			return g.Generate(ctx, userText, lang)
		}
	}
	return stage(ctx, p, "generate", attempts)
}

func (p *Pipeline) synthesize(ctx context.Context, text, lang string) ([]byte, error) {
	attempts := make([]providers.Attempt[[]byte], len(p.Synthesizers))
	for i, s := range p.Synthesizers {
		s := s
		attempts[i] = func(ctx context.Context) ([]byte, error) {
			return s.Synthesize(ctx, text, lang)
		}
	}
	return stage(ctx, p, "synthesize", attempts)
}

// extractCues runs the viseme stage with graceful degradation: any failure
// yields an empty cue list so the turn still completes with audio.
func (p *Pipeline) extractCues(ctx context.Context, clip []byte) []viseme.Cue {
	attempts := make([]providers.Attempt[[]viseme.Cue], len(p.Extractors))
	for i, e := range p.Extractors {
		e := e
		attempts[i] = func(ctx context.Context) ([]viseme.Cue, error) {
			return e.Extract(ctx, clip)
		}
	}

	cues, err := stage(ctx, p, "visemes", attempts)
	if err != nil {
		slog.Warn("Viseme extraction degraded to empty cue list", "error", err)
		return nil
	}
	return cues
}

// stage runs one provider stage, recording latency and terminal failures.
// Each attempt gets its own deadline so a hung primary credential cannot
// starve the fallback of time.
func stage[T any](ctx context.Context, p *Pipeline, name string, attempts []providers.Attempt[T]) (T, error) {
	if p.StageTimeout > 0 {
		for i, attempt := range attempts {
			attempts[i] = func(ctx context.Context) (T, error) {
				ctx, cancel := context.WithTimeout(ctx, p.StageTimeout)
				defer cancel()
				return attempt(ctx)
			}
		}
	}

	start := time.Now()
	result, err := providers.FirstSuccess(ctx, name, attempts)
	providerLatency.WithLabelValues(name).Observe(time.Since(start).Seconds())
	if err != nil {
		providerFailures.WithLabelValues(name).Inc()
	}
	return result, err
}
