package gateway

import (
	"context"
	"encoding/base64"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emiliacb/voice-agent/audio"
	"github.com/emiliacb/voice-agent/message"
	"github.com/emiliacb/voice-agent/providers"
	"github.com/emiliacb/voice-agent/viseme"
)

type fakeTranscriber struct {
	transcript providers.Transcript
	err        error
	calls      int
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, wavAudio []byte, lang string) (providers.Transcript, error) {
	f.calls++
	return f.transcript, f.err
}

type fakeGenerator struct {
	reply string
	err   error
}

func (f *fakeGenerator) Generate(ctx context.Context, userText, lang string) (string, error) {
	return f.reply, f.err
}

// fakeSynthesizer emits a clip of fixed duration per call.
type fakeSynthesizer struct {
	durations []float64
	call      int
	err       error
}

func (f *fakeSynthesizer) Synthesize(ctx context.Context, text, lang string) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	d := 1.0
	if f.call < len(f.durations) {
		d = f.durations[f.call]
	}
	f.call++
	return audio.EncodePCM(make([]int16, int(d*audio.SampleRate)), audio.SampleRate), nil
}

type fakeExtractor struct {
	cueLists [][]viseme.Cue
	call     int
	err      error
	warmed   atomic.Int32
}

func (f *fakeExtractor) Extract(ctx context.Context, wavAudio []byte) ([]viseme.Cue, error) {
	if f.err != nil {
		return nil, f.err
	}
	var cues []viseme.Cue
	if f.call < len(f.cueLists) {
		cues = f.cueLists[f.call]
	}
	f.call++
	return cues, nil
}

func (f *fakeExtractor) WarmUp(ctx context.Context) error {
	f.warmed.Add(1)
	return nil
}

func passthroughConvert(ctx context.Context, input []byte, ffmpegPath string) ([]byte, error) {
	return input, nil
}

func testPipeline(tr providers.Transcriber, g providers.Generator, s providers.Synthesizer, e providers.VisemeExtractor) *Pipeline {
	return &Pipeline{
		Transcribers: []providers.Transcriber{tr},
		Generators:   []providers.Generator{g},
		Synthesizers: []providers.Synthesizer{s},
		Extractors:   []providers.VisemeExtractor{e},
		Convert:      passthroughConvert,
	}
}

func TestPipelineRunSingleChunk(t *testing.T) {
	ext := &fakeExtractor{cueLists: [][]viseme.Cue{
		{{Start: 0, End: 0.4, Shape: "B"}},
	}}
	p := testPipeline(
		&fakeTranscriber{transcript: providers.Transcript{Text: "hello", Language: "en"}},
		&fakeGenerator{reply: "Indeed."},
		&fakeSynthesizer{durations: []float64{1}},
		ext,
	)

	turn, err := p.Run(context.Background(), []byte("opus-data"), "")
	require.NoError(t, err)

	assert.Equal(t, "Indeed.", turn.Text)
	assert.Equal(t, []viseme.Cue{{Start: 0, End: 0.4, Shape: "B"}}, turn.MouthCues)

	decoded, err := base64.StdEncoding.DecodeString(turn.Audio)
	require.NoError(t, err)
	assert.True(t, audio.HasWavHeader(decoded))
}

func TestPipelineChunksOffsetCues(t *testing.T) {
	// three chunks of 1s, 0.5s, 2s with one cue each
	ext := &fakeExtractor{cueLists: [][]viseme.Cue{
		{{Start: 0, End: 1, Shape: "A"}},
		{{Start: 0, End: 0.5, Shape: "B"}},
		{{Start: 0, End: 2, Shape: "C"}},
	}}
	p := testPipeline(
		&fakeTranscriber{transcript: providers.Transcript{Text: "hi", Language: "en"}},
		&fakeGenerator{reply: "First sentence here. Second one now. Third closes this."},
		&fakeSynthesizer{durations: []float64{1, 0.5, 2}},
		ext,
	)
	p.MaxChunkChars = 25

	turn, err := p.Run(context.Background(), []byte("x"), "en")
	require.NoError(t, err)

	expected := []viseme.Cue{
		{Start: 0, End: 1, Shape: "A"},
		{Start: 1, End: 1.5, Shape: "B"},
		{Start: 1.5, End: 3.5, Shape: "C"},
	}
	assert.Equal(t, expected, turn.MouthCues)

	decoded, err := base64.StdEncoding.DecodeString(turn.Audio)
	require.NoError(t, err)
	d, err := audio.Duration(decoded)
	require.NoError(t, err)
	assert.InDelta(t, 3.5, d, 0.001)
}

func TestPipelineVisemeDegradation(t *testing.T) {
	p := testPipeline(
		&fakeTranscriber{transcript: providers.Transcript{Text: "hi"}},
		&fakeGenerator{reply: "Still audible."},
		&fakeSynthesizer{},
		&fakeExtractor{err: errors.New("rhubarb is napping")},
	)

	turn, err := p.Run(context.Background(), []byte("x"), "en")
	require.NoError(t, err)
	assert.Empty(t, turn.MouthCues)
	assert.NotEmpty(t, turn.Audio)
}

func TestPipelineCredentialFallback(t *testing.T) {
	primary := &fakeTranscriber{err: errors.New("401 unauthorized")}
	fallback := &fakeTranscriber{transcript: providers.Transcript{Text: "rescued"}}

	p := testPipeline(primary, &fakeGenerator{reply: "Fine."}, &fakeSynthesizer{}, &fakeExtractor{})
	p.Transcribers = []providers.Transcriber{primary, fallback}

	turn, err := p.Run(context.Background(), []byte("x"), "en")
	require.NoError(t, err)
	assert.Equal(t, "Fine.", turn.Text)
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 1, fallback.calls)
}

// hangingTranscriber blocks until its context expires, like a provider
// that accepts the connection and then stalls.
type hangingTranscriber struct {
	calls atomic.Int32
}

func (f *hangingTranscriber) Transcribe(ctx context.Context, wavAudio []byte, lang string) (providers.Transcript, error) {
	f.calls.Add(1)
	<-ctx.Done()
	return providers.Transcript{}, ctx.Err()
}

func TestPipelineFallbackGetsFreshDeadline(t *testing.T) {
	primary := &hangingTranscriber{}
	fallback := &fakeTranscriber{transcript: providers.Transcript{Text: "rescued", Language: "en"}}

	p := testPipeline(primary, &fakeGenerator{reply: "Fine."}, &fakeSynthesizer{}, &fakeExtractor{})
	p.Transcribers = []providers.Transcriber{primary, fallback}
	p.StageTimeout = 50 * time.Millisecond

	turn, err := p.Run(context.Background(), []byte("x"), "en")
	require.NoError(t, err)
	assert.Equal(t, "Fine.", turn.Text)
	assert.Equal(t, int32(1), primary.calls.Load())
	assert.Equal(t, 1, fallback.calls)
}

func TestPipelineAllCredentialsExhausted(t *testing.T) {
	p := testPipeline(
		&fakeTranscriber{transcript: providers.Transcript{Text: "hi"}},
		&fakeGenerator{err: errors.New("primary down")},
		&fakeSynthesizer{},
		&fakeExtractor{},
	)
	p.Generators = []providers.Generator{
		&fakeGenerator{err: errors.New("primary down")},
		&fakeGenerator{err: errors.New("fallback down")},
	}

	_, err := p.Run(context.Background(), []byte("x"), "en")
	require.Error(t, err)
	assert.ErrorIs(t, err, providers.ErrAllProvidersFailed)
}

func TestPipelineStreamEventOrder(t *testing.T) {
	ext := &fakeExtractor{cueLists: [][]viseme.Cue{
		{{Start: 0, End: 0.5, Shape: "A"}},
		{{Start: 0, End: 0.5, Shape: "B"}},
	}}
	p := testPipeline(
		&fakeTranscriber{transcript: providers.Transcript{Text: "hi"}},
		&fakeGenerator{reply: "First sentence here. Second one now."},
		&fakeSynthesizer{durations: []float64{1, 1}},
		ext,
	)
	p.MaxChunkChars = 25

	var events []message.StreamEvent
	turn, err := p.RunStream(context.Background(), []byte("x"), "en", func(ev message.StreamEvent) {
		events = append(events, ev)
	})
	require.NoError(t, err)

	var types []string
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []string{"text", "audio", "text", "audio", "complete"}, types)

	// second audio event's preview cues are already on the absolute timeline
	second := events[3]
	require.Len(t, second.MouthCues, 1)
	assert.Equal(t, 1.0, second.MouthCues[0].Start)

	// complete carries the authoritative merged list, matching the turn
	last := events[len(events)-1]
	assert.Equal(t, turn.MouthCues, last.MouthCues)
	require.Len(t, last.MouthCues, 2)
	assert.Equal(t, "B", last.MouthCues[1].Shape)
}
