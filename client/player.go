package client

import (
	"bytes"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"
	"github.com/youpy/go-wav"
)

// Player plays one WAV clip and exposes a monotonic playback clock for
// animation. Position is derived from frames actually handed to the audio
// device, not wall time, so it stays honest under device latency.
type Player struct {
	samples    []int16
	sampleRate float64

	stream  *portaudio.Stream
	cursor  atomic.Int64
	playing atomic.Bool

	done     chan struct{}
	doneOnce sync.Once
}

// NewPlayer decodes a WAV clip into memory, ready to play.
func NewPlayer(wavBytes []byte) (*Player, error) {
	reader := wav.NewReader(bytes.NewReader(wavBytes))
	format, err := reader.Format()
	if err != nil {
		return nil, fmt.Errorf("failed to read WAV format: %w", err)
	}
	if format.SampleRate == 0 {
		return nil, fmt.Errorf("invalid WAV sample rate")
	}

	var samples []int16
	for {
		chunk, err := reader.ReadSamples(4096)
		for _, s := range chunk {
			samples = append(samples, int16(s.Values[0]))
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read WAV samples: %w", err)
		}
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("WAV clip has no samples")
	}

	return &Player{
		samples:    samples,
		sampleRate: float64(format.SampleRate),
		done:       make(chan struct{}),
	}, nil
}

// Start opens the default output device and begins playback.
func (p *Player) Start() error {
	stream, err := portaudio.OpenDefaultStream(0, channels, p.sampleRate, framesPerBuffer, p.fill)
	if err != nil {
		return fmt.Errorf("failed to open output stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("failed to start output stream: %w", err)
	}
	p.stream = stream
	p.playing.Store(true)
	return nil
}

// fill is the portaudio output callback. It copies the next slice of
// samples and pads the tail with silence once the clip is exhausted.
func (p *Player) fill(out []int16) {
	pos := int(p.cursor.Load())
	n := copy(out, p.samples[min(pos, len(p.samples)):])
	for i := n; i < len(out); i++ {
		out[i] = 0
	}
	p.cursor.Add(int64(n))
	if pos+n >= len(p.samples) {
		p.playing.Store(false)
		p.doneOnce.Do(func() { close(p.done) })
	}
}

// Position returns the playhead in seconds.
func (p *Player) Position() float64 {
	pos := p.cursor.Load()
	if pos > int64(len(p.samples)) {
		pos = int64(len(p.samples))
	}
	return float64(pos) / p.sampleRate
}

// Duration returns the clip length in seconds.
func (p *Player) Duration() float64 {
	return float64(len(p.samples)) / p.sampleRate
}

// Playing reports whether samples remain to be played.
func (p *Player) Playing() bool {
	return p.playing.Load()
}

// Done closes when the last sample has been handed to the device.
func (p *Player) Done() <-chan struct{} {
	return p.done
}

// Stop halts playback and releases the stream.
func (p *Player) Stop() error {
	p.playing.Store(false)
	p.doneOnce.Do(func() { close(p.done) })
	if p.stream == nil {
		return nil
	}
	err := p.stream.Stop()
	p.stream.Close()
	p.stream = nil
	return err
}
