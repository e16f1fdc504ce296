package client

import (
	"context"
	"time"

	"github.com/emiliacb/voice-agent/viseme"
)

// framePeriod approximates a 60fps render loop.
const framePeriod = 16 * time.Millisecond

// PlaybackClock is the time source an animation follows. Position and
// Duration are seconds from the start of the clip.
type PlaybackClock interface {
	Position() float64
	Duration() float64
	Playing() bool
}

// Animator drives mouth shapes from a cue list while a clip plays. Each
// frame it samples the clock slightly ahead of the playhead so the shape
// lands on screen in sync with the audio that reaches the speaker.
type Animator struct {
	cues      []viseme.Cue
	clock     PlaybackClock
	lookahead float64
	shape     string
	onShape   func(shape string)
}

// NewAnimator builds an animator over sorted cues. onShape is invoked only
// when the shape actually changes, never twice in a row for the same value.
func NewAnimator(cues []viseme.Cue, clock PlaybackClock, lookahead time.Duration, onShape func(shape string)) *Animator {
	return &Animator{
		cues:      cues,
		clock:     clock,
		lookahead: lookahead.Seconds(),
		shape:     viseme.IdleShape,
		onShape:   onShape,
	}
}

// Run steps the animation on a frame ticker until the clip ends or ctx is
// cancelled. It always leaves the mouth on the idle shape.
func (a *Animator) Run(ctx context.Context) {
	ticker := time.NewTicker(framePeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.reset()
			return
		case <-ticker.C:
			if !a.Step() {
				return
			}
		}
	}
}

// Step advances the animation one frame. It returns false once the clip
// has finished and the mouth has been reset to idle.
func (a *Animator) Step() bool {
	if !a.clock.Playing() {
		// Paused or not yet started: hold the current shape.
		return true
	}

	t := a.clock.Position() + a.lookahead
	if t >= a.clock.Duration() {
		a.reset()
		return false
	}

	if cue, ok := viseme.FindAt(a.cues, t); ok {
		a.set(cue.Shape)
	}
	// No cue at t: keep the previous shape rather than flickering to idle.
	return true
}

func (a *Animator) set(shape string) {
	if shape == a.shape {
		return
	}
	a.shape = shape
	if a.onShape != nil {
		a.onShape(shape)
	}
}

func (a *Animator) reset() {
	a.set(viseme.IdleShape)
}
