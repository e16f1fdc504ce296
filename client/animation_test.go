package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/emiliacb/voice-agent/viseme"
)

type fakeClock struct {
	pos     float64
	dur     float64
	playing bool
}

func (c *fakeClock) Position() float64 { return c.pos }
func (c *fakeClock) Duration() float64 { return c.dur }
func (c *fakeClock) Playing() bool     { return c.playing }

func testCues() []viseme.Cue {
	return []viseme.Cue{
		{Start: 0, End: 0.5, Shape: "A"},
		{Start: 0.5, End: 1.0, Shape: "B"},
		// Gap from 1.0 to 1.5.
		{Start: 1.5, End: 2.0, Shape: "C"},
	}
}

func TestAnimatorFollowsCues(t *testing.T) {
	clock := &fakeClock{dur: 2.0, playing: true}
	var shapes []string
	a := NewAnimator(testCues(), clock, 0, func(s string) { shapes = append(shapes, s) })

	clock.pos = 0.1
	assert.True(t, a.Step())
	clock.pos = 0.6
	assert.True(t, a.Step())
	clock.pos = 1.7
	assert.True(t, a.Step())

	assert.Equal(t, []string{"A", "B", "C"}, shapes)
}

func TestAnimatorLookaheadSamplesAhead(t *testing.T) {
	clock := &fakeClock{dur: 2.0, playing: true}
	var shapes []string
	a := NewAnimator(testCues(), clock, 150*time.Millisecond, func(s string) { shapes = append(shapes, s) })

	// Playhead still inside A, but A ends within the lookahead window.
	clock.pos = 0.4
	assert.True(t, a.Step())

	assert.Equal(t, []string{"B"}, shapes)
}

func TestAnimatorRetainsShapeAcrossGaps(t *testing.T) {
	clock := &fakeClock{dur: 2.0, playing: true}
	var shapes []string
	a := NewAnimator(testCues(), clock, 0, func(s string) { shapes = append(shapes, s) })

	clock.pos = 0.6
	a.Step()
	clock.pos = 1.2 // inside the gap
	a.Step()
	clock.pos = 1.3
	a.Step()

	assert.Equal(t, []string{"B"}, shapes, "shape should hold through cue gaps")
}

func TestAnimatorHoldsWhileNotPlaying(t *testing.T) {
	clock := &fakeClock{dur: 2.0, playing: false}
	var shapes []string
	a := NewAnimator(testCues(), clock, 0, func(s string) { shapes = append(shapes, s) })

	clock.pos = 0.6
	assert.True(t, a.Step())
	assert.Empty(t, shapes)
}

func TestAnimatorResetsToIdleAtEnd(t *testing.T) {
	clock := &fakeClock{dur: 2.0, playing: true}
	var shapes []string
	a := NewAnimator(testCues(), clock, 0, func(s string) { shapes = append(shapes, s) })

	clock.pos = 1.7
	assert.True(t, a.Step())
	clock.pos = 2.0
	assert.False(t, a.Step(), "step past the end should halt the animation")

	assert.Equal(t, []string{"C", viseme.IdleShape}, shapes)
}

func TestAnimatorDoesNotRepeatShapes(t *testing.T) {
	clock := &fakeClock{dur: 2.0, playing: true}
	var shapes []string
	a := NewAnimator(testCues(), clock, 0, func(s string) { shapes = append(shapes, s) })

	for i := 0; i < 5; i++ {
		clock.pos = 0.1 + float64(i)*0.05
		a.Step()
	}

	assert.Equal(t, []string{"A"}, shapes)
}
