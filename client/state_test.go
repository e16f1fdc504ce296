package client

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/emiliacb/voice-agent/viseme"
)

func effectValues(fx []Effect, kind EffectKind) []string {
	var out []string
	for _, f := range fx {
		if f.Kind == kind {
			out = append(out, f.Value)
		}
	}
	return out
}

func TestUpdateRecordingCycle(t *testing.T) {
	s := InitialState()

	s, fx := Update(s, Event{Kind: EvRecordStarted})
	assert.True(t, s.Recording)
	assert.Equal(t, []string{"recording"}, effectValues(fx, FxShowStatus))

	s, _ = Update(s, Event{Kind: EvRecordStopped})
	assert.False(t, s.Recording)

	s, fx = Update(s, Event{Kind: EvSendStarted})
	assert.True(t, s.Loading)
	assert.Equal(t, []string{"thinking"}, effectValues(fx, FxShowStatus))
}

func TestUpdateShapeChangeIgnoredWhenNotPlaying(t *testing.T) {
	s := InitialState()

	next, fx := Update(s, Event{Kind: EvShapeChanged, Shape: "B"})
	assert.Equal(t, viseme.IdleShape, next.MouthShape)
	assert.Empty(t, fx)
}

func TestUpdatePlaybackDrivesMouth(t *testing.T) {
	s := InitialState()
	s, _ = Update(s, Event{Kind: EvPlaybackStarted})
	assert.True(t, s.Playing)

	s, fx := Update(s, Event{Kind: EvShapeChanged, Shape: "B"})
	assert.Equal(t, "B", s.MouthShape)
	assert.Equal(t, viseme.IdleShape, s.PreviousShape)
	assert.Equal(t, []string{"B"}, effectValues(fx, FxSetMouth))

	s, _ = Update(s, Event{Kind: EvShapeChanged, Shape: "F"})
	assert.Equal(t, "F", s.MouthShape)
	assert.Equal(t, "B", s.PreviousShape)

	s, fx = Update(s, Event{Kind: EvPlaybackEnded})
	assert.False(t, s.Playing)
	assert.Equal(t, viseme.IdleShape, s.MouthShape)
	assert.Equal(t, []string{viseme.IdleShape}, effectValues(fx, FxSetMouth))
}

func TestUpdateStreamingAccumulatesText(t *testing.T) {
	s := InitialState()

	s, _ = Update(s, Event{Kind: EvTextReceived, Text: "Hello "})
	s, fx := Update(s, Event{Kind: EvTextReceived, Text: "there."})
	assert.Equal(t, "Hello there.", s.ReplyText)
	assert.Equal(t, []string{"Hello there."}, effectValues(fx, FxShowText))

	s, _ = Update(s, Event{Kind: EvTurnReady, Text: "Hello there, traveler."})
	assert.False(t, s.Streaming)
	assert.Equal(t, "Hello there, traveler.", s.ReplyText)
}

func TestUpdateRecordStartedClearsPreviousTurn(t *testing.T) {
	s := InitialState()
	s.ReplyText = "old reply"
	s.ErrorText = "old error"

	s, _ = Update(s, Event{Kind: EvRecordStarted})
	assert.Empty(t, s.ReplyText)
	assert.Empty(t, s.ErrorText)
}

func TestUpdateRateLimitedIsNotAFailure(t *testing.T) {
	s := InitialState()
	s, _ = Update(s, Event{Kind: EvSendStarted})

	s, fx := Update(s, Event{Kind: EvRateLimited})
	assert.False(t, s.Loading)
	assert.Contains(t, s.ErrorText, "busy")
	assert.NotEmpty(t, effectValues(fx, FxShowError))
}

func TestUpdateFailureResetsEverything(t *testing.T) {
	s := InitialState()
	s, _ = Update(s, Event{Kind: EvSendStarted})
	s, _ = Update(s, Event{Kind: EvPlaybackStarted})
	s, _ = Update(s, Event{Kind: EvShapeChanged, Shape: "C"})

	s, fx := Update(s, Event{Kind: EvFailed, Err: errors.New("boom")})
	assert.False(t, s.Loading)
	assert.False(t, s.Playing)
	assert.Equal(t, viseme.IdleShape, s.MouthShape)
	assert.Equal(t, "boom", s.ErrorText)
	assert.Equal(t, []string{viseme.IdleShape}, effectValues(fx, FxSetMouth))
}
