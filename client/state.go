// Package client implements the push-to-talk terminal client: microphone
// capture, backend transport, WAV playback, and mouth-shape animation
// rendered in the terminal.
package client

import "github.com/emiliacb/voice-agent/viseme"

// State is the complete UI state of the client. It is an immutable value:
// every transition goes through Update, which returns the next state plus
// the render effects the caller must apply.
type State struct {
	Recording bool
	Loading   bool
	Playing   bool
	Streaming bool

	MouthShape    string
	PreviousShape string
	ReplyText     string
	ErrorText     string
}

// InitialState returns the resting state before any interaction.
func InitialState() State {
	return State{MouthShape: viseme.IdleShape, PreviousShape: viseme.IdleShape}
}

// EventKind enumerates the inputs that drive the state machine.
type EventKind int

const (
	EvRecordStarted EventKind = iota
	EvRecordStopped
	EvRecordTooShort
	EvSendStarted
	EvTextReceived
	EvTurnReady
	EvPlaybackStarted
	EvShapeChanged
	EvPlaybackEnded
	EvRateLimited
	EvFailed
)

// Event is one input to Update. Only the fields relevant to its Kind are set.
type Event struct {
	Kind  EventKind
	Text  string
	Shape string
	Err   error
}

// EffectKind enumerates the render instructions Update can emit.
type EffectKind int

const (
	FxSetMouth EffectKind = iota
	FxShowStatus
	FxShowText
	FxShowError
)

// Effect is one render instruction for the terminal.
type Effect struct {
	Kind  EffectKind
	Value string
}

// Update is the pure reducer: given the current state and one event it
// returns the next state and the effects to render. It never performs IO.
func Update(s State, e Event) (State, []Effect) {
	var fx []Effect

	switch e.Kind {
	case EvRecordStarted:
		s.Recording = true
		s.ReplyText = ""
		s.ErrorText = ""
		fx = append(fx, Effect{Kind: FxShowStatus, Value: "recording"})

	case EvRecordStopped:
		s.Recording = false

	case EvRecordTooShort:
		s.Recording = false
		s.ErrorText = "recording too short, hold the key a little longer"
		fx = append(fx,
			Effect{Kind: FxShowError, Value: s.ErrorText},
			Effect{Kind: FxShowStatus, Value: "idle"})

	case EvSendStarted:
		s.Loading = true
		fx = append(fx, Effect{Kind: FxShowStatus, Value: "thinking"})

	case EvTextReceived:
		s.Streaming = true
		s.ReplyText += e.Text
		fx = append(fx, Effect{Kind: FxShowText, Value: s.ReplyText})

	case EvTurnReady:
		s.Loading = false
		s.Streaming = false
		if e.Text != "" {
			s.ReplyText = e.Text
			fx = append(fx, Effect{Kind: FxShowText, Value: s.ReplyText})
		}

	case EvPlaybackStarted:
		s.Playing = true
		fx = append(fx, Effect{Kind: FxShowStatus, Value: "speaking"})

	case EvShapeChanged:
		if !s.Playing {
			// Shape changes are only meaningful during playback.
			break
		}
		s.PreviousShape = s.MouthShape
		s.MouthShape = e.Shape
		fx = append(fx, Effect{Kind: FxSetMouth, Value: e.Shape})

	case EvPlaybackEnded:
		s.Playing = false
		s.PreviousShape = viseme.IdleShape
		s.MouthShape = viseme.IdleShape
		fx = append(fx,
			Effect{Kind: FxSetMouth, Value: viseme.IdleShape},
			Effect{Kind: FxShowStatus, Value: "idle"})

	case EvRateLimited:
		s.Loading = false
		s.Streaming = false
		s.ErrorText = "the agent is busy, wait a moment and try again"
		fx = append(fx,
			Effect{Kind: FxShowError, Value: s.ErrorText},
			Effect{Kind: FxShowStatus, Value: "idle"})

	case EvFailed:
		s.Loading = false
		s.Streaming = false
		s.Playing = false
		s.MouthShape = viseme.IdleShape
		s.PreviousShape = viseme.IdleShape
		if e.Err != nil {
			s.ErrorText = e.Err.Error()
		} else {
			s.ErrorText = "something went wrong"
		}
		fx = append(fx,
			Effect{Kind: FxSetMouth, Value: viseme.IdleShape},
			Effect{Kind: FxShowError, Value: s.ErrorText},
			Effect{Kind: FxShowStatus, Value: "idle"})
	}

	return s, fx
}
