// Package message defines the wire types exchanged between the gateway
// and its clients on the /message endpoint.
package message

import "github.com/emiliacb/voice-agent/viseme"

// Turn is the non-streaming response: one complete reply with base64 WAV
// audio and the merged mouth-cue list.
type Turn struct {
	Audio     string       `json:"audio"`
	MouthCues []viseme.Cue `json:"mouthCues"`
	Text      string       `json:"text,omitempty"`
}

// Stream event types, in emission order. Text and audio events for a turn
// arrive interleaved; Complete is always last.
const (
	EventText     = "text"
	EventAudio    = "audio"
	EventComplete = "complete"
	EventError    = "error"
)

// StreamEvent is the tagged variant carried on a text/event-stream
// response, one JSON document per "data:" line.
type StreamEvent struct {
	Type string `json:"type"`

	// EventText: the reply fragment for live display.
	Text string `json:"text,omitempty"`

	// EventAudio: a base64 WAV fragment plus its cues already offset to
	// the absolute response timeline. Per-chunk cues are UI preview only;
	// the Complete event carries the authoritative list.
	Audio     string       `json:"audio,omitempty"`
	MouthCues []viseme.Cue `json:"mouthCues,omitempty"`

	// EventError: human-readable failure description.
	Message string `json:"message,omitempty"`
}

// ErrorResponse is the JSON body of a non-2xx gateway reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
