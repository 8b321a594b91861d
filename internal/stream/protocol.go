// Package stream implements the duplex streaming transport: a persistent
// WebSocket on which a client submits text requests and receives audio
// frames as they are synthesized, followed by a terminal metrics event.
package stream

import "github.com/voxkit-labs/voxkit/internal/synth"

// Request is the client-to-server message opening one generation on the
// channel.
type Request struct {
	Text      string `json:"text"`
	Voice     string `json:"voice"`
	MaxTokens int    `json:"max_tokens,omitempty"`
}

// Event types carried in the server-to-client envelope.
const (
	EventAudio = "audio"
	EventDone  = "done"
	EventError = "error"
)

// Event is the server-to-client message envelope. Audio events carry one
// frame of raw little-endian int16 PCM (base64 inside JSON); done events
// carry the session metrics; error events are per-request and leave the
// channel open.
type Event struct {
	Type       string         `json:"type"`
	Data       []byte         `json:"data,omitempty"`
	SampleRate int            `json:"sample_rate,omitempty"`
	Metrics    *synth.Metrics `json:"metrics,omitempty"`
	Message    string         `json:"message,omitempty"`
}
