package synth

import (
	"context"

	"github.com/voxkit-labs/voxkit/internal/voice"
)

// Request contains parameters for one speech generation.
type Request struct {
	Text      string
	Voice     voice.Voice
	MaxTokens int
}

// Chunk contains one frame of PCM data, little-endian signed 16-bit mono.
type Chunk struct {
	Sequence   int
	SampleRate int
	PCM        []byte
	Final      bool
}

// Synthesizer is the contract for producing audio. Implementations must
// deliver chunks as soon as the model emits them rather than buffering
// until completion; the chunk channel is closed after the final chunk and
// the error channel carries at most one failure.
type Synthesizer interface {
	Synthesize(ctx context.Context, req Request) (<-chan Chunk, <-chan error)
}
