// Package synth exposes the speech model capability as a stream of PCM
// chunks and wraps one invocation at a time in a Session that measures
// first-chunk latency and real-time factor.
package synth

import (
	"fmt"

	"github.com/voxkit-labs/voxkit/internal/config"
)

// New builds the synthesizer selected by configuration.
func New(cfg config.SynthConfig) (Synthesizer, error) {
	switch cfg.Mode {
	case "mock":
		return NewMockSynth(cfg.SampleRate, cfg.ChunkDurationMS), nil
	case "exec":
		return NewExecSynth(cfg.Command, cfg.SampleRate)
	default:
		return nil, fmt.Errorf("unknown synth mode %q", cfg.Mode)
	}
}
