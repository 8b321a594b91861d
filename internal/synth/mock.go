package synth

import (
	"context"
	"encoding/binary"
	"math"
	"time"
)

type mockSynth struct {
	sampleRate int
	chunkMS    int
	delay      time.Duration
}

// NewMockSynth returns a synthesizer that produces a deterministic tone in
// fixed-duration chunks, sized by the request text. Useful for local
// development and tests without a model.
func NewMockSynth(sampleRate, chunkDurationMS int) Synthesizer {
	return &mockSynth{sampleRate: sampleRate, chunkMS: chunkDurationMS, delay: 10 * time.Millisecond}
}

func (m *mockSynth) Synthesize(ctx context.Context, req Request) (<-chan Chunk, <-chan error) {
	chunks := make(chan Chunk)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)

		count := len(req.Text)/40 + 1
		if count > 10 {
			count = 10
		}
		samplesPerChunk := m.sampleRate * m.chunkMS / 1000

		for i := 0; i < count; i++ {
			select {
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			case <-time.After(m.delay):
			}
			chunk := Chunk{
				Sequence:   i,
				SampleRate: m.sampleRate,
				PCM:        tonePCM(samplesPerChunk, i*samplesPerChunk, m.sampleRate),
				Final:      i == count-1,
			}
			select {
			case chunks <- chunk:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}
	}()
	return chunks, errs
}

// tonePCM renders a 220 Hz sine as little-endian int16 samples, phase
// continuous across chunks via the sample offset.
func tonePCM(n, offset, sampleRate int) []byte {
	out := make([]byte, n*2)
	for i := 0; i < n; i++ {
		v := math.Sin(2 * math.Pi * 220 * float64(offset+i) / float64(sampleRate))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v*16000)))
	}
	return out
}
