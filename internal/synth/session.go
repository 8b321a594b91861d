package synth

import (
	"context"
	"time"
)

// Metrics summarizes one completed generation. RTF is audio duration over
// wall-clock generation time, so values above 1 mean faster than real
// time. Computed once at session completion.
type Metrics struct {
	FirstChunkLatency float64 `json:"first_chunk_latency"`
	RTF               float64 `json:"rtf"`
	TotalTime         float64 `json:"total_time"`
	AudioDuration     float64 `json:"audio_duration"`
	Samples           int     `json:"samples"`
}

// Session wraps one synthesizer invocation: a finite, non-restartable
// sequence of chunks followed by one Metrics value. One session serves
// exactly one request.
type Session struct {
	synth      Synthesizer
	req        Request
	sampleRate int
	clock      func() time.Time
	consumed   bool
}

func NewSession(synth Synthesizer, sampleRate int, req Request) *Session {
	return &Session{
		synth:      synth,
		req:        req,
		sampleRate: sampleRate,
		clock:      time.Now,
	}
}

// Run drives the synthesizer and invokes emit for every chunk in
// production order, one at a time. It returns Metrics after the final
// chunk, or a SynthesisError if the capability fails mid-stream; chunks
// already emitted are not retracted. Cancelling ctx aborts generation.
func (s *Session) Run(ctx context.Context, emit func(Chunk) error) (Metrics, error) {
	if s.consumed {
		return Metrics{}, ErrSessionConsumed
	}
	s.consumed = true

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	start := s.clock()
	var firstChunk time.Duration
	totalSamples := 0

	chunks, errs := s.synth.Synthesize(ctx, s.req)
	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			if totalSamples == 0 {
				firstChunk = s.clock().Sub(start)
			}
			totalSamples += len(chunk.PCM) / 2
			if err := emit(chunk); err != nil {
				return Metrics{}, err
			}
		case err, ok := <-errs:
			if ok && err != nil {
				return Metrics{}, &SynthesisError{Err: err}
			}
			errs = nil
		case <-ctx.Done():
			return Metrics{}, ctx.Err()
		}
		if chunks == nil && errs == nil {
			break
		}
	}

	total := s.clock().Sub(start)
	audioDuration := float64(totalSamples) / float64(s.sampleRate)
	m := Metrics{
		FirstChunkLatency: firstChunk.Seconds(),
		TotalTime:         total.Seconds(),
		AudioDuration:     audioDuration,
		Samples:           totalSamples,
	}
	if total > 0 {
		m.RTF = audioDuration / total.Seconds()
	}
	return m, nil
}
