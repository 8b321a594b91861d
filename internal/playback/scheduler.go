// Package playback turns an irregularly-timed sequence of audio frames
// into continuous gap-free output against a playback clock, and assembles
// the canonical WAV for storage once the stream completes.
package playback

import (
	"log/slog"
	"sync"
	"time"

	"github.com/voxkit-labs/voxkit/internal/wav"
)

// JitterMargin is the scheduling margin applied after an underrun: when a
// frame arrives later than its slot, playback restarts at now+margin
// instead of in the past. 100ms absorbs normal network jitter at the cost
// of one audible pause when exceeded; audio is never dropped.
const JitterMargin = 100 * time.Millisecond

// Sink abstracts the platform audio output: a monotonically advancing
// playback clock plus the ability to start a buffer at an exact clock
// position.
type Sink interface {
	// Now reports the current position of the playback clock.
	Now() time.Duration
	// ScheduleAt queues samples to begin playing at start, which is never
	// earlier than Now at call time.
	ScheduleAt(start time.Duration, samples []int16)
}

// Scheduler holds the single monotonically increasing next-start time for
// one stream. Frames are scheduled back to back in arrival order; the
// visualizer tap is fed without ever blocking scheduling.
type Scheduler struct {
	sink       Sink
	sampleRate int
	vis        *Visualizer
	logger     *slog.Logger

	mu        sync.Mutex
	nextStart time.Duration
	started   bool
	frames    [][]byte
}

func NewScheduler(sink Sink, sampleRate int, log *slog.Logger) *Scheduler {
	return &Scheduler{
		sink:       sink,
		sampleRate: sampleRate,
		vis:        NewVisualizer(),
		logger:     log.With(slog.String("component", "playback")),
	}
}

// Visualizer returns the analysis tap fed by Enqueue.
func (s *Scheduler) Visualizer() *Visualizer { return s.vis }

// Enqueue decodes one frame of raw little-endian int16 PCM and schedules
// it to begin exactly when the previous frame ends. If that moment has
// already passed (the frame arrived too late), the start is reset to
// now+JitterMargin so nothing is ever scheduled in the past.
func (s *Scheduler) Enqueue(pcm []byte) {
	samples := wav.BytesToSamples(pcm)
	if len(samples) == 0 {
		return
	}

	s.mu.Lock()
	now := s.sink.Now()
	if !s.started || s.nextStart < now {
		if s.started && s.nextStart < now {
			s.logger.Debug("buffer underrun, resyncing",
				slog.Duration("behind", now-s.nextStart))
		}
		s.nextStart = now + JitterMargin
		s.started = true
	}
	start := s.nextStart
	s.nextStart += wav.Duration(len(samples), s.sampleRate)
	s.frames = append(s.frames, pcm)
	s.mu.Unlock()

	s.sink.ScheduleAt(start, samples)
	s.vis.Push(samples)
}

// FrameCount reports how many frames have been received so far.
func (s *Scheduler) FrameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

// Finalize concatenates every received frame in arrival order into one
// canonical WAV and resets the scheduler for the next stream.
func (s *Scheduler) Finalize() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := 0
	for _, f := range s.frames {
		total += len(f)
	}
	pcm := make([]byte, 0, total)
	for _, f := range s.frames {
		pcm = append(pcm, f...)
	}

	s.frames = nil
	s.started = false
	s.nextStart = 0
	return wav.Encode(pcm, s.sampleRate)
}
