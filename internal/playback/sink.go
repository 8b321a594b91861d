package playback

import "time"

// WallClockSink is a Sink driven by wall time with no audio device behind
// it. Scheduled buffers are discarded; the clock still advances so the
// scheduler's timing logic behaves exactly as it would against a real
// output. Used by the CLI client, where assembled WAV files stand in for
// live playback.
type WallClockSink struct {
	start time.Time
}

func NewWallClockSink() *WallClockSink {
	return &WallClockSink{start: time.Now()}
}

func (s *WallClockSink) Now() time.Duration { return time.Since(s.start) }

func (s *WallClockSink) ScheduleAt(time.Duration, []int16) {}
