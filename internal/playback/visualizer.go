package playback

import (
	"math"
	"sync"
)

// Visualizer is the analysis tap for live rendering. Push must never block
// or delay audio scheduling, so buffers are handed off through a
// single-slot mailbox: a tick that falls behind just sees the latest
// buffer, it never backpressures the scheduler.
type Visualizer struct {
	mailbox chan []int16

	mu     sync.Mutex
	latest []int16
}

func NewVisualizer() *Visualizer {
	return &Visualizer{mailbox: make(chan []int16, 1)}
}

// Push offers a sample buffer to the visualizer, dropping it if the
// previous one has not been consumed yet.
func (v *Visualizer) Push(samples []int16) {
	select {
	case v.mailbox <- samples:
	default:
		// Drop-and-replace keeps the display current without blocking.
		select {
		case <-v.mailbox:
		default:
		}
		select {
		case v.mailbox <- samples:
		default:
		}
	}
}

// Bars computes n frequency-band energies from the most recent buffer, for
// rendering on the caller's own refresh cadence. Returns values in [0, 1].
func (v *Visualizer) Bars(n int) []float64 {
	v.mu.Lock()
	select {
	case buf := <-v.mailbox:
		v.latest = buf
	default:
	}
	buf := v.latest
	v.mu.Unlock()

	if n <= 0 {
		return nil
	}
	bars := make([]float64, n)
	if len(buf) == 0 {
		return bars
	}

	// Goertzel-style energy per band over a bounded window; a full FFT is
	// overkill for a bar display.
	window := buf
	if len(window) > 2048 {
		window = window[len(window)-2048:]
	}
	for b := 0; b < n; b++ {
		// Normalized frequency spread across the bands.
		freq := (float64(b) + 0.5) / float64(n) * 0.5
		coeff := 2 * math.Cos(2*math.Pi*freq)
		var s0, s1, s2 float64
		for _, sample := range window {
			s0 = float64(sample)/32768 + coeff*s1 - s2
			s2 = s1
			s1 = s0
		}
		power := s1*s1 + s2*s2 - coeff*s1*s2
		bars[b] = math.Min(1, math.Sqrt(math.Abs(power))/float64(len(window))*8)
	}
	return bars
}
