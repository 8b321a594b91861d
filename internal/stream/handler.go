package stream

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/voxkit-labs/voxkit/internal/observe"
	"github.com/voxkit-labs/voxkit/internal/synth"
	"github.com/voxkit-labs/voxkit/internal/voice"
)

// Handler upgrades /ws/stream connections and runs the per-connection
// request loop. Each connection owns an Idle/Generating state machine:
// exactly one session at a time, and a request arriving while one is
// running is rejected with an error event rather than queued.
type Handler struct {
	voices      *voice.Store
	synthesizer synth.Synthesizer
	sampleRate  int
	maxText     int
	metrics     *observe.Metrics
	logger      *slog.Logger
}

func NewHandler(voices *voice.Store, s synth.Synthesizer, sampleRate, maxText int, m *observe.Metrics, log *slog.Logger) *Handler {
	return &Handler{
		voices:      voices,
		synthesizer: s,
		sampleRate:  sampleRate,
		maxText:     maxText,
		metrics:     m,
		logger:      log.With(slog.String("component", "stream")),
	}
}

// connState tracks one connection. wmu serializes writes to the socket so
// frames and events never interleave mid-message; mu guards the state
// machine slot.
type connState struct {
	ws  *websocket.Conn
	wmu sync.Mutex

	mu         sync.Mutex
	generating bool
}

func (c *connState) write(ctx context.Context, evt Event) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return wsjson.Write(ctx, c.ws, evt)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Warn("websocket accept failed", slog.String("error", err.Error()))
		return
	}
	defer ws.CloseNow()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	state := &connState{ws: ws}
	var wg sync.WaitGroup

	for {
		var req Request
		if err := wsjson.Read(ctx, ws, &req); err != nil {
			// Closed or failed connection ends the loop; cancel aborts
			// any in-flight session.
			break
		}
		h.handleRequest(ctx, state, &wg, req)
	}

	cancel()
	wg.Wait()
	ws.Close(websocket.StatusNormalClosure, "")
}

func (h *Handler) handleRequest(ctx context.Context, state *connState, wg *sync.WaitGroup, req Request) {
	if err := synth.ValidateText(req.Text, h.maxText); err != nil {
		h.rejectRequest(ctx, state, err.Error())
		return
	}
	v, ok := h.voices.Lookup(req.Voice)
	if !ok {
		h.rejectRequest(ctx, state, "unknown voice: "+req.Voice)
		return
	}

	state.mu.Lock()
	if state.generating {
		state.mu.Unlock()
		h.rejectRequest(ctx, state, "generation already in progress")
		return
	}
	state.generating = true
	state.mu.Unlock()

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer func() {
			state.mu.Lock()
			state.generating = false
			state.mu.Unlock()
		}()
		h.runSession(ctx, state, synth.Request{Text: req.Text, Voice: v, MaxTokens: req.MaxTokens})
	}()
}

func (h *Handler) rejectRequest(ctx context.Context, state *connState, msg string) {
	h.metrics.Requests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("transport", "ws"),
		attribute.String("status", "rejected"),
	))
	if err := state.write(ctx, Event{Type: EventError, Message: msg}); err != nil {
		h.logger.Warn("failed to send error event", slog.String("error", err.Error()))
	}
}

func (h *Handler) runSession(ctx context.Context, state *connState, req synth.Request) {
	h.metrics.ActiveStreams.Add(ctx, 1)
	defer h.metrics.ActiveStreams.Add(ctx, -1)

	session := synth.NewSession(h.synthesizer, h.sampleRate, req)
	metrics, err := session.Run(ctx, func(chunk synth.Chunk) error {
		return state.write(ctx, Event{
			Type:       EventAudio,
			Data:       chunk.PCM,
			SampleRate: chunk.SampleRate,
		})
	})
	if err != nil {
		status := "error"
		if errors.Is(err, context.Canceled) {
			status = "aborted"
		}
		h.metrics.Requests.Add(ctx, 1, metric.WithAttributes(
			attribute.String("transport", "ws"),
			attribute.String("status", status),
		))
		if status == "aborted" {
			return
		}
		h.logger.Warn("session failed",
			slog.String("voice", req.Voice.Name),
			slog.String("error", err.Error()))
		if werr := state.write(ctx, Event{Type: EventError, Message: err.Error()}); werr != nil {
			h.logger.Warn("failed to send error event", slog.String("error", werr.Error()))
		}
		return
	}

	h.metrics.Requests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("transport", "ws"),
		attribute.String("status", "ok"),
	))
	h.metrics.SynthDuration.Record(ctx, metrics.TotalTime)
	h.metrics.FirstChunkLatency.Record(ctx, metrics.FirstChunkLatency)
	h.metrics.RTF.Record(ctx, metrics.RTF)

	if err := state.write(ctx, Event{Type: EventDone, Metrics: &metrics}); err != nil {
		h.logger.Warn("failed to send done event", slog.String("error", err.Error()))
	}
}
