package stream

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/voxkit-labs/voxkit/internal/config"
	"github.com/voxkit-labs/voxkit/internal/observe"
	"github.com/voxkit-labs/voxkit/internal/synth"
	"github.com/voxkit-labs/voxkit/internal/voice"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestHandler(t *testing.T, s synth.Synthesizer) *Handler {
	t.Helper()
	cfg := config.Default()
	cfg.Voices.UploadDir = t.TempDir()
	voices, err := voice.NewStore(cfg.Voices, newLogger())
	if err != nil {
		t.Fatalf("voice store: %v", err)
	}
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	if s == nil {
		s = synth.NewMockSynth(cfg.Synth.SampleRate, cfg.Synth.ChunkDurationMS)
	}
	return NewHandler(voices, s, cfg.Synth.SampleRate, cfg.Stream.MaxTextLength, m, newLogger())
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("websocket dial: %v", err)
	}
	t.Cleanup(func() { ws.CloseNow() })
	return ws
}

func TestStreamHelloWorld(t *testing.T) {
	srv := httptest.NewServer(newTestHandler(t, nil))
	defer srv.Close()
	ws := dial(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := wsjson.Write(ctx, ws, Request{Text: "Hello world", Voice: "alba"}); err != nil {
		t.Fatalf("write request: %v", err)
	}

	var frames int
	for {
		var evt Event
		if err := wsjson.Read(ctx, ws, &evt); err != nil {
			t.Fatalf("read event after %d frames: %v", frames, err)
		}
		switch evt.Type {
		case EventAudio:
			if len(evt.Data) == 0 {
				t.Fatal("audio event with empty payload")
			}
			if evt.SampleRate != 24000 {
				t.Fatalf("unexpected sample rate %d", evt.SampleRate)
			}
			frames++
		case EventDone:
			if frames == 0 {
				t.Fatal("done before any audio frames")
			}
			if evt.Metrics == nil {
				t.Fatal("done event missing metrics")
			}
			if evt.Metrics.FirstChunkLatency <= 0 {
				t.Fatalf("first chunk latency not positive: %v", evt.Metrics.FirstChunkLatency)
			}
			if evt.Metrics.RTF <= 0 {
				t.Fatalf("rtf not positive: %v", evt.Metrics.RTF)
			}
			if evt.Metrics.Samples <= 0 {
				t.Fatalf("samples not positive: %d", evt.Metrics.Samples)
			}
			return
		case EventError:
			t.Fatalf("unexpected error event: %s", evt.Message)
		}
	}
}

func TestStreamUnknownVoice(t *testing.T) {
	srv := httptest.NewServer(newTestHandler(t, nil))
	defer srv.Close()
	ws := dial(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := wsjson.Write(ctx, ws, Request{Text: "hi", Voice: "nobody"}); err != nil {
		t.Fatalf("write request: %v", err)
	}
	var evt Event
	if err := wsjson.Read(ctx, ws, &evt); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if evt.Type != EventError {
		t.Fatalf("expected error event, got %q", evt.Type)
	}
	if !strings.Contains(evt.Message, "unknown voice") {
		t.Fatalf("unexpected message: %s", evt.Message)
	}
}

func TestStreamEmptyText(t *testing.T) {
	srv := httptest.NewServer(newTestHandler(t, nil))
	defer srv.Close()
	ws := dial(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := wsjson.Write(ctx, ws, Request{Text: "   ", Voice: "alba"}); err != nil {
		t.Fatalf("write request: %v", err)
	}
	var evt Event
	if err := wsjson.Read(ctx, ws, &evt); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if evt.Type != EventError {
		t.Fatalf("expected error event, got %q", evt.Type)
	}
}

// slowSynth blocks until released so a second request can arrive while the
// first is still generating.
type slowSynth struct {
	sampleRate int
	release    chan struct{}
}

func (s *slowSynth) Synthesize(ctx context.Context, req synth.Request) (<-chan synth.Chunk, <-chan error) {
	chunks := make(chan synth.Chunk)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		select {
		case <-s.release:
		case <-ctx.Done():
			errs <- ctx.Err()
			return
		}
		pcm := make([]byte, 4800*2)
		select {
		case chunks <- synth.Chunk{Sequence: 0, SampleRate: s.sampleRate, PCM: pcm, Final: true}:
		case <-ctx.Done():
			errs <- ctx.Err()
		}
	}()
	return chunks, errs
}

func TestStreamRejectsConcurrentRequest(t *testing.T) {
	slow := &slowSynth{sampleRate: 24000, release: make(chan struct{})}
	srv := httptest.NewServer(newTestHandler(t, slow))
	defer srv.Close()
	ws := dial(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := wsjson.Write(ctx, ws, Request{Text: "first", Voice: "alba"}); err != nil {
		t.Fatalf("write first request: %v", err)
	}
	// Give the first request time to reach the generating state.
	time.Sleep(50 * time.Millisecond)
	if err := wsjson.Write(ctx, ws, Request{Text: "second", Voice: "alba"}); err != nil {
		t.Fatalf("write second request: %v", err)
	}

	var evt Event
	if err := wsjson.Read(ctx, ws, &evt); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if evt.Type != EventError || !strings.Contains(evt.Message, "in progress") {
		t.Fatalf("expected busy rejection, got %q %q", evt.Type, evt.Message)
	}

	// The first session completes normally after release.
	close(slow.release)
	var sawAudio, sawDone bool
	for !sawDone {
		if err := wsjson.Read(ctx, ws, &evt); err != nil {
			t.Fatalf("read event: %v", err)
		}
		switch evt.Type {
		case EventAudio:
			sawAudio = true
		case EventDone:
			sawDone = true
		case EventError:
			t.Fatalf("unexpected error event: %s", evt.Message)
		}
	}
	if !sawAudio {
		t.Fatal("first session produced no audio")
	}
}
