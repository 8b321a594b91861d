// Package client implements the Go client for the streaming pipeline: it
// holds a persistent WebSocket to /ws/stream, feeds received frames into
// the playback scheduler, and records each exchange in the local history
// store.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/voxkit-labs/voxkit/internal/history"
	"github.com/voxkit-labs/voxkit/internal/playback"
	"github.com/voxkit-labs/voxkit/internal/stream"
	"github.com/voxkit-labs/voxkit/internal/synth"
)

// Config holds client connection settings.
type Config struct {
	// URL is the ws:// or wss:// endpoint of /ws/stream.
	URL string
	// APIKey, when set, is sent as a Bearer token on the upgrade request.
	APIKey string
	// SampleRate of the stream's PCM frames.
	SampleRate int
}

// Result summarizes one completed exchange.
type Result struct {
	UserMessageID      string
	AssistantMessageID string
	AudioID            string
	Metrics            synth.Metrics
	WAV                []byte
	Frames             int
}

// Client drives one conversation over the stream. Not safe for concurrent
// Say calls: the server serves one session per connection at a time.
type Client struct {
	cfg    Config
	store  *history.Store
	sink   playback.Sink
	logger *slog.Logger
	conn   *websocket.Conn
}

func New(cfg Config, store *history.Store, sink playback.Sink, log *slog.Logger) *Client {
	return &Client{
		cfg:    cfg,
		store:  store,
		sink:   sink,
		logger: log.With(slog.String("component", "client")),
	}
}

// ensureConn returns the live connection, dialing with exponential backoff
// after a drop. History is never replayed on reconnect; the channel comes
// back in the Idle state.
func (c *Client) ensureConn(ctx context.Context) (*websocket.Conn, error) {
	if c.conn != nil {
		return c.conn, nil
	}

	opts := &websocket.DialOptions{}
	if c.cfg.APIKey != "" {
		opts.HTTPHeader = http.Header{"Authorization": {"Bearer " + c.cfg.APIKey}}
	}

	conn, err := backoff.Retry(ctx, func() (*websocket.Conn, error) {
		conn, _, err := websocket.Dial(ctx, c.cfg.URL, opts)
		if err != nil {
			c.logger.Warn("dial failed, retrying", slog.String("error", err.Error()))
			return nil, err
		}
		return conn, nil
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(30*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", c.cfg.URL, err)
	}
	c.conn = conn
	return conn, nil
}

func (c *Client) dropConn() {
	if c.conn != nil {
		c.conn.CloseNow()
		c.conn = nil
	}
}

// Close shuts the underlying connection down cleanly.
func (c *Client) Close() {
	if c.conn != nil {
		c.conn.Close(websocket.StatusNormalClosure, "")
		c.conn = nil
	}
}

// Say sends one request over the channel, plays frames as they arrive,
// and persists the exchange: a user message immediately, an assistant
// placeholder before audio exists, and the assembled WAV plus metrics
// once the stream completes. Storage failures degrade to "no replay for
// this entry" and never interrupt live playback.
func (c *Client) Say(ctx context.Context, text, voiceName string, maxTokens int) (*Result, error) {
	conn, err := c.ensureConn(ctx)
	if err != nil {
		return nil, err
	}

	res := &Result{
		UserMessageID:      uuid.NewString(),
		AssistantMessageID: uuid.NewString(),
	}
	c.saveMessage(ctx, history.Message{
		ID:   res.UserMessageID,
		Role: history.RoleUser,
		Text: text,
	})
	// Placeholder, updated in place once audio and metrics are known.
	c.saveMessage(ctx, history.Message{
		ID:   res.AssistantMessageID,
		Role: history.RoleAssistant,
		Text: text,
	})

	if err := wsjson.Write(ctx, conn, stream.Request{Text: text, Voice: voiceName, MaxTokens: maxTokens}); err != nil {
		c.dropConn()
		return nil, fmt.Errorf("send request: %w", err)
	}

	scheduler := playback.NewScheduler(c.sink, c.cfg.SampleRate, c.logger)
	for {
		var evt stream.Event
		if err := wsjson.Read(ctx, conn, &evt); err != nil {
			c.dropConn()
			return nil, fmt.Errorf("read stream: %w", err)
		}

		switch evt.Type {
		case stream.EventAudio:
			scheduler.Enqueue(evt.Data)

		case stream.EventError:
			// Frames already received stay valid; keep the partial audio
			// replayable if any arrived.
			res.Frames = scheduler.FrameCount()
			if res.Frames > 0 {
				c.storeAudio(ctx, res, text, scheduler.Finalize(), nil)
			}
			return res, fmt.Errorf("server error: %s", evt.Message)

		case stream.EventDone:
			res.Frames = scheduler.FrameCount()
			if evt.Metrics != nil {
				res.Metrics = *evt.Metrics
			}
			res.WAV = scheduler.Finalize()
			c.storeAudio(ctx, res, text, res.WAV, evt.Metrics)
			return res, nil

		default:
			c.logger.Warn("unknown event type", slog.String("type", evt.Type))
		}
	}
}

// History returns all stored messages in timestamp order.
func (c *Client) History(ctx context.Context) ([]history.Message, error) {
	return c.store.GetHistory(ctx)
}

// Replay fetches the stored audio for a message, or ErrAudioNotFound when
// no replay is available.
func (c *Client) Replay(ctx context.Context, messageID string) ([]byte, error) {
	msgs, err := c.store.GetHistory(ctx)
	if err != nil {
		return nil, err
	}
	for _, m := range msgs {
		if m.ID == messageID {
			if m.AudioID == "" {
				return nil, history.ErrAudioNotFound
			}
			return c.store.GetAudio(ctx, m.AudioID)
		}
	}
	return nil, history.ErrAudioNotFound
}

func (c *Client) saveMessage(ctx context.Context, msg history.Message) {
	if c.store == nil {
		return
	}
	if err := c.store.SaveMessage(ctx, msg); err != nil {
		c.logger.Warn("failed to save message", slog.String("id", msg.ID), slog.String("error", err.Error()))
	}
}

func (c *Client) storeAudio(ctx context.Context, res *Result, text string, wavBytes []byte, metrics *synth.Metrics) {
	if c.store == nil {
		return
	}
	audioID := uuid.NewString()
	if err := c.store.SaveAudio(ctx, audioID, wavBytes); err != nil {
		c.logger.Warn("failed to save audio", slog.String("error", err.Error()))
		return
	}
	res.AudioID = audioID

	msg := history.Message{
		ID:      res.AssistantMessageID,
		Role:    history.RoleAssistant,
		Text:    text,
		AudioID: audioID,
	}
	if metrics != nil {
		msg.Metrics = &history.Metrics{
			FirstChunkLatency: metrics.FirstChunkLatency,
			RTF:               metrics.RTF,
		}
	}
	if err := c.store.SaveMessage(ctx, msg); err != nil {
		c.logger.Warn("failed to update assistant message", slog.String("error", err.Error()))
	}
}
