// voxctl is the command-line client for a voxd server: it speaks text over
// the streaming channel, keeps a local conversation history with the
// assembled audio, and replays stored turns without re-issuing requests.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/voxkit-labs/voxkit/internal/client"
	"github.com/voxkit-labs/voxkit/internal/config"
	"github.com/voxkit-labs/voxkit/internal/history"
	"github.com/voxkit-labs/voxkit/internal/playback"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "say":
		err = runSay(os.Args[2:])
	case "history":
		err = runHistory(os.Args[2:])
	case "replay":
		err = runReplay(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: voxctl <command> [flags]

commands:
  say      stream text-to-speech and save the result
  history  list stored conversation turns
  replay   write the stored audio of a message to a file`)
}

type commonFlags struct {
	url        string
	apiKey     string
	histPath   string
	sampleRate int
}

func addCommonFlags(fs *flag.FlagSet) *commonFlags {
	c := &commonFlags{}
	fs.StringVar(&c.url, "url", "ws://127.0.0.1:8000/ws/stream", "Stream endpoint")
	fs.StringVar(&c.apiKey, "api-key", os.Getenv("VOX_HTTP_API_KEY"), "API key")
	fs.StringVar(&c.histPath, "history", defaultHistoryPath(), "History database path")
	fs.IntVar(&c.sampleRate, "sample-rate", 24000, "Stream sample rate")
	return c
}

func defaultHistoryPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./voxctl-history.db"
	}
	return filepath.Join(home, ".voxctl", "history.db")
}

func newStore(ctx context.Context, path string, logger *slog.Logger) (*history.Store, error) {
	return history.Open(ctx, config.HistoryConfig{Path: path}, logger)
}

func runSay(args []string) error {
	fs := flag.NewFlagSet("say", flag.ExitOnError)
	common := addCommonFlags(fs)
	text := fs.String("text", "", "Text to speak")
	voiceName := fs.String("voice", "alba", "Voice name")
	maxTokens := fs.Int("max-tokens", 0, "Generation chunk bound (0 = server default)")
	out := fs.String("out", "", "Also write the WAV to this path")
	fs.Parse(args)

	if *text == "" {
		return fmt.Errorf("-text is required")
	}

	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	store, err := newStore(ctx, common.histPath, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	c := client.New(client.Config{
		URL:        common.url,
		APIKey:     common.apiKey,
		SampleRate: common.sampleRate,
	}, store, playback.NewWallClockSink(), logger)
	defer c.Close()

	res, err := c.Say(ctx, *text, *voiceName, *maxTokens)
	if err != nil {
		return err
	}

	fmt.Printf("frames: %d\n", res.Frames)
	fmt.Printf("first chunk latency: %.3fs\n", res.Metrics.FirstChunkLatency)
	fmt.Printf("audio duration: %.2fs\n", res.Metrics.AudioDuration)
	fmt.Printf("rtf: %.2f\n", res.Metrics.RTF)
	fmt.Printf("message id: %s\n", res.AssistantMessageID)

	if *out != "" {
		if err := os.WriteFile(*out, res.WAV, 0o644); err != nil {
			return fmt.Errorf("write wav: %w", err)
		}
		fmt.Printf("wrote %s (%d bytes)\n", *out, len(res.WAV))
	}
	return nil
}

func runHistory(args []string) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	common := addCommonFlags(fs)
	fs.Parse(args)

	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	store, err := newStore(ctx, common.histPath, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	msgs, err := store.GetHistory(ctx)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		audio := "-"
		if m.AudioID != "" {
			audio = "audio"
		}
		fmt.Printf("%s  %s  %-9s  %-5s  %s\n",
			m.Timestamp.Local().Format("2006-01-02 15:04:05"), m.ID, m.Role, audio, m.Text)
	}
	return nil
}

func runReplay(args []string) error {
	fs := flag.NewFlagSet("replay", flag.ExitOnError)
	common := addCommonFlags(fs)
	id := fs.String("id", "", "Message id to replay")
	out := fs.String("out", "replay.wav", "Output WAV path")
	fs.Parse(args)

	if *id == "" {
		return fmt.Errorf("-id is required")
	}

	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	store, err := newStore(ctx, common.histPath, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	c := client.New(client.Config{SampleRate: common.sampleRate}, store, playback.NewWallClockSink(), logger)
	wavBytes, err := c.Replay(ctx, *id)
	if err != nil {
		return err
	}
	if err := os.WriteFile(*out, wavBytes, 0o644); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	fmt.Printf("wrote %s (%d bytes)\n", *out, len(wavBytes))
	return nil
}
