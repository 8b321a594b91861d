// Package history persists conversation turns and their assembled audio
// on the client side: two keyed record stores (messages and audio) with no
// cross-store transaction. A message whose audio was never stored simply
// has no replay available; that is an expected state, not corruption.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/voxkit-labs/voxkit/internal/config"
	_ "modernc.org/sqlite"
)

// Role identifies who produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Metrics carries the stream metrics attached to a completed assistant
// message.
type Metrics struct {
	FirstChunkLatency float64
	RTF               float64
}

// Message is one conversation turn. AudioID, when set, references a record
// in the audio store holding the assembled WAV.
type Message struct {
	ID        string
	Role      Role
	Text      string
	Timestamp time.Time
	AudioID   string
	Metrics   *Metrics
}

// ErrAudioNotFound is returned by GetAudio for unknown or missing ids.
var ErrAudioNotFound = errors.New("audio not found")

// timestampLayout is fixed-width so stored strings sort byte-wise in
// timestamp order. RFC3339Nano would trim trailing fractional zeros and
// break ORDER BY for sub-second-apart messages.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store wraps the SQLite-backed history database. Open completes schema
// initialization before returning, so a returned Store is ready for use;
// each method runs as its own implicit transaction and is safe for
// concurrent callers.
type Store struct {
	db    *sql.DB
	log   *slog.Logger
	clock func() time.Time
}

func Open(ctx context.Context, cfg config.HistoryConfig, log *slog.Logger) (*Store, error) {
	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, log: log.With(slog.String("component", "history")), clock: time.Now}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS messages (
    id TEXT PRIMARY KEY,
    role TEXT NOT NULL,
    text TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    audio_id TEXT,
    first_chunk_latency REAL,
    rtf REAL
);
CREATE INDEX IF NOT EXISTS idx_messages_created ON messages(created_at);
CREATE TABLE IF NOT EXISTS audio (
    id TEXT PRIMARY KEY,
    wav BLOB NOT NULL,
    created_at TIMESTAMP NOT NULL
);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveMessage upserts a message by id; last write wins, so saving the same
// id twice with the same content is equivalent to saving it once.
func (s *Store) SaveMessage(ctx context.Context, msg Message) error {
	if msg.ID == "" {
		return errors.New("message id must not be empty")
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = s.clock().UTC()
	}

	var firstChunk, rtf sql.NullFloat64
	if msg.Metrics != nil {
		firstChunk = sql.NullFloat64{Float64: msg.Metrics.FirstChunkLatency, Valid: true}
		rtf = sql.NullFloat64{Float64: msg.Metrics.RTF, Valid: true}
	}
	var audioID sql.NullString
	if msg.AudioID != "" {
		audioID = sql.NullString{String: msg.AudioID, Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages(id, role, text, created_at, audio_id, first_chunk_latency, rtf)
		 VALUES(?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		     role=excluded.role, text=excluded.text, created_at=excluded.created_at,
		     audio_id=excluded.audio_id,
		     first_chunk_latency=excluded.first_chunk_latency, rtf=excluded.rtf`,
		msg.ID, string(msg.Role), msg.Text, msg.Timestamp.UTC().Format(timestampLayout),
		audioID, firstChunk, rtf)
	return err
}

// GetHistory returns all messages ordered by timestamp ascending.
func (s *Store) GetHistory(ctx context.Context) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, text, created_at, audio_id, first_chunk_latency, rtf
		 FROM messages ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var (
			m          Message
			role       string
			created    string
			audioID    sql.NullString
			firstChunk sql.NullFloat64
			rtf        sql.NullFloat64
		)
		if err := rows.Scan(&m.ID, &role, &m.Text, &created, &audioID, &firstChunk, &rtf); err != nil {
			return nil, err
		}
		m.Role = Role(role)
		if ts, err := time.Parse(timestampLayout, created); err == nil {
			m.Timestamp = ts
		}
		if audioID.Valid {
			m.AudioID = audioID.String
		}
		if firstChunk.Valid || rtf.Valid {
			m.Metrics = &Metrics{FirstChunkLatency: firstChunk.Float64, RTF: rtf.Float64}
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// SaveAudio stores assembled WAV bytes under id. Written once at stream
// completion; an existing record is replaced wholesale.
func (s *Store) SaveAudio(ctx context.Context, id string, wavBytes []byte) error {
	if id == "" {
		return errors.New("audio id must not be empty")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audio(id, wav, created_at) VALUES(?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET wav=excluded.wav, created_at=excluded.created_at`,
		id, wavBytes, s.clock().UTC().Format(time.RFC3339Nano))
	return err
}

// GetAudio retrieves stored audio by id.
func (s *Store) GetAudio(ctx context.Context, id string) ([]byte, error) {
	var wavBytes []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT wav FROM audio WHERE id = ?`, id).Scan(&wavBytes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAudioNotFound
	}
	if err != nil {
		return nil, err
	}
	return wavBytes, nil
}
