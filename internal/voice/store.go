// Package voice manages the catalog of named voice profiles: the premade
// set seeded from configuration plus user-uploaded samples kept under the
// upload directory. Profiles are immutable once registered and are never
// deleted while the process runs.
package voice

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	gowav "github.com/go-audio/wav"

	"github.com/voxkit-labs/voxkit/internal/config"
)

// Kind distinguishes how a voice profile was created.
type Kind string

const (
	KindPremade  Kind = "premade"
	KindUploaded Kind = "uploaded"
)

// Voice is one named profile. Embedding is an opaque reference to the
// conditioning data the synthesizer resolves at generation time: empty for
// premade voices (baked into the model), a sample path for uploads.
type Voice struct {
	Name      string
	Kind      Kind
	Embedding string
}

var allowedExtensions = map[string]bool{
	".wav":  true,
	".mp3":  true,
	".flac": true,
	".ogg":  true,
}

// Store holds the voice catalog. Reads take the shared lock; a new voice
// becomes visible only after it is fully constructed and its sample is on
// disk.
type Store struct {
	cfg    config.VoicesConfig
	logger *slog.Logger

	mu     sync.RWMutex
	voices map[string]Voice
}

// NewStore seeds the premade catalog and re-registers any samples already
// present in the upload directory from previous runs.
func NewStore(cfg config.VoicesConfig, log *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}

	s := &Store{
		cfg:    cfg,
		logger: log.With(slog.String("component", "voice-store")),
		voices: make(map[string]Voice),
	}
	for _, name := range cfg.Premade {
		s.voices[name] = Voice{Name: name, Kind: KindPremade}
	}
	if err := s.scanUploads(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) scanUploads() error {
	entries, err := os.ReadDir(s.cfg.UploadDir)
	if err != nil {
		return fmt.Errorf("read upload dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if !allowedExtensions[ext] {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		if _, exists := s.voices[name]; exists {
			continue
		}
		s.voices[name] = Voice{
			Name:      name,
			Kind:      KindUploaded,
			Embedding: filepath.Join(s.cfg.UploadDir, entry.Name()),
		}
		s.logger.Info("restored uploaded voice", slog.String("voice", name))
	}
	return nil
}

// Lookup returns the voice registered under name.
func (s *Store) Lookup(name string) (Voice, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.voices[name]
	return v, ok
}

// List returns all voices, premade first, each group sorted by name.
func (s *Store) List() []Voice {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var premade, uploaded []Voice
	for _, v := range s.voices {
		if v.Kind == KindPremade {
			premade = append(premade, v)
		} else {
			uploaded = append(uploaded, v)
		}
	}
	sort.Slice(premade, func(i, j int) bool { return premade[i].Name < premade[j].Name })
	sort.Slice(uploaded, func(i, j int) bool { return uploaded[i].Name < uploaded[j].Name })
	return append(premade, uploaded...)
}

// Add registers a new uploaded voice from an audio sample. The sample is
// written to the upload directory before the voice is published to
// readers, so a concurrent Lookup either misses entirely or sees the fully
// constructed profile.
func (s *Store) Add(filename string, sample []byte) (Voice, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if !allowedExtensions[ext] {
		return Voice{}, fmt.Errorf("%w: file type %q not allowed", ErrInvalidSample, ext)
	}
	name := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	if name == "" {
		return Voice{}, fmt.Errorf("%w: empty voice name", ErrInvalidSample)
	}
	if int64(len(sample)) > s.cfg.MaxUpload {
		return Voice{}, fmt.Errorf("%w: sample exceeds %d bytes", ErrInvalidSample, s.cfg.MaxUpload)
	}
	if ext == ".wav" {
		if err := validateWAV(sample); err != nil {
			return Voice{}, fmt.Errorf("%w: %v", ErrInvalidSample, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.voices[name]; ok {
		return Voice{}, fmt.Errorf("%w: %q is already a %s voice", ErrVoiceExists, name, existing.Kind)
	}

	path := filepath.Join(s.cfg.UploadDir, filepath.Base(filename))
	if err := os.WriteFile(path, sample, 0o644); err != nil {
		return Voice{}, fmt.Errorf("write voice sample: %w", err)
	}

	v := Voice{Name: name, Kind: KindUploaded, Embedding: path}
	s.voices[name] = v
	s.logger.Info("registered uploaded voice", slog.String("voice", name), slog.Int("bytes", len(sample)))
	return v, nil
}

// validateWAV rejects samples that do not parse as PCM WAV before they are
// admitted into the catalog.
func validateWAV(sample []byte) error {
	dec := gowav.NewDecoder(bytes.NewReader(sample))
	dec.ReadInfo()
	if err := dec.Err(); err != nil {
		return fmt.Errorf("decode wav: %w", err)
	}
	if !dec.IsValidFile() {
		return fmt.Errorf("not a valid wav file")
	}
	if dec.SampleRate == 0 || dec.NumChans == 0 {
		return fmt.Errorf("wav header missing format information")
	}
	return nil
}
