// Package server exposes the HTTP surface: synchronous generation, voice
// management, health, the OpenAI-compatible speech endpoint, and the
// /ws/stream upgrade.
package server

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/voxkit-labs/voxkit/internal/config"
	"github.com/voxkit-labs/voxkit/internal/observe"
	"github.com/voxkit-labs/voxkit/internal/stream"
	"github.com/voxkit-labs/voxkit/internal/synth"
	"github.com/voxkit-labs/voxkit/internal/voice"
)

// Server owns the HTTP handlers and their shared dependencies.
type Server struct {
	cfg         config.Config
	voices      *voice.Store
	synthesizer synth.Synthesizer
	metrics     *observe.Metrics
	logger      *slog.Logger

	// Bounds concurrent synchronous generations; small models thrash the
	// CPU when too many run at once.
	admission chan struct{}
}

func New(cfg config.Config, voices *voice.Store, s synth.Synthesizer, m *observe.Metrics, log *slog.Logger) *Server {
	return &Server{
		cfg:         cfg,
		voices:      voices,
		synthesizer: s,
		metrics:     m,
		logger:      log.With(slog.String("component", "http")),
		admission:   make(chan struct{}, cfg.Synth.MaxConcurrent),
	}
}

// Router assembles the chi route tree with the middleware chain.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(s.corsMiddleware)
	r.Use(s.apiKeyMiddleware)

	r.Get("/api/health", s.handleHealth)
	r.Get("/api/voices", s.handleVoices)
	r.Post("/api/generate", s.handleGenerate)
	r.Post("/api/upload-voice", s.handleUploadVoice)
	r.Post("/v1/audio/speech", s.handleSpeech)

	streamHandler := stream.NewHandler(
		s.voices, s.synthesizer,
		s.cfg.Synth.SampleRate, s.cfg.Stream.MaxTextLength,
		s.metrics, s.logger,
	)
	r.Get("/ws/stream", streamHandler.ServeHTTP)

	return r
}

// corsMiddleware applies the configured allowed origins. Kept local: the
// policy is two headers and a preflight short-circuit.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-API-Key")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	for _, allowed := range s.cfg.HTTP.CORSOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// apiKeyMiddleware enforces the configured key on every route except the
// health probe. Accepts X-API-Key or a Bearer token.
func (s *Server) apiKeyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := s.cfg.HTTP.APIKey
		if key == "" || r.URL.Path == "/api/health" {
			next.ServeHTTP(w, r)
			return
		}
		provided := r.Header.Get("X-API-Key")
		if provided == "" {
			if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
				provided = strings.TrimPrefix(auth, "Bearer ")
			}
		}
		if provided != key {
			writeJSONError(w, http.StatusUnauthorized, "invalid or missing API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}
