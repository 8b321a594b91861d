package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/voxkit-labs/voxkit/internal/synth"
	"github.com/voxkit-labs/voxkit/internal/voice"
	"github.com/voxkit-labs/voxkit/internal/wav"
)

type voiceInfo struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "healthy",
		"model_loaded": s.synthesizer != nil,
		"sample_rate":  s.cfg.Synth.SampleRate,
	})
}

func (s *Server) handleVoices(w http.ResponseWriter, _ *http.Request) {
	voices := s.voices.List()
	infos := make([]voiceInfo, 0, len(voices))
	for _, v := range voices {
		infos = append(infos, voiceInfo{Name: v.Name, Type: string(v.Kind)})
	}
	writeJSON(w, http.StatusOK, map[string]any{"voices": infos})
}

// handleGenerate is the synchronous path: the whole session is buffered
// server-side and returned as one WAV. Higher latency than the stream,
// offered for simple clients.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	req, err := s.buildRequest(r.FormValue("text"), r.FormValue("voice"), r.FormValue("max_tokens"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	metrics, pcm, err := s.generateBuffered(r, req)
	if err != nil {
		s.logger.Error("generation failed", slog.String("error", err.Error()))
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("X-Generation-Time", strconv.FormatFloat(metrics.TotalTime, 'f', -1, 64))
	w.Header().Set("X-Audio-Duration", strconv.FormatFloat(metrics.AudioDuration, 'f', -1, 64))
	w.Header().Set("X-RTF", strconv.FormatFloat(metrics.RTF, 'f', -1, 64))
	w.Header().Set("Content-Disposition", `attachment; filename="tts_output.wav"`)
	_, _ = w.Write(wav.Encode(pcm, s.cfg.Synth.SampleRate))
}

type speechRequest struct {
	Model     string `json:"model"`
	Input     string `json:"input"`
	Voice     string `json:"voice"`
	Stream    bool   `json:"stream"`
	MaxTokens int    `json:"max_tokens,omitempty"`
}

// handleSpeech is the OpenAI-compatible speech endpoint. Non-streaming
// responses are buffered WAV; streaming responses are chunked raw PCM.
func (s *Server) handleSpeech(w http.ResponseWriter, r *http.Request) {
	var sr speechRequest
	if err := json.NewDecoder(r.Body).Decode(&sr); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if sr.Voice == "" {
		sr.Voice = "alba"
	}
	req, err := s.buildRequest(sr.Input, sr.Voice, "")
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if sr.MaxTokens > 0 {
		req.MaxTokens = sr.MaxTokens
	}

	if !sr.Stream {
		_, pcm, err := s.generateBuffered(r, req)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.Header().Set("Content-Type", "audio/wav")
		w.Header().Set("Content-Disposition", `attachment; filename="speech.wav"`)
		_, _ = w.Write(wav.Encode(pcm, s.cfg.Synth.SampleRate))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)

	session := synth.NewSession(s.synthesizer, s.cfg.Synth.SampleRate, req)
	_, err = session.Run(r.Context(), func(chunk synth.Chunk) error {
		if _, werr := w.Write(chunk.PCM); werr != nil {
			return werr
		}
		flusher.Flush()
		return nil
	})
	if err != nil {
		// Headers are already out; all we can do is stop the body.
		s.logger.Warn("streaming speech aborted", slog.String("error", err.Error()))
	}
}

func (s *Server) handleUploadVoice(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(s.cfg.Voices.MaxUpload); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	sample, err := io.ReadAll(io.LimitReader(file, s.cfg.Voices.MaxUpload+1))
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to read upload")
		return
	}

	v, err := s.voices.Add(header.Filename, sample)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, voice.ErrInvalidSample) || errors.Is(err, voice.ErrVoiceExists) {
			status = http.StatusBadRequest
		}
		writeJSONError(w, status, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"filename":   header.Filename,
		"voice_name": v.Name,
		"path":       v.Embedding,
	})
}

// buildRequest validates the request fields and resolves the voice. All
// rejections happen here, before any session starts.
func (s *Server) buildRequest(text, voiceName, maxTokens string) (synth.Request, error) {
	if err := synth.ValidateText(text, s.cfg.Stream.MaxTextLength); err != nil {
		return synth.Request{}, err
	}
	if voiceName == "" {
		return synth.Request{}, &synth.ValidationError{Reason: "voice is required"}
	}
	v, ok := s.voices.Lookup(voiceName)
	if !ok {
		return synth.Request{}, &synth.ValidationError{Reason: "unknown voice: " + voiceName}
	}
	req := synth.Request{Text: text, Voice: v, MaxTokens: s.cfg.Synth.MaxTokens}
	if maxTokens != "" {
		n, err := strconv.Atoi(maxTokens)
		if err != nil || n <= 0 {
			return synth.Request{}, &synth.ValidationError{Reason: "max_tokens must be a positive integer"}
		}
		req.MaxTokens = n
	}
	return req, nil
}

// generateBuffered runs one session to completion under admission control
// and returns the concatenated PCM.
func (s *Server) generateBuffered(r *http.Request, req synth.Request) (synth.Metrics, []byte, error) {
	select {
	case s.admission <- struct{}{}:
		defer func() { <-s.admission }()
	case <-r.Context().Done():
		return synth.Metrics{}, nil, r.Context().Err()
	}

	var buf bytes.Buffer
	session := synth.NewSession(s.synthesizer, s.cfg.Synth.SampleRate, req)
	metrics, err := session.Run(r.Context(), func(chunk synth.Chunk) error {
		_, werr := buf.Write(chunk.PCM)
		return werr
	})
	if err != nil {
		s.metrics.Requests.Add(r.Context(), 1, metric.WithAttributes(
			attribute.String("transport", "http"),
			attribute.String("status", "error"),
		))
		return synth.Metrics{}, nil, err
	}

	s.metrics.Requests.Add(r.Context(), 1, metric.WithAttributes(
		attribute.String("transport", "http"),
		attribute.String("status", "ok"),
	))
	s.metrics.SynthDuration.Record(r.Context(), metrics.TotalTime)
	s.metrics.FirstChunkLatency.Record(r.Context(), metrics.FirstChunkLatency)
	s.metrics.RTF.Record(r.Context(), metrics.RTF)
	return metrics, buf.Bytes(), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"detail": msg})
}
