package server

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/voxkit-labs/voxkit/internal/config"
	"github.com/voxkit-labs/voxkit/internal/observe"
	"github.com/voxkit-labs/voxkit/internal/synth"
	"github.com/voxkit-labs/voxkit/internal/voice"
	"github.com/voxkit-labs/voxkit/internal/wav"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestMetrics() (*observe.Metrics, error) {
	return observe.NewMetrics(noop.NewMeterProvider())
}

func newTestServer(t *testing.T, mutate func(*config.Config)) *httptest.Server {
	t.Helper()
	cfg := config.Default()
	cfg.Voices.UploadDir = t.TempDir()
	if mutate != nil {
		mutate(&cfg)
	}
	voices, err := voice.NewStore(cfg.Voices, newLogger())
	if err != nil {
		t.Fatalf("voice store: %v", err)
	}
	m, err := newTestMetrics()
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	s := synth.NewMockSynth(cfg.Synth.SampleRate, cfg.Synth.ChunkDurationMS)
	srv := httptest.NewServer(New(cfg, voices, s, m, newLogger()).Router())
	t.Cleanup(srv.Close)
	return srv
}

func decodeJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, nil)
	resp, err := http.Get(srv.URL + "/api/health")
	if err != nil {
		t.Fatalf("get health: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	var body struct {
		Status      string `json:"status"`
		ModelLoaded bool   `json:"model_loaded"`
		SampleRate  int    `json:"sample_rate"`
	}
	decodeJSON(t, resp, &body)
	if body.Status != "healthy" || !body.ModelLoaded || body.SampleRate != 24000 {
		t.Fatalf("unexpected health body: %+v", body)
	}
}

func TestVoicesListsPremade(t *testing.T) {
	srv := newTestServer(t, nil)
	resp, err := http.Get(srv.URL + "/api/voices")
	if err != nil {
		t.Fatalf("get voices: %v", err)
	}
	var body struct {
		Voices []struct {
			Name string `json:"name"`
			Type string `json:"type"`
		} `json:"voices"`
	}
	decodeJSON(t, resp, &body)
	if len(body.Voices) != 8 {
		t.Fatalf("expected 8 premade voices, got %d", len(body.Voices))
	}
	names := make(map[string]string, len(body.Voices))
	for _, v := range body.Voices {
		names[v.Name] = v.Type
	}
	if names["alba"] != "premade" || names["fantine"] != "premade" {
		t.Fatalf("premade voices missing: %v", names)
	}
}

func TestGenerateReturnsWAV(t *testing.T) {
	srv := newTestServer(t, nil)
	resp, err := http.PostForm(srv.URL+"/api/generate", url.Values{
		"text":  {"Hello world"},
		"voice": {"alba"},
	})
	if err != nil {
		t.Fatalf("post generate: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "audio/wav" {
		t.Fatalf("content type %q", ct)
	}
	for _, h := range []string{"X-Generation-Time", "X-Audio-Duration", "X-RTF"} {
		if resp.Header.Get(h) == "" {
			t.Fatalf("missing header %s", h)
		}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	info, err := wav.Parse(data)
	if err != nil {
		t.Fatalf("response is not valid WAV: %v", err)
	}
	if info.SampleRate != 24000 {
		t.Fatalf("sample rate %d", info.SampleRate)
	}
	if info.DataLen == 0 {
		t.Fatal("empty audio payload")
	}
}

func TestGenerateRejections(t *testing.T) {
	srv := newTestServer(t, nil)
	cases := []struct {
		name string
		form url.Values
	}{
		{"empty text", url.Values{"text": {"  "}, "voice": {"alba"}}},
		{"missing voice", url.Values{"text": {"hi"}}},
		{"unknown voice", url.Values{"text": {"hi"}, "voice": {"nobody"}}},
		{"bad max_tokens", url.Values{"text": {"hi"}, "voice": {"alba"}, "max_tokens": {"zero"}}},
		{"too long", url.Values{"text": {strings.Repeat("a", 10001)}, "voice": {"alba"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := http.PostForm(srv.URL+"/api/generate", tc.form)
			if err != nil {
				t.Fatalf("post: %v", err)
			}
			var body struct {
				Detail string `json:"detail"`
			}
			decodeJSON(t, resp, &body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status %d, detail %q", resp.StatusCode, body.Detail)
			}
			if body.Detail == "" {
				t.Fatal("missing error detail")
			}
		})
	}
}

func TestSpeechBuffered(t *testing.T) {
	srv := newTestServer(t, nil)
	body, _ := json.Marshal(map[string]any{
		"model": "voxkit-tts", "input": "Hello world", "voice": "marius",
	})
	resp, err := http.Post(srv.URL+"/v1/audio/speech", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post speech: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if _, err := wav.Parse(data); err != nil {
		t.Fatalf("response is not valid WAV: %v", err)
	}
}

func TestSpeechStreamed(t *testing.T) {
	srv := newTestServer(t, nil)
	body, _ := json.Marshal(map[string]any{
		"input": "Hello world", "stream": true,
	})
	resp, err := http.Post(srv.URL+"/v1/audio/speech", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post speech: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/octet-stream" {
		t.Fatalf("content type %q", ct)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if len(data) == 0 || len(data)%2 != 0 {
		t.Fatalf("expected even-length raw PCM, got %d bytes", len(data))
	}
}

func TestUploadVoiceThenGenerate(t *testing.T) {
	srv := newTestServer(t, nil)

	sample := wav.EncodeSamples(make([]int16, 24000), 24000)
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "narrator.wav")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write(sample); err != nil {
		t.Fatalf("write sample: %v", err)
	}
	mw.Close()

	resp, err := http.Post(srv.URL+"/api/upload-voice", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("post upload: %v", err)
	}
	var upload struct {
		Success   bool   `json:"success"`
		VoiceName string `json:"voice_name"`
	}
	decodeJSON(t, resp, &upload)
	if resp.StatusCode != http.StatusOK || !upload.Success {
		t.Fatalf("upload failed: status %d %+v", resp.StatusCode, upload)
	}
	if upload.VoiceName != "narrator" {
		t.Fatalf("voice name %q", upload.VoiceName)
	}

	gen, err := http.PostForm(srv.URL+"/api/generate", url.Values{
		"text":  {"testing the uploaded voice"},
		"voice": {upload.VoiceName},
	})
	if err != nil {
		t.Fatalf("post generate: %v", err)
	}
	gen.Body.Close()
	if gen.StatusCode != http.StatusOK {
		t.Fatalf("generate with uploaded voice: status %d", gen.StatusCode)
	}
}

func TestUploadVoiceRejectsGarbage(t *testing.T) {
	srv := newTestServer(t, nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("file", "noise.wav")
	fw.Write([]byte("this is not audio"))
	mw.Close()

	resp, err := http.Post(srv.URL+"/api/upload-voice", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("post upload: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d", resp.StatusCode)
	}
}

func TestAPIKeyEnforcement(t *testing.T) {
	srv := newTestServer(t, func(cfg *config.Config) {
		cfg.HTTP.APIKey = "secret"
	})

	// Health stays open.
	resp, err := http.Get(srv.URL + "/api/health")
	if err != nil {
		t.Fatalf("get health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status %d", resp.StatusCode)
	}

	// No key.
	resp, err = http.Get(srv.URL + "/api/voices")
	if err != nil {
		t.Fatalf("get voices: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}

	// X-API-Key header.
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/voices", nil)
	req.Header.Set("X-API-Key", "secret")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get voices with key: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with key, got %d", resp.StatusCode)
	}

	// Bearer token.
	req, _ = http.NewRequest(http.MethodGet, srv.URL+"/api/voices", nil)
	req.Header.Set("Authorization", "Bearer secret")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get voices with bearer: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with bearer, got %d", resp.StatusCode)
	}
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t, nil)
	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/api/generate", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") == "" {
		t.Fatal("missing CORS allow-origin header")
	}
}
