package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind        string   `yaml:"bind"`
	Port        int      `yaml:"port"`
	APIKey      string   `yaml:"api_key"`
	CORSOrigins []string `yaml:"cors_origins"`
}

type SynthConfig struct {
	Mode            string `yaml:"mode"` // mock, exec
	Command         string `yaml:"command"`
	SampleRate      int    `yaml:"sample_rate"`
	ChunkDurationMS int    `yaml:"chunk_duration_ms"`
	MaxTokens       int    `yaml:"max_tokens"`
	MaxConcurrent   int    `yaml:"max_concurrent"`
}

type VoicesConfig struct {
	Premade   []string `yaml:"premade"`
	UploadDir string   `yaml:"upload_dir"`
	MaxUpload int64    `yaml:"max_upload_bytes"`
}

type StreamConfig struct {
	MaxTextLength int `yaml:"max_text_length"`
}

type HistoryConfig struct {
	Path string `yaml:"path"`
}

type Config struct {
	ServiceName string          `yaml:"service_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Synth       SynthConfig     `yaml:"synth"`
	Voices      VoicesConfig    `yaml:"voices"`
	Stream      StreamConfig    `yaml:"stream"`
	History     HistoryConfig   `yaml:"history"`
}

func Default() Config {
	return Config{
		ServiceName: "voxd",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind:        "127.0.0.1",
			Port:        8000,
			CORSOrigins: []string{"*"},
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Synth: SynthConfig{
			Mode:            "mock",
			SampleRate:      24000,
			ChunkDurationMS: 200,
			MaxTokens:       80,
			MaxConcurrent:   2,
		},
		Voices: VoicesConfig{
			Premade: []string{
				"alba", "marius", "javert", "jean",
				"fantine", "cosette", "eponine", "azelma",
			},
			UploadDir: "./uploaded_voices",
			MaxUpload: 16 << 20,
		},
		Stream: StreamConfig{
			MaxTextLength: 10000,
		},
		History: HistoryConfig{
			Path: "./data/voxkit-history.db",
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.ServiceName, "VOX_SERVICE_NAME")
	overrideString(&cfg.Environment, "VOX_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "VOX_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "VOX_HTTP_PORT")
	overrideString(&cfg.HTTP.APIKey, "VOX_HTTP_API_KEY")
	overrideStringSlice(&cfg.HTTP.CORSOrigins, "VOX_HTTP_CORS_ORIGINS")
	overrideString(&cfg.Telemetry.LogLevel, "VOX_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "VOX_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "VOX_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "VOX_TELEMETRY_PROMETHEUS_BIND")
	overrideString(&cfg.Synth.Mode, "VOX_SYNTH_MODE")
	overrideString(&cfg.Synth.Command, "VOX_SYNTH_COMMAND")
	overrideInt(&cfg.Synth.SampleRate, "VOX_SYNTH_SAMPLE_RATE")
	overrideInt(&cfg.Synth.ChunkDurationMS, "VOX_SYNTH_CHUNK_DURATION_MS")
	overrideInt(&cfg.Synth.MaxTokens, "VOX_SYNTH_MAX_TOKENS")
	overrideInt(&cfg.Synth.MaxConcurrent, "VOX_SYNTH_MAX_CONCURRENT")
	overrideStringSlice(&cfg.Voices.Premade, "VOX_VOICES_PREMADE")
	overrideString(&cfg.Voices.UploadDir, "VOX_VOICES_UPLOAD_DIR")
	overrideInt64(&cfg.Voices.MaxUpload, "VOX_VOICES_MAX_UPLOAD_BYTES")
	overrideInt(&cfg.Stream.MaxTextLength, "VOX_STREAM_MAX_TEXT_LENGTH")
	overrideString(&cfg.History.Path, "VOX_HISTORY_PATH")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideInt64(target *int64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.ServiceName == "" {
		return errors.New("service_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	switch cfg.Synth.Mode {
	case "mock", "exec":
	default:
		return errors.New("synth.mode must be one of mock|exec")
	}
	if cfg.Synth.Mode == "exec" && cfg.Synth.Command == "" {
		return errors.New("synth.command must be set when mode=exec")
	}
	if cfg.Synth.SampleRate <= 0 {
		return errors.New("synth.sample_rate must be positive")
	}
	if cfg.Synth.ChunkDurationMS <= 0 {
		return errors.New("synth.chunk_duration_ms must be positive")
	}
	if cfg.Synth.MaxTokens < 0 {
		return errors.New("synth.max_tokens must be >= 0")
	}
	if cfg.Synth.MaxConcurrent <= 0 {
		return errors.New("synth.max_concurrent must be >= 1")
	}
	if len(cfg.Voices.Premade) == 0 {
		return errors.New("voices.premade must not be empty")
	}
	if cfg.Voices.UploadDir == "" {
		return errors.New("voices.upload_dir must not be empty")
	}
	if cfg.Voices.MaxUpload <= 0 {
		return errors.New("voices.max_upload_bytes must be positive")
	}
	if cfg.Stream.MaxTextLength <= 0 {
		return errors.New("stream.max_text_length must be positive")
	}
	if cfg.History.Path == "" {
		return errors.New("history.path must not be empty")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	return nil
}
