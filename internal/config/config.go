package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Fixed audio formats of the pipeline.
const (
	InputSampleRate  = 16000
	OutputSampleRate = 22050
)

// Engine kinds
const (
	EngineOpenAI      = "openai"
	EngineWhisperHTTP = "whisper-http"
	EngineStub        = "stub"
)

// Config represents the complete service configuration
type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Audio    AudioConfig    `yaml:"audio"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Engines  EnginesConfig  `yaml:"engines"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Realtime RealtimeConfig `yaml:"realtime"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// HTTPConfig contains HTTP gateway listener configuration
type HTTPConfig struct {
	Port         int    `yaml:"port"`
	Address      string `yaml:"address"`
	ReadTimeout  int    `yaml:"read_timeout"`  // seconds
	WriteTimeout int    `yaml:"write_timeout"` // seconds
}

// AudioConfig contains audio capture and playback parameters
type AudioConfig struct {
	InputSampleRate  int     `yaml:"input_sample_rate"`
	OutputSampleRate int     `yaml:"output_sample_rate"`
	Channels         int     `yaml:"channels"`
	BitDepth         int     `yaml:"bit_depth"`
	ChunkDuration    float64 `yaml:"chunk_duration"` // seconds
	FramesPerBuffer  int     `yaml:"frames_per_buffer"`
	InputDevice      string  `yaml:"input_device"`  // empty selects the default device
	OutputDevice     string  `yaml:"output_device"` // empty selects the default device
}

// PipelineConfig contains utterance processing policy
type PipelineConfig struct {
	EnergyGate       float64  `yaml:"energy_gate"`       // peak amplitude, fraction of full scale
	SilenceThreshold float64  `yaml:"silence_threshold"` // RMS, fraction of full scale
	IgnorePhrases    []string `yaml:"ignore_phrases"`
	DropRepeats      bool     `yaml:"drop_repeats"`
}

// EnginesConfig selects and configures the speech-to-text, translation
// and speech synthesis engines
type EnginesConfig struct {
	Kind             string            `yaml:"kind"`
	APIKey           string            `yaml:"api_key"`
	BaseURL          string            `yaml:"base_url"`
	STTModel         string            `yaml:"stt_model"`
	TranslationModel string            `yaml:"translation_model"`
	TTSModel         string            `yaml:"tts_model"`
	TTSVoice         string            `yaml:"tts_voice"`
	TTSSampleRate    int               `yaml:"tts_sample_rate"` // native rate of the synthesis engine
	Timeout          int               `yaml:"timeout"`         // seconds, per engine call
	StubPhrase       string            `yaml:"stub_phrase"`
	Probe            bool              `yaml:"probe"` // list models while loading to verify the endpoint
	WhisperHTTP      WhisperHTTPConfig `yaml:"whisper_http"`
}

// WhisperHTTPConfig configures the multipart transcription server client
type WhisperHTTPConfig struct {
	Endpoint      string `yaml:"endpoint"`
	APIKey        string `yaml:"api_key"`
	MaxRetries    int    `yaml:"max_retries"`
	MaxConcurrent int    `yaml:"max_concurrent"`
}

// GatewayConfig contains request admission configuration
type GatewayConfig struct {
	APIKey      string `yaml:"api_key"` // empty disables authentication
	MaxUploadMB int    `yaml:"max_upload_mb"`
	EagerLoad   bool   `yaml:"eager_load"`
	RateLimit   int    `yaml:"rate_limit"`  // requests per window
	RateWindow  int    `yaml:"rate_window"` // seconds
}

// RealtimeConfig contains streaming mode configuration
type RealtimeConfig struct {
	QueueSize       int    `yaml:"queue_size"`
	MonitorInterval int    `yaml:"monitor_interval"` // seconds, 0 disables
	MonitorAddr     string `yaml:"monitor_addr"`     // empty disables the monitor server
	Playback        bool   `yaml:"playback"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns a complete configuration suitable for local use
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Port:         8000,
			Address:      "0.0.0.0",
			ReadTimeout:  30,
			WriteTimeout: 120,
		},
		Audio: AudioConfig{
			InputSampleRate:  InputSampleRate,
			OutputSampleRate: OutputSampleRate,
			Channels:         1,
			BitDepth:         16,
			ChunkDuration:    2.0,
			FramesPerBuffer:  1024,
		},
		Pipeline: PipelineConfig{
			EnergyGate:       0.02,
			SilenceThreshold: 0.01,
			IgnorePhrases:    []string{"thank you"},
			DropRepeats:      true,
		},
		Engines: EnginesConfig{
			Kind:             EngineOpenAI,
			STTModel:         "whisper-1",
			TranslationModel: "gpt-4o-mini",
			TTSModel:         "tts-1",
			TTSVoice:         "alloy",
			TTSSampleRate:    24000,
			Timeout:          30,
			StubPhrase:       "Hello, how are you?",
			WhisperHTTP: WhisperHTTPConfig{
				MaxRetries:    2,
				MaxConcurrent: 4,
			},
		},
		Gateway: GatewayConfig{
			MaxUploadMB: 10,
			EagerLoad:   true,
			RateLimit:   10,
			RateWindow:  60,
		},
		Realtime: RealtimeConfig{
			QueueSize:       4,
			MonitorInterval: 10,
			Playback:        true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load reads the optional YAML file at path on top of the defaults, applies
// .env and environment overrides and validates the result.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := config.ApplyEnv(os.LookupEnv); err != nil {
		return nil, fmt.Errorf("environment override: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// ApplyEnv overrides configuration values from the environment. lookup has
// the signature of os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("STS_API_KEY"); ok {
		c.Gateway.APIKey = strings.TrimSpace(v)
	}
	if v, ok := lookup("STS_STT_MODEL"); ok && v != "" {
		c.Engines.STTModel = v
	}
	if v, ok := lookup("STS_ENGINE"); ok && v != "" {
		c.Engines.Kind = v
	}
	if v, ok := lookup("OPENAI_API_KEY"); ok && c.Engines.APIKey == "" {
		c.Engines.APIKey = v
	}
	if v, ok := lookup("OPENAI_BASE_URL"); ok && v != "" {
		c.Engines.BaseURL = v
	}
	if v, ok := lookup("STS_LOG_LEVEL"); ok && v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	if v, ok := lookup("STS_HTTP_ADDR"); ok && v != "" {
		c.HTTP.Address = v
	}

	var err error
	if v, ok := lookup("STS_MAX_UPLOAD_MB"); ok && v != "" {
		if c.Gateway.MaxUploadMB, err = strconv.Atoi(v); err != nil {
			return fmt.Errorf("STS_MAX_UPLOAD_MB: %w", err)
		}
	}
	if v, ok := lookup("STS_EAGER_LOAD"); ok && v != "" {
		if c.Gateway.EagerLoad, err = strconv.ParseBool(v); err != nil {
			return fmt.Errorf("STS_EAGER_LOAD: %w", err)
		}
	}
	if v, ok := lookup("STS_RATE_LIMIT"); ok && v != "" {
		if c.Gateway.RateLimit, err = strconv.Atoi(v); err != nil {
			return fmt.Errorf("STS_RATE_LIMIT: %w", err)
		}
	}
	if v, ok := lookup("STS_RATE_WINDOW"); ok && v != "" {
		if c.Gateway.RateWindow, err = strconv.Atoi(v); err != nil {
			return fmt.Errorf("STS_RATE_WINDOW: %w", err)
		}
	}
	if v, ok := lookup("STS_HTTP_PORT"); ok && v != "" {
		if c.HTTP.Port, err = strconv.Atoi(v); err != nil {
			return fmt.Errorf("STS_HTTP_PORT: %w", err)
		}
	}

	return nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Pipeline.Validate(); err != nil {
		return fmt.Errorf("pipeline config: %w", err)
	}

	if err := c.Engines.Validate(); err != nil {
		return fmt.Errorf("engines config: %w", err)
	}

	if err := c.Gateway.Validate(); err != nil {
		return fmt.Errorf("gateway config: %w", err)
	}

	if err := c.Realtime.Validate(); err != nil {
		return fmt.Errorf("realtime config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Port < 1 || h.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", h.Port)
	}

	if h.Address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	if h.ReadTimeout < 1 {
		return fmt.Errorf("read_timeout must be at least 1 second, got %d", h.ReadTimeout)
	}

	if h.WriteTimeout < 1 {
		return fmt.Errorf("write_timeout must be at least 1 second, got %d", h.WriteTimeout)
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.InputSampleRate != InputSampleRate {
		return fmt.Errorf("input_sample_rate must be %d Hz, got %d", InputSampleRate, a.InputSampleRate)
	}

	if a.OutputSampleRate != OutputSampleRate {
		return fmt.Errorf("output_sample_rate must be %d Hz, got %d", OutputSampleRate, a.OutputSampleRate)
	}

	if a.Channels != 1 {
		return fmt.Errorf("channels must be 1 (mono), got %d", a.Channels)
	}

	if a.BitDepth != 16 {
		return fmt.Errorf("bit_depth must be 16, got %d", a.BitDepth)
	}

	if a.ChunkDuration <= 0 || a.ChunkDuration > 30 {
		return fmt.Errorf("chunk_duration must be in (0, 30] seconds, got %f", a.ChunkDuration)
	}

	if a.FramesPerBuffer < 64 {
		return fmt.Errorf("frames_per_buffer must be at least 64, got %d", a.FramesPerBuffer)
	}

	return nil
}

// Validate validates pipeline policy configuration
func (p *PipelineConfig) Validate() error {
	if p.EnergyGate < 0 || p.EnergyGate >= 1 {
		return fmt.Errorf("energy_gate must be in [0, 1), got %f", p.EnergyGate)
	}

	if p.SilenceThreshold < 0 || p.SilenceThreshold >= 1 {
		return fmt.Errorf("silence_threshold must be in [0, 1), got %f", p.SilenceThreshold)
	}

	return nil
}

// Validate validates engine configuration
func (e *EnginesConfig) Validate() error {
	switch e.Kind {
	case EngineOpenAI, EngineStub:
	case EngineWhisperHTTP:
		if e.WhisperHTTP.Endpoint == "" {
			return fmt.Errorf("whisper_http.endpoint cannot be empty for kind %q", e.Kind)
		}
		if e.WhisperHTTP.MaxRetries < 0 {
			return fmt.Errorf("whisper_http.max_retries cannot be negative, got %d", e.WhisperHTTP.MaxRetries)
		}
		if e.WhisperHTTP.MaxConcurrent < 1 {
			return fmt.Errorf("whisper_http.max_concurrent must be at least 1, got %d", e.WhisperHTTP.MaxConcurrent)
		}
	default:
		return fmt.Errorf("kind must be one of [%s, %s, %s], got '%s'",
			EngineOpenAI, EngineWhisperHTTP, EngineStub, e.Kind)
	}

	if e.Kind != EngineStub {
		if e.STTModel == "" {
			return fmt.Errorf("stt_model cannot be empty")
		}
		if e.TranslationModel == "" {
			return fmt.Errorf("translation_model cannot be empty")
		}
		if e.TTSModel == "" {
			return fmt.Errorf("tts_model cannot be empty")
		}
	}

	if e.TTSSampleRate < 8000 {
		return fmt.Errorf("tts_sample_rate must be at least 8000 Hz, got %d", e.TTSSampleRate)
	}

	if e.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", e.Timeout)
	}

	return nil
}

// Validate validates gateway admission configuration
func (g *GatewayConfig) Validate() error {
	if g.MaxUploadMB < 1 {
		return fmt.Errorf("max_upload_mb must be at least 1, got %d", g.MaxUploadMB)
	}

	if g.RateLimit < 1 {
		return fmt.Errorf("rate_limit must be at least 1, got %d", g.RateLimit)
	}

	if g.RateWindow < 1 {
		return fmt.Errorf("rate_window must be at least 1 second, got %d", g.RateWindow)
	}

	return nil
}

// Validate validates streaming mode configuration
func (r *RealtimeConfig) Validate() error {
	if r.QueueSize < 1 {
		return fmt.Errorf("queue_size must be at least 1, got %d", r.QueueSize)
	}

	if r.MonitorInterval < 0 {
		return fmt.Errorf("monitor_interval cannot be negative, got %d", r.MonitorInterval)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetReadTimeoutDuration returns the read timeout as a time.Duration
func (h *HTTPConfig) GetReadTimeoutDuration() time.Duration {
	return time.Duration(h.ReadTimeout) * time.Second
}

// GetWriteTimeoutDuration returns the write timeout as a time.Duration
func (h *HTTPConfig) GetWriteTimeoutDuration() time.Duration {
	return time.Duration(h.WriteTimeout) * time.Second
}

// GetChunkDuration returns the chunk duration as a time.Duration
func (a *AudioConfig) GetChunkDuration() time.Duration {
	return time.Duration(a.ChunkDuration * float64(time.Second))
}

// GetTimeoutDuration returns the per-call engine timeout as a time.Duration
func (e *EnginesConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(e.Timeout) * time.Second
}

// GetMaxUploadBytes returns the maximum accepted upload size in bytes
func (g *GatewayConfig) GetMaxUploadBytes() int64 {
	return int64(g.MaxUploadMB) << 20
}

// GetRateWindowDuration returns the rate limit window as a time.Duration
func (g *GatewayConfig) GetRateWindowDuration() time.Duration {
	return time.Duration(g.RateWindow) * time.Second
}

// GetMonitorIntervalDuration returns the status log interval as a time.Duration
func (r *RealtimeConfig) GetMonitorIntervalDuration() time.Duration {
	return time.Duration(r.MonitorInterval) * time.Second
}
