package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "TRANSCRIBER_"

// Config represents the complete service configuration
type Config struct {
	Audio      AudioConfig      `yaml:"audio"`
	Aggregator AggregatorConfig `yaml:"aggregator"`
	Capture    CaptureConfig    `yaml:"capture"`
	Transport  TransportConfig  `yaml:"transport"`
	Retry      RetryConfig      `yaml:"retry"`
	Archive    ArchiveConfig    `yaml:"archive"`
	HTTP       HTTPConfig       `yaml:"http"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// AudioConfig contains the audio format sent to the backend
type AudioConfig struct {
	SampleRate int `yaml:"sample_rate"`
	FrameSize  int `yaml:"frame_size"` // samples per captured frame
	Channels   int `yaml:"channels"`
	BitDepth   int `yaml:"bit_depth"`
}

// AggregatorConfig controls how captured frames are batched before sending
type AggregatorConfig struct {
	MaxFrames     int `yaml:"max_frames"`
	MaxIntervalMs int `yaml:"max_interval_ms"`
	FlushTickMs   int `yaml:"flush_tick_ms"`
}

// CaptureConfig selects and configures the audio input device
type CaptureConfig struct {
	Device   string    `yaml:"device"` // wav or udp
	WAVPath  string    `yaml:"wav_path"`
	Realtime bool      `yaml:"realtime"`
	UDP      UDPConfig `yaml:"udp"`
}

// UDPConfig contains the network microphone listener configuration
type UDPConfig struct {
	BindAddress  string `yaml:"bind_address"`
	Port         int    `yaml:"port"`
	BufferSize   int    `yaml:"buffer_size"`
	QueueSize    int    `yaml:"queue_size"`
	SampleFormat string `yaml:"sample_format"` // f32le or s16le
}

// TransportConfig contains the transcription backend connection settings
type TransportConfig struct {
	Provider         string `yaml:"provider"` // static or aws
	Endpoint         string `yaml:"endpoint"`
	APIKey           string `yaml:"api_key"`
	Region           string `yaml:"region"`
	LanguageCode     string `yaml:"language_code"`
	AccessKeyID      string `yaml:"access_key_id"`
	SecretAccessKey  string `yaml:"secret_access_key"`
	HandshakeTimeout int    `yaml:"handshake_timeout"` // seconds
	WriteTimeout     int    `yaml:"write_timeout"`     // seconds
	AudioFraming     string `yaml:"audio_framing"`     // binary or json
	ReadLimit        int64  `yaml:"read_limit"`        // bytes
}

// RetryConfig controls session start retries on connect failures
type RetryConfig struct {
	Enabled    bool `yaml:"enabled"`
	MaxRetries int  `yaml:"max_retries"`
}

// ArchiveConfig controls recording of sent audio
type ArchiveConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns a configuration that streams a WAV file to a local backend
func Default() *Config {
	return &Config{
		Audio: AudioConfig{
			SampleRate: 16000,
			FrameSize:  1024,
			Channels:   1,
			BitDepth:   16,
		},
		Aggregator: AggregatorConfig{
			MaxFrames:     5,
			MaxIntervalMs: 1000,
			FlushTickMs:   50,
		},
		Capture: CaptureConfig{
			Device:   "wav",
			WAVPath:  "testdata/sample.wav",
			Realtime: true,
			UDP: UDPConfig{
				BindAddress:  "0.0.0.0",
				Port:         4000,
				BufferSize:   65536,
				QueueSize:    256,
				SampleFormat: "s16le",
			},
		},
		Transport: TransportConfig{
			Provider:         "static",
			Endpoint:         "ws://localhost:8765/transcribe",
			LanguageCode:     "en-US",
			HandshakeTimeout: 10,
			WriteTimeout:     5,
			AudioFraming:     "binary",
			ReadLimit:        1 << 20,
		},
		Retry: RetryConfig{
			Enabled:    true,
			MaxRetries: 3,
		},
		Archive: ArchiveConfig{
			Enabled: false,
			Dir:     "recordings",
		},
		HTTP: HTTPConfig{
			Port:    8080,
			Address: "0.0.0.0",
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment. Missing files are ignored; existing variables win.
func LoadDotEnv(paths ...string) error {
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load env file %s: %w", path, err)
		}
	}
	return nil
}

// Load reads the configuration file over the defaults, applies environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
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

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

func applyEnvOverrides(c *Config) {
	overrideInt(&c.Audio.SampleRate, "AUDIO_SAMPLE_RATE")
	overrideInt(&c.Audio.FrameSize, "AUDIO_FRAME_SIZE")
	overrideInt(&c.Aggregator.MaxFrames, "AGGREGATOR_MAX_FRAMES")
	overrideInt(&c.Aggregator.MaxIntervalMs, "AGGREGATOR_MAX_INTERVAL_MS")
	overrideString(&c.Capture.Device, "CAPTURE_DEVICE")
	overrideString(&c.Capture.WAVPath, "CAPTURE_WAV_PATH")
	overrideBool(&c.Capture.Realtime, "CAPTURE_REALTIME")
	overrideInt(&c.Capture.UDP.Port, "CAPTURE_UDP_PORT")
	overrideString(&c.Transport.Provider, "TRANSPORT_PROVIDER")
	overrideString(&c.Transport.Endpoint, "TRANSPORT_ENDPOINT")
	overrideString(&c.Transport.APIKey, "TRANSPORT_API_KEY")
	overrideString(&c.Transport.Region, "TRANSPORT_REGION")
	overrideString(&c.Transport.LanguageCode, "TRANSPORT_LANGUAGE_CODE")
	overrideString(&c.Transport.AccessKeyID, "TRANSPORT_ACCESS_KEY_ID")
	overrideString(&c.Transport.SecretAccessKey, "TRANSPORT_SECRET_ACCESS_KEY")
	overrideString(&c.Transport.AudioFraming, "TRANSPORT_AUDIO_FRAMING")
	overrideBool(&c.Retry.Enabled, "RETRY_ENABLED")
	overrideInt(&c.Retry.MaxRetries, "RETRY_MAX_RETRIES")
	overrideBool(&c.Archive.Enabled, "ARCHIVE_ENABLED")
	overrideString(&c.Archive.Dir, "ARCHIVE_DIR")
	overrideBool(&c.HTTP.Enabled, "HTTP_ENABLED")
	overrideInt(&c.HTTP.Port, "HTTP_PORT")
	overrideString(&c.Logging.Level, "LOG_LEVEL")
	overrideString(&c.Logging.Format, "LOG_FORMAT")
}

func overrideString(target *string, key string) {
	if value, ok := os.LookupEnv(EnvPrefix + key); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, key string) {
	if value, ok := os.LookupEnv(EnvPrefix + key); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, key string) {
	if value, ok := os.LookupEnv(EnvPrefix + key); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Aggregator.Validate(); err != nil {
		return fmt.Errorf("aggregator config: %w", err)
	}

	if err := c.Capture.Validate(); err != nil {
		return fmt.Errorf("capture config: %w", err)
	}

	if err := c.Transport.Validate(); err != nil {
		return fmt.Errorf("transport config: %w", err)
	}

	if err := c.Retry.Validate(); err != nil {
		return fmt.Errorf("retry config: %w", err)
	}

	if err := c.Archive.Validate(); err != nil {
		return fmt.Errorf("archive config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	validRates := map[int]bool{8000: true, 16000: true, 44100: true, 48000: true}
	if !validRates[a.SampleRate] {
		return fmt.Errorf("sample_rate must be one of [8000, 16000, 44100, 48000], got %d", a.SampleRate)
	}

	if a.FrameSize < 64 || a.FrameSize > 16384 {
		return fmt.Errorf("frame_size must be between 64 and 16384 samples, got %d", a.FrameSize)
	}

	if a.Channels != 1 {
		return fmt.Errorf("channels must be 1 (mono), got %d", a.Channels)
	}

	if a.BitDepth != 16 {
		return fmt.Errorf("bit_depth must be 16, got %d", a.BitDepth)
	}

	return nil
}

// Validate validates aggregator configuration
func (a *AggregatorConfig) Validate() error {
	if a.MaxFrames < 0 {
		return fmt.Errorf("max_frames cannot be negative, got %d", a.MaxFrames)
	}

	if a.MaxIntervalMs < 0 {
		return fmt.Errorf("max_interval_ms cannot be negative, got %d", a.MaxIntervalMs)
	}

	if a.FlushTickMs < 0 {
		return fmt.Errorf("flush_tick_ms cannot be negative, got %d", a.FlushTickMs)
	}

	return nil
}

// Validate validates capture configuration
func (c *CaptureConfig) Validate() error {
	switch c.Device {
	case "wav":
		if c.WAVPath == "" {
			return fmt.Errorf("wav_path cannot be empty for wav device")
		}
	case "udp":
		if err := c.UDP.Validate(); err != nil {
			return fmt.Errorf("udp: %w", err)
		}
	default:
		return fmt.Errorf("device must be 'wav' or 'udp', got '%s'", c.Device)
	}

	return nil
}

// Validate validates the UDP listener configuration
func (u *UDPConfig) Validate() error {
	if u.Port < 1 || u.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", u.Port)
	}

	if u.BindAddress == "" {
		return fmt.Errorf("bind_address cannot be empty")
	}

	if u.BufferSize < 1024 {
		return fmt.Errorf("buffer_size must be at least 1024 bytes, got %d", u.BufferSize)
	}

	if u.QueueSize < 1 {
		return fmt.Errorf("queue_size must be at least 1, got %d", u.QueueSize)
	}

	if u.SampleFormat != "f32le" && u.SampleFormat != "s16le" {
		return fmt.Errorf("sample_format must be 'f32le' or 's16le', got '%s'", u.SampleFormat)
	}

	return nil
}

// Validate validates transport configuration
func (t *TransportConfig) Validate() error {
	switch t.Provider {
	case "static":
		if t.Endpoint == "" {
			return fmt.Errorf("endpoint cannot be empty")
		}
		u, err := url.Parse(t.Endpoint)
		if err != nil {
			return fmt.Errorf("invalid endpoint: %w", err)
		}
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return fmt.Errorf("endpoint scheme must be ws or wss, got '%s'", u.Scheme)
		}
	case "aws":
		if t.Region == "" {
			return fmt.Errorf("region cannot be empty for aws provider")
		}
		if (t.AccessKeyID == "") != (t.SecretAccessKey == "") {
			return fmt.Errorf("access_key_id and secret_access_key must be set together")
		}
	default:
		return fmt.Errorf("provider must be 'static' or 'aws', got '%s'", t.Provider)
	}

	if t.HandshakeTimeout < 1 {
		return fmt.Errorf("handshake_timeout must be at least 1 second, got %d", t.HandshakeTimeout)
	}

	if t.WriteTimeout < 1 {
		return fmt.Errorf("write_timeout must be at least 1 second, got %d", t.WriteTimeout)
	}

	if t.AudioFraming != "binary" && t.AudioFraming != "json" {
		return fmt.Errorf("audio_framing must be 'binary' or 'json', got '%s'", t.AudioFraming)
	}

	if t.ReadLimit < 0 {
		return fmt.Errorf("read_limit cannot be negative, got %d", t.ReadLimit)
	}

	return nil
}

// Validate validates retry configuration
func (r *RetryConfig) Validate() error {
	if r.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", r.MaxRetries)
	}
	return nil
}

// Validate validates archive configuration
func (a *ArchiveConfig) Validate() error {
	if a.Enabled && a.Dir == "" {
		return fmt.Errorf("dir cannot be empty when archive is enabled")
	}
	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
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

// GetMaxInterval returns the time trigger as a time.Duration
func (a *AggregatorConfig) GetMaxInterval() time.Duration {
	return time.Duration(a.MaxIntervalMs) * time.Millisecond
}

// GetFlushTick returns the time trigger polling period as a time.Duration
func (a *AggregatorConfig) GetFlushTick() time.Duration {
	return time.Duration(a.FlushTickMs) * time.Millisecond
}

// GetHandshakeTimeoutDuration returns the handshake timeout as a time.Duration
func (t *TransportConfig) GetHandshakeTimeoutDuration() time.Duration {
	return time.Duration(t.HandshakeTimeout) * time.Second
}

// GetWriteTimeoutDuration returns the write timeout as a time.Duration
func (t *TransportConfig) GetWriteTimeoutDuration() time.Duration {
	return time.Duration(t.WriteTimeout) * time.Second
}

// Sanitized returns a copy safe to expose over the API
func (c *Config) Sanitized() Config {
	out := *c
	if out.Transport.APIKey != "" {
		out.Transport.APIKey = "***"
	}
	if out.Transport.SecretAccessKey != "" {
		out.Transport.SecretAccessKey = "***"
	}
	if out.Transport.AccessKeyID != "" {
		out.Transport.AccessKeyID = "***"
	}
	return out
}
