// Package config provides the configuration structure for the translator service.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
	"github.com/book-expert/translator-service/internal/audio"
)

// Defaults applied when a value is absent from the configuration file.
const (
	DefaultGroqBaseURL         = "https://api.groq.com/openai/v1"
	DefaultTranslationModel    = "llama-3.3-70b-versatile"
	DefaultTranscriptionModel  = "whisper-large-v3-turbo"
	DefaultTranscriptionPrompt = "Specify context or spelling"
	DefaultRequestTimeout      = 60
	DefaultSpeechEngine        = "google"
	DefaultGoogleTTSURL        = "https://translate.google.com"
	DefaultRecognizerURL       = "https://www.google.com"
	DefaultRecorderBinary      = "ffmpeg"
	DefaultRecorderFormat      = "pulse"
	DefaultMicrophoneDevice    = "default"
	DefaultSystemDevice        = "@DEFAULT_MONITOR@"
	DefaultMaxRecordSeconds    = 300
	DefaultHTTPAddr            = ":8501"
	DefaultRequestsPerMinute   = 30
	DefaultMaxUploadMB         = 25
	DefaultNATSSubject         = "translation.requested"
	DefaultAudioBucket         = "TRANSLATED_AUDIO"
)

// ErrInvalidConfig indicates a configuration value that cannot be used.
var ErrInvalidConfig = errors.New("invalid configuration")

// GroqConfig holds the hosted model settings. Both endpoints speak the OpenAI
// wire protocol.
type GroqConfig struct {
	BaseURL             string `toml:"base_url"`
	TranslationModel    string `toml:"translation_model"`
	TranscriptionModel  string `toml:"transcription_model"`
	TranscriptionPrompt string `toml:"transcription_prompt"`
	TimeoutSeconds      int    `toml:"timeout_seconds"`
}

// SpeechConfig selects and configures the synthesis engine.
type SpeechConfig struct {
	Engine           string   `toml:"engine"`
	GoogleBaseURL    string   `toml:"google_base_url"`
	ServiceURL       string   `toml:"service_url"`
	ServiceLanguages []string `toml:"service_languages"`
	TempDir          string   `toml:"temp_dir"`
	TimeoutSeconds   int      `toml:"timeout_seconds"`
}

// AudioConfig holds the preprocessing settings for recorded audio. A zero
// value means unset and takes the audio package default, so a silence
// threshold of 0 cannot be configured; use a tiny positive value instead.
type AudioConfig struct {
	SampleRate       int     `toml:"sample_rate"`
	CutoffHz         float64 `toml:"cutoff_hz"`
	FilterOrder      int     `toml:"filter_order"`
	SilenceThreshold float64 `toml:"silence_threshold"`
	ChunkSize        int     `toml:"chunk_size"`
	DefaultGain      float64 `toml:"default_gain"`
}

// RecorderConfig describes how audio is captured.
type RecorderConfig struct {
	Binary             string `toml:"binary"`
	InputFormat        string `toml:"input_format"`
	MicrophoneDevice   string `toml:"microphone_device"`
	SystemDevice       string `toml:"system_device"`
	MaxDurationSeconds int    `toml:"max_duration_seconds"`
}

// RecognizerConfig configures the optional local speech recognizer.
type RecognizerConfig struct {
	Enabled bool   `toml:"enabled"`
	BaseURL string `toml:"base_url"`
	Key     string `toml:"key"`
}

// HTTPConfig holds the web front end settings.
type HTTPConfig struct {
	Addr              string   `toml:"addr"`
	RequestsPerMinute int      `toml:"requests_per_minute"`
	AllowedOrigins    []string `toml:"allowed_origins"`
	MaxUploadMB       int      `toml:"max_upload_mb"`
}

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	Enabled                bool   `toml:"enabled"`
	URL                    string `toml:"url"`
	TranslationSubject     string `toml:"translation_subject"`
	AudioObjectStoreBucket string `toml:"audio_object_store_bucket"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
}

// Config is the root configuration structure.
type Config struct {
	Groq       GroqConfig       `toml:"groq"`
	Speech     SpeechConfig     `toml:"speech"`
	Audio      AudioConfig      `toml:"audio"`
	Recorder   RecorderConfig   `toml:"recorder"`
	Recognizer RecognizerConfig `toml:"recognizer"`
	HTTP       HTTPConfig       `toml:"http"`
	NATS       NATSConfig       `toml:"nats"`
	Paths      PathsConfig      `toml:"paths"`
}

// Load loads the configuration for the translator service and fills in
// defaults for anything left unset.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	cfg.ApplyDefaults()

	return &cfg, nil
}

// Default returns a configuration made only of defaults.
func Default() *Config {
	var cfg Config

	cfg.ApplyDefaults()

	return &cfg
}

// ApplyDefaults replaces zero values with the package defaults.
func (c *Config) ApplyDefaults() {
	setString(&c.Groq.BaseURL, DefaultGroqBaseURL)
	setString(&c.Groq.TranslationModel, DefaultTranslationModel)
	setString(&c.Groq.TranscriptionModel, DefaultTranscriptionModel)
	setString(&c.Groq.TranscriptionPrompt, DefaultTranscriptionPrompt)
	setInt(&c.Groq.TimeoutSeconds, DefaultRequestTimeout)

	setString(&c.Speech.Engine, DefaultSpeechEngine)
	setString(&c.Speech.GoogleBaseURL, DefaultGoogleTTSURL)
	setString(&c.Speech.TempDir, os.TempDir())
	setInt(&c.Speech.TimeoutSeconds, DefaultRequestTimeout)

	setInt(&c.Audio.SampleRate, audio.DefaultSampleRate)
	setFloat(&c.Audio.CutoffHz, audio.DefaultCutoffHz)
	setInt(&c.Audio.FilterOrder, audio.DefaultFilterOrder)
	setFloat(&c.Audio.SilenceThreshold, audio.DefaultSilenceThreshold)
	setInt(&c.Audio.ChunkSize, audio.DefaultChunkSize)
	setFloat(&c.Audio.DefaultGain, audio.DefaultGain)

	setString(&c.Recorder.Binary, DefaultRecorderBinary)
	setString(&c.Recorder.InputFormat, DefaultRecorderFormat)
	setString(&c.Recorder.MicrophoneDevice, DefaultMicrophoneDevice)
	setString(&c.Recorder.SystemDevice, DefaultSystemDevice)
	setInt(&c.Recorder.MaxDurationSeconds, DefaultMaxRecordSeconds)

	setString(&c.Recognizer.BaseURL, DefaultRecognizerURL)

	setString(&c.HTTP.Addr, DefaultHTTPAddr)
	setInt(&c.HTTP.RequestsPerMinute, DefaultRequestsPerMinute)
	setInt(&c.HTTP.MaxUploadMB, DefaultMaxUploadMB)

	setString(&c.NATS.TranslationSubject, DefaultNATSSubject)
	setString(&c.NATS.AudioObjectStoreBucket, DefaultAudioBucket)

	setString(&c.Paths.BaseLogsDir, os.TempDir())
}

// GroqTimeout returns the hosted model request timeout.
func (c *Config) GroqTimeout() time.Duration {
	return time.Duration(c.Groq.TimeoutSeconds) * time.Second
}

// SpeechTimeout returns the synthesis request timeout.
func (c *Config) SpeechTimeout() time.Duration {
	return time.Duration(c.Speech.TimeoutSeconds) * time.Second
}

func setString(target *string, fallback string) {
	if *target == "" {
		*target = fallback
	}
}

func setInt(target *int, fallback int) {
	if *target == 0 {
		*target = fallback
	}
}

func setFloat(target *float64, fallback float64) {
	if *target == 0 {
		*target = fallback
	}
}
