// Package app assembles the translation pipeline from configuration. Both the
// service and the command line client build their components here.
package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/translator-service/internal/audio"
	"github.com/book-expert/translator-service/internal/config"
	"github.com/book-expert/translator-service/internal/core"
	"github.com/book-expert/translator-service/internal/language"
	"github.com/book-expert/translator-service/internal/pipeline"
	"github.com/book-expert/translator-service/internal/recognize"
	"github.com/book-expert/translator-service/internal/recorder"
	"github.com/book-expert/translator-service/internal/speech"
	"github.com/book-expert/translator-service/internal/tempfile"
	"github.com/book-expert/translator-service/internal/transcribe"
	"github.com/book-expert/translator-service/internal/translate"
)

const (
	engineGoogle  = "google"
	engineService = "service"

	logFmtAssembled = "Pipeline ready: transcriber %s, translation model %s, speech engine %s"
)

// Components are the long-lived objects built from one configuration.
type Components struct {
	Pipeline    *pipeline.Pipeline
	Transcriber core.Transcriber
	Synthesizer *speech.Synthesizer
	Recorder    *recorder.Recorder
	Remover     *tempfile.Remover
}

// Build validates apiKey and constructs every client. Nothing is contacted
// until the first request.
func Build(cfg *config.Config, apiKey string, log *logger.Logger) (*Components, error) {
	translator, err := translate.NewClient(apiKey, translate.Options{
		BaseURL: cfg.Groq.BaseURL,
		Model:   cfg.Groq.TranslationModel,
		Timeout: cfg.GroqTimeout(),
	}, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create translation client: %w", err)
	}

	engine, err := NewEngine(cfg, log)
	if err != nil {
		return nil, err
	}

	transcriber, transcriberName := newTranscriber(cfg, apiKey, log)
	remover := tempfile.NewRemover()
	synthesizer := speech.NewSynthesizer(engine, cfg.Speech.TempDir, remover, log)

	pipe := pipeline.New(transcriber, translator, synthesizer, remover, pipeline.Config{
		Audio:   AudioOptions(cfg),
		TempDir: cfg.Speech.TempDir,
	}, log)

	rec := recorder.New(recorder.Config{
		Binary:           cfg.Recorder.Binary,
		InputFormat:      cfg.Recorder.InputFormat,
		MicrophoneDevice: cfg.Recorder.MicrophoneDevice,
		SystemDevice:     cfg.Recorder.SystemDevice,
		SampleRate:       cfg.Audio.SampleRate,
		MaxDuration:      MaxRecordDuration(cfg),
	}, nil, log)

	log.Info(logFmtAssembled, transcriberName, translator.Model(), engine.Name())

	return &Components{
		Pipeline:    pipe,
		Transcriber: transcriber,
		Synthesizer: synthesizer,
		Recorder:    rec,
		Remover:     remover,
	}, nil
}

// NewEngine returns the speech engine named by cfg.Speech.Engine.
func NewEngine(cfg *config.Config, log *logger.Logger) (speech.Engine, error) {
	switch strings.ToLower(cfg.Speech.Engine) {
	case engineGoogle:
		return speech.NewGoogleEngine(cfg.Speech.GoogleBaseURL, cfg.SpeechTimeout(), log), nil
	case engineService:
		if cfg.Speech.ServiceURL == "" {
			return nil, fmt.Errorf("%w: speech.service_url is required for the service engine", config.ErrInvalidConfig)
		}

		return speech.NewServiceEngine(cfg.Speech.ServiceURL, cfg.SpeechTimeout(),
			serviceLanguages(cfg.Speech.ServiceLanguages), log), nil
	default:
		return nil, fmt.Errorf("%w: unknown speech engine %q", config.ErrInvalidConfig, cfg.Speech.Engine)
	}
}

// AudioOptions converts the audio section into preprocessing options.
func AudioOptions(cfg *config.Config) audio.Options {
	return audio.Options{
		SampleRate:       cfg.Audio.SampleRate,
		CutoffHz:         cfg.Audio.CutoffHz,
		FilterOrder:      cfg.Audio.FilterOrder,
		SilenceThreshold: cfg.Audio.SilenceThreshold,
		ChunkSize:        cfg.Audio.ChunkSize,
		Gain:             cfg.Audio.DefaultGain,
	}
}

// MaxRecordDuration returns the longest recording the configuration allows.
func MaxRecordDuration(cfg *config.Config) time.Duration {
	return time.Duration(cfg.Recorder.MaxDurationSeconds) * time.Second
}

func newTranscriber(cfg *config.Config, apiKey string, log *logger.Logger) (core.Transcriber, string) {
	if cfg.Recognizer.Enabled {
		return recognize.New(cfg.Recognizer.BaseURL, cfg.Recognizer.Key, log), "speech-api"
	}

	client := transcribe.NewClient(apiKey, transcribe.Options{
		BaseURL: cfg.Groq.BaseURL,
		Model:   cfg.Groq.TranscriptionModel,
		Prompt:  cfg.Groq.TranscriptionPrompt,
		Timeout: cfg.GroqTimeout(),
	}, log)

	return client, client.Model()
}

// serviceLanguages maps codes to display names. An empty list means every
// language the translator offers.
func serviceLanguages(codes []string) map[string]string {
	if len(codes) == 0 {
		for _, tag := range language.All() {
			codes = append(codes, tag.Code)
		}
	}

	languages := make(map[string]string, len(codes))
	for _, code := range codes {
		languages[code] = language.Name(code)
	}

	return languages
}
