package app_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/translator-service/internal/app"
	"github.com/book-expert/translator-service/internal/config"
	"github.com/book-expert/translator-service/internal/pipeline"
	"github.com/book-expert/translator-service/internal/recognize"
	"github.com/book-expert/translator-service/internal/transcribe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAPIKey = "gsk_test_key_0123456789abcdef"

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "app-test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = log.Close() })

	return log
}

func TestBuild_RejectsShortKey(t *testing.T) {
	t.Parallel()

	_, err := app.Build(config.Default(), "short", newTestLogger(t))
	require.ErrorIs(t, err, config.ErrAPIKeyTooShort)
}

func TestNewEngine(t *testing.T) {
	t.Parallel()

	log := newTestLogger(t)

	cfg := config.Default()
	engine, err := app.NewEngine(cfg, log)
	require.NoError(t, err)
	assert.Equal(t, "google", engine.Name())

	cfg.Speech.Engine = "service"
	_, err = app.NewEngine(cfg, log)
	require.ErrorIs(t, err, config.ErrInvalidConfig)

	cfg.Speech.ServiceURL = "http://localhost:8000"
	cfg.Speech.ServiceLanguages = []string{"en", "fr"}
	engine, err = app.NewEngine(cfg, log)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"en": "English", "fr": "French"}, engine.SupportedLanguages())

	cfg.Speech.Engine = "festival"
	_, err = app.NewEngine(cfg, log)
	require.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestAudioOptionsAndDuration(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	opts := app.AudioOptions(cfg)

	require.NoError(t, opts.Validate())
	assert.Equal(t, 44100, opts.SampleRate)
	assert.InDelta(t, 2.0, opts.Gain, 1e-9)
	assert.Equal(t, 300*time.Second, app.MaxRecordDuration(cfg))
}

func TestBuild_TranslatesThroughConfiguredEndpoints(t *testing.T) {
	t.Parallel()

	chat := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"1","object":"chat.completion","choices":[{"index":0,` +
			`"message":{"role":"assistant","content":"Xin chào"},"finish_reason":"stop"}]}`))
	}))
	defer chat.Close()

	cfg := config.Default()
	cfg.Groq.BaseURL = chat.URL
	cfg.Speech.TempDir = t.TempDir()

	components, err := app.Build(cfg, testAPIKey, newTestLogger(t))
	require.NoError(t, err)

	result, err := components.Pipeline.TranslateText(context.Background(), pipeline.TextRequest{
		Text:           "Hello",
		SourceLanguage: "English",
		TargetLanguage: "Vietnamese",
		SkipSpeech:     true,
	})
	require.NoError(t, err)
	assert.Equal(t, "Xin chào", result.TranslatedText)
	assert.False(t, result.HasSpeech())
}

func TestBuild_SelectsTranscriber(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Speech.TempDir = t.TempDir()

	components, err := app.Build(cfg, testAPIKey, newTestLogger(t))
	require.NoError(t, err)
	assert.IsType(t, &transcribe.Client{}, components.Transcriber)

	cfg.Recognizer.Enabled = true

	components, err = app.Build(cfg, testAPIKey, newTestLogger(t))
	require.NoError(t, err)
	assert.IsType(t, &recognize.Recognizer{}, components.Transcriber)
}
