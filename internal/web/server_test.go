package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/translator-service/internal/audio"
	"github.com/book-expert/translator-service/internal/pipeline"
	"github.com/book-expert/translator-service/internal/recorder"
	"github.com/book-expert/translator-service/internal/speech"
	"github.com/book-expert/translator-service/internal/transcribe"
	"github.com/book-expert/translator-service/internal/web"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTranslatorDown = errors.New("translator down")

type fakeTranscriber struct {
	mutex   sync.Mutex
	text    string
	gotLang string
}

func (f *fakeTranscriber) Transcribe(_ context.Context, path, lang string) (transcribe.Transcript, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	f.gotLang = lang

	if _, err := os.Stat(path); err != nil {
		return transcribe.Transcript{}, err
	}

	return transcribe.Transcript{Text: f.text}, nil
}

type fakeTranslator struct {
	fail bool
}

func (f *fakeTranslator) Translate(_ context.Context, text, _, target string) (string, error) {
	if f.fail {
		return "", errTranslatorDown
	}

	return target + ": " + text, nil
}

type fakeSynthesizer struct {
	dir string
}

func (f *fakeSynthesizer) Synthesize(_ context.Context, _, lang string) (speech.Artifact, error) {
	file, err := os.CreateTemp(f.dir, "speech-*.mp3")
	if err != nil {
		return speech.Artifact{}, err
	}

	_, err = file.WriteString("ID3-audio")
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}

	return speech.Artifact{Path: file.Name(), Language: lang, Size: 9}, err
}

type fakeRecorder struct {
	buffer audio.Buffer
}

func (f *fakeRecorder) Record(_ context.Context, _ recorder.Source, _ time.Duration) (audio.Buffer, error) {
	return f.buffer, nil
}

type fixture struct {
	server      *web.Server
	handler     http.Handler
	transcriber *fakeTranscriber
	translator  *fakeTranslator
	tempDir     string
	uploadDir   string
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "web-test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = log.Close() })

	return log
}

func newFixture(t *testing.T, rec web.Recorder, opts web.Options) *fixture {
	t.Helper()

	log := newTestLogger(t)
	tempDir := t.TempDir()
	transcriber := &fakeTranscriber{text: "Hello"}
	translator := &fakeTranslator{}
	pipe := pipeline.New(transcriber, translator, &fakeSynthesizer{dir: tempDir}, nil,
		pipeline.Config{TempDir: tempDir}, log)

	if opts.UploadDir == "" {
		opts.UploadDir = t.TempDir()
	}

	server, err := web.NewServer(pipe, rec, opts, log)
	require.NoError(t, err)

	t.Cleanup(server.Close)

	return &fixture{
		server:      server,
		handler:     server.Handler(),
		transcriber: transcriber,
		translator:  translator,
		tempDir:     tempDir,
		uploadDir:   opts.UploadDir,
	}
}

func (f *fixture) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()

	response := httptest.NewRecorder()
	f.handler.ServeHTTP(response, req)

	return response
}

func (f *fixture) postJSON(t *testing.T, path string, body any, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()

	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")

	for _, cookie := range cookies {
		req.AddCookie(cookie)
	}

	return f.do(t, req)
}

func decode[T any](t *testing.T, response *httptest.ResponseRecorder) T {
	t.Helper()

	var value T
	require.NoError(t, json.Unmarshal(response.Body.Bytes(), &value))

	return value
}

type errorBody struct {
	Error string `json:"error"`
	Stage string `json:"stage"`
}

type translateBody struct {
	SourceText     string `json:"source_text"`
	TranslatedText string `json:"translated_text"`
	AudioURL       string `json:"audio_url"`
	SpeechLanguage string `json:"speech_language"`
}

func sine(seconds, amplitude float64) audio.Buffer {
	rate := audio.DefaultSampleRate
	samples := make([]float64, int(seconds*float64(rate)))

	for index := range samples {
		samples[index] = amplitude * math.Sin(2*math.Pi*440*float64(index)/float64(rate))
	}

	return audio.Buffer{Samples: samples, SampleRate: rate}
}

func TestIndex_RendersLanguages(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil, web.Options{})
	response := f.do(t, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusOK, response.Code)
	assert.Contains(t, response.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, response.Body.String(), `<option value="Vietnamese">`)
	assert.Contains(t, response.Body.String(), `<option value="French" selected>`)
	assert.Contains(t, response.Body.String(), `min="1" max="5" step="0.1" value="2.0"`)
	assert.Contains(t, response.Body.String(), `accept=".wav,.mp3,.ogg"`)
}

func TestHealthAndLanguages(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil, web.Options{})

	health := f.do(t, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, health.Code)
	assert.JSONEq(t, `{"status":"ok"}`, health.Body.String())

	languages := f.do(t, httptest.NewRequest(http.MethodGet, "/api/languages", nil))
	require.Equal(t, http.StatusOK, languages.Code)

	tags := decode[[]map[string]string](t, languages)
	require.Len(t, tags, 7)
	assert.Equal(t, map[string]string{"name": "English", "code": "en"}, tags[0])
	assert.Contains(t, tags, map[string]string{"name": "Chinese", "code": "zh-CN"})
}

func TestTranslate_AudioSurvivesRangeRequest(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil, web.Options{})
	response := f.postJSON(t, "/api/translate", map[string]any{"text": "Hello", "source": "English", "target": "French"})
	require.Equal(t, http.StatusOK, response.Code, response.Body.String())

	body := decode[translateBody](t, response)
	assert.Equal(t, "Hello", body.SourceText)
	assert.Equal(t, "French: Hello", body.TranslatedText)
	assert.Equal(t, "French", body.SpeechLanguage)
	require.True(t, strings.HasPrefix(body.AudioURL, "/api/audio/"))

	partial := httptest.NewRequest(http.MethodGet, body.AudioURL, nil)
	partial.Header.Set("Range", "bytes=0-1")

	first := f.do(t, partial)
	require.Equal(t, http.StatusPartialContent, first.Code)
	assert.Equal(t, "ID", first.Body.String())

	full := f.do(t, httptest.NewRequest(http.MethodGet, body.AudioURL, nil))
	require.Equal(t, http.StatusOK, full.Code)
	assert.Equal(t, "audio/mpeg", full.Header().Get("Content-Type"))
	assert.Equal(t, "ID3-audio", full.Body.String())

	entries, err := os.ReadDir(f.tempDir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	unknown := f.do(t, httptest.NewRequest(http.MethodGet, "/api/audio/not-an-id", nil))
	assert.Equal(t, http.StatusNotFound, unknown.Code)
}

func TestAudio_ExpiresAfterTTL(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil, web.Options{ArtifactTTL: 200 * time.Millisecond, SweepInterval: 10 * time.Millisecond})

	fetched := decode[translateBody](t, f.postJSON(t, "/api/translate", map[string]any{"text": "Hello"}))
	unfetched := decode[translateBody](t, f.postJSON(t, "/api/translate", map[string]any{"text": "Bye"}))

	first := f.do(t, httptest.NewRequest(http.MethodGet, fetched.AudioURL, nil))
	require.Equal(t, http.StatusOK, first.Code)

	require.Eventually(t, func() bool {
		entries, err := os.ReadDir(f.tempDir)

		return err == nil && len(entries) == 0
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		response := f.do(t, httptest.NewRequest(http.MethodGet, fetched.AudioURL, nil))

		return response.Code == http.StatusNotFound
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, http.StatusNotFound, f.do(t, httptest.NewRequest(http.MethodGet, unfetched.AudioURL, nil)).Code)
}

func TestTranslate_SkipSpeech(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil, web.Options{})
	response := f.postJSON(t, "/api/translate", map[string]any{"text": "Hello", "target": "Korean", "skip_speech": true})
	require.Equal(t, http.StatusOK, response.Code)

	body := decode[translateBody](t, response)
	assert.Equal(t, "Korean: Hello", body.TranslatedText)
	assert.Empty(t, body.AudioURL)
}

func TestTranslate_Errors(t *testing.T) {
	t.Parallel()

	t.Run("empty text", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, nil, web.Options{})
		response := f.postJSON(t, "/api/translate", map[string]any{"text": "   "})
		assert.Equal(t, http.StatusBadRequest, response.Code)
		assert.Equal(t, "input", decode[errorBody](t, response).Stage)
	})

	t.Run("malformed body", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, nil, web.Options{})
		req := httptest.NewRequest(http.MethodPost, "/api/translate", strings.NewReader("{"))
		assert.Equal(t, http.StatusBadRequest, f.do(t, req).Code)
	})

	t.Run("translator failure", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, nil, web.Options{})
		f.translator.fail = true

		response := f.postJSON(t, "/api/translate", map[string]any{"text": "Hello"})
		assert.Equal(t, http.StatusBadGateway, response.Code)

		body := decode[errorBody](t, response)
		assert.Equal(t, "translate", body.Stage)
		assert.Contains(t, body.Error, errTranslatorDown.Error())
	})
}

func TestRecord_Silence(t *testing.T) {
	t.Parallel()

	silent := audio.Buffer{Samples: make([]float64, 2*audio.DefaultSampleRate), SampleRate: audio.DefaultSampleRate}
	f := newFixture(t, &fakeRecorder{buffer: silent}, web.Options{})

	response := f.postJSON(t, "/api/record", map[string]any{"mode": "microphone", "duration": 2})
	assert.Equal(t, http.StatusUnprocessableEntity, response.Code)
	assert.Equal(t, "preprocess", decode[errorBody](t, response).Stage)
}

func TestRecord_ThenTranscribe(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakeRecorder{buffer: sine(1, 0.3)}, web.Options{})

	recorded := f.postJSON(t, "/api/record", map[string]any{"mode": "system", "duration": 1, "gain": 1.5})
	require.Equal(t, http.StatusOK, recorded.Code, recorded.Body.String())

	cookies := recorded.Result().Cookies()
	require.NotEmpty(t, cookies)
	assert.Contains(t, recorded.Body.String(), `"audio_url":"/api/record/audio"`)

	transcribed := f.postJSON(t, "/api/record/transcribe", map[string]any{"source": "Japanese"}, cookies...)
	require.Equal(t, http.StatusOK, transcribed.Code, transcribed.Body.String())
	assert.JSONEq(t, `{"source_text":"Hello"}`, transcribed.Body.String())
	assert.Equal(t, "ja", f.transcriber.gotLang)

	stranger := f.postJSON(t, "/api/record/transcribe", map[string]any{"source": "English"})
	assert.Equal(t, http.StatusConflict, stranger.Code)

	playbackRequest := httptest.NewRequest(http.MethodGet, "/api/record/audio", nil)
	for _, cookie := range cookies {
		playbackRequest.AddCookie(cookie)
	}

	playback := f.do(t, playbackRequest)
	require.Equal(t, http.StatusOK, playback.Code)
	assert.Equal(t, "audio/wav", playback.Header().Get("Content-Type"))
	assert.Equal(t, "RIFF", playback.Body.String()[:4])
}

func TestRecord_ExpiresAfterTTL(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakeRecorder{buffer: sine(1, 0.3)}, web.Options{
		RecordingTTL:  50 * time.Millisecond,
		SweepInterval: 10 * time.Millisecond,
	})

	var cookies []*http.Cookie

	for range 5 {
		recorded := f.postJSON(t, "/api/record", map[string]any{"duration": 1})
		require.Equal(t, http.StatusOK, recorded.Code, recorded.Body.String())

		cookies = recorded.Result().Cookies()
	}

	require.Eventually(t, func() bool {
		entries, err := os.ReadDir(f.tempDir)

		return err == nil && len(entries) == 0
	}, 2*time.Second, 10*time.Millisecond)

	expired := f.postJSON(t, "/api/record/transcribe", map[string]any{"source": "English"}, cookies...)
	assert.Equal(t, http.StatusConflict, expired.Code)
}

func TestRecord_Validation(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakeRecorder{buffer: sine(1, 0.3)}, web.Options{MaxRecordDuration: 10 * time.Second})

	tests := []struct {
		name string
		body map[string]any
	}{
		{name: "too short", body: map[string]any{"duration": 0.5}},
		{name: "too long", body: map[string]any{"duration": 11}},
		{name: "unknown mode", body: map[string]any{"mode": "line-in", "duration": 2}},
	}

	for _, tc := range tests {
		response := f.postJSON(t, "/api/record", tc.body)
		assert.Equal(t, http.StatusBadRequest, response.Code, tc.name)
	}
}

func TestRecord_Unavailable(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil, web.Options{})
	response := f.postJSON(t, "/api/record", map[string]any{"duration": 2})
	assert.Equal(t, http.StatusServiceUnavailable, response.Code)
}

func uploadRequest(t *testing.T, filename string, content []byte) *http.Request {
	t.Helper()

	var body bytes.Buffer

	writer := multipart.NewWriter(&body)
	require.NoError(t, writer.WriteField("source", "French"))

	part, err := writer.CreateFormFile("file", filename)
	require.NoError(t, err)

	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	return req
}

func TestUpload(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil, web.Options{MaxUploadBytes: 64})

	accepted := f.do(t, uploadRequest(t, "clip.wav", []byte("RIFF-not-really")))
	require.Equal(t, http.StatusOK, accepted.Code, accepted.Body.String())
	assert.JSONEq(t, `{"source_text":"Hello"}`, accepted.Body.String())
	assert.Equal(t, "fr", f.transcriber.gotLang)

	rejected := f.do(t, uploadRequest(t, "notes.txt", []byte("hello")))
	assert.Equal(t, http.StatusBadRequest, rejected.Code)

	tooLarge := f.do(t, uploadRequest(t, "long.mp3", bytes.Repeat([]byte{1}, 65)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, tooLarge.Code)

	entries, err := os.ReadDir(f.uploadDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestClose_ReleasesUnfetchedAudio(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil, web.Options{})
	response := f.postJSON(t, "/api/translate", map[string]any{"text": "Hello"})
	require.Equal(t, http.StatusOK, response.Code)

	matches, err := filepath.Glob(filepath.Join(f.tempDir, "speech-*.mp3"))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	f.server.Close()
	assert.NoFileExists(t, matches[0])
}
