// Package worker_test tests the NATS worker for the translator service.
package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/book-expert/translator-service/internal/core"
	"github.com/book-expert/translator-service/internal/pipeline"
	"github.com/book-expert/translator-service/internal/speech"
	"github.com/book-expert/translator-service/internal/transcribe"
	"github.com/book-expert/translator-service/internal/worker"
	"github.com/google/uuid"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSubject = "translation.requested"

var (
	errMockDownload = errors.New("mock download error")
	errMockUpload   = errors.New("mock upload error")
)

// mockObjectStore is an in-memory implementation of the ObjectStore interface.
type mockObjectStore struct {
	mutex            sync.Mutex
	objects          map[string][]byte
	uploadShouldFail bool
}

func newMockObjectStore() *mockObjectStore {
	return &mockObjectStore{objects: make(map[string][]byte)}
}

func (m *mockObjectStore) Download(_ context.Context, key string) ([]byte, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	data, ok := m.objects[key]
	if !ok {
		return nil, errMockDownload
	}

	return data, nil
}

func (m *mockObjectStore) Upload(_ context.Context, key string, data []byte) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.uploadShouldFail {
		return errMockUpload
	}

	m.objects[key] = data

	return nil
}

func (m *mockObjectStore) Delete(_ context.Context, key string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	delete(m.objects, key)

	return nil
}

func (m *mockObjectStore) get(key string) ([]byte, bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	data, ok := m.objects[key]

	return data, ok
}

type mockTranscriber struct{}

func (mockTranscriber) Transcribe(_ context.Context, path, _ string) (transcribe.Transcript, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return transcribe.Transcript{}, err
	}

	return transcribe.Transcript{Text: string(data)}, nil
}

type mockTranslator struct{}

func (mockTranslator) Translate(_ context.Context, text, _, target string) (string, error) {
	return "[" + target + "] " + text, nil
}

type mockSynthesizer struct {
	dir string
}

func (m mockSynthesizer) Synthesize(_ context.Context, text, lang string) (speech.Artifact, error) {
	path := filepath.Join(m.dir, "speech-"+uuid.NewString()+".mp3")

	err := os.WriteFile(path, []byte("ID3:"+text), 0o600)
	if err != nil {
		return speech.Artifact{}, err
	}

	return speech.Artifact{Path: path, Language: lang}, nil
}

func createTestNatsClient(t *testing.T) *nats.Conn {
	t.Helper()

	opts := test.DefaultTestOptions
	opts.Port = -1
	opts.JetStream = true
	opts.StoreDir = t.TempDir()
	server := test.RunServer(&opts)

	natsConnection, err := nats.Connect(server.ClientURL())
	if err != nil {
		t.Fatalf("Failed to connect to test NATS server: %v", err)
	}

	t.Cleanup(func() {
		natsConnection.Close()
		server.Shutdown()
	})

	return natsConnection
}

func setupTest(t *testing.T) (*mockObjectStore, *nats.Conn, string) {
	t.Helper()

	store := newMockObjectStore()
	natsConnection := createTestNatsClient(t)

	testLogger, err := logger.New(t.TempDir(), "worker-test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = testLogger.Close() })

	artifactDir := t.TempDir()
	pipe := pipeline.New(mockTranscriber{}, mockTranslator{}, mockSynthesizer{dir: artifactDir}, nil,
		pipeline.Config{TempDir: t.TempDir()}, testLogger)

	workerInstance, err := worker.NewNatsWorker(natsConnection, testSubject, store, pipe, t.TempDir(), testLogger)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errChan := make(chan error, 1)

	go func() {
		errChan <- workerInstance.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-errChan, "worker.Run should not error on graceful shutdown")
	})

	return store, natsConnection, artifactDir
}

func request(t *testing.T, natsConnection *nats.Conn, event core.TranslationRequestedEvent) core.TranslationCompletedEvent {
	t.Helper()

	eventData, err := json.Marshal(event)
	require.NoError(t, err)

	return requestRaw(t, natsConnection, eventData)
}

// requestRaw retries until the worker's subscription is live.
func requestRaw(t *testing.T, natsConnection *nats.Conn, eventData []byte) core.TranslationCompletedEvent {
	t.Helper()

	var (
		replyMsg *nats.Msg
		err      error
	)

	require.Eventually(t, func() bool {
		replyMsg, err = natsConnection.Request(testSubject, eventData, time.Second)

		return err == nil
	}, 5*time.Second, 50*time.Millisecond, "Request should succeed and receive a reply")

	var reply core.TranslationCompletedEvent

	require.NoError(t, json.Unmarshal(replyMsg.Data, &reply))

	return reply
}

func newHeader() events.EventHeader {
	return events.EventHeader{
		Timestamp:  time.Now(),
		WorkflowID: uuid.NewString(),
		EventID:    uuid.NewString(),
	}
}

func TestMessageHandler_TextRequest(t *testing.T) {
	t.Parallel()

	store, natsConnection, artifactDir := setupTest(t)

	testEvent := core.TranslationRequestedEvent{
		Header:         newHeader(),
		Text:           "Hello",
		SourceLanguage: "English",
		TargetLanguage: "French",
	}

	reply := request(t, natsConnection, testEvent)

	assert.Empty(t, reply.Error)
	assert.Equal(t, testEvent.Header.WorkflowID, reply.Header.WorkflowID)
	assert.Equal(t, "Hello", reply.SourceText)
	assert.Equal(t, "[French] Hello", reply.TranslatedText)
	assert.Equal(t, "French", reply.SpeechLanguage)
	require.NotEmpty(t, reply.AudioKey)
	assert.Equal(t, ".mp3", filepath.Ext(reply.AudioKey))

	data, ok := store.get(reply.AudioKey)
	require.True(t, ok, "the artifact should have been uploaded")
	assert.Equal(t, "ID3:[French] Hello", string(data))

	entries, err := os.ReadDir(artifactDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "the local artifact should have been released")
}

func TestMessageHandler_AudioRequest(t *testing.T) {
	t.Parallel()

	store, natsConnection, _ := setupTest(t)
	require.NoError(t, store.Upload(context.Background(), "question.wav", []byte("Where is the station?")))

	reply := request(t, natsConnection, core.TranslationRequestedEvent{
		Header:         newHeader(),
		AudioKey:       "question.wav",
		SourceLanguage: "English",
		TargetLanguage: "Japanese",
		SkipSpeech:     true,
	})

	assert.Empty(t, reply.Error)
	assert.Equal(t, "Where is the station?", reply.SourceText)
	assert.Equal(t, "[Japanese] Where is the station?", reply.TranslatedText)
	assert.Empty(t, reply.AudioKey)

	_, ok := store.get("question.wav")
	assert.False(t, ok, "the input audio should be deleted once processed")
}

func TestMessageHandler_FailedAudioRequestKeepsInput(t *testing.T) {
	t.Parallel()

	store, natsConnection, _ := setupTest(t)
	require.NoError(t, store.Upload(context.Background(), "empty.wav", []byte("   ")))

	reply := request(t, natsConnection, core.TranslationRequestedEvent{
		Header:         newHeader(),
		AudioKey:       "empty.wav",
		TargetLanguage: "French",
	})

	require.NotEmpty(t, reply.Error)

	_, ok := store.get("empty.wav")
	assert.True(t, ok, "the input audio should survive a failed request")
}

func TestMessageHandler_MissingAudio(t *testing.T) {
	t.Parallel()

	_, natsConnection, _ := setupTest(t)

	reply := request(t, natsConnection, core.TranslationRequestedEvent{
		Header:         newHeader(),
		AudioKey:       "missing.wav",
		TargetLanguage: "French",
	})

	assert.Equal(t, string(pipeline.StageInput), reply.Stage)
	assert.Contains(t, reply.Error, "mock download error")
}

func TestMessageHandler_UploadFailure(t *testing.T) {
	t.Parallel()

	store, natsConnection, _ := setupTest(t)
	store.mutex.Lock()
	store.uploadShouldFail = true
	store.mutex.Unlock()

	reply := request(t, natsConnection, core.TranslationRequestedEvent{
		Header:         newHeader(),
		Text:           "Hello",
		TargetLanguage: "French",
	})

	assert.Equal(t, "upload", reply.Stage)
	assert.Contains(t, reply.Error, "mock upload error")
	assert.Equal(t, "[French] Hello", reply.TranslatedText)
}

func TestMessageHandler_InvalidRequests(t *testing.T) {
	t.Parallel()

	_, natsConnection, _ := setupTest(t)

	reply := request(t, natsConnection, core.TranslationRequestedEvent{Header: newHeader(), TargetLanguage: "French"})
	assert.Equal(t, "decode", reply.Stage)
	assert.Contains(t, reply.Error, worker.ErrNoInput.Error())

	reply = request(t, natsConnection, core.TranslationRequestedEvent{Header: newHeader(), Text: "Hello"})
	assert.Contains(t, reply.Error, worker.ErrTargetLanguageEmpty.Error())

	reply = requestRaw(t, natsConnection, []byte(`{"header":`))
	assert.Equal(t, "decode", reply.Stage)
	assert.Contains(t, reply.Error, "failed to unmarshal event")
}
