// Package worker provides a NATS worker that answers translation requests.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/translator-service/internal/core"
	"github.com/book-expert/translator-service/internal/fileutil"
	"github.com/book-expert/translator-service/internal/pipeline"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

const (
	// DefaultHandleTimeout bounds one request from receipt to reply.
	DefaultHandleTimeout = 2 * time.Minute

	stageDecode = "decode"
	stageUpload = "upload"

	logFmtReceived  = "Received translation request %s (%s -> %s)"
	logFmtCompleted = "Completed translation request %s (audio %s, %s)"
	logFmtFailed    = "Translation request %s failed at %s: %v"

	logFmtDeleteFailed = "Failed to delete input audio %s: %v"
)

var (
	// ErrNoInput indicates a request with neither text nor an audio key.
	ErrNoInput = errors.New("request has neither text nor audio_key")
	// ErrTargetLanguageEmpty indicates a request without a target language.
	ErrTargetLanguageEmpty = errors.New("target_language cannot be empty")
)

// NatsWorker listens for translation requests on a NATS subject and replies
// to each with a core.TranslationCompletedEvent.
type NatsWorker struct {
	natsConnection *nats.Conn
	subject        string
	store          core.ObjectStore
	pipeline       *pipeline.Pipeline
	tempDir        string
	timeout        time.Duration
	log            *logger.Logger
}

// NewNatsWorker creates a new instance of a NATS worker.
func NewNatsWorker(
	natsConnection *nats.Conn,
	subject string,
	store core.ObjectStore,
	pipe *pipeline.Pipeline,
	tempDir string,
	log *logger.Logger,
) (*NatsWorker, error) {
	if tempDir == "" {
		tempDir = os.TempDir()
	}

	return &NatsWorker{
		natsConnection: natsConnection,
		subject:        subject,
		store:          store,
		pipeline:       pipe,
		tempDir:        tempDir,
		timeout:        DefaultHandleTimeout,
		log:            log,
	}, nil
}

// Run starts the worker and begins listening for messages.
func (w *NatsWorker) Run(ctx context.Context) error {
	sub, err := w.natsConnection.Subscribe(w.subject, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.subject, err)
	}

	<-ctx.Done()

	drainErr := sub.Drain()
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

func (w *NatsWorker) handleMessage(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	reply := w.process(ctx, msg.Data)

	err := w.publishReplyEvent(msg, reply)
	if err != nil {
		w.log.Error("Failed to publish reply event for workflow %s: %v", reply.Header.WorkflowID, err)
	}
}

// process never fails: errors are reported inside the reply.
func (w *NatsWorker) process(ctx context.Context, data []byte) *core.TranslationCompletedEvent {
	event, err := parseAndValidateEvent(data)
	if err != nil {
		reply := &core.TranslationCompletedEvent{Stage: stageDecode, Error: err.Error()}
		if event != nil {
			reply.Header = event.Header
		}

		w.log.Error(logFmtFailed, reply.Header.WorkflowID, stageDecode, err)

		return reply
	}

	w.log.Info(logFmtReceived, event.Header.WorkflowID, event.SourceLanguage, event.TargetLanguage)

	reply := &core.TranslationCompletedEvent{Header: event.Header}

	result, err := w.runPipeline(ctx, event)
	reply.SourceText = result.SourceText
	reply.TranslatedText = result.TranslatedText

	if err != nil {
		return w.fail(reply, err)
	}

	if !result.HasSpeech() {
		w.log.Info(logFmtCompleted, event.Header.WorkflowID, "skipped", "0 B")

		return reply
	}

	defer func() {
		_ = w.pipeline.ReleaseArtifact(result.Artifact.Path)
	}()

	audioKey, size, err := w.uploadArtifact(ctx, result.Artifact.Path)
	if err != nil {
		return w.fail(reply, &pipeline.StageError{Stage: stageUpload, Err: err})
	}

	reply.AudioKey = audioKey
	reply.SpeechLanguage = result.Artifact.Language
	w.log.Info(logFmtCompleted, event.Header.WorkflowID, audioKey, humanize.Bytes(uint64(size)))

	return reply
}

func (w *NatsWorker) runPipeline(ctx context.Context, event *core.TranslationRequestedEvent) (pipeline.Result, error) {
	if strings.TrimSpace(event.Text) != "" {
		return w.pipeline.TranslateText(ctx, pipeline.TextRequest{
			Text:           event.Text,
			SourceLanguage: event.SourceLanguage,
			TargetLanguage: event.TargetLanguage,
			SkipSpeech:     event.SkipSpeech,
		})
	}

	audioPath, err := w.downloadAudio(ctx, event.AudioKey)
	if err != nil {
		return pipeline.Result{}, &pipeline.StageError{Stage: pipeline.StageInput, Err: err}
	}

	defer func() {
		_ = w.pipeline.ReleaseArtifact(audioPath)
	}()

	result, err := w.pipeline.ProcessFile(ctx, pipeline.FileRequest{
		Path:           audioPath,
		SourceLanguage: event.SourceLanguage,
		TargetLanguage: event.TargetLanguage,
		SkipSpeech:     event.SkipSpeech,
	})
	if err != nil {
		return result, err
	}

	// The input is kept on failure so the requester can retry.
	deleteErr := w.store.Delete(ctx, event.AudioKey)
	if deleteErr != nil {
		w.log.Warn(logFmtDeleteFailed, event.AudioKey, deleteErr)
	}

	return result, nil
}

// downloadAudio copies the object under key into a local temporary file.
func (w *NatsWorker) downloadAudio(ctx context.Context, key string) (string, error) {
	data, err := w.store.Download(ctx, key)
	if err != nil {
		return "", fmt.Errorf("failed to download audio for key '%s': %w", key, err)
	}

	path, err := fileutil.SaveUpload(w.tempDir, key, bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to stage audio for key '%s': %w", key, err)
	}

	return path, nil
}

func (w *NatsWorker) uploadArtifact(ctx context.Context, path string) (string, int, error) {
	audioData, err := os.ReadFile(path)
	if err != nil {
		return "", 0, fmt.Errorf("failed to read artifact: %w", err)
	}

	audioKey := uuid.NewString() + filepath.Ext(path)

	err = w.store.Upload(ctx, audioKey, audioData)
	if err != nil {
		return "", 0, fmt.Errorf("failed to upload audio data for key '%s': %w", audioKey, err)
	}

	return audioKey, len(audioData), nil
}

func (w *NatsWorker) fail(reply *core.TranslationCompletedEvent, err error) *core.TranslationCompletedEvent {
	reply.Stage = string(pipeline.StageOf(err))
	reply.Error = err.Error()
	w.log.Error(logFmtFailed, reply.Header.WorkflowID, reply.Stage, err)

	return reply
}

// publishReplyEvent marshals and responds with the TranslationCompletedEvent.
func (w *NatsWorker) publishReplyEvent(msg *nats.Msg, replyEvent *core.TranslationCompletedEvent) error {
	if msg.Reply == "" {
		return nil
	}

	replyData, err := json.Marshal(replyEvent)
	if err != nil {
		return fmt.Errorf("failed to marshal reply event: %w", err)
	}

	err = msg.Respond(replyData)
	if err != nil {
		return fmt.Errorf("failed to publish reply event: %w", err)
	}

	return nil
}

func parseAndValidateEvent(data []byte) (*core.TranslationRequestedEvent, error) {
	var event core.TranslationRequestedEvent

	err := json.Unmarshal(data, &event)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}

	if strings.TrimSpace(event.Text) == "" && event.AudioKey == "" {
		return &event, ErrNoInput
	}

	if strings.TrimSpace(event.TargetLanguage) == "" {
		return &event, ErrTargetLanguageEmpty
	}

	return &event, nil
}
