// Package pipeline sequences preprocessing, transcription, translation and
// speech synthesis for one user request. Every stage runs synchronously and
// the first failure ends the request.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/book-expert/logger"
	"github.com/book-expert/translator-service/internal/audio"
	"github.com/book-expert/translator-service/internal/core"
	"github.com/book-expert/translator-service/internal/language"
	"github.com/book-expert/translator-service/internal/speech"
	"github.com/book-expert/translator-service/internal/tempfile"
	"github.com/google/uuid"
)

// Stage names a pipeline step in errors and replies.
type Stage string

// Pipeline stages.
const (
	StageInput      Stage = "input"
	StagePreprocess Stage = "preprocess"
	StageTranscribe Stage = "transcribe"
	StageTranslate  Stage = "translate"
	StageSynthesize Stage = "synthesize"
	StageCleanup    Stage = "cleanup"
)

const (
	recordingPrefix = "recording-"

	logFmtNoSpeech       = "No speech detected in %s"
	logFmtCleanupWarning = "Could not remove temporary file %s: %v"
	logFmtTranslated     = "Translated %s to %s (%d characters)"
)

var (
	// ErrNoSpeech indicates that the input contained no detectable speech.
	ErrNoSpeech = errors.New("no speech detected")
	// ErrEmptyText indicates that there was no text to translate.
	ErrEmptyText = errors.New("no text to translate")
	// ErrCleanupFailed indicates a temporary file that could not be removed.
	// It is a warning: the request itself succeeded.
	ErrCleanupFailed = errors.New("temporary file cleanup failed")
)

// StageError records which stage of a request failed.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// StageOf returns the failing stage of err, or "" when err carries none.
func StageOf(err error) Stage {
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		return stageErr.Stage
	}

	return ""
}

func stageError(stage Stage, err error) error {
	return &StageError{Stage: stage, Err: err}
}

// TextRequest translates typed text.
type TextRequest struct {
	Text           string
	SourceLanguage string
	TargetLanguage string
	SkipSpeech     bool
}

// RecordingRequest translates a captured buffer after preprocessing it with
// Gain.
type RecordingRequest struct {
	Buffer         audio.Buffer
	Gain           float64
	SourceLanguage string
	TargetLanguage string
	SkipSpeech     bool
}

// FileRequest translates an audio file already on disk.
type FileRequest struct {
	Path           string
	SourceLanguage string
	TargetLanguage string
	SkipSpeech     bool
}

// Result is the outcome of a successful request. Artifact.Path is empty when
// speech was skipped; otherwise the caller owns the file and releases it with
// ReleaseArtifact.
type Result struct {
	SourceText     string
	TranslatedText string
	Artifact       speech.Artifact
}

// HasSpeech reports whether the result carries an audio artifact.
func (r Result) HasSpeech() bool {
	return r.Artifact.Path != ""
}

// Config holds the pipeline settings.
type Config struct {
	Audio   audio.Options
	TempDir string
}

// Pipeline holds explicit handles to every remote client.
type Pipeline struct {
	transcriber core.Transcriber
	translator  core.Translator
	synthesizer core.Synthesizer
	remover     *tempfile.Remover
	cfg         Config
	log         *logger.Logger
}

// New creates a Pipeline. Zero audio options fall back to the defaults.
func New(
	transcriber core.Transcriber,
	translator core.Translator,
	synthesizer core.Synthesizer,
	remover *tempfile.Remover,
	cfg Config,
	log *logger.Logger,
) *Pipeline {
	if cfg.Audio == (audio.Options{}) {
		cfg.Audio = audio.NewDefaultOptions()
	}

	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}

	if remover == nil {
		remover = tempfile.NewRemover()
	}

	return &Pipeline{
		transcriber: transcriber,
		translator:  translator,
		synthesizer: synthesizer,
		remover:     remover,
		cfg:         cfg,
		log:         log,
	}
}

// AudioOptions returns the configured preprocessing options.
func (p *Pipeline) AudioOptions() audio.Options {
	return p.cfg.Audio
}

// TranslateText translates typed text and speaks the result.
func (p *Pipeline) TranslateText(ctx context.Context, req TextRequest) (Result, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return Result{}, stageError(StageInput, ErrEmptyText)
	}

	return p.translateAndSpeak(ctx, text, req.SourceLanguage, req.TargetLanguage, req.SkipSpeech)
}

// ProcessRecording preprocesses buf, transcribes it and continues with the
// transcript. A buffer with no speech fails with ErrNoSpeech before any
// remote call.
func (p *Pipeline) ProcessRecording(ctx context.Context, req RecordingRequest) (Result, error) {
	processed, err := p.Preprocess(req.Buffer, req.Gain)
	if err != nil {
		return Result{}, err
	}

	path, err := p.SaveRecording(processed)
	if err != nil {
		return Result{}, err
	}
	defer p.releaseQuietly(path)

	return p.ProcessFile(ctx, FileRequest{
		Path:           path,
		SourceLanguage: req.SourceLanguage,
		TargetLanguage: req.TargetLanguage,
		SkipSpeech:     req.SkipSpeech,
	})
}

// ProcessFile transcribes the audio file at req.Path and continues with the
// transcript.
func (p *Pipeline) ProcessFile(ctx context.Context, req FileRequest) (Result, error) {
	text, err := p.Transcribe(ctx, req.Path, req.SourceLanguage)
	if err != nil {
		return Result{}, err
	}

	return p.translateAndSpeak(ctx, text, req.SourceLanguage, req.TargetLanguage, req.SkipSpeech)
}

// Preprocess applies the high-pass filter, silence trimming and gain to buf.
// A zero gain uses the configured default.
func (p *Pipeline) Preprocess(buf audio.Buffer, gain float64) (audio.Buffer, error) {
	opts := p.cfg.Audio
	if gain != 0 {
		opts.Gain = gain
	}

	if buf.SampleRate == 0 {
		buf.SampleRate = opts.SampleRate
	}

	opts.SampleRate = buf.SampleRate

	processed, err := audio.Preprocess(buf, opts)
	if err != nil {
		return audio.Buffer{}, stageError(StagePreprocess, err)
	}

	if processed.IsEmpty() {
		p.log.Info(logFmtNoSpeech, "recording")

		return audio.Buffer{}, stageError(StagePreprocess, ErrNoSpeech)
	}

	return processed, nil
}

// SaveRecording writes buf as a uniquely named WAV file in the temporary
// directory. The caller owns the file.
func (p *Pipeline) SaveRecording(buf audio.Buffer) (string, error) {
	path := filepath.Join(p.cfg.TempDir, recordingPrefix+uuid.NewString()+".wav")

	err := audio.WriteWAVFile(path, buf)
	if err != nil {
		return "", stageError(StagePreprocess, err)
	}

	return path, nil
}

// Transcribe returns the transcript of the audio at path. sourceLanguage may
// be a display name or a code. An empty transcript is ErrNoSpeech.
func (p *Pipeline) Transcribe(ctx context.Context, path, sourceLanguage string) (string, error) {
	transcript, err := p.transcriber.Transcribe(ctx, path, TranscriptionHint(sourceLanguage))
	if err != nil {
		return "", stageError(StageTranscribe, err)
	}

	if transcript.Empty() {
		p.log.Info(logFmtNoSpeech, filepath.Base(path))

		return "", stageError(StageTranscribe, ErrNoSpeech)
	}

	return transcript.Text, nil
}

// Translate translates text without speaking it.
func (p *Pipeline) Translate(ctx context.Context, text, sourceLanguage, targetLanguage string) (string, error) {
	source := displayName(sourceLanguage)
	target := displayName(targetLanguage)

	translated, err := p.translator.Translate(ctx, text, source, target)
	if err != nil {
		return "", stageError(StageTranslate, err)
	}

	if strings.TrimSpace(translated) == "" {
		return "", stageError(StageTranslate, ErrEmptyText)
	}

	p.log.Info(logFmtTranslated, source, target, len(translated))

	return translated, nil
}

// Speak synthesizes text in targetLanguage.
func (p *Pipeline) Speak(ctx context.Context, text, targetLanguage string) (speech.Artifact, error) {
	artifact, err := p.synthesizer.Synthesize(ctx, text, targetLanguage)
	if err != nil {
		return speech.Artifact{}, stageError(StageSynthesize, err)
	}

	return artifact, nil
}

// ReleaseArtifact removes a file handed out by the pipeline, retrying
// transient failures. A failure after every retry is logged and returned
// wrapped in ErrCleanupFailed; callers treat it as a warning.
func (p *Pipeline) ReleaseArtifact(path string) error {
	err := p.remover.Remove(path)
	if err != nil {
		p.log.Warn(logFmtCleanupWarning, path, err)

		return stageError(StageCleanup, fmt.Errorf("%w: %w", ErrCleanupFailed, err))
	}

	return nil
}

func (p *Pipeline) translateAndSpeak(ctx context.Context, text, source, target string, skipSpeech bool) (Result, error) {
	translated, err := p.Translate(ctx, text, source, target)
	if err != nil {
		return Result{SourceText: text}, err
	}

	result := Result{SourceText: text, TranslatedText: translated}
	if skipSpeech {
		return result, nil
	}

	artifact, err := p.Speak(ctx, translated, target)
	if err != nil {
		return result, err
	}

	result.Artifact = artifact

	return result, nil
}

func (p *Pipeline) releaseQuietly(path string) {
	_ = p.ReleaseArtifact(path)
}

// TranscriptionHint converts a display name or code to the ISO-639-1 hint the
// transcription endpoint expects, for example "Chinese" to "zh".
func TranscriptionHint(sourceLanguage string) string {
	code := language.Code(strings.TrimSpace(sourceLanguage))

	primary, _, _ := strings.Cut(code, "-")
	if len(primary) < 2 || len(primary) > 3 {
		return ""
	}

	return strings.ToLower(primary)
}

func displayName(lang string) string {
	return language.Name(strings.TrimSpace(lang))
}
