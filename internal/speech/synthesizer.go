package speech

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/book-expert/logger"
	"github.com/book-expert/translator-service/internal/language"
	"github.com/book-expert/translator-service/internal/tempfile"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
)

const (
	// FallbackCode is spoken when the requested language is unsupported.
	FallbackCode = language.DefaultCode

	artifactPrefix = "speech-"

	logFmtFallback    = "Language code %s not supported by %s engine, falling back to %s"
	logFmtSynthesized = "Synthesized %s speech with %s engine to %s (%s)"
	logFmtCleanup     = "Failed to remove partial artifact %s: %v"
)

var (
	// ErrTextEmpty indicates that there was nothing to speak.
	ErrTextEmpty = errors.New("text cannot be empty")
	// ErrEngineFailed indicates that the synthesis engine returned an error.
	ErrEngineFailed = errors.New("speech engine failed")
)

// Artifact is a synthesized audio file. The caller owns the file and must
// remove it.
type Artifact struct {
	Path     string
	Language string
	FellBack bool
	Size     int64
}

// Synthesizer resolves languages and writes engine output to unique
// temporary files.
type Synthesizer struct {
	engine  Engine
	tempDir string
	remover *tempfile.Remover
	log     *logger.Logger
}

// NewSynthesizer creates a Synthesizer writing artifacts into tempDir, or the
// OS temporary directory when tempDir is empty.
func NewSynthesizer(engine Engine, tempDir string, remover *tempfile.Remover, log *logger.Logger) *Synthesizer {
	if tempDir == "" {
		tempDir = os.TempDir()
	}

	if remover == nil {
		remover = tempfile.NewRemover()
	}

	return &Synthesizer{
		engine:  engine,
		tempDir: tempDir,
		remover: remover,
		log:     log,
	}
}

// Engine returns the underlying engine.
func (s *Synthesizer) Engine() Engine {
	return s.engine
}

// ResolveLanguage maps a display name or code to an engine code. Unsupported
// languages resolve to FallbackCode and report fellBack.
func (s *Synthesizer) ResolveLanguage(lang string) (code string, fellBack bool) {
	code = language.Code(strings.TrimSpace(lang))

	if _, ok := s.engine.SupportedLanguages()[code]; ok {
		return code, false
	}

	return FallbackCode, true
}

// Synthesize speaks text in lang, a display name such as "French" or a code
// such as "fr", and returns the artifact. An unsupported language is spoken
// in English instead of failing.
func (s *Synthesizer) Synthesize(ctx context.Context, text, lang string) (Artifact, error) {
	if strings.TrimSpace(text) == "" {
		return Artifact{}, ErrTextEmpty
	}

	code, fellBack := s.ResolveLanguage(lang)
	if fellBack {
		s.log.Warn(logFmtFallback, language.Code(lang), s.engine.Name(), code)
	}

	path := filepath.Join(s.tempDir, artifactPrefix+uuid.NewString()+s.engine.Extension())

	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return Artifact{}, fmt.Errorf("failed to create artifact file: %w", err)
	}

	synthErr := s.engine.Synthesize(ctx, text, code, file)
	closeErr := file.Close()

	if synthErr != nil || closeErr != nil {
		s.discard(path)

		if synthErr != nil {
			return Artifact{}, fmt.Errorf("%w: %s: %w", ErrEngineFailed, s.engine.Name(), synthErr)
		}

		return Artifact{}, fmt.Errorf("failed to close artifact file: %w", closeErr)
	}

	info, err := os.Stat(path)
	if err != nil {
		s.discard(path)

		return Artifact{}, fmt.Errorf("failed to stat artifact file: %w", err)
	}

	s.log.Info(logFmtSynthesized, code, s.engine.Name(), path, formatBytes(info.Size()))

	return Artifact{
		Path:     path,
		Language: code,
		FellBack: fellBack,
		Size:     info.Size(),
	}, nil
}

// HealthCheck reports engine availability when the engine supports it.
func (s *Synthesizer) HealthCheck(ctx context.Context) error {
	checker, ok := s.engine.(HealthChecker)
	if !ok {
		return nil
	}

	return checker.HealthCheck(ctx)
}

func (s *Synthesizer) discard(path string) {
	err := s.remover.Remove(path)
	if err != nil {
		s.log.Warn(logFmtCleanup, path, err)
	}
}

func formatBytes(size int64) string {
	if size < 0 {
		size = 0
	}

	return humanize.Bytes(uint64(size))
}
