// Package speech turns translated text into a temporary audio artifact.
package speech

import (
	"context"
	"io"
)

// Engine is a text-to-speech backend.
type Engine interface {
	// Synthesize writes audio for text spoken in the language identified by
	// code to w.
	Synthesize(ctx context.Context, text, code string, w io.Writer) error
	// SupportedLanguages maps language codes to display names.
	SupportedLanguages() map[string]string
	// Extension is the file extension of the audio written, with its dot.
	Extension() string
	// Name identifies the engine in logs.
	Name() string
}

// HealthChecker is implemented by engines that can report their availability.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}
