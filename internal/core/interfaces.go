// Package core defines the interfaces and events shared by the translator
// front ends.
package core

import (
	"context"

	"github.com/book-expert/translator-service/internal/speech"
	"github.com/book-expert/translator-service/internal/transcribe"
)

// ObjectStore defines the interface for interacting with a key-value blob store.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
}

// Transcriber turns an audio file into text. language is a code hint such as
// "fr" and may be empty.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath, language string) (transcribe.Transcript, error)
}

// Translator translates text between two languages given by display name.
type Translator interface {
	Translate(ctx context.Context, text, sourceLanguage, targetLanguage string) (string, error)
}

// Synthesizer speaks text and returns a temporary audio artifact owned by the
// caller.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, lang string) (speech.Artifact, error)
}
