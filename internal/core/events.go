package core

import "github.com/book-expert/events"

// TranslationRequestedEvent asks a worker to translate either Text or the audio
// stored under AudioKey.
type TranslationRequestedEvent struct {
	Header         events.EventHeader `json:"header"`
	Text           string             `json:"text,omitempty"`
	AudioKey       string             `json:"audio_key,omitempty"`
	SourceLanguage string             `json:"source_language"`
	TargetLanguage string             `json:"target_language"`
	SkipSpeech     bool               `json:"skip_speech,omitempty"`
}

// TranslationCompletedEvent is the reply to a TranslationRequestedEvent. Error
// is set, and the other fields may be partial, when a stage failed.
type TranslationCompletedEvent struct {
	Header         events.EventHeader `json:"header"`
	SourceText     string             `json:"source_text,omitempty"`
	TranslatedText string             `json:"translated_text,omitempty"`
	AudioKey       string             `json:"audio_key,omitempty"`
	SpeechLanguage string             `json:"speech_language,omitempty"`
	Stage          string             `json:"stage,omitempty"`
	Error          string             `json:"error,omitempty"`
}
