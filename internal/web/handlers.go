package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/book-expert/translator-service/internal/audio"
	"github.com/book-expert/translator-service/internal/fileutil"
	"github.com/book-expert/translator-service/internal/language"
	"github.com/book-expert/translator-service/internal/pipeline"
	"github.com/book-expert/translator-service/internal/recorder"
	"github.com/go-chi/chi/v5"
)

const (
	defaultSource = "English"
	defaultTarget = "French"
	audioPath     = "/api/audio/"

	recordingAudioPath = "/api/record/audio"
)

var (
	errBadRequest          = errors.New("bad request")
	errNoRecording         = errors.New("no recording in this session")
	errRecorderUnavailable = errors.New("recording is not available on this server")
)

type languageResponse struct {
	Name string `json:"name"`
	Code string `json:"code"`
}

type pageData struct {
	Languages   []language.Tag
	Source      string
	Target      string
	MaxRecord   int
	MinGain     float64
	MaxGain     float64
	DefaultGain float64
	Accept      string
}

type translateRequest struct {
	Text       string `json:"text"`
	Source     string `json:"source"`
	Target     string `json:"target"`
	SkipSpeech bool   `json:"skip_speech"`
}

type translateResponse struct {
	SourceText     string `json:"source_text"`
	TranslatedText string `json:"translated_text"`
	AudioURL       string `json:"audio_url,omitempty"`
	SpeechLanguage string `json:"speech_language,omitempty"`
	FellBack       bool   `json:"fell_back,omitempty"`
}

type recordRequest struct {
	Mode     string  `json:"mode"`
	Duration float64 `json:"duration"`
	Gain     float64 `json:"gain"`
}

type recordResponse struct {
	Seconds  float64 `json:"seconds"`
	Length   string  `json:"length"`
	Samples  int     `json:"samples"`
	AudioURL string  `json:"audio_url"`
}

type transcribeRequest struct {
	Source string `json:"source"`
}

type transcribeResponse struct {
	SourceText string `json:"source_text"`
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	err := s.page.Execute(w, pageData{
		Languages:   language.All(),
		Source:      defaultSource,
		Target:      defaultTarget,
		MaxRecord:   int(s.opts.MaxRecordDuration.Seconds()),
		MinGain:     audio.MinGain,
		MaxGain:     audio.MaxGain,
		DefaultGain: s.pipeline.AudioOptions().Gain,
		Accept:      strings.Join(fileutil.AudioExtensions(), ","),
	})
	if err != nil {
		s.log.Error("Failed to render page: %v", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLanguages(w http.ResponseWriter, _ *http.Request) {
	tags := language.All()

	response := make([]languageResponse, 0, len(tags))
	for _, tag := range tags {
		response = append(response, languageResponse{Name: tag.Name, Code: tag.Code})
	}

	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleTranslate(w http.ResponseWriter, r *http.Request) {
	var req translateRequest

	err := decodeJSON(r, &req)
	if err != nil {
		s.writeError(w, err)

		return
	}

	result, err := s.pipeline.TranslateText(r.Context(), pipeline.TextRequest{
		Text:           req.Text,
		SourceLanguage: orDefault(req.Source, defaultSource),
		TargetLanguage: orDefault(req.Target, defaultTarget),
		SkipSpeech:     req.SkipSpeech,
	})
	if err != nil {
		s.writeError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, s.translationResponse(result))
}

func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request) {
	if s.recorder == nil {
		s.writeError(w, errRecorderUnavailable)

		return
	}

	var req recordRequest

	err := decodeJSON(r, &req)
	if err != nil {
		s.writeError(w, err)

		return
	}

	source, err := recorder.ParseSource(req.Mode)
	if err != nil {
		s.writeError(w, err)

		return
	}

	duration := time.Duration(req.Duration * float64(time.Second))
	if duration < recorder.MinDuration || duration > s.opts.MaxRecordDuration {
		s.writeError(w, fmt.Errorf("%w: %.0f seconds, allowed 1 to %.0f", recorder.ErrInvalidDuration,
			req.Duration, s.opts.MaxRecordDuration.Seconds()))

		return
	}

	id := sessionID(w, r)

	raw, err := s.recorder.Record(r.Context(), source, duration)
	if err != nil {
		s.writeError(w, err)

		return
	}

	processed, err := s.pipeline.Preprocess(raw, req.Gain)
	if err != nil {
		s.writeError(w, err)

		return
	}

	path, err := s.pipeline.SaveRecording(processed)
	if err != nil {
		s.writeError(w, err)

		return
	}

	seconds := processed.Duration().Seconds()
	s.sessions.replace(id, recording{path: path, created: time.Now()})
	s.log.Info("Stored %s recording for session", fileutil.FormatDuration(seconds))

	writeJSON(w, http.StatusOK, recordResponse{
		Seconds:  seconds,
		Length:   fileutil.FormatDuration(seconds),
		Samples:  processed.Len(),
		AudioURL: recordingAudioPath,
	})
}

func (s *Server) handleTranscribeRecording(w http.ResponseWriter, r *http.Request) {
	var req transcribeRequest

	err := decodeJSON(r, &req)
	if err != nil {
		s.writeError(w, err)

		return
	}

	rec, ok := s.sessions.get(sessionID(w, r))
	if !ok {
		s.writeError(w, errNoRecording)

		return
	}

	text, err := s.pipeline.Transcribe(r.Context(), rec.path, orDefault(req.Source, defaultSource))
	if err != nil {
		s.writeError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, transcribeResponse{SourceText: text})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes+multipartMemory)

	file, header, err := r.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.writeError(w, fmt.Errorf("%w: limit is %s", fileutil.ErrFileTooLarge, fileutil.FormatFileSize(s.opts.MaxUploadBytes)))

			return
		}

		s.writeError(w, fmt.Errorf("%w: missing file field: %w", errBadRequest, err))

		return
	}
	defer file.Close()

	path, err := fileutil.SaveUpload(s.opts.UploadDir, header.Filename, file, s.opts.MaxUploadBytes)
	if err != nil {
		s.writeError(w, err)

		return
	}
	defer func() {
		_ = s.pipeline.ReleaseArtifact(path)
	}()

	s.log.Info("Received upload %s (%s)", fileutil.SanitizeFilename(header.Filename), fileutil.FormatFileSize(header.Size))

	text, err := s.pipeline.Transcribe(r.Context(), path, orDefault(r.FormValue("source"), defaultSource))
	if err != nil {
		s.writeError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, transcribeResponse{SourceText: text})
}

// handleAudio serves synthesized audio. The file leaves the disk on the first
// fetch; range requests and replays are answered from memory until the id
// expires.
func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	entry, ok, err := s.artifacts.fetch(chi.URLParam(r, "id"))
	if !ok {
		http.NotFound(w, r)

		return
	}

	if err != nil {
		s.log.Warn("Audio was loaded but could not be deleted: %v", err)
	}

	w.Header().Set("Content-Type", audioContentType(entry.path))
	w.Header().Set("Cache-Control", "no-store")
	http.ServeContent(w, r, filepath.Base(entry.path), entry.modTime, bytes.NewReader(entry.data))
}

// handleRecordingAudio plays back the caller's last processed recording.
func (s *Server) handleRecordingAudio(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.sessions.get(sessionID(w, r))
	if !ok {
		s.writeError(w, errNoRecording)

		return
	}

	file, err := os.Open(rec.path)
	if err != nil {
		s.writeError(w, errNoRecording)

		return
	}
	defer file.Close()

	w.Header().Set("Content-Type", audioContentType(rec.path))
	w.Header().Set("Cache-Control", "no-store")
	http.ServeContent(w, r, filepath.Base(rec.path), rec.created, file)
}

func (s *Server) translationResponse(result pipeline.Result) translateResponse {
	response := translateResponse{
		SourceText:     result.SourceText,
		TranslatedText: result.TranslatedText,
	}

	if result.HasSpeech() {
		response.AudioURL = audioPath + s.artifacts.register(result.Artifact.Path)
		response.SpeechLanguage = result.Artifact.Language
		response.FellBack = result.Artifact.FellBack
	}

	return response
}

func audioContentType(path string) string {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	default:
		if contentType := mime.TypeByExtension(ext); contentType != "" {
			return contentType
		}

		return "application/octet-stream"
	}
}

func decodeJSON(r *http.Request, target any) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, multipartMemory))
	decoder.DisallowUnknownFields()

	err := decoder.Decode(target)
	if err != nil {
		return fmt.Errorf("%w: invalid JSON body: %w", errBadRequest, err)
	}

	return nil
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}

	return value
}
