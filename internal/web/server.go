// Package web serves the interactive translation page and its JSON API.
package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"sync"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/translator-service/internal/audio"
	"github.com/book-expert/translator-service/internal/fileutil"
	"github.com/book-expert/translator-service/internal/pipeline"
	"github.com/book-expert/translator-service/internal/recorder"
	"github.com/book-expert/translator-service/internal/translate"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
)

//go:embed templates/index.html
var templateFS embed.FS

const (
	// DefaultMaxUploadBytes limits uploaded audio files.
	DefaultMaxUploadBytes = 25 << 20
	// DefaultRequestsPerMinute is the per-IP API rate limit.
	DefaultRequestsPerMinute = 30
	// DefaultRecordingTTL is how long a browser's last recording is kept.
	DefaultRecordingTTL = 30 * time.Minute
	// DefaultArtifactTTL is how long synthesized audio stays fetchable.
	DefaultArtifactTTL = 10 * time.Minute
	// DefaultSweepInterval is how often expired recordings and audio are
	// released.
	DefaultSweepInterval = time.Minute

	multipartMemory = 1 << 20
)

// Recorder captures audio for the record endpoint.
type Recorder interface {
	Record(ctx context.Context, source recorder.Source, duration time.Duration) (audio.Buffer, error)
}

// Options configures a Server.
type Options struct {
	AllowedOrigins    []string
	RequestsPerMinute int
	MaxUploadBytes    int64
	UploadDir         string
	MaxRecordDuration time.Duration
	RecordingTTL      time.Duration
	ArtifactTTL       time.Duration
	SweepInterval     time.Duration
}

// Server owns the router and the per-browser state.
type Server struct {
	pipeline  *pipeline.Pipeline
	recorder  Recorder
	sessions  *sessionStore
	artifacts *artifactStore
	page      *template.Template
	opts      Options
	log       *logger.Logger
	router    chi.Router
	stop      chan struct{}
	stopOnce  sync.Once
	sweeping  sync.WaitGroup
}

// NewServer builds the router. rec may be nil when capture is unavailable.
func NewServer(pipe *pipeline.Pipeline, rec Recorder, opts Options, log *logger.Logger) (*Server, error) {
	page, err := template.ParseFS(templateFS, "templates/index.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse page template: %w", err)
	}

	if opts.RequestsPerMinute <= 0 {
		opts.RequestsPerMinute = DefaultRequestsPerMinute
	}

	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = DefaultMaxUploadBytes
	}

	if opts.MaxRecordDuration <= 0 {
		opts.MaxRecordDuration = recorder.DefaultMaxDuration
	}

	if opts.RecordingTTL <= 0 {
		opts.RecordingTTL = DefaultRecordingTTL
	}

	if opts.ArtifactTTL <= 0 {
		opts.ArtifactTTL = DefaultArtifactTTL
	}

	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}

	server := &Server{
		pipeline:  pipe,
		recorder:  rec,
		sessions:  newSessionStore(pipe, opts.RecordingTTL),
		artifacts: newArtifactStore(pipe, opts.ArtifactTTL),
		page:      page,
		opts:      opts,
		log:       log,
		stop:      make(chan struct{}),
	}
	server.router = server.routes()

	server.sweeping.Add(1)

	go server.sweep()

	return server, nil
}

// sweep releases expired recordings and audio until Close is called.
func (s *Server) sweep() {
	defer s.sweeping.Done()

	ticker := time.NewTicker(s.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case now := <-ticker.C:
			recordings := s.sessions.sweep(now)
			artifacts := s.artifacts.sweep(now)

			if recordings+artifacts > 0 {
				s.log.Info("Expired %d recordings and %d audio files", recordings, artifacts)
			}
		}
	}
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close stops the expiry sweep and removes every recording and unfetched
// artifact still held. It is safe to call more than once.
func (s *Server) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.sweeping.Wait()

	s.sessions.releaseAll()
	s.artifacts.releaseAll()
}

func (s *Server) routes() chi.Router {
	router := chi.NewRouter()
	router.Use(middleware.RealIP, middleware.Recoverer)

	if len(s.opts.AllowedOrigins) > 0 {
		router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.opts.AllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"Accept", "Content-Type"},
			AllowCredentials: true,
		}))
	}

	router.Get("/", s.handleIndex)
	router.Get("/healthz", s.handleHealth)

	router.Route("/api", func(api chi.Router) {
		api.Get("/languages", s.handleLanguages)
		api.Get("/audio/{id}", s.handleAudio)

		api.Group(func(limited chi.Router) {
			limited.Use(httprate.LimitByIP(s.opts.RequestsPerMinute, time.Minute))

			limited.Post("/translate", s.handleTranslate)
			limited.Post("/record", s.handleRecord)
			limited.Post("/record/transcribe", s.handleTranscribeRecording)
			limited.Get("/record/audio", s.handleRecordingAudio)
			limited.Post("/upload", s.handleUpload)
		})
	})

	return router
}

type errorResponse struct {
	Error string `json:"error"`
	Stage string `json:"stage,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("Request failed: %v", err)
	}

	writeJSON(w, status, errorResponse{Error: err.Error(), Stage: string(pipeline.StageOf(err))})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrNoSpeech):
		return http.StatusUnprocessableEntity
	case errors.Is(err, pipeline.ErrEmptyText),
		errors.Is(err, audio.ErrInvalidOptions),
		errors.Is(err, recorder.ErrInvalidDuration),
		errors.Is(err, recorder.ErrUnknownSource),
		errors.Is(err, fileutil.ErrUnsupportedAudio),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, fileutil.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, errNoRecording):
		return http.StatusConflict
	case errors.Is(err, translate.ErrClientNotInitialized), errors.Is(err, errRecorderUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}
