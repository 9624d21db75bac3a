package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/book-expert/logger"
)

// API endpoints and paths.
const (
	apiGenerateSpeech = "/v1/generate/speech"
	apiHealth         = "/health"
)

// HTTP headers.
const (
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	contentTypeJSON   = "application/json"
	contentTypeMPEG   = "audio/mpeg"
)

const defaultServiceTemperature = 0.75

// Error messages.
const (
	errUnexpectedContentType   = "%w: unexpected content type: expected %s, got %s"
	errReceivedEmptyAudio      = "%w: received empty audio data"
	errFmtServiceErrorWithCode = "%w: TTS service error (%s): %s (code: %s)"
	errFmtServiceNonOKStatus   = "%w: TTS service returned non-OK status: %s, body: %s"
)

// ServiceRequest is the JSON payload accepted by the standalone TTS service.
type ServiceRequest struct {
	Text string `json:"text"`

	// SpeakerRefPath optionally names a server-side speaker reference file.
	SpeakerRefPath string `json:"speaker_ref_path,omitempty"`

	Language    string  `json:"language"`
	Temperature float64 `json:"temperature"`
}

// ServiceErrorResponse is the structured error body returned by the service.
type ServiceErrorResponse struct {
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code,omitempty"`
}

// ServiceEngine is a client for a standalone HTTP TTS service that returns MP3.
type ServiceEngine struct {
	httpClient *http.Client
	baseURL    string
	languages  map[string]string
	log        *logger.Logger
}

// NewServiceEngine creates a client for the service at baseURL, for example
// "http://localhost:8000". languages maps the codes the service can speak to
// their display names.
func NewServiceEngine(baseURL string, timeout time.Duration, languages map[string]string, log *logger.Logger) *ServiceEngine {
	return &ServiceEngine{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		languages:  maps.Clone(languages),
		log:        log,
	}
}

// Name implements Engine.
func (e *ServiceEngine) Name() string {
	return "service"
}

// Extension implements Engine.
func (e *ServiceEngine) Extension() string {
	return ".mp3"
}

// SupportedLanguages implements Engine.
func (e *ServiceEngine) SupportedLanguages() map[string]string {
	return maps.Clone(e.languages)
}

// Synthesize implements Engine.
func (e *ServiceEngine) Synthesize(ctx context.Context, text, code string, w io.Writer) error {
	audioData, err := e.GenerateSpeech(ctx, ServiceRequest{
		Text:        PrepareText(text),
		Language:    code,
		Temperature: defaultServiceTemperature,
	})
	if err != nil {
		return err
	}

	_, err = w.Write(audioData)
	if err != nil {
		return fmt.Errorf("failed to write audio data: %w", err)
	}

	return nil
}

// GenerateSpeech sends a generation request and returns the raw audio.
func (e *ServiceEngine) GenerateSpeech(ctx context.Context, req ServiceRequest) ([]byte, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, ErrTextEmpty
	}

	if req.Temperature == 0 {
		req.Temperature = defaultServiceTemperature
	}

	requestBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+apiGenerateSpeech, bytes.NewReader(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set(headerContentType, contentTypeJSON)
	httpReq.Header.Set(headerAccept, contentTypeMPEG)

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to TTS service at %s: %w", e.baseURL, err)
	}

	defer func() {
		closeErr := resp.Body.Close()
		if closeErr != nil {
			e.log.Warn("failed to close TTS service response body: %v", closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, parseErrorResponse(resp)
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get(headerContentType))
	if mediaType != contentTypeMPEG {
		return nil, fmt.Errorf(errUnexpectedContentType, ErrEngineFailed, contentTypeMPEG, resp.Header.Get(headerContentType))
	}

	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio data: %w", err)
	}

	if len(audioData) == 0 {
		return nil, fmt.Errorf(errReceivedEmptyAudio, ErrEngineFailed)
	}

	return audioData, nil
}

// HealthCheck verifies that the TTS service is running.
func (e *ServiceEngine) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+apiHealth, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed for service at %s: %w", e.baseURL, err)
	}

	defer func() {
		closeErr := resp.Body.Close()
		if closeErr != nil {
			e.log.Warn("failed to close health check response body: %v", closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: health check failed with status: %s", ErrEngineFailed, resp.Status)
	}

	return nil
}

// parseErrorResponse decodes a structured error, falling back to the raw body.
func parseErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))

	var errorResp ServiceErrorResponse

	err := json.Unmarshal(body, &errorResp)
	if err == nil && errorResp.Detail != "" {
		return fmt.Errorf(errFmtServiceErrorWithCode, ErrEngineFailed, resp.Status, errorResp.Detail, errorResp.ErrorCode)
	}

	return fmt.Errorf(errFmtServiceNonOKStatus, ErrEngineFailed, resp.Status, strings.TrimSpace(string(body)))
}
