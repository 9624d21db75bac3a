// Package transcribe uploads audio files to a hosted Whisper endpoint that
// speaks the OpenAI audio transcription protocol.
package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/translator-service/internal/config"
)

// Error messages.
const (
	errFailedToOpenFile        = "failed to open audio file: %w"
	errFailedToCreateFormFile  = "failed to create form file: %w"
	errFailedToCopyFileData    = "failed to copy file data: %w"
	errFailedToWriteField      = "failed to write %s field: %w"
	errFailedToCloseWriter     = "failed to close multipart writer: %w"
	errFailedToCreateRequest   = "failed to create request: %w"
	errFailedToMakeRequest     = "failed to make request: %w"
	errAPIRequestFailed        = "%w: status %d: %s"
	errFailedToDecodeResponse  = "failed to decode response: %w"
	logFailedToCloseFile       = "failed to close audio file: %v"
	logFailedToCloseRespBody   = "failed to close response body: %v"
	logTranscriptionSuccessful = "Transcribed %s (%d characters)"
)

// Form field names.
const (
	formFieldFile           = "file"
	formFieldModel          = "model"
	formFieldLanguage       = "language"
	formFieldPrompt         = "prompt"
	formFieldResponseFormat = "response_format"
	formFieldTemperature    = "temperature"
)

// Defaults for the hosted endpoint.
const (
	DefaultBaseURL = config.DefaultGroqBaseURL
	DefaultModel   = config.DefaultTranscriptionModel
	DefaultPrompt  = config.DefaultTranscriptionPrompt
	DefaultTimeout = time.Duration(config.DefaultRequestTimeout) * time.Second

	transcriptionsPath = "/audio/transcriptions"
	responseFormatJSON = "json"
	responseVerbose    = "verbose_json"
	zeroTemperature    = "0"
	maxErrorBodyBytes  = 4096
)

var (
	// ErrRequestFailed indicates a non-200 response from the endpoint.
	ErrRequestFailed = errors.New("transcription request failed")
	// ErrUnexpectedResponse indicates a response without a string text field.
	ErrUnexpectedResponse = errors.New("unexpected transcription response")
)

// Transcript is a successful transcription. An empty Text means the audio
// contained no recognizable speech; failures are reported as errors instead.
type Transcript struct {
	Text          string
	Confidence    float64
	HasConfidence bool
}

// Empty reports whether nothing was transcribed.
func (t Transcript) Empty() bool {
	return strings.TrimSpace(t.Text) == ""
}

// Options configures a Client.
type Options struct {
	BaseURL string
	Model   string
	Prompt  string
	Timeout time.Duration
}

// Client provides Whisper API client functionality.
type Client struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
	model      string
	prompt     string
	log        *logger.Logger
}

// NewClient creates a new Whisper API client. Zero option values fall back to
// the package defaults.
func NewClient(apiKey string, opts Options, log *logger.Logger) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}

	if opts.Model == "" {
		opts.Model = DefaultModel
	}

	if opts.Prompt == "" {
		opts.Prompt = DefaultPrompt
	}

	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	return &Client{
		httpClient: &http.Client{Timeout: opts.Timeout},
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		model:      opts.Model,
		prompt:     opts.Prompt,
		log:        log,
	}
}

// Model returns the configured transcription model.
func (c *Client) Model() string {
	return c.model
}

// Transcribe uploads the file at audioPath with zero-temperature decoding and
// returns the transcript. language is an ISO-639-1 hint and may be empty.
func (c *Client) Transcribe(ctx context.Context, audioPath, language string) (Transcript, error) {
	result, err := c.post(ctx, audioPath, language, responseFormatJSON)
	if err != nil {
		return Transcript{}, err
	}

	text, ok := result["text"].(string)
	if !ok {
		return Transcript{}, fmt.Errorf("%w: missing text field", ErrUnexpectedResponse)
	}

	text = strings.TrimSpace(text)
	c.log.Info(logTranscriptionSuccessful, filepath.Base(audioPath), len(text))

	return Transcript{Text: text}, nil
}

// TranscribeVerbose returns the raw verbose_json document, which carries
// segment and timing information.
func (c *Client) TranscribeVerbose(ctx context.Context, audioPath, language string) (map[string]any, error) {
	return c.post(ctx, audioPath, language, responseVerbose)
}

func (c *Client) post(ctx context.Context, audioPath, language, format string) (map[string]any, error) {
	body, contentType, err := c.buildForm(audioPath, language, format)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+transcriptionsPath, body)
	if err != nil {
		return nil, fmt.Errorf(errFailedToCreateRequest, err)
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf(errFailedToMakeRequest, err)
	}

	defer func() {
		closeErr := resp.Body.Close()
		if closeErr != nil {
			c.log.Warn(logFailedToCloseRespBody, closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))

		return nil, fmt.Errorf(errAPIRequestFailed, ErrRequestFailed, resp.StatusCode, strings.TrimSpace(string(errBody)))
	}

	var result map[string]any

	decodeErr := json.NewDecoder(resp.Body).Decode(&result)
	if decodeErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnexpectedResponse, fmt.Errorf(errFailedToDecodeResponse, decodeErr))
	}

	if result == nil {
		return nil, fmt.Errorf("%w: empty document", ErrUnexpectedResponse)
	}

	return result, nil
}

func (c *Client) buildForm(audioPath, language, format string) (*bytes.Buffer, string, error) {
	file, err := os.Open(audioPath)
	if err != nil {
		return nil, "", fmt.Errorf(errFailedToOpenFile, err)
	}

	defer func() {
		closeErr := file.Close()
		if closeErr != nil {
			c.log.Warn(logFailedToCloseFile, closeErr)
		}
	}()

	var buf bytes.Buffer

	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile(formFieldFile, filepath.Base(audioPath))
	if err != nil {
		return nil, "", fmt.Errorf(errFailedToCreateFormFile, err)
	}

	_, err = io.Copy(part, file)
	if err != nil {
		return nil, "", fmt.Errorf(errFailedToCopyFileData, err)
	}

	fields := [][2]string{
		{formFieldModel, c.model},
		{formFieldPrompt, c.prompt},
		{formFieldResponseFormat, format},
		{formFieldTemperature, zeroTemperature},
	}
	if language != "" {
		fields = append(fields, [2]string{formFieldLanguage, language})
	}

	for _, field := range fields {
		err = writer.WriteField(field[0], field[1])
		if err != nil {
			return nil, "", fmt.Errorf(errFailedToWriteField, field[0], err)
		}
	}

	closeErr := writer.Close()
	if closeErr != nil {
		return nil, "", fmt.Errorf(errFailedToCloseWriter, closeErr)
	}

	return &buf, writer.FormDataContentType(), nil
}
