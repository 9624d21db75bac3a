// Package translate asks a hosted chat-completion model to translate text
// between two human languages.
package translate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/translator-service/internal/config"
	"github.com/sashabaranov/go-openai"
)

const (
	// Temperature is the fixed sampling temperature for translations.
	Temperature float32 = 0.5
	// MaxTokens caps the length of a translation.
	MaxTokens = 1000

	promptFormat = "Translate the following text from %s to %s:\n\n%s\n\nTranslation:"

	logTranslationFailed = "Translation from %s to %s failed: %v"
	logTranslated        = "Translated %d characters from %s to %s"
)

var (
	// ErrClientNotInitialized indicates a nil or unconfigured client.
	ErrClientNotInitialized = errors.New("translation client not initialized")
	// ErrEmptyCompletion indicates a completion without choices.
	ErrEmptyCompletion = errors.New("translation response contained no choices")
)

// Options configures a Client.
type Options struct {
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Client wraps an OpenAI-compatible chat completion client.
type Client struct {
	api   *openai.Client
	model string
	log   *logger.Logger
}

// NewClient validates apiKey and creates a client for the configured endpoint.
func NewClient(apiKey string, opts Options, log *logger.Logger) (*Client, error) {
	err := config.ValidateAPIKey(apiKey)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize translation client: %w", err)
	}

	if opts.BaseURL == "" {
		opts.BaseURL = config.DefaultGroqBaseURL
	}

	if opts.Model == "" {
		opts.Model = config.DefaultTranslationModel
	}

	apiConfig := openai.DefaultConfig(apiKey)
	apiConfig.BaseURL = strings.TrimRight(opts.BaseURL, "/")

	if opts.Timeout > 0 {
		apiConfig.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}

	return &Client{
		api:   openai.NewClientWithConfig(apiConfig),
		model: opts.Model,
		log:   log,
	}, nil
}

// Model returns the chat model used for translations.
func (c *Client) Model() string {
	if c == nil {
		return ""
	}

	return c.model
}

// Prompt builds the single user message sent for a translation.
func Prompt(text, sourceLanguage, targetLanguage string) string {
	return fmt.Sprintf(promptFormat, sourceLanguage, targetLanguage, text)
}

// Translate sends one chat completion request and returns the trimmed text of
// the first choice. Language arguments are display names such as "French".
func (c *Client) Translate(ctx context.Context, text, sourceLanguage, targetLanguage string) (string, error) {
	if c == nil || c.api == nil {
		return "", ErrClientNotInitialized
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: Prompt(text, sourceLanguage, targetLanguage)},
		},
		Temperature: Temperature,
		MaxTokens:   MaxTokens,
	})
	if err != nil {
		c.log.Error(logTranslationFailed, sourceLanguage, targetLanguage, err)

		return "", fmt.Errorf("failed to create chat completion: %w", err)
	}

	if len(resp.Choices) == 0 {
		c.log.Error(logTranslationFailed, sourceLanguage, targetLanguage, ErrEmptyCompletion)

		return "", ErrEmptyCompletion
	}

	translated := strings.TrimSpace(resp.Choices[0].Message.Content)
	c.log.Info(logTranslated, len(text), sourceLanguage, targetLanguage)

	return translated, nil
}
