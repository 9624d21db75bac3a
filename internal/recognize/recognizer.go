// Package recognize is an optional transcription path independent of the
// hosted Whisper endpoint. It posts raw 16-bit PCM to a Google speech API v2
// style endpoint and keeps the most confident alternative.
package recognize

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/translator-service/internal/audio"
	"github.com/book-expert/translator-service/internal/language"
	"github.com/book-expert/translator-service/internal/transcribe"
)

const (
	// DefaultBaseURL is the public speech API host.
	DefaultBaseURL = "https://www.google.com"
	// DefaultLocale is used when no locale is given.
	DefaultLocale = "en-US"

	recognizePath     = "/speech-api/v2/recognize"
	clientName        = "chromium"
	defaultTimeout    = 30 * time.Second
	maxErrorBodyBytes = 4096
)

var (
	// ErrNoSpeech indicates that the service recognized nothing.
	ErrNoSpeech = errors.New("speech recognition could not understand the audio")
	// ErrRequestFailed indicates a transport failure or non-200 response.
	ErrRequestFailed = errors.New("speech recognition request failed")
)

type alternative struct {
	Transcript string   `json:"transcript"`
	Confidence *float64 `json:"confidence,omitempty"`
}

type resultLine struct {
	Result []struct {
		Alternative []alternative `json:"alternative"`
		Final       bool          `json:"final"`
	} `json:"result"`
}

// Recognizer transcribes WAV files through the speech API.
type Recognizer struct {
	httpClient *http.Client
	baseURL    string
	key        string
	log        *logger.Logger
}

// New creates a Recognizer. An empty baseURL selects DefaultBaseURL.
func New(baseURL, key string, log *logger.Logger) *Recognizer {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	return &Recognizer{
		httpClient: &http.Client{Timeout: defaultTimeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		key:        key,
		log:        log,
	}
}

// RecognizeFile reads a WAV file and recognizes it with the given BCP-47
// locale, such as "en-US".
func (r *Recognizer) RecognizeFile(ctx context.Context, wavPath, locale string) (transcribe.Transcript, error) {
	buf, err := audio.ReadWAVFile(wavPath)
	if err != nil {
		return transcribe.Transcript{}, fmt.Errorf("failed to read audio for recognition: %w", err)
	}

	return r.Recognize(ctx, buf, locale)
}

// Transcribe satisfies the pipeline's transcriber contract. lang is a code
// hint such as "zh" and is widened to its locale.
func (r *Recognizer) Transcribe(ctx context.Context, wavPath, lang string) (transcribe.Transcript, error) {
	transcript, err := r.RecognizeFile(ctx, wavPath, localeFor(lang))
	if errors.Is(err, ErrNoSpeech) {
		return transcribe.Transcript{}, nil
	}

	return transcript, err
}

func localeFor(lang string) string {
	if tag, ok := language.Lookup(lang); ok {
		return tag.Locale()
	}

	for _, tag := range language.All() {
		if lang != "" && strings.HasPrefix(tag.Code, lang+"-") {
			return tag.Locale()
		}
	}

	return DefaultLocale
}

// Recognize sends buf and returns the highest-confidence alternative. A
// missing confidence counts as zero and ties keep the first alternative seen.
func (r *Recognizer) Recognize(ctx context.Context, buf audio.Buffer, locale string) (transcribe.Transcript, error) {
	if buf.IsEmpty() {
		return transcribe.Transcript{}, ErrNoSpeech
	}

	if locale == "" {
		locale = DefaultLocale
	}

	query := url.Values{}
	query.Set("client", clientName)
	query.Set("lang", locale)

	if r.key != "" {
		query.Set("key", r.key)
	}

	endpoint := r.baseURL + recognizePath + "?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(bigEndianPCM(buf)))
	if err != nil {
		return transcribe.Transcript{}, fmt.Errorf("failed to create recognition request: %w", err)
	}

	req.Header.Set("Content-Type", "audio/l16; rate="+strconv.Itoa(buf.SampleRate))

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return transcribe.Transcript{}, fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}

	defer func() {
		closeErr := resp.Body.Close()
		if closeErr != nil {
			r.log.Warn("failed to close recognition response body: %v", closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))

		return transcribe.Transcript{}, fmt.Errorf("%w: status %d: %s", ErrRequestFailed, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	alternatives, err := parseAlternatives(resp.Body)
	if err != nil {
		return transcribe.Transcript{}, err
	}

	best, ok := pickBest(alternatives)
	if !ok {
		return transcribe.Transcript{}, ErrNoSpeech
	}

	transcript := transcribe.Transcript{Text: strings.TrimSpace(best.Transcript)}
	if best.Confidence != nil {
		transcript.Confidence = *best.Confidence
		transcript.HasConfidence = true
	}

	return transcript, nil
}

// parseAlternatives collects every alternative from the newline-delimited
// result documents. Empty result lines are normal and skipped.
func parseAlternatives(body io.Reader) ([]alternative, error) {
	var alternatives []alternative

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var parsed resultLine

		err := json.Unmarshal([]byte(line), &parsed)
		if err != nil {
			return nil, fmt.Errorf("%w: malformed result line: %w", ErrRequestFailed, err)
		}

		for _, result := range parsed.Result {
			alternatives = append(alternatives, result.Alternative...)
		}
	}

	scanErr := scanner.Err()
	if scanErr != nil {
		return nil, fmt.Errorf("failed to read recognition response: %w", scanErr)
	}

	return alternatives, nil
}

func pickBest(alternatives []alternative) (alternative, bool) {
	bestIndex := -1
	bestScore := 0.0

	for index, alt := range alternatives {
		if strings.TrimSpace(alt.Transcript) == "" {
			continue
		}

		score := 0.0
		if alt.Confidence != nil {
			score = *alt.Confidence
		}

		if bestIndex < 0 || score > bestScore {
			bestIndex = index
			bestScore = score
		}
	}

	if bestIndex < 0 {
		return alternative{}, false
	}

	return alternatives[bestIndex], true
}

// bigEndianPCM converts buf to network-order 16-bit samples as audio/l16
// requires.
func bigEndianPCM(buf audio.Buffer) []byte {
	pcm := audio.PCM16(buf)
	for index := 0; index+1 < len(pcm); index += 2 {
		pcm[index], pcm[index+1] = pcm[index+1], pcm[index]
	}

	return pcm
}
