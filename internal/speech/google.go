package speech

import (
	"context"
	"fmt"
	"io"
	"maps"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/book-expert/logger"
)

const (
	// DefaultGoogleBaseURL is the public Google Translate host.
	DefaultGoogleBaseURL = "https://translate.google.com"

	googleTTSPath     = "/translate_tts"
	googleClient      = "tw-ob"
	normalSpeed       = "1"
	googleUserAgent   = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
	maxErrorBodyBytes = 4096

	logFmtChunkSynthesized = "Google TTS chunk %d/%d synthesized (%s)"
)

// googleLanguages is the language set accepted by the Google Translate voice.
var googleLanguages = map[string]string{
	"af": "Afrikaans", "ar": "Arabic", "bg": "Bulgarian", "bn": "Bengali",
	"bs": "Bosnian", "ca": "Catalan", "cs": "Czech", "cy": "Welsh",
	"da": "Danish", "de": "German", "el": "Greek", "en": "English",
	"eo": "Esperanto", "es": "Spanish", "et": "Estonian", "fi": "Finnish",
	"fr": "French", "gu": "Gujarati", "hi": "Hindi", "hr": "Croatian",
	"hu": "Hungarian", "hy": "Armenian", "id": "Indonesian", "is": "Icelandic",
	"it": "Italian", "iw": "Hebrew", "ja": "Japanese", "jw": "Javanese",
	"km": "Khmer", "kn": "Kannada", "ko": "Korean", "la": "Latin",
	"lv": "Latvian", "mk": "Macedonian", "ml": "Malayalam", "mr": "Marathi",
	"ms": "Malay", "my": "Myanmar (Burmese)", "ne": "Nepali", "nl": "Dutch",
	"no": "Norwegian", "pl": "Polish", "pt": "Portuguese", "ro": "Romanian",
	"ru": "Russian", "si": "Sinhala", "sk": "Slovak", "sq": "Albanian",
	"sr": "Serbian", "su": "Sundanese", "sv": "Swedish", "sw": "Swahili",
	"ta": "Tamil", "te": "Telugu", "th": "Thai", "tl": "Filipino",
	"tr": "Turkish", "uk": "Ukrainian", "ur": "Urdu", "vi": "Vietnamese",
	"zh": "Chinese (Mandarin)", "zh-CN": "Chinese (Simplified)", "zh-TW": "Chinese (Traditional)",
}

// GoogleEngine speaks text through the Google Translate voice, one request
// per chunk of at most MaxChunkRunes characters.
type GoogleEngine struct {
	httpClient *http.Client
	baseURL    string
	log        *logger.Logger
}

// NewGoogleEngine creates an engine. An empty baseURL selects
// DefaultGoogleBaseURL.
func NewGoogleEngine(baseURL string, timeout time.Duration, log *logger.Logger) *GoogleEngine {
	if baseURL == "" {
		baseURL = DefaultGoogleBaseURL
	}

	return &GoogleEngine{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		log:        log,
	}
}

// Name implements Engine.
func (e *GoogleEngine) Name() string {
	return "google"
}

// Extension implements Engine.
func (e *GoogleEngine) Extension() string {
	return ".mp3"
}

// SupportedLanguages implements Engine.
func (e *GoogleEngine) SupportedLanguages() map[string]string {
	return maps.Clone(googleLanguages)
}

// Synthesize implements Engine. MP3 frames from consecutive chunks are
// concatenated into w.
func (e *GoogleEngine) Synthesize(ctx context.Context, text, code string, w io.Writer) error {
	chunks := Chunk(PrepareText(text), MaxChunkRunes)
	if len(chunks) == 0 {
		return ErrTextEmpty
	}

	for index, chunk := range chunks {
		written, err := e.fetchChunk(ctx, chunk, code, index, len(chunks), w)
		if err != nil {
			return fmt.Errorf("failed to synthesize chunk %d/%d: %w", index+1, len(chunks), err)
		}

		e.log.Info(logFmtChunkSynthesized, index+1, len(chunks), formatBytes(written))
	}

	return nil
}

func (e *GoogleEngine) fetchChunk(ctx context.Context, chunk, code string, index, total int, w io.Writer) (int64, error) {
	query := url.Values{}
	query.Set("ie", "UTF-8")
	query.Set("q", chunk)
	query.Set("tl", code)
	query.Set("client", googleClient)
	query.Set("ttsspeed", normalSpeed)
	query.Set("total", strconv.Itoa(total))
	query.Set("idx", strconv.Itoa(index))
	query.Set("textlen", strconv.Itoa(len([]rune(chunk))))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+googleTTSPath+"?"+query.Encode(), http.NoBody)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", googleUserAgent)
	req.Header.Set("Referer", e.baseURL+"/")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to send request to %s: %w", e.baseURL, err)
	}

	defer func() {
		closeErr := resp.Body.Close()
		if closeErr != nil {
			e.log.Warn("failed to close TTS response body: %v", closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))

		return 0, fmt.Errorf("%w: status %s: %s", ErrEngineFailed, resp.Status, strings.TrimSpace(string(body)))
	}

	written, err := io.Copy(w, resp.Body)
	if err != nil {
		return written, fmt.Errorf("failed to write audio data: %w", err)
	}

	if written == 0 {
		return 0, fmt.Errorf("%w: received empty audio data", ErrEngineFailed)
	}

	return written, nil
}
