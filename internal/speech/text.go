package speech

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxChunkRunes is the longest text the Google engine accepts per request.
const MaxChunkRunes = 100

const (
	emDash       = "—"
	enDash       = "–"
	figureDash   = "‒"
	ellipsis     = "..."
	ellipsisChar = "…"
)

var (
	whitespacePattern = regexp.MustCompile(`\s+`)

	quoteAndDashReplacer = strings.NewReplacer(
		emDash, "-",
		enDash, "-",
		figureDash, "-",
		ellipsisChar, ellipsis,
		"“", `"`, "”", `"`,
		"‘", "'", "’", "'",
	)
)

// sentenceDelimiters end a piece of text that may be sent on its own.
var sentenceDelimiters = map[rune]struct{}{
	'.': {}, '!': {}, '?': {}, ';': {}, ':': {}, ',': {},
	'。': {}, '！': {}, '？': {}, '；': {}, '：': {}, '，': {}, '、': {},
	'\n': {},
}

// PrepareText normalizes whitespace, quotes and dashes, and collapses runs of
// repeated emphatic punctuation.
func PrepareText(text string) string {
	text = whitespacePattern.ReplaceAllString(text, " ")
	text = quoteAndDashReplacer.Replace(text)
	text = collapseRepeats(text)

	return strings.TrimSpace(text)
}

func collapseRepeats(text string) string {
	var builder strings.Builder

	builder.Grow(len(text))

	var last rune

	for _, char := range text {
		if char == last && isCollapsible(char) {
			continue
		}

		builder.WriteRune(char)
		last = char
	}

	return builder.String()
}

func isCollapsible(char rune) bool {
	switch char {
	case '!', '?', ',', ';', ':', '！', '？':
		return true
	default:
		return false
	}
}

// Chunk splits text into pieces of at most limit runes. Sentence and clause
// boundaries are preferred, then spaces; a single word longer than limit is
// cut at rune boundaries. Short neighbouring pieces are merged.
func Chunk(text string, limit int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	if limit <= 0 {
		limit = MaxChunkRunes
	}

	var (
		chunks     []string
		current    strings.Builder
		currentLen int
	)

	flush := func() {
		if currentLen > 0 {
			chunks = append(chunks, current.String())
		}

		current.Reset()

		currentLen = 0
	}

	for _, piece := range splitSentences(text) {
		for _, part := range fitPiece(piece, limit) {
			partLen := utf8.RuneCountInString(part)

			separator := 0
			if currentLen > 0 {
				separator = 1
			}

			if currentLen+separator+partLen > limit {
				flush()

				separator = 0
			}

			if separator == 1 {
				current.WriteByte(' ')
			}

			current.WriteString(part)

			currentLen += separator + partLen
		}
	}

	flush()

	return chunks
}

func splitSentences(text string) []string {
	var (
		pieces []string
		start  int
	)

	for index, char := range text {
		if _, ok := sentenceDelimiters[char]; !ok {
			continue
		}

		end := index + utf8.RuneLen(char)
		if piece := strings.TrimSpace(text[start:end]); piece != "" {
			pieces = append(pieces, piece)
		}

		start = end
	}

	if piece := strings.TrimSpace(text[start:]); piece != "" {
		pieces = append(pieces, piece)
	}

	return pieces
}

func fitPiece(piece string, limit int) []string {
	if utf8.RuneCountInString(piece) <= limit {
		return []string{piece}
	}

	var parts []string

	for _, word := range strings.FieldsFunc(piece, unicode.IsSpace) {
		parts = append(parts, splitRunes(word, limit)...)
	}

	return parts
}

func splitRunes(word string, limit int) []string {
	runes := []rune(word)
	if len(runes) <= limit {
		return []string{word}
	}

	parts := make([]string, 0, len(runes)/limit+1)
	for start := 0; start < len(runes); start += limit {
		end := min(start+limit, len(runes))
		parts = append(parts, string(runes[start:end]))
	}

	return parts
}
