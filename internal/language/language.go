// Package language holds the fixed table of languages offered for translation
// and the mapping from their display names to engine language codes.
package language

// DefaultCode is the code synthesis falls back to.
const DefaultCode = "en"

// Tag pairs a human-readable language name with its engine code.
type Tag struct {
	Name   string
	Code   string
	locale string
}

// Locale returns a BCP-47 tag suitable for the local speech recognizer.
func (t Tag) Locale() string {
	if t.locale != "" {
		return t.locale
	}

	return t.Code
}

// table is ordered; the UI renders it as-is.
var table = []Tag{
	{Name: "English", Code: "en", locale: "en-US"},
	{Name: "Vietnamese", Code: "vi", locale: "vi-VN"},
	{Name: "French", Code: "fr", locale: "fr-FR"},
	{Name: "Chinese", Code: "zh-CN", locale: "zh-CN"},
	{Name: "Spanish", Code: "es", locale: "es-ES"},
	{Name: "Korean", Code: "ko", locale: "ko-KR"},
	{Name: "Japanese", Code: "ja", locale: "ja-JP"},
}

// All returns a copy of the language table in display order.
func All() []Tag {
	tags := make([]Tag, len(table))
	copy(tags, table)

	return tags
}

// Names returns the display names in display order.
func Names() []string {
	names := make([]string, 0, len(table))
	for _, tag := range table {
		names = append(names, tag.Name)
	}

	return names
}

// Lookup finds a tag by display name or by code.
func Lookup(nameOrCode string) (Tag, bool) {
	for _, tag := range table {
		if tag.Name == nameOrCode || tag.Code == nameOrCode {
			return tag, true
		}
	}

	return Tag{}, false
}

// Code maps a display name to its code. Unknown names pass through unchanged,
// so callers may hand in a code directly.
func Code(name string) string {
	for _, tag := range table {
		if tag.Name == name {
			return tag.Code
		}
	}

	return name
}

// Name maps a code back to its display name, passing unknown codes through.
func Name(code string) string {
	for _, tag := range table {
		if tag.Code == code {
			return tag.Name
		}
	}

	return code
}
