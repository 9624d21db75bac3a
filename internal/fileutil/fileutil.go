// Package fileutil holds file and path helpers for uploaded and generated
// audio.
package fileutil

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
)

// File extension constants.
const (
	extMP3 = ".mp3"
	extOGG = ".ogg"
	extWAV = ".wav"
)

const (
	defaultDirPermissions  = 0o750
	defaultFilePermissions = 0o600
	uploadPrefix           = "upload-"
	secondsInMinute        = 60
	formatSeconds          = "%.1fs"
	formatMinutes          = "%dm %.1fs"
)

var (
	// ErrUnsupportedAudio indicates a file type the transcription endpoint rejects.
	ErrUnsupportedAudio = errors.New("unsupported audio file type")
	// ErrFileTooLarge indicates an upload above the size limit.
	ErrFileTooLarge = errors.New("file too large")
)

// AudioExtensions lists the accepted upload extensions, with leading dots.
func AudioExtensions() []string {
	return []string{extWAV, extMP3, extOGG}
}

// IsValidAudioFile checks if a filename has an accepted audio extension.
func IsValidAudioFile(filename string) bool {
	return slices.Contains(AudioExtensions(), strings.ToLower(filepath.Ext(filename)))
}

// GetFileExtension returns the lower-case file extension without the leading dot.
func GetFileExtension(filename string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
}

// SanitizeFilename keeps only the base name and replaces characters that are
// invalid in most filesystems.
func SanitizeFilename(filename string) string {
	filename = strings.ReplaceAll(filename, "\\", "/")
	filename = filepath.Base(filename)

	replacer := strings.NewReplacer(
		"<", "_",
		">", "_",
		":", "_",
		"\"", "_",
		"|", "_",
		"?", "_",
		"*", "_",
		" ", "_",
	)

	filename = replacer.Replace(filename)
	if filename == "." || filename == "/" || filename == "" {
		return "audio"
	}

	return filename
}

// EnsureDir ensures a directory exists at the given path.
func EnsureDir(path string) error {
	mkdirErr := os.MkdirAll(path, defaultDirPermissions)
	if mkdirErr != nil {
		return fmt.Errorf("failed to create directory %s: %w", path, mkdirErr)
	}

	return nil
}

// SaveUpload copies at most maxBytes from r into a uniquely named file in dir
// and returns its path. The name keeps the sanitized original extension.
func SaveUpload(dir, filename string, r io.Reader, maxBytes int64) (string, error) {
	if !IsValidAudioFile(filename) {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedAudio, GetFileExtension(filename))
	}

	err := EnsureDir(dir)
	if err != nil {
		return "", err
	}

	path := filepath.Join(dir, uploadPrefix+uuid.NewString()+"-"+SanitizeFilename(filename))

	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, defaultFilePermissions)
	if err != nil {
		return "", fmt.Errorf("failed to create upload file: %w", err)
	}

	written, copyErr := io.Copy(file, io.LimitReader(r, maxBytes+1))
	closeErr := file.Close()

	switch {
	case copyErr != nil:
		_ = os.Remove(path)

		return "", fmt.Errorf("failed to save upload: %w", copyErr)
	case written > maxBytes:
		_ = os.Remove(path)

		return "", fmt.Errorf("%w: limit is %s", ErrFileTooLarge, FormatFileSize(maxBytes))
	case closeErr != nil:
		_ = os.Remove(path)

		return "", fmt.Errorf("failed to close upload file: %w", closeErr)
	}

	return path, nil
}

// FormatDuration formats seconds as "45.2s" or "5m 30.5s".
func FormatDuration(seconds float64) string {
	if seconds < secondsInMinute {
		return fmt.Sprintf(formatSeconds, seconds)
	}

	minutes := int(seconds / secondsInMinute)

	return fmt.Sprintf(formatMinutes, minutes, seconds-float64(minutes*secondsInMinute))
}

// FormatFileSize formats a size such as "1.2 MB".
func FormatFileSize(size int64) string {
	if size < 0 {
		size = 0
	}

	return humanize.Bytes(uint64(size))
}
