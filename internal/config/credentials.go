package config

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
)

// EnvAPIKey is the environment variable consulted when no key is passed on the
// command line.
const EnvAPIKey = "GROQ_API_KEY"

// MinAPIKeyLength is a plausibility check only; the first remote call is the
// real validation.
const MinAPIKeyLength = 20

var (
	// ErrAPIKeyMissing indicates that no API key was supplied.
	ErrAPIKeyMissing = errors.New("API key is missing")
	// ErrAPIKeyTooShort indicates that the API key is implausibly short.
	ErrAPIKeyTooShort = errors.New("API key seems too short")
)

// ResolveAPIKey returns the first positional argument when present, otherwise
// the value of GROQ_API_KEY.
func ResolveAPIKey(args []string, getenv func(string) string) string {
	if len(args) > 0 && args[0] != "" {
		return args[0]
	}

	return getenv(EnvAPIKey)
}

// ValidateAPIKey rejects empty keys and keys shorter than MinAPIKeyLength.
func ValidateAPIKey(key string) error {
	if key == "" {
		return ErrAPIKeyMissing
	}

	if len(key) < MinAPIKeyLength {
		return fmt.Errorf("%w: %d characters, need at least %d", ErrAPIKeyTooShort, len(key), MinAPIKeyLength)
	}

	return nil
}

// LoadEnvFiles loads KEY=VALUE files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadEnvFiles(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}

	for _, path := range paths {
		err := godotenv.Load(path)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load env file %s: %w", path, err)
		}
	}

	return nil
}
