// Package tempfile removes ephemeral audio files, retrying deletions that fail
// transiently while another process still holds the file open.
package tempfile

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"
)

const (
	// DefaultAttempts is the number of deletion attempts before giving up.
	DefaultAttempts = 5
	// DefaultDelay is the fixed pause between attempts.
	DefaultDelay = 100 * time.Millisecond
)

// ErrRemoveFailed indicates that a file could not be removed after all attempts.
var ErrRemoveFailed = errors.New("failed to remove temporary file")

// Remover deletes files with bounded, fixed-delay retry.
type Remover struct {
	Attempts int
	Delay    time.Duration
	remove   func(string) error
	sleep    func(time.Duration)
}

// Option configures a Remover.
type Option func(*Remover)

// WithRemoveFunc replaces os.Remove.
func WithRemoveFunc(remove func(string) error) Option {
	return func(r *Remover) {
		r.remove = remove
	}
}

// WithSleepFunc replaces time.Sleep.
func WithSleepFunc(sleep func(time.Duration)) Option {
	return func(r *Remover) {
		r.sleep = sleep
	}
}

// WithPolicy overrides the attempt count and delay.
func WithPolicy(attempts int, delay time.Duration) Option {
	return func(r *Remover) {
		r.Attempts = attempts
		r.Delay = delay
	}
}

// NewRemover creates a Remover with the default policy.
func NewRemover(opts ...Option) *Remover {
	remover := &Remover{
		Attempts: DefaultAttempts,
		Delay:    DefaultDelay,
		remove:   os.Remove,
		sleep:    time.Sleep,
	}

	for _, opt := range opts {
		opt(remover)
	}

	if remover.Attempts < 1 {
		remover.Attempts = 1
	}

	return remover
}

// Remove deletes path. A file that is already gone counts as removed.
// Success on any attempt is success; only exhausting every attempt is an error.
func (r *Remover) Remove(path string) error {
	if path == "" {
		return nil
	}

	var lastErr error

	for attempt := 1; attempt <= r.Attempts; attempt++ {
		err := r.remove(path)
		if err == nil || errors.Is(err, fs.ErrNotExist) {
			return nil
		}

		lastErr = err

		if attempt < r.Attempts {
			r.sleep(r.Delay)
		}
	}

	return fmt.Errorf("%w: %s after %d attempts: %w", ErrRemoveFailed, path, r.Attempts, lastErr)
}
