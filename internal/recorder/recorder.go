// Package recorder captures mono audio from the microphone or the system audio
// monitor by driving an external capture binary.
package recorder

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/translator-service/internal/audio"
)

// Source selects the capture device.
type Source string

// Capture sources.
const (
	Microphone Source = "microphone"
	System     Source = "system"
)

const (
	// MinDuration is the shortest accepted recording.
	MinDuration = time.Second
	// DefaultMaxDuration is the longest accepted recording unless configured.
	DefaultMaxDuration = 300 * time.Second

	startupGrace    = 10 * time.Second
	bytesPerSample  = 4
	maxStderrLength = 512

	logFmtRecording = "Recording %s from %s for %s"
	logFmtRecorded  = "Recorded %d samples (%s) from %s"
)

var (
	// ErrInvalidDuration indicates a duration outside the accepted range.
	ErrInvalidDuration = errors.New("invalid recording duration")
	// ErrUnknownSource indicates an unrecognized capture source.
	ErrUnknownSource = errors.New("unknown recording source")
	// ErrCaptureFailed indicates that the capture binary failed.
	ErrCaptureFailed = errors.New("audio capture failed")
)

// Runner executes binary with args and returns its standard output.
type Runner func(ctx context.Context, binary string, args ...string) ([]byte, error)

// Config describes the capture binary and devices.
type Config struct {
	Binary           string
	InputFormat      string
	MicrophoneDevice string
	SystemDevice     string
	SampleRate       int
	MaxDuration      time.Duration
}

// Recorder records fixed-duration clips. Each call blocks until the clip is
// complete or ctx is cancelled.
type Recorder struct {
	cfg Config
	run Runner
	log *logger.Logger
}

// New creates a Recorder. A nil runner executes the binary with os/exec.
func New(cfg Config, run Runner, log *logger.Logger) *Recorder {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = audio.DefaultSampleRate
	}

	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = DefaultMaxDuration
	}

	if run == nil {
		run = execRunner
	}

	return &Recorder{cfg: cfg, run: run, log: log}
}

// ParseSource accepts "microphone", "mic", "system" or "system-audio".
func ParseSource(value string) (Source, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "microphone", "mic":
		return Microphone, nil
	case "system", "system-audio", "system_audio":
		return System, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownSource, value)
	}
}

// ValidateDuration checks that duration is within [MinDuration, max].
func (r *Recorder) ValidateDuration(duration time.Duration) error {
	if duration < MinDuration || duration > r.cfg.MaxDuration {
		return fmt.Errorf("%w: %s not in [%s, %s]", ErrInvalidDuration, duration, MinDuration, r.cfg.MaxDuration)
	}

	return nil
}

// Args returns the capture command line for source and duration.
func (r *Recorder) Args(source Source, duration time.Duration) ([]string, error) {
	var device string

	switch source {
	case Microphone:
		device = r.cfg.MicrophoneDevice
	case System:
		device = r.cfg.SystemDevice
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSource, source)
	}

	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-nostdin",
		"-f", r.cfg.InputFormat,
		"-i", device,
		"-t", strconv.FormatFloat(duration.Seconds(), 'f', 3, 64),
		"-ac", "1",
		"-ar", strconv.Itoa(r.cfg.SampleRate),
		"-f", "f32le",
		"pipe:1",
	}, nil
}

// Record captures duration of audio from source. Cancelling ctx stops the
// capture early and returns the context error.
func (r *Recorder) Record(ctx context.Context, source Source, duration time.Duration) (audio.Buffer, error) {
	err := r.ValidateDuration(duration)
	if err != nil {
		return audio.Buffer{}, err
	}

	args, err := r.Args(source, duration)
	if err != nil {
		return audio.Buffer{}, err
	}

	r.log.Info(logFmtRecording, source, r.cfg.Binary, duration)

	captureCtx, cancel := context.WithTimeout(ctx, duration+startupGrace)
	defer cancel()

	raw, err := r.run(captureCtx, r.cfg.Binary, args...)
	if err != nil {
		ctxErr := ctx.Err()
		if ctxErr != nil {
			return audio.Buffer{}, fmt.Errorf("recording cancelled: %w", ctxErr)
		}

		return audio.Buffer{}, fmt.Errorf("%w: %w", ErrCaptureFailed, err)
	}

	buf := audio.Buffer{Samples: DecodeFloat32LE(raw), SampleRate: r.cfg.SampleRate}
	r.log.Info(logFmtRecorded, buf.Len(), buf.Duration(), source)

	return buf, nil
}

// DecodeFloat32LE converts raw little-endian float32 samples to float64. A
// trailing partial sample is dropped.
func DecodeFloat32LE(raw []byte) []float64 {
	samples := make([]float64, len(raw)/bytesPerSample)
	for index := range samples {
		bits := binary.LittleEndian.Uint32(raw[index*bytesPerSample:])
		samples[index] = float64(math.Float32frombits(bits))
	}

	return samples
}

func execRunner(ctx context.Context, binary string, args ...string) ([]byte, error) {
	// #nosec G204 -- binary comes from configuration and args are built by Args
	cmd := exec.CommandContext(ctx, binary, args...)

	var stdout, stderr bytes.Buffer

	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		message := strings.TrimSpace(stderr.String())
		if len(message) > maxStderrLength {
			message = message[:maxStderrLength]
		}

		return nil, fmt.Errorf("%s execution failed: %w - output: %s", binary, err, message)
	}

	return stdout.Bytes(), nil
}
