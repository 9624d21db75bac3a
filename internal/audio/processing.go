// Package audio provides the sample buffer type and the preprocessing applied to
// captured speech before it is persisted or sent for transcription: a high-pass
// filter, silence trimming and gain scaling.
package audio

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Default preprocessing settings.
const (
	DefaultSampleRate       = 44100
	DefaultCutoffHz         = 100.0
	DefaultFilterOrder      = 5
	DefaultSilenceThreshold = 0.01
	DefaultChunkSize        = 1000
	DefaultGain             = 2.0
)

// Validation limits.
const (
	MinGain        = 1.0
	MaxGain        = 5.0
	MaxSampleRate  = 192000
	MaxFilterOrder = 10
)

const (
	errFmtSampleRateRange = "%w: sample rate must be between 1 and %d Hz, got %d"
	errFmtGainRange       = "%w: gain must be between %.1f and %.1f, got %.2f"
	errFmtCutoffRange     = "%w: cutoff must be between 0 and %.0f Hz (Nyquist), got %.1f"
	errFmtOrderRange      = "%w: filter order must be between 1 and %d, got %d"
	errFmtThreshold       = "%w: silence threshold must be non-negative, got %f"
	errFmtChunkSize       = "%w: chunk size must be positive, got %d"
)

// ErrInvalidOptions is returned when preprocessing options are out of range.
var ErrInvalidOptions = errors.New("invalid preprocessing options")

// Buffer is a mono sequence of samples in [-1, 1] at a fixed sample rate.
type Buffer struct {
	Samples    []float64
	SampleRate int
}

// Len returns the number of samples.
func (b Buffer) Len() int {
	return len(b.Samples)
}

// IsEmpty reports whether the buffer holds no samples.
func (b Buffer) IsEmpty() bool {
	return len(b.Samples) == 0
}

// Duration returns the playback length of the buffer.
func (b Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}

	return time.Duration(float64(len(b.Samples)) / float64(b.SampleRate) * float64(time.Second))
}

// Peak returns the largest absolute sample value.
func (b Buffer) Peak() float64 {
	return peak(b.Samples)
}

// Options configures Preprocess.
type Options struct {
	SampleRate       int
	CutoffHz         float64
	FilterOrder      int
	SilenceThreshold float64
	ChunkSize        int
	Gain             float64
}

// NewDefaultOptions returns the settings used for microphone capture.
func NewDefaultOptions() Options {
	return Options{
		SampleRate:       DefaultSampleRate,
		CutoffHz:         DefaultCutoffHz,
		FilterOrder:      DefaultFilterOrder,
		SilenceThreshold: DefaultSilenceThreshold,
		ChunkSize:        DefaultChunkSize,
		Gain:             DefaultGain,
	}
}

// Validate checks that the options are within reasonable bounds.
func (o *Options) Validate() error {
	if o.SampleRate <= 0 || o.SampleRate > MaxSampleRate {
		return fmt.Errorf(errFmtSampleRateRange, ErrInvalidOptions, MaxSampleRate, o.SampleRate)
	}

	nyquist := float64(o.SampleRate) / 2
	if o.CutoffHz <= 0 || o.CutoffHz >= nyquist {
		return fmt.Errorf(errFmtCutoffRange, ErrInvalidOptions, nyquist, o.CutoffHz)
	}

	if o.FilterOrder < 1 || o.FilterOrder > MaxFilterOrder {
		return fmt.Errorf(errFmtOrderRange, ErrInvalidOptions, MaxFilterOrder, o.FilterOrder)
	}

	if o.SilenceThreshold < 0 || math.IsNaN(o.SilenceThreshold) {
		return fmt.Errorf(errFmtThreshold, ErrInvalidOptions, o.SilenceThreshold)
	}

	if o.ChunkSize <= 0 {
		return fmt.Errorf(errFmtChunkSize, ErrInvalidOptions, o.ChunkSize)
	}

	if o.Gain < MinGain || o.Gain > MaxGain {
		return fmt.Errorf(errFmtGainRange, ErrInvalidOptions, MinGain, MaxGain, o.Gain)
	}

	return nil
}

// Preprocess runs the high-pass filter, trims leading and trailing silence and
// applies gain, in that order. An empty result means no speech was detected and
// must not be forwarded for transcription.
func Preprocess(buf Buffer, opts Options) (Buffer, error) {
	validationErr := opts.Validate()
	if validationErr != nil {
		return Buffer{}, validationErr
	}

	if buf.SampleRate != opts.SampleRate {
		return Buffer{}, fmt.Errorf(
			"%w: buffer sample rate %d does not match options %d",
			ErrInvalidOptions, buf.SampleRate, opts.SampleRate,
		)
	}

	filtered := HighPass(buf.Samples, opts.SampleRate, opts.CutoffHz, opts.FilterOrder)
	trimmed := TrimSilence(filtered, opts.SilenceThreshold, opts.ChunkSize)

	return Buffer{
		Samples:    ApplyGain(trimmed, opts.Gain),
		SampleRate: opts.SampleRate,
	}, nil
}

// TrimSilence removes leading chunks (aligned from the start) and trailing
// chunks (aligned from the end) whose peak absolute amplitude is below
// threshold. A buffer that never reaches the threshold trims to empty.
func TrimSilence(samples []float64, threshold float64, chunkSize int) []float64 {
	total := len(samples)
	if total == 0 || chunkSize <= 0 {
		return []float64{}
	}

	start := -1

	for index := 0; index < total; index += chunkSize {
		end := min(index+chunkSize, total)
		if peak(samples[index:end]) >= threshold {
			start = index

			break
		}
	}

	if start < 0 {
		return []float64{}
	}

	stop := total

	for end := total; end > start; end -= chunkSize {
		low := max(end-chunkSize, start)
		if peak(samples[low:end]) >= threshold {
			stop = end

			break
		}
	}

	return samples[start:stop]
}

// ApplyGain returns a copy of samples multiplied by gain. No clipping is
// applied here; EncodeWAV saturates out-of-range samples.
func ApplyGain(samples []float64, gain float64) []float64 {
	scaled := make([]float64, len(samples))
	for index, sample := range samples {
		scaled[index] = sample * gain
	}

	return scaled
}

func peak(samples []float64) float64 {
	var maxAbs float64

	for _, sample := range samples {
		if abs := math.Abs(sample); abs > maxAbs {
			maxAbs = abs
		}
	}

	return maxAbs
}
