package audio_test

import (
	"math"
	"testing"

	"github.com/book-expert/translator-service/internal/audio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sine(frequency, amplitude float64, sampleRate, count int) []float64 {
	samples := make([]float64, count)
	for index := range samples {
		samples[index] = amplitude * math.Sin(2*math.Pi*frequency*float64(index)/float64(sampleRate))
	}

	return samples
}

func middlePeak(samples []float64) float64 {
	quarter := len(samples) / 4

	return audio.Buffer{Samples: samples[quarter : len(samples)-quarter]}.Peak()
}

func TestTrimSilence_AllZeroReturnsEmpty(t *testing.T) {
	t.Parallel()

	trimmed := audio.TrimSilence(make([]float64, 10000), audio.DefaultSilenceThreshold, audio.DefaultChunkSize)

	assert.Empty(t, trimmed)
}

func TestTrimSilence_SingleLoudSampleKeepsItsChunk(t *testing.T) {
	t.Parallel()

	samples := make([]float64, 10000)
	samples[2500] = 0.5

	trimmed := audio.TrimSilence(samples, audio.DefaultSilenceThreshold, audio.DefaultChunkSize)

	require.NotEmpty(t, trimmed)
	assert.Contains(t, trimmed, 0.5)
	assert.Len(t, trimmed, audio.DefaultChunkSize)
}

func TestTrimSilence_KeepsSpanBetweenFirstAndLastLoudChunks(t *testing.T) {
	t.Parallel()

	samples := make([]float64, 10500)
	samples[1200] = 0.2
	samples[8900] = -0.3

	trimmed := audio.TrimSilence(samples, 0.1, 1000)

	require.NotEmpty(t, trimmed)
	assert.InDelta(t, 0.2, trimmed[200], 1e-12)
	assert.InDelta(t, -0.3, trimmed[7900], 1e-12)
	// Start is aligned from the front (1000) and the end from the back (9500).
	assert.Len(t, trimmed, 8500)
}

func TestTrimSilence_ShortBuffer(t *testing.T) {
	t.Parallel()

	trimmed := audio.TrimSilence([]float64{0, 0.5, 0}, 0.01, 1000)

	assert.Equal(t, []float64{0, 0.5, 0}, trimmed)
	assert.Empty(t, audio.TrimSilence(nil, 0.01, 1000))
}

func TestApplyGain_IsLinear(t *testing.T) {
	t.Parallel()

	original := sine(440, 0.3, audio.DefaultSampleRate, 2048)

	for _, gain := range []float64{1.0, 2.5, 5.0, 0.37} {
		restored := audio.ApplyGain(audio.ApplyGain(original, gain), 1/gain)

		require.Len(t, restored, len(original))

		for index := range original {
			assert.InDelta(t, original[index], restored[index], 1e-12)
		}
	}
}

func TestApplyGain_DoesNotClip(t *testing.T) {
	t.Parallel()

	scaled := audio.ApplyGain([]float64{0.5, -0.9}, 4)

	assert.InDelta(t, 2.0, scaled[0], 1e-12)
	assert.InDelta(t, -3.6, scaled[1], 1e-12)
}

func TestHighPass_RemovesDCOffset(t *testing.T) {
	t.Parallel()

	samples := make([]float64, audio.DefaultSampleRate)
	for index := range samples {
		samples[index] = 0.5
	}

	filtered := audio.HighPass(samples, audio.DefaultSampleRate, audio.DefaultCutoffHz, audio.DefaultFilterOrder)

	require.Len(t, filtered, len(samples))

	for _, sample := range filtered {
		assert.InDelta(t, 0, sample, 1e-9)
	}
	// Input is left untouched.
	assert.InDelta(t, 0.5, samples[0], 0)
}

func TestHighPass_PassesSpeechBand(t *testing.T) {
	t.Parallel()

	samples := sine(1000, 0.5, audio.DefaultSampleRate, audio.DefaultSampleRate)

	filtered := audio.HighPass(samples, audio.DefaultSampleRate, audio.DefaultCutoffHz, audio.DefaultFilterOrder)

	assert.InDelta(t, 0.5, middlePeak(filtered), 0.01)
}

func TestHighPass_AttenuatesRumble(t *testing.T) {
	t.Parallel()

	samples := sine(20, 0.5, audio.DefaultSampleRate, 2*audio.DefaultSampleRate)

	filtered := audio.HighPass(samples, audio.DefaultSampleRate, audio.DefaultCutoffHz, audio.DefaultFilterOrder)

	assert.Less(t, middlePeak(filtered), 0.01)
}

func TestHighPass_DegenerateInputs(t *testing.T) {
	t.Parallel()

	assert.Empty(t, audio.HighPass(nil, audio.DefaultSampleRate, 100, 5))
	assert.Len(t, audio.HighPass([]float64{0.3}, audio.DefaultSampleRate, 100, 5), 1)
	assert.Len(t, audio.HighPass([]float64{0.3, -0.2, 0.1}, audio.DefaultSampleRate, 100, 4), 3)
}

func TestPreprocess_SilentBufferYieldsEmpty(t *testing.T) {
	t.Parallel()

	buf := audio.Buffer{Samples: make([]float64, 3*audio.DefaultSampleRate), SampleRate: audio.DefaultSampleRate}

	processed, err := audio.Preprocess(buf, audio.NewDefaultOptions())

	require.NoError(t, err)
	assert.True(t, processed.IsEmpty())
	assert.Equal(t, audio.DefaultSampleRate, processed.SampleRate)
}

func TestPreprocess_SpeechIsTrimmedAndAmplified(t *testing.T) {
	t.Parallel()

	samples := make([]float64, 3*audio.DefaultSampleRate)
	tone := sine(500, 0.2, audio.DefaultSampleRate, audio.DefaultSampleRate)
	copy(samples[audio.DefaultSampleRate:], tone)

	opts := audio.NewDefaultOptions()
	opts.Gain = 2

	processed, err := audio.Preprocess(audio.Buffer{Samples: samples, SampleRate: audio.DefaultSampleRate}, opts)

	require.NoError(t, err)
	assert.Less(t, processed.Len(), len(samples))
	assert.Greater(t, processed.Len(), audio.DefaultSampleRate-2*audio.DefaultChunkSize)
	assert.InDelta(t, 0.4, middlePeak(processed.Samples), 0.02)
	assert.InDelta(t, 1.0, processed.Duration().Seconds(), 0.1)
}

func TestPreprocess_RejectsInvalidOptions(t *testing.T) {
	t.Parallel()

	buf := audio.Buffer{Samples: []float64{0.1}, SampleRate: audio.DefaultSampleRate}

	tests := []struct {
		name   string
		mutate func(*audio.Options)
	}{
		{name: "gain too low", mutate: func(o *audio.Options) { o.Gain = 0.5 }},
		{name: "gain too high", mutate: func(o *audio.Options) { o.Gain = 5.1 }},
		{name: "zero sample rate", mutate: func(o *audio.Options) { o.SampleRate = 0 }},
		{name: "cutoff above nyquist", mutate: func(o *audio.Options) { o.CutoffHz = 30000 }},
		{name: "negative threshold", mutate: func(o *audio.Options) { o.SilenceThreshold = -1 }},
		{name: "zero chunk", mutate: func(o *audio.Options) { o.ChunkSize = 0 }},
		{name: "zero order", mutate: func(o *audio.Options) { o.FilterOrder = 0 }},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			opts := audio.NewDefaultOptions()
			testCase.mutate(&opts)

			_, err := audio.Preprocess(buf, opts)
			require.ErrorIs(t, err, audio.ErrInvalidOptions)
		})
	}
}

func TestPreprocess_GainBoundsAreInclusive(t *testing.T) {
	t.Parallel()

	for _, gain := range []float64{audio.MinGain, audio.MaxGain} {
		opts := audio.NewDefaultOptions()
		opts.Gain = gain

		require.NoError(t, opts.Validate())
	}
}

func TestPreprocess_SampleRateMismatch(t *testing.T) {
	t.Parallel()

	_, err := audio.Preprocess(audio.Buffer{Samples: []float64{0.1}, SampleRate: 16000}, audio.NewDefaultOptions())

	require.ErrorIs(t, err, audio.ErrInvalidOptions)
}
