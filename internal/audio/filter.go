package audio

import "math"

// biquad is one second-order section in transposed direct form II. First-order
// sections leave b2 and a2 at zero.
type biquad struct {
	b0, b1, b2 float64
	a1, a2     float64
}

// dcGain is the section's response to a constant input.
func (s biquad) dcGain() float64 {
	return (s.b0 + s.b1 + s.b2) / (1 + s.a1 + s.a2)
}

// run filters samples in place, starting from the steady state for a constant
// input equal to initial.
func (s biquad) run(samples []float64, initial float64) {
	gain := s.dcGain()
	state1 := (s.b1 + s.b2 - (s.a1+s.a2)*gain) * initial
	state2 := (s.b2 - s.a2*gain) * initial

	for index, input := range samples {
		output := s.b0*input + state1
		state1 = s.b1*input - s.a1*output + state2
		state2 = s.b2*input - s.a2*output
		samples[index] = output
	}
}

// designButterworthHighPass builds the cascade for a Butterworth high-pass of
// the given order, using the bilinear transform with pre-warped cutoff.
func designButterworthHighPass(order int, cutoffHz float64, sampleRate int) []biquad {
	warped := math.Tan(math.Pi * cutoffHz / float64(sampleRate))
	warpedSquared := warped * warped
	sections := make([]biquad, 0, (order+1)/2)

	for pair := range order / 2 {
		// 1/Q of the conjugate pole pair.
		damping := 2 * math.Sin(math.Pi*float64(2*pair+1)/float64(2*order))
		norm := 1 / (1 + warped*damping + warpedSquared)

		sections = append(sections, biquad{
			b0: norm,
			b1: -2 * norm,
			b2: norm,
			a1: 2 * (warpedSquared - 1) * norm,
			a2: (1 - warped*damping + warpedSquared) * norm,
		})
	}

	if order%2 == 1 {
		norm := 1 / (1 + warped)

		sections = append(sections, biquad{
			b0: norm,
			b1: -norm,
			a1: (warped - 1) * norm,
		})
	}

	return sections
}

// HighPass applies a zero-phase Butterworth high-pass filter: the cascade runs
// forward and then backward over the signal, with odd-extension padding at both
// edges to suppress start-up transients. The input is not modified.
func HighPass(samples []float64, sampleRate int, cutoffHz float64, order int) []float64 {
	total := len(samples)
	if total == 0 {
		return []float64{}
	}

	sections := designButterworthHighPass(order, cutoffHz, sampleRate)
	padding := min(3*(order+1), total-1)
	extended := oddExtend(samples, padding)

	runCascade(sections, extended)
	reverse(extended)
	runCascade(sections, extended)
	reverse(extended)

	result := make([]float64, total)
	copy(result, extended[padding:padding+total])

	return result
}

func runCascade(sections []biquad, samples []float64) {
	initial := samples[0]

	for _, section := range sections {
		section.run(samples, initial)
		initial *= section.dcGain()
	}
}

// oddExtend mirrors padding samples around each endpoint (2*x[0]-x[i] on the
// left, 2*x[n-1]-x[n-1-i] on the right).
func oddExtend(samples []float64, padding int) []float64 {
	total := len(samples)
	extended := make([]float64, 0, total+2*padding)

	for index := padding; index >= 1; index-- {
		extended = append(extended, 2*samples[0]-samples[index])
	}

	extended = append(extended, samples...)

	for index := 1; index <= padding; index++ {
		extended = append(extended, 2*samples[total-1]-samples[total-1-index])
	}

	return extended
}

func reverse(samples []float64) {
	for left, right := 0, len(samples)-1; left < right; left, right = left+1, right-1 {
		samples[left], samples[right] = samples[right], samples[left]
	}
}
