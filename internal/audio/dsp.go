package audio

import "math"

// PeakNormalize scales samples so the peak absolute amplitude reaches 1.0.
// Silence is returned unchanged.
func PeakNormalize(samples []float32) []float32 {
	var peak float32
	for _, s := range samples {
		if a := float32(math.Abs(float64(s))); a > peak {
			peak = a
		}
	}
	if peak == 0 {
		return samples
	}

	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = s / peak
	}
	return out
}

// dcBlockPole is the single-pole high-pass coefficient; close to 1
// pushes the cutoff frequency down near DC while barely touching
// audible content.
const dcBlockPole = 0.995

// DCBlock removes DC offset with a one-pole high-pass filter:
// y[n] = x[n] - x[n-1] + pole*y[n-1].
func DCBlock(samples []float32, sampleRate int) []float32 {
	out := make([]float32, len(samples))
	var prevIn, prevOut float64
	for i, s := range samples {
		in := float64(s)
		y := in - prevIn + dcBlockPole*prevOut
		out[i] = float32(y)
		prevIn = in
		prevOut = y
	}
	return out
}

// FadeIn applies a linear fade-in ramp over the given duration in
// milliseconds, starting from silence.
func FadeIn(samples []float32, sampleRate int, ms float64) []float32 {
	n := fadeSampleCount(sampleRate, ms, len(samples))
	out := append([]float32(nil), samples...)
	for i := 0; i < n; i++ {
		gain := float32(i) / float32(n)
		out[i] *= gain
	}
	return out
}

// FadeOut applies a linear fade-out ramp over the given duration in
// milliseconds, ending in silence.
func FadeOut(samples []float32, sampleRate int, ms float64) []float32 {
	n := fadeSampleCount(sampleRate, ms, len(samples))
	out := append([]float32(nil), samples...)
	start := len(out) - n
	for i := start; i < len(out); i++ {
		gain := float32(len(out)-1-i) / float32(n)
		out[i] *= gain
	}
	return out
}

func fadeSampleCount(sampleRate int, ms float64, total int) int {
	n := int(ms / 1000.0 * float64(sampleRate))
	if n > total {
		n = total
	}
	if n < 1 {
		n = 1
	}
	return n
}
