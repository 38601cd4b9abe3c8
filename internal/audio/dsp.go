package audio

import "math"

// PeakNormalize scales samples in place so the peak amplitude reaches 1.0.
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
	scale := 1 / peak
	for i := range samples {
		samples[i] *= scale
	}
	return samples
}

// DCBlock removes DC offset in place with a one-pole high-pass filter at 20 Hz.
func DCBlock(samples []float32, sampleRate int) []float32 {
	if sampleRate <= 0 || len(samples) == 0 {
		return samples
	}
	r := math.Exp(-2 * math.Pi * 20 / float64(sampleRate))
	var prevIn, prevOut float64
	for i, s := range samples {
		x := float64(s)
		y := x - prevIn + r*prevOut
		prevIn, prevOut = x, y
		samples[i] = float32(y)
	}
	return samples
}

// Downmix averages interleaved frames of channels samples into mono.
func Downmix(interleaved []float32, channels int) []float32 {
	if channels <= 1 {
		return interleaved
	}
	frames := len(interleaved) / channels
	out := make([]float32, frames)
	for f := range frames {
		var sum float32
		for c := range channels {
			sum += interleaved[f*channels+c]
		}
		out[f] = sum / float32(channels)
	}
	return out
}

// Finite reports whether every sample is a finite number.
func Finite(samples []float32) bool {
	for _, s := range samples {
		if math.IsNaN(float64(s)) || math.IsInf(float64(s), 0) {
			return false
		}
	}
	return true
}
