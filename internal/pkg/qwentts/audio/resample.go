package audio

import "fmt"

// Downmix averages interleaved multi-channel samples into mono.
func Downmix(samples []float32, channels int) ([]float32, error) {
	if channels <= 0 {
		return nil, fmt.Errorf("invalid channel count: %d", channels)
	}
	if channels == 1 {
		out := make([]float32, len(samples))
		copy(out, samples)
		return out, nil
	}

	frames := len(samples) / channels
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += samples[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}
	return out, nil
}

// Resample converts mono samples between rates by linear interpolation.
// Good enough for conditioning input; generated audio is never resampled.
func Resample(samples []float32, inputRate, outputRate int) ([]float32, error) {
	if inputRate <= 0 || outputRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate: input=%d, output=%d", inputRate, outputRate)
	}
	if len(samples) == 0 {
		return []float32{}, nil
	}
	if inputRate == outputRate {
		out := make([]float32, len(samples))
		copy(out, samples)
		return out, nil
	}

	ratio := float64(inputRate) / float64(outputRate)
	outLen := int(float64(len(samples)) / ratio)
	if outLen < 1 {
		outLen = 1
	}

	out := make([]float32, outLen)
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := float32(pos - float64(idx))

		if idx+1 < len(samples) {
			out[i] = samples[idx]*(1-frac) + samples[idx+1]*frac
		} else {
			out[i] = samples[len(samples)-1]
		}
	}
	return out, nil
}
