package audio

import (
	"math"
	"time"
)

const fullScale = 32768.0

// Peak returns the largest absolute sample value as a fraction of full scale.
func Peak(samples []int16) float64 {
	var peak int
	for _, s := range samples {
		v := int(s)
		if v < 0 {
			v = -v
		}
		if v > peak {
			peak = v
		}
	}
	return float64(peak) / fullScale
}

// RMS returns the root mean square level as a fraction of full scale.
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var energy float64
	for _, s := range samples {
		energy += float64(s) * float64(s)
	}
	return math.Sqrt(energy/float64(len(samples))) / fullScale
}

// Normalize scales samples so that their peak equals target (a fraction of
// full scale). Silent input is returned unchanged.
func Normalize(samples []int16, target float64) []int16 {
	peak := Peak(samples)
	if peak == 0 || target <= 0 {
		return samples
	}

	gain := target / peak
	out := make([]int16, len(samples))
	for i, s := range samples {
		out[i] = clamp16(float64(s) * gain)
	}
	return out
}

// Resample converts mono samples between rates by linear interpolation.
func Resample(samples []int16, from, to int) []int16 {
	if from == to || len(samples) == 0 || from <= 0 || to <= 0 {
		return samples
	}

	n := int(int64(len(samples)) * int64(to) / int64(from))
	if n == 0 {
		return nil
	}

	out := make([]int16, n)
	step := float64(from) / float64(to)
	last := len(samples) - 1
	for i := range out {
		pos := float64(i) * step
		idx := int(pos)
		if idx >= last {
			out[i] = samples[last]
			continue
		}
		frac := pos - float64(idx)
		out[i] = clamp16(float64(samples[idx])*(1-frac) + float64(samples[idx+1])*frac)
	}
	return out
}

// BytesToSamples converts little-endian 16-bit PCM bytes to samples. A
// trailing odd byte is ignored.
func BytesToSamples(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(uint16(data[2*i]) | uint16(data[2*i+1])<<8)
	}
	return samples
}

// Duration returns the playback length of n samples at rate.
func Duration(n, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(rate))
}

func clamp16(v float64) int16 {
	v = math.Round(v)
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
