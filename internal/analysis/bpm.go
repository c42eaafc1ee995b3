// Package analysis estimates BPM from a mono PCM mixdown by onset-envelope
// autocorrelation and segments a track into intro/main/outro sections with
// hot cues, following the detection pipeline laid out in the engine's
// component design. The autocorrelation core is adapted from the BPM
// detector used to seed video matching in the teacher codebase, extended
// with peak-picking and ratio correction rather than a single argmax.
package analysis

import (
	"math"

	"github.com/soundforge/djengine/internal/types"
)

const (
	energyWindow = 2048
	energyHop    = 512
	minBPM       = 60.0
	maxBPM       = 200.0
	minAnalysableSeconds = 8.0
)

// peak is a local maximum found during autocorrelation peak-picking.
type peak struct {
	lag  int
	corr float64
}

// BPM estimates the dominant tempo of mono PCM sampled at sampleRate.
// Returns ok=false when the signal is too short or no periodicity survives
// autocorrelation (spec §4.2 failure semantics).
func BPM(mono []float32, sampleRate int) (bpm float64, ok bool) {
	if sampleRate <= 0 {
		return 0, false
	}
	if float64(len(mono))/float64(sampleRate) < minAnalysableSeconds {
		return 0, false
	}

	energy := windowedRMS(mono, energyWindow, energyHop)
	if len(energy) < 8 {
		return 0, false
	}

	flux := spectralFlux(energy)
	flux = boxcarSmooth(flux, 3)
	flux = normalize(flux)

	wps := float64(sampleRate) / float64(energyHop)
	minLag := int(wps * 60.0 / maxBPM)
	maxLag := int(wps * 60.0 / minBPM)
	if minLag < 1 {
		minLag = 1
	}
	if maxLag >= len(flux)/2 {
		maxLag = len(flux)/2 - 1
	}
	if minLag >= maxLag {
		return 0, false
	}

	corr := autocorrelate(flux, minLag, maxLag)
	peaks := localMaxima(corr, minLag)
	if len(peaks) == 0 {
		// Fall back to argmax over the whole correlation range.
		best, bestCorr := minLag, -1.0
		for lag, c := range corr {
			if c > bestCorr {
				bestCorr = c
				best = lag + minLag
			}
		}
		if bestCorr <= 0 {
			return 0, false
		}
		peaks = []peak{{lag: best, corr: bestCorr}}
	}

	chosen := choosePreferredPeak(peaks, wps)
	bpm = (wps * 60.0) / float64(chosen.lag)
	bpm = correctOctave(bpm)
	bpm = math.Round(bpm)
	if bpm < minBPM || bpm > maxBPM {
		return 0, false
	}
	return bpm, true
}

// windowedRMS computes frame energy E[i] = sqrt(mean(x^2)) over windows of
// `window` samples with `hop` samples between window starts.
func windowedRMS(pcm []float32, window, hop int) []float64 {
	if len(pcm) < window {
		return nil
	}
	n := (len(pcm)-window)/hop + 1
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		start := i * hop
		var sum float64
		for j := 0; j < window; j++ {
			s := float64(pcm[start+j])
			sum += s * s
		}
		out[i] = math.Sqrt(sum / float64(window))
	}
	return out
}

// spectralFlux computes the half-wave rectified frame-to-frame energy rise,
// a cheap proxy for onset strength.
func spectralFlux(energy []float64) []float64 {
	out := make([]float64, len(energy))
	for i := 1; i < len(energy); i++ {
		d := energy[i] - energy[i-1]
		if d > 0 {
			out[i] = d
		}
	}
	return out
}

// boxcarSmooth applies a symmetric ±radius moving average.
func boxcarSmooth(x []float64, radius int) []float64 {
	out := make([]float64, len(x))
	for i := range x {
		var sum float64
		var count int
		for d := -radius; d <= radius; d++ {
			j := i + d
			if j >= 0 && j < len(x) {
				sum += x[j]
				count++
			}
		}
		out[i] = sum / float64(count)
	}
	return out
}

// normalize scales x into [0, 1] by its maximum absolute value.
func normalize(x []float64) []float64 {
	var max float64
	for _, v := range x {
		if math.Abs(v) > max {
			max = math.Abs(v)
		}
	}
	if max == 0 {
		return x
	}
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = v / max
	}
	return out
}

// autocorrelate returns, for each lag in [minLag, maxLag], the mean
// product of the signal with itself shifted by lag. Index 0 of the
// returned slice corresponds to minLag.
func autocorrelate(x []float64, minLag, maxLag int) []float64 {
	out := make([]float64, maxLag-minLag+1)
	for lag := minLag; lag <= maxLag; lag++ {
		var sum float64
		var count int
		for i := 0; i+lag < len(x); i++ {
			sum += x[i] * x[i+lag]
			count++
		}
		if count > 0 {
			sum /= float64(count)
		}
		out[lag-minLag] = sum
	}
	return out
}

// localMaxima finds every index in corr that exceeds its ±1 and ±2
// neighbours, returning them as peaks with lag offset by minLag.
func localMaxima(corr []float64, minLag int) []peak {
	var peaks []peak
	for i := 2; i < len(corr)-2; i++ {
		v := corr[i]
		if v <= 0 {
			continue
		}
		if v > corr[i-1] && v > corr[i+1] && v > corr[i-2] && v > corr[i+2] {
			peaks = append(peaks, peak{lag: i + minLag, corr: v})
		}
	}
	return peaks
}

// choosePreferredPeak implements spec §4.2 step 6: among the top-3 peaks
// by correlation, prefer one landing in [100,140] BPM if it is within 80%
// of the strongest peak's correlation and related to it by a x2 or x1/2
// ratio.
func choosePreferredPeak(peaks []peak, wps float64) peak {
	sorted := append([]peak(nil), peaks...)
	for i := range sorted {
		for j := i + 1; j < len(sorted); j++ {
			if sorted[j].corr > sorted[i].corr {
				sorted[i], sorted[j] = sorted[j], sorted[i]
			}
		}
	}
	top := sorted
	if len(top) > 3 {
		top = top[:3]
	}
	best := top[0]
	bpmOf := func(p peak) float64 { return (wps * 60.0) / float64(p.lag) }
	bestBPM := bpmOf(best)

	for _, p := range top[1:] {
		pBPM := bpmOf(p)
		if pBPM < 100 || pBPM > 140 {
			continue
		}
		if p.corr < 0.8*best.corr {
			continue
		}
		ratio := bestBPM / pBPM
		if math.Abs(ratio-2.0) < 0.05 || math.Abs(ratio-0.5) < 0.05 {
			return p
		}
	}
	return best
}

// correctOctave applies half/double correction to bring a raw estimate
// into the plausible dance-music band before final clamping.
func correctOctave(bpm float64) float64 {
	for bpm < 80 && bpm*2 <= maxBPM {
		bpm *= 2
	}
	for bpm > 170 && bpm/2 >= minBPM {
		bpm /= 2
	}
	return bpm
}

// ClampBPM clamps bpm to [minBPM, maxBPM]. It is exported for callers resolving target stretch rates;
// kept here since it mirrors the same tempo-domain clamp used throughout
// analysis and deck rate resolution.
func ClampBPM(bpm float64) float64 {
	return types.Clamp(bpm, minBPM, maxBPM)
}
