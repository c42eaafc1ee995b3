// Package eqkill implements the three-band EQ kill (C4): a low, mid, and
// high band per deck, each an independently toggleable biquad that swaps
// between a unity pass-through and a steep attenuating design. State is
// Direct-Form-I and persists across buffers; toggles take effect on the
// next processed buffer, matching the DJ convention of an instant kill
// with no smoothing (spec §4.4).
package eqkill

import "github.com/soundforge/djengine/internal/types"

const (
	lowFreq  = 250.0
	midFreq  = 1000.0
	highFreq = 4000.0
	// midQ is deliberately very low: a DJ "kill mid" is meant to gut the
	// whole midrange, not notch out exactly 1kHz. A narrow Q around 1
	// barely touches a 440Hz tone (under 1.5dB); this wide a notch pulls
	// a 440Hz tone down more than 20dB. Its skirts also reach into bass
	// and highs: about 9dB down at 100Hz and 16dB down at 4kHz.
	midQ = 0.04
	cutQ = 0.9
)

// band holds one stereo channel pair of biquad state plus the kill flag
// that selects which coefficient set is active.
type band struct {
	left, right biquad
	killed      bool
}

// Kill is the three-band EQ kill for a single deck.
type Kill struct {
	sampleRate float64
	low, mid, high band
}

// New creates a Kill configured for sampleRate (Hz), with all bands
// passed through (no kill engaged).
func New(sampleRate int) *Kill {
	k := &Kill{sampleRate: float64(sampleRate)}
	k.low.left.unityCoeffs()
	k.low.right.unityCoeffs()
	k.mid.left.unityCoeffs()
	k.mid.right.unityCoeffs()
	k.high.left.unityCoeffs()
	k.high.right.unityCoeffs()
	return k
}

// Reset clears all biquad state (used when a deck loads a new track).
func (k *Kill) Reset() {
	k.low.left.reset()
	k.low.right.reset()
	k.mid.left.reset()
	k.mid.right.reset()
	k.high.left.reset()
	k.high.right.reset()
}

// SetCut toggles the given band's kill state. Calling SetCut with the
// same value the band already has is a no-op (spec §8 idempotence).
func (k *Kill) SetCut(b types.EQBand, on bool) {
	target := k.bandFor(b)
	if target == nil || target.killed == on {
		return
	}
	target.killed = on
	k.reconfigure(b, target)
}

// Cut reports whether the given band is currently killed.
func (k *Kill) Cut(b types.EQBand) bool {
	target := k.bandFor(b)
	return target != nil && target.killed
}

func (k *Kill) bandFor(b types.EQBand) *band {
	switch b {
	case types.EQLow:
		return &k.low
	case types.EQMid:
		return &k.mid
	case types.EQHigh:
		return &k.high
	default:
		return nil
	}
}

func (k *Kill) reconfigure(b types.EQBand, target *band) {
	switch b {
	case types.EQLow:
		if target.killed {
			highpassCoeffs(&target.left, lowFreq, cutQ, k.sampleRate)
			highpassCoeffs(&target.right, lowFreq, cutQ, k.sampleRate)
		} else {
			target.left.unityCoeffs()
			target.right.unityCoeffs()
		}
	case types.EQMid:
		if target.killed {
			notchCoeffs(&target.left, midFreq, midQ, k.sampleRate)
			notchCoeffs(&target.right, midFreq, midQ, k.sampleRate)
		} else {
			target.left.unityCoeffs()
			target.right.unityCoeffs()
		}
	case types.EQHigh:
		if target.killed {
			lowpassCoeffs(&target.left, highFreq, cutQ, k.sampleRate)
			lowpassCoeffs(&target.right, highFreq, cutQ, k.sampleRate)
		} else {
			target.left.unityCoeffs()
			target.right.unityCoeffs()
		}
	}
}

// Process applies all three bands to interleaved stereo PCM in place.
func (k *Kill) Process(stereo []float32) {
	for i := 0; i+1 < len(stereo); i += 2 {
		l, r := stereo[i], stereo[i+1]
		l = k.low.left.process(l)
		r = k.low.right.process(r)
		l = k.mid.left.process(l)
		r = k.mid.right.process(r)
		l = k.high.left.process(l)
		r = k.high.right.process(r)
		stereo[i], stereo[i+1] = l, r
	}
}
