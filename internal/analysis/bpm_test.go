package analysis

import (
	"math"
	"testing"
)

// clickTrack synthesizes a mono signal with energy pulses every beat,
// the same onset shape the autocorrelation core looks for.
func clickTrack(bpm float64, seconds float64, sampleRate int) []float32 {
	n := int(seconds * float64(sampleRate))
	out := make([]float32, n)
	beatSamples := int(60.0 / bpm * float64(sampleRate))
	for i := 0; i < n; i++ {
		phase := i % beatSamples
		if phase < 200 {
			decay := 1.0 - float64(phase)/200.0
			out[i] = float32(0.9 * decay * math.Sin(2*math.Pi*220*float64(phase)/float64(sampleRate)))
		}
	}
	return out
}

func TestBPMDetectsKnownTempo(t *testing.T) {
	const want = 128.0
	mono := clickTrack(want, 20, 44100)
	got, ok := BPM(mono, 44100)
	if !ok {
		t.Fatalf("expected a detected BPM")
	}
	// Octave-ambiguous detectors may lock onto a harmonic; accept 1x or 2x.
	ratio := got / want
	if math.Abs(ratio-1) > 0.03 && math.Abs(ratio-2) > 0.03 && math.Abs(ratio-0.5) > 0.03 {
		t.Fatalf("got bpm %v, want near %v (or an octave of it)", got, want)
	}
}

func TestBPMRejectsTooShort(t *testing.T) {
	mono := clickTrack(128, 2, 44100)
	if _, ok := BPM(mono, 44100); ok {
		t.Fatalf("expected failure on a signal shorter than the analysable minimum")
	}
}

func TestBPMRejectsSilence(t *testing.T) {
	mono := make([]float32, 44100*20)
	if _, ok := BPM(mono, 44100); ok {
		t.Fatalf("expected failure analysing silence")
	}
}

func TestClampBPMBounds(t *testing.T) {
	if got := ClampBPM(10); got != minBPM {
		t.Fatalf("got %v, want %v", got, minBPM)
	}
	if got := ClampBPM(500); got != maxBPM {
		t.Fatalf("got %v, want %v", got, maxBPM)
	}
	if got := ClampBPM(128); got != 128 {
		t.Fatalf("got %v, want 128", got)
	}
}
