package eqkill

import (
	"math"
	"testing"

	"github.com/soundforge/djengine/internal/types"
)

func TestNewPassesThroughUnchanged(t *testing.T) {
	k := New(44100)
	in := []float32{0.1, -0.2, 0.3, -0.4}
	out := append([]float32(nil), in...)
	k.Process(out)
	for i := range in {
		if math.Abs(float64(out[i]-in[i])) > 1e-6 {
			t.Fatalf("band unkilled should pass through unchanged: got %v want %v", out, in)
		}
	}
}

func TestSetCutIdempotent(t *testing.T) {
	k := New(44100)
	k.SetCut(types.EQLow, true)
	if !k.Cut(types.EQLow) {
		t.Fatalf("expected low band killed")
	}
	k.SetCut(types.EQLow, true)
	if !k.Cut(types.EQLow) {
		t.Fatalf("repeated SetCut(true) should remain killed")
	}
	k.SetCut(types.EQLow, false)
	if k.Cut(types.EQLow) {
		t.Fatalf("expected low band restored")
	}
}

func TestKillAttenuatesBand(t *testing.T) {
	k := New(44100)
	k.SetCut(types.EQLow, true)

	// 100Hz sine, well inside the low band; a few cycles to let the
	// filter settle past its transient.
	const n = 4096
	buf := make([]float32, n*2)
	for i := 0; i < n; i++ {
		s := float32(0.8 * math.Sin(2*math.Pi*100*float64(i)/44100))
		buf[i*2] = s
		buf[i*2+1] = s
	}
	inPeak := peak(buf[n:]) // settled tail
	k.Process(buf)
	outPeak := peak(buf[n:])

	if outPeak >= inPeak*0.5 {
		t.Fatalf("expected low-band kill to substantially attenuate 100Hz tone: in=%v out=%v", inPeak, outPeak)
	}
}

func TestBandForUnknownReturnsNil(t *testing.T) {
	k := New(44100)
	if k.Cut(types.EQBand("bogus")) {
		t.Fatalf("unknown band should report not-cut")
	}
}

func TestKillMidCuts440HzBy20dB(t *testing.T) {
	k := New(44100)
	k.SetCut(types.EQMid, true)

	const n = 4096
	buf := make([]float32, n*2)
	for i := 0; i < n; i++ {
		s := float32(0.8 * math.Sin(2*math.Pi*440*float64(i)/44100))
		buf[i*2] = s
		buf[i*2+1] = s
	}
	inRMS := rms(buf[n:]) // settled tail, pre-filter reference
	k.Process(buf)
	outRMS := rms(buf[n:])

	dB := 20 * math.Log10(outRMS/inRMS)
	if dB > -20 {
		t.Fatalf("expected mid kill to cut a 440Hz tone by at least 20dB, got %.1fdB (in=%v out=%v)", dB, inRMS, outRMS)
	}
}

func peak(s []float32) float64 {
	var m float64
	for _, v := range s {
		if a := math.Abs(float64(v)); a > m {
			m = a
		}
	}
	return m
}

func rms(s []float32) float64 {
	var sum float64
	for _, v := range s {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum / float64(len(s)))
}
