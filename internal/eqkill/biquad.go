package eqkill

import "math"

// biquad is a Direct-Form-I second-order IIR section: state persists
// across buffers so that toggling coefficients mid-stream never produces
// a discontinuity beyond the toggle itself.
type biquad struct {
	b0, b1, b2 float64
	a1, a2     float64

	x1, x2 float64
	y1, y2 float64
}

func (f *biquad) reset() {
	f.x1, f.x2, f.y1, f.y2 = 0, 0, 0, 0
}

func (f *biquad) process(x float32) float32 {
	xf := float64(x)
	y := f.b0*xf + f.b1*f.x1 + f.b2*f.x2 - f.a1*f.y1 - f.a2*f.y2
	f.x2, f.x1 = f.x1, xf
	f.y2, f.y1 = f.y1, y
	return float32(y)
}

// unityCoeffs configures f as a pass-through (identity) filter.
func (f *biquad) unityCoeffs() {
	f.b0, f.b1, f.b2 = 1, 0, 0
	f.a1, f.a2 = 0, 0
}

// Audio EQ Cookbook biquad designs (Robert Bristow-Johnson). Each
// "kill" design approximates complete attenuation of its band by pushing
// far past the cutoff with a steep lowpass/highpass/notch rather than a
// literal -infinity peaking gain, which is numerically unstable.

// lowpassCoeffs designs a lowpass. The high-band kill uses it at the
// high band's cutoff, keeping everything below and cutting the highs.
func lowpassCoeffs(f *biquad, freq, q, sampleRate float64) {
	w0 := 2 * math.Pi * freq / sampleRate
	alpha := math.Sin(w0) / (2 * q)
	cosw0 := math.Cos(w0)

	b0 := (1 - cosw0) / 2
	b1 := 1 - cosw0
	b2 := (1 - cosw0) / 2
	a0 := 1 + alpha
	a1 := -2 * cosw0
	a2 := 1 - alpha

	f.b0, f.b1, f.b2 = b0/a0, b1/a0, b2/a0
	f.a1, f.a2 = a1/a0, a2/a0
}

func highpassCoeffs(f *biquad, freq, q, sampleRate float64) {
	w0 := 2 * math.Pi * freq / sampleRate
	alpha := math.Sin(w0) / (2 * q)
	cosw0 := math.Cos(w0)

	b0 := (1 + cosw0) / 2
	b1 := -(1 + cosw0)
	b2 := (1 + cosw0) / 2
	a0 := 1 + alpha
	a1 := -2 * cosw0
	a2 := 1 - alpha

	f.b0, f.b1, f.b2 = b0/a0, b1/a0, b2/a0
	f.a1, f.a2 = a1/a0, a2/a0
}

func notchCoeffs(f *biquad, freq, q, sampleRate float64) {
	w0 := 2 * math.Pi * freq / sampleRate
	alpha := math.Sin(w0) / (2 * q)
	cosw0 := math.Cos(w0)

	b0 := 1.0
	b1 := -2 * cosw0
	b2 := 1.0
	a0 := 1 + alpha
	a1 := -2 * cosw0
	a2 := 1 - alpha

	f.b0, f.b1, f.b2 = b0/a0, b1/a0, b2/a0
	f.a1, f.a2 = a1/a0, a2/a0
}
