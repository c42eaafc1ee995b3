package mixer

import (
	"math"
	"testing"

	"github.com/soundforge/djengine/internal/deck"
	"github.com/soundforge/djengine/internal/types"
)

func loadedDeck(bpm float64, frames int) *deck.Deck {
	d := deck.New()
	pcm := make([]float32, frames*2)
	for i := 0; i < frames; i++ {
		pcm[i*2] = 0.5
		pcm[i*2+1] = 0.5
	}
	d.Load(&types.Track{ID: "t", BPM: bpm, Duration: float64(frames) / 44100}, pcm)
	d.Play()
	return d
}

func TestEqualPowerCrossfade(t *testing.T) {
	for _, x := range []float64{0, 0.25, 0.5, 0.75, 1.0} {
		gA := math.Cos(math.Pi * x / 2)
		gB := math.Sin(math.Pi * x / 2)
		sum := gA*gA + gB*gB
		if math.Abs(sum-1.0) > 1e-6 {
			t.Fatalf("x=%v: gA^2+gB^2=%v, want 1", x, sum)
		}
	}
}

func TestProcessClipsMasterToUnitRange(t *testing.T) {
	a := loadedDeck(120, BufferFrames*4)
	b := loadedDeck(120, BufferFrames*4)
	a.Gain, b.Gain = 2.0, 2.0

	m := New(a, b, 2, types.ChannelRouting{MainL: 0, MainR: 1, CueL: types.Unrouted, CueR: types.Unrouted})
	m.SetCrossfader(0.5)

	out := make([]float32, BufferFrames*2)
	m.Process(out)

	for i, v := range out {
		if v > 1 || v < -1 {
			t.Fatalf("sample %d out of range: %v", i, v)
		}
	}
}

func TestRateForClampsToStretchBounds(t *testing.T) {
	a := loadedDeck(60, BufferFrames)
	b := deck.New()
	m := New(a, b, 2, types.ChannelRouting{MainL: 0, MainR: 1, CueL: types.Unrouted, CueR: types.Unrouted})

	m.MasterBPM = 300 // would ask for rate 5.0 without clamping
	if rate := m.rateFor(a); rate != 2.0 {
		t.Fatalf("expected rate clamped to 2.0, got %v", rate)
	}

	m.MasterBPM = 10 // would ask for rate ~0.17 without clamping
	if rate := m.rateFor(a); rate != 0.5 {
		t.Fatalf("expected rate clamped to 0.5, got %v", rate)
	}
}

func TestRateForFallsBackToUnityWithoutBPM(t *testing.T) {
	a := deck.New()
	pcm := make([]float32, BufferFrames*4)
	a.Load(&types.Track{ID: "t"}, pcm) // no BPM
	a.Play()
	b := deck.New()
	m := New(a, b, 2, types.ChannelRouting{MainL: 0, MainR: 1, CueL: types.Unrouted, CueR: types.Unrouted})
	m.MasterBPM = 140
	if rate := m.rateFor(a); rate != 1.0 {
		t.Fatalf("expected unity fallback rate, got %v", rate)
	}
}

func TestEndOfTrackEmitsEventAndPauses(t *testing.T) {
	a := loadedDeck(120, BufferFrames/2) // shorter than one callback
	b := deck.New()
	m := New(a, b, 2, types.ChannelRouting{MainL: 0, MainR: 1, CueL: types.Unrouted, CueR: types.Unrouted})
	m.MasterBPM = 120

	out := make([]float32, BufferFrames*2)
	events := m.Process(out)

	var sawEnded bool
	for _, ev := range events {
		if ev.Kind == "track-ended" && ev.Deck == 1 {
			sawEnded = true
		}
	}
	if !sawEnded {
		t.Fatalf("expected a track-ended event for deck 1, got %+v", events)
	}
	if a.Status != types.DeckPaused {
		t.Fatalf("expected deck paused after track end, got %v", a.Status)
	}
}

func TestProcessRecoversFromPanicOutsideDeckRender(t *testing.T) {
	a := loadedDeck(120, BufferFrames*2)
	b := deck.New()
	m := New(a, b, 2, types.ChannelRouting{MainL: 0, MainR: 1, CueL: types.Unrouted, CueR: types.Unrouted})

	// Far smaller than NumChannels*BufferFrames: route() will index past
	// the end of out, panicking outside renderDeck's own recover.
	out := make([]float32, 4)

	var events []Event
	func() {
		defer func() {
			if r := recover(); r != nil {
				t.Fatalf("Process should never let a panic escape, got: %v", r)
			}
		}()
		events = m.Process(out)
	}()

	var sawError bool
	for _, ev := range events {
		if ev.Kind == "error" {
			sawError = true
		}
	}
	if !sawError {
		t.Fatalf("expected an error event after a recovered panic, got %+v", events)
	}
}

func TestRoutingRespectsUnroutedChannels(t *testing.T) {
	a := loadedDeck(120, BufferFrames*2)
	b := deck.New()
	routing := types.ChannelRouting{MainL: 2, MainR: 3, CueL: types.Unrouted, CueR: types.Unrouted}
	m := New(a, b, 4, routing)

	out := make([]float32, BufferFrames*4)
	m.Process(out)

	for frame := 0; frame < BufferFrames; frame++ {
		if out[frame*4+0] != 0 || out[frame*4+1] != 0 {
			t.Fatalf("unrouted channels 0/1 should remain silent at frame %d", frame)
		}
	}
}
