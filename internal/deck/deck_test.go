package deck

import (
	"math"
	"testing"

	"github.com/soundforge/djengine/internal/types"
)

func TestPlayNoopWithoutTrack(t *testing.T) {
	d := New()
	d.Play()
	if d.Status != types.DeckEmpty {
		t.Fatalf("expected deck to stay empty, got %v", d.Status)
	}
}

func TestLoadResetsStretchAndEQState(t *testing.T) {
	d := New()
	d.SetEQCut(types.EQLow, true)
	d.Position = 12345

	d.Load(&types.Track{ID: "a", BPM: 120}, make([]float32, 1000))
	if d.Position != 0 {
		t.Fatalf("expected position reset, got %v", d.Position)
	}
	if d.EQ.Cut(types.EQLow) {
		t.Fatalf("expected EQ reset after load")
	}
	if d.Status != types.DeckLoadedIdle {
		t.Fatalf("expected loaded-idle status, got %v", d.Status)
	}
}

func TestSeekClampsToTrackBounds(t *testing.T) {
	d := New()
	d.Load(&types.Track{ID: "a"}, make([]float32, 2000))
	d.Seek(1.5)
	if d.Position != d.TotalFrames() {
		t.Fatalf("expected clamp to total frames, got %v want %v", d.Position, d.TotalFrames())
	}
	d.Seek(-1)
	if d.Position != 0 {
		t.Fatalf("expected clamp to 0, got %v", d.Position)
	}
}

func TestSetGainClampsToDomain(t *testing.T) {
	d := New()
	d.SetGain(5)
	if d.Gain != 2.0 {
		t.Fatalf("got %v, want 2.0", d.Gain)
	}
	d.SetGain(-1)
	if d.Gain != 0.0 {
		t.Fatalf("got %v, want 0.0", d.Gain)
	}
}

func TestWrapIfLoopingWrapsAtEnd(t *testing.T) {
	d := New()
	d.Load(&types.Track{ID: "a"}, make([]float32, 20000))
	d.Loop = &types.LoopRegion{StartFrame: 100, EndFrame: 200}
	d.Position = 200
	d.WrapIfLooping()
	if d.Position != 100 {
		t.Fatalf("expected wrap to loop start, got %v", d.Position)
	}
}

func TestUpdatePeakHoldRisesInstantlyAndDecaysLinearly(t *testing.T) {
	d := New()
	d.UpdatePeakHold(0.8, 1.0)
	if d.PeakHold != 0.8 {
		t.Fatalf("expected instant rise to 0.8, got %v", d.PeakHold)
	}
	d.UpdatePeakHold(0.1, 0.5)
	if math.Abs(d.PeakHold-0.3) > 1e-9 {
		t.Fatalf("expected decay to 0.8-0.5=0.3, got %v", d.PeakHold)
	}
}

func TestStopHoldsPosition(t *testing.T) {
	d := New()
	d.Load(&types.Track{ID: "a"}, make([]float32, 20000))
	d.Play()
	d.Position = 500
	d.Stop()
	if d.Status != types.DeckPaused {
		t.Fatalf("expected paused, got %v", d.Status)
	}
	if d.Position != 500 {
		t.Fatalf("expected position held at 500, got %v", d.Position)
	}
}
