package engine

import (
	"testing"
	"time"

	"github.com/soundforge/djengine/internal/types"
)

func newTestEngine() *Engine {
	routing := types.ChannelRouting{MainL: 0, MainR: 1, CueL: types.Unrouted, CueR: types.Unrouted}
	return New(2, routing, nil, nil)
}

// pumpCallbacks simulates the audio thread calling Process on a fixed
// cadence, draining commands and queries until stop is closed.
func pumpCallbacks(e *Engine, stop chan struct{}) {
	buf := make([]float32, 256)
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			e.Process(buf)
		}
	}
}

func TestSubmitAppliesOnNextCallback(t *testing.T) {
	e := newTestEngine()
	stop := make(chan struct{})
	go pumpCallbacks(e, stop)
	defer close(stop)

	track := &types.Track{ID: "t1", Title: "one", Duration: 2}
	pcm := make([]float32, 44100*2) // 1s stereo of silence

	if err := e.Submit(Command{Kind: "loadTrack", Deck: Deck1, Track: track, PCM: pcm}); err != nil {
		t.Fatalf("loadTrack: %v", err)
	}

	info := e.DeckSnapshot(Deck1)
	if info.TrackID != "t1" {
		t.Fatalf("got track id %q, want t1", info.TrackID)
	}
	if info.Status == types.DeckPlaying {
		t.Fatalf("expected a freshly loaded deck not to be playing")
	}
}

func TestLoadTrackRejectedWhileDeckPlaying(t *testing.T) {
	e := newTestEngine()
	stop := make(chan struct{})
	go pumpCallbacks(e, stop)
	defer close(stop)

	track := &types.Track{ID: "t1", Duration: 2}
	pcm := make([]float32, 44100*2)
	if err := e.Submit(Command{Kind: "loadTrack", Deck: Deck1, Track: track, PCM: pcm}); err != nil {
		t.Fatalf("loadTrack: %v", err)
	}
	if err := e.Submit(Command{Kind: "play", Deck: Deck1}); err != nil {
		t.Fatalf("play: %v", err)
	}

	err := e.Submit(Command{Kind: "loadTrack", Deck: Deck1, Track: track, PCM: pcm})
	if err != ErrDeckBusy {
		t.Fatalf("got %v, want ErrDeckBusy", err)
	}
}

func TestUnknownCommandKindReturnsError(t *testing.T) {
	e := newTestEngine()
	stop := make(chan struct{})
	go pumpCallbacks(e, stop)
	defer close(stop)

	if err := e.Submit(Command{Kind: "doesNotExist", Deck: Deck1}); err == nil {
		t.Fatalf("expected an error for an unknown command kind")
	}
}

func TestSetCrossfaderAndReadBack(t *testing.T) {
	e := newTestEngine()
	stop := make(chan struct{})
	go pumpCallbacks(e, stop)
	defer close(stop)

	if err := e.Submit(Command{Kind: "setCrossfader", Float: 0.75}); err != nil {
		t.Fatalf("setCrossfader: %v", err)
	}
	if got := e.CrossfaderPosition(); got != 0.75 {
		t.Fatalf("got %v, want 0.75", got)
	}
}

func TestSetMasterTempoClampsRange(t *testing.T) {
	e := newTestEngine()
	stop := make(chan struct{})
	go pumpCallbacks(e, stop)
	defer close(stop)

	if err := e.Submit(Command{Kind: "setMasterTempo", Float: 500}); err != nil {
		t.Fatalf("setMasterTempo: %v", err)
	}
	if got := e.MasterTempo(); got != 200 {
		t.Fatalf("got %v, want clamped to 200", got)
	}
}

func TestSubmitAfterStopReturnsError(t *testing.T) {
	e := newTestEngine()
	close(e.done)

	if err := e.Submit(Command{Kind: "play", Deck: Deck1}); err == nil {
		t.Fatalf("expected an error submitting after shutdown")
	}
}
