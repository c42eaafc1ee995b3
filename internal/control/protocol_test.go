package control

import (
	"testing"
	"time"

	"github.com/soundforge/djengine/internal/engine"
	"github.com/soundforge/djengine/internal/types"
)

func newTestProtocol(t *testing.T) (*Protocol, chan struct{}) {
	t.Helper()
	routing := types.ChannelRouting{MainL: 0, MainR: 1, CueL: types.Unrouted, CueR: types.Unrouted}
	eng := engine.New(2, routing, nil, nil)
	hub := NewHub()
	go hub.Run()
	t.Cleanup(hub.Close)

	p := New(eng, hub)
	p.Run()
	t.Cleanup(p.Stop)

	stop := make(chan struct{})
	go func() {
		buf := make([]float32, 256)
		ticker := time.NewTicker(time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				eng.Process(buf)
			}
		}
	}()
	t.Cleanup(func() { close(stop) })

	return p, stop
}

func TestProtocolPlayAndStopDeck(t *testing.T) {
	p, _ := newTestProtocol(t)

	if _, err := p.SetCrossfader(0.5); err != nil {
		t.Fatalf("SetCrossfader: %v", err)
	}

	load := engine.Command{Kind: "loadTrack", Deck: engine.Deck1, Track: &types.Track{ID: "t1"}, PCM: make([]float32, 44100*2*10)}
	if err := p.eng.Submit(load); err != nil {
		t.Fatalf("loadTrack: %v", err)
	}

	if _, err := p.Play(engine.Deck1); err != nil {
		t.Fatalf("Play: %v", err)
	}
	st := p.GetState()
	if st.DeckA.Status != types.DeckPlaying {
		t.Fatalf("got status %v, want DeckPlaying", st.DeckA.Status)
	}

	if _, err := p.Stop(engine.Deck1); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestProtocolSetMasterTempoReflectsInState(t *testing.T) {
	p, _ := newTestProtocol(t)

	if _, err := p.SetMasterTempo(140); err != nil {
		t.Fatalf("SetMasterTempo: %v", err)
	}
	st := p.GetState()
	if st.MasterBPM != 140 {
		t.Fatalf("got %v, want 140", st.MasterBPM)
	}
}

func TestProtocolStartRecordingWithoutRecorderFails(t *testing.T) {
	p, _ := newTestProtocol(t)
	if _, err := p.StartRecording(types.FormatWAV); err == nil {
		t.Fatalf("expected an error starting a recording with no recorder configured")
	}
}

func TestProtocolCorrelationIDsAreUnique(t *testing.T) {
	p, _ := newTestProtocol(t)

	id1, err := p.SetCrossfader(0.1)
	if err != nil {
		t.Fatalf("SetCrossfader: %v", err)
	}
	id2, err := p.SetCrossfader(0.2)
	if err != nil {
		t.Fatalf("SetCrossfader: %v", err)
	}
	if id1 == "" || id2 == "" || id1 == id2 {
		t.Fatalf("expected distinct non-empty correlation ids, got %q and %q", id1, id2)
	}
}

func TestProtocolSetDeckGainClamps(t *testing.T) {
	p, _ := newTestProtocol(t)
	if _, err := p.SetDeckGain(engine.Deck1, 10); err != nil {
		t.Fatalf("SetDeckGain: %v", err)
	}
	st := p.GetState()
	if st.DeckA.Gain != 2 {
		t.Fatalf("got gain %v, want clamped to 2", st.DeckA.Gain)
	}
}
