// Package deck implements a single playback channel (C5): it owns the
// loaded track's PCM, position, gain, cue flag, loop region, and the
// per-deck time-stretch and EQ kill state. Exclusive owner of its PCM and
// scratch buffers, per the engine's single-owner ownership model.
package deck

import (
	"github.com/soundforge/djengine/internal/eqkill"
	"github.com/soundforge/djengine/internal/stretch"
	"github.com/soundforge/djengine/internal/types"
)

const sampleRate = 44100

// Deck owns one playback channel's live state. Not safe for concurrent
// use: all mutation happens on the audio callback thread, which both
// applies queued commands and advances position, so the two never
// overlap for a given deck.
type Deck struct {
	Track *types.Track
	PCM   []float32 // interleaved stereo, exclusively owned

	Status   types.DeckStatus
	Position int64 // frames

	Gain       float64 // 0..2
	CueEnabled bool
	EQ         *eqkill.Kill
	Stretcher  *stretch.Stretcher

	Loop *types.LoopRegion // nil when no loop active

	PeakHold float64 // decays at -1.0/sec, rises instantly
}

// New creates an empty deck.
func New() *Deck {
	return &Deck{
		Gain:      1.0,
		EQ:        eqkill.New(sampleRate),
		Stretcher: stretch.New(),
		Status:    types.DeckEmpty,
	}
}

// Load replaces the deck's track and PCM, resetting stretch and EQ state
// (spec §4.5: "replacing a deck's track cancels any in-flight stretch
// state").
func (d *Deck) Load(track *types.Track, pcm []float32) {
	d.Track = track
	d.PCM = pcm
	d.Position = 0
	d.Status = types.DeckLoadedIdle
	d.Loop = nil
	d.Stretcher.Reset()
	for _, b := range []types.EQBand{types.EQLow, types.EQMid, types.EQHigh} {
		d.EQ.SetCut(b, false)
	}
	d.EQ.Reset()
	d.PeakHold = 0
}

// TotalFrames returns the loaded track's frame count, or 0 if empty.
func (d *Deck) TotalFrames() int64 {
	if len(d.PCM) == 0 {
		return 0
	}
	return int64(len(d.PCM) / 2)
}

// Play starts playback. No-op if no track is loaded (spec invariant
// "playing ⇒ track loaded" is preserved by never setting Status to
// DeckPlaying otherwise).
func (d *Deck) Play() {
	if d.Status == types.DeckEmpty {
		return
	}
	d.Status = types.DeckPlaying
}

// Stop halts playback without resetting position.
func (d *Deck) Stop() {
	if d.Status == types.DeckPlaying {
		d.Status = types.DeckPaused
	}
}

// Seek moves to fraction*totalFrames, clamped to [0, totalFrames].
func (d *Deck) Seek(fraction float64) {
	total := d.TotalFrames()
	if total == 0 {
		return
	}
	fraction = types.Clamp(fraction, 0, 1)
	d.Position = int64(fraction * float64(total))
}

// SetGain clamps and stores the deck's gain (0..2 per spec §6).
func (d *Deck) SetGain(g float64) {
	d.Gain = types.Clamp(g, 0, 2)
}

// SetCue toggles whether this deck feeds the cue bus.
func (d *Deck) SetCue(on bool) {
	d.CueEnabled = on
}

// SetEQCut toggles a kill band.
func (d *Deck) SetEQCut(band types.EQBand, on bool) {
	d.EQ.SetCut(band, on)
}

// SetLoop quantises a loop region of the given length (in beats) starting
// at the deck's current position, snapping to the nearest beat in grid
// when one is supplied, else computing endpoints from beats*60/masterBPM.
func (d *Deck) SetLoop(beats, masterBPM float64, grid []float64) {
	if masterBPM <= 0 {
		return
	}
	startFrame := d.Position
	beatFrames := int64(60.0 / masterBPM * float64(sampleRate))
	lengthFrames := int64(beats * float64(beatFrames))

	if len(grid) > 0 {
		startFrame = snapFrameToGrid(startFrame, grid)
	}
	endFrame := startFrame + lengthFrames
	if len(grid) > 0 {
		if snapped := snapFrameToGrid(endFrame, grid); snapped > startFrame {
			endFrame = snapped
		}
	}
	d.Loop = &types.LoopRegion{
		StartBeat:   beats,
		LengthBeats: beats,
		StartFrame:  startFrame,
		EndFrame:    endFrame,
	}
}

// ClearLoop disengages any active loop.
func (d *Deck) ClearLoop() {
	d.Loop = nil
}

// snapFrameToGrid rounds a frame position to the nearest beat-grid
// timestamp, expressed in frames.
func snapFrameToGrid(frame int64, gridSeconds []float64) int64 {
	targetSec := float64(frame) / sampleRate
	best := gridSeconds[0]
	bestDist := abs(targetSec - best)
	for _, g := range gridSeconds[1:] {
		d := abs(targetSec - g)
		if d < bestDist {
			bestDist = d
			best = g
		}
	}
	return int64(best * sampleRate)
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

// WrapIfLooping wraps Position back to the loop start when it has passed
// the loop end, applied at a buffer boundary (spec §4.5).
func (d *Deck) WrapIfLooping() {
	if d.Loop == nil {
		return
	}
	if d.Position >= d.Loop.EndFrame {
		d.Position = d.Loop.StartFrame
	}
}

// UpdatePeakHold applies the mixer's linear decay-toward-current-peak
// rule: instant rise, -1.0/sec decay, evaluated once per callback of
// duration callbackSeconds.
func (d *Deck) UpdatePeakHold(currentPeak float64, callbackSeconds float64) {
	if currentPeak > d.PeakHold {
		d.PeakHold = currentPeak
		return
	}
	d.PeakHold -= callbackSeconds
	if d.PeakHold < currentPeak {
		d.PeakHold = currentPeak
	}
	if d.PeakHold < 0 {
		d.PeakHold = 0
	}
}
