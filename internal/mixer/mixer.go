// Package mixer implements the crossfader mix, channel routing, and peak
// metering (C6): the real-time heart of the engine, invoked once per
// audio callback from internal/output.
package mixer

import (
	"math"
	"time"

	"github.com/soundforge/djengine/internal/deck"
	"github.com/soundforge/djengine/internal/types"
)

// BufferFrames is the fixed callback buffer size: 2048 frames is ~46ms
// at 44100Hz (spec §4.6).
const BufferFrames = 2048

const sampleRate = 44100

// Tap receives the pre-routing master mix, forked off before channel
// routing (spec §4.6 step 7). internal/record implements this.
type Tap interface {
	Write(master []float32)
}

// Event is emitted by the mixer for consumption by the control plane.
type Event struct {
	Kind string // "track-ended", "error"
	Deck int
}

// Mixer owns the pre-allocated scratch buffers and crossfader state
// shared by both decks.
type Mixer struct {
	DeckA, DeckB *deck.Deck
	MasterBPM    float64

	Crossfader float64 // manual position, 0..1
	Automation *types.CrossfadeAutomation

	Routing types.ChannelRouting
	NumChannels int

	Tap Tap

	// Scratch, reused every callback — the audio thread may not allocate.
	sliceA, sliceB, master []float32

	PeakA, PeakB float64

	events []Event
}

// New creates a Mixer wired to the two given decks.
func New(a, b *deck.Deck, channels int, routing types.ChannelRouting) *Mixer {
	return &Mixer{
		DeckA:       a,
		DeckB:       b,
		MasterBPM:   120,
		NumChannels: channels,
		Routing:     routing,
		sliceA:      make([]float32, BufferFrames*2),
		sliceB:      make([]float32, BufferFrames*2),
		master:      make([]float32, BufferFrames*2),
	}
}

// SetCrossfader sets the manual crossfader position, cancelling any
// in-flight automation (spec §4.6 "manual updates while automation runs
// cancel automation").
func (m *Mixer) SetCrossfader(x float64) {
	m.Crossfader = types.Clamp(x, 0, 1)
	m.Automation = nil
}

// StartCrossfade begins a timed automated transition to target over
// duration seconds, starting from the current crossfader position.
func (m *Mixer) StartCrossfade(target, duration float64) {
	m.Automation = &types.CrossfadeAutomation{
		Target:   types.Clamp(target, 0, 1),
		StartPos: m.Crossfader,
		StartAt:  time.Now(),
		Duration: duration,
	}
}

// resolveCrossfader returns the effective crossfader position for this
// callback, clearing automation once it completes.
func (m *Mixer) resolveCrossfader(now time.Time) float64 {
	if m.Automation == nil {
		return m.Crossfader
	}
	elapsed := now.Sub(m.Automation.StartAt).Seconds()
	if elapsed >= m.Automation.Duration {
		m.Crossfader = m.Automation.Target
		m.Automation = nil
		return m.Crossfader
	}
	frac := 0.0
	if m.Automation.Duration > 0 {
		frac = elapsed / m.Automation.Duration
	}
	x := m.Automation.StartPos + (m.Automation.Target-m.Automation.StartPos)*frac
	m.Crossfader = types.Clamp(x, 0, 1)
	return m.Crossfader
}

// rateFor resolves a deck's stretch ratio: master/track BPM, clamped to
// [0.5, 2.0], falling back to 1.0 when the track's BPM is unknown (spec
// §4.6 step 1 and §8 testable invariant).
func (m *Mixer) rateFor(d *deck.Deck) float64 {
	if d.Track == nil || d.Track.BPM <= 0 || m.MasterBPM <= 0 {
		return 1.0
	}
	rate := m.MasterBPM / d.Track.BPM
	return types.Clamp(rate, 0.5, 2.0)
}

// Process runs one callback's worth of mixing and writes the routed
// result into out, an interleaved NumChannels-wide buffer of
// BufferFrames frames. Nothing in the real-time path may propagate a
// panic to the caller: a per-deck recover in renderDeck handles the
// common case (one deck's stretch/EQ pipeline misbehaving) by silencing
// just that deck, while this outer recover is the backstop for anything
// else in the callback (routing, metering) — it blanks the whole buffer
// and queues an "error" event instead of crashing the audio thread.
func (m *Mixer) Process(out []float32) (events []Event) {
	defer func() {
		if r := recover(); r != nil {
			for i := range out {
				out[i] = 0
			}
			m.events = append(m.events[:0], Event{Kind: "error"})
			events = m.events
		}
	}()
	return m.processInner(out)
}

func (m *Mixer) processInner(out []float32) []Event {
	m.events = m.events[:0]
	now := time.Now()

	m.renderDeck(m.DeckA, m.sliceA)
	m.renderDeck(m.DeckB, m.sliceB)

	x := m.resolveCrossfader(now)
	gA := math.Cos(math.Pi * x / 2)
	gB := math.Sin(math.Pi * x / 2)

	m.PeakA = peakOf(m.sliceA)
	m.PeakB = peakOf(m.sliceB)
	m.DeckA.UpdatePeakHold(m.PeakA, float64(BufferFrames)/sampleRate)
	m.DeckB.UpdatePeakHold(m.PeakB, float64(BufferFrames)/sampleRate)

	for i := range m.master {
		v := gA*float64(m.sliceA[i]) + gB*float64(m.sliceB[i])
		m.master[i] = float32(clip(v))
	}

	if m.Tap != nil {
		m.Tap.Write(m.master)
	}

	m.route(out)
	m.checkEndOfTrack(m.DeckA, 1)
	m.checkEndOfTrack(m.DeckB, 2)

	return m.events
}

// renderDeck fills slice with one deck's post-stretch, post-EQ, post-gain
// stereo output for this callback, or silence when the deck isn't
// playing.
func (m *Mixer) renderDeck(d *deck.Deck, slice []float32) {
	defer func() {
		if r := recover(); r != nil {
			for i := range slice {
				slice[i] = 0
			}
			m.events = append(m.events, Event{Kind: "error"})
		}
	}()

	if d.Status != types.DeckPlaying {
		for i := range slice {
			slice[i] = 0
		}
		return
	}

	rate := m.rateFor(d)
	d.Stretcher.SetRatio(rate)
	newPos := d.Stretcher.Process(d.PCM, d.Position, BufferFrames, slice)
	d.Position = newPos
	d.WrapIfLooping()

	d.EQ.Process(slice)

	gain := float32(d.Gain)
	for i := range slice {
		slice[i] *= gain
	}
}

// checkEndOfTrack stops a deck whose position has reached the end of its
// track and emits a track-ended event (spec §4.6 step 9).
func (m *Mixer) checkEndOfTrack(d *deck.Deck, deckNum int) {
	total := d.TotalFrames()
	if total == 0 || d.Status != types.DeckPlaying {
		return
	}
	if d.Position >= total {
		d.Status = types.DeckPaused
		d.Position = 0
		m.events = append(m.events, Event{Kind: "track-ended", Deck: deckNum})
	}
}

// route maps the mixed master (and cue bus) onto the negotiated output
// channel layout, per spec §4.6 step 8.
func (m *Mixer) route(out []float32) {
	for i := range out {
		out[i] = 0
	}

	hasMainL := m.Routing.MainL != types.Unrouted
	hasMainR := m.Routing.MainR != types.Unrouted

	for frame := 0; frame < BufferFrames; frame++ {
		l := m.master[frame*2]
		r := m.master[frame*2+1]

		switch {
		case hasMainL && hasMainR:
			writeChannel(out, m.NumChannels, frame, m.Routing.MainL, l)
			writeChannel(out, m.NumChannels, frame, m.Routing.MainR, r)
		case hasMainL:
			mono := (l + r) / 2
			writeChannel(out, m.NumChannels, frame, m.Routing.MainL, mono)
		case hasMainR:
			mono := (l + r) / 2
			writeChannel(out, m.NumChannels, frame, m.Routing.MainR, mono)
		}
	}

	m.routeCue(out)
}

// routeCue sums cue-enabled decks (1/N normalised) onto the configured
// cue channel indices.
func (m *Mixer) routeCue(out []float32) {
	hasCueL := m.Routing.CueL != types.Unrouted
	hasCueR := m.Routing.CueR != types.Unrouted
	if !hasCueL && !hasCueR {
		return
	}

	var sources []*deck.Deck
	if m.DeckA.CueEnabled {
		sources = append(sources, m.DeckA)
	}
	if m.DeckB.CueEnabled {
		sources = append(sources, m.DeckB)
	}
	if len(sources) == 0 {
		return
	}
	norm := float32(1.0 / float64(len(sources)))

	for frame := 0; frame < BufferFrames; frame++ {
		var l, r float32
		for _, d := range sources {
			var slice []float32
			if d == m.DeckA {
				slice = m.sliceA
			} else {
				slice = m.sliceB
			}
			l += slice[frame*2] * norm
			r += slice[frame*2+1] * norm
		}
		l = float32(clip(float64(l)))
		r = float32(clip(float64(r)))
		if hasCueL {
			writeChannel(out, m.NumChannels, frame, m.Routing.CueL, l)
		}
		if hasCueR {
			writeChannel(out, m.NumChannels, frame, m.Routing.CueR, r)
		}
	}
}

func writeChannel(out []float32, numChannels, frame, channel int, v float32) {
	if channel < 0 || channel >= numChannels {
		return
	}
	out[frame*numChannels+channel] = v
}

func peakOf(slice []float32) float64 {
	var peak float64
	for _, s := range slice {
		a := math.Abs(float64(s))
		if a > peak {
			peak = a
		}
	}
	return peak
}

func clip(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}
