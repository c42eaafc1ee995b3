// Package engine wires the decks, mixer, output driver, and recorder
// into the process-wide object the control plane drives (spec §9's
// "global singleton modeled as explicit construction, not ambient
// access"). It owns the command queue that is the sole mutation path
// from the control thread into live audio state.
package engine

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/soundforge/djengine/internal/analysis"
	"github.com/soundforge/djengine/internal/deck"
	"github.com/soundforge/djengine/internal/decode"
	"github.com/soundforge/djengine/internal/mixer"
	"github.com/soundforge/djengine/internal/output"
	"github.com/soundforge/djengine/internal/record"
	"github.com/soundforge/djengine/internal/types"
)

// DeckNum identifies one of the two decks (1 or 2, matching the
// remote-tool surface's 1-based numbering).
type DeckNum int

const (
	Deck1 DeckNum = 1
	Deck2 DeckNum = 2
)

// ErrDeckBusy is returned when a command requires a deck to be stopped
// first (spec §4.10, load_deck on a playing deck).
var ErrDeckBusy = fmt.Errorf("engine: deck busy")

// Engine is the process-wide audio graph: two decks, a mixer, an output
// driver, and a recorder tap, plus the command queue and event fan-out
// that let the control plane (C9) drive it.
//
// Commands and read queries are both drained at the start of the next
// audio callback (spec §5: "a batch of pending commands is drained at
// the start of each callback"), so deck and mixer fields are touched
// from exactly one goroutine — the portaudio callback — and need no
// locking. Submit and the snapshot readers block the calling
// goroutine until that callback runs.
type Engine struct {
	deckA, deckB *deck.Deck
	Mixer        *mixer.Mixer
	Output       *output.Driver
	Recorder     *record.Recorder

	StructureCache *analysis.Cache

	commands chan Command
	queries  chan syncCall
	Events   chan Event

	done chan struct{}
}

// Command is a single mutation request applied on the audio thread
// before it mixes the next callback (spec §5 ordering guarantee:
// commands apply in arrival order, batched per callback).
type Command struct {
	Kind    string
	Deck    DeckNum
	Float   float64
	Float2  float64
	Bool    bool
	Band    types.EQBand
	Track   *types.Track
	PCM     []float32
	Reply   chan error
}

type syncCall struct {
	fn   func()
	done chan struct{}
}

// Event mirrors the engine→control event families from spec §4.9.
type Event struct {
	Kind string
	Deck DeckNum
	Err  error
	Data any
}

// New constructs an Engine around two empty decks and the given channel
// routing; Start must be called to open the output device and begin the
// audio callback.
func New(channels int, routing types.ChannelRouting, rec *record.Recorder, cache *analysis.Cache) *Engine {
	a := deck.New()
	b := deck.New()
	m := mixer.New(a, b, channels, routing)
	if rec != nil {
		m.Tap = rec
	}
	e := &Engine{
		deckA:          a,
		deckB:          b,
		Mixer:          m,
		Recorder:       rec,
		StructureCache: cache,
		commands:       make(chan Command, 64),
		queries:        make(chan syncCall, 64),
		Events:         make(chan Event, 256),
		done:           make(chan struct{}),
	}
	e.Output = output.New(e)
	return e
}

// Start opens the output device and launches the device-event forwarder.
func (e *Engine) Start(deviceID, channels int) error {
	if err := e.Output.Start(deviceID, channels); err != nil {
		return err
	}
	go e.forwardOutputEvents()
	return nil
}

// Stop halts the output stream and recorder.
func (e *Engine) Stop() {
	close(e.done)
	if e.Recorder != nil && e.Recorder.Status() == types.RecordingActive {
		e.Recorder.Stop()
	}
	e.Output.Stop()
}

// Submit enqueues a command for application on the next audio callback
// and blocks for its reply. This is the only path by which the control
// thread mutates deck or mixer state (spec §5).
func (e *Engine) Submit(cmd Command) error {
	cmd.Reply = make(chan error, 1)
	select {
	case e.commands <- cmd:
	case <-e.done:
		return fmt.Errorf("engine: shut down")
	}
	select {
	case err := <-cmd.Reply:
		return err
	case <-e.done:
		return fmt.Errorf("engine: shut down")
	}
}

// runSync schedules fn to run on the audio thread during the next
// callback and blocks until it has. Used by read-only snapshot queries
// so they never race the callback's field writes.
func (e *Engine) runSync(fn func()) {
	call := syncCall{fn: fn, done: make(chan struct{})}
	select {
	case e.queries <- call:
	case <-e.done:
		return
	}
	select {
	case <-call.done:
	case <-e.done:
	}
}

// Process implements output.Source: drains pending commands and queries,
// applying them in arrival order, then mixes one callback's worth of
// audio. Invoked on portaudio's real-time thread.
func (e *Engine) Process(out []float32) []mixer.Event {
	e.drainPending()
	events := e.Mixer.Process(out)
	for _, ev := range events {
		if ev.Kind == "track-ended" {
			e.publish(Event{Kind: "trackEnded", Deck: DeckNum(ev.Deck)})
		}
	}
	return events
}

func (e *Engine) drainPending() {
	for {
		select {
		case cmd := <-e.commands:
			cmd.Reply <- e.apply(cmd)
		case call := <-e.queries:
			call.fn()
			close(call.done)
		default:
			return
		}
	}
}

func (e *Engine) apply(cmd Command) error {
	d := e.deckFor(cmd.Deck)

	switch cmd.Kind {
	case "loadTrack":
		if d.Status == types.DeckPlaying {
			return ErrDeckBusy
		}
		d.Load(cmd.Track, cmd.PCM)
		return nil
	case "play":
		d.Play()
		return nil
	case "stop":
		d.Stop()
		return nil
	case "seek":
		d.Seek(cmd.Float)
		return nil
	case "setGain":
		d.SetGain(cmd.Float)
		return nil
	case "setCue":
		d.SetCue(cmd.Bool)
		return nil
	case "setEqCut":
		d.SetEQCut(cmd.Band, cmd.Bool)
		return nil
	case "setBeatLoop":
		var grid []float64
		if d.Track != nil && d.Track.Structure != nil {
			grid = d.Track.Structure.Beats
		}
		d.SetLoop(cmd.Float, e.Mixer.MasterBPM, grid)
		return nil
	case "clearLoop":
		d.ClearLoop()
		return nil
	case "setCrossfader":
		e.Mixer.SetCrossfader(cmd.Float)
		return nil
	case "startCrossfade":
		e.Mixer.StartCrossfade(cmd.Float, cmd.Float2)
		return nil
	case "setMasterTempo":
		e.Mixer.MasterBPM = types.Clamp(cmd.Float, 60, 200)
		return nil
	default:
		return fmt.Errorf("engine: unknown command %q", cmd.Kind)
	}
}

func (e *Engine) deckFor(n DeckNum) *deck.Deck {
	if n == Deck2 {
		return e.deckB
	}
	return e.deckA
}

// DeckInfo is the control-plane-facing read model for a deck.
type DeckInfo struct {
	Status      types.DeckStatus
	TrackID     types.TrackID
	TrackTitle  string
	Duration    float64
	PositionSec float64
	Gain        float64
	CueEnabled  bool
	EQLowCut    bool
	EQMidCut    bool
	EQHighCut   bool
	PeakHold    float64
}

// DeckSnapshot returns a read-only copy of a deck's live state for the
// control plane's getState/get_deck_info handlers.
func (e *Engine) DeckSnapshot(n DeckNum) DeckInfo {
	var info DeckInfo
	e.runSync(func() {
		d := e.deckFor(n)
		if d.Track != nil {
			info.TrackID = d.Track.ID
			info.TrackTitle = d.Track.Title
			info.Duration = d.Track.Duration
		}
		info.Status = d.Status
		info.PositionSec = float64(d.Position) / 44100
		info.Gain = d.Gain
		info.CueEnabled = d.CueEnabled
		info.EQLowCut = d.EQ.Cut(types.EQLow)
		info.EQMidCut = d.EQ.Cut(types.EQMid)
		info.EQHighCut = d.EQ.Cut(types.EQHigh)
		info.PeakHold = d.PeakHold
	})
	return info
}

// Peaks returns the current per-deck peak and peak-hold levels for the
// control plane's levelState event.
func (e *Engine) Peaks() (peakA, peakB, holdA, holdB float64) {
	e.runSync(func() {
		peakA = e.Mixer.PeakA
		peakB = e.Mixer.PeakB
		holdA = e.deckA.PeakHold
		holdB = e.deckB.PeakHold
	})
	return
}

// CrossfaderPosition returns the current crossfader value.
func (e *Engine) CrossfaderPosition() float64 {
	var x float64
	e.runSync(func() { x = e.Mixer.Crossfader })
	return x
}

// MasterTempo returns the current master BPM.
func (e *Engine) MasterTempo() float64 {
	var bpm float64
	e.runSync(func() { bpm = e.Mixer.MasterBPM })
	return bpm
}

// LoadAndAnalyze decodes path off the audio callback thread, analyses
// BPM/structure (using the cache when mtime matches), and returns a
// ready-to-submit Track plus its PCM. The control thread calls this
// before issuing a loadTrack command (spec §4.1: "invoked off the audio
// callback thread").
func (e *Engine) LoadAndAnalyze(id types.TrackID, path string) (*types.Track, []float32, error) {
	res, err := decode.File(path, decode.Options{SampleRate: 44100, Channels: 2})
	if err != nil {
		return nil, nil, err
	}

	track := &types.Track{
		ID:       id,
		Title:    path,
		Path:     path,
		Duration: float64(len(res.PCM)/2) / 44100,
	}

	modTime := fileModTime(path)
	if e.StructureCache != nil {
		if cached, ok := e.StructureCache.Get(path, modTime); ok {
			track.BPM = cached.BPM
			track.Structure = cached
			return track, res.PCM, nil
		}
	}

	bpm, ok := analysis.BPM(res.Mono, 44100)
	if ok {
		track.BPM = bpm
		structure, err := analysis.Structure(res.Mono, 44100, bpm)
		if err == nil {
			track.Structure = structure
			if e.StructureCache != nil {
				e.StructureCache.Set(path, modTime, structure)
			}
		}
	}

	return track, res.PCM, nil
}

func fileModTime(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.ModTime().Unix()
}

func (e *Engine) forwardOutputEvents() {
	for {
		select {
		case <-e.done:
			return
		case ev, ok := <-e.Output.EventsCh:
			if !ok {
				return
			}
			e.publish(Event{Kind: ev.Kind})
		}
	}
}

func (e *Engine) publish(ev Event) {
	select {
	case e.Events <- ev:
	default:
		slog.Warn("engine: event channel full, dropping", "kind", ev.Kind)
	}
}
