// Package control is the command/event surface (C9) that sits between a
// transport (the remote tool surface in internal/mcp, an eventual
// websocket bridge) and the engine's real-time audio graph. It enforces
// the per-command timeout, tags every request with a correlation id, and
// runs the coalesced snapshot-diffing loop that turns continuous engine
// state into discrete stateChanged events.
package control

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/soundforge/djengine/internal/engine"
	"github.com/soundforge/djengine/internal/record"
	"github.com/soundforge/djengine/internal/types"
)

// CommandTimeout bounds how long a Protocol method waits for the engine
// to apply a command before giving up (spec §7 default).
const CommandTimeout = 5 * time.Second

const snapshotInterval = 16 * time.Millisecond

// ErrTimeout is returned when a command is not applied within
// CommandTimeout, typically because the audio callback has stalled.
var ErrTimeout = fmt.Errorf("control: command timed out")

// Protocol drives an Engine on behalf of a transport, publishing its
// state and lifecycle events onto a Hub.
type Protocol struct {
	eng *engine.Engine
	hub *Hub

	last     Snapshot
	seekA    bool
	seekB    bool
	stopOnce chan struct{}
}

// New builds a Protocol around eng, publishing events to hub. Call Run
// in a goroutine to start the snapshot and event-forwarding loops.
func New(eng *engine.Engine, hub *Hub) *Protocol {
	return &Protocol{
		eng:      eng,
		hub:      hub,
		stopOnce: make(chan struct{}),
	}
}

// Run drives the snapshot ticker, the level-state ticker, and the
// engine/recorder event forwarders until Stop is called. Intended to
// run in its own goroutine for the life of the process.
func (p *Protocol) Run() {
	go p.snapshotLoop()
	go p.levelLoop()
	go p.forwardEngineEvents()
	if p.eng.Recorder != nil {
		go p.forwardRecorderEvents(p.eng.Recorder)
	}
}

// Stop halts the protocol's background loops.
func (p *Protocol) Stop() {
	close(p.stopOnce)
}

func (p *Protocol) newCorrelationID() string {
	return uuid.NewString()
}

// submit enqueues cmd on the engine and blocks for at most
// CommandTimeout before giving up.
func (p *Protocol) submit(cmd engine.Command) error {
	result := make(chan error, 1)
	go func() { result <- p.eng.Submit(cmd) }()
	select {
	case err := <-result:
		return err
	case <-time.After(CommandTimeout):
		return ErrTimeout
	}
}

// LoadTrack decodes and analyses the file at path off the audio thread,
// then submits it to deck n. Returns ErrDeckBusy if the deck is
// currently playing (spec §4.1).
func (p *Protocol) LoadTrack(n engine.DeckNum, id types.TrackID, path string) (string, error) {
	corrID := p.newCorrelationID()
	track, pcm, err := p.eng.LoadAndAnalyze(id, path)
	if err != nil {
		return corrID, err
	}
	err = p.submit(engine.Command{Kind: "loadTrack", Deck: n, Track: track, PCM: pcm})
	if err == nil && track.Structure != nil {
		p.hub.Publish(Event{Kind: EventTrackStructure, Data: track.Structure})
	}
	return corrID, err
}

// Play starts playback on deck n from its current position.
func (p *Protocol) Play(n engine.DeckNum) (string, error) {
	corrID := p.newCorrelationID()
	return corrID, p.submit(engine.Command{Kind: "play", Deck: n})
}

// Stop halts playback on deck n, holding its current position.
func (p *Protocol) Stop(n engine.DeckNum) (string, error) {
	corrID := p.newCorrelationID()
	return corrID, p.submit(engine.Command{Kind: "stop", Deck: n})
}

// Seek jumps deck n to fraction (0..1) of its track's length.
func (p *Protocol) Seek(n engine.DeckNum, fraction float64) (string, error) {
	corrID := p.newCorrelationID()
	err := p.submit(engine.Command{Kind: "seek", Deck: n, Float: fraction})
	if err == nil {
		p.markSeek(n)
	}
	return corrID, err
}

func (p *Protocol) markSeek(n engine.DeckNum) {
	if n == engine.Deck1 {
		p.seekA = true
	} else {
		p.seekB = true
	}
}

// SetDeckGain sets deck n's linear gain multiplier (0..2, spec §4.3).
func (p *Protocol) SetDeckGain(n engine.DeckNum, gain float64) (string, error) {
	corrID := p.newCorrelationID()
	return corrID, p.submit(engine.Command{Kind: "setGain", Deck: n, Float: types.Clamp(gain, 0, 2)})
}

// SetDeckCue toggles deck n's cue-bus routing.
func (p *Protocol) SetDeckCue(n engine.DeckNum, enabled bool) (string, error) {
	corrID := p.newCorrelationID()
	return corrID, p.submit(engine.Command{Kind: "setCue", Deck: n, Bool: enabled})
}

// SetEqCut toggles a kill-EQ band on deck n.
func (p *Protocol) SetEqCut(n engine.DeckNum, band types.EQBand, cut bool) (string, error) {
	corrID := p.newCorrelationID()
	return corrID, p.submit(engine.Command{Kind: "setEqCut", Deck: n, Band: band, Bool: cut})
}

// SetBeatLoop arms a beat-quantised loop of the given length on deck n.
func (p *Protocol) SetBeatLoop(n engine.DeckNum, beats float64) (string, error) {
	corrID := p.newCorrelationID()
	return corrID, p.submit(engine.Command{Kind: "setBeatLoop", Deck: n, Float: beats})
}

// ClearLoop cancels any active loop on deck n.
func (p *Protocol) ClearLoop(n engine.DeckNum) (string, error) {
	corrID := p.newCorrelationID()
	return corrID, p.submit(engine.Command{Kind: "clearLoop", Deck: n})
}

// SetCrossfader moves the crossfader to x (0..1) immediately, cancelling
// any in-flight automated crossfade.
func (p *Protocol) SetCrossfader(x float64) (string, error) {
	corrID := p.newCorrelationID()
	return corrID, p.submit(engine.Command{Kind: "setCrossfader", Float: types.Clamp(x, 0, 1)})
}

// StartCrossfade automates the crossfader to target over duration seconds.
func (p *Protocol) StartCrossfade(target, durationSec float64) (string, error) {
	corrID := p.newCorrelationID()
	return corrID, p.submit(engine.Command{Kind: "startCrossfade", Float: types.Clamp(target, 0, 1), Float2: durationSec})
}

// SetMasterTempo sets the shared master BPM (60..200, spec §4.6), which
// drives every playing deck's stretch ratio.
func (p *Protocol) SetMasterTempo(bpm float64) (string, error) {
	corrID := p.newCorrelationID()
	return corrID, p.submit(engine.Command{Kind: "setMasterTempo", Float: bpm})
}

// StartRecording begins writing the master mix to disk in the given format.
func (p *Protocol) StartRecording(format types.RecordingFormat) (string, error) {
	corrID := p.newCorrelationID()
	if p.eng.Recorder == nil {
		return corrID, fmt.Errorf("control: recording not configured")
	}
	return corrID, p.eng.Recorder.Start(format)
}

// StopRecording finalises the active recording.
func (p *Protocol) StopRecording() (string, error) {
	corrID := p.newCorrelationID()
	if p.eng.Recorder == nil {
		return corrID, fmt.Errorf("control: recording not configured")
	}
	return corrID, p.eng.Recorder.Stop()
}

// EngineForAnalysis exposes the underlying engine for callers that need
// its stateless decode/analysis helpers (e.g. the remote tool surface's
// get_track_structure, which analyses without loading onto a deck).
func (p *Protocol) EngineForAnalysis() *engine.Engine {
	return p.eng
}

// GetState returns a full, authoritative Snapshot of engine state,
// independent of the diffing loop's last-published Delta.
func (p *Protocol) GetState() Snapshot {
	return p.currentSnapshot()
}

func (p *Protocol) currentSnapshot() Snapshot {
	a := p.eng.DeckSnapshot(engine.Deck1)
	b := p.eng.DeckSnapshot(engine.Deck2)
	recStatus := types.RecordingIdle
	if p.eng.Recorder != nil {
		recStatus = p.eng.Recorder.Status()
	}
	return Snapshot{
		DeckA:           deckSnapshotFrom(a),
		DeckB:           deckSnapshotFrom(b),
		Crossfader:      p.eng.CrossfaderPosition(),
		MasterBPM:       p.eng.MasterTempo(),
		RecordingStatus: recStatus,
	}
}

func deckSnapshotFrom(info engine.DeckInfo) DeckSnapshot {
	return DeckSnapshot{
		Status:      info.Status,
		TrackID:     info.TrackID,
		TrackTitle:  info.TrackTitle,
		Duration:    info.Duration,
		PositionSec: info.PositionSec,
		Gain:        info.Gain,
		CueEnabled:  info.CueEnabled,
		EQLowCut:    info.EQLowCut,
		EQMidCut:    info.EQMidCut,
		EQHighCut:   info.EQHighCut,
		PeakHold:    info.PeakHold,
	}
}

// snapshotLoop polls engine state at most once per snapshotInterval and
// publishes a stateChanged event only when the computed Delta is
// non-empty (spec §4.9: "coalesced to at most one per 16ms").
func (p *Protocol) snapshotLoop() {
	ticker := time.NewTicker(snapshotInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopOnce:
			return
		case <-ticker.C:
			next := p.currentSnapshot()
			if d := diff(p.last, next, p.seekA, p.seekB); d != nil {
				p.hub.Publish(Event{Kind: EventStateChanged, Data: d})
			}
			p.last = next
			p.seekA, p.seekB = false, false
		}
	}
}

// levelLoop polls and publishes per-deck peak levels roughly once per
// audio callback period; the control plane has no way to piggyback on
// the real-time callback itself, so this approximates "every callback"
// (spec §4.9) by polling at a period shorter than a callback.
func (p *Protocol) levelLoop() {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopOnce:
			return
		case <-ticker.C:
			peakA, peakB, holdA, holdB := p.eng.Peaks()
			p.hub.Publish(Event{Kind: EventLevelState, Data: LevelState{
				PeakA: peakA, PeakB: peakB, PeakHoldA: holdA, PeakHoldB: holdB,
			}})
		}
	}
}

func (p *Protocol) forwardEngineEvents() {
	for {
		select {
		case <-p.stopOnce:
			return
		case ev, ok := <-p.eng.Events:
			if !ok {
				return
			}
			switch ev.Kind {
			case "trackEnded":
				p.hub.Publish(Event{Kind: EventTrackEnded, Data: ev.Deck})
			case "device-changed":
				p.hub.Publish(Event{Kind: EventDeviceChanged})
			default:
				if ev.Err != nil {
					p.hub.Publish(Event{Kind: EventError, Data: ev.Err.Error()})
				}
			}
		}
	}
}

func (p *Protocol) forwardRecorderEvents(rec *record.Recorder) {
	for {
		select {
		case <-p.stopOnce:
			return
		case ev, ok := <-rec.EventsCh:
			if !ok {
				return
			}
			if ev.Err != nil {
				p.hub.Publish(Event{Kind: EventRecordingError, Data: ev.Err.Error()})
				continue
			}
			slog.Info("control: recording status", "status", ev.Status.String())
		}
	}
}
