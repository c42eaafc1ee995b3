package control

import "github.com/soundforge/djengine/internal/types"

// DeckSnapshot is one deck's full state, as carried inside a Snapshot or
// referenced (by changed fields only) inside a Delta.
type DeckSnapshot struct {
	Status      types.DeckStatus `json:"status"`
	TrackID     types.TrackID    `json:"trackId,omitempty"`
	TrackTitle  string           `json:"trackTitle,omitempty"`
	Duration    float64          `json:"duration,omitempty"`
	PositionSec float64          `json:"positionSeconds"`
	Gain        float64          `json:"gain"`
	CueEnabled  bool             `json:"cueEnabled"`
	EQLowCut    bool             `json:"eqLowCut"`
	EQMidCut    bool             `json:"eqMidCut"`
	EQHighCut   bool             `json:"eqHighCut"`
	PeakHold    float64          `json:"peakHold"`
}

// Snapshot is the full, authoritative engine state a client merges
// Deltas into (spec §9: "typed delta record whose fields are optional;
// consumers merge into a persistent full state").
type Snapshot struct {
	DeckA, DeckB    DeckSnapshot
	Crossfader      float64
	MasterBPM       float64
	RecordingStatus types.RecordingStatus
}

// DeckDelta carries only the deck fields that changed since the last
// snapshot. A nil pointer means "unchanged"; this is deliberately
// distinct from Go's zero value so a field that changed back to its
// zero value is still represented.
type DeckDelta struct {
	Status      *types.DeckStatus `json:"status,omitempty"`
	TrackID     *types.TrackID    `json:"trackId,omitempty"`
	TrackTitle  *string           `json:"trackTitle,omitempty"`
	Duration    *float64          `json:"duration,omitempty"`
	PositionSec *float64          `json:"positionSeconds,omitempty"`
	IsSeek      bool              `json:"isSeek,omitempty"`
	Gain        *float64          `json:"gain,omitempty"`
	CueEnabled  *bool             `json:"cueEnabled,omitempty"`
	EQLowCut    *bool             `json:"eqLowCut,omitempty"`
	EQMidCut    *bool             `json:"eqMidCut,omitempty"`
	EQHighCut   *bool             `json:"eqHighCut,omitempty"`
	PeakHold    *float64          `json:"peakHold,omitempty"`
}

// Delta is a stateChanged payload: every field optional, present only
// when it changed (spec §4.9).
type Delta struct {
	DeckA           *DeckDelta              `json:"deckA,omitempty"`
	DeckB           *DeckDelta              `json:"deckB,omitempty"`
	Crossfader      *float64                `json:"crossfader,omitempty"`
	MasterBPM       *float64                `json:"masterBpm,omitempty"`
	RecordingStatus *types.RecordingStatus  `json:"recordingStatus,omitempty"`
}

// diffDeck returns nil when nothing changed, else a DeckDelta with only
// the changed fields populated. isSeek is stamped on the caller's
// knowledge of whether this diff was triggered by a seek command.
func diffDeck(prev, next DeckSnapshot, isSeek bool) *DeckDelta {
	var d DeckDelta
	changed := false

	if prev.Status != next.Status {
		s := next.Status
		d.Status = &s
		changed = true
	}
	if prev.TrackID != next.TrackID {
		t := next.TrackID
		d.TrackID = &t
		changed = true
	}
	if prev.TrackTitle != next.TrackTitle {
		t := next.TrackTitle
		d.TrackTitle = &t
		changed = true
	}
	if prev.Duration != next.Duration {
		v := next.Duration
		d.Duration = &v
		changed = true
	}
	if prev.PositionSec != next.PositionSec || next.Status == types.DeckPlaying {
		v := next.PositionSec
		d.PositionSec = &v
		d.IsSeek = isSeek
		changed = true
	}
	if prev.Gain != next.Gain {
		v := next.Gain
		d.Gain = &v
		changed = true
	}
	if prev.CueEnabled != next.CueEnabled {
		v := next.CueEnabled
		d.CueEnabled = &v
		changed = true
	}
	if prev.EQLowCut != next.EQLowCut {
		v := next.EQLowCut
		d.EQLowCut = &v
		changed = true
	}
	if prev.EQMidCut != next.EQMidCut {
		v := next.EQMidCut
		d.EQMidCut = &v
		changed = true
	}
	if prev.EQHighCut != next.EQHighCut {
		v := next.EQHighCut
		d.EQHighCut = &v
		changed = true
	}
	if prev.PeakHold != next.PeakHold {
		v := next.PeakHold
		d.PeakHold = &v
		changed = true
	}

	if !changed {
		return nil
	}
	return &d
}

// diff computes the Delta between prev and next, returning nil if
// nothing changed at all (in which case no stateChanged is emitted).
func diff(prev, next Snapshot, seekA, seekB bool) *Delta {
	var d Delta
	changed := false

	if da := diffDeck(prev.DeckA, next.DeckA, seekA); da != nil {
		d.DeckA = da
		changed = true
	}
	if db := diffDeck(prev.DeckB, next.DeckB, seekB); db != nil {
		d.DeckB = db
		changed = true
	}
	if prev.Crossfader != next.Crossfader {
		v := next.Crossfader
		d.Crossfader = &v
		changed = true
	}
	if prev.MasterBPM != next.MasterBPM {
		v := next.MasterBPM
		d.MasterBPM = &v
		changed = true
	}
	if prev.RecordingStatus != next.RecordingStatus {
		v := next.RecordingStatus
		d.RecordingStatus = &v
		changed = true
	}

	if !changed {
		return nil
	}
	return &d
}
