// Package mcp exposes the Remote Tool Surface (C10): a small namespaced
// set of operations an external agent calls to drive the mix, each
// mapped onto one or more Control Protocol (C9) calls. Transport is a
// stateless HTTP POST, matching the teacher's plain net/http ServeMux
// style rather than introducing a router dependency the rest of the
// corpus never needed for a single endpoint.
package mcp

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/soundforge/djengine/internal/control"
	"github.com/soundforge/djengine/internal/engine"
	"github.com/soundforge/djengine/internal/types"
)

// Server handles the /mcp endpoint.
type Server struct {
	proto *control.Protocol
	lib   *Library
}

// New constructs a Server around proto and a filesystem-backed library
// rooted at libraryRoot.
func New(proto *control.Protocol, libraryRoot string) *Server {
	return &Server{proto: proto, lib: NewLibrary(libraryRoot)}
}

// Mux returns an http.Handler with the /mcp route registered.
func (s *Server) Mux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /mcp", s.handle)
	return mux
}

type envelope struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type response struct {
	Content []contentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	var env envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		writeJSON(w, errorResponse(fmt.Errorf("InvalidArgument: malformed request body: %w", err)))
		return
	}

	result, err := s.dispatch(env.Name, env.Arguments)
	if err != nil {
		slog.Warn("mcp: tool call failed", "name", env.Name, "error", err)
		writeJSON(w, errorResponse(err))
		return
	}
	writeJSON(w, okResponse(result))
}

func writeJSON(w http.ResponseWriter, resp response) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func okResponse(v any) response {
	text, err := json.Marshal(v)
	if err != nil {
		return errorResponse(err)
	}
	return response{Content: []contentBlock{{Type: "text", Text: string(text)}}}
}

func errorResponse(err error) response {
	return response{Content: []contentBlock{{Type: "text", Text: err.Error()}}, IsError: true}
}

func (s *Server) dispatch(name string, args map[string]any) (any, error) {
	switch name {
	case "list_workspaces":
		return s.lib.ListWorkspaces()
	case "select_workspace":
		ws, err := stringArg(args, "name")
		if err != nil {
			return nil, err
		}
		return nil, s.lib.SelectWorkspace(ws)
	case "list_tracks":
		return s.lib.ListTracks()
	case "load_deck":
		return s.loadDeck(args)
	case "play_deck":
		return s.deckOnly(args, func(n engine.DeckNum) (string, error) { return s.proto.Play(n) })
	case "stop_deck":
		return s.deckOnly(args, func(n engine.DeckNum) (string, error) { return s.proto.Stop(n) })
	case "seek_deck":
		return s.seekDeck(args)
	case "set_crossfader":
		pos, err := floatArg(args, "pos")
		if err != nil {
			return nil, err
		}
		_, err = s.proto.SetCrossfader(pos)
		return nil, err
	case "get_crossfader":
		return map[string]float64{"position": s.proto.GetState().Crossfader}, nil
	case "trigger_crossfade":
		return nil, s.triggerCrossfade(args)
	case "get_deck_info":
		return s.deckInfo(args)
	case "set_eq_cut":
		return nil, s.setEqCut(args)
	case "get_eq_state":
		return s.eqState(), nil
	case "get_master_tempo":
		return map[string]float64{"bpm": s.proto.GetState().MasterBPM}, nil
	case "set_master_tempo":
		bpm, err := floatArg(args, "bpm")
		if err != nil {
			return nil, err
		}
		if bpm < 60 || bpm > 200 {
			return nil, fmt.Errorf("InvalidArgument: bpm must be within [60,200]")
		}
		_, err = s.proto.SetMasterTempo(bpm)
		return nil, err
	case "get_track_structure":
		return s.trackStructure(args)
	case "get_playback_time_remaining":
		return s.timeRemaining(args)
	case "wait_until_position":
		return s.waitUntilPosition(args)
	default:
		return nil, fmt.Errorf("InvalidArgument: unknown tool %q", name)
	}
}

func (s *Server) loadDeck(args map[string]any) (any, error) {
	trackID, err := stringArg(args, "track_id")
	if err != nil {
		return nil, err
	}
	n, err := deckArg(args)
	if err != nil {
		return nil, err
	}
	path, ok := s.lib.Resolve(types.TrackID(trackID))
	if !ok {
		return nil, fmt.Errorf("InvalidArgument: unknown track_id %q", trackID)
	}
	_, err = s.proto.LoadTrack(n, types.TrackID(trackID), path)
	if err != nil {
		return nil, wrapDeckBusy(err)
	}
	return nil, nil
}

func (s *Server) deckOnly(args map[string]any, fn func(engine.DeckNum) (string, error)) (any, error) {
	n, err := deckArg(args)
	if err != nil {
		return nil, err
	}
	_, err = fn(n)
	return nil, err
}

func (s *Server) seekDeck(args map[string]any) (any, error) {
	n, err := deckArg(args)
	if err != nil {
		return nil, err
	}
	seconds, err := floatArg(args, "seconds")
	if err != nil {
		return nil, err
	}
	info := s.deckInfoFor(n)
	if info.Duration <= 0 {
		return nil, fmt.Errorf("InvalidArgument: deck %d has no loaded track", n)
	}
	fraction := types.Clamp(seconds/info.Duration, 0, 1)
	_, err = s.proto.Seek(n, fraction)
	return nil, err
}

func (s *Server) triggerCrossfade(args map[string]any) error {
	target := 1.0
	if s.proto.GetState().Crossfader > 0.5 {
		target = 0.0
	}
	if v, ok := args["target"]; ok {
		t, err := asFloat(v)
		if err != nil {
			return fmt.Errorf("InvalidArgument: target: %w", err)
		}
		target = t
	}
	duration, err := floatArg(args, "duration")
	if err != nil {
		return err
	}
	_, err = s.proto.StartCrossfade(target, duration)
	return err
}

func (s *Server) deckInfo(args map[string]any) (any, error) {
	n, err := deckArg(args)
	if err != nil {
		return nil, err
	}
	return s.deckInfoFor(n), nil
}

func (s *Server) deckInfoFor(n engine.DeckNum) control.DeckSnapshot {
	st := s.proto.GetState()
	if n == engine.Deck2 {
		return st.DeckB
	}
	return st.DeckA
}

func (s *Server) setEqCut(args map[string]any) error {
	n, err := deckArg(args)
	if err != nil {
		return err
	}
	bandStr, err := stringArg(args, "band")
	if err != nil {
		return err
	}
	band, err := parseBand(bandStr)
	if err != nil {
		return err
	}
	enabled, _ := args["enabled"].(bool)
	_, err = s.proto.SetEqCut(n, band, enabled)
	return err
}

func (s *Server) eqState() map[string]any {
	st := s.proto.GetState()
	return map[string]any{
		"deck1": map[string]bool{"low": st.DeckA.EQLowCut, "mid": st.DeckA.EQMidCut, "high": st.DeckA.EQHighCut},
		"deck2": map[string]bool{"low": st.DeckB.EQLowCut, "mid": st.DeckB.EQMidCut, "high": st.DeckB.EQHighCut},
	}
}

func (s *Server) trackStructure(args map[string]any) (any, error) {
	trackID, err := stringArg(args, "track_id")
	if err != nil {
		return nil, err
	}
	id := types.TrackID(trackID)

	// Deck snapshots omit bulk fields like structure (differential
	// state carries only what a client renders live), so this always
	// re-resolves through the library and analysis cache rather than
	// reading off a loaded deck.
	path, ok := s.lib.Resolve(id)
	if !ok {
		return nil, fmt.Errorf("InvalidArgument: unknown track_id %q", trackID)
	}
	track, _, err := s.proto.EngineForAnalysis().LoadAndAnalyze(id, path)
	if err != nil {
		return nil, err
	}
	return track.Structure, nil
}

func (s *Server) timeRemaining(args map[string]any) (any, error) {
	n, err := deckArg(args)
	if err != nil {
		return nil, err
	}
	info := s.deckInfoFor(n)
	remaining := info.Duration - info.PositionSec
	if remaining < 0 {
		remaining = 0
	}
	return map[string]float64{"remainingSeconds": remaining}, nil
}

func (s *Server) waitUntilPosition(args map[string]any) (any, error) {
	n, err := deckArg(args)
	if err != nil {
		return nil, err
	}

	remaining, hasRemaining := args["remainingSeconds"]
	position, hasPosition := args["positionSeconds"]
	elapsed, hasElapsed := args["elapsedSeconds"]
	count := 0
	for _, present := range []bool{hasRemaining, hasPosition, hasElapsed} {
		if present {
			count++
		}
	}
	if count != 1 {
		return nil, fmt.Errorf("InvalidArgument: exactly one of remainingSeconds|positionSeconds|elapsedSeconds must be supplied")
	}

	info := s.deckInfoFor(n)
	var targetPos float64
	switch {
	case hasRemaining:
		v, err := asFloat(remaining)
		if err != nil {
			return nil, fmt.Errorf("InvalidArgument: remainingSeconds: %w", err)
		}
		targetPos = info.Duration - v
	case hasPosition:
		v, err := asFloat(position)
		if err != nil {
			return nil, fmt.Errorf("InvalidArgument: positionSeconds: %w", err)
		}
		targetPos = v
	case hasElapsed:
		v, err := asFloat(elapsed)
		if err != nil {
			return nil, fmt.Errorf("InvalidArgument: elapsedSeconds: %w", err)
		}
		targetPos = info.PositionSec + v
	}

	deadline := time.Now().Add(10 * time.Second)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		info = s.deckInfoFor(n)
		if info.PositionSec >= targetPos {
			return map[string]any{
				"reached":         true,
				"currentPosition": info.PositionSec,
				"remaining":       info.Duration - info.PositionSec,
			}, nil
		}
		if time.Now().After(deadline) {
			return map[string]any{
				"reached":         false,
				"currentPosition": info.PositionSec,
				"remaining":       info.Duration - info.PositionSec,
			}, nil
		}
		<-ticker.C
	}
}

func wrapDeckBusy(err error) error {
	if err == engine.ErrDeckBusy {
		return fmt.Errorf("DeckBusy: %w", err)
	}
	return err
}

func parseBand(s string) (types.EQBand, error) {
	switch types.EQBand(s) {
	case types.EQLow, types.EQMid, types.EQHigh:
		return types.EQBand(s), nil
	default:
		return "", fmt.Errorf("InvalidArgument: band must be one of low|mid|high, got %q", s)
	}
}

func deckArg(args map[string]any) (engine.DeckNum, error) {
	v, ok := args["deck"]
	if !ok {
		return 0, fmt.Errorf("InvalidArgument: missing deck")
	}
	f, err := asFloat(v)
	if err != nil {
		return 0, fmt.Errorf("InvalidArgument: deck: %w", err)
	}
	switch int(f) {
	case 1:
		return engine.Deck1, nil
	case 2:
		return engine.Deck2, nil
	default:
		return 0, fmt.Errorf("InvalidArgument: deck must be 1 or 2, got %v", v)
	}
}

func stringArg(args map[string]any, key string) (string, error) {
	v, ok := args[key].(string)
	if !ok || v == "" {
		return "", fmt.Errorf("InvalidArgument: missing or non-string %q", key)
	}
	return v, nil
}

func floatArg(args map[string]any, key string) (float64, error) {
	v, ok := args[key]
	if !ok {
		return 0, fmt.Errorf("InvalidArgument: missing %q", key)
	}
	f, err := asFloat(v)
	if err != nil {
		return 0, fmt.Errorf("InvalidArgument: %s: %w", key, err)
	}
	return f, nil
}

func asFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("expected a number, got %T", v)
	}
}
