package mcp

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/soundforge/djengine/internal/types"
)

var supportedExt = map[string]bool{
	".mp3": true,
	".mp4": true,
	".m4a": true,
}

// Library is a thin filesystem view over a root directory: each
// immediate subdirectory is a "workspace", and the decodable audio
// files inside the selected one are its tracks. Fetching metadata or
// cover art from an external music service is explicitly out of scope
// (spec §1); this only ever reads what is already on disk.
type Library struct {
	root string

	mu        sync.RWMutex
	workspace string
	tracks    map[types.TrackID]string // id -> absolute path, scoped to the selected workspace
}

// NewLibrary creates a Library rooted at root.
func NewLibrary(root string) *Library {
	return &Library{root: root, tracks: make(map[types.TrackID]string)}
}

// Workspace describes one library subdirectory.
type Workspace struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// ListWorkspaces enumerates immediate subdirectories of the library root.
func (l *Library) ListWorkspaces() ([]Workspace, error) {
	entries, err := os.ReadDir(l.root)
	if err != nil {
		return nil, fmt.Errorf("mcp: list workspaces: %w", err)
	}
	var out []Workspace
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, Workspace{Name: e.Name(), Path: filepath.Join(l.root, e.Name())})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// SelectWorkspace scopes subsequent ListTracks/Resolve calls to name, a
// value returned by ListWorkspaces.
func (l *Library) SelectWorkspace(name string) error {
	dir := filepath.Join(l.root, name)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("mcp: workspace %q not found", name)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.workspace = name
	l.tracks = make(map[types.TrackID]string)
	return nil
}

// ListTracks returns every decodable audio file in the selected
// workspace, assigning each a stable TrackID (its path relative to the
// workspace root) for later Resolve calls.
func (l *Library) ListTracks() ([]types.Track, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.workspace == "" {
		return nil, fmt.Errorf("mcp: no workspace selected")
	}
	dir := filepath.Join(l.root, l.workspace)

	var out []types.Track
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		if !supportedExt[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			rel = path
		}
		id := types.TrackID(rel)
		l.tracks[id] = path
		out = append(out, types.Track{ID: id, Title: rel, Path: path})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("mcp: list tracks: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return out, nil
}

// Resolve returns the absolute path for a track id previously returned
// by ListTracks.
func (l *Library) Resolve(id types.TrackID) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	path, ok := l.tracks[id]
	return path, ok
}
