package analysis

import (
	"path/filepath"
	"testing"

	"github.com/soundforge/djengine/internal/db"
	"github.com/soundforge/djengine/internal/types"
)

func openTestCache(t *testing.T) *Cache {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	database, err := db.Open(path)
	if err != nil {
		t.Fatalf("db.Open: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return NewCache(database)
}

func TestCacheMissWithoutEntry(t *testing.T) {
	c := openTestCache(t)
	if _, ok := c.Get("/nope.mp3", 1); ok {
		t.Fatalf("expected a cache miss")
	}
}

func TestCacheRoundTrip(t *testing.T) {
	c := openTestCache(t)
	ts := &types.TrackStructure{BPM: 128, Beats: []float64{0, 0.5, 1.0}}

	if err := c.Set("/track.mp3", 100, ts); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, ok := c.Get("/track.mp3", 100)
	if !ok {
		t.Fatalf("expected a cache hit")
	}
	if got.BPM != 128 || len(got.Beats) != 3 {
		t.Fatalf("unexpected round-tripped structure: %+v", got)
	}
}

func TestCacheInvalidatesOnModTimeChange(t *testing.T) {
	c := openTestCache(t)
	ts := &types.TrackStructure{BPM: 128}
	c.Set("/track.mp3", 100, ts)

	if _, ok := c.Get("/track.mp3", 200); ok {
		t.Fatalf("expected a stale cache entry to miss after mtime changed")
	}
}

func TestCacheSetOverwritesPriorEntry(t *testing.T) {
	c := openTestCache(t)
	c.Set("/track.mp3", 100, &types.TrackStructure{BPM: 120})
	c.Set("/track.mp3", 200, &types.TrackStructure{BPM: 128})

	got, ok := c.Get("/track.mp3", 200)
	if !ok || got.BPM != 128 {
		t.Fatalf("expected the latest entry, got ok=%v %+v", ok, got)
	}
}
