package analysis

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"os"

	"github.com/soundforge/djengine/internal/types"
)

// Cache stores and retrieves analysed track structures from SQLite,
// keyed by file path and invalidated by modification time. Adapted
// directly from the video-matching BPM cache, generalised from a bare
// BPM float to a full TrackStructure.
type Cache struct {
	db *sql.DB
}

// NewCache creates a structure cache backed by the given database. The
// caller is responsible for having run the schema migration that creates
// the track_structure table.
func NewCache(db *sql.DB) *Cache {
	return &Cache{db: db}
}

// Get retrieves a cached structure for path if it was analysed at the
// given modification time. Returns ok=false on a cache miss or stale
// entry.
func (c *Cache) Get(path string, modTime int64) (*types.TrackStructure, bool) {
	var payload string
	var storedMod int64
	err := c.db.QueryRow(
		`SELECT structure, mod_time FROM track_structure WHERE path = ?`, path,
	).Scan(&payload, &storedMod)
	if err != nil || storedMod != modTime {
		return nil, false
	}
	var ts types.TrackStructure
	if err := json.Unmarshal([]byte(payload), &ts); err != nil {
		return nil, false
	}
	return &ts, true
}

// Set stores a structure for path, replacing any prior entry.
func (c *Cache) Set(path string, modTime int64, ts *types.TrackStructure) error {
	payload, err := json.Marshal(ts)
	if err != nil {
		return err
	}
	_, err = c.db.Exec(
		`INSERT INTO track_structure (path, bpm, structure, mod_time) VALUES (?, ?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET bpm = excluded.bpm, structure = excluded.structure, mod_time = excluded.mod_time`,
		path, ts.BPM, string(payload), modTime,
	)
	return err
}

// Cleanup removes cache entries for files that no longer exist on disk.
func (c *Cache) Cleanup() {
	rows, err := c.db.Query(`SELECT path FROM track_structure`)
	if err != nil {
		slog.Warn("analysis cache cleanup: query failed", "error", err)
		return
	}
	defer rows.Close()

	var stale []string
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			continue
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			stale = append(stale, path)
		}
	}
	if err := rows.Err(); err != nil {
		slog.Warn("analysis cache cleanup: rows iteration error", "error", err)
	}

	for _, path := range stale {
		if _, err := c.db.Exec(`DELETE FROM track_structure WHERE path = ?`, path); err != nil {
			slog.Warn("analysis cache cleanup: delete failed", "path", path, "error", err)
		}
	}
	if len(stale) > 0 {
		slog.Info("analysis cache cleanup", "removed", len(stale))
	}
}
