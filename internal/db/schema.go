package db

import "database/sql"

// ensureSchema creates the engine's persisted tables and seeds default
// configuration. Mirrors the teacher's single-exec-block-plus-seed-rows
// approach, generalised from video/transition bookkeeping to engine
// configuration, track-structure analysis, and recording history.
func ensureSchema(db *sql.DB) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS config (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	INSERT OR IGNORE INTO config (key, value) VALUES ('output_device_id', '-1');
	INSERT OR IGNORE INTO config (key, value) VALUES ('master_bpm', '120');
	INSERT OR IGNORE INTO config (key, value) VALUES ('recording_dir', './recordings');

	-- Cached beat-grid/structure analysis for tracks, invalidated by mtime.
	CREATE TABLE IF NOT EXISTS track_structure (
		path       TEXT PRIMARY KEY,
		bpm        REAL NOT NULL,
		structure  TEXT NOT NULL,   -- JSON-encoded types.TrackStructure
		mod_time   INTEGER NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Completed and in-progress recordings.
	CREATE TABLE IF NOT EXISTS recording_history (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		path       TEXT NOT NULL,
		format     TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		ended_at   INTEGER NOT NULL DEFAULT 0
	);

	-- Last device actually negotiated, so a restart can prefer it over
	-- re-running device selection from scratch.
	CREATE TABLE IF NOT EXISTS last_device (
		id         INTEGER PRIMARY KEY CHECK (id = 1),
		device_id  INTEGER NOT NULL,
		device_name TEXT NOT NULL,
		channels   INTEGER NOT NULL
	);
	`

	_, err := db.Exec(schema)
	return err
}
