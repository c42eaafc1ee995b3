package record

import "database/sql"

// Entry is one completed or in-progress recording, persisted so a
// restarted engine can still answer "what did we record last session".
type Entry struct {
	ID        int64
	Path      string
	Format    string
	StartedAt int64 // unix seconds
	EndedAt   int64 // 0 while still recording
}

// HistoryStore provides CRUD access to the recording_history table,
// following the same thin sql.DB-wrapper shape used elsewhere in this
// codebase for small persisted record sets.
type HistoryStore struct {
	db *sql.DB
}

// NewHistoryStore wraps db for recording-history access. The caller is
// responsible for having already run the schema migration that creates
// recording_history.
func NewHistoryStore(db *sql.DB) *HistoryStore {
	return &HistoryStore{db: db}
}

// Begin inserts a new in-progress entry and returns its id.
func (s *HistoryStore) Begin(path, format string, startedAt int64) (int64, error) {
	res, err := s.db.Exec(
		"INSERT INTO recording_history (path, format, started_at, ended_at) VALUES (?, ?, ?, 0)",
		path, format, startedAt,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// Finish stamps an entry's end time.
func (s *HistoryStore) Finish(id, endedAt int64) error {
	_, err := s.db.Exec("UPDATE recording_history SET ended_at = ? WHERE id = ?", endedAt, id)
	return err
}

// List returns recordings most-recent-first.
func (s *HistoryStore) List(limit int) ([]Entry, error) {
	rows, err := s.db.Query(
		"SELECT id, path, format, started_at, ended_at FROM recording_history ORDER BY started_at DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Path, &e.Format, &e.StartedAt, &e.EndedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
