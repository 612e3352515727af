package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"vidgrab/internal/logging"
)

// Record is one row of download history. It mirrors the in-memory session at
// its last persisted state and survives restarts.
type Record struct {
	SessionID    string    `json:"sessionId"`
	VideoID      string    `json:"videoId"`
	URL          string    `json:"url"`
	Title        string    `json:"title,omitempty"`
	Quality      string    `json:"quality"`
	Format       string    `json:"format"`
	Status       string    `json:"status"`
	Progress     float64   `json:"progress"`
	ErrorMessage string    `json:"error,omitempty"`
	FilePath     string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Store wraps an sql.DB and provides typed helpers for download history.
type Store struct {
	db *sql.DB
}

// Open opens or creates a SQLite database at the given path and ensures schema.
func Open(path string) (*Store, error) {
	// Pragmas: busy timeout and WAL for better concurrency.
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_journal_mode=WAL", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// Conservative limits.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func initSchema(db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS sessions (
    session_id TEXT PRIMARY KEY,
    video_id TEXT,
    url TEXT NOT NULL,
    title TEXT,
    quality TEXT,
    format TEXT,
    status TEXT,
    progress REAL,
    error_message TEXT,
    file_path TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
CREATE INDEX IF NOT EXISTS idx_sessions_created_at ON sessions(created_at);
`
	_, err := db.Exec(ddl)
	return err
}

// Close closes the underlying DB.
func (s *Store) Close() error { return s.db.Close() }

// CreateSession inserts a new history row for a session.
func (s *Store) CreateSession(ctx context.Context, r Record) error {
	if r.SessionID == "" {
		return ErrEmptySessionID
	}
	if r.URL == "" {
		return ErrEmptyURL
	}
	st := normalizeStatus(r.Status)
	_, err := s.db.ExecContext(ctx, `
INSERT INTO sessions (session_id, video_id, url, title, quality, format, status, progress)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.SessionID, r.VideoID, r.URL, r.Title, r.Quality, r.Format, st, r.Progress)
	logging.LogDBOperation("create_session", r.SessionID, err)
	return err
}

// UpdateProgress sets progress and bumps updated_at.
func (s *Store) UpdateProgress(ctx context.Context, sessionID string, progress float64) error {
	if sessionID == "" {
		return ErrEmptySessionID
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET progress = ?, updated_at = CURRENT_TIMESTAMP WHERE session_id = ?`,
		progress, sessionID)
	if err != nil {
		logging.LogDBOperation("update_progress", sessionID, err)
	}
	return err
}

// UpdateStatus sets status plus the error message or file path that goes with
// a terminal transition, and bumps updated_at.
func (s *Store) UpdateStatus(ctx context.Context, sessionID, status, errMsg, filePath string) error {
	if sessionID == "" {
		return ErrEmptySessionID
	}
	st := normalizeStatus(status)
	var err error
	switch {
	case st == "error" && strings.TrimSpace(errMsg) != "":
		_, err = s.db.ExecContext(ctx,
			`UPDATE sessions SET status = ?, error_message = ?, updated_at = CURRENT_TIMESTAMP WHERE session_id = ?`,
			st, strings.TrimSpace(errMsg), sessionID)
	case st == "completed":
		_, err = s.db.ExecContext(ctx,
			`UPDATE sessions SET status = ?, progress = 100, error_message = NULL, file_path = ?, updated_at = CURRENT_TIMESTAMP WHERE session_id = ?`,
			st, filePath, sessionID)
	default:
		_, err = s.db.ExecContext(ctx,
			`UPDATE sessions SET status = ?, error_message = NULL, updated_at = CURRENT_TIMESTAMP WHERE session_id = ?`,
			st, sessionID)
	}
	logging.LogDBOperation("update_status", sessionID, err)
	return err
}

// UpdateTitle records the extracted title once metadata is known.
func (s *Store) UpdateTitle(ctx context.Context, sessionID, title string) error {
	if sessionID == "" {
		return ErrEmptySessionID
	}
	if strings.TrimSpace(title) == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET title = ?, updated_at = CURRENT_TIMESTAMP WHERE session_id = ?`,
		title, sessionID)
	logging.LogDBOperation("update_title", sessionID, err)
	return err
}

// GetSession returns a single history row.
func (s *Store) GetSession(ctx context.Context, sessionID string) (Record, bool, error) {
	if sessionID == "" {
		return Record{}, false, ErrEmptySessionID
	}
	var r Record
	var title, errMsg, filePath sql.NullString
	err := s.db.QueryRowContext(ctx, `
SELECT session_id, video_id, url, title, quality, format, status, progress, error_message, file_path, created_at, updated_at
FROM sessions WHERE session_id = ?`, sessionID).Scan(
		&r.SessionID, &r.VideoID, &r.URL, &title, &r.Quality, &r.Format,
		&r.Status, &r.Progress, &errMsg, &filePath, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	r.Title = title.String
	r.ErrorMessage = errMsg.String
	r.FilePath = filePath.String
	return r, true, nil
}

// ListRecent returns the most recent history rows, newest first.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT session_id, video_id, url, title, quality, format, status, progress, error_message, file_path, created_at, updated_at
FROM sessions
ORDER BY created_at DESC, session_id DESC
LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Record, 0, limit)
	for rows.Next() {
		var r Record
		var title, errMsg, filePath sql.NullString
		if err := rows.Scan(&r.SessionID, &r.VideoID, &r.URL, &title, &r.Quality, &r.Format,
			&r.Status, &r.Progress, &errMsg, &filePath, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		r.Title = title.String
		r.ErrorMessage = errMsg.String
		r.FilePath = filePath.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// MarkInterrupted flags rows left mid-flight by a previous process as errors.
// Called once on startup, before any new sessions are created.
func (s *Store) MarkInterrupted(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
UPDATE sessions
SET status = 'error', error_message = 'interrupted by restart', updated_at = CURRENT_TIMESTAMP
WHERE status IN ('waiting', 'downloading')`)
	if err != nil {
		logging.LogDBOperation("mark_interrupted", "", err)
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	logging.LogDBOperation("mark_interrupted", "", nil)
	return affected, nil
}

func normalizeStatus(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "waiting", "downloading", "completed":
		return s
	case "failed", "error":
		return "error"
	default:
		return "waiting"
	}
}
