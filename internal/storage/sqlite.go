// Package storage archives recordings, their transcript fragments and the
// coaching replies they produced, and keeps a daily markdown journal.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/optimisticlucifer/ghostGuide-sub001/internal/audio"
	"github.com/optimisticlucifer/ghostGuide-sub001/internal/transcribe"
)

const (
	RecordingActive  = "active"
	RecordingEnded   = "ended"
	RecordingFailed  = "failed"
	RecordingAborted = "aborted"
)

type Recording struct {
	ID         string       `json:"id"`
	SessionID  string       `json:"session_id"`
	Source     audio.Source `json:"source"`
	Mode       string       `json:"mode"`
	StartedAt  time.Time    `json:"started_at"`
	EndedAt    *time.Time   `json:"ended_at,omitempty"`
	Status     string       `json:"status"`
	Transcript string       `json:"transcript"`
}

// Reply is one coaching answer together with the transcript text it answered.
type Reply struct {
	ID          int64        `json:"id"`
	RecordingID string       `json:"recording_id"`
	SessionID   string       `json:"session_id"`
	Mode        string       `json:"mode"`
	Source      audio.Source `json:"source"`
	Prompt      string       `json:"prompt"`
	Reply       string       `json:"reply"`
	CreatedAt   time.Time    `json:"created_at"`
}

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if strings.TrimSpace(dbPath) == "" {
		dbPath = filepath.Join("data", "ghostguide.db")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

var schema = []struct {
	name string
	stmt string
}{
	{"recordings table", `
		CREATE TABLE IF NOT EXISTS recordings (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			source TEXT NOT NULL,
			mode TEXT NOT NULL,
			started_at TEXT NOT NULL,
			ended_at TEXT,
			status TEXT NOT NULL,
			transcript TEXT NOT NULL DEFAULT ''
		)`},
	{"fragments table", `
		CREATE TABLE IF NOT EXISTS fragments (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			recording_id TEXT NOT NULL,
			source TEXT NOT NULL,
			text TEXT NOT NULL,
			raw TEXT NOT NULL DEFAULT '',
			start_ms INTEGER NOT NULL,
			duration_ms INTEGER NOT NULL,
			captured_at TEXT NOT NULL,
			FOREIGN KEY(recording_id) REFERENCES recordings(id) ON DELETE CASCADE
		)`},
	{"replies table", `
		CREATE TABLE IF NOT EXISTS replies (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			recording_id TEXT NOT NULL DEFAULT '',
			session_id TEXT NOT NULL,
			mode TEXT NOT NULL,
			source TEXT NOT NULL DEFAULT '',
			prompt TEXT NOT NULL,
			reply TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`},
	{"recordings index", "CREATE INDEX IF NOT EXISTS idx_recordings_started_at ON recordings(started_at)"},
	{"fragments index", "CREATE INDEX IF NOT EXISTS idx_fragments_recording_id ON fragments(recording_id, id)"},
	{"replies index", "CREATE INDEX IF NOT EXISTS idx_replies_recording_id ON replies(recording_id, id)"},
}

func (s *SQLiteStore) init() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	for _, step := range schema {
		if _, err := s.db.Exec(step.stmt); err != nil {
			return fmt.Errorf("create %s: %w", step.name, err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) CreateRecording(rec Recording) error {
	if strings.TrimSpace(rec.ID) == "" {
		return errors.New("recording id is required")
	}
	if rec.Status == "" {
		rec.Status = RecordingActive
	}

	_, err := s.db.Exec(
		`INSERT INTO recordings(id, session_id, source, mode, started_at, status) VALUES(?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.SessionID,
		string(rec.Source),
		rec.Mode,
		formatTime(rec.StartedAt),
		rec.Status,
	)
	if err != nil {
		return fmt.Errorf("create recording %s: %w", rec.ID, err)
	}
	return nil
}

// EndRecording stores the final transcript and marks the recording ended or
// failed. It returns sql.ErrNoRows for an unknown id.
func (s *SQLiteStore) EndRecording(id string, endedAt time.Time, transcript, status string) error {
	res, err := s.db.Exec(
		`UPDATE recordings SET ended_at = ?, status = ?, transcript = ? WHERE id = ?`,
		formatTime(endedAt),
		status,
		transcript,
		id,
	)
	if err != nil {
		return fmt.Errorf("end recording %s: %w", id, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("end recording rows affected: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *SQLiteStore) AppendFragment(recordingID string, f transcribe.Fragment) error {
	_, err := s.db.Exec(
		`INSERT INTO fragments(recording_id, source, text, raw, start_ms, duration_ms, captured_at) VALUES(?, ?, ?, ?, ?, ?, ?)`,
		recordingID,
		string(f.Source),
		strings.TrimSpace(f.Text),
		f.Raw,
		f.Start.Milliseconds(),
		f.Duration.Milliseconds(),
		formatTime(f.CapturedAt),
	)
	if err != nil {
		return fmt.Errorf("append fragment for recording %s: %w", recordingID, err)
	}
	return nil
}

func (s *SQLiteStore) SaveReply(r Reply) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}

	_, err := s.db.Exec(
		`INSERT INTO replies(recording_id, session_id, mode, source, prompt, reply, created_at) VALUES(?, ?, ?, ?, ?, ?, ?)`,
		r.RecordingID,
		r.SessionID,
		r.Mode,
		string(r.Source),
		r.Prompt,
		r.Reply,
		formatTime(r.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("save reply for session %s: %w", r.SessionID, err)
	}
	return nil
}

const recordingColumns = `id, session_id, source, mode, started_at, ended_at, status, transcript`

func (s *SQLiteStore) GetRecordingsByDate(date string) ([]Recording, error) {
	rows, err := s.db.Query(
		`SELECT `+recordingColumns+`
		 FROM recordings
		 WHERE substr(started_at, 1, 10) = ?
		 ORDER BY started_at DESC`,
		date,
	)
	if err != nil {
		return nil, fmt.Errorf("query recordings by date %s: %w", date, err)
	}
	defer func() { _ = rows.Close() }()

	recordings := make([]Recording, 0, 16)
	for rows.Next() {
		rec, err := scanRecording(rows)
		if err != nil {
			return nil, err
		}
		recordings = append(recordings, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recording rows: %w", err)
	}
	return recordings, nil
}

func (s *SQLiteStore) GetRecording(id string) (Recording, error) {
	row := s.db.QueryRow(`SELECT `+recordingColumns+` FROM recordings WHERE id = ?`, id)

	rec, err := scanRecording(row)
	if err != nil {
		return Recording{}, fmt.Errorf("query recording %s: %w", id, err)
	}
	return rec, nil
}

func (s *SQLiteStore) GetDates() ([]string, error) {
	rows, err := s.db.Query(
		`SELECT DISTINCT substr(started_at, 1, 10) AS date FROM recordings ORDER BY date DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query dates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var dates []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("scan date: %w", err)
		}
		dates = append(dates, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dates rows: %w", err)
	}

	return dates, nil
}

func (s *SQLiteStore) GetFragments(recordingID string) ([]transcribe.Fragment, error) {
	rows, err := s.db.Query(
		`SELECT source, text, raw, start_ms, duration_ms, captured_at
		 FROM fragments
		 WHERE recording_id = ?
		 ORDER BY id ASC`,
		recordingID,
	)
	if err != nil {
		return nil, fmt.Errorf("query fragments for recording %s: %w", recordingID, err)
	}
	defer func() { _ = rows.Close() }()

	fragments := make([]transcribe.Fragment, 0, 32)
	for rows.Next() {
		var (
			f                   transcribe.Fragment
			source, ts          string
			startMS, durationMS int64
		)
		if err := rows.Scan(&source, &f.Text, &f.Raw, &startMS, &durationMS, &ts); err != nil {
			return nil, fmt.Errorf("scan fragment for recording %s: %w", recordingID, err)
		}

		capturedAt, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("parse fragment timestamp for recording %s: %w", recordingID, err)
		}
		f.Source = audio.Source(source)
		f.CapturedAt = capturedAt
		f.Start = time.Duration(startMS) * time.Millisecond
		f.Duration = time.Duration(durationMS) * time.Millisecond

		fragments = append(fragments, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fragment rows for recording %s: %w", recordingID, err)
	}

	return fragments, nil
}

func (s *SQLiteStore) GetReplies(recordingID string) ([]Reply, error) {
	rows, err := s.db.Query(
		`SELECT id, recording_id, session_id, mode, source, prompt, reply, created_at
		 FROM replies
		 WHERE recording_id = ?
		 ORDER BY id ASC`,
		recordingID,
	)
	if err != nil {
		return nil, fmt.Errorf("query replies for recording %s: %w", recordingID, err)
	}
	defer func() { _ = rows.Close() }()

	var replies []Reply
	for rows.Next() {
		var (
			r          Reply
			source, ts string
		)
		if err := rows.Scan(&r.ID, &r.RecordingID, &r.SessionID, &r.Mode, &source, &r.Prompt, &r.Reply, &ts); err != nil {
			return nil, fmt.Errorf("scan reply for recording %s: %w", recordingID, err)
		}
		createdAt, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("parse reply created_at: %w", err)
		}
		r.Source = audio.Source(source)
		r.CreatedAt = createdAt
		replies = append(replies, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reply rows for recording %s: %w", recordingID, err)
	}
	return replies, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecording(row rowScanner) (Recording, error) {
	var (
		rec       Recording
		source    string
		startedAt string
		endedAt   sql.NullString
	)
	if err := row.Scan(&rec.ID, &rec.SessionID, &source, &rec.Mode, &startedAt, &endedAt, &rec.Status, &rec.Transcript); err != nil {
		return Recording{}, fmt.Errorf("scan recording: %w", err)
	}
	rec.Source = audio.Source(source)

	parsedStart, err := time.Parse(time.RFC3339Nano, startedAt)
	if err != nil {
		return Recording{}, fmt.Errorf("parse started_at: %w", err)
	}
	rec.StartedAt = parsedStart

	if endedAt.Valid {
		parsedEnd, err := time.Parse(time.RFC3339Nano, endedAt.String)
		if err != nil {
			return Recording{}, fmt.Errorf("parse ended_at: %w", err)
		}
		rec.EndedAt = &parsedEnd
	}

	return rec, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
