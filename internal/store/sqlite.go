package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dkeye/ringcall/internal/domain"
	"github.com/samber/lo"
	_ "modernc.org/sqlite"
)

type SQLite struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens or creates calls.db in dir.
func OpenSQLite(dir string) (*SQLite, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	path := filepath.Join(dir, "calls.db")

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(`
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS call_records (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			attempt    TEXT NOT NULL,
			party      TEXT NOT NULL,
			status     TEXT NOT NULL,
			mode       TEXT NOT NULL,
			at         INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS call_records_session ON call_records(session_id);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create call_records table: %w", err)
	}
	return &SQLite{db: db, path: path}, nil
}

func (s *SQLite) Path() string { return s.path }

func (s *SQLite) RecordCallStatus(ctx context.Context, rec domain.CallRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO call_records (session_id, attempt, party, status, mode, at) VALUES (?, ?, ?, ?, ?, ?)`,
		string(rec.SessionID), rec.Attempt, string(rec.Party), string(rec.Status), string(rec.Mode), rec.At.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert call record: %w", err)
	}
	return nil
}

// History returns the newest limit records of session, oldest first.
func (s *SQLite) History(ctx context.Context, session domain.SessionID, limit int) ([]domain.CallRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, attempt, party, status, mode, at FROM call_records
		 WHERE session_id = ? ORDER BY at DESC, id DESC LIMIT ?`, string(session), limit)
	if err != nil {
		return nil, fmt.Errorf("query call records: %w", err)
	}
	defer rows.Close()

	var out []domain.CallRecord
	for rows.Next() {
		var (
			rec domain.CallRecord
			at  int64
		)
		if err := rows.Scan(&rec.SessionID, &rec.Attempt, &rec.Party, &rec.Status, &rec.Mode, &at); err != nil {
			return nil, fmt.Errorf("scan call record: %w", err)
		}
		rec.At = time.UnixMilli(at)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return lo.Reverse(out), nil
}

func (s *SQLite) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM call_records WHERE at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune call records: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLite) Close() error { return s.db.Close() }
