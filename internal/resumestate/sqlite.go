//go:build sqlite
// +build sqlite

package resumestate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	logx "github.com/bnavetta/night-kitchen/pkg/logx"

	_ "modernc.org/sqlite"
)

// Single-row table: id is fixed at 1 so an upsert replaces the whole record
// in one statement, which is the atomicity the store contract needs.
const schema = `
CREATE TABLE IF NOT EXISTS resume_record (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	resumed_at TEXT NOT NULL,
	pre_suspend_state TEXT NOT NULL
);
`

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Write(ctx context.Context, rec Record) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if !rec.PreSuspendState.Valid() {
		return fmt.Errorf("refusing to persist invalid power state %q", rec.PreSuspendState)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO resume_record(id, resumed_at, pre_suspend_state) VALUES(1,?,?)
		 ON CONFLICT(id) DO UPDATE SET resumed_at=excluded.resumed_at, pre_suspend_state=excluded.pre_suspend_state`,
		rec.ResumedAt.Format(time.RFC3339Nano), string(rec.PreSuspendState),
	)
	return err
}

func (s *sqliteStore) Read(ctx context.Context) (*Record, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	var at, state string
	err := s.db.QueryRowContext(ctx,
		`SELECT resumed_at, pre_suspend_state FROM resume_record WHERE id = 1`,
	).Scan(&at, &state)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	ts, err := time.Parse(time.RFC3339Nano, at)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	rec := Record{ResumedAt: ts, PreSuspendState: PowerState(state)}
	if !rec.PreSuspendState.Valid() {
		return nil, fmt.Errorf("%w: unknown power state %q", ErrCorrupt, state)
	}
	return &rec, nil
}
