package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "emsctl/pkg/logx"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS runs (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id    TEXT NOT NULL,
	started   TEXT NOT NULL,
	took_ms   INTEGER NOT NULL,
	timelines INTEGER NOT NULL,
	fired     INTEGER NOT NULL,
	skipped   INTEGER NOT NULL,
	failed    INTEGER NOT NULL,
	err       TEXT
);
CREATE INDEX IF NOT EXISTS runs_run_id ON runs(run_id);

CREATE TABLE IF NOT EXISTS dispatches (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id       TEXT NOT NULL,
	timeline     TEXT NOT NULL,
	position     INTEGER NOT NULL,
	device_index INTEGER NOT NULL,
	payload      TEXT NOT NULL,
	offset_ms    INTEGER NOT NULL,
	elapsed_ms   INTEGER NOT NULL,
	send_took_us INTEGER NOT NULL,
	outcome      TEXT NOT NULL,
	err          TEXT,
	at           TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS dispatches_run_id ON dispatches(run_id);
`

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(context.Background(), sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AppendDispatch(ctx context.Context, r DispatchRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if r.At.IsZero() {
		r.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dispatches(run_id, timeline, position, device_index, payload, offset_ms, elapsed_ms, send_took_us, outcome, err, at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?)`,
		r.RunID, r.Timeline, r.Position, r.Index, r.Payload, r.OffsetMS, r.ElapsedMS, r.SendTookUS,
		r.Outcome, nullStr(r.Error), r.At.Format(time.RFC3339Nano),
	)
	return err
}

func (s *sqliteStore) AppendRun(ctx context.Context, r RunRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if r.Started.IsZero() {
		r.Started = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs(run_id, started, took_ms, timelines, fired, skipped, failed, err)
		 VALUES(?,?,?,?,?,?,?,?)`,
		r.RunID, r.Started.Format(time.RFC3339Nano), r.TookMS, r.Timelines, r.Fired, r.Skipped, r.Failed, nullStr(r.Error),
	)
	return err
}

func (s *sqliteStore) RecentRuns(ctx context.Context, n int) ([]RunRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if n <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, started, took_ms, timelines, fired, skipped, failed, err
		 FROM runs ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var (
			r       RunRecord
			started string
			errStr  sql.NullString
		)
		if err := rows.Scan(&r.RunID, &started, &r.TookMS, &r.Timelines, &r.Fired, &r.Skipped, &r.Failed, &errStr); err != nil {
			return nil, err
		}
		r.Started, _ = time.Parse(time.RFC3339Nano, started)
		r.Error = errStr.String
		out = append(out, r)
	}
	return out, rows.Err()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
