package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rcliao/agent-loop/internal/model"
)

// Index is a SQLite mirror of the event log. It can always be rebuilt from
// the log and is never the source of truth.
type Index struct {
	db   *sql.DB
	path string
}

// OpenIndex opens or creates the index database at dbPath.
func OpenIndex(dbPath string) (*Index, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create index dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	db.SetMaxOpenConns(1)

	idx := &Index{db: db, path: dbPath}
	if err := idx.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return idx, nil
}

func (x *Index) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		seq         INTEGER PRIMARY KEY,
		timestamp   TEXT NOT NULL,
		cycle       INTEGER NOT NULL,
		intent_ref  TEXT,
		action_type TEXT NOT NULL,
		outcome     TEXT NOT NULL,
		error       TEXT,
		note        TEXT,
		attempt     INTEGER NOT NULL DEFAULT 0,
		poisoned    INTEGER NOT NULL DEFAULT 0,
		run         TEXT,
		raw         TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_intent ON events(intent_ref, outcome);
	CREATE INDEX IF NOT EXISTS idx_events_cycle ON events(cycle);
	CREATE INDEX IF NOT EXISTS idx_events_action ON events(action_type, outcome);

	CREATE TABLE IF NOT EXISTS artifacts (
		event_seq  INTEGER NOT NULL REFERENCES events(seq) ON DELETE CASCADE,
		intent_ref TEXT NOT NULL,
		path       TEXT NOT NULL,
		kind       TEXT NOT NULL,
		created_at TEXT NOT NULL,
		PRIMARY KEY (event_seq, path)
	);
	CREATE INDEX IF NOT EXISTS idx_artifacts_intent ON artifacts(intent_ref);
	CREATE INDEX IF NOT EXISTS idx_artifacts_kind ON artifacts(kind);
	`
	_, err := x.db.Exec(schema)
	return err
}

// Insert indexes one event and its created files.
func (x *Index) Insert(ctx context.Context, ev model.Event) error {
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := insertEvent(ctx, tx, ev); err != nil {
		return err
	}
	return tx.Commit()
}

func insertEvent(ctx context.Context, tx *sql.Tx, ev model.Event) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO events (seq, timestamp, cycle, intent_ref, action_type, outcome, error, note, attempt, poisoned, run, raw)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.Seq, ev.Timestamp.UTC().Format(time.RFC3339Nano), ev.Cycle, nullString(ev.IntentRef),
		ev.ActionType, string(ev.Outcome), nullString(ev.Error), nullString(ev.Note),
		ev.Attempt, boolInt(ev.Poisoned), nullString(ev.Run), string(raw))
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	if ev.Outcome != model.OutcomeSuccess {
		return nil
	}
	for _, p := range ev.FilesCreated {
		if err := insertArtifact(ctx, tx, ev, p); err != nil {
			return err
		}
	}
	return nil
}

// Count returns the number of indexed events.
func (x *Index) Count(ctx context.Context) (int64, error) {
	var n int64
	err := x.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n)
	return n, err
}

// HasSuccess reports whether any success event references intentID.
func (x *Index) HasSuccess(ctx context.Context, intentID string) (bool, error) {
	var n int
	err := x.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM events WHERE intent_ref = ? AND outcome = ?`,
		intentID, string(model.OutcomeSuccess)).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Recent returns the last n events, oldest first.
func (x *Index) Recent(ctx context.Context, n int) ([]model.Event, error) {
	rows, err := x.db.QueryContext(ctx,
		`SELECT raw FROM (SELECT seq, raw FROM events ORDER BY seq DESC LIMIT ?) ORDER BY seq ASC`, n)
	if err != nil {
		return nil, err
	}
	return scanRaw(rows)
}

// Counters aggregates event outcomes by action type.
func (x *Index) Counters(ctx context.Context) (model.Counters, error) {
	var c model.Counters
	rows, err := x.db.QueryContext(ctx, `
		SELECT action_type, outcome, intent_ref IS NOT NULL, COUNT(*) FROM events
		GROUP BY action_type, outcome, intent_ref IS NOT NULL`)
	if err != nil {
		return c, err
	}
	defer rows.Close()

	for rows.Next() {
		var action, outcome string
		var hasIntent bool
		var n int
		if err := rows.Scan(&action, &outcome, &hasIntent, &n); err != nil {
			return c, err
		}
		addCount(&c, action, model.Outcome(outcome), hasIntent, n)
	}
	return c, rows.Err()
}

// Close closes the database.
func (x *Index) Close() error {
	return x.db.Close()
}

type rowsScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

func scanRaw(rows rowsScanner) ([]model.Event, error) {
	defer rows.Close()
	var out []model.Event
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var ev model.Event
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			return nil, fmt.Errorf("decode indexed event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
