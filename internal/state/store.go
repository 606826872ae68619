package state

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/danielpatrickdp/photophys-triage/internal/gate"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS readiness_state (
	key           TEXT PRIMARY KEY,
	state_json    TEXT NOT NULL,
	ready         INTEGER NOT NULL,
	justification TEXT,
	version       INTEGER NOT NULL,
	updated_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS readiness_history (
	event_id      TEXT PRIMARY KEY,
	key           TEXT NOT NULL,
	kind          TEXT NOT NULL,
	actor         TEXT,
	version       INTEGER NOT NULL,
	payload_json  TEXT NOT NULL,
	ready         INTEGER NOT NULL,
	created_at    TEXT NOT NULL,
	FOREIGN KEY (key) REFERENCES readiness_state(key),
	UNIQUE (key, version)
);

CREATE TABLE IF NOT EXISTS batch_runs (
	run_id          TEXT PRIMARY KEY,
	snapshot_id     TEXT NOT NULL,
	thresholds_json TEXT NOT NULL,
	anchors         INTEGER NOT NULL,
	molecules       INTEGER NOT NULL,
	created_at      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS verdict_log (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id        TEXT NOT NULL,
	key           TEXT NOT NULL,
	verdict       TEXT NOT NULL,
	rule          INTEGER NOT NULL,
	reason        TEXT,
	scores_json   TEXT,
	neighbors     TEXT,
	created_at    TEXT NOT NULL,
	FOREIGN KEY (run_id) REFERENCES batch_runs(run_id)
);
`

// timeLayout is fixed width so text ordering in SQLite is chronological.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// #endregion schema

// #region store-struct
// Store persists readiness state, its event history and batch provenance in SQLite.
type Store struct {
	db *sql.DB
}

// #endregion store-struct

// #region constructor
// NewStore opens a SQLite database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One connection: read-modify-write in Apply is serialised per process
	// and ":memory:" databases stay a single database.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma busy: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// #endregion constructor

// #region close
// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// #endregion close

// #region db-accessor
// DB returns the underlying *sql.DB for use by other packages (e.g. logging).
func (s *Store) DB() *sql.DB {
	return s.db
}

// #endregion db-accessor

// #region get
// Get returns the readiness state for key. Unknown keys yield gate.NewState
// and found=false.
func (s *Store) Get(key string) (gate.State, bool, error) {
	return getState(s.db, key)
}

type queryRower interface {
	QueryRow(query string, args ...any) *sql.Row
}

func getState(q queryRower, key string) (gate.State, bool, error) {
	var stateJSON string
	err := q.QueryRow(`SELECT state_json FROM readiness_state WHERE key = ?`, key).Scan(&stateJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return gate.NewState(key), false, nil
	}
	if err != nil {
		return gate.State{}, false, fmt.Errorf("get state %s: %w", key, err)
	}
	var st gate.State
	if err := json.Unmarshal([]byte(stateJSON), &st); err != nil {
		return gate.State{}, false, fmt.Errorf("unmarshal state %s: %w", key, err)
	}
	return st, true, nil
}

// #endregion get

// #region apply
// Apply performs one atomic read-modify-write: load the state for key, apply
// the event, upsert the result and append a history row.
func (s *Store) Apply(key string, ev gate.Event, cfg gate.Config) (gate.State, HistoryEntry, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return gate.State{}, HistoryEntry{}, fmt.Errorf("marshal event: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return gate.State{}, HistoryEntry{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	cur, _, err := getState(tx, key)
	if err != nil {
		return gate.State{}, HistoryEntry{}, err
	}
	next, err := gate.Apply(cur, ev, cfg)
	if err != nil {
		return gate.State{}, HistoryEntry{}, fmt.Errorf("apply %s to %s: %w", ev.Kind, key, err)
	}

	stateJSON, err := json.Marshal(next)
	if err != nil {
		return gate.State{}, HistoryEntry{}, fmt.Errorf("marshal state: %w", err)
	}

	_, err = tx.Exec(
		`INSERT INTO readiness_state (key, state_json, ready, justification, version, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
			state_json = excluded.state_json,
			ready = excluded.ready,
			justification = excluded.justification,
			version = excluded.version,
			updated_at = excluded.updated_at`,
		key, string(stateJSON), boolInt(next.Ready), next.Justification, next.Version,
		next.UpdatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return gate.State{}, HistoryEntry{}, fmt.Errorf("upsert state: %w", err)
	}

	entry := HistoryEntry{
		EventID:   uuid.New().String(),
		Key:       key,
		Kind:      ev.Kind,
		Actor:     ev.Actor,
		Version:   next.Version,
		Event:     ev,
		Ready:     next.Ready,
		CreatedAt: ev.At.UTC(),
	}
	var actor any
	if ev.Actor != "" {
		actor = ev.Actor
	}
	_, err = tx.Exec(
		`INSERT INTO readiness_history (event_id, key, kind, actor, version, payload_json, ready, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.EventID, key, string(ev.Kind), actor, entry.Version, string(payload),
		boolInt(entry.Ready), entry.CreatedAt.Format(timeLayout),
	)
	if err != nil {
		return gate.State{}, HistoryEntry{}, fmt.Errorf("append history: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return gate.State{}, HistoryEntry{}, fmt.Errorf("commit: %w", err)
	}
	return next, entry, nil
}

// #endregion apply

// #region history
// History returns the events applied to key in version order. limit <= 0
// returns all of them.
func (s *Store) History(key string, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(
		`SELECT event_id, key, kind, actor, version, payload_json, ready, created_at
		 FROM readiness_history WHERE key = ? ORDER BY version ASC LIMIT ?`, key, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("history %s: %w", key, err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var kind, payload, createdStr string
		var actor sql.NullString
		var ready int
		if err := rows.Scan(&e.EventID, &e.Key, &kind, &actor, &e.Version, &payload, &ready, &createdStr); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		e.Kind = gate.EventKind(kind)
		if actor.Valid {
			e.Actor = actor.String
		}
		e.Ready = ready != 0
		if err := json.Unmarshal([]byte(payload), &e.Event); err != nil {
			return nil, fmt.Errorf("unmarshal event %s: %w", e.EventID, err)
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// #endregion history

// #region list
// List returns the most recently updated readiness states.
func (s *Store) List(limit int) ([]gate.State, error) {
	rows, err := s.db.Query(
		`SELECT state_json FROM readiness_state ORDER BY updated_at DESC, key ASC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list states: %w", err)
	}
	defer rows.Close()

	var states []gate.State
	for rows.Next() {
		var stateJSON string
		if err := rows.Scan(&stateJSON); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		var st gate.State
		if err := json.Unmarshal([]byte(stateJSON), &st); err != nil {
			return nil, fmt.Errorf("unmarshal state: %w", err)
		}
		states = append(states, st)
	}
	return states, rows.Err()
}

// #endregion list

// #region runs
// RecordRun inserts a batch run row.
func (s *Store) RecordRun(run Run) error {
	return s.RecordRunWith(run, nil)
}

// RecordRunWith inserts a batch run row and lets rows write the run's
// dependent rows on the same transaction. Either everything commits or nothing
// does. rows may be nil.
func (s *Store) RecordRunWith(run Run, rows func(tx *sql.Tx) error) error {
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO batch_runs (run_id, snapshot_id, thresholds_json, anchors, molecules, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		run.RunID, run.SnapshotID, run.ThresholdsJSON, run.Anchors, run.Molecules,
		run.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	if rows != nil {
		if err := rows(tx); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit run %s: %w", run.RunID, err)
	}
	return nil
}

// ListRuns returns the most recent batch runs.
func (s *Store) ListRuns(limit int) ([]Run, error) {
	rows, err := s.db.Query(
		`SELECT run_id, snapshot_id, thresholds_json, anchors, molecules, created_at
		 FROM batch_runs ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var createdStr string
		if err := rows.Scan(&r.RunID, &r.SnapshotID, &r.ThresholdsJSON, &r.Anchors, &r.Molecules, &createdStr); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// #endregion runs

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
