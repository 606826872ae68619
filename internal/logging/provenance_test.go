package logging

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

// #region helpers
func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	_, err = db.Exec(`CREATE TABLE verdict_log (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id      TEXT NOT NULL,
		key         TEXT NOT NULL,
		verdict     TEXT NOT NULL,
		rule        INTEGER NOT NULL,
		reason      TEXT,
		scores_json TEXT,
		neighbors   TEXT,
		created_at  TEXT NOT NULL
	)`)
	if err != nil {
		t.Fatalf("create table: %v", err)
	}
	return db
}

// #endregion helpers

// #region log-verdict-tests
func TestLogVerdict_Success(t *testing.T) {
	db := setupDB(t)
	defer db.Close()

	entry := VerdictEntry{
		RunID:      "run-1",
		Key:        "mol-1",
		Verdict:    "novelty_risk",
		Rule:       2,
		Reason:     "novelty above threshold",
		ScoresJSON: `{"coverage":0.5}`,
		Neighbors:  "a,b",
		CreatedAt:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := LogVerdict(db, entry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := ListVerdicts(db, "", "", 10)
	if err != nil {
		t.Fatalf("ListVerdicts: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 row, got %d", len(got))
	}
	if got[0].Verdict != "novelty_risk" || got[0].Rule != 2 || got[0].Neighbors != "a,b" {
		t.Errorf("unexpected row %+v", got[0])
	}
	if !got[0].CreatedAt.Equal(entry.CreatedAt) {
		t.Errorf("created_at = %v", got[0].CreatedAt)
	}
}

func TestLogVerdict_EmptyOptionalFieldsStoredAsNull(t *testing.T) {
	db := setupDB(t)
	defer db.Close()

	before := time.Now().UTC()
	if err := LogVerdict(db, VerdictEntry{RunID: "r", Key: "k", Verdict: "known_stable", Rule: 4}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var reason, scores sql.NullString
	var createdStr string
	db.QueryRow("SELECT reason, scores_json, created_at FROM verdict_log").Scan(&reason, &scores, &createdStr)
	if reason.Valid || scores.Valid {
		t.Error("expected NULL for empty reason and scores")
	}
	createdAt, err := time.Parse(time.RFC3339Nano, createdStr)
	if err != nil {
		t.Fatalf("parse created_at: %v", err)
	}
	if createdAt.Before(before) {
		t.Error("expected auto-filled created_at to be >= test start time")
	}
}

func TestLogVerdict_MissingTable(t *testing.T) {
	db, _ := sql.Open("sqlite", ":memory:")
	defer db.Close()
	if err := LogVerdict(db, VerdictEntry{RunID: "r", Key: "k", Verdict: "v"}); err == nil {
		t.Fatal("expected error without verdict_log table")
	}
}

func TestListVerdicts_Filters(t *testing.T) {
	db := setupDB(t)
	defer db.Close()

	for _, e := range []VerdictEntry{
		{RunID: "r1", Key: "a", Verdict: "known_stable", Rule: 4},
		{RunID: "r1", Key: "b", Verdict: "evidence_insufficient", Rule: 1},
		{RunID: "r2", Key: "a", Verdict: "novelty_risk", Rule: 2},
	} {
		if err := LogVerdict(db, e); err != nil {
			t.Fatalf("LogVerdict: %v", err)
		}
	}

	byRun, _ := ListVerdicts(db, "r1", "", 10)
	if len(byRun) != 2 {
		t.Errorf("run filter: got %d rows", len(byRun))
	}
	byKey, _ := ListVerdicts(db, "", "a", 10)
	if len(byKey) != 2 || byKey[0].RunID != "r2" {
		t.Errorf("key filter should return newest first, got %+v", byKey)
	}
}

// #endregion log-verdict-tests

// #region record-tests
func TestEntryFromRecord(t *testing.T) {
	ent := 0.4
	rec := VerdictRecord{
		Key:      "mol-9",
		Coverage: 0.55,
		Entropy:  &ent,
		Verdict:  "label_conflict_risk",
		Rule:     3,
		Reason:   "neighbors disagree",
	}
	e, err := EntryFromRecord("run-7", rec, []string{"x", "y", "z"})
	if err != nil {
		t.Fatalf("EntryFromRecord: %v", err)
	}
	if e.Neighbors != "x,y,z" || e.Rule != 3 || e.RunID != "run-7" {
		t.Errorf("unexpected entry %+v", e)
	}
	var back VerdictRecord
	if err := json.Unmarshal([]byte(e.ScoresJSON), &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.Entropy == nil || *back.Entropy != 0.4 || back.MetadataCov != nil {
		t.Errorf("round trip lost optional fields: %+v", back)
	}
}

// #endregion record-tests

// #region logger-tests
func TestNew_Formats(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Options{Level: "debug", Format: "json", Writer: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	l.Debug("calibrated", "anchors", 3)
	if !strings.Contains(buf.String(), `"anchors":3`) {
		t.Errorf("expected json output, got %q", buf.String())
	}

	buf.Reset()
	l, _ = New(Options{Level: "warn", Writer: &buf})
	l.Info("hidden")
	if buf.Len() != 0 {
		t.Errorf("info should be filtered at warn level, got %q", buf.String())
	}

	if _, err := New(Options{Format: "yaml"}); err == nil {
		t.Error("expected error for unsupported format")
	}
}

func TestOrDiscard(t *testing.T) {
	if OrDiscard(nil) == nil {
		t.Fatal("OrDiscard(nil) returned nil")
	}
	l := Discard()
	if OrDiscard(l) != l {
		t.Error("OrDiscard should return the given logger")
	}
}

// #endregion logger-tests
