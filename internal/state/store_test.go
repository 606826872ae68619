package state

import (
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/danielpatrickdp/photophys-triage/internal/gate"
)

func tempDB(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := NewStore(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func TestGetUnknownKey(t *testing.T) {
	s := tempDB(t)
	st, found, err := s.Get("mol-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if found {
		t.Fatal("expected found=false for unknown key")
	}
	if st.Key != "mol-1" || st.Physical.Status != gate.PhysicalAbsent {
		t.Fatalf("expected initial state, got %+v", st)
	}
}

func TestApplyPersistsStateAndHistory(t *testing.T) {
	s := tempDB(t)
	cfg := gate.DefaultConfig()

	events := []gate.Event{
		{Kind: gate.EventComputationRequested, At: base, Actor: "runner"},
		{Kind: gate.EventComputationResult, At: base.Add(time.Minute), Physical: gate.PhysicalSuccess,
			Fields: []string{"delta_gap", "delta_dihedral", "delta_volume"}},
	}
	for _, ev := range events {
		if _, _, err := s.Apply("mol-1", ev, cfg); err != nil {
			t.Fatalf("Apply %s: %v", ev.Kind, err)
		}
	}

	st, found, err := s.Get("mol-1")
	if err != nil || !found {
		t.Fatalf("Get: found=%v err=%v", found, err)
	}
	if !st.Ready || st.Version != 2 {
		t.Fatalf("expected ready at version 2, got ready=%v version=%d", st.Ready, st.Version)
	}

	hist, err := s.History("mol-1", 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist) != 2 {
		t.Fatalf("expected 2 history rows, got %d", len(hist))
	}
	if hist[0].Kind != gate.EventComputationRequested || hist[0].Actor != "runner" || hist[0].Ready {
		t.Errorf("unexpected first entry %+v", hist[0])
	}
	if hist[1].Event.Physical != gate.PhysicalSuccess || !hist[1].Ready {
		t.Errorf("unexpected second entry %+v", hist[1])
	}
	if hist[0].EventID == "" || hist[0].EventID == hist[1].EventID {
		t.Error("event ids must be unique and non-empty")
	}
	if !hist[1].CreatedAt.Equal(base.Add(time.Minute)) {
		t.Errorf("created_at = %v", hist[1].CreatedAt)
	}
}

func TestApplyRejectedEventLeavesNoTrace(t *testing.T) {
	s := tempDB(t)
	cfg := gate.DefaultConfig()

	if _, _, err := s.Apply("mol-1", gate.Event{Kind: gate.EventLiteratureStarted, At: base}, cfg); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	_, _, err := s.Apply("mol-1", gate.Event{Kind: gate.EventExperimentRequested, At: base}, cfg)
	if !errors.Is(err, gate.ErrStaleEvent) {
		t.Fatalf("expected ErrStaleEvent, got %v", err)
	}
	_, _, err = s.Apply("mol-1", gate.Event{Kind: gate.EventLiteratureStarted, At: base.Add(time.Second)}, cfg)
	var te *gate.TransitionError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransitionError, got %v", err)
	}

	hist, _ := s.History("mol-1", 0)
	if len(hist) != 1 {
		t.Fatalf("rejected events must not be recorded, got %d rows", len(hist))
	}
	st, _, _ := s.Get("mol-1")
	if st.Version != 1 {
		t.Errorf("version = %d, want 1", st.Version)
	}
}

func TestApplyDifferentKeysConcurrently(t *testing.T) {
	s := tempDB(t)
	cfg := gate.DefaultConfig()
	keys := []string{"a", "b", "c", "d", "e", "f"}

	var wg sync.WaitGroup
	errs := make(chan error, len(keys)*2)
	for _, k := range keys {
		wg.Add(1)
		go func(k string) {
			defer wg.Done()
			if _, _, err := s.Apply(k, gate.Event{Kind: gate.EventExperimentRequested, At: base}, cfg); err != nil {
				errs <- err
				return
			}
			_, _, err := s.Apply(k, gate.Event{
				Kind:        gate.EventExperimentReceived,
				At:          base.Add(time.Second),
				Experiment:  gate.ExperimentReceivedFull,
				Observables: []gate.Observable{gate.ObservableEmission},
			}, cfg)
			if err != nil {
				errs <- err
			}
		}(k)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent apply: %v", err)
	}

	states, err := s.List(100)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(states) != len(keys) {
		t.Fatalf("expected %d states, got %d", len(keys), len(states))
	}
	for _, st := range states {
		if !st.Ready || st.Version != 2 {
			t.Errorf("%s: ready=%v version=%d", st.Key, st.Ready, st.Version)
		}
	}
}

func TestHistoryLimit(t *testing.T) {
	s := tempDB(t)
	cfg := gate.DefaultConfig()
	s.Apply("m", gate.Event{Kind: gate.EventLiteratureStarted, At: base}, cfg)
	s.Apply("m", gate.Event{Kind: gate.EventLiteratureResult, At: base.Add(time.Second), Literature: gate.LiteratureNotFound}, cfg)
	s.Apply("m", gate.Event{Kind: gate.EventExperimentRequested, At: base.Add(2 * time.Second)}, cfg)

	hist, err := s.History("m", 2)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist) != 2 || hist[0].Version != 1 || hist[1].Version != 2 {
		t.Fatalf("unexpected limited history %+v", hist)
	}
}

func TestRecordAndListRuns(t *testing.T) {
	s := tempDB(t)
	run := Run{
		RunID:          "run-1",
		SnapshotID:     "snap",
		ThresholdsJSON: `{"coverage_low":0.39}`,
		Anchors:        12,
		Molecules:      3,
		CreatedAt:      base,
	}
	if err := s.RecordRun(run); err != nil {
		t.Fatalf("RecordRun: %v", err)
	}
	if err := s.RecordRun(run); err == nil {
		t.Fatal("expected duplicate run id to fail")
	}
	runs, err := s.ListRuns(10)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 || runs[0].SnapshotID != "snap" || runs[0].Anchors != 12 {
		t.Fatalf("unexpected runs %+v", runs)
	}
}

func TestRecordRunWithRollsBackOnFailure(t *testing.T) {
	s := tempDB(t)
	run := Run{RunID: "run-1", SnapshotID: "snap", ThresholdsJSON: "{}", CreatedAt: base}
	boom := errors.New("verdict write failed")
	err := s.RecordRunWith(run, func(tx *sql.Tx) error {
		if _, err := tx.Exec(
			`INSERT INTO verdict_log (run_id, key, verdict, rule, created_at) VALUES (?, ?, ?, ?, ?)`,
			run.RunID, "k1", "known_stable", 4, base.Format(timeLayout),
		); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected rows error, got %v", err)
	}

	var runs, verdicts int
	s.DB().QueryRow(`SELECT COUNT(*) FROM batch_runs`).Scan(&runs)
	s.DB().QueryRow(`SELECT COUNT(*) FROM verdict_log`).Scan(&verdicts)
	if runs != 0 || verdicts != 0 {
		t.Fatalf("failed run left %d runs and %d verdicts", runs, verdicts)
	}

	err = s.RecordRunWith(run, func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`INSERT INTO verdict_log (run_id, key, verdict, rule, created_at) VALUES (?, ?, ?, ?, ?)`,
			run.RunID, "k1", "known_stable", 4, base.Format(timeLayout),
		)
		return err
	})
	if err != nil {
		t.Fatalf("RecordRunWith: %v", err)
	}
	s.DB().QueryRow(`SELECT COUNT(*) FROM verdict_log`).Scan(&verdicts)
	if verdicts != 1 {
		t.Fatalf("expected 1 verdict, got %d", verdicts)
	}
}

func TestListOrdersBySubsecondTime(t *testing.T) {
	s := tempDB(t)
	cfg := gate.DefaultConfig()
	// formatted with trailing zeros trimmed these would be ".1Z" and ".12Z"
	if _, _, err := s.Apply("early", gate.Event{Kind: gate.EventLiteratureStarted, At: base.Add(100 * time.Millisecond)}, cfg); err != nil {
		t.Fatalf("Apply early: %v", err)
	}
	if _, _, err := s.Apply("late", gate.Event{Kind: gate.EventLiteratureStarted, At: base.Add(120 * time.Millisecond)}, cfg); err != nil {
		t.Fatalf("Apply late: %v", err)
	}
	states, err := s.List(10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(states) != 2 || states[0].Key != "late" || states[1].Key != "early" {
		t.Fatalf("expected late before early, got %+v", states)
	}

	for i, at := range []time.Duration{120 * time.Millisecond, 100 * time.Millisecond} {
		run := Run{RunID: []string{"run-late", "run-early"}[i], SnapshotID: "snap", ThresholdsJSON: "{}", CreatedAt: base.Add(at)}
		if err := s.RecordRun(run); err != nil {
			t.Fatalf("RecordRun: %v", err)
		}
	}
	runs, err := s.ListRuns(10)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 || runs[0].RunID != "run-late" {
		t.Fatalf("expected run-late first, got %+v", runs)
	}
	if !runs[0].CreatedAt.Equal(base.Add(120 * time.Millisecond)) {
		t.Errorf("created_at round trip: %v", runs[0].CreatedAt)
	}
}

func TestNewStore_CorruptDB(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "corrupt.db")
	os.WriteFile(dbPath, []byte("not a sqlite database"), 0644)

	if _, err := NewStore(dbPath); err == nil {
		t.Fatal("expected error for corrupted DB file")
	}
}

func TestGet_BadStateJSON(t *testing.T) {
	s := tempDB(t)
	s.DB().Exec(
		`INSERT INTO readiness_state (key, state_json, ready, version, updated_at) VALUES (?, ?, 0, 1, ?)`,
		"bad", "%%%", base.Format(time.RFC3339Nano),
	)
	if _, _, err := s.Get("bad"); err == nil {
		t.Fatal("expected unmarshal error")
	}
}
