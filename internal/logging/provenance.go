package logging

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// #region log-verdict
// Execer is satisfied by *sql.DB and *sql.Tx.
type Execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

// LogVerdict writes a verdict entry to the verdict_log table.
func LogVerdict(db Execer, entry VerdictEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := db.Exec(
		`INSERT INTO verdict_log (run_id, key, verdict, rule, reason, scores_json, neighbors, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.RunID,
		entry.Key,
		entry.Verdict,
		entry.Rule,
		nullIfEmpty(entry.Reason),
		nullIfEmpty(entry.ScoresJSON),
		nullIfEmpty(entry.Neighbors),
		entry.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("log verdict: %w", err)
	}
	return nil
}

// EntryFromRecord packs a VerdictRecord into a log row.
func EntryFromRecord(runID string, rec VerdictRecord, neighbors []string) (VerdictEntry, error) {
	b, err := json.Marshal(rec)
	if err != nil {
		return VerdictEntry{}, fmt.Errorf("marshal verdict record: %w", err)
	}
	return VerdictEntry{
		RunID:      runID,
		Key:        rec.Key,
		Verdict:    rec.Verdict,
		Rule:       rec.Rule,
		Reason:     rec.Reason,
		ScoresJSON: string(b),
		Neighbors:  strings.Join(neighbors, ","),
	}, nil
}

// #endregion log-verdict

// #region list-verdicts
// ListVerdicts returns logged verdicts, newest first. An empty runID or key
// matches everything.
func ListVerdicts(db *sql.DB, runID, key string, limit int) ([]VerdictEntry, error) {
	rows, err := db.Query(
		`SELECT run_id, key, verdict, rule, reason, scores_json, neighbors, created_at
		 FROM verdict_log
		 WHERE (? = '' OR run_id = ?) AND (? = '' OR key = ?)
		 ORDER BY id DESC LIMIT ?`,
		runID, runID, key, key, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list verdicts: %w", err)
	}
	defer rows.Close()

	var out []VerdictEntry
	for rows.Next() {
		var e VerdictEntry
		var reason, scores, neighbors sql.NullString
		var createdStr string
		if err := rows.Scan(&e.RunID, &e.Key, &e.Verdict, &e.Rule, &reason, &scores, &neighbors, &createdStr); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		e.Reason = reason.String
		e.ScoresJSON = scores.String
		e.Neighbors = neighbors.String
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		out = append(out, e)
	}
	return out, rows.Err()
}

// #endregion list-verdicts

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// #endregion helpers
