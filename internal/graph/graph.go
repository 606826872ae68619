// Package graph stores a light molecule graph: SIMILAR_TO edges from each
// query to its retrieved anchors, weighted by structural similarity.
package graph

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/danielpatrickdp/photophys-triage/internal/retrieval"
)

// RelSimilarTo is the only relation written by this package.
const RelSimilarTo = "SIMILAR_TO"

// MetricTanimoto tags edges weighted by fingerprint Tanimoto similarity.
const MetricTanimoto = "tanimoto_ecfp"

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS molecule_edges (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    source_id   TEXT NOT NULL,
    target_id   TEXT NOT NULL,
    rel_type    TEXT NOT NULL,
    weight      REAL NOT NULL CHECK (weight >= 0.0 AND weight <= 1.0),
    rank        INTEGER,
    metric      TEXT,
    created_at  TEXT NOT NULL,
    updated_at  TEXT NOT NULL,
    UNIQUE(source_id, target_id, rel_type)
);
CREATE INDEX IF NOT EXISTS idx_molecule_edges_source ON molecule_edges(source_id);
CREATE INDEX IF NOT EXISTS idx_molecule_edges_target ON molecule_edges(target_id);
`

// #endregion schema

// #region types
// Edge represents a weighted link between two molecules.
type Edge struct {
	ID        int64
	SourceID  string
	TargetID  string
	RelType   string
	Weight    float64
	Rank      int
	Metric    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// WalkStep is one molecule reached by Walk.
type WalkStep struct {
	Key   string  `json:"key"`
	Depth int     `json:"depth"` // hops from the start
	Score float64 `json:"score"` // product of edge weights along the path
	Via   string  `json:"via,omitempty"`
}

// ExportStats counts what ExportNeighbors kept and dropped.
type ExportStats struct {
	Kept          int `json:"kept"`
	DroppedSelf   int `json:"dropped_self"`
	DroppedWeight int `json:"dropped_bad_weight"`
	DroppedKey    int `json:"dropped_empty_key"`
}

// GraphStore manages the molecule_edges table.
type GraphStore struct {
	db *sql.DB
}

// #endregion types

// #region constructor
// NewGraphStore creates tables and returns a GraphStore.
func NewGraphStore(db *sql.DB) (*GraphStore, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("graph schema: %w", err)
	}
	return &GraphStore{db: db}, nil
}

// #endregion constructor

// #region add-similarity
// AddSimilarity upserts one SIMILAR_TO edge. Re-adding an edge replaces its
// weight and rank.
func (g *GraphStore) AddSimilarity(sourceID, targetID string, weight float64, rank int) error {
	if !(weight >= 0 && weight <= 1) {
		return fmt.Errorf("similarity weight %v outside [0,1]", weight)
	}
	return upsertSimilarity(g.db, sourceID, targetID, weight, rank, time.Now().UTC())
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func upsertSimilarity(db execer, sourceID, targetID string, weight float64, rank int, at time.Time) error {
	now := at.Format(time.RFC3339Nano)
	_, err := db.Exec(
		`INSERT INTO molecule_edges (source_id, target_id, rel_type, weight, rank, metric, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(source_id, target_id, rel_type) DO UPDATE SET
		   weight = excluded.weight,
		   rank = excluded.rank,
		   updated_at = excluded.updated_at`,
		sourceID, targetID, RelSimilarTo, weight, rank, MetricTanimoto, now, now,
	)
	return err
}

// #endregion add-similarity

// #region export
// ExportNeighbors replaces the outgoing SIMILAR_TO edges of queryKey with
// the given neighbors. Edges are structure-only: the weight is the Tanimoto
// similarity, not the fused score. Self edges, empty keys and weights
// outside [0,1] are dropped and counted.
func (g *GraphStore) ExportNeighbors(queryKey string, neighbors []retrieval.Neighbor) (ExportStats, error) {
	var stats ExportStats
	if queryKey == "" {
		stats.DroppedKey = len(neighbors)
		return stats, nil
	}

	tx, err := g.db.Begin()
	if err != nil {
		return stats, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`DELETE FROM molecule_edges WHERE source_id = ? AND rel_type = ?`, queryKey, RelSimilarTo,
	); err != nil {
		return stats, fmt.Errorf("clear edges: %w", err)
	}

	now := time.Now().UTC()
	for _, n := range neighbors {
		switch {
		case n.AnchorKey == "":
			stats.DroppedKey++
			continue
		case n.AnchorKey == queryKey:
			stats.DroppedSelf++
			continue
		case !(n.Structural >= 0 && n.Structural <= 1):
			stats.DroppedWeight++
			continue
		}
		if err := upsertSimilarity(tx, queryKey, n.AnchorKey, n.Structural, n.Rank, now); err != nil {
			return stats, fmt.Errorf("insert edge %s->%s: %w", queryKey, n.AnchorKey, err)
		}
		stats.Kept++
	}

	if err := tx.Commit(); err != nil {
		return stats, fmt.Errorf("commit: %w", err)
	}
	return stats, nil
}

// #endregion export

// #region get-neighbors
// GetNeighbors returns all edges from nodeID with weight >= minWeight, ordered by weight descending.
func (g *GraphStore) GetNeighbors(nodeID string, minWeight float64) ([]Edge, error) {
	rows, err := g.db.Query(
		`SELECT id, source_id, target_id, rel_type, weight, rank, metric, created_at, updated_at
		 FROM molecule_edges
		 WHERE source_id = ? AND weight >= ?
		 ORDER BY weight DESC, target_id ASC`,
		nodeID, minWeight,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var edges []Edge
	for rows.Next() {
		var e Edge
		var rank sql.NullInt64
		var metric sql.NullString
		var createdAt, updatedAt string
		if err := rows.Scan(&e.ID, &e.SourceID, &e.TargetID, &e.RelType, &e.Weight, &rank, &metric, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		e.Rank = int(rank.Int64)
		e.Metric = metric.String
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		e.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// #endregion get-neighbors

// #region walk
// Walk expands SIMILAR_TO edges outward from key one hop level at a time, up
// to maxDepth hops and maxNodes molecules (the start included). Within a
// level, molecules are reached in the order of their parents and then by edge
// weight. Score is the product of the edge weights along the path that first
// reached the molecule.
func (g *GraphStore) Walk(key string, maxDepth int, minWeight float64, maxNodes int) ([]WalkStep, error) {
	if maxDepth <= 0 {
		maxDepth = 2
	}
	if maxNodes <= 0 {
		maxNodes = 10
	}

	steps := []WalkStep{{Key: key, Score: 1}}
	seen := map[string]struct{}{key: {}}
	frontier := []int{0}

	for depth := 1; depth <= maxDepth && len(frontier) > 0; depth++ {
		var next []int
		for _, i := range frontier {
			from := steps[i]
			edges, err := g.GetNeighbors(from.Key, minWeight)
			if err != nil {
				return steps, fmt.Errorf("walk from %s: %w", from.Key, err)
			}
			for _, e := range edges {
				if len(steps) >= maxNodes {
					return steps, nil
				}
				if _, ok := seen[e.TargetID]; ok {
					continue
				}
				seen[e.TargetID] = struct{}{}
				steps = append(steps, WalkStep{
					Key:   e.TargetID,
					Depth: depth,
					Score: from.Score * e.Weight,
					Via:   from.Key,
				})
				next = append(next, len(steps)-1)
			}
		}
		frontier = next
	}
	return steps, nil
}

// #endregion walk

// #region count
// CountEdges returns the number of stored SIMILAR_TO edges.
func (g *GraphStore) CountEdges() (int, error) {
	var n int
	err := g.db.QueryRow(`SELECT COUNT(*) FROM molecule_edges WHERE rel_type = ?`, RelSimilarTo).Scan(&n)
	return n, err
}

// #endregion count
