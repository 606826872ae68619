package graph

import (
	"database/sql"
	"math"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/danielpatrickdp/photophys-triage/internal/retrieval"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func newStore(t *testing.T) *GraphStore {
	t.Helper()
	gs, err := NewGraphStore(setupTestDB(t))
	if err != nil {
		t.Fatalf("new graph store: %v", err)
	}
	return gs
}

// #region test-add-similarity
func TestAddSimilarity(t *testing.T) {
	gs := newStore(t)

	if err := gs.AddSimilarity("a", "b", 0.4, 1); err != nil {
		t.Fatalf("add: %v", err)
	}
	edges, err := gs.GetNeighbors("a", 0.0)
	if err != nil {
		t.Fatalf("get neighbors: %v", err)
	}
	if len(edges) != 1 {
		t.Fatalf("expected 1 edge, got %d", len(edges))
	}
	if edges[0].TargetID != "b" || edges[0].RelType != RelSimilarTo || edges[0].Metric != MetricTanimoto {
		t.Errorf("unexpected edge: %+v", edges[0])
	}

	// Re-adding replaces weight and rank
	if err := gs.AddSimilarity("a", "b", 0.7, 2); err != nil {
		t.Fatalf("re-add: %v", err)
	}
	edges, _ = gs.GetNeighbors("a", 0.0)
	if len(edges) != 1 || math.Abs(edges[0].Weight-0.7) > 1e-9 || edges[0].Rank != 2 {
		t.Errorf("expected replaced edge, got %+v", edges)
	}

	if err := gs.AddSimilarity("a", "c", 1.2, 1); err == nil {
		t.Error("expected error for weight above 1")
	}
}

// #endregion test-add-similarity

// #region test-export
func TestExportNeighbors(t *testing.T) {
	gs := newStore(t)

	neighbors := []retrieval.Neighbor{
		{AnchorKey: "b", Rank: 1, Structural: 0.8, Fused: 0.9},
		{AnchorKey: "q", Rank: 2, Structural: 1.0},
		{AnchorKey: "", Rank: 3, Structural: 0.5},
		{AnchorKey: "c", Rank: 4, Structural: 0.3, Fused: 0.1},
		{AnchorKey: "d", Rank: 5, Structural: math.NaN()},
	}
	stats, err := gs.ExportNeighbors("q", neighbors)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if stats.Kept != 2 || stats.DroppedSelf != 1 || stats.DroppedKey != 1 || stats.DroppedWeight != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}

	edges, _ := gs.GetNeighbors("q", 0)
	if len(edges) != 2 || edges[0].TargetID != "b" || edges[0].Weight != 0.8 {
		t.Fatalf("expected structural weights, got %+v", edges)
	}

	// A second export replaces the first
	if _, err := gs.ExportNeighbors("q", neighbors[3:4]); err != nil {
		t.Fatalf("re-export: %v", err)
	}
	n, err := gs.CountEdges()
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 edge after re-export, got %d", n)
	}
}

// #endregion test-export

// #region test-walk
func TestWalk(t *testing.T) {
	gs := newStore(t)
	gs.AddSimilarity("a", "b", 0.9, 1)
	gs.AddSimilarity("a", "c", 0.5, 2)
	gs.AddSimilarity("b", "d", 0.8, 1)
	gs.AddSimilarity("d", "a", 0.9, 1)

	steps, err := gs.Walk("a", 2, 0.0, 10)
	if err != nil {
		t.Fatalf("walk: %v", err)
	}
	want := []string{"a", "b", "c", "d"}
	if len(steps) != len(want) {
		t.Fatalf("expected %v, got %+v", want, steps)
	}
	for i := range want {
		if steps[i].Key != want[i] {
			t.Fatalf("expected %v, got %+v", want, steps)
		}
	}
	d := steps[3]
	if math.Abs(d.Score-0.72) > 1e-9 || d.Depth != 2 || d.Via != "b" {
		t.Errorf("unexpected step for d: %+v", d)
	}

	steps, _ = gs.Walk("a", 2, 0.6, 10)
	if len(steps) != 3 {
		t.Errorf("minWeight should prune c, got %+v", steps)
	}

	steps, _ = gs.Walk("a", 5, 0, 2)
	if len(steps) != 2 {
		t.Errorf("maxNodes should cap the walk, got %+v", steps)
	}

	steps, _ = gs.Walk("a", 1, 0, 10)
	if len(steps) != 3 {
		t.Errorf("depth 1 should stop at direct neighbors, got %+v", steps)
	}
}

// #endregion test-walk
