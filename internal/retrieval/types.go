package retrieval

import (
	"errors"
	"fmt"
	"math"

	"github.com/RoaringBitmap/roaring/v2"
)

var (
	// ErrInvalidK is returned when k is not positive.
	ErrInvalidK = errors.New("retrieval: k must be positive")
	// ErrUnresolvable is returned for a query without a fingerprint.
	ErrUnresolvable = errors.New("retrieval: query structure is unresolvable")
)

// #region config
// Config holds the two-stage retrieval parameters.
type Config struct {
	K            int     // neighbors returned after stage 2
	M            int     // stage-1 gate size; 0 resolves from GateFactor
	GateFactor   float64 // auto gate: M = ceil(GateFactor * K), bounded by the population
	UsePhysical  bool    // fuse physical similarity in stage 2
	StructWeight float64 // w_struct
	PhysWeight   float64 // w_phys
}

// DefaultConfig returns the default 0.7/0.3 fusion with an auto-sized gate.
func DefaultConfig() Config {
	return Config{
		K:            10,
		M:            0,
		GateFactor:   2.0,
		UsePhysical:  true,
		StructWeight: 0.7,
		PhysWeight:   0.3,
	}
}

// Validate rejects configurations that would break the [0,1] fused-score range.
func (c Config) Validate() error {
	if c.K <= 0 {
		return ErrInvalidK
	}
	if c.M < 0 {
		return fmt.Errorf("retrieval: gate size M must be >= 0, got %d", c.M)
	}
	if c.M == 0 && c.GateFactor < 1 {
		return fmt.Errorf("retrieval: gate factor must be >= 1, got %.3f", c.GateFactor)
	}
	if c.StructWeight < 0 || c.PhysWeight < 0 {
		return errors.New("retrieval: fusion weights must be non-negative")
	}
	if math.Abs(c.StructWeight+c.PhysWeight-1) > 1e-9 {
		return fmt.Errorf("retrieval: fusion weights must sum to 1, got %.4f", c.StructWeight+c.PhysWeight)
	}
	return nil
}

// ResolveGate returns the stage-1 gate size for a population of eligible
// anchors. An explicit m wins; otherwise m = ceil(factor*k). The result is
// never below k and never above eligible.
func ResolveGate(eligible, k, m int, factor float64) int {
	if m <= 0 {
		m = int(math.Ceil(factor * float64(k)))
	}
	if m < k {
		m = k
	}
	if m > eligible {
		m = eligible
	}
	return m
}

// #endregion config

// #region neighbor
// Neighbor is one retrieved anchor for a query.
type Neighbor struct {
	QueryKey   string   `json:"query_key"`
	AnchorKey  string   `json:"anchor_key"`
	Label      string   `json:"label"`
	Rank       int      `json:"rank"`        // 1 = most similar after stage 2
	Stage1Rank int      `json:"stage1_rank"` // rank by structure alone
	Structural float64  `json:"structural"`
	Physical   *float64 `json:"physical,omitempty"` // nil when either side lacks descriptors
	Fused      float64  `json:"fused"`
}

// #endregion neighbor

// #region result
// Result captures the outcome of the two-stage pipeline.
type Result struct {
	Neighbors  []Neighbor
	KRequested int
	KActual    int
	M          int // resolved gate size
	Eligible   int // anchors other than the query itself
	// Top1Structural is the best structural similarity over all eligible anchors.
	Top1Structural float64
	Stage1         *roaring.Bitmap // anchor ordinals admitted by stage 1
	Degraded       bool            // KActual < KRequested
	Reason         string
}

// #endregion result
