// Package retrieval finds the anchors most relevant to a query: a structural
// gate (stage 1) followed by a fused structural+physical rerank (stage 2).
package retrieval

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/danielpatrickdp/photophys-triage/internal/anchor"
	"github.com/danielpatrickdp/photophys-triage/internal/descriptor"
	"github.com/danielpatrickdp/photophys-triage/internal/fingerprint"
)

// #region query
// Query is the molecule being compared against the anchors.
type Query struct {
	Key         string
	Fingerprint *fingerprint.Fingerprint
	Descriptors descriptor.Values
}

// QueryFor converts a molecule into a query.
func QueryFor(m anchor.Molecule) Query {
	return Query{Key: m.Key, Fingerprint: m.Fingerprint, Descriptors: m.Descriptors}
}

// #endregion query

// #region retriever
// Retriever runs two-stage retrieval over a frozen anchor index. It holds no
// mutable state and is safe for concurrent use.
type Retriever struct {
	index    *anchor.Index
	config   Config
	physical [][]float64 // per anchor ordinal, nil when unavailable
}

// NewRetriever validates config and precomputes anchor physical vectors.
func NewRetriever(index *anchor.Index, config Config) (*Retriever, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	r := &Retriever{index: index, config: config}
	if config.UsePhysical {
		norm := index.Normalizer()
		r.physical = make([][]float64, index.Len())
		for i := 0; i < index.Len(); i++ {
			if vec, ok := norm.Transform(index.At(i).Descriptors); ok {
				r.physical[i] = vec
			}
		}
	}
	return r, nil
}

// Config returns the retriever's configuration.
func (r *Retriever) Config() Config { return r.config }

// Index returns the anchor index the retriever searches.
func (r *Retriever) Index() *anchor.Index { return r.index }

// #endregion retriever

// #region retrieve
// Retrieve runs the pipeline with the configured K and M.
func (r *Retriever) Retrieve(q Query) (Result, error) {
	return r.RetrieveK(q, r.config.K, r.config.M)
}

type candidate struct {
	ord        int
	structural float64
	physical   *float64
	fused      float64
	stage1Rank int
}

// RetrieveK runs the pipeline:
//  1. Stage 1, structural gate: top-M anchors by Tanimoto, self excluded
//  2. Stage 2, rerank the gate by w_s*structural + w_p*physical, keep top-k
//
// Fewer than k eligible anchors degrades to KActual < k without error.
func (r *Retriever) RetrieveK(q Query, k, m int) (Result, error) {
	if k <= 0 {
		return Result{}, ErrInvalidK
	}
	if q.Fingerprint == nil {
		return Result{}, ErrUnresolvable
	}
	result := Result{KRequested: k, Stage1: roaring.New()}

	n := r.index.Len()
	if n > 0 && q.Fingerprint.Len() != r.index.FingerprintLen() {
		return result, fmt.Errorf("query %s: %w", q.Key,
			&fingerprint.LengthMismatchError{Expected: r.index.FingerprintLen(), Actual: q.Fingerprint.Len()})
	}

	// Stage 1: structural similarity over every non-self anchor
	cands := make([]candidate, 0, n)
	for i := 0; i < n; i++ {
		a := r.index.At(i)
		if a.Key == q.Key {
			continue
		}
		sim, err := fingerprint.Tanimoto(q.Fingerprint, a.Fingerprint)
		if err != nil {
			return result, fmt.Errorf("query %s vs %s: %w", q.Key, a.Key, err)
		}
		cands = append(cands, candidate{ord: i, structural: sim})
	}
	result.Eligible = len(cands)
	if len(cands) == 0 {
		result.Degraded = true
		result.Reason = "no eligible anchors"
		return result, nil
	}

	// anchors are key-sorted, so ordinal order breaks ties by key
	slices.SortFunc(cands, func(a, b candidate) int {
		if c := cmp.Compare(b.structural, a.structural); c != 0 {
			return c
		}
		return cmp.Compare(a.ord, b.ord)
	})
	result.Top1Structural = cands[0].structural
	m = ResolveGate(len(cands), k, m, r.config.GateFactor)
	result.M = m
	gate := cands[:m]
	for i := range gate {
		gate[i].stage1Rank = i + 1
		result.Stage1.Add(uint32(gate[i].ord))
	}

	// Stage 2: fused rerank restricted to the gate
	var qvec []float64
	qphys := false
	if r.config.UsePhysical {
		qvec, qphys = r.index.Normalizer().Transform(q.Descriptors)
	}
	for i := range gate {
		c := &gate[i]
		c.fused = c.structural
		if qphys && r.physical[c.ord] != nil {
			p := descriptor.Similarity(qvec, r.physical[c.ord])
			c.physical = &p
			c.fused = r.config.StructWeight*c.structural + r.config.PhysWeight*p
		}
	}
	slices.SortStableFunc(gate, func(a, b candidate) int {
		if c := cmp.Compare(b.fused, a.fused); c != 0 {
			return c
		}
		return cmp.Compare(a.stage1Rank, b.stage1Rank)
	})

	kActual := min(k, len(gate))
	result.KActual = kActual
	result.Neighbors = make([]Neighbor, kActual)
	for i := 0; i < kActual; i++ {
		c := gate[i]
		a := r.index.At(c.ord)
		result.Neighbors[i] = Neighbor{
			QueryKey:   q.Key,
			AnchorKey:  a.Key,
			Label:      a.Label,
			Rank:       i + 1,
			Stage1Rank: c.stage1Rank,
			Structural: c.structural,
			Physical:   c.physical,
			Fused:      c.fused,
		}
	}

	if kActual < k {
		result.Degraded = true
		result.Reason = fmt.Sprintf("degraded: k_actual=%d < k=%d (eligible=%d)", kActual, k, result.Eligible)
	} else {
		result.Reason = fmt.Sprintf("retrieved %d neighbors (stage1 M=%d of %d eligible)", kActual, m, result.Eligible)
	}
	return result, nil
}

// #endregion retrieve
