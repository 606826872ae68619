package score

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"strings"

	"golang.org/x/text/cases"

	"github.com/danielpatrickdp/photophys-triage/internal/anchor"
	"github.com/danielpatrickdp/photophys-triage/internal/retrieval"
)

// #region computer
// Computer scores molecules against a retriever's frozen anchor index.
type Computer struct {
	retriever *retrieval.Retriever
	config    Config
	excluded  map[string]struct{}
}

// NewComputer creates a Computer. Excluded labels are case-folded once.
func NewComputer(r *retrieval.Retriever, config Config) *Computer {
	c := &Computer{retriever: r, config: config, excluded: make(map[string]struct{})}
	for _, l := range config.ExcludedLabels {
		c.excluded[foldLabel(l)] = struct{}{}
	}
	return c
}

// Retriever returns the underlying retriever.
func (c *Computer) Retriever() *retrieval.Retriever { return c.retriever }

// #endregion computer

// #region score
// Score retrieves m's neighborhood and derives its bundle. An unresolvable
// molecule is not an error: it yields a bundle with Resolvable=false.
func (c *Computer) Score(m anchor.Molecule) (Bundle, retrieval.Result, error) {
	if !m.Resolvable() {
		return Bundle{
			Key:        m.Key,
			SnapshotID: c.retriever.Index().SnapshotID(),
			KRequested: c.retriever.Config().K,
		}, retrieval.Result{}, nil
	}
	res, err := c.retriever.Retrieve(retrieval.QueryFor(m))
	if err != nil {
		return Bundle{}, res, fmt.Errorf("score %s: %w", m.Key, err)
	}
	return c.FromNeighbors(m, res), res, nil
}

// FromNeighbors derives a bundle from an already retrieved neighborhood.
func (c *Computer) FromNeighbors(m anchor.Molecule, res retrieval.Result) Bundle {
	b := Bundle{
		Key:        m.Key,
		Resolvable: m.Resolvable(),
		SnapshotID: c.retriever.Index().SnapshotID(),
		KRequested: res.KRequested,
		KActual:    res.KActual,
		Degraded:   res.Degraded,
	}
	if !b.Resolvable {
		return b
	}

	b.StructuralCoverage = StructuralCoverage(res.Neighbors)
	if m.HasMetadata() {
		mc := MetadataCompleteness(m.Completeness)
		if len(c.config.CriticalFields) > 0 {
			mc = MetadataCompletenessOver(m.Completeness, c.config.CriticalFields)
		}
		b.MetadataCompleteness = &mc
		b.Coverage = clamp(c.config.StructWeight*b.StructuralCoverage + c.config.MetaWeight*mc)
	} else {
		// structure-only queries can never reach the top coverage band
		b.Coverage = clamp(c.config.StructWeight * b.StructuralCoverage)
	}

	b.Top1Similarity = res.Top1Structural
	b.NoveltyRaw = clamp(1 - res.Top1Structural)

	if h, ok := SimilarityEntropy(res.Neighbors); ok {
		b.SimilarityEntropy = &h
	}
	b.Label = c.LabelEntropy(res.Neighbors)
	return b
}

// #endregion score

// #region coverage
// StructuralCoverage is the mean structural similarity of the neighbors.
func StructuralCoverage(neighbors []retrieval.Neighbor) float64 {
	if len(neighbors) == 0 {
		return 0
	}
	var sum float64
	for _, n := range neighbors {
		sum += n.Structural
	}
	return clamp(sum / float64(len(neighbors)))
}

// MetadataCompleteness is 1 - missing/total over critical fields.
func MetadataCompleteness(missing map[string]bool) float64 {
	if len(missing) == 0 {
		return 0
	}
	var n int
	for _, m := range missing {
		if m {
			n++
		}
	}
	return 1 - float64(n)/float64(len(missing))
}

// MetadataCompletenessOver is MetadataCompleteness restricted to fields.
func MetadataCompletenessOver(missing map[string]bool, fields []string) float64 {
	if len(fields) == 0 {
		return 0
	}
	var n int
	for _, f := range fields {
		if m, ok := missing[f]; !ok || m {
			n++
		}
	}
	return 1 - float64(n)/float64(len(fields))
}

// #endregion coverage

// #region similarity-entropy
// SimilarityEntropy is the normalised entropy of the neighbors' fused
// similarity weights. It saturates near 1 whenever similarities are roughly
// uniform, so it is reported for diagnosis and never routed on.
func SimilarityEntropy(neighbors []retrieval.Neighbor) (float64, bool) {
	k := len(neighbors)
	if k < 2 {
		return 0, false
	}
	var total float64
	for _, n := range neighbors {
		total += n.Fused
	}
	if total <= 0 {
		return 0, false
	}
	var h float64
	for _, n := range neighbors {
		p := n.Fused / total
		if p > 0 {
			h -= p * math.Log(p)
		}
	}
	return clamp(h / math.Log(float64(k))), true
}

// #endregion similarity-entropy

// #region label-entropy
// LabelEntropy computes softmax-weighted label votes over non-excluded
// neighbors and the normalised entropy of the resulting distribution.
func (c *Computer) LabelEntropy(neighbors []retrieval.Neighbor) LabelEntropy {
	return labelEntropy(neighbors, c.config.Beta, c.excluded)
}

type vote struct {
	label  string // first spelling seen
	weight float64
}

func labelEntropy(neighbors []retrieval.Neighbor, beta float64, excluded map[string]struct{}) LabelEntropy {
	var voters []retrieval.Neighbor
	maxSim := math.Inf(-1)
	for _, n := range neighbors {
		if _, skip := excluded[foldLabel(n.Label)]; skip {
			continue
		}
		voters = append(voters, n)
		maxSim = math.Max(maxSim, n.Fused)
	}
	if len(voters) == 0 {
		return LabelEntropy{Computable: false}
	}

	// subtracting maxSim keeps exp() finite for large beta
	votes := make(map[string]*vote)
	var total float64
	for _, n := range voters {
		w := math.Exp(beta * (n.Fused - maxSim))
		key := foldLabel(n.Label)
		v, ok := votes[key]
		if !ok {
			v = &vote{label: n.Label}
			votes[key] = v
		}
		v.weight += w
		total += w
	}

	ordered := make([]*vote, 0, len(votes))
	for _, v := range votes {
		ordered = append(ordered, v)
	}
	slices.SortFunc(ordered, func(a, b *vote) int {
		if c := cmp.Compare(b.weight, a.weight); c != 0 {
			return c
		}
		return cmp.Compare(a.label, b.label)
	})

	out := LabelEntropy{
		Computable:   true,
		MEff:         max(1, len(ordered)),
		Voters:       len(voters),
		Distribution: make(map[string]float64, len(ordered)),
	}
	var h float64
	for _, v := range ordered {
		p := v.weight / total
		out.Distribution[v.label] = p
		if p > 0 {
			h -= p * math.Log(p)
		}
	}
	out.TopLabel = ordered[0].label
	out.TopProb = ordered[0].weight / total
	if out.MEff > 1 {
		out.Value = clamp(h / math.Log(float64(out.MEff)))
	}
	return out
}

// #endregion label-entropy

// #region helpers
func foldLabel(l string) string {
	return cases.Fold().String(strings.TrimSpace(l))
}

// clamp restricts v to [0, 1].
func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// #endregion helpers
