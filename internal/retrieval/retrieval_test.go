package retrieval

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/photophys-triage/internal/anchor"
	"github.com/danielpatrickdp/photophys-triage/internal/descriptor"
	"github.com/danielpatrickdp/photophys-triage/internal/fingerprint"
)

func fp(t *testing.T, on ...uint) *fingerprint.Fingerprint {
	t.Helper()
	f, err := fingerprint.FromOnBits(64, on)
	require.NoError(t, err)
	return f
}

func buildIndex(t *testing.T, mols []anchor.Molecule) *anchor.Index {
	t.Helper()
	idx, err := anchor.Build(mols, anchor.DefaultPolicy(), descriptor.DefaultFields())
	require.NoError(t, err)
	return idx
}

func randomPopulation(r *rand.Rand, n int) []anchor.Molecule {
	mols := make([]anchor.Molecule, n)
	for i := range mols {
		var on []uint
		for b := uint(0); b < 64; b++ {
			if r.Intn(4) == 0 {
				on = append(on, b)
			}
		}
		f, _ := fingerprint.FromOnBits(64, on)
		mols[i] = anchor.Molecule{
			Key:         fmt.Sprintf("M%03d", i),
			Fingerprint: f,
			Label:       []string{"AIE", "ACQ", "TICT"}[r.Intn(3)],
			Descriptors: descriptor.Values{
				descriptor.FieldDeltaGap:      r.NormFloat64(),
				descriptor.FieldDeltaVolume:   r.NormFloat64() * 10,
				descriptor.FieldDeltaDihedral: r.NormFloat64() * 30,
			},
		}
	}
	return mols
}

func TestResolveGate(t *testing.T) {
	assert.Equal(t, 20, ResolveGate(100, 10, 0, 2.0))
	assert.Equal(t, 15, ResolveGate(100, 10, 15, 2.0))
	assert.Equal(t, 10, ResolveGate(100, 10, 5, 2.0), "gate never below k")
	assert.Equal(t, 3, ResolveGate(3, 10, 0, 2.0), "gate never above population")
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	c := DefaultConfig()
	c.K = 0
	assert.ErrorIs(t, c.Validate(), ErrInvalidK)

	c = DefaultConfig()
	c.PhysWeight = 0.5
	assert.Error(t, c.Validate())

	c = DefaultConfig()
	c.StructWeight, c.PhysWeight = 1.2, -0.2
	assert.Error(t, c.Validate())
}

func TestIdenticalAnchorScenario(t *testing.T) {
	idx := buildIndex(t, []anchor.Molecule{
		{Key: "X", Fingerprint: fp(t, 1, 2, 3)},
		{Key: "Y", Fingerprint: fp(t, 10, 11)},
		{Key: "Z", Fingerprint: fp(t, 20)},
	})
	r, err := NewRetriever(idx, DefaultConfig())
	require.NoError(t, err)

	res, err := r.Retrieve(Query{Key: "Q", Fingerprint: fp(t, 1, 2, 3)})
	require.NoError(t, err)
	require.NotEmpty(t, res.Neighbors)
	assert.Equal(t, "X", res.Neighbors[0].AnchorKey)
	assert.Equal(t, 1.0, res.Neighbors[0].Structural)
	for _, n := range res.Neighbors[1:] {
		assert.Equal(t, 0.0, n.Structural)
	}
}

func TestDegradesWhenPopulationSmall(t *testing.T) {
	idx := buildIndex(t, []anchor.Molecule{
		{Key: "A", Fingerprint: fp(t, 1)},
		{Key: "B", Fingerprint: fp(t, 1, 2)},
		{Key: "C", Fingerprint: fp(t, 2)},
		{Key: "SELF", Fingerprint: fp(t, 1, 2, 3)},
	})
	r, err := NewRetriever(idx, DefaultConfig())
	require.NoError(t, err)

	res, err := r.RetrieveK(Query{Key: "SELF", Fingerprint: fp(t, 1, 2, 3)}, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, res.KActual)
	assert.Equal(t, 10, res.KRequested)
	assert.True(t, res.Degraded)
	for _, n := range res.Neighbors {
		assert.NotEqual(t, "SELF", n.AnchorKey, "self match must be excluded")
	}
}

func TestEmptyPopulation(t *testing.T) {
	idx := buildIndex(t, nil)
	r, err := NewRetriever(idx, DefaultConfig())
	require.NoError(t, err)

	res, err := r.Retrieve(Query{Key: "Q", Fingerprint: fp(t, 1)})
	require.NoError(t, err)
	assert.Equal(t, 0, res.KActual)
	assert.True(t, res.Degraded)
}

func TestRanksContiguousAndUnique(t *testing.T) {
	r0 := rand.New(rand.NewSource(3))
	idx := buildIndex(t, randomPopulation(r0, 60))
	r, err := NewRetriever(idx, DefaultConfig())
	require.NoError(t, err)

	for i := 0; i < idx.Len(); i++ {
		res, err := r.Retrieve(QueryFor(idx.At(i)))
		require.NoError(t, err)
		seen := map[string]bool{}
		for j, n := range res.Neighbors {
			assert.Equal(t, j+1, n.Rank)
			assert.False(t, seen[n.AnchorKey], "duplicate anchor %s", n.AnchorKey)
			seen[n.AnchorKey] = true
			assert.NotEqual(t, idx.At(i).Key, n.AnchorKey)
			assert.GreaterOrEqual(t, n.Fused, 0.0)
			assert.LessOrEqual(t, n.Fused, 1.0)
		}
	}
}

func TestStage2NeverLeavesStage1(t *testing.T) {
	r0 := rand.New(rand.NewSource(11))
	mols := randomPopulation(r0, 80)
	idx := buildIndex(t, mols)

	for _, ws := range []float64{0, 0.1, 0.3, 0.5, 0.7, 0.9, 1} {
		for _, m := range []int{5, 10, 20, 40} {
			cfg := DefaultConfig()
			cfg.K = 5
			cfg.M = m
			cfg.StructWeight = ws
			cfg.PhysWeight = 1 - ws
			r, err := NewRetriever(idx, cfg)
			require.NoError(t, err)

			for q := 0; q < 10; q++ {
				res, err := r.Retrieve(QueryFor(idx.At(q)))
				require.NoError(t, err)
				assert.LessOrEqual(t, res.Stage1.GetCardinality(), uint64(m))
				for _, n := range res.Neighbors {
					ord, ok := idx.Lookup(n.AnchorKey)
					require.True(t, ok)
					assert.True(t, res.Stage1.Contains(uint32(ord)),
						"ws=%.1f m=%d: %s outside stage 1", ws, m, n.AnchorKey)
					assert.LessOrEqual(t, n.Stage1Rank, m)
				}
			}
		}
	}
}

func TestStructuralOnlyMatchesStage1Order(t *testing.T) {
	r0 := rand.New(rand.NewSource(5))
	idx := buildIndex(t, randomPopulation(r0, 30))
	cfg := DefaultConfig()
	cfg.UsePhysical = false
	r, err := NewRetriever(idx, cfg)
	require.NoError(t, err)

	res, err := r.Retrieve(QueryFor(idx.At(0)))
	require.NoError(t, err)
	for i, n := range res.Neighbors {
		assert.Equal(t, i+1, n.Stage1Rank)
		assert.Nil(t, n.Physical)
		assert.Equal(t, n.Structural, n.Fused)
		if i > 0 {
			assert.GreaterOrEqual(t, res.Neighbors[i-1].Structural, n.Structural)
		}
	}
}

func TestPhysicalFusion(t *testing.T) {
	idx := buildIndex(t, []anchor.Molecule{
		{Key: "A", Fingerprint: fp(t, 1, 2), Descriptors: descriptor.Values{"delta_gap": 1, "delta_volume": 1}},
		{Key: "B", Fingerprint: fp(t, 1, 2), Descriptors: descriptor.Values{"delta_gap": -1, "delta_volume": -1}},
		{Key: "C", Fingerprint: fp(t, 40)},
	})
	r, err := NewRetriever(idx, DefaultConfig())
	require.NoError(t, err)

	res, err := r.Retrieve(Query{
		Key:         "Q",
		Fingerprint: fp(t, 1, 2),
		Descriptors: descriptor.Values{"delta_gap": -1, "delta_volume": -1},
	})
	require.NoError(t, err)
	require.Len(t, res.Neighbors, 3)
	// A and B tie structurally; physics prefers B
	assert.Equal(t, "B", res.Neighbors[0].AnchorKey)
	assert.Equal(t, 2, res.Neighbors[0].Stage1Rank)
	require.NotNil(t, res.Neighbors[0].Physical)
	assert.InDelta(t, 1.0, *res.Neighbors[0].Physical, 1e-9)
	assert.Nil(t, res.Neighbors[2].Physical, "C has no descriptors")
}

func TestValidationErrors(t *testing.T) {
	idx := buildIndex(t, []anchor.Molecule{{Key: "A", Fingerprint: fp(t, 1)}})
	r, err := NewRetriever(idx, DefaultConfig())
	require.NoError(t, err)

	_, err = r.Retrieve(Query{Key: "Q"})
	assert.ErrorIs(t, err, ErrUnresolvable)

	short, _ := fingerprint.FromOnBits(32, []uint{1})
	_, err = r.Retrieve(Query{Key: "Q", Fingerprint: short})
	var lm *fingerprint.LengthMismatchError
	assert.True(t, errors.As(err, &lm))

	_, err = r.RetrieveK(Query{Key: "Q", Fingerprint: fp(t, 1)}, 0, 0)
	assert.ErrorIs(t, err, ErrInvalidK)
}
