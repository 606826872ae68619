// Package descriptor defines the read-only contracts of the fingerprint and
// physical-descriptor collaborators, and the physical similarity used during
// stage-2 reranking.
package descriptor

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"

	"github.com/danielpatrickdp/photophys-triage/internal/fingerprint"
)

var (
	// ErrNotFound is returned when a structure key has no stored record.
	ErrNotFound = errors.New("descriptor: not found")
	// ErrNonFinite is returned for an infinite descriptor value.
	ErrNonFinite = errors.New("descriptor: non-finite value")
)

// #region fields
// Default physical descriptor fields: excited-state minus ground-state deltas.
const (
	FieldDeltaVolume   = "delta_volume"
	FieldDeltaGap      = "delta_gap"
	FieldDeltaDihedral = "delta_dihedral"
	FieldDeltaDipole   = "delta_dipole"
)

// DefaultFields lists the physical descriptors used for similarity, in vector order.
func DefaultFields() []string {
	return []string{FieldDeltaVolume, FieldDeltaGap, FieldDeltaDihedral, FieldDeltaDipole}
}

// #endregion fields

// #region values
// Values maps a descriptor field to its value. A missing key is a null
// descriptor (computation not run or failed for that field).
type Values map[string]float64

// Has reports whether field carries a value.
func (v Values) Has(field string) bool {
	_, ok := v[field]
	return ok
}

// HasAll reports whether every listed field carries a value.
func (v Values) HasAll(fields []string) bool {
	for _, f := range fields {
		if !v.Has(f) {
			return false
		}
	}
	return true
}

// Validate rejects infinite values. NaN is read as null and passes.
func (v Values) Validate() error {
	for _, f := range slices.Sorted(maps.Keys(v)) {
		if math.IsInf(v[f], 0) {
			return fmt.Errorf("%w: %s = %v", ErrNonFinite, f, v[f])
		}
	}
	return nil
}

// #endregion values

// #region contracts
// Store supplies fingerprints and physical descriptors per structure key.
type Store interface {
	Fingerprint(ctx context.Context, key string) (*fingerprint.Fingerprint, error)
	Descriptors(ctx context.Context, key string) (Values, error)
}

// MetadataSource reports, per critical experimental field, whether it is missing.
// A nil map with nil error means the record carries no experimental metadata.
type MetadataSource interface {
	Completeness(ctx context.Context, key string) (map[string]bool, error)
}

// LabelSource supplies the categorical mechanism hint for a structure key.
type LabelSource interface {
	Label(ctx context.Context, key string) (string, error)
}

// #endregion contracts
