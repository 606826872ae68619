package anchor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"

	"github.com/danielpatrickdp/photophys-triage/internal/descriptor"
)

// ErrDuplicateKey is returned when two molecules share a structural key.
var ErrDuplicateKey = errors.New("anchor: duplicate structure key")

// #region index
// Index is the anchor population plus what queries need to compare against it.
// It is never mutated after Build; a changed population means a new Index and
// a new SnapshotID.
type Index struct {
	anchors    []Molecule
	byKey      map[string]int
	length     uint
	normalizer *descriptor.Normalizer
	snapshotID string
	excluded   int
}

// Build selects anchors from molecules under policy. Anchors are ordered by key
// so ordinals are stable across runs. Physical descriptors are normalised
// against the admitted anchors using fields.
func Build(molecules []Molecule, policy Policy, fields []string) (*Index, error) {
	seen := make(map[string]struct{}, len(molecules))
	var anchors []Molecule
	excluded := 0
	for _, m := range molecules {
		if m.Key == "" {
			return nil, errors.New("anchor: empty structure key")
		}
		if _, dup := seen[m.Key]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateKey, m.Key)
		}
		seen[m.Key] = struct{}{}
		if err := m.Descriptors.Validate(); err != nil {
			return nil, fmt.Errorf("anchor %s: %w", m.Key, err)
		}
		if !policy.Admits(m) {
			excluded++
			continue
		}
		anchors = append(anchors, m)
	}
	sort.Slice(anchors, func(i, j int) bool { return anchors[i].Key < anchors[j].Key })

	idx := &Index{
		anchors:  anchors,
		byKey:    make(map[string]int, len(anchors)),
		excluded: excluded,
	}
	pop := make([]descriptor.Values, 0, len(anchors))
	for i, a := range anchors {
		if i == 0 {
			idx.length = a.Fingerprint.Len()
		} else if a.Fingerprint.Len() != idx.length {
			return nil, fmt.Errorf("anchor %s: fingerprint length %d, population uses %d",
				a.Key, a.Fingerprint.Len(), idx.length)
		}
		idx.byKey[a.Key] = i
		pop = append(pop, a.Descriptors)
	}
	idx.normalizer = descriptor.Fit(fields, pop)
	idx.snapshotID = snapshot(anchors)
	return idx, nil
}

// snapshot hashes the sorted anchor keys and fingerprints.
func snapshot(anchors []Molecule) string {
	h := sha256.New()
	for _, a := range anchors {
		h.Write([]byte(a.Key))
		h.Write([]byte{0})
		h.Write([]byte(a.Fingerprint.Hex()))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Len returns the number of anchors.
func (x *Index) Len() int { return len(x.anchors) }

// At returns the anchor with ordinal i.
func (x *Index) At(i int) Molecule { return x.anchors[i] }

// Lookup returns the ordinal of key, if it is an anchor.
func (x *Index) Lookup(key string) (int, bool) {
	i, ok := x.byKey[key]
	return i, ok
}

// FingerprintLen returns the population's fingerprint length (0 when empty).
func (x *Index) FingerprintLen() uint { return x.length }

// Normalizer returns the descriptor normaliser fitted on the anchors.
func (x *Index) Normalizer() *descriptor.Normalizer { return x.normalizer }

// SnapshotID identifies this exact anchor population.
func (x *Index) SnapshotID() string { return x.snapshotID }

// Excluded returns how many input molecules the policy rejected.
func (x *Index) Excluded() int { return x.excluded }

// #endregion index

// #region hydrate
// Hydrate assembles molecules from the collaborator contracts. A key whose
// fingerprint is NotFound becomes an unresolvable molecule; any other error
// aborts. meta and labels may be nil.
func Hydrate(
	ctx context.Context,
	store descriptor.Store,
	meta descriptor.MetadataSource,
	labels descriptor.LabelSource,
	keys []string,
) ([]Molecule, error) {
	out := make([]Molecule, 0, len(keys))
	for _, key := range keys {
		m := Molecule{Key: key}

		fp, err := store.Fingerprint(ctx, key)
		switch {
		case err == nil:
			m.Fingerprint = fp
		case errors.Is(err, descriptor.ErrNotFound):
		default:
			return nil, fmt.Errorf("hydrate %s fingerprint: %w", key, err)
		}

		vals, err := store.Descriptors(ctx, key)
		if err != nil && !errors.Is(err, descriptor.ErrNotFound) {
			return nil, fmt.Errorf("hydrate %s descriptors: %w", key, err)
		}
		m.Descriptors = vals

		if meta != nil {
			c, err := meta.Completeness(ctx, key)
			if err != nil && !errors.Is(err, descriptor.ErrNotFound) {
				return nil, fmt.Errorf("hydrate %s metadata: %w", key, err)
			}
			m.Completeness = c
		}
		if labels != nil {
			l, err := labels.Label(ctx, key)
			if err != nil && !errors.Is(err, descriptor.ErrNotFound) {
				return nil, fmt.Errorf("hydrate %s label: %w", key, err)
			}
			m.Label = l
		}
		out = append(out, m)
	}
	return out, nil
}

// #endregion hydrate
