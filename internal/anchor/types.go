// Package anchor builds the immutable reference population that every query is
// compared against.
package anchor

import (
	"github.com/danielpatrickdp/photophys-triage/internal/descriptor"
	"github.com/danielpatrickdp/photophys-triage/internal/fingerprint"
)

// #region molecule
// Molecule is one candidate or reference structure.
type Molecule struct {
	Key         string                   // canonical structural key (e.g. InChIKey)
	Fingerprint *fingerprint.Fingerprint // nil when the structure is unresolvable
	Descriptors descriptor.Values
	Label       string
	// Completeness maps a critical experimental field to "is missing".
	// nil means the molecule carries no experimental metadata.
	Completeness map[string]bool
}

// Resolvable reports whether the molecule has a valid structure.
func (m Molecule) Resolvable() bool {
	return m.Fingerprint != nil
}

// HasMetadata reports whether completeness can be evaluated.
func (m Molecule) HasMetadata() bool {
	return len(m.Completeness) > 0
}

// #endregion molecule

// #region policy
// Policy selects which molecules become anchors.
type Policy struct {
	// RequireDescriptors additionally requires RequiredDescriptorFields to be computed.
	RequireDescriptors       bool
	RequiredDescriptorFields []string
}

// DefaultPolicy admits every molecule with a resolvable structure.
func DefaultPolicy() Policy {
	return Policy{}
}

// Admits reports whether m qualifies as an anchor under p.
func (p Policy) Admits(m Molecule) bool {
	if !m.Resolvable() {
		return false
	}
	if p.RequireDescriptors && !m.Descriptors.HasAll(p.RequiredDescriptorFields) {
		return false
	}
	return true
}

// #endregion policy
