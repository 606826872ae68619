// Package fixture reads and writes molecule datasets as JSON.
package fixture

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/danielpatrickdp/photophys-triage/internal/anchor"
	"github.com/danielpatrickdp/photophys-triage/internal/descriptor"
	"github.com/danielpatrickdp/photophys-triage/internal/fingerprint"
)

// #region fixture-types

// Dataset is the top-level JSON structure: an anchor population, the query
// molecules to triage and, optionally, the verdicts they are expected to get.
type Dataset struct {
	Description       string            `json:"description,omitempty"`
	FingerprintLength uint              `json:"fingerprint_length"`
	Anchors           []Entry           `json:"anchors"`
	Queries           []Entry           `json:"queries,omitempty"`
	Expected          []ExpectedVerdict `json:"expected,omitempty"`
}

// Entry is one molecule. The fingerprint is given either as little-endian hex
// or as a list of on-bit positions; with neither the molecule is unresolvable.
// Null descriptor values mean the field is missing.
type Entry struct {
	Key            string              `json:"key"`
	FingerprintHex string              `json:"fingerprint_hex,omitempty"`
	OnBits         []uint              `json:"on_bits,omitempty"`
	Descriptors    map[string]*float64 `json:"descriptors,omitempty"`
	Label          string              `json:"label,omitempty"`
	Missing        map[string]bool     `json:"missing,omitempty"`
}

// ExpectedVerdict pins the verdict a query should be routed to.
type ExpectedVerdict struct {
	Key     string `json:"key"`
	Verdict string `json:"verdict"`
}

// #endregion fixture-types

// #region fixture-loader

// Load reads and parses a JSON dataset file.
func Load(path string) (*Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dataset %s: %w", path, err)
	}
	var d Dataset
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parse dataset %s: %w", path, err)
	}
	if d.FingerprintLength == 0 {
		d.FingerprintLength = fingerprint.DefaultLength
	}
	return &d, nil
}

// Save writes d as indented JSON.
func Save(path string, d *Dataset) error {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal dataset: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write dataset %s: %w", path, err)
	}
	return nil
}

// #endregion fixture-loader

// #region conversion

// Molecule converts e to a domain molecule.
func (e *Entry) Molecule(length uint) (anchor.Molecule, error) {
	m := anchor.Molecule{
		Key:          e.Key,
		Label:        e.Label,
		Completeness: e.Missing,
	}
	var err error
	switch {
	case e.FingerprintHex != "":
		m.Fingerprint, err = fingerprint.FromHex(e.FingerprintHex, length)
	case e.OnBits != nil:
		m.Fingerprint, err = fingerprint.FromOnBits(length, e.OnBits)
	}
	if err != nil {
		return anchor.Molecule{}, fmt.Errorf("molecule %s: %w", e.Key, err)
	}
	if len(e.Descriptors) > 0 {
		m.Descriptors = make(descriptor.Values, len(e.Descriptors))
		for f, v := range e.Descriptors {
			if v != nil {
				m.Descriptors[f] = *v
			}
		}
	}
	return m, nil
}

// AnchorMolecules converts the anchor entries.
func (d *Dataset) AnchorMolecules() ([]anchor.Molecule, error) {
	return molecules(d.Anchors, d.FingerprintLength)
}

// QueryMolecules converts the query entries.
func (d *Dataset) QueryMolecules() ([]anchor.Molecule, error) {
	return molecules(d.Queries, d.FingerprintLength)
}

func molecules(entries []Entry, length uint) ([]anchor.Molecule, error) {
	out := make([]anchor.Molecule, 0, len(entries))
	for i := range entries {
		m, err := entries[i].Molecule(length)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// Store loads every anchor and query into an in-memory descriptor store, so
// a dataset can be served over gRPC or hydrated like a remote source.
func (d *Dataset) Store() (*descriptor.MemoryStore, error) {
	ms := descriptor.NewMemoryStore()
	for _, group := range [][]Entry{d.Anchors, d.Queries} {
		mols, err := molecules(group, d.FingerprintLength)
		if err != nil {
			return nil, err
		}
		for _, m := range mols {
			ms.Put(m.Key, descriptor.Record{
				Fingerprint:  m.Fingerprint,
				Descriptors:  m.Descriptors,
				Label:        m.Label,
				Completeness: m.Completeness,
			})
		}
	}
	return ms, nil
}

// EntryFrom converts a domain molecule back to its JSON form.
func EntryFrom(m anchor.Molecule) Entry {
	e := Entry{Key: m.Key, Label: m.Label, Missing: m.Completeness}
	if m.Fingerprint != nil {
		e.FingerprintHex = m.Fingerprint.Hex()
	}
	if len(m.Descriptors) > 0 {
		e.Descriptors = make(map[string]*float64, len(m.Descriptors))
		fields := make([]string, 0, len(m.Descriptors))
		for f := range m.Descriptors {
			fields = append(fields, f)
		}
		sort.Strings(fields)
		for _, f := range fields {
			v := m.Descriptors[f]
			e.Descriptors[f] = &v
		}
	}
	return e
}

// #endregion conversion
