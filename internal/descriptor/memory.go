package descriptor

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"

	"github.com/danielpatrickdp/photophys-triage/internal/fingerprint"
)

// Record is everything the collaborators know about one structure key.
type Record struct {
	Fingerprint  *fingerprint.Fingerprint
	Descriptors  Values
	Label        string
	Completeness map[string]bool
}

// MemoryStore is an in-process Store, MetadataSource and LabelSource.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

// Put stores or replaces the record for key.
func (m *MemoryStore) Put(key string, rec Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[key] = rec
}

// Keys returns all stored keys in sorted order.
func (m *MemoryStore) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.records))
	for k := range m.records {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (m *MemoryStore) get(key string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[key]
	if !ok {
		return Record{}, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	return rec, nil
}

// Fingerprint implements Store. A record without a fingerprint is NotFound.
func (m *MemoryStore) Fingerprint(_ context.Context, key string) (*fingerprint.Fingerprint, error) {
	rec, err := m.get(key)
	if err != nil {
		return nil, err
	}
	if rec.Fingerprint == nil {
		return nil, fmt.Errorf("%s fingerprint: %w", key, ErrNotFound)
	}
	return rec.Fingerprint, nil
}

// Descriptors implements Store.
func (m *MemoryStore) Descriptors(_ context.Context, key string) (Values, error) {
	rec, err := m.get(key)
	if err != nil {
		return nil, err
	}
	return maps.Clone(rec.Descriptors), nil
}

// Completeness implements MetadataSource.
func (m *MemoryStore) Completeness(_ context.Context, key string) (map[string]bool, error) {
	rec, err := m.get(key)
	if err != nil {
		return nil, err
	}
	return maps.Clone(rec.Completeness), nil
}

// Label implements LabelSource.
func (m *MemoryStore) Label(_ context.Context, key string) (string, error) {
	rec, err := m.get(key)
	if err != nil {
		return "", err
	}
	return rec.Label, nil
}
