package mocks

import (
	"context"
	"slices"
	"sync"

	"github.com/ersonp/narra-core/internal/domain/entities"
	"github.com/ersonp/narra-core/internal/domain/ports"
	"github.com/ersonp/narra-core/internal/domain/vector"
)

// Index is a mock implementation of ports.EmbeddingIndex backed by brute force search.
type Index struct {
	mu      sync.Mutex
	vectors map[entities.EntityID]ports.IndexedVector

	EnsureCalls int
	Err         error
}

// NewIndex creates an empty Index.
func NewIndex() *Index {
	return &Index{vectors: make(map[entities.EntityID]ports.IndexedVector)}
}

// EnsureCollection records the call.
func (m *Index) EnsureCollection(_ context.Context, _ uint64) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.EnsureCalls++
	return nil
}

// Upsert stores vectors.
func (m *Index) Upsert(_ context.Context, vs []ports.IndexedVector) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range vs {
		m.vectors[v.ID] = v
	}
	return nil
}

// Len returns the number of stored vectors.
func (m *Index) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.vectors)
}

// Search returns nearest stored vectors.
func (m *Index) Search(_ context.Context, query []float32, limit int, types ...entities.EntityType) ([]vector.Neighbor, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	m.mu.Lock()
	candidates := make([]vector.Candidate, 0, len(m.vectors))
	for _, v := range m.vectors {
		if len(types) > 0 && !slices.Contains(types, v.Type) {
			continue
		}
		candidates = append(candidates, vector.Candidate{ID: string(v.ID), Vector: v.Vector})
	}
	m.mu.Unlock()
	return vector.NearestK(query, candidates, limit)
}
