package ports

import (
	"context"

	"github.com/ersonp/narra-core/internal/domain/entities"
	"github.com/ersonp/narra-core/internal/domain/vector"
)

// IndexedVector is an entity embedding pushed to an EmbeddingIndex.
type IndexedVector struct {
	ID     entities.EntityID
	Type   entities.EntityType
	Vector []float32
}

// EmbeddingIndex is an approximate nearest-neighbour index over entity embeddings.
type EmbeddingIndex interface {
	// EnsureCollection creates the backing collection if it doesn't exist.
	EnsureCollection(ctx context.Context, vectorSize uint64) error

	// Upsert stores or replaces vectors.
	Upsert(ctx context.Context, vectors []IndexedVector) error

	// Search returns up to limit neighbours of query ordered by ascending
	// cosine distance. No types means every type.
	Search(ctx context.Context, query []float32, limit int, types ...entities.EntityType) ([]vector.Neighbor, error)
}
