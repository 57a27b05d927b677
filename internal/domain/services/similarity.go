package services

import (
	"context"
	"fmt"

	"github.com/ersonp/narra-core/internal/domain/entities"
	apperrors "github.com/ersonp/narra-core/internal/domain/errors"
	"github.com/ersonp/narra-core/internal/domain/ports"
	"github.com/ersonp/narra-core/internal/domain/vector"
)

// syncBatchSize caps the vectors sent per index upsert.
const syncBatchSize = 100

// Similarity sources.
const (
	SourceIndex = "index"
	SourceScan  = "scan"
)

// Match is one entity close to a query vector.
type Match struct {
	EntityID entities.EntityID   `json:"entity_id"`
	Name     string              `json:"name"`
	Type     entities.EntityType `json:"type"`
	Distance float64             `json:"distance"`
}

// SimilarityReport lists the entities nearest to one or two query entities.
type SimilarityReport struct {
	Query   []entities.EntityID `json:"query"`
	Source  string              `json:"source"`
	Matches []Match             `json:"matches"`
}

// SimilarityService finds entities by embedding proximity. It searches the
// embedding index when one is configured and scans stored embeddings otherwise.
type SimilarityService struct {
	entities ports.EntityReader
	index    ports.EmbeddingIndex
}

// NewSimilarityService creates a new SimilarityService. index may be nil.
func NewSimilarityService(entityReader ports.EntityReader, index ports.EmbeddingIndex) *SimilarityService {
	return &SimilarityService{entities: entityReader, index: index}
}

// Nearest returns the k entities closest to id, excluding id itself.
func (s *SimilarityService) Nearest(ctx context.Context, id entities.EntityID, k int, types []entities.EntityType) (*SimilarityReport, error) {
	if k <= 0 {
		return nil, apperrors.InvalidParameter("nearest", "k", "must be positive")
	}
	query, err := s.embeddingOf(ctx, "nearest", id)
	if err != nil {
		return nil, err
	}
	return s.search(ctx, []entities.EntityID{id}, query, k, types)
}

// Midpoint returns the k entities closest to the point halfway between a and b,
// excluding a and b.
func (s *SimilarityService) Midpoint(ctx context.Context, a, b entities.EntityID, k int, types []entities.EntityType) (*SimilarityReport, error) {
	if k <= 0 {
		return nil, apperrors.InvalidParameter("midpoint", "k", "must be positive")
	}
	if a == b {
		return nil, apperrors.InvalidParameter("midpoint", "b", "must differ from a")
	}
	va, err := s.embeddingOf(ctx, "midpoint", a)
	if err != nil {
		return nil, err
	}
	vb, err := s.embeddingOf(ctx, "midpoint", b)
	if err != nil {
		return nil, err
	}
	mid, err := vector.Midpoint(va, vb)
	if err != nil {
		return nil, fmt.Errorf("midpoint of %s and %s: %w", a, b, err)
	}
	return s.search(ctx, []entities.EntityID{a, b}, mid, k, types)
}

// SyncIndex pushes every stored embedding of the given types to the index and
// returns how many vectors were written.
func (s *SimilarityService) SyncIndex(ctx context.Context, types []entities.EntityType) (int, error) {
	if s.index == nil {
		return 0, apperrors.InvalidParameter("sync index", "index", "no embedding index configured")
	}
	list, err := s.entities.ListEntitiesByType(ctx, types...)
	if err != nil {
		return 0, fmt.Errorf("listing entities: %w", err)
	}

	var batch []ports.IndexedVector
	for i := range list {
		e := &list[i]
		if !e.HasEmbedding() {
			continue
		}
		if len(batch) > 0 && len(e.Embedding) != len(batch[0].Vector) {
			return 0, apperrors.WithMetadata(apperrors.CodeDimensionMismatch,
				fmt.Sprintf("%s has %d dimensions, expected %d", e.ID, len(e.Embedding), len(batch[0].Vector)),
				map[string]string{"op": "sync index", "id": string(e.ID)})
		}
		batch = append(batch, ports.IndexedVector{ID: e.ID, Type: e.Type, Vector: e.Embedding})
	}
	if len(batch) == 0 {
		return 0, nil
	}

	if err := s.index.EnsureCollection(ctx, uint64(len(batch[0].Vector))); err != nil {
		return 0, fmt.Errorf("ensuring collection: %w", err)
	}
	for start := 0; start < len(batch); start += syncBatchSize {
		end := min(start+syncBatchSize, len(batch))
		if err := s.index.Upsert(ctx, batch[start:end]); err != nil {
			return start, fmt.Errorf("upserting vectors: %w", err)
		}
	}
	return len(batch), nil
}

func (s *SimilarityService) embeddingOf(ctx context.Context, op string, id entities.EntityID) ([]float32, error) {
	emb, err := s.entities.GetEmbedding(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting embedding of %s: %w", id, err)
	}
	if len(emb) == 0 {
		return nil, apperrors.MissingEmbedding(op, string(id))
	}
	return emb, nil
}

func (s *SimilarityService) search(ctx context.Context, exclude []entities.EntityID, query []float32, k int, types []entities.EntityType) (*SimilarityReport, error) {
	report := &SimilarityReport{Query: exclude, Matches: []Match{}}
	skip := func(id entities.EntityID) bool { return containsID(exclude, id) }

	if s.index == nil {
		report.Source = SourceScan
		list, err := s.entities.ListEntitiesByType(ctx, types...)
		if err != nil {
			return nil, fmt.Errorf("listing entities: %w", err)
		}
		byID := make(map[entities.EntityID]*entities.Entity, len(list))
		candidates := make([]vector.Candidate, 0, len(list))
		for i := range list {
			e := &list[i]
			if skip(e.ID) || len(e.Embedding) != len(query) {
				continue
			}
			byID[e.ID] = e
			candidates = append(candidates, vector.Candidate{ID: string(e.ID), Vector: e.Embedding})
		}
		neighbors, err := vector.NearestK(query, candidates, k)
		if err != nil {
			return nil, err
		}
		for _, n := range neighbors {
			e := byID[entities.EntityID(n.ID)]
			report.Matches = append(report.Matches, Match{EntityID: e.ID, Name: e.DisplayName(), Type: e.Type, Distance: n.Distance})
		}
		return report, nil
	}

	// Over-fetch so excluded and stale entries still leave k matches.
	report.Source = SourceIndex
	neighbors, err := s.index.Search(ctx, query, 2*k+len(exclude), types...)
	if err != nil {
		return nil, fmt.Errorf("searching index: %w", err)
	}
	for _, n := range neighbors {
		id := entities.EntityID(n.ID)
		if skip(id) {
			continue
		}
		e, err := s.entities.GetEntity(ctx, id)
		if apperrors.IsCode(err, apperrors.CodeNotFound) {
			// stale index entry
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("getting %s: %w", id, err)
		}
		report.Matches = append(report.Matches, Match{EntityID: id, Name: e.DisplayName(), Type: e.Type, Distance: n.Distance})
		if len(report.Matches) == k {
			break
		}
	}
	return report, nil
}
