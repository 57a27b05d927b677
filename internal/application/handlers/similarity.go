package handlers

import (
	"context"

	apperrors "github.com/ersonp/narra-core/internal/domain/errors"
	"github.com/ersonp/narra-core/internal/domain/services"
	"github.com/ersonp/narra-core/internal/infrastructure/logging"
)

// DefaultSimilarityLimit is used when a similarity request asks for no limit.
const DefaultSimilarityLimit = 10

// SimilarityHandler handles embedding proximity searches.
type SimilarityHandler struct {
	service *services.SimilarityService
}

// NewSimilarityHandler creates a new similarity handler.
func NewSimilarityHandler(service *services.SimilarityService) *SimilarityHandler {
	return &SimilarityHandler{service: service}
}

func similarityLimit(k int) (int, error) {
	if k < 0 {
		return 0, apperrors.InvalidParameter("similarity", "limit", "must not be negative")
	}
	if k == 0 {
		return DefaultSimilarityLimit, nil
	}
	return k, nil
}

// Nearest finds the k entities closest to one entity.
func (h *SimilarityHandler) Nearest(ctx context.Context, rawID string, k int, rawTypes []string) (*services.SimilarityReport, error) {
	id, err := ParseID("entity", rawID)
	if err != nil {
		return nil, err
	}
	types, err := ParseTypes(rawTypes)
	if err != nil {
		return nil, err
	}
	if k, err = similarityLimit(k); err != nil {
		return nil, err
	}
	logging.From(ctx).Debug("searching nearest", "entity", id, "k", k, "types", types)
	return h.service.Nearest(ctx, id, k, types)
}

// Midpoint finds the k entities closest to the point halfway between a and b.
func (h *SimilarityHandler) Midpoint(ctx context.Context, rawA, rawB string, k int, rawTypes []string) (*services.SimilarityReport, error) {
	a, err := ParseID("a", rawA)
	if err != nil {
		return nil, err
	}
	b, err := ParseID("b", rawB)
	if err != nil {
		return nil, err
	}
	types, err := ParseTypes(rawTypes)
	if err != nil {
		return nil, err
	}
	if k, err = similarityLimit(k); err != nil {
		return nil, err
	}
	logging.From(ctx).Debug("searching midpoint", "a", a, "b", b, "k", k, "types", types)
	return h.service.Midpoint(ctx, a, b, k, types)
}

// SyncIndex pushes stored embeddings of the given types to the embedding index.
func (h *SimilarityHandler) SyncIndex(ctx context.Context, rawTypes []string) (int, error) {
	types, err := ParseTypes(rawTypes)
	if err != nil {
		return 0, err
	}
	n, err := h.service.SyncIndex(ctx, types)
	if err != nil {
		return 0, err
	}
	logging.From(ctx).Debug("synced embedding index", "types", types, "points", n)
	return n, nil
}
