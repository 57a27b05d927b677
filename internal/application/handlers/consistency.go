package handlers

import (
	"context"

	"github.com/ersonp/narra-core/internal/application/cache"
	"github.com/ersonp/narra-core/internal/domain/services"
	"github.com/ersonp/narra-core/internal/infrastructure/logging"
)

// ConsistencyHandler handles world validation.
type ConsistencyHandler struct {
	service *services.ConsistencyService
	reports *cache.Reports
}

// NewConsistencyHandler creates a new consistency handler. reports may be nil.
func NewConsistencyHandler(service *services.ConsistencyService, reports *cache.Reports) *ConsistencyHandler {
	return &ConsistencyHandler{service: service, reports: reports}
}

// Validate checks one entity, or every entity of the given types when rawID is empty.
func (h *ConsistencyHandler) Validate(ctx context.Context, rawID string, rawTypes []string) (*services.ValidationResult, error) {
	id, err := ParseOptionalID("entity", rawID)
	if err != nil {
		return nil, err
	}
	if id != "" {
		logging.From(ctx).Debug("validating entity", "entity", id)
		return h.service.Validate(ctx, id)
	}

	types, err := ParseTypes(rawTypes)
	if err != nil {
		return nil, err
	}
	return cache.Get(ctx, h.reports, cacheKey("validate", types), func(ctx context.Context) (*services.ValidationResult, error) {
		logging.From(ctx).Debug("validating world", "types", types)
		return h.service.ValidateAll(ctx, types)
	})
}

// Investigate validates the entity and everything within maxDepth reference hops.
func (h *ConsistencyHandler) Investigate(ctx context.Context, rawID string, maxDepth int) (*services.Investigation, error) {
	id, err := ParseID("entity", rawID)
	if err != nil {
		return nil, err
	}
	logging.From(ctx).Debug("investigating entity", "entity", id, "max_depth", maxDepth)
	return h.service.Investigate(ctx, id, maxDepth)
}
