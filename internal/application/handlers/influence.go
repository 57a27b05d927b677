package handlers

import (
	"context"

	"github.com/ersonp/narra-core/internal/application/cache"
	"github.com/ersonp/narra-core/internal/domain/services"
	"github.com/ersonp/narra-core/internal/infrastructure/logging"
)

// InfluenceHandler handles information propagation estimates.
type InfluenceHandler struct {
	service *services.InfluenceService
	reports *cache.Reports
}

// NewInfluenceHandler creates a new influence handler. reports may be nil.
func NewInfluenceHandler(service *services.InfluenceService, reports *cache.Reports) *InfluenceHandler {
	return &InfluenceHandler{service: service, reports: reports}
}

// InfluenceRequest holds the raw options of a propagation. Zero MaxDepth and
// MinLikelihood select the configured defaults.
type InfluenceRequest struct {
	Seed          string
	FactRef       string
	FactKey       string
	MaxDepth      int
	MinLikelihood float64
}

// Handle estimates who the seed can reach and how likely each path is.
func (h *InfluenceHandler) Handle(ctx context.Context, req InfluenceRequest) (*services.InfluenceReport, error) {
	seed, err := ParseID("seed", req.Seed)
	if err != nil {
		return nil, err
	}

	key := cacheKey("influence", seed, req.FactRef, req.FactKey, req.MaxDepth, req.MinLikelihood)
	return cache.Get(ctx, h.reports, key, func(ctx context.Context) (*services.InfluenceReport, error) {
		logging.From(ctx).Debug("propagating influence",
			"seed", seed, "fact_ref", req.FactRef, "fact_key", req.FactKey, "max_depth", req.MaxDepth, "min_likelihood", req.MinLikelihood)
		return h.service.Propagate(ctx, services.InfluenceOptions{
			Seed:          seed,
			FactRef:       req.FactRef,
			FactKey:       req.FactKey,
			MaxDepth:      req.MaxDepth,
			MinLikelihood: req.MinLikelihood,
		})
	})
}
