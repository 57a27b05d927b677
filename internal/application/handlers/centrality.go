package handlers

import (
	"context"

	"github.com/ersonp/narra-core/internal/application/cache"
	"github.com/ersonp/narra-core/internal/domain/services"
	"github.com/ersonp/narra-core/internal/infrastructure/logging"
)

// CentralityHandler handles social graph centrality.
type CentralityHandler struct {
	service *services.CentralityService
	reports *cache.Reports
}

// NewCentralityHandler creates a new centrality handler. reports may be nil.
func NewCentralityHandler(service *services.CentralityService, reports *cache.Reports) *CentralityHandler {
	return &CentralityHandler{service: service, reports: reports}
}

// CentralityRequest holds the raw options of a centrality run. An empty Scope
// covers every character.
type CentralityRequest struct {
	Scope     string
	ScopeHops int
	Metric    string
	Limit     int
}

// Handle ranks characters by the requested centrality metric.
func (h *CentralityHandler) Handle(ctx context.Context, req CentralityRequest) (*services.CentralityReport, error) {
	scope, err := ParseOptionalID("scope", req.Scope)
	if err != nil {
		return nil, err
	}

	key := cacheKey("centrality", scope, req.ScopeHops, req.Metric, req.Limit)
	return cache.Get(ctx, h.reports, key, func(ctx context.Context) (*services.CentralityReport, error) {
		logging.From(ctx).Debug("computing centrality", "scope", scope, "metric", req.Metric, "limit", req.Limit)
		return h.service.Compute(ctx, services.CentralityOptions{
			Scope:     scope,
			ScopeHops: req.ScopeHops,
			Metric:    req.Metric,
			Limit:     req.Limit,
		})
	})
}

// SituationHandler handles the narrative overview.
type SituationHandler struct {
	service *services.SituationService
	reports *cache.Reports
}

// NewSituationHandler creates a new situation handler. reports may be nil.
func NewSituationHandler(service *services.SituationService, reports *cache.Reports) *SituationHandler {
	return &SituationHandler{service: service, reports: reports}
}

// Handle summarizes the narrative's irony, tension, themes and central cast.
func (h *SituationHandler) Handle(ctx context.Context) (*services.SituationReport, error) {
	return cache.Get(ctx, h.reports, cacheKey("situation"), func(ctx context.Context) (*services.SituationReport, error) {
		logging.From(ctx).Debug("building situation report")
		return h.service.Report(ctx)
	})
}
