package handlers

import (
	"context"

	"github.com/ersonp/narra-core/internal/application/cache"
	"github.com/ersonp/narra-core/internal/domain/services"
	"github.com/ersonp/narra-core/internal/infrastructure/logging"
)

// ThemeHandler handles thematic clustering.
type ThemeHandler struct {
	service *services.ThemeService
	reports *cache.Reports
}

// NewThemeHandler creates a new theme handler. reports may be nil.
func NewThemeHandler(service *services.ThemeService, reports *cache.Reports) *ThemeHandler {
	return &ThemeHandler{service: service, reports: reports}
}

// ThemeRequest holds the raw options of a clustering run.
type ThemeRequest struct {
	Types      []string
	K          int
	Iterations int
	Epsilon    float64
	Seeding    string
	Gaps       bool
}

// ThemeResult is a clustering report with the thematic gaps found in it.
type ThemeResult struct {
	*services.ThemeReport
	Gaps []services.ThematicGap `json:"gaps,omitempty"`
}

// Handle clusters entities and, when asked, checks the default expectations.
func (h *ThemeHandler) Handle(ctx context.Context, req ThemeRequest) (*ThemeResult, error) {
	types, err := ParseTypes(req.Types)
	if err != nil {
		return nil, err
	}

	key := cacheKey("themes", types, req.K, req.Iterations, req.Epsilon, req.Seeding)
	report, err := cache.Get(ctx, h.reports, key, func(ctx context.Context) (*services.ThemeReport, error) {
		logging.From(ctx).Debug("clustering themes", "types", types, "k", req.K, "seeding", req.Seeding)
		return h.service.Cluster(ctx, services.ThemeOptions{
			Types:      types,
			K:          req.K,
			Iterations: req.Iterations,
			Epsilon:    req.Epsilon,
			Seeding:    req.Seeding,
		})
	})
	if err != nil {
		return nil, err
	}

	result := &ThemeResult{ThemeReport: report}
	if req.Gaps {
		result.Gaps = services.ThematicGaps(report, services.DefaultExpectations())
	}
	return result, nil
}
