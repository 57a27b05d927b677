package handlers

import (
	"context"
	"slices"

	"github.com/ersonp/narra-core/internal/application/cache"
	apperrors "github.com/ersonp/narra-core/internal/domain/errors"
	"github.com/ersonp/narra-core/internal/domain/services"
	"github.com/ersonp/narra-core/internal/infrastructure/logging"
)

// IronyHandler handles dramatic irony detection.
type IronyHandler struct {
	service *services.IronyService
	reports *cache.Reports
}

// NewIronyHandler creates a new irony handler. reports may be nil.
func NewIronyHandler(service *services.IronyService, reports *cache.Reports) *IronyHandler {
	return &IronyHandler{service: service, reports: reports}
}

// IronyRequest holds the raw options of an irony scan.
type IronyRequest struct {
	Characters []string
	Target     string
	Limit      int
}

// Handle ranks the knowledge asymmetries in scope.
func (h *IronyHandler) Handle(ctx context.Context, req IronyRequest) (*services.IronyReport, error) {
	characters, err := ParseIDs("characters", req.Characters)
	if err != nil {
		return nil, err
	}
	target, err := ParseOptionalID("target", req.Target)
	if err != nil {
		return nil, err
	}
	if req.Limit < 0 {
		return nil, apperrors.InvalidParameter("irony", "limit", "must not be negative")
	}

	scope := slices.Clone(characters)
	slices.Sort(scope)
	key := cacheKey("irony", scope, target, req.Limit)

	return cache.Get(ctx, h.reports, key, func(ctx context.Context) (*services.IronyReport, error) {
		logging.From(ctx).Debug("detecting irony", "characters", len(characters), "target", target, "limit", req.Limit)
		return h.service.Detect(ctx, services.IronyOptions{
			Characters: characters,
			TargetID:   target,
			Limit:      req.Limit,
		})
	})
}
