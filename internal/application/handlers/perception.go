package handlers

import (
	"context"

	"github.com/ersonp/narra-core/internal/domain/services"
	"github.com/ersonp/narra-core/internal/infrastructure/logging"
)

// PerceptionHandler handles perception gap analysis.
type PerceptionHandler struct {
	service *services.PerceptionService
}

// NewPerceptionHandler creates a new perception handler.
func NewPerceptionHandler(service *services.PerceptionService) *PerceptionHandler {
	return &PerceptionHandler{service: service}
}

// Gap measures how far the observer's latest view of target is from the truth.
func (h *PerceptionHandler) Gap(ctx context.Context, rawObserver, rawTarget string) (*services.GapResult, error) {
	observer, err := ParseID("observer", rawObserver)
	if err != nil {
		return nil, err
	}
	target, err := ParseID("target", rawTarget)
	if err != nil {
		return nil, err
	}
	logging.From(ctx).Debug("computing perception gap", "observer", observer, "target", target)
	return h.service.Gap(ctx, observer, target)
}

// Matrix computes agreement between observers of target. No observers means
// everyone who has perceived the target.
func (h *PerceptionHandler) Matrix(ctx context.Context, rawTarget string, rawObservers []string) (*services.PerceptionMatrix, error) {
	target, err := ParseID("target", rawTarget)
	if err != nil {
		return nil, err
	}
	observers, err := ParseIDs("observers", rawObservers)
	if err != nil {
		return nil, err
	}
	logging.From(ctx).Debug("computing perception matrix", "target", target, "observers", len(observers))
	return h.service.Matrix(ctx, target, observers)
}

// Shift tracks the observer's gap across their perception history.
func (h *PerceptionHandler) Shift(ctx context.Context, rawObserver, rawTarget string) (*services.PerceptionShift, error) {
	observer, err := ParseID("observer", rawObserver)
	if err != nil {
		return nil, err
	}
	target, err := ParseID("target", rawTarget)
	if err != nil {
		return nil, err
	}
	logging.From(ctx).Debug("computing perception shift", "observer", observer, "target", target)
	return h.service.Shift(ctx, observer, target)
}
