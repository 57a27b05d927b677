package handlers

import (
	"context"
	"fmt"

	"github.com/ersonp/narra-core/internal/domain/entities"
	"github.com/ersonp/narra-core/internal/domain/ports"
	"github.com/ersonp/narra-core/internal/domain/services"
	"github.com/ersonp/narra-core/internal/infrastructure/logging"
)

// ImpactHandler handles change impact analysis, entity protection and the
// decision log.
type ImpactHandler struct {
	service   *services.ImpactService
	decisions *services.DecisionLog
	writer    ports.NarrativeWriter
}

// NewImpactHandler creates a new impact handler.
func NewImpactHandler(service *services.ImpactService, decisions *services.DecisionLog, writer ports.NarrativeWriter) *ImpactHandler {
	return &ImpactHandler{
		service:   service,
		decisions: decisions,
		writer:    writer,
	}
}

// Analyze reports what a change to the entity may ripple into. Zero maxDepth
// selects the configured default.
func (h *ImpactHandler) Analyze(ctx context.Context, rawID, description string, maxDepth int) (*services.ImpactReport, error) {
	id, err := ParseID("entity", rawID)
	if err != nil {
		return nil, err
	}
	logging.From(ctx).Debug("analyzing impact", "entity", id, "max_depth", maxDepth)
	return h.service.Analyze(ctx, id, description, maxDepth)
}

// SetProtected marks entities as protected or clears the mark.
func (h *ImpactHandler) SetProtected(ctx context.Context, rawIDs []string, protected bool) ([]entities.EntityID, error) {
	ids, err := ParseIDs("entity", rawIDs)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		if err := h.writer.SetProtected(ctx, id, protected); err != nil {
			return nil, fmt.Errorf("updating protection of %s: %w", id, err)
		}
	}
	logging.From(ctx).Debug("updated protection", "entities", ids, "protected", protected)
	return ids, nil
}

// RecordDecision stores an authoring decision.
func (h *ImpactHandler) RecordDecision(
	ctx context.Context,
	description, reasoning string,
	rawAffected []string,
	traced bool,
) (*entities.Decision, error) {
	affected, err := ParseIDs("affected", rawAffected)
	if err != nil {
		return nil, err
	}
	logging.From(ctx).Debug("recording decision", "affected", len(affected), "traced", traced)
	return h.decisions.Record(ctx, description, reasoning, affected, traced)
}

// Defer stores follow-ups for a decision keyed by raw entity ID.
func (h *ImpactHandler) Defer(ctx context.Context, decisionID string, rawFollowups map[string]string) ([]entities.DeferredImplication, error) {
	followups := make(map[entities.EntityID]string, len(rawFollowups))
	for raw, text := range rawFollowups {
		id, err := ParseID("entity", raw)
		if err != nil {
			return nil, err
		}
		followups[id] = text
	}
	logging.From(ctx).Debug("deferring implications", "decision", decisionID, "count", len(followups))
	return h.decisions.Defer(ctx, decisionID, followups)
}

// Pending lists deferred implications.
func (h *ImpactHandler) Pending(ctx context.Context, includeResolved bool) ([]entities.DeferredImplication, error) {
	return h.decisions.Pending(ctx, includeResolved)
}

// Resolve marks one deferred implication as handled.
func (h *ImpactHandler) Resolve(ctx context.Context, decisionID, rawEntity string) error {
	id, err := ParseID("entity", rawEntity)
	if err != nil {
		return err
	}
	logging.From(ctx).Debug("resolving implication", "decision", decisionID, "entity", id)
	return h.decisions.Resolve(ctx, decisionID, id)
}
