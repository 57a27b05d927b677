package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/ersonp/narra-core/internal/application/cache"
	"github.com/ersonp/narra-core/internal/domain/entities"
	apperrors "github.com/ersonp/narra-core/internal/domain/errors"
	"github.com/ersonp/narra-core/internal/domain/ports"
	"github.com/ersonp/narra-core/internal/domain/services"
	"github.com/ersonp/narra-core/internal/infrastructure/logging"
)

// ArcHandler handles character arc tracking.
type ArcHandler struct {
	service  *services.ArcService
	entities ports.EntityReader
	reports  *cache.Reports
}

// NewArcHandler creates a new arc handler. reports may be nil.
func NewArcHandler(service *services.ArcService, entityReader ports.EntityReader, reports *cache.Reports) *ArcHandler {
	return &ArcHandler{
		service:  service,
		entities: entityReader,
		reports:  reports,
	}
}

// HistoryReport is a materialized arc history.
type HistoryReport struct {
	EntityID entities.EntityID       `json:"entity_id"`
	Entries  []services.HistoryEntry `json:"entries"`
}

// Record snapshots the entity's current embedding. A zero at records the
// current time.
func (h *ArcHandler) Record(ctx context.Context, rawID string, at time.Time, rawEvent string) (*entities.ArcSnapshot, error) {
	id, err := ParseID("entity", rawID)
	if err != nil {
		return nil, err
	}
	eventID, err := ParseOptionalID("event", rawEvent)
	if err != nil {
		return nil, err
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}

	emb, err := h.entities.GetEmbedding(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting embedding: %w", err)
	}
	if len(emb) == 0 {
		return nil, apperrors.MissingEmbedding("record snapshot", string(id))
	}

	logging.From(ctx).Debug("recording snapshot", "entity", id, "at", at, "event", eventID)
	return h.service.RecordSnapshot(ctx, id, emb, at, eventID)
}

// Baseline snapshots every changed entity of the given types.
func (h *ArcHandler) Baseline(ctx context.Context, rawTypes []string) (*services.BaselineResult, error) {
	types, err := ParseTypes(rawTypes)
	if err != nil {
		return nil, err
	}
	logging.From(ctx).Debug("capturing baseline", "types", types)
	return h.service.CaptureBaseline(ctx, types)
}

// Drift reports the total drift of one entity.
func (h *ArcHandler) Drift(ctx context.Context, rawID string) (*services.DriftResult, error) {
	id, err := ParseID("entity", rawID)
	if err != nil {
		return nil, err
	}
	logging.From(ctx).Debug("computing drift", "entity", id)
	return h.service.Drift(ctx, id)
}

// Rank ranks entities by drift.
func (h *ArcHandler) Rank(ctx context.Context, rawTypes []string, limit int) ([]services.DriftResult, error) {
	types, err := ParseTypes(rawTypes)
	if err != nil {
		return nil, err
	}
	key := cacheKey("arc-rank", types, limit)
	return cache.Get(ctx, h.reports, key, func(ctx context.Context) ([]services.DriftResult, error) {
		logging.From(ctx).Debug("ranking by drift", "types", types, "limit", limit)
		return h.service.RankByDrift(ctx, types, limit)
	})
}

// History returns every snapshot of the entity with per-step deltas.
func (h *ArcHandler) History(ctx context.Context, rawID string) (*HistoryReport, error) {
	id, err := ParseID("entity", rawID)
	if err != nil {
		return nil, err
	}
	history, err := h.service.History(ctx, id)
	if err != nil {
		return nil, err
	}

	report := &HistoryReport{EntityID: id, Entries: make([]services.HistoryEntry, 0, history.Len())}
	for _, entry := range history.All() {
		report.Entries = append(report.Entries, entry)
	}
	logging.From(ctx).Debug("loaded arc history", "entity", id, "snapshots", len(report.Entries))
	return report, nil
}

// Compare classifies whether two entities converge over the window, given as
// "recent:N" or "range:FROM..TO".
func (h *ArcHandler) Compare(ctx context.Context, rawA, rawB, rawWindow string) (*services.Comparison, error) {
	a, err := ParseID("a", rawA)
	if err != nil {
		return nil, err
	}
	b, err := ParseID("b", rawB)
	if err != nil {
		return nil, err
	}
	window, err := services.ParseWindow(rawWindow)
	if err != nil {
		return nil, err
	}
	logging.From(ctx).Debug("comparing arcs", "a", a, "b", b, "window", window.String())
	return h.service.Compare(ctx, a, b, window)
}

// Moment returns the entity's snapshot at an event.
func (h *ArcHandler) Moment(ctx context.Context, rawID, rawEvent string) (*entities.ArcSnapshot, error) {
	id, err := ParseID("entity", rawID)
	if err != nil {
		return nil, err
	}
	eventID, err := ParseID("event", rawEvent)
	if err != nil {
		return nil, err
	}
	logging.From(ctx).Debug("finding arc moment", "entity", id, "event", eventID)
	return h.service.Moment(ctx, id, eventID)
}
