package cache

import (
	"context"

	"github.com/ersonp/narra-core/internal/domain/entities"
	"github.com/ersonp/narra-core/internal/domain/ports"
)

var _ ports.NarrativeWriter = (*InvalidatingWriter)(nil)

// InvalidatingWriter forwards writes to a NarrativeWriter and invalidates the
// report cache after each successful one.
type InvalidatingWriter struct {
	next    ports.NarrativeWriter
	reports *Reports
}

// NewInvalidatingWriter wraps next so that writes invalidate reports.
func NewInvalidatingWriter(next ports.NarrativeWriter, reports *Reports) *InvalidatingWriter {
	return &InvalidatingWriter{next: next, reports: reports}
}

func (w *InvalidatingWriter) done(err error) error {
	if err == nil {
		w.reports.Invalidate()
	}
	return err
}

// SaveEntity implements ports.NarrativeWriter.
func (w *InvalidatingWriter) SaveEntity(ctx context.Context, entity *entities.Entity) error {
	return w.done(w.next.SaveEntity(ctx, entity))
}

// AppendKnowledge implements ports.NarrativeWriter.
func (w *InvalidatingWriter) AppendKnowledge(ctx context.Context, record *entities.KnowledgeRecord) error {
	return w.done(w.next.AppendKnowledge(ctx, record))
}

// SaveRelationship implements ports.NarrativeWriter.
func (w *InvalidatingWriter) SaveRelationship(ctx context.Context, rel *entities.Relationship) error {
	return w.done(w.next.SaveRelationship(ctx, rel))
}

// AppendPerception implements ports.NarrativeWriter.
func (w *InvalidatingWriter) AppendPerception(ctx context.Context, p *entities.Perception) error {
	return w.done(w.next.AppendPerception(ctx, p))
}

// SaveScene implements ports.NarrativeWriter.
func (w *InvalidatingWriter) SaveScene(ctx context.Context, scene *entities.Scene) error {
	return w.done(w.next.SaveScene(ctx, scene))
}

// SaveFact implements ports.NarrativeWriter.
func (w *InvalidatingWriter) SaveFact(ctx context.Context, fact *entities.UniverseFact) error {
	return w.done(w.next.SaveFact(ctx, fact))
}

// AppendSnapshot implements ports.NarrativeWriter.
func (w *InvalidatingWriter) AppendSnapshot(ctx context.Context, snap *entities.ArcSnapshot) error {
	return w.done(w.next.AppendSnapshot(ctx, snap))
}

// SetProtected implements ports.NarrativeWriter.
func (w *InvalidatingWriter) SetProtected(ctx context.Context, id entities.EntityID, protected bool) error {
	return w.done(w.next.SetProtected(ctx, id, protected))
}

var _ ports.SnapshotStore = (*InvalidatingSnapshots)(nil)

// InvalidatingSnapshots is a SnapshotStore that invalidates reports after each
// appended snapshot.
type InvalidatingSnapshots struct {
	next    ports.SnapshotStore
	reports *Reports
}

// NewInvalidatingSnapshots wraps next so that appends invalidate reports.
func NewInvalidatingSnapshots(next ports.SnapshotStore, reports *Reports) *InvalidatingSnapshots {
	return &InvalidatingSnapshots{next: next, reports: reports}
}

// AppendSnapshot implements ports.SnapshotStore.
func (s *InvalidatingSnapshots) AppendSnapshot(ctx context.Context, snap *entities.ArcSnapshot) error {
	if err := s.next.AppendSnapshot(ctx, snap); err != nil {
		return err
	}
	s.reports.Invalidate()
	return nil
}

// ListSnapshots implements ports.SnapshotStore.
func (s *InvalidatingSnapshots) ListSnapshots(ctx context.Context, entityID entities.EntityID) ([]entities.ArcSnapshot, error) {
	return s.next.ListSnapshots(ctx, entityID)
}
