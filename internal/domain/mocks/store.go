package mocks

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/ersonp/narra-core/internal/domain/entities"
	apperrors "github.com/ersonp/narra-core/internal/domain/errors"
	"github.com/ersonp/narra-core/internal/domain/ports"
)

// Store is an in-memory implementation of ports.NarrativeReader,
// ports.NarrativeWriter and ports.DecisionStore. Setting Err makes every call fail.
type Store struct {
	mu sync.RWMutex

	entities      map[entities.EntityID]entities.Entity
	knowledge     []entities.KnowledgeRecord
	relationships []entities.Relationship
	perceptions   []entities.Perception
	scenes        map[entities.EntityID]entities.Scene
	facts         []entities.UniverseFact
	snapshots     map[entities.EntityID][]entities.ArcSnapshot
	protected     map[entities.EntityID]bool
	decisions     []entities.Decision
	deferred      []entities.DeferredImplication
	seq           int

	Err error
}

var (
	_ ports.NarrativeReader = (*Store)(nil)
	_ ports.NarrativeWriter = (*Store)(nil)
	_ ports.DecisionStore   = (*Store)(nil)
)

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		entities:  make(map[entities.EntityID]entities.Entity),
		scenes:    make(map[entities.EntityID]entities.Scene),
		snapshots: make(map[entities.EntityID][]entities.ArcSnapshot),
		protected: make(map[entities.EntityID]bool),
	}
}

func (m *Store) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-%04d", prefix, m.seq)
}

// Test helpers. They bypass Err and never fail.

// AddEntities stores entities, deriving Type from the id when unset.
func (m *Store) AddEntities(es ...entities.Entity) *Store {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range es {
		if e.Type == "" {
			e.Type = e.ID.Type()
		}
		m.entities[e.ID] = e
	}
	return m
}

// AddKnowledge appends ledger records.
func (m *Store) AddKnowledge(records ...entities.KnowledgeRecord) *Store {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		if r.ID == "" {
			r.ID = m.nextID("k")
		}
		m.knowledge = append(m.knowledge, r)
	}
	return m
}

// AddRelationships stores relationship edges.
func (m *Store) AddRelationships(rels ...entities.Relationship) *Store {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range rels {
		if r.ID == "" {
			r.ID = m.nextID("r")
		}
		m.relationships = append(m.relationships, r)
	}
	return m
}

// AddPerceptions appends perception records.
func (m *Store) AddPerceptions(ps ...entities.Perception) *Store {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range ps {
		if p.ID == "" {
			p.ID = m.nextID("p")
		}
		m.perceptions = append(m.perceptions, p)
	}
	return m
}

// AddScenes stores scene participation views.
func (m *Store) AddScenes(scenes ...entities.Scene) *Store {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range scenes {
		m.scenes[s.ID] = s
	}
	return m
}

// AddFacts stores universe facts.
func (m *Store) AddFacts(facts ...entities.UniverseFact) *Store {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range facts {
		if f.ID == "" {
			f.ID = m.nextID("f")
		}
		m.facts = append(m.facts, f)
	}
	return m
}

// AddSnapshots appends snapshots without the ordering check.
func (m *Store) AddSnapshots(snaps ...entities.ArcSnapshot) *Store {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range snaps {
		if s.ID == "" {
			s.ID = m.nextID("s")
		}
		m.snapshots[s.EntityID] = append(m.snapshots[s.EntityID], s)
		sort.SliceStable(m.snapshots[s.EntityID], func(i, j int) bool {
			return m.snapshots[s.EntityID][i].RecordedAt.Before(m.snapshots[s.EntityID][j].RecordedAt)
		})
	}
	return m
}

// Protect marks ids as protected.
func (m *Store) Protect(ids ...entities.EntityID) *Store {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		m.protected[id] = true
	}
	return m
}

// EntityReader.

// GetEntity returns the entity or NOT_FOUND.
func (m *Store) GetEntity(_ context.Context, id entities.EntityID) (*entities.Entity, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entities[id]
	if !ok {
		return nil, apperrors.NotFound("get entity", string(id))
	}
	return &e, nil
}

// GetEmbedding returns the entity's embedding.
func (m *Store) GetEmbedding(ctx context.Context, id entities.EntityID) ([]float32, error) {
	e, err := m.GetEntity(ctx, id)
	if err != nil {
		return nil, err
	}
	return e.Embedding, nil
}

// ListEntitiesByType lists entities of the given types ordered by ID.
func (m *Store) ListEntitiesByType(_ context.Context, types ...entities.EntityType) ([]entities.Entity, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []entities.Entity
	for _, e := range m.entities {
		if len(types) == 0 || slices.Contains(types, e.Type) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// KnowledgeReader.

// ListKnowledge returns matching records ordered by LearnedAt, then append order.
func (m *Store) ListKnowledge(_ context.Context, f ports.KnowledgeFilter) ([]entities.KnowledgeRecord, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []entities.KnowledgeRecord
	for _, k := range m.knowledge {
		if len(f.CharacterIDs) > 0 && !slices.Contains(f.CharacterIDs, k.CharacterID) {
			continue
		}
		if f.TargetID != "" && k.TargetID != f.TargetID {
			continue
		}
		if f.FactRef != "" && k.FactRef != f.FactRef {
			continue
		}
		out = append(out, k)
	}
	sort.SliceStable(out, func(i, j int) bool { return entities.KnowledgeLess(&out[i], &out[j]) })
	return out, nil
}

// RelationshipReader.

// ListRelationships returns matching edges ordered by ID.
func (m *Store) ListRelationships(_ context.Context, f ports.RelationshipFilter) ([]entities.Relationship, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []entities.Relationship
	for _, r := range m.relationships {
		if f.EntityID != "" && r.FromID != f.EntityID && r.ToID != f.EntityID {
			continue
		}
		if len(f.Types) > 0 && !slices.Contains(f.Types, r.Type) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// PerceptionReader.

// ListPerceptions returns matching records ordered by RecordedAt, then append order.
func (m *Store) ListPerceptions(_ context.Context, f ports.PerceptionFilter) ([]entities.Perception, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []entities.Perception
	for _, p := range m.perceptions {
		if f.ObserverID != "" && p.ObserverID != f.ObserverID {
			continue
		}
		if f.TargetID != "" && p.TargetID != f.TargetID {
			continue
		}
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool { return entities.PerceptionLess(&out[i], &out[j]) })
	return out, nil
}

// SceneIndex.

// ListScenesByParticipants returns scenes containing every id.
func (m *Store) ListScenesByParticipants(_ context.Context, ids []entities.EntityID) ([]entities.Scene, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []entities.Scene
	for _, s := range m.scenes {
		all := true
		for _, id := range ids {
			if !slices.Contains(s.Participants, id) {
				all = false
				break
			}
		}
		if all {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OccurredAt.Equal(out[j].OccurredAt) {
			return out[i].OccurredAt.Before(out[j].OccurredAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// GetScene returns a scene or NOT_FOUND.
func (m *Store) GetScene(_ context.Context, id entities.EntityID) (*entities.Scene, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.scenes[id]
	if !ok {
		return nil, apperrors.NotFound("get scene", string(id))
	}
	return &s, nil
}

// FactReader.

// ListFacts returns facts linked to the entity or sharing a category.
func (m *Store) ListFacts(_ context.Context, f ports.FactFilter) ([]entities.UniverseFact, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []entities.UniverseFact
	for _, fact := range m.facts {
		if f.EntityID == "" && len(f.Categories) == 0 {
			out = append(out, fact)
			continue
		}
		linked := f.EntityID != "" && slices.Contains(fact.AppliesTo, f.EntityID)
		shared := false
		for _, c := range f.Categories {
			if slices.Contains(fact.Categories, c) {
				shared = true
				break
			}
		}
		if linked || shared {
			out = append(out, fact)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SnapshotStore.

// AppendSnapshot appends snap, rejecting out-of-order timestamps.
func (m *Store) AppendSnapshot(_ context.Context, snap *entities.ArcSnapshot) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	existing := m.snapshots[snap.EntityID]
	if n := len(existing); n > 0 && !snap.RecordedAt.After(existing[n-1].RecordedAt) {
		return apperrors.WithMetadata(apperrors.CodeOutOfOrderSnapshot, "snapshot is not after the latest one",
			map[string]string{"op": "append snapshot", "id": string(snap.EntityID)})
	}
	if snap.ID == "" {
		snap.ID = m.nextID("s")
	}
	m.snapshots[snap.EntityID] = append(existing, *snap)
	return nil
}

// ListSnapshots returns the entity's snapshots in ascending time order.
func (m *Store) ListSnapshots(_ context.Context, id entities.EntityID) ([]entities.ArcSnapshot, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.snapshots[id]), nil
}

// ProtectionReader.

// ListProtected returns protected ids in order.
func (m *Store) ListProtected(_ context.Context) ([]entities.EntityID, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []entities.EntityID
	for id, ok := range m.protected {
		if ok {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out, nil
}

// NarrativeWriter.

// SaveEntity stores an entity.
func (m *Store) SaveEntity(_ context.Context, e *entities.Entity) error {
	if m.Err != nil {
		return m.Err
	}
	m.AddEntities(*e)
	return nil
}

// AppendKnowledge appends a ledger record.
func (m *Store) AppendKnowledge(_ context.Context, r *entities.KnowledgeRecord) error {
	if m.Err != nil {
		return m.Err
	}
	m.AddKnowledge(*r)
	return nil
}

// SaveRelationship stores an edge.
func (m *Store) SaveRelationship(_ context.Context, r *entities.Relationship) error {
	if m.Err != nil {
		return m.Err
	}
	m.AddRelationships(*r)
	return nil
}

// AppendPerception appends a perception record.
func (m *Store) AppendPerception(_ context.Context, p *entities.Perception) error {
	if m.Err != nil {
		return m.Err
	}
	m.AddPerceptions(*p)
	return nil
}

// SaveScene stores a scene view.
func (m *Store) SaveScene(_ context.Context, s *entities.Scene) error {
	if m.Err != nil {
		return m.Err
	}
	m.AddScenes(*s)
	return nil
}

// SaveFact stores a universe fact.
func (m *Store) SaveFact(_ context.Context, f *entities.UniverseFact) error {
	if m.Err != nil {
		return m.Err
	}
	m.AddFacts(*f)
	return nil
}

// SetProtected toggles protection.
func (m *Store) SetProtected(_ context.Context, id entities.EntityID, protected bool) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if protected {
		m.protected[id] = true
	} else {
		delete(m.protected, id)
	}
	return nil
}

// DecisionStore.

// RecordDecision stores a decision.
func (m *Store) RecordDecision(_ context.Context, d *entities.Decision) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decisions = append(m.decisions, *d)
	return nil
}

// Decisions returns recorded decisions.
func (m *Store) Decisions() []entities.Decision {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.decisions)
}

// DeferImplications appends deferred implications.
func (m *Store) DeferImplications(_ context.Context, imps []entities.DeferredImplication) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deferred = append(m.deferred, imps...)
	return nil
}

// ListDeferred lists deferred implications.
func (m *Store) ListDeferred(_ context.Context, includeResolved bool) ([]entities.DeferredImplication, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []entities.DeferredImplication
	for _, d := range m.deferred {
		if includeResolved || !d.Resolved {
			out = append(out, d)
		}
	}
	return out, nil
}

// ResolveImplication marks matching implications resolved.
func (m *Store) ResolveImplication(_ context.Context, decisionID string, entityID entities.EntityID) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	found := false
	for i := range m.deferred {
		if m.deferred[i].DecisionID == decisionID && m.deferred[i].EntityID == entityID {
			m.deferred[i].Resolved = true
			found = true
		}
	}
	if !found {
		return apperrors.NotFound("resolve implication", decisionID)
	}
	return nil
}
