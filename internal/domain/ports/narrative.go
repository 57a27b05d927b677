// Package ports defines the interfaces the analytics services consume.
// Each service depends only on the narrow readers it needs.
package ports

import (
	"context"

	"github.com/ersonp/narra-core/internal/domain/entities"
)

// EntityReader looks up entities and their current embeddings.
type EntityReader interface {
	// GetEntity returns the entity or an error with code NOT_FOUND.
	GetEntity(ctx context.Context, id entities.EntityID) (*entities.Entity, error)

	// GetEmbedding returns the entity's current vector. It returns nil, nil when
	// the entity exists without an embedding and NOT_FOUND when it does not exist.
	GetEmbedding(ctx context.Context, id entities.EntityID) ([]float32, error)

	// ListEntitiesByType lists entities of the given types ordered by ID.
	// No types means every entity.
	ListEntitiesByType(ctx context.Context, types ...entities.EntityType) ([]entities.Entity, error)
}

// KnowledgeFilter narrows a knowledge listing. Zero fields match everything.
type KnowledgeFilter struct {
	CharacterIDs []entities.EntityID
	TargetID     entities.EntityID
	FactRef      string
}

// KnowledgeReader lists ledger entries.
type KnowledgeReader interface {
	// ListKnowledge returns matching records ordered by LearnedAt, then append order.
	ListKnowledge(ctx context.Context, filter KnowledgeFilter) ([]entities.KnowledgeRecord, error)
}

// RelationshipFilter narrows a relationship listing. EntityID matches either endpoint.
type RelationshipFilter struct {
	EntityID entities.EntityID
	Types    []entities.RelationType
}

// RelationshipReader lists relationship edges.
type RelationshipReader interface {
	// ListRelationships returns matching edges ordered by ID.
	ListRelationships(ctx context.Context, filter RelationshipFilter) ([]entities.Relationship, error)
}

// PerceptionFilter narrows a perception listing. Zero fields match everything.
type PerceptionFilter struct {
	ObserverID entities.EntityID
	TargetID   entities.EntityID
}

// PerceptionReader lists perception records.
type PerceptionReader interface {
	// ListPerceptions returns matching records ordered by RecordedAt, then append order.
	ListPerceptions(ctx context.Context, filter PerceptionFilter) ([]entities.Perception, error)
}

// SceneIndex answers scene participation queries.
type SceneIndex interface {
	// ListScenesByParticipants returns scenes in which every given id participates,
	// ordered by OccurredAt, then ID. No ids returns every scene.
	ListScenesByParticipants(ctx context.Context, ids []entities.EntityID) ([]entities.Scene, error)

	// GetScene returns the participation view of a scene or NOT_FOUND.
	GetScene(ctx context.Context, id entities.EntityID) (*entities.Scene, error)
}

// FactFilter narrows a universe fact listing. A fact matches when it is linked
// to EntityID or shares a category; a zero filter matches every fact.
type FactFilter struct {
	EntityID   entities.EntityID
	Categories []string
}

// FactReader lists universe facts.
type FactReader interface {
	ListFacts(ctx context.Context, filter FactFilter) ([]entities.UniverseFact, error)
}

// SnapshotStore holds the append-only arc timeline of each entity.
type SnapshotStore interface {
	// AppendSnapshot stores snap. It fails with OUT_OF_ORDER_SNAPSHOT when
	// snap.RecordedAt is not strictly after the entity's latest snapshot.
	AppendSnapshot(ctx context.Context, snap *entities.ArcSnapshot) error

	// ListSnapshots returns the entity's snapshots in ascending time order.
	ListSnapshots(ctx context.Context, entityID entities.EntityID) ([]entities.ArcSnapshot, error)
}

// ProtectionReader lists entities whose changes require explicit review.
type ProtectionReader interface {
	ListProtected(ctx context.Context) ([]entities.EntityID, error)
}

// NarrativeReader is the full read view of a world.
type NarrativeReader interface {
	EntityReader
	KnowledgeReader
	RelationshipReader
	PerceptionReader
	SceneIndex
	FactReader
	SnapshotStore
	ProtectionReader
}

// GraphReader is the view needed to walk references between entities.
type GraphReader interface {
	EntityReader
	RelationshipReader
	KnowledgeReader
	PerceptionReader
	SceneIndex
}

// NarrativeWriter is the mutation surface used by the loader and the CLI.
type NarrativeWriter interface {
	SaveEntity(ctx context.Context, entity *entities.Entity) error
	AppendKnowledge(ctx context.Context, record *entities.KnowledgeRecord) error
	SaveRelationship(ctx context.Context, rel *entities.Relationship) error
	AppendPerception(ctx context.Context, p *entities.Perception) error
	SaveScene(ctx context.Context, scene *entities.Scene) error
	SaveFact(ctx context.Context, fact *entities.UniverseFact) error
	AppendSnapshot(ctx context.Context, snap *entities.ArcSnapshot) error
	SetProtected(ctx context.Context, id entities.EntityID, protected bool) error
}

// DecisionStore persists authoring decisions and their deferred implications.
type DecisionStore interface {
	RecordDecision(ctx context.Context, d *entities.Decision) error
	DeferImplications(ctx context.Context, implications []entities.DeferredImplication) error
	ListDeferred(ctx context.Context, includeResolved bool) ([]entities.DeferredImplication, error)
	ResolveImplication(ctx context.Context, decisionID string, entityID entities.EntityID) error
}
