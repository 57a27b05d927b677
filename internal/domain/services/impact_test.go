package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ersonp/narra-core/internal/domain/entities"
	apperrors "github.com/ersonp/narra-core/internal/domain/errors"
	"github.com/ersonp/narra-core/internal/domain/mocks"
)

func newImpactFixture() (*ImpactService, *mocks.Store) {
	store := mocks.NewStore().AddEntities(
		character("character:alice", "Alice", nil),
		character("character:bob", "Bob", nil),
		character("character:carol", "Carol", nil),
		character("character:dave", "Dave", nil),
		character("character:eve", "Eve", nil),
		entities.Entity{ID: "location:tower", Name: "Tower"},
	)
	store.AddRelationships(
		entities.Relationship{FromID: "character:alice", ToID: "character:bob", Type: entities.RelationSocial},
		entities.Relationship{FromID: "character:carol", ToID: "character:bob", Type: entities.RelationFamily},
	)
	store.AddKnowledge(entities.KnowledgeRecord{CharacterID: "character:carol", TargetID: "character:dave", Certainty: entities.CertaintyKnows, LearnedAt: day(1)})
	store.AddPerceptions(entities.Perception{ObserverID: "character:dave", TargetID: "character:eve", RecordedAt: day(1)})
	return NewImpactService(store, store, 0), store
}

func TestImpactService_Analyze(t *testing.T) {
	ctx := context.Background()

	t.Run("severity by distance and protection", func(t *testing.T) {
		svc, store := newImpactFixture()
		store.Protect("character:alice", "character:carol")

		report, err := svc.Analyze(ctx, "character:alice", "rename", 0)
		require.NoError(t, err)
		assert.Equal(t, DefaultImpactDepth, report.MaxDepth)
		assert.True(t, report.Protected)
		assert.True(t, report.HasProtectedImpact)
		assert.Len(t, report.Warnings, 2)

		require.Len(t, report.Affected, 3)
		carol, bob, dave := report.Affected[0], report.Affected[1], report.Affected[2]

		assert.Equal(t, entities.EntityID("character:carol"), carol.EntityID)
		assert.Equal(t, ImpactCritical, carol.Severity)
		assert.Equal(t, 2, carol.Distance)
		assert.False(t, carol.Direct)

		assert.Equal(t, entities.EntityID("character:bob"), bob.EntityID)
		assert.Equal(t, ImpactHigh, bob.Severity)
		assert.True(t, bob.Direct)

		assert.Equal(t, entities.EntityID("character:dave"), dave.EntityID)
		assert.Equal(t, ImpactLow, dave.Severity)
		assert.Equal(t, entities.EntityID("character:carol"), dave.Via)

		assert.Equal(t, 1, report.Counts[ImpactCritical])
	})

	t.Run("deeper walk", func(t *testing.T) {
		svc, _ := newImpactFixture()
		report, err := svc.Analyze(ctx, "character:alice", "", 4)
		require.NoError(t, err)
		assert.Len(t, report.Affected, 4)
		assert.False(t, report.HasProtectedImpact)
		assert.Empty(t, report.Warnings)
	})

	t.Run("isolated entity", func(t *testing.T) {
		svc, _ := newImpactFixture()
		report, err := svc.Analyze(ctx, "location:tower", "", 2)
		require.NoError(t, err)
		assert.Empty(t, report.Affected)
	})

	t.Run("errors", func(t *testing.T) {
		svc, _ := newImpactFixture()
		_, err := svc.Analyze(ctx, "character:nobody", "", 1)
		assert.True(t, apperrors.IsCode(err, apperrors.CodeNotFound))
		_, err = svc.Analyze(ctx, "character:alice", "", MaxImpactDepth+1)
		assert.True(t, apperrors.IsCode(err, apperrors.CodeInvalidParameter))
	})
}

func TestImpactSeverity(t *testing.T) {
	tests := []struct {
		distance  int
		protected bool
		want      ImpactSeverity
	}{
		{1, false, ImpactHigh},
		{2, false, ImpactMedium},
		{3, false, ImpactLow},
		{7, false, ImpactLow},
		{3, true, ImpactCritical},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, impactSeverity(tt.distance, tt.protected))
	}
}

func TestDecisionLog(t *testing.T) {
	ctx := context.Background()
	orig := timeNow
	t.Cleanup(func() { timeNow = orig })
	timeNow = func() time.Time { return day(0) }

	store := mocks.NewStore()
	log := NewDecisionLog(store)

	d, err := log.Record(ctx, "Bob is the heir", "raises the stakes",
		[]entities.EntityID{"character:bob", "character:alice", "character:bob"}, false)
	require.NoError(t, err)
	assert.NotEmpty(t, d.ID)
	assert.Equal(t, []entities.EntityID{"character:alice", "character:bob"}, d.AffectedEntities)
	assert.Equal(t, day(0), d.CreatedAt)
	require.Len(t, store.Decisions(), 1)

	_, err = log.Record(ctx, "  ", "", nil, true)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeInvalidParameter))

	deferred, err := log.Defer(ctx, d.ID, map[entities.EntityID]string{
		"character:bob":   "update backstory",
		"character:alice": "revisit motive",
	})
	require.NoError(t, err)
	require.Len(t, deferred, 2)
	assert.Equal(t, entities.EntityID("character:alice"), deferred[0].EntityID)

	_, err = log.Defer(ctx, d.ID, nil)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeEmptyInput))

	require.NoError(t, log.Resolve(ctx, d.ID, "character:alice"))

	pending, err := log.Pending(ctx, false)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, entities.EntityID("character:bob"), pending[0].EntityID)

	all, err := log.Pending(ctx, true)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	err = log.Resolve(ctx, "missing", "character:bob")
	assert.True(t, apperrors.IsCode(err, apperrors.CodeNotFound))
}
