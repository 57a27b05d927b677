package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ersonp/narra-core/internal/domain/entities"
	apperrors "github.com/ersonp/narra-core/internal/domain/errors"
	"github.com/ersonp/narra-core/internal/domain/mocks"
)

func newInfluenceFixture() (*InfluenceService, *mocks.Store) {
	store := mocks.NewStore().AddEntities(
		character("character:alice", "Alice", nil),
		character("character:bob", "Bob", nil),
		character("character:carol", "Carol", nil),
		character("character:dave", "Dave", nil),
		character("character:eve", "Eve", nil),
	)
	store.AddRelationships(
		entities.Relationship{FromID: "character:alice", ToID: "character:bob", Type: entities.RelationFamily, Bidirectional: true},
		entities.Relationship{FromID: "character:bob", ToID: "character:carol", Type: entities.RelationSocial},
		entities.Relationship{FromID: "character:alice", ToID: "character:carol", Type: entities.RelationAntagonistic},
		entities.Relationship{FromID: "character:carol", ToID: "character:dave", Type: entities.RelationProfessional},
	)
	return NewInfluenceService(store, store, store, InfluenceConfig{}), store
}

func reachByID(report *InfluenceReport) map[entities.EntityID]Reach {
	out := make(map[entities.EntityID]Reach, len(report.Reached))
	for _, r := range report.Reached {
		out[r.EntityID] = r
	}
	return out
}

func TestInfluenceService_Propagate(t *testing.T) {
	ctx := context.Background()

	t.Run("maximum likelihood paths", func(t *testing.T) {
		svc, _ := newInfluenceFixture()
		report, err := svc.Propagate(ctx, InfluenceOptions{Seed: "character:alice"})
		require.NoError(t, err)
		assert.Equal(t, DefaultInfluenceDepth, report.MaxDepth)

		require.Len(t, report.Reached, 3)
		assert.Equal(t, entities.EntityID("character:bob"), report.Reached[0].EntityID)
		assert.Equal(t, entities.EntityID("character:carol"), report.Reached[1].EntityID)
		assert.Equal(t, entities.EntityID("character:dave"), report.Reached[2].EntityID)

		byID := reachByID(report)
		assert.InDelta(t, 0.9, byID["character:bob"].Likelihood, 1e-9)

		carol := byID["character:carol"]
		assert.InDelta(t, 0.63, carol.Likelihood, 1e-9)
		assert.Equal(t, []entities.EntityID{"character:alice", "character:bob", "character:carol"}, carol.Path)
		assert.Equal(t, []entities.EntityID{"character:alice", "character:carol"}, carol.ShortestPath)

		dave := byID["character:dave"]
		assert.InDelta(t, 0.504, dave.Likelihood, 1e-9)
		assert.Equal(t, 3, dave.Hops)

		assert.Equal(t, []entities.EntityID{"character:eve"}, report.Unreached)
	})

	t.Run("depth bound", func(t *testing.T) {
		svc, _ := newInfluenceFixture()
		report, err := svc.Propagate(ctx, InfluenceOptions{Seed: "character:alice", MaxDepth: 2})
		require.NoError(t, err)
		dave := reachByID(report)["character:dave"]
		assert.InDelta(t, 0.24, dave.Likelihood, 1e-9)
		assert.Equal(t, 2, dave.Hops)
	})

	t.Run("likelihood threshold", func(t *testing.T) {
		svc, _ := newInfluenceFixture()
		report, err := svc.Propagate(ctx, InfluenceOptions{Seed: "character:alice", MinLikelihood: 0.7})
		require.NoError(t, err)
		require.Len(t, report.Reached, 1)
		assert.Equal(t, entities.EntityID("character:bob"), report.Reached[0].EntityID)
		assert.Equal(t, []entities.EntityID{"character:carol", "character:dave", "character:eve"}, report.Unreached)
	})

	t.Run("fact holders", func(t *testing.T) {
		svc, store := newInfluenceFixture()
		store.AddKnowledge(
			entities.KnowledgeRecord{CharacterID: "character:bob", FactRef: "heir", Certainty: entities.CertaintyKnows, LearnedAt: day(1)},
		)

		_, err := svc.Propagate(ctx, InfluenceOptions{Seed: "character:alice", FactRef: "heir"})
		assert.True(t, apperrors.IsCode(err, apperrors.CodeInvalidParameter))

		store.AddKnowledge(
			entities.KnowledgeRecord{CharacterID: "character:alice", FactRef: "heir", Certainty: entities.CertaintyKnows, LearnedAt: day(2)},
		)
		report, err := svc.Propagate(ctx, InfluenceOptions{Seed: "character:alice", FactRef: "heir"})
		require.NoError(t, err)
		byID := reachByID(report)
		assert.True(t, byID["character:bob"].AlreadyKnows)
		assert.False(t, byID["character:carol"].AlreadyKnows)
	})

	t.Run("seed must hold the fact", func(t *testing.T) {
		tests := []struct {
			name    string
			stances []entities.Certainty
			wantErr bool
		}{
			{"knows", []entities.Certainty{entities.CertaintyKnows}, false},
			{"denies", []entities.Certainty{entities.CertaintyDenies}, true},
			{"believes wrongly", []entities.Certainty{entities.CertaintyBelievesWrongly}, true},
			{"suspects", []entities.Certainty{entities.CertaintySuspects}, true},
			{"forgot after knowing", []entities.Certainty{entities.CertaintyKnows, entities.CertaintyForgotten}, true},
			{"learned after denying", []entities.Certainty{entities.CertaintyDenies, entities.CertaintyKnows}, false},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				svc, store := newInfluenceFixture()
				for i, c := range tt.stances {
					store.AddKnowledge(entities.KnowledgeRecord{
						CharacterID: "character:alice", FactRef: "heir", Fact: "Bob is the heir",
						Certainty: c, LearnedAt: day(i + 1),
					})
				}

				report, err := svc.Propagate(ctx, InfluenceOptions{Seed: "character:alice", FactRef: "heir"})
				if tt.wantErr {
					assert.True(t, apperrors.IsCode(err, apperrors.CodeInvalidParameter), "got %v", err)
					return
				}
				require.NoError(t, err)
				assert.Equal(t, "ref:heir", report.FactKey)
				assert.Len(t, report.Reached, 3)
			})
		}
	})

	t.Run("fact named by key", func(t *testing.T) {
		svc, store := newInfluenceFixture()
		store.AddKnowledge(
			entities.KnowledgeRecord{CharacterID: "character:alice", TargetID: "item:ring", Fact: "The ring is cursed.", Certainty: entities.CertaintyKnows, LearnedAt: day(1)},
			entities.KnowledgeRecord{CharacterID: "character:bob", TargetID: "item:ring", Fact: "the ring is cursed", Certainty: entities.CertaintyKnows, LearnedAt: day(2)},
		)
		key := "item:ring|the ring is cursed"

		report, err := svc.Propagate(ctx, InfluenceOptions{Seed: "character:alice", FactKey: key})
		require.NoError(t, err)
		assert.Equal(t, key, report.FactKey)
		byID := reachByID(report)
		assert.True(t, byID["character:bob"].AlreadyKnows)
		assert.False(t, byID["character:carol"].AlreadyKnows)

		_, err = svc.Propagate(ctx, InfluenceOptions{Seed: "character:carol", FactKey: key})
		assert.True(t, apperrors.IsCode(err, apperrors.CodeInvalidParameter))

		_, err = svc.Propagate(ctx, InfluenceOptions{Seed: "character:alice", FactRef: "heir", FactKey: key})
		assert.True(t, apperrors.IsCode(err, apperrors.CodeInvalidParameter))
	})

	t.Run("invalid parameters", func(t *testing.T) {
		svc, _ := newInfluenceFixture()
		tests := []InfluenceOptions{
			{Seed: "character:alice", MaxDepth: -1},
			{Seed: "character:alice", MaxDepth: MaxInfluenceDepth + 1},
			{Seed: "character:alice", MinLikelihood: 1.5},
		}
		for _, opts := range tests {
			_, err := svc.Propagate(ctx, opts)
			assert.True(t, apperrors.IsCode(err, apperrors.CodeInvalidParameter), "%+v", opts)
		}

		_, err := svc.Propagate(ctx, InfluenceOptions{Seed: "character:nobody"})
		assert.True(t, apperrors.IsCode(err, apperrors.CodeNotFound))
	})

	t.Run("custom weights", func(t *testing.T) {
		store := mocks.NewStore().AddEntities(
			character("character:alice", "Alice", nil),
			character("character:bob", "Bob", nil),
		)
		store.AddRelationships(entities.Relationship{FromID: "character:alice", ToID: "character:bob", Type: entities.RelationSocial})
		svc := NewInfluenceService(store, store, store, InfluenceConfig{
			Weights: map[entities.RelationType]float64{entities.RelationSocial: 0.5},
		})

		report, err := svc.Propagate(ctx, InfluenceOptions{Seed: "character:alice"})
		require.NoError(t, err)
		require.Len(t, report.Reached, 1)
		assert.InDelta(t, 0.5, report.Reached[0].Likelihood, 1e-9)
	})
}

func TestInfluenceService_PathLikelihood(t *testing.T) {
	weights := map[entities.RelationType]float64{
		entities.RelationSocial: 0.5,
		entities.RelationCustom: 0.6,
	}
	tests := []struct {
		name string
		rels []entities.Relationship
		want float64
	}{
		{
			name: "single edge",
			rels: []entities.Relationship{
				{FromID: "character:seed", ToID: "character:target", Type: entities.RelationAntagonistic},
			},
			want: 0.3,
		},
		{
			name: "two equal paths do not combine",
			rels: []entities.Relationship{
				{FromID: "character:seed", ToID: "character:target", Type: entities.RelationAntagonistic},
				{FromID: "character:seed", ToID: "character:middle", Type: entities.RelationCustom},
				{FromID: "character:middle", ToID: "character:target", Type: entities.RelationSocial},
			},
			want: 0.3,
		},
		{
			name: "longer path wins when more likely",
			rels: []entities.Relationship{
				{FromID: "character:seed", ToID: "character:target", Type: entities.RelationAntagonistic},
				{FromID: "character:seed", ToID: "character:middle", Type: entities.RelationFamily},
				{FromID: "character:middle", ToID: "character:target", Type: entities.RelationProfessional},
			},
			want: 0.72,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := mocks.NewStore().AddEntities(
				character("character:seed", "Seed", nil),
				character("character:middle", "Middle", nil),
				character("character:target", "Target", nil),
			)
			store.AddRelationships(tt.rels...)
			svc := NewInfluenceService(store, store, store, InfluenceConfig{Weights: weights})

			report, err := svc.Propagate(context.Background(), InfluenceOptions{Seed: "character:seed"})
			require.NoError(t, err)
			target, ok := reachByID(report)["character:target"]
			require.True(t, ok)
			assert.InDelta(t, tt.want, target.Likelihood, 1e-9)
		})
	}
}
