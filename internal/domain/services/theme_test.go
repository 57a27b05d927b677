package services

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ersonp/narra-core/internal/domain/entities"
	apperrors "github.com/ersonp/narra-core/internal/domain/errors"
	"github.com/ersonp/narra-core/internal/domain/mocks"
)

func newThemeFixture(cfg ThemeConfig) *ThemeService {
	store := mocks.NewStore().AddEntities(
		character("character:a", "A", []float32{0, 0}),
		character("character:b", "B", []float32{0, 1}),
		character("character:c", "C", []float32{1, 0}),
		character("character:d", "D", []float32{10, 11}),
		character("character:e", "E", []float32{11, 10}),
		entities.Entity{ID: "location:x", Name: "X", Embedding: []float32{10, 10}},
		character("character:z", "Z", nil),
	)
	return NewThemeService(store, cfg)
}

func TestThemeService_Cluster(t *testing.T) {
	ctx := context.Background()

	t.Run("farthest seeding separates groups", func(t *testing.T) {
		svc := newThemeFixture(ThemeConfig{})
		report, err := svc.Cluster(ctx, ThemeOptions{K: 2})
		require.NoError(t, err)

		assert.True(t, report.Converged)
		assert.Equal(t, 2, report.RequestedK)
		assert.Equal(t, 2, report.K)
		assert.Empty(t, report.Note)
		assert.Equal(t, SeedingFarthest, report.Seeding)
		assert.Equal(t, []entities.EntityID{"character:z"}, report.WithoutEmbeddings)
		require.Len(t, report.Clusters, 2)

		first := report.Clusters[0]
		assert.Equal(t, 0, first.Index)
		assert.Equal(t, "A, B, C", first.Label)
		assert.Equal(t, 3, first.Count(entities.EntityCharacter))
		assert.Equal(t, entities.EntityID("character:a"), first.Members[0].EntityID)
		assert.Greater(t, first.Members[0].Centrality, first.Members[1].Centrality)

		second := report.Clusters[1]
		assert.Equal(t, 1, second.Count(entities.EntityLocation))
		assert.Equal(t, 3, second.Size())
	})

	t.Run("coinciding embeddings", func(t *testing.T) {
		store := mocks.NewStore().AddEntities(
			character("character:a", "A", []float32{1, 1}),
			character("character:b", "B", []float32{1, 1}),
			character("character:c", "C", []float32{1, 1}),
		)
		svc := NewThemeService(store, ThemeConfig{})

		report, err := svc.Cluster(ctx, ThemeOptions{K: 2})
		require.NoError(t, err)
		assert.Equal(t, 2, report.RequestedK)
		assert.Equal(t, 1, report.K)
		require.Len(t, report.Clusters, 1)
		assert.Equal(t, 3, report.Clusters[0].Size())
		assert.Contains(t, report.Note, "1 of 2 clusters came out empty")
	})

	t.Run("automatic k", func(t *testing.T) {
		svc := newThemeFixture(ThemeConfig{})
		report, err := svc.Cluster(ctx, ThemeOptions{})
		require.NoError(t, err)
		assert.Equal(t, 2, report.K)
	})

	t.Run("type scope", func(t *testing.T) {
		svc := newThemeFixture(ThemeConfig{})
		report, err := svc.Cluster(ctx, ThemeOptions{Types: []entities.EntityType{entities.EntityLocation}, K: 1})
		require.NoError(t, err)
		require.Len(t, report.Clusters, 1)
		assert.Equal(t, "X", report.Clusters[0].Label)
	})

	t.Run("random seeding is reproducible", func(t *testing.T) {
		svc := newThemeFixture(ThemeConfig{Seeding: SeedingRandom, Seed: 42})
		a, err := svc.Cluster(ctx, ThemeOptions{K: 2})
		require.NoError(t, err)
		b, err := svc.Cluster(ctx, ThemeOptions{K: 2})
		require.NoError(t, err)

		if diff := cmp.Diff(a, b, cmpopts.IgnoreUnexported(Cluster{})); diff != "" {
			t.Errorf("reports differ (-first +second):\n%s", diff)
		}
	})

	t.Run("errors", func(t *testing.T) {
		svc := newThemeFixture(ThemeConfig{})
		tests := []struct {
			name string
			opts ThemeOptions
			code apperrors.Code
		}{
			{"too many clusters", ThemeOptions{K: 7}, apperrors.CodeInsufficientEntities},
			{"negative k", ThemeOptions{K: -1}, apperrors.CodeInvalidParameter},
			{"negative iterations", ThemeOptions{Iterations: -1}, apperrors.CodeInvalidParameter},
			{"negative epsilon", ThemeOptions{Epsilon: -0.1}, apperrors.CodeInvalidParameter},
			{"unknown seeding", ThemeOptions{Seeding: "bogus"}, apperrors.CodeInvalidParameter},
			{"no entities", ThemeOptions{Types: []entities.EntityType{entities.EntityFaction}}, apperrors.CodeInsufficientEntities},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := svc.Cluster(ctx, tt.opts)
				assert.Equal(t, tt.code, apperrors.GetCode(err))
			})
		}
	})
}

func TestThematicGaps(t *testing.T) {
	svc := newThemeFixture(ThemeConfig{})
	report, err := svc.Cluster(context.Background(), ThemeOptions{K: 2})
	require.NoError(t, err)

	gaps := ThematicGaps(report, nil)
	require.Len(t, gaps, 1)
	assert.Equal(t, 0, gaps[0].ClusterIndex)
	assert.Equal(t, 1, gaps[0].Missing)

	gaps = ThematicGaps(report, []Expectation{{
		WhenType:    entities.EntityCharacter,
		MinWhen:     2,
		RequireType: entities.EntityLocation,
		MinRequired: 2,
	}})
	require.Len(t, gaps, 2)
	assert.Equal(t, 1, gaps[1].Have)
	assert.Equal(t, 1, gaps[1].Missing)
}
