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

func newPerceptionFixture() (*PerceptionService, *mocks.Store) {
	store := mocks.NewStore().AddEntities(
		character("character:alice", "Alice", []float32{1, 0}),
		character("character:bob", "Bob", []float32{0, 1}),
		character("character:carol", "Carol", []float32{1, 1}),
		character("character:dave", "Dave", nil),
	)
	return NewPerceptionService(store, store, store), store
}

func TestPerceptionService_Gap(t *testing.T) {
	ctx := context.Background()

	t.Run("uses the latest perception", func(t *testing.T) {
		svc, store := newPerceptionFixture()
		store.AddPerceptions(
			entities.Perception{ID: "p1", ObserverID: "character:bob", TargetID: "character:alice", Embedding: []float32{0, 1}, RecordedAt: day(1)},
			entities.Perception{ID: "p2", ObserverID: "character:bob", TargetID: "character:alice", Embedding: []float32{1, 0}, RecordedAt: day(2)},
		)

		got, err := svc.Gap(ctx, "character:bob", "character:alice")
		require.NoError(t, err)
		assert.Equal(t, "p2", got.PerceptionID)
		assert.InDelta(t, 0.0, got.Gap, 1e-9)
		assert.Equal(t, "remarkably accurate", got.Assessment)
	})

	t.Run("distance from the current embedding", func(t *testing.T) {
		tests := []struct {
			name       string
			perception []float32
			wantGap    float64
			assessment string
		}{
			{"identical", []float32{1, 0}, 0, "remarkably accurate"},
			{"distance 0.8", unitAt(0.2), 0.8, "dramatically wrong"},
			{"distance 0.25", unitAt(0.75), 0.25, "notable blind spots"},
			{"orthogonal", []float32{0, 1}, 1, "dramatically wrong"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				svc, store := newPerceptionFixture()
				store.AddPerceptions(entities.Perception{
					ObserverID: "character:bob", TargetID: "character:alice", Embedding: tt.perception, RecordedAt: day(1),
				})

				got, err := svc.Gap(ctx, "character:bob", "character:alice")
				require.NoError(t, err)
				assert.InDelta(t, tt.wantGap, got.Gap, 1e-6)
				assert.Equal(t, tt.assessment, got.Assessment)
			})
		}
	})

	tests := []struct {
		name     string
		observer entities.EntityID
		target   entities.EntityID
		setup    func(*mocks.Store)
		wantCode apperrors.Code
	}{
		{
			name:     "unknown target",
			observer: "character:bob",
			target:   "character:zed",
			wantCode: apperrors.CodeNotFound,
		},
		{
			name:     "no perception",
			observer: "character:carol",
			target:   "character:alice",
			wantCode: apperrors.CodeMissingPerception,
		},
		{
			name:     "target without embedding",
			observer: "character:alice",
			target:   "character:dave",
			setup: func(s *mocks.Store) {
				s.AddPerceptions(entities.Perception{ObserverID: "character:alice", TargetID: "character:dave", Embedding: []float32{1, 0}, RecordedAt: day(1)})
			},
			wantCode: apperrors.CodeMissingEmbedding,
		},
		{
			name:     "perception without embedding",
			observer: "character:alice",
			target:   "character:bob",
			setup: func(s *mocks.Store) {
				s.AddPerceptions(entities.Perception{ObserverID: "character:alice", TargetID: "character:bob", Text: "kind", RecordedAt: day(1)})
			},
			wantCode: apperrors.CodeMissingEmbedding,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, store := newPerceptionFixture()
			if tt.setup != nil {
				tt.setup(store)
			}
			_, err := svc.Gap(ctx, tt.observer, tt.target)
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, apperrors.GetCode(err))
		})
	}
}

func TestPerceptionService_Matrix(t *testing.T) {
	ctx := context.Background()
	svc, store := newPerceptionFixture()
	store.AddPerceptions(
		entities.Perception{ObserverID: "character:bob", TargetID: "character:alice", Embedding: []float32{1, 0}, RecordedAt: day(1)},
		entities.Perception{ObserverID: "character:carol", TargetID: "character:alice", Embedding: []float32{1, 0}, RecordedAt: day(1)},
		entities.Perception{ObserverID: "character:dave", TargetID: "character:alice", Embedding: []float32{0, 1}, RecordedAt: day(1)},
	)

	t.Run("all observers", func(t *testing.T) {
		m, err := svc.Matrix(ctx, "character:alice", nil)
		require.NoError(t, err)
		require.Len(t, m.Pairs, 3)

		v, ok := m.Agreement("character:carol", "character:bob")
		require.True(t, ok)
		assert.InDelta(t, 1.0, v, 1e-9)

		v, ok = m.Agreement("character:bob", "character:dave")
		require.True(t, ok)
		assert.InDelta(t, 0.0, v, 1e-9)

		_, ok = m.Agreement("character:bob", "character:bob")
		assert.False(t, ok)

		require.Len(t, m.Observers, 3)
		assert.Equal(t, entities.EntityID("character:bob"), m.Observers[0].ObserverID)
		assert.Equal(t, entities.EntityID("character:carol"), m.Observers[0].AgreesWith)
		assert.Equal(t, entities.EntityID("character:dave"), m.Observers[0].DisagreesWith)
		assert.Equal(t, entities.EntityID("character:dave"), m.Observers[2].ObserverID)
	})

	t.Run("explicit observers with a missing one", func(t *testing.T) {
		m, err := svc.Matrix(ctx, "character:alice", []entities.EntityID{"character:bob", "character:alice", "character:bob"})
		require.NoError(t, err)
		assert.Empty(t, m.Pairs)
		assert.Equal(t, []entities.EntityID{"character:alice"}, m.Missing)
		require.Len(t, m.Observers, 1)
		assert.Empty(t, m.Observers[0].AgreesWith)
	})
}

func TestPerceptionService_Shift(t *testing.T) {
	ctx := context.Background()
	svc, store := newPerceptionFixture()
	store.AddSnapshots(
		entities.ArcSnapshot{EntityID: "character:alice", Embedding: []float32{0, 1}, RecordedAt: day(0)},
	)
	store.AddPerceptions(
		entities.Perception{ID: "p0", ObserverID: "character:bob", TargetID: "character:alice", Embedding: []float32{1, 0}, RecordedAt: day(-1)},
		entities.Perception{ID: "p1", ObserverID: "character:bob", TargetID: "character:alice", Embedding: []float32{1, 0}, RecordedAt: day(1)},
		entities.Perception{ID: "p2", ObserverID: "character:bob", TargetID: "character:alice", RecordedAt: day(2)},
		entities.Perception{ID: "p3", ObserverID: "character:bob", TargetID: "character:alice", Embedding: []float32{0, 1}, RecordedAt: day(3)},
	)

	got, err := svc.Shift(ctx, "character:bob", "character:alice")
	require.NoError(t, err)
	require.Len(t, got.Points, 3)
	assert.Equal(t, 1, got.Skipped)

	// p0 predates every snapshot and falls back to the current embedding.
	assert.False(t, got.Points[0].AgainstSnap)
	assert.InDelta(t, 0.0, got.Points[0].Gap, 1e-9)
	assert.True(t, got.Points[1].AgainstSnap)
	assert.InDelta(t, 1.0, got.Points[1].Gap, 1e-9)
	assert.InDelta(t, 0.0, got.Points[2].Gap, 1e-9)
	assert.Equal(t, ShiftStable, got.Trend)

	_, err = svc.Shift(ctx, "character:carol", "character:alice")
	assert.True(t, apperrors.IsCode(err, apperrors.CodeMissingPerception))
}

func TestGapAssessment(t *testing.T) {
	tests := []struct {
		gap  float64
		want string
	}{
		{0.01, "remarkably accurate"},
		{0.10, "fairly accurate"},
		{0.20, "notable blind spots"},
		{0.40, "significantly distorted"},
		{0.90, "dramatically wrong"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, gapAssessment(tt.gap))
	}
}
