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

func newArcFixture() (*ArcService, *mocks.Store) {
	store := mocks.NewStore().AddEntities(
		character("character:alice", "Alice", []float32{1, 0}),
		character("character:bob", "Bob", []float32{0, 1}),
		character("character:carol", "Carol", nil),
	)
	return NewArcService(store, store, ArcConfig{}), store
}

func TestArcService_RecordSnapshot(t *testing.T) {
	ctx := context.Background()

	t.Run("rejects out of order timestamps without changing state", func(t *testing.T) {
		svc, store := newArcFixture()

		_, err := svc.RecordSnapshot(ctx, "character:alice", []float32{1, 0}, day(5), "")
		require.NoError(t, err)

		_, err = svc.RecordSnapshot(ctx, "character:alice", []float32{0, 1}, day(3), "")
		require.Error(t, err)
		assert.True(t, apperrors.IsCode(err, apperrors.CodeOutOfOrderSnapshot))

		_, err = svc.RecordSnapshot(ctx, "character:alice", []float32{0, 1}, day(5), "")
		assert.True(t, apperrors.IsCode(err, apperrors.CodeOutOfOrderSnapshot))

		snaps, err := store.ListSnapshots(ctx, "character:alice")
		require.NoError(t, err)
		require.Len(t, snaps, 1)
		assert.Equal(t, day(5), snaps[0].RecordedAt)
	})

	t.Run("rejects empty embedding", func(t *testing.T) {
		svc, _ := newArcFixture()
		_, err := svc.RecordSnapshot(ctx, "character:alice", nil, day(1), "")
		assert.True(t, apperrors.IsCode(err, apperrors.CodeMissingEmbedding))
	})

	t.Run("rejects dimension change", func(t *testing.T) {
		svc, _ := newArcFixture()
		_, err := svc.RecordSnapshot(ctx, "character:alice", []float32{1, 0}, day(1), "")
		require.NoError(t, err)
		_, err = svc.RecordSnapshot(ctx, "character:alice", []float32{1, 0, 0}, day(2), "")
		assert.True(t, apperrors.IsCode(err, apperrors.CodeDimensionMismatch))
	})

	t.Run("unknown entity", func(t *testing.T) {
		svc, _ := newArcFixture()
		_, err := svc.RecordSnapshot(ctx, "character:nobody", []float32{1, 0}, day(1), "")
		assert.True(t, apperrors.IsCode(err, apperrors.CodeNotFound))
	})
}

func TestArcService_Drift(t *testing.T) {
	ctx := context.Background()

	t.Run("single snapshot has zero drift", func(t *testing.T) {
		svc, store := newArcFixture()
		store.AddSnapshots(entities.ArcSnapshot{EntityID: "character:alice", Embedding: []float32{1, 0}, RecordedAt: day(1)})

		got, err := svc.Drift(ctx, "character:alice")
		require.NoError(t, err)
		assert.Zero(t, got.Drift)
		assert.True(t, got.InsufficientHistory)
		assert.Equal(t, 1, got.Snapshots)
	})

	t.Run("sums consecutive distances", func(t *testing.T) {
		svc, store := newArcFixture()
		store.AddSnapshots(
			entities.ArcSnapshot{EntityID: "character:alice", Embedding: []float32{1, 0}, RecordedAt: day(1)},
			entities.ArcSnapshot{EntityID: "character:alice", Embedding: []float32{0, 1}, RecordedAt: day(2)},
			entities.ArcSnapshot{EntityID: "character:alice", Embedding: []float32{1, 0}, RecordedAt: day(3)},
		)

		got, err := svc.Drift(ctx, "character:alice")
		require.NoError(t, err)
		assert.InDelta(t, 2.0, got.Drift, 1e-9)
		assert.InDelta(t, 0.0, got.Displacement, 1e-9)
		assert.Equal(t, "essentially unchanged", got.Assessment)
		assert.False(t, got.InsufficientHistory)
	})
}

func TestArcService_RankByDrift(t *testing.T) {
	ctx := context.Background()
	svc, store := newArcFixture()
	store.AddSnapshots(
		entities.ArcSnapshot{EntityID: "character:alice", Embedding: []float32{1, 0}, RecordedAt: day(1)},
		entities.ArcSnapshot{EntityID: "character:alice", Embedding: []float32{0, 1}, RecordedAt: day(2)},
		entities.ArcSnapshot{EntityID: "character:bob", Embedding: []float32{1, 0}, RecordedAt: day(1)},
		entities.ArcSnapshot{EntityID: "character:bob", Embedding: []float32{0, 1}, RecordedAt: day(4)},
		entities.ArcSnapshot{EntityID: "character:carol", Embedding: []float32{1, 0}, RecordedAt: day(1)},
	)

	got, err := svc.RankByDrift(ctx, []entities.EntityType{entities.EntityCharacter}, 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	// alice and bob tie on drift; bob's latest snapshot is newer.
	assert.Equal(t, entities.EntityID("character:bob"), got[0].EntityID)
	assert.Equal(t, entities.EntityID("character:alice"), got[1].EntityID)
	assert.Equal(t, entities.EntityID("character:carol"), got[2].EntityID)

	again, err := svc.RankByDrift(ctx, []entities.EntityType{entities.EntityCharacter}, 0)
	require.NoError(t, err)
	assert.Equal(t, got, again)

	limited, err := svc.RankByDrift(ctx, nil, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	_, err = svc.RankByDrift(ctx, nil, -1)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeInvalidParameter))
}

func TestArcService_History(t *testing.T) {
	ctx := context.Background()
	svc, store := newArcFixture()
	store.AddSnapshots(
		entities.ArcSnapshot{EntityID: "character:alice", Embedding: []float32{1, 0}, RecordedAt: day(1)},
		entities.ArcSnapshot{EntityID: "character:alice", Embedding: []float32{0, 1}, RecordedAt: day(2)},
		entities.ArcSnapshot{EntityID: "character:alice", Embedding: []float32{0, 1}, RecordedAt: day(3)},
	)

	h, err := svc.History(ctx, "character:alice")
	require.NoError(t, err)
	assert.Equal(t, 3, h.Len())

	var deltas []float64
	for _, entry := range h.All() {
		deltas = append(deltas, entry.Delta)
	}
	assert.InDeltaSlice(t, []float64{0, 1, 0}, deltas, 1e-9)

	// The sequence restarts and can be abandoned early.
	count := 0
	for i := range h.All() {
		count++
		if i == 0 {
			break
		}
	}
	assert.Equal(t, 1, count)
}

func TestArcService_Compare(t *testing.T) {
	ctx := context.Background()

	t.Run("convergent over recent window", func(t *testing.T) {
		svc, store := newArcFixture()
		for i, c := range []float64{0.5, 0.6, 0.7} {
			store.AddSnapshots(
				entities.ArcSnapshot{EntityID: "character:alice", Embedding: []float32{1, 0}, RecordedAt: day(i)},
				entities.ArcSnapshot{EntityID: "character:bob", Embedding: unitAt(c), RecordedAt: day(i)},
			)
		}

		w, err := ParseWindow("recent:3")
		require.NoError(t, err)
		got, err := svc.Compare(ctx, "character:alice", "character:bob", w)
		require.NoError(t, err)

		require.Len(t, got.Distances, 3)
		assert.InDelta(t, 0.5, got.Distances[0].Distance, 1e-6)
		assert.InDelta(t, 0.3, got.Distances[2].Distance, 1e-6)
		assert.InDelta(t, -0.1, got.Trend, 1e-6)
		assert.Equal(t, Convergent, got.Classification)
		assert.Equal(t, "recent:3", got.Window)
	})

	t.Run("divergent over range window", func(t *testing.T) {
		svc, store := newArcFixture()
		store.AddSnapshots(
			entities.ArcSnapshot{EntityID: "character:bob", Embedding: []float32{1, 0}, RecordedAt: day(0)},
			entities.ArcSnapshot{EntityID: "character:alice", Embedding: []float32{1, 0}, RecordedAt: day(1)},
			entities.ArcSnapshot{EntityID: "character:alice", Embedding: []float32{1, 0}, RecordedAt: day(3)},
			entities.ArcSnapshot{EntityID: "character:bob", Embedding: []float32{0, 1}, RecordedAt: day(2)},
		)

		w := Window{From: day(0), To: day(10)}
		got, err := svc.Compare(ctx, "character:alice", "character:bob", w)
		require.NoError(t, err)
		require.Len(t, got.Distances, 2)
		assert.Equal(t, day(0), got.Distances[0].BAt)
		assert.Equal(t, day(2), got.Distances[1].BAt)
		assert.Equal(t, Divergent, got.Classification)
	})

	t.Run("insufficient history", func(t *testing.T) {
		svc, store := newArcFixture()
		store.AddSnapshots(
			entities.ArcSnapshot{EntityID: "character:alice", Embedding: []float32{1, 0}, RecordedAt: day(0)},
			entities.ArcSnapshot{EntityID: "character:bob", Embedding: []float32{1, 0}, RecordedAt: day(0)},
		)
		_, err := svc.Compare(ctx, "character:alice", "character:bob", Window{Recent: 5})
		assert.True(t, apperrors.IsCode(err, apperrors.CodeInsufficientHistory))
	})
}

func TestParseWindow(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Window
		wantErr bool
	}{
		{name: "recent", input: "recent:4", want: Window{Recent: 4}},
		{
			name:  "range",
			input: "range:2024-01-01T00:00:00Z..2024-02-01T00:00:00Z",
			want: Window{
				From: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
				To:   time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
			},
		},
		{name: "recent too small", input: "recent:1", wantErr: true},
		{name: "missing kind", input: "4", wantErr: true},
		{name: "reversed range", input: "range:2024-02-01T00:00:00Z..2024-01-01T00:00:00Z", wantErr: true},
		{name: "unknown kind", input: "last:3", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseWindow(tt.input)
			if tt.wantErr {
				assert.True(t, apperrors.IsCode(err, apperrors.CodeInvalidParameter))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestArcService_Moment(t *testing.T) {
	ctx := context.Background()
	svc, store := newArcFixture()
	battle := day(5)
	store.AddEntities(
		entities.Entity{ID: "event:battle", Name: "Battle", OccurredAt: &battle},
		entities.Entity{ID: "event:prologue", Name: "Prologue", OccurredAt: ptrTime(day(-10))},
		entities.Entity{ID: "event:wedding", Name: "Wedding", OccurredAt: ptrTime(day(20))},
	)
	store.AddSnapshots(
		entities.ArcSnapshot{ID: "s1", EntityID: "character:alice", Embedding: []float32{1, 0}, RecordedAt: day(1)},
		entities.ArcSnapshot{ID: "s2", EntityID: "character:alice", Embedding: []float32{0, 1}, RecordedAt: day(4)},
		entities.ArcSnapshot{ID: "s3", EntityID: "character:alice", Embedding: []float32{1, 1}, RecordedAt: day(9), EventID: "event:wedding"},
	)

	got, err := svc.Moment(ctx, "character:alice", "event:battle")
	require.NoError(t, err)
	assert.Equal(t, "s2", got.ID)

	got, err = svc.Moment(ctx, "character:alice", "event:wedding")
	require.NoError(t, err)
	assert.Equal(t, "s3", got.ID)

	_, err = svc.Moment(ctx, "character:alice", "event:prologue")
	assert.True(t, apperrors.IsCode(err, apperrors.CodeNoSnapshotBeforeEvent))
}

func TestArcService_CaptureBaseline(t *testing.T) {
	ctx := context.Background()
	orig := timeNow
	t.Cleanup(func() { timeNow = orig })
	timeNow = func() time.Time { return day(30) }

	svc, store := newArcFixture()
	store.AddSnapshots(entities.ArcSnapshot{EntityID: "character:bob", Embedding: []float32{0, 1}, RecordedAt: day(1)})

	got, err := svc.CaptureBaseline(ctx, []entities.EntityType{entities.EntityCharacter})
	require.NoError(t, err)
	assert.Equal(t, []entities.EntityID{"character:alice"}, got.Captured)
	assert.Equal(t, 1, got.Unchanged)
	assert.Equal(t, 1, got.NoEmbedding)

	snaps, err := store.ListSnapshots(ctx, "character:alice")
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, day(30), snaps[0].RecordedAt)
}

func ptrTime(t time.Time) *time.Time {
	return &t
}
