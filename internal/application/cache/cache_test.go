package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ersonp/narra-core/internal/domain/entities"
	"github.com/ersonp/narra-core/internal/domain/mocks"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func counter(calls *atomic.Int32, value string) func(context.Context) (string, error) {
	return func(context.Context) (string, error) {
		calls.Add(1)
		return value, nil
	}
}

func TestGet_CachesUntilInvalidated(t *testing.T) {
	ctx := context.Background()
	reports := New(true)
	var calls atomic.Int32

	v, err := Get(ctx, reports, "irony", counter(&calls, "first"))
	require.NoError(t, err)
	assert.Equal(t, "first", v)

	v, err = Get(ctx, reports, "irony", counter(&calls, "second"))
	require.NoError(t, err)
	assert.Equal(t, "first", v)
	assert.EqualValues(t, 1, calls.Load())
	assert.Equal(t, 1, reports.Len())

	reports.Invalidate()
	assert.Equal(t, 0, reports.Len())
	assert.EqualValues(t, 1, reports.Generation())

	v, err = Get(ctx, reports, "irony", counter(&calls, "second"))
	require.NoError(t, err)
	assert.Equal(t, "second", v)
	assert.EqualValues(t, 2, calls.Load())
}

func TestGet_KeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	reports := New(true)
	var calls atomic.Int32

	a, err := Get(ctx, reports, "a", counter(&calls, "A"))
	require.NoError(t, err)
	b, err := Get(ctx, reports, "b", counter(&calls, "B"))
	require.NoError(t, err)

	assert.Equal(t, "A", a)
	assert.Equal(t, "B", b)
	assert.Equal(t, 2, reports.Len())
}

func TestGet_ErrorsAreNotCached(t *testing.T) {
	ctx := context.Background()
	reports := New(true)

	_, err := Get(ctx, reports, "k", func(context.Context) (int, error) { return 0, assert.AnError })
	require.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, 0, reports.Len())

	v, err := Get(ctx, reports, "k", func(context.Context) (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestGet_Disabled(t *testing.T) {
	ctx := context.Background()
	reports := New(false)
	var calls atomic.Int32

	for range 3 {
		_, err := Get(ctx, reports, "k", counter(&calls, "v"))
		require.NoError(t, err)
	}
	assert.EqualValues(t, 3, calls.Load())
	assert.Equal(t, 0, reports.Len())
}

func TestGet_NilCache(t *testing.T) {
	var calls atomic.Int32
	v, err := Get(context.Background(), nil, "k", counter(&calls, "v"))
	require.NoError(t, err)
	assert.Equal(t, "v", v)

	var reports *Reports
	reports.Invalidate()
}

func TestGet_SharesConcurrentComputation(t *testing.T) {
	ctx := context.Background()
	reports := New(true)
	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})

	slow := func(context.Context) (string, error) {
		if calls.Add(1) == 1 {
			close(started)
		}
		<-release
		return "report", nil
	}

	const callers = 8
	results := make([]string, callers)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], _ = Get(ctx, reports, "themes", slow)
	}()
	<-started

	for i := 1; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], _ = Get(ctx, reports, "themes", slow)
		}()
	}
	close(release)
	wg.Wait()

	// Late callers either joined the flight or hit the stored report.
	assert.EqualValues(t, 1, calls.Load())
	for _, r := range results {
		assert.Equal(t, "report", r)
	}
}

func TestGet_WriteDuringComputationIsNotStored(t *testing.T) {
	ctx := context.Background()
	reports := New(true)
	started := make(chan struct{})
	release := make(chan struct{})

	done := make(chan string)
	go func() {
		v, _ := Get(ctx, reports, "k", func(context.Context) (string, error) {
			close(started)
			<-release
			return "stale", nil
		})
		done <- v
	}()

	<-started
	reports.Invalidate()
	close(release)

	assert.Equal(t, "stale", <-done, "callers still get their result")
	assert.Equal(t, 0, reports.Len())

	v, err := Get(ctx, reports, "k", func(context.Context) (string, error) { return "fresh", nil })
	require.NoError(t, err)
	assert.Equal(t, "fresh", v)
}

func TestInvalidatingWriter(t *testing.T) {
	ctx := context.Background()
	store := mocks.NewStore()
	reports := New(true)
	writer := NewInvalidatingWriter(store, reports)

	writes := []struct {
		name  string
		write func() error
	}{
		{"entity", func() error { return writer.SaveEntity(ctx, &entities.Entity{ID: "character:alice"}) }},
		{"knowledge", func() error {
			return writer.AppendKnowledge(ctx, &entities.KnowledgeRecord{CharacterID: "character:alice", Fact: "x"})
		}},
		{"relationship", func() error {
			return writer.SaveRelationship(ctx, &entities.Relationship{FromID: "character:alice", ToID: "character:bob"})
		}},
		{"perception", func() error {
			return writer.AppendPerception(ctx, &entities.Perception{ObserverID: "character:bob", TargetID: "character:alice"})
		}},
		{"scene", func() error { return writer.SaveScene(ctx, &entities.Scene{ID: "scene:feast"}) }},
		{"fact", func() error { return writer.SaveFact(ctx, &entities.UniverseFact{Title: "No magic"}) }},
		{"snapshot", func() error {
			return writer.AppendSnapshot(ctx, &entities.ArcSnapshot{EntityID: "character:alice", Embedding: []float32{1}})
		}},
		{"protect", func() error { return writer.SetProtected(ctx, "character:alice", true) }},
	}
	for i, w := range writes {
		t.Run(w.name, func(t *testing.T) {
			_, err := Get(ctx, reports, "k", func(context.Context) (int, error) { return i, nil })
			require.NoError(t, err)
			require.Equal(t, 1, reports.Len())

			require.NoError(t, w.write())
			assert.Equal(t, 0, reports.Len())
		})
	}
}

func TestInvalidatingWriter_FailedWriteKeepsReports(t *testing.T) {
	ctx := context.Background()
	store := mocks.NewStore()
	store.Err = assert.AnError
	reports := New(true)
	writer := NewInvalidatingWriter(store, reports)

	_, err := Get(ctx, reports, "k", func(context.Context) (int, error) { return 1, nil })
	require.NoError(t, err)

	err = writer.SaveEntity(ctx, &entities.Entity{ID: "character:alice"})
	require.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, 1, reports.Len())
	assert.Zero(t, reports.Generation())
}

func TestInvalidatingSnapshots(t *testing.T) {
	ctx := context.Background()
	store := mocks.NewStore()
	reports := New(true)
	snaps := NewInvalidatingSnapshots(store, reports)

	_, err := Get(ctx, reports, "k", func(context.Context) (int, error) { return 1, nil })
	require.NoError(t, err)

	snap := &entities.ArcSnapshot{EntityID: "character:alice", Embedding: []float32{1, 0}}
	require.NoError(t, snaps.AppendSnapshot(ctx, snap))
	assert.Equal(t, 0, reports.Len())

	list, err := snaps.ListSnapshots(ctx, "character:alice")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
