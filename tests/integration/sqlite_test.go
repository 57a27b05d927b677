package integration

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ersonp/narra-core/internal/domain/entities"
	apperrors "github.com/ersonp/narra-core/internal/domain/errors"
	"github.com/ersonp/narra-core/internal/domain/services"
	"github.com/ersonp/narra-core/internal/infrastructure/config"
	"github.com/ersonp/narra-core/internal/infrastructure/relationaldb/sqlite"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// openStore creates a file-backed narrative store in a temp directory.
func openStore(t *testing.T) *sqlite.Repository {
	t.Helper()
	repo, err := sqlite.NewRepository(config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "narra.db")})
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	require.NoError(t, repo.EnsureSchema(context.Background()))
	return repo
}

func TestSQLiteIntegration_FileDatabase(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "narra.db")

	repo, err := sqlite.NewRepository(config.SQLiteConfig{Path: dbPath})
	require.NoError(t, err)
	require.NoError(t, repo.EnsureSchema(ctx))

	_, err = os.Stat(dbPath)
	require.NoError(t, err, "database file should exist")

	require.NoError(t, repo.SaveEntity(ctx, &entities.Entity{ID: "character:alice", Name: "Alice", Embedding: []float32{1, 0}}))
	require.NoError(t, repo.AppendKnowledge(ctx, &entities.KnowledgeRecord{
		CharacterID: "character:alice", TargetID: "location:vault", Fact: "The vault is empty",
		Certainty: entities.CertaintyKnows, Method: entities.MethodWitnessed, LearnedAt: t0,
	}))
	require.NoError(t, repo.AppendSnapshot(ctx, &entities.ArcSnapshot{EntityID: "character:alice", Embedding: []float32{1, 0}, RecordedAt: t0}))
	require.NoError(t, repo.Close())

	// Reopen and verify persistence
	repo, err = sqlite.NewRepository(config.SQLiteConfig{Path: dbPath})
	require.NoError(t, err)
	defer repo.Close()
	require.NoError(t, repo.EnsureSchema(ctx))

	alice, err := repo.GetEntity(ctx, "character:alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice", alice.Name)
	assert.Equal(t, []float32{1, 0}, alice.Embedding)

	counts, err := repo.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts["entities"])
	assert.Equal(t, 1, counts["knowledge"])
	assert.Equal(t, 1, counts["snapshots"])

	snaps, err := repo.ListSnapshots(ctx, "character:alice")
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.True(t, snaps[0].RecordedAt.Equal(t0))
}

func TestSQLiteIntegration_ArcTracking(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	require.NoError(t, store.SaveEntity(ctx, &entities.Entity{ID: "character:alice", Name: "Alice", Embedding: []float32{1, 0}}))

	arc := services.NewArcService(store, store, services.ArcConfig{})
	_, err := arc.RecordSnapshot(ctx, "character:alice", []float32{1, 0}, t0, "")
	require.NoError(t, err)
	_, err = arc.RecordSnapshot(ctx, "character:alice", []float32{0, 1}, t0.Add(24*time.Hour), "")
	require.NoError(t, err)

	_, err = arc.RecordSnapshot(ctx, "character:alice", []float32{1, 1}, t0.Add(time.Hour), "")
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeOutOfOrderSnapshot))

	drift, err := arc.Drift(ctx, "character:alice")
	require.NoError(t, err)
	assert.Equal(t, 2, drift.Snapshots)
	assert.InDelta(t, 1.0, drift.Drift, 1e-6)
}

func TestSQLiteIntegration_IronyOverStore(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	for _, e := range []entities.Entity{
		{ID: "character:alice", Name: "Alice"},
		{ID: "character:bob", Name: "Bob"},
		{ID: "location:vault", Name: "Vault"},
	} {
		require.NoError(t, store.SaveEntity(ctx, &e))
	}
	require.NoError(t, store.AppendKnowledge(ctx, &entities.KnowledgeRecord{
		CharacterID: "character:alice", TargetID: "location:vault", FactRef: "vault-empty",
		Fact: "The vault is empty", Certainty: entities.CertaintyKnows, Method: entities.MethodWitnessed, LearnedAt: t0,
	}))

	irony := services.NewIronyService(store, store, store, store)
	report, err := irony.Detect(ctx, services.IronyOptions{})
	require.NoError(t, err)

	require.Len(t, report.Asymmetries, 1)
	got := report.Asymmetries[0]
	assert.Equal(t, entities.EntityID("character:alice"), got.InformedID)
	assert.Equal(t, entities.EntityID("character:bob"), got.UninformedID)
}
