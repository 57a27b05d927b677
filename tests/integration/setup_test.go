package integration

import (
	"context"
	"os"
	"testing"

	"github.com/ersonp/narra-core/internal/infrastructure/config"
	"github.com/ersonp/narra-core/internal/infrastructure/vectordb/qdrant"
)

const (
	testQdrantHost = "localhost"
	testQdrantPort = 6334
	testCollection = "narra_integration_test"
	testVectorSize = 4
)

var testIndex *qdrant.Repository

func TestMain(m *testing.M) {
	// Skip if INTEGRATION_TEST is not set
	if os.Getenv("INTEGRATION_TEST") != "1" {
		os.Exit(0)
	}

	cfg := config.QdrantConfig{
		Enabled: true,
		Host:    testQdrantHost,
		Port:    testQdrantPort,
		APIKey:  os.Getenv("QDRANT_API_KEY"),
	}

	var err error
	testIndex, err = qdrant.NewRepository(cfg, testCollection)
	if err != nil {
		panic("failed to create repository: " + err.Error())
	}

	// Start from a clean collection
	ctx := context.Background()
	_ = testIndex.DeleteCollection(ctx) // Ignore error if collection doesn't exist
	if err := testIndex.EnsureCollection(ctx, testVectorSize); err != nil {
		panic("failed to create collection: " + err.Error())
	}

	code := m.Run()

	_ = testIndex.DeleteCollection(ctx)
	testIndex.Close()

	os.Exit(code)
}

// resetCollection recreates the collection between tests.
func resetCollection(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	if err := testIndex.DeleteCollection(ctx); err != nil {
		t.Fatalf("failed to delete collection: %v", err)
	}
	if err := testIndex.EnsureCollection(ctx, testVectorSize); err != nil {
		t.Fatalf("failed to recreate collection: %v", err)
	}
}
