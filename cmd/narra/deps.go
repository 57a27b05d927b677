package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ersonp/narra-core/internal/application/cache"
	"github.com/ersonp/narra-core/internal/application/handlers"
	"github.com/ersonp/narra-core/internal/application/mcptools"
	"github.com/ersonp/narra-core/internal/domain/ports"
	"github.com/ersonp/narra-core/internal/domain/services"
	"github.com/ersonp/narra-core/internal/infrastructure/config"
	embedder "github.com/ersonp/narra-core/internal/infrastructure/embedder/openai"
	"github.com/ersonp/narra-core/internal/infrastructure/logging"
	"github.com/ersonp/narra-core/internal/infrastructure/relationaldb/sqlite"
	"github.com/ersonp/narra-core/internal/infrastructure/vectordb/qdrant"
)

// Deps holds high-level dependencies for commands.
// Only handlers are exposed - services and repositories are internal.
type Deps struct {
	Config      *config.Config
	World       string
	Import      *handlers.ImportHandler
	Arc         *handlers.ArcHandler
	Perception  *handlers.PerceptionHandler
	Irony       *handlers.IronyHandler
	Influence   *handlers.InfluenceHandler
	Centrality  *handlers.CentralityHandler
	Situation   *handlers.SituationHandler
	Themes      *handlers.ThemeHandler
	Consistency *handlers.ConsistencyHandler
	Impact      *handlers.ImpactHandler
	WhatIf      *handlers.WhatIfHandler
	Similarity  *handlers.SimilarityHandler
}

// MCPHandlers returns the handlers the MCP server exposes.
func (d *Deps) MCPHandlers() mcptools.Handlers {
	return mcptools.Handlers{
		Arc:         d.Arc,
		Perception:  d.Perception,
		Irony:       d.Irony,
		Influence:   d.Influence,
		Centrality:  d.Centrality,
		Situation:   d.Situation,
		Themes:      d.Themes,
		Consistency: d.Consistency,
		Impact:      d.Impact,
		WhatIf:      d.WhatIf,
		Similarity:  d.Similarity,
	}
}

// internalDeps holds all dependencies including low-level components.
type internalDeps struct {
	Deps
	store    *sqlite.Repository
	index    *qdrant.Repository
	embedder ports.Embedder
}

// withDeps loads config and builds dependencies, then calls the provided function.
// It handles cleanup automatically.
func withDeps(cmd *cobra.Command, fn func(context.Context, *Deps) error) error {
	return withInternalDeps(cmd, func(ctx context.Context, d *internalDeps) error {
		return fn(ctx, &d.Deps)
	})
}

// withInternalDeps builds every component for the selected world. The
// embedding index and the embedder are optional: without them similarity
// scans stored vectors and imports keep the vectors the file carries.
func withInternalDeps(cmd *cobra.Command, fn func(context.Context, *internalDeps) error) error {
	ctx := cmd.Context()

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting current directory: %w", err)
	}

	cfg, err := config.Load(cwd)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if logLevel == "" {
		logger := logging.New(cfg.Log.Level, cmd.ErrOrStderr())
		logging.SetDefault(logger)
		ctx = logging.With(ctx, logger)
	}

	worlds, err := config.LoadWorlds(cwd)
	if err != nil {
		return fmt.Errorf("loading worlds: %w", err)
	}

	if globalWorld == "" {
		return errors.New("world is required (use --world flag)")
	}

	collection, err := worlds.GetCollection(globalWorld)
	if err != nil {
		return err
	}
	ctx = logging.With(ctx, logging.From(ctx).With("world", globalWorld))

	store, err := openStore(ctx, cwd, cfg, globalWorld)
	if err != nil {
		return err
	}
	defer store.Close()

	var index *qdrant.Repository
	if cfg.Qdrant.Enabled {
		index, err = qdrant.NewRepository(cfg.Qdrant, collection)
		if err != nil {
			return fmt.Errorf("creating qdrant repository: %w", err)
		}
		defer index.Close()
	}

	var emb ports.Embedder
	if cfg.Embedder.APIKey != "" {
		e, err := embedder.NewEmbedder(cfg.Embedder)
		if err != nil {
			return fmt.Errorf("creating embedder: %w", err)
		}
		emb = e
	} else {
		logging.From(ctx).Debug("no embedder API key, embedding disabled")
	}

	deps := buildDeps(cfg, globalWorld, store, index, emb)
	return fn(ctx, deps)
}

// openStore opens the world's SQLite database and makes sure the schema exists.
func openStore(ctx context.Context, cwd string, cfg *config.Config, world string) (*sqlite.Repository, error) {
	path := cfg.SQLite.Path
	if path == "" {
		path = config.SQLitePathForWorld(cwd, world)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating world directory: %w", err)
	}

	store, err := sqlite.NewRepository(config.SQLiteConfig{Path: path})
	if err != nil {
		return nil, fmt.Errorf("creating sqlite repository: %w", err)
	}
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("ensuring sqlite schema: %w", err)
	}
	return store, nil
}

// buildDeps wires services and handlers over the store. Writes go through
// the cache decorators so cached reports never outlive the data they read.
func buildDeps(cfg *config.Config, world string, store *sqlite.Repository, index *qdrant.Repository, emb ports.Embedder) *internalDeps {
	analysis := cfg.Analysis
	reports := cache.New(analysis.Cache)
	writer := cache.NewInvalidatingWriter(store, reports)
	snapshots := cache.NewInvalidatingSnapshots(store, reports)

	// A nil *qdrant.Repository must not become a non-nil interface.
	var embeddingIndex ports.EmbeddingIndex
	if index != nil {
		embeddingIndex = index
	}

	arc := services.NewArcService(store, snapshots, services.ArcConfig{
		CompareEpsilon: analysis.CompareEpsilon,
	})
	influence := services.NewInfluenceService(store, store, store, services.InfluenceConfig{
		MaxDepth:      analysis.Influence.MaxDepth,
		MinLikelihood: analysis.Influence.MinLikelihood,
		Weights:       analysis.RelationWeights(),
	})
	themes := services.NewThemeService(store, services.ThemeConfig{
		Iterations: analysis.Themes.Iterations,
		Epsilon:    analysis.Themes.Epsilon,
		Seeding:    analysis.Themes.Seeding,
		Seed:       analysis.Themes.Seed,
	})
	irony := services.NewIronyService(store, store, store, store)
	centrality := services.NewCentralityService(store, store, store)
	situation := services.NewSituationService(irony, centrality, themes, arc, store, store)
	whatIf := services.NewWhatIfService(store, store, store, store, emb, services.WhatIfConfig{
		Blend:             analysis.WhatIf.Blend,
		ConflictThreshold: analysis.WhatIf.ConflictThreshold,
	})

	return &internalDeps{
		Deps: Deps{
			Config:      cfg,
			World:       world,
			Import:      handlers.NewImportHandler(services.NewImportService(store, writer, emb)),
			Arc:         handlers.NewArcHandler(arc, store, reports),
			Perception:  handlers.NewPerceptionHandler(services.NewPerceptionService(store, store, store)),
			Irony:       handlers.NewIronyHandler(irony, reports),
			Influence:   handlers.NewInfluenceHandler(influence, reports),
			Centrality:  handlers.NewCentralityHandler(centrality, reports),
			Situation:   handlers.NewSituationHandler(situation, reports),
			Themes:      handlers.NewThemeHandler(themes, reports),
			Consistency: handlers.NewConsistencyHandler(services.NewConsistencyService(store, store), reports),
			Impact: handlers.NewImpactHandler(
				services.NewImpactService(store, store, analysis.ImpactDepth),
				services.NewDecisionLog(store),
				writer,
			),
			WhatIf:     handlers.NewWhatIfHandler(whatIf),
			Similarity: handlers.NewSimilarityHandler(services.NewSimilarityService(store, embeddingIndex)),
		},
		store:    store,
		index:    index,
		embedder: emb,
	}
}
