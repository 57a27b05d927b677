package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ersonp/narra-core/internal/infrastructure/config"
	embedder "github.com/ersonp/narra-core/internal/infrastructure/embedder/openai"
	"github.com/ersonp/narra-core/internal/infrastructure/logging"
	"github.com/ersonp/narra-core/internal/infrastructure/vectordb/qdrant"
)

// worldManager handles the storage that backs a world: its SQLite database
// and, when enabled, its Qdrant collection.
type worldManager struct {
	cwd string
	cfg *config.Config
}

func newWorldsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worlds",
		Short: "Manage worlds",
		RunE:  runWorldsList,
	}

	cmd.AddCommand(
		newWorldsListCmd(),
		newWorldsCreateCmd(),
		newWorldsDeleteCmd(),
	)

	return cmd
}

func newWorldsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all worlds",
		RunE:  runWorldsList,
	}
}

func runWorldsList(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting current directory: %w", err)
	}

	worlds, err := config.LoadWorlds(cwd)
	if err != nil {
		return fmt.Errorf("loading worlds: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(worlds.Worlds) == 0 {
		fmt.Fprintln(out, "No worlds configured.")
		fmt.Fprintln(out, "Use 'narra worlds create NAME' to create a world.")
		return nil
	}

	fmt.Fprintf(out, "%-20s %-25s %-10s %s\n", "NAME", "COLLECTION", "CREATED", "DESCRIPTION")
	fmt.Fprintf(out, "%-20s %-25s %-10s %s\n", "----", "----------", "-------", "-----------")

	for name, world := range worlds.All() {
		created := "-"
		if !world.CreatedAt.IsZero() {
			created = world.CreatedAt.Format(time.DateOnly)
		}
		fmt.Fprintf(out, "%-20s %-25s %-10s %s\n", name, world.Collection, created, world.Description)
	}

	return nil
}

func newWorldsCreateCmd() *cobra.Command {
	var description string

	cmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a new world",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorldsCreate(cmd, args[0], description)
		},
	}

	cmd.Flags().StringVarP(&description, "description", "d", "", "World description")

	return cmd
}

func runWorldsCreate(cmd *cobra.Command, name string, description string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting current directory: %w", err)
	}

	if !config.Exists(cwd) {
		if err := config.WriteDefault(cwd); err != nil {
			return fmt.Errorf("initializing config: %w", err)
		}
		fmt.Fprintf(out, "Initialized narra in %s\n", config.ConfigDir(cwd))
	}

	cfg, err := config.Load(cwd)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	worlds, err := config.LoadWorlds(cwd)
	if err != nil {
		return fmt.Errorf("loading worlds: %w", err)
	}
	if worlds.Exists(name) {
		return fmt.Errorf("world %q already exists", name)
	}

	collection := config.GenerateCollectionName(name)
	mgr := &worldManager{cwd: cwd, cfg: cfg}
	if err := mgr.createStore(ctx, name); err != nil {
		return fmt.Errorf("creating world database: %w", err)
	}
	if cfg.Qdrant.Enabled {
		if err := mgr.createCollection(ctx, collection); err != nil {
			return fmt.Errorf("creating qdrant collection: %w", err)
		}
	}

	worlds.Add(name, config.WorldEntry{
		Collection:  collection,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	})
	if err := worlds.Save(cwd); err != nil {
		return fmt.Errorf("saving worlds: %w", err)
	}

	fmt.Fprintf(out, "Created world %q with collection %q\n", name, collection)

	return nil
}

func newWorldsDeleteCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "delete NAME",
		Short: "Delete a world",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorldsDelete(cmd, args[0], force)
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Delete even if world contains narrative records")

	return cmd
}

func runWorldsDelete(cmd *cobra.Command, name string, force bool) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting current directory: %w", err)
	}

	cfg, err := config.Load(cwd)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	worlds, err := config.LoadWorlds(cwd)
	if err != nil {
		return fmt.Errorf("loading worlds: %w", err)
	}
	world, err := worlds.Get(name)
	if err != nil {
		return err
	}

	mgr := &worldManager{cwd: cwd, cfg: cfg}

	if !force {
		count, err := mgr.recordCount(ctx, name)
		if err == nil && count > 0 {
			return fmt.Errorf("world %q contains %d records, use --force to delete", name, count)
		}
	}

	if cfg.Qdrant.Enabled {
		if err := mgr.deleteCollection(ctx, world.Collection); err != nil {
			warn(out, "could not delete collection %q: %v", world.Collection, err)
		}
	}
	if err := os.RemoveAll(config.WorldDir(cwd, name)); err != nil {
		return fmt.Errorf("removing world directory: %w", err)
	}

	worlds.Remove(name)
	if err := worlds.Save(cwd); err != nil {
		return fmt.Errorf("saving worlds: %w", err)
	}

	fmt.Fprintf(out, "Deleted world %q\n", name)

	return nil
}

func warn(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, "Warning: "+format+"\n", args...)
}

func (m *worldManager) createStore(ctx context.Context, world string) error {
	store, err := openStore(ctx, m.cwd, m.cfg, world)
	if err != nil {
		return err
	}
	return store.Close()
}

// recordCount sums the rows across the world's narrative tables.
func (m *worldManager) recordCount(ctx context.Context, world string) (int, error) {
	store, err := openStore(ctx, m.cwd, m.cfg, world)
	if err != nil {
		return 0, err
	}
	defer store.Close()

	counts, err := store.Counts(ctx)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	logging.From(ctx).Debug("counted world records", "world", world, "total", total)
	return total, nil
}

func (m *worldManager) createCollection(ctx context.Context, collection string) error {
	repo, err := qdrant.NewRepository(m.cfg.Qdrant, collection)
	if err != nil {
		return err
	}
	defer repo.Close()

	return repo.EnsureCollection(ctx, embedder.VectorSize)
}

func (m *worldManager) deleteCollection(ctx context.Context, collection string) error {
	repo, err := qdrant.NewRepository(m.cfg.Qdrant, collection)
	if err != nil {
		return err
	}
	defer repo.Close()

	return repo.DeleteCollection(ctx)
}
