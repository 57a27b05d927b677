package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ersonp/narra-core/internal/application/handlers"
	"github.com/ersonp/narra-core/internal/domain/services"
)

type loadFlags struct {
	format     string
	dryRun     bool
	onConflict string
	embed      bool
	noSync     bool
}

func newLoadCmd() *cobra.Command {
	var flags loadFlags

	cmd := &cobra.Command{
		Use:   "load <file>",
		Short: "Load a world document (YAML, JSON or a CSV knowledge ledger)",
		Long:  "Loads narrative records into the world. Invalid items are reported and skipped.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoad(cmd, args[0], flags)
		},
	}

	cmd.Flags().StringVarP(&flags.format, "format", "f", "auto", "File format (yaml, json, csv, auto)")
	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "Validate without saving")
	cmd.Flags().StringVar(&flags.onConflict, "on-conflict", "skip", "Conflict handling for existing entities (skip, overwrite)")
	cmd.Flags().BoolVar(&flags.embed, "embed", false, "Embed items that have no vector")
	cmd.Flags().BoolVar(&flags.noSync, "no-sync", false, "Skip pushing embeddings to the index after loading")

	return cmd
}

func runLoad(cmd *cobra.Command, filePath string, flags loadFlags) error {
	onConflict := services.ConflictStrategy(flags.onConflict)
	if onConflict != services.ConflictSkip && onConflict != services.ConflictOverwrite {
		return fmt.Errorf("invalid --on-conflict value %q (valid: skip, overwrite)", flags.onConflict)
	}

	return withDeps(cmd, func(ctx context.Context, d *Deps) error {
		opts := handlers.ImportOptions{
			Format:     flags.format,
			DryRun:     flags.dryRun,
			OnConflict: onConflict,
			Embed:      flags.embed,
		}

		result, err := d.Import.Handle(ctx, filePath, opts)
		if err != nil {
			return fmt.Errorf("loading file: %w", err)
		}

		if outputFormat == formatJSON {
			return render(cmd.OutOrStdout(), outputFormat, result)
		}

		out := cmd.OutOrStdout()
		if len(result.Errors) > 0 {
			fmt.Fprintf(out, "Validation errors (%d):\n", len(result.Errors))
			for _, e := range result.Errors {
				fmt.Fprintf(out, "  %s\n", e.Error())
			}
			fmt.Fprintln(out)
		}

		if flags.dryRun {
			fmt.Fprintf(out, "Dry run: %d items would be loaded", result.Imported)
		} else {
			fmt.Fprintf(out, "Loaded: %d items", result.Imported)
		}
		if result.Skipped > 0 {
			fmt.Fprintf(out, ", %d skipped (already exist)", result.Skipped)
		}
		if result.Embedded > 0 {
			fmt.Fprintf(out, ", %d embedded", result.Embedded)
		}
		if len(result.Errors) > 0 {
			fmt.Fprintf(out, ", %d errors", len(result.Errors))
		}
		fmt.Fprintln(out)

		if flags.dryRun || flags.noSync || !d.Config.Qdrant.Enabled || result.Imported == 0 {
			return nil
		}
		n, err := d.Similarity.SyncIndex(ctx, nil)
		if err != nil {
			warn(out, "could not sync embedding index: %v", err)
			return nil
		}
		fmt.Fprintf(out, "Indexed: %d embeddings\n", n)
		return nil
	})
}
