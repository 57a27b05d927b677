package main

import (
	"context"
	"fmt"
	"slices"

	"github.com/spf13/cobra"
)

type worldStats struct {
	World    string         `json:"world"`
	Database string         `json:"database"`
	Records  map[string]int `json:"records"`
	Index    string         `json:"index"`
	Embedder string         `json:"embedder"`
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show record counts and which optional backends are active",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withInternalDeps(cmd, func(ctx context.Context, d *internalDeps) error {
				counts, err := d.store.Counts(ctx)
				if err != nil {
					return fmt.Errorf("counting records: %w", err)
				}

				stats := worldStats{
					World:    d.World,
					Database: d.store.Path(),
					Records:  counts,
					Index:    "disabled",
					Embedder: "disabled",
				}
				if d.index != nil {
					stats.Index = "qdrant:" + d.index.Collection()
				}
				if d.embedder != nil {
					stats.Embedder = d.Config.Embedder.Provider + ":" + d.Config.Embedder.Model
				}

				if outputFormat == formatJSON {
					return render(cmd.OutOrStdout(), outputFormat, stats)
				}
				printStats(cmd, stats)
				return nil
			})
		},
	}
}

func printStats(cmd *cobra.Command, s worldStats) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "World:    %s\n", s.World)
	fmt.Fprintf(out, "Database: %s\n", s.Database)
	fmt.Fprintf(out, "Index:    %s\n", s.Index)
	fmt.Fprintf(out, "Embedder: %s\n", s.Embedder)
	fmt.Fprintln(out)

	tables := make([]string, 0, len(s.Records))
	for table := range s.Records {
		tables = append(tables, table)
	}
	slices.Sort(tables)
	for _, table := range tables {
		fmt.Fprintf(out, "%-15s %d\n", table, s.Records[table])
	}
}
