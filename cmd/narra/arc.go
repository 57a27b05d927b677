package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ersonp/narra-core/internal/domain/entities"
)

// snapshotSummary is a snapshot without its vector.
type snapshotSummary struct {
	ID         string            `json:"id"`
	EntityID   entities.EntityID `json:"entity_id"`
	RecordedAt time.Time         `json:"recorded_at"`
	EventID    entities.EntityID `json:"event_id,omitempty"`
	Dimensions int               `json:"dimensions"`
}

type historyRow struct {
	Snapshot   snapshotSummary `json:"snapshot"`
	Delta      float64         `json:"delta"`
	Cumulative float64         `json:"cumulative"`
}

func summarizeSnapshot(snap *entities.ArcSnapshot) snapshotSummary {
	return snapshotSummary{
		ID:         snap.ID,
		EntityID:   snap.EntityID,
		RecordedAt: snap.RecordedAt,
		EventID:    snap.EventID,
		Dimensions: len(snap.Embedding),
	}
}

func newArcCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "arc",
		Short: "Track how entities change over the story",
	}

	cmd.AddCommand(
		newArcRecordCmd(),
		newArcBaselineCmd(),
		newArcDriftCmd(),
		newArcRankCmd(),
		newArcHistoryCmd(),
		newArcCompareCmd(),
		newArcMomentCmd(),
	)

	return cmd
}

func newArcRecordCmd() *cobra.Command {
	var (
		at    string
		event string
	)

	cmd := &cobra.Command{
		Use:   "record <entity-id>",
		Short: "Snapshot the entity's current embedding",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var when time.Time
			if at != "" {
				t, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("invalid --at value %q: %w", at, err)
				}
				when = t
			}
			return withDeps(cmd, func(ctx context.Context, d *Deps) error {
				snap, err := d.Arc.Record(ctx, args[0], when, event)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), outputFormat, summarizeSnapshot(snap))
			})
		},
	}

	cmd.Flags().StringVar(&at, "at", "", "Snapshot time in RFC3339 (default now)")
	cmd.Flags().StringVar(&event, "event", "", "Event that caused the change")

	return cmd
}

func newArcBaselineCmd() *cobra.Command {
	var types []string

	cmd := &cobra.Command{
		Use:   "baseline",
		Short: "Snapshot every entity whose embedding changed since its last snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(cmd, func(ctx context.Context, d *Deps) error {
				result, err := d.Arc.Baseline(ctx, types)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), outputFormat, result)
			})
		},
	}

	cmd.Flags().StringSliceVarP(&types, "types", "t", nil, "Entity types to snapshot (default all)")

	return cmd
}

func newArcDriftCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "drift <entity-id>",
		Short: "Show how far an entity moved from its first snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(cmd, func(ctx context.Context, d *Deps) error {
				result, err := d.Arc.Drift(ctx, args[0])
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), outputFormat, result)
			})
		},
	}
}

func newArcRankCmd() *cobra.Command {
	var (
		types []string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "rank",
		Short: "Rank entities by total drift",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(cmd, func(ctx context.Context, d *Deps) error {
				results, err := d.Arc.Rank(ctx, types, limit)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), outputFormat, results)
			})
		},
	}

	cmd.Flags().StringSliceVarP(&types, "types", "t", nil, "Entity types to rank (default all)")
	cmd.Flags().IntVarP(&limit, "limit", "l", DefaultRankLimit, "Maximum entities, 0 for all")

	return cmd
}

func newArcHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <entity-id>",
		Short: "List an entity's snapshots with the change between each",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(cmd, func(ctx context.Context, d *Deps) error {
				report, err := d.Arc.History(ctx, args[0])
				if err != nil {
					return err
				}
				rows := make([]historyRow, len(report.Entries))
				for i, e := range report.Entries {
					rows[i] = historyRow{
						Snapshot:   summarizeSnapshot(&e.Snapshot),
						Delta:      e.Delta,
						Cumulative: e.Cumulative,
					}
				}
				return render(cmd.OutOrStdout(), outputFormat, map[string]any{
					"entity_id": report.EntityID,
					"entries":   rows,
				})
			})
		},
	}
}

func newArcCompareCmd() *cobra.Command {
	var window string

	cmd := &cobra.Command{
		Use:   "compare <entity-a> <entity-b>",
		Short: "Classify whether two entities converge, diverge or hold steady",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(cmd, func(ctx context.Context, d *Deps) error {
				result, err := d.Arc.Compare(ctx, args[0], args[1], window)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), outputFormat, result)
			})
		},
	}

	cmd.Flags().StringVar(&window, "window", DefaultCompareWindow, "recent:N or range:FROM..TO with RFC3339 bounds")

	return cmd
}

func newArcMomentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "moment <entity-id> <event-id>",
		Short: "Show the entity's snapshot at an event",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(cmd, func(ctx context.Context, d *Deps) error {
				snap, err := d.Arc.Moment(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), outputFormat, summarizeSnapshot(snap))
			})
		},
	}
}
