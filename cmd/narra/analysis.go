package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ersonp/narra-core/internal/application/handlers"
)

func newIronyCmd() *cobra.Command {
	var req handlers.IronyRequest

	cmd := &cobra.Command{
		Use:   "irony",
		Short: "Rank dramatic irony: facts one character knows and another does not",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(cmd, func(ctx context.Context, d *Deps) error {
				report, err := d.Irony.Handle(ctx, req)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), outputFormat, report)
			})
		},
	}

	cmd.Flags().StringSliceVarP(&req.Characters, "characters", "c", nil, "Characters to compare (default all)")
	cmd.Flags().StringVar(&req.Target, "target", "", "Only facts about this entity")
	cmd.Flags().IntVarP(&req.Limit, "limit", "l", 0, "Maximum asymmetries, 0 for all")

	return cmd
}

func newInfluenceCmd() *cobra.Command {
	var req handlers.InfluenceRequest

	cmd := &cobra.Command{
		Use:   "influence <seed-id>",
		Short: "Estimate who a character can pass information to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Seed = args[0]
			return withDeps(cmd, func(ctx context.Context, d *Deps) error {
				report, err := d.Influence.Handle(ctx, req)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), outputFormat, report)
			})
		},
	}

	cmd.Flags().StringVar(&req.FactRef, "fact", "", "Fact reference the seed must hold; reached characters who already know it are flagged")
	cmd.Flags().StringVar(&req.FactKey, "fact-key", "", "Fact key as reported by irony, for facts without a reference")
	cmd.Flags().IntVar(&req.MaxDepth, "max-depth", 0, "Maximum hops (default from config)")
	cmd.Flags().Float64Var(&req.MinLikelihood, "min-likelihood", 0, "Drop paths below this likelihood (default from config)")

	return cmd
}

func newCentralityCmd() *cobra.Command {
	var req handlers.CentralityRequest

	cmd := &cobra.Command{
		Use:   "centrality",
		Short: "Rank characters by their position in the social graph",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(cmd, func(ctx context.Context, d *Deps) error {
				report, err := d.Centrality.Handle(ctx, req)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), outputFormat, report)
			})
		},
	}

	cmd.Flags().StringVar(&req.Scope, "scope", "", "Only characters near this entity (default all)")
	cmd.Flags().IntVar(&req.ScopeHops, "scope-hops", 0, "Hops around --scope, 0 for 3")
	cmd.Flags().StringVarP(&req.Metric, "metric", "m", "", "Ranking metric: degree, betweenness or closeness (default degree)")
	cmd.Flags().IntVarP(&req.Limit, "limit", "l", 0, "Maximum characters, 0 for all")

	return cmd
}

func newSituationCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "situation",
		Short: "Summarize irony, false beliefs, tension and central characters with suggestions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(cmd, func(ctx context.Context, d *Deps) error {
				report, err := d.Situation.Handle(ctx)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), outputFormat, report)
			})
		},
	}
}

func newThemesCmd() *cobra.Command {
	var req handlers.ThemeRequest

	cmd := &cobra.Command{
		Use:   "themes",
		Short: "Cluster entities into thematic groups",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(cmd, func(ctx context.Context, d *Deps) error {
				result, err := d.Themes.Handle(ctx, req)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), outputFormat, result)
			})
		},
	}

	cmd.Flags().StringSliceVarP(&req.Types, "types", "t", nil, "Entity types to cluster (default all)")
	cmd.Flags().IntVar(&req.K, "k", 0, "Number of clusters, 0 to choose automatically")
	cmd.Flags().IntVar(&req.Iterations, "iterations", 0, "Maximum iterations (default from config)")
	cmd.Flags().Float64Var(&req.Epsilon, "epsilon", 0, "Convergence threshold (default from config)")
	cmd.Flags().StringVar(&req.Seeding, "seeding", "", "Seeding strategy: farthest or random (default from config)")
	cmd.Flags().BoolVar(&req.Gaps, "gaps", false, "Report clusters missing expected entity types")

	return cmd
}

func newValidateCmd() *cobra.Command {
	var types []string

	cmd := &cobra.Command{
		Use:   "validate [entity-id]",
		Short: "Check entities against universe facts, knowledge and event order",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var id string
			if len(args) == 1 {
				id = args[0]
			}
			return withDeps(cmd, func(ctx context.Context, d *Deps) error {
				result, err := d.Consistency.Validate(ctx, id, types)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), outputFormat, result)
			})
		},
	}

	cmd.Flags().StringSliceVarP(&types, "types", "t", nil, "Entity types to validate when no entity is given (default all)")

	return cmd
}

func newInvestigateCmd() *cobra.Command {
	var depth int

	cmd := &cobra.Command{
		Use:   "investigate <entity-id>",
		Short: "Validate an entity and everything that references it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(cmd, func(ctx context.Context, d *Deps) error {
				result, err := d.Consistency.Investigate(ctx, args[0], depth)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), outputFormat, result)
			})
		},
	}

	cmd.Flags().IntVar(&depth, "max-depth", DefaultInvestigateDepth, "Maximum reference hops")

	return cmd
}

func newWhatIfCmd() *cobra.Command {
	var req handlers.WhatIfRequest

	cmd := &cobra.Command{
		Use:   "whatif <character-id>",
		Short: "Simulate a character learning a fact without changing the world",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if req.FactRef == "" && req.Fact == "" {
				return fmt.Errorf("one of --fact-ref or --fact is required")
			}
			req.Character = args[0]
			return withDeps(cmd, func(ctx context.Context, d *Deps) error {
				report, err := d.WhatIf.Handle(ctx, req)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), outputFormat, report)
			})
		},
	}

	cmd.Flags().StringVar(&req.FactRef, "fact-ref", "", "Reference of a fact already in the knowledge ledger")
	cmd.Flags().StringVar(&req.Fact, "fact", "", "Free-text fact")
	cmd.Flags().StringVar(&req.Target, "target", "", "Entity the fact is about")
	cmd.Flags().StringVar(&req.Certainty, "certainty", "knows", "Certainty of the new knowledge")

	return cmd
}

func newSimilarCmd() *cobra.Command {
	var (
		k     int
		types []string
	)

	cmd := &cobra.Command{
		Use:   "similar <entity-id>",
		Short: "Find the entities closest to an entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(cmd, func(ctx context.Context, d *Deps) error {
				report, err := d.Similarity.Nearest(ctx, args[0], k, types)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), outputFormat, report)
			})
		},
	}

	cmd.Flags().IntVar(&k, "k", handlers.DefaultSimilarityLimit, "Number of matches")
	cmd.Flags().StringSliceVarP(&types, "types", "t", nil, "Entity types to search (default all)")

	return cmd
}

func newMidpointCmd() *cobra.Command {
	var (
		k     int
		types []string
	)

	cmd := &cobra.Command{
		Use:   "midpoint <entity-a> <entity-b>",
		Short: "Find the entities closest to the midpoint of two entities",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(cmd, func(ctx context.Context, d *Deps) error {
				report, err := d.Similarity.Midpoint(ctx, args[0], args[1], k, types)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), outputFormat, report)
			})
		},
	}

	cmd.Flags().IntVar(&k, "k", handlers.DefaultSimilarityLimit, "Number of matches")
	cmd.Flags().StringSliceVarP(&types, "types", "t", nil, "Entity types to search (default all)")

	return cmd
}

func newIndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Manage the embedding index",
	}

	cmd.AddCommand(newIndexSyncCmd())

	return cmd
}

func newIndexSyncCmd() *cobra.Command {
	var types []string

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Push stored embeddings to the embedding index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(cmd, func(ctx context.Context, d *Deps) error {
				n, err := d.Similarity.SyncIndex(ctx, types)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Indexed: %d embeddings\n", n)
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&types, "types", "t", nil, "Entity types to push (default all)")

	return cmd
}
