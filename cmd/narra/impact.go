package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newImpactCmd() *cobra.Command {
	var (
		description string
		depth       int
	)

	cmd := &cobra.Command{
		Use:   "impact <entity-id>",
		Short: "Show what a change to an entity may ripple into",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(cmd, func(ctx context.Context, d *Deps) error {
				report, err := d.Impact.Analyze(ctx, args[0], description, depth)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), outputFormat, report)
			})
		},
	}

	cmd.Flags().StringVarP(&description, "description", "d", "", "Description of the proposed change")
	cmd.Flags().IntVar(&depth, "max-depth", 0, "Maximum reference hops (default from config)")

	return cmd
}

func newProtectCmd() *cobra.Command {
	return newProtectionCmd("protect", "Mark entities as protected from changes", true)
}

func newUnprotectCmd() *cobra.Command {
	return newProtectionCmd("unprotect", "Clear the protected mark", false)
}

func newProtectionCmd(use, short string, protected bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <entity-id>...",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(cmd, func(ctx context.Context, d *Deps) error {
				ids, err := d.Impact.SetProtected(ctx, args, protected)
				if err != nil {
					return err
				}
				for _, id := range ids {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: protected=%t\n", id, protected)
				}
				return nil
			})
		},
	}
}

func newDecisionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decisions",
		Short: "Record authoring decisions and track deferred implications",
	}

	cmd.AddCommand(
		newDecisionsRecordCmd(),
		newDecisionsDeferCmd(),
		newDecisionsListCmd(),
		newDecisionsResolveCmd(),
	)

	return cmd
}

func newDecisionsRecordCmd() *cobra.Command {
	var (
		reasoning string
		affected  []string
		traced    bool
	)

	cmd := &cobra.Command{
		Use:   "record <description>",
		Short: "Record an authoring decision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(cmd, func(ctx context.Context, d *Deps) error {
				decision, err := d.Impact.RecordDecision(ctx, args[0], reasoning, affected, traced)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), outputFormat, decision)
			})
		},
	}

	cmd.Flags().StringVar(&reasoning, "reasoning", "", "Why the decision was made")
	cmd.Flags().StringSliceVar(&affected, "affected", nil, "Entities the decision touches")
	cmd.Flags().BoolVar(&traced, "traced", false, "Implications were already traced")

	return cmd
}

func newDecisionsDeferCmd() *cobra.Command {
	var followups []string

	cmd := &cobra.Command{
		Use:     "defer <decision-id>",
		Short:   "Defer follow-ups for a decision",
		Example: `  narra -w saga decisions defer 3f2a --followup "character:bob=Revisit Bob's motive"`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := parseFollowups(followups)
			if err != nil {
				return err
			}
			return withDeps(cmd, func(ctx context.Context, d *Deps) error {
				deferred, err := d.Impact.Defer(ctx, args[0], parsed)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), outputFormat, deferred)
			})
		},
	}

	cmd.Flags().StringArrayVar(&followups, "followup", nil, "ENTITY=TEXT follow-up (repeatable)")
	_ = cmd.MarkFlagRequired("followup")

	return cmd
}

// parseFollowups splits ENTITY=TEXT pairs on the first '='.
func parseFollowups(raw []string) (map[string]string, error) {
	out := make(map[string]string, len(raw))
	for _, pair := range raw {
		id, text, ok := strings.Cut(pair, "=")
		id, text = strings.TrimSpace(id), strings.TrimSpace(text)
		if !ok || id == "" || text == "" {
			return nil, fmt.Errorf("invalid --followup %q (expected ENTITY=TEXT)", pair)
		}
		if _, dup := out[id]; dup {
			return nil, fmt.Errorf("duplicate --followup for %s", id)
		}
		out[id] = text
	}
	return out, nil
}

func newDecisionsListCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List deferred implications",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(cmd, func(ctx context.Context, d *Deps) error {
				pending, err := d.Impact.Pending(ctx, all)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), outputFormat, pending)
			})
		},
	}

	cmd.Flags().BoolVarP(&all, "all", "a", false, "Include resolved implications")

	return cmd
}

func newDecisionsResolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <decision-id> <entity-id>",
		Short: "Mark a deferred implication as handled",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(cmd, func(ctx context.Context, d *Deps) error {
				if err := d.Impact.Resolve(ctx, args[0], args[1]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Resolved %s for decision %s\n", args[1], args[0])
				return nil
			})
		},
	}
}
