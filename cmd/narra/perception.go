package main

import (
	"context"

	"github.com/spf13/cobra"
)

func newPerceptionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "perception",
		Short: "Compare how characters see each other against who they are",
	}

	cmd.AddCommand(
		newPerceptionGapCmd(),
		newPerceptionMatrixCmd(),
		newPerceptionShiftCmd(),
	)

	return cmd
}

func newPerceptionGapCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gap <observer-id> <target-id>",
		Short: "Measure how far the observer's view is from the target's self",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(cmd, func(ctx context.Context, d *Deps) error {
				result, err := d.Perception.Gap(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), outputFormat, result)
			})
		},
	}
}

func newPerceptionMatrixCmd() *cobra.Command {
	var observers []string

	cmd := &cobra.Command{
		Use:   "matrix <target-id>",
		Short: "Show every observer's view of a target and where observers agree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(cmd, func(ctx context.Context, d *Deps) error {
				result, err := d.Perception.Matrix(ctx, args[0], observers)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), outputFormat, result)
			})
		},
	}

	cmd.Flags().StringSliceVar(&observers, "observers", nil, "Observers to include (default everyone with a perception)")

	return cmd
}

func newPerceptionShiftCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shift <observer-id> <target-id>",
		Short: "Track how the observer's view of the target changed over time",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDeps(cmd, func(ctx context.Context, d *Deps) error {
				result, err := d.Perception.Shift(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), outputFormat, result)
			})
		},
	}
}
