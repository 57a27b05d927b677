// Package main provides the entry point for the narra CLI application.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ersonp/narra-core/internal/infrastructure/logging"
)

var (
	version      = "0.1.0-dev"
	globalWorld  string
	logLevel     string
	outputFormat string
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// A missing .env is fine; the environment may already carry the keys.
	_ = godotenv.Load()

	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	rootCmd := newRootCmd()
	rootCmd.SetArgs(args)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "narra",
		Short:         "Narrative intelligence over a story world: arcs, perceptions, irony, influence and themes",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := validateFormat(outputFormat); err != nil {
				return err
			}
			level := logLevel
			if level == "" {
				level = os.Getenv("NARRA_LOG_LEVEL")
			}
			logger := logging.New(level, cmd.ErrOrStderr())
			logging.SetDefault(logger)
			cmd.SetContext(logging.With(cmd.Context(), logger))
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&globalWorld, "world", "w", "", "World to operate on (required)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", formatYAML, "Output format: yaml or json")

	rootCmd.AddCommand(
		newWorldsCmd(),
		newStatsCmd(),
		newLoadCmd(),
		newArcCmd(),
		newPerceptionCmd(),
		newIronyCmd(),
		newInfluenceCmd(),
		newCentralityCmd(),
		newSituationCmd(),
		newThemesCmd(),
		newValidateCmd(),
		newInvestigateCmd(),
		newImpactCmd(),
		newProtectCmd(),
		newUnprotectCmd(),
		newDecisionsCmd(),
		newWhatIfCmd(),
		newSimilarCmd(),
		newMidpointCmd(),
		newIndexCmd(),
		newMCPCmd(),
	)

	return rootCmd
}
