package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/planexec/planexec/internal/config"
)

var (
	configFile string
	verbose    bool

	// cfg is populated before any subcommand runs.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "planexec",
	Short: "Declarative plan execution engine",
	Long: `planexec executes declarative plans: typed steps with priorities and
inter-step dependencies. It resolves a valid execution order, runs the
steps sequentially or with bounded concurrency, isolates per-step
failures, and aggregates partial results into a synthesized output.`,
	PersistentPreRunE: loadConfig,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

// Execute runs the root command with signal handling. SIGINT and SIGTERM
// cancel the command context, which the engine treats as plan cancellation.
func Execute(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return rootCmd.ExecuteContext(ctx)
}

// loadConfig runs before every subcommand. A missing config file is not an
// error; defaults apply.
func loadConfig(cmd *cobra.Command, args []string) error {
	if cmd.Name() == "version" || cmd.Name() == "help" {
		cfg = config.DefaultConfig()
		return nil
	}

	loaded, err := config.NewLoader().LoadWithDefaults(configFile)
	if err != nil {
		return err
	}
	cfg = loaded
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Config file path (YAML)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(versionCmd)
}
