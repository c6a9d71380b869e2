// Package main is the entry point for the polis-moderation binary.
// It serves the moderation API and offers offline classification commands.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/polisai/polis-moderation/pkg/config"
	"github.com/polisai/polis-moderation/pkg/moderation"
	"github.com/polisai/polis-moderation/pkg/policy"
	"github.com/polisai/polis-moderation/pkg/service"
	"github.com/polisai/polis-moderation/pkg/telemetry"
)

const (
	exitError   = 1
	exitFlagged = 2
)

// errFlagged is returned by check when --fail-on-flag is set and content was flagged.
var errFlagged = errors.New("content flagged")

func main() {
	os.Exit(run(newRootCmd()))
}

func run(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		if errors.Is(err, errFlagged) {
			return exitFlagged
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitError
	}
	return 0
}

// newRootCmd creates the root command for polis-moderation
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "polis-moderation",
		Short: "Keyword and heuristic content moderation for posts and comments",
		Long: `Classifies post and comment text into abuse, hate speech, spam and
misleading categories and decides how flagged content is presented.

Examples:
  polis-moderation serve --config moderation.yaml
  echo "buy now, free money" | polis-moderation check --fail-on-flag
  polis-moderation tables --config moderation.yaml`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to configuration file (YAML)")

	rootCmd.AddCommand(newServeCmd(), newCheckCmd(), newTablesCmd())
	return rootCmd
}

// loadConfig reads the --config flag and loads the service configuration.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("failed to get config flag: %w", err)
	}
	return config.Load(path)
}

// loadTables returns the configured tables file, or the built-in tables.
func loadTables(cfg *config.Config) (moderation.Tables, error) {
	if cfg.Moderation.TablesFile == "" {
		return moderation.DefaultTables(), nil
	}
	return config.LoadTables(cfg.Moderation.TablesFile)
}

// newPolicyEngine builds the disposition engine from the configured rego file,
// falling back to the embedded module.
func newPolicyEngine(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*policy.Engine, error) {
	opts := policy.EngineOptions{
		Entrypoint:      cfg.Moderation.PolicyEntrypoint,
		CacheMaxEntries: cfg.Moderation.PolicyCache,
		Logger:          logger,
	}
	if cfg.Moderation.PolicyFile != "" {
		modules, err := policy.LoadModuleFile(cfg.Moderation.PolicyFile)
		if err != nil {
			return nil, err
		}
		opts.Modules = modules
	}
	return policy.NewEngine(ctx, opts)
}

// buildModerator wires tables, policy and metrics into a Moderator.
func buildModerator(ctx context.Context, cfg *config.Config, metrics *telemetry.Metrics, logger *slog.Logger) (*service.Moderator, error) {
	tables, err := loadTables(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load tables: %w", err)
	}

	engine, err := newPolicyEngine(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build policy engine: %w", err)
	}

	return service.New(service.Options{
		Tables:  tables,
		Limits:  cfg.Limits,
		Policy:  engine,
		Metrics: metrics,
		Logger:  logger,
	})
}
