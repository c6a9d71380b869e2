package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/polisai/polis-moderation/pkg/config"
	"github.com/polisai/polis-moderation/pkg/logging"
	"github.com/polisai/polis-moderation/pkg/server"
	"github.com/polisai/polis-moderation/pkg/service"
	"github.com/polisai/polis-moderation/pkg/telemetry"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the moderation HTTP API",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}

	cmd.Flags().StringP("port", "p", "", "Port to listen on (overrides server.address)")
	cmd.Flags().StringP("log-level", "l", "", "Log level (debug, info, warn, error)")

	return cmd
}

// applyServeFlags lets CLI flags override config file values.
func applyServeFlags(cmd *cobra.Command, cfg *config.Config) error {
	port, err := cmd.Flags().GetString("port")
	if err != nil {
		return fmt.Errorf("failed to get port flag: %w", err)
	}
	logLevel, err := cmd.Flags().GetString("log-level")
	if err != nil {
		return fmt.Errorf("failed to get log-level flag: %w", err)
	}

	if port != "" {
		cfg.Server.Address = ":" + port
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return fmt.Errorf("failed to get config flag: %w", err)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := applyServeFlags(cmd, cfg); err != nil {
		return err
	}

	logger := logging.NewLogger(cfg.Logging)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	shutdownTracing, err := telemetry.SetupProvider(ctx, telemetry.Config{
		ServiceName: cfg.Telemetry.ServiceName,
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Environment: cfg.Telemetry.Environment,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     cfg.Telemetry.Headers,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer flushCancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("Failed to flush traces", "error", err)
		}
	}()

	metrics := telemetry.NewMetrics()
	moderator, err := buildModerator(ctx, cfg, metrics, logger)
	if err != nil {
		logger.Error("Failed to build moderator", "error", err)
		return err
	}

	if cfg.Moderation.WatchTables {
		watcher, err := config.NewWatcher(cfg.Moderation.TablesFile, moderator.ReloadTables, 0, logger)
		if err != nil {
			return fmt.Errorf("failed to create tables watcher: %w", err)
		}
		if err := watcher.Start(ctx); err != nil {
			return fmt.Errorf("failed to start tables watcher: %w", err)
		}
		defer func() { _ = watcher.Stop() }()
	}

	srv := server.New(cfg.Server, moderator, metrics, logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	sighupChan := make(chan os.Signal, 1)
	signal.Notify(sighupChan, syscall.SIGHUP)
	defer signal.Stop(sighupChan)

	go func() {
		for {
			select {
			case sig := <-sigChan:
				logger.Info("Received shutdown signal", "signal", sig.String())
				cancel()
				return
			case <-sighupChan:
				handleHangup(configPath, cfg, moderator, srv, logger)
			case <-ctx.Done():
				return
			}
		}
	}()

	logger.Info("Starting polis-moderation",
		"addr", cfg.Server.Address,
		"tables_file", cfg.Moderation.TablesFile,
		"policy_file", cfg.Moderation.PolicyFile,
		"log_level", cfg.Logging.Level,
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("Server error", "error", err)
			return err
		}
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()
		if err := srv.Stop(shutdownCtx); err != nil {
			logger.Error("Error during shutdown", "error", err)
		}
	}

	logger.Info("Server stopped")
	return nil
}

// handleHangup re-reads the config file, applies its rate limits and reloads
// the tables file it names. A config that fails to load leaves the running
// settings in place, but the current tables file is still reloaded.
func handleHangup(configPath string, current *config.Config, moderator *service.Moderator, srv *server.Server, logger *slog.Logger) {
	tablesFile := current.Moderation.TablesFile
	if configPath != "" {
		next, err := config.Load(configPath)
		if err != nil {
			logger.Error("Config reload failed, keeping previous settings", "path", configPath, "error", err)
		} else {
			srv.SetRateLimits(next.Server.RateLimits)
			tablesFile = next.Moderation.TablesFile
			logger.Info("Rate limits reloaded", "path", configPath, "endpoints", len(next.Server.RateLimits))
		}
	}
	reloadTables(moderator, tablesFile, logger)
}

// reloadTables reloads the tables file. Without one there is nothing to reload.
func reloadTables(moderator *service.Moderator, path string, logger *slog.Logger) {
	if path == "" {
		logger.Info("No tables file configured, keeping built-in tables")
		return
	}
	logger.Info("Reloading tables", "path", path)
	if err := moderator.ReloadTables(path); err != nil {
		logger.Error("Table reload failed, keeping previous tables", "path", path, "error", err)
	}
}
