// Package main provides the tavern-oracle server and operator CLI.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/upb/tavern-oracle/app"
	"github.com/upb/tavern-oracle/config"
	"github.com/upb/tavern-oracle/internal/observability"
	"go.uber.org/zap"
)

var version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "tavern-oracle",
		Short: "Fault-tolerant dialogue service for tavern NPCs",
		Long: `tavern-oracle answers NPC dialogue requests through a chain of free-tier
LLM providers, with response caching, per-provider rate limits, cooldowns
and an offline keyword responder when every provider is down.

Configuration is read from the environment (and .env when present).`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		serveCmd(),
		askCmd(),
		providersCmd(),
		tokenCmd(),
	)

	return rootCmd
}

// bootstrap loads configuration, builds the logger and wires dependencies
func bootstrap(ctx context.Context) (*app.Dependencies, error) {
	cfg, err := config.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := initLogger(cfg)
	if err != nil {
		return nil, err
	}

	deps, err := app.NewDependencies(ctx, cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return deps, nil
}

func initLogger(cfg *config.Config) (*zap.Logger, error) {
	logger, err := observability.NewLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger.With(zap.String("environment", cfg.Environment)), nil
}
