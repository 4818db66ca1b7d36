package main

import (
	"fmt"

	"github.com/coder/quartz"
	"github.com/goodtune/mcledger/internal/metrics"
	"github.com/spf13/cobra"
)

const pushJob = "mcledger"

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Sample the roster once and update the ledger",
	Long: `Fetch the server's online roster once, mark everyone else offline and credit
one increment of play time to each online player. Intended to be run from cron
or a systemd timer at the configured increment.`,
	RunE: runOnce,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the ledger schema",
	Long:  `Open the configured store, applying any pending schema migrations, and exit.`,
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(migrateCmd)
}

func runOnce(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	logger.Debug().
		Str("version", version).
		Str("config", resolvedConfigPath()).
		Str("server", cfg.Server).
		Int("port", cfg.Port).
		Msg("Starting reconciliation run")

	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	p, err := newPoller(cfg, store, quartz.NewReal(), logger)
	if err != nil {
		return err
	}

	_, runErr := p.RunOnce(ctx)
	if runErr != nil {
		logger.Error().Err(runErr).Msg("Reconciliation failed, no changes were written")
	}

	if cfg.Metrics.PushgatewayURL != "" {
		if err := metrics.Push(ctx, cfg.Metrics.PushgatewayURL, pushJob); err != nil {
			logger.Warn().Err(err).Msg("Failed to push metrics")
		}
	}

	return runErr
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	if err := store.Close(); err != nil {
		return fmt.Errorf("failed to close storage: %w", err)
	}

	logger.Info().
		Str("type", cfg.Storage.Type).
		Msg("Storage schema is up to date")
	return nil
}
