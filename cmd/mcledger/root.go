package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/coder/quartz"
	"github.com/goodtune/mcledger/internal/config"
	"github.com/goodtune/mcledger/internal/ledger"
	"github.com/goodtune/mcledger/internal/poller"
	"github.com/goodtune/mcledger/internal/roster"
	"github.com/goodtune/mcledger/internal/storage"
	"github.com/goodtune/mcledger/internal/storage/bolt"
	"github.com/goodtune/mcledger/internal/storage/postgres"
	"github.com/goodtune/mcledger/internal/storage/redis"
	"github.com/goodtune/mcledger/internal/storage/sqlite"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	version    = "dev"
	configPath string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "mcledger",
	Short: "mcledger - Minecraft server presence and play time ledger",
	Long: `mcledger samples the online roster of a Minecraft Java server with the
Server List Ping protocol and keeps a ledger of who is online, when they were
last seen and how long they have played, in total and per day.`,
	Version:       version,
	SilenceErrors: true,
	SilenceUsage:  true,
	RunE: func(cmd *cobra.Command, args []string) error {
		// One pass per invocation when no subcommand is provided
		return runOnce(cmd, args)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (default config.yaml, or config.$EUREKA_ENVIRONMENT.yaml)")
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// resolvedConfigPath is the file config.Load will read.
func resolvedConfigPath() string {
	if configPath == "" {
		return config.DefaultPath()
	}
	return configPath
}

// loadConfig loads configuration and installs the global logger.
func loadConfig() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	log.Logger = logger
	return cfg, logger, nil
}

// openStore opens the backend named by storage.type at db_connection_string.
func openStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	dsn := cfg.DBConnectionString

	switch cfg.Storage.Type {
	case config.StorageSQLite, "":
		store, err := sqlite.Open(dsn)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.StoragePostgres:
		store, err := postgres.Open(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.StorageBolt:
		store, err := bolt.Open(dsn)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.StorageRedis:
		store, err := redis.Open(dsn, cfg.Storage.Redis)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}
}

// errNoLedger is returned by report commands when the ledger file is absent.
var errNoLedger = errors.New("ledger does not exist")

// openExistingStore opens the store for reading. File-backed ledgers must
// already exist so a mistyped path is not mistaken for an empty ledger.
func openExistingStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	var path string
	switch cfg.Storage.Type {
	case config.StorageSQLite, "":
		path = sqlite.FilePath(cfg.DBConnectionString)
	case config.StorageBolt:
		path = cfg.DBConnectionString
	}
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("%w: %s", errNoLedger, path)
			}
			return nil, err
		}
	}
	return openStore(ctx, cfg)
}

// newPoller wires the fetcher and the reconciliation engine for cfg.
func newPoller(cfg *config.Config, store storage.Store, clock quartz.Clock, logger zerolog.Logger) (*poller.Poller, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	fetcher := roster.NewSLPClient(roster.Config{
		Timeout:         cfg.Fetch.Timeout,
		ProtocolVersion: int32(cfg.Fetch.ProtocolVersion),
		SRVLookup:       cfg.ServerOptions.SRVLookup,
		Resolver:        cfg.Fetch.Resolver,
	}, logger)

	engine := ledger.NewEngine(store, ledger.Config{
		Increment: cfg.Tracking.Increment,
		Location:  loc,
	}, clock, logger)

	return poller.New(fetcher, engine, poller.Config{
		Host:     cfg.Server,
		Port:     cfg.Port,
		Interval: cfg.Tracking.Increment,
	}, clock, logger), nil
}

// setupLogger configures the logger based on configuration
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	// Set log level
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "trace":
		level = zerolog.TraceLevel
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)

	// Set output format
	if cfg.Format == "text" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Default to JSON
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
