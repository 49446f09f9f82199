package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/dshills/symindex/internal/config"
	"github.com/dshills/symindex/internal/fetcher"
	"github.com/dshills/symindex/internal/indexer"
	"github.com/dshills/symindex/internal/logging"
	"github.com/dshills/symindex/internal/metrics"
	"github.com/dshills/symindex/internal/storage"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

// Flags shared by every command. Non-empty values override the config file
// and environment.
var (
	configPath string
	dbPath     string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "symindex",
	Short: "Index the ELF symbols of RPM repositories",
	Long: `symindex downloads every package of one or more yum/dnf repositories,
extracts the symbol tables of the ELF files inside and stores them in a
SQLite database, so that you can ask which packages define or reference a
symbol.

Example:
  symindex index https://mirror.example/fedora/40/Everything/x86_64/os
  symindex query 'SSL_CTX_*'`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Version:       version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("symindex %s (built %s, %s driver %s)\n",
		version, buildTime, storage.BuildMode, storage.DriverName))
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default $SYMINDEX_CONFIG or ~/.symindex/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Index database path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app holds the components a command works with
type app struct {
	cfg     *config.Config
	logger  zerolog.Logger
	metrics *metrics.Metrics
	store   *storage.SQLiteStorage
}

// loadConfig applies the persistent flags on top of the loaded config
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.Database.Path = dbPath
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg, nil
}

// openApp loads the config and opens the index database
func openApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger := logging.New(cfg.LoggingConfig())
	m := metrics.New()

	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	store, err := storage.NewSQLiteStorage(cfg.Database.Path, storage.WithMetrics(m))
	if err != nil {
		return nil, fmt.Errorf("failed to open index: %w", err)
	}

	logger.Debug().
		Str("db", cfg.Database.Path).
		Str("build_mode", storage.BuildMode).
		Str("driver", storage.DriverName).
		Msg("index opened")

	return &app{cfg: cfg, logger: logger, metrics: m, store: store}, nil
}

// newIndexer wires a fetcher and an indexer over the app's store
func (a *app) newIndexer() *indexer.Indexer {
	f := fetcher.New(a.cfg.FetcherConfig(), logging.Component(a.logger, "fetcher"), a.metrics)
	return indexer.New(a.store, f, a.cfg.IndexerConfig(), logging.Component(a.logger, "indexer"), a.metrics)
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("failed to close index")
	}
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
