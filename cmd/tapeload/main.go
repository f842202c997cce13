package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/crestlane/tapeload/internal/config"
	"github.com/crestlane/tapeload/internal/importer"
	"github.com/crestlane/tapeload/internal/logging"
	"github.com/crestlane/tapeload/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "tapeload",
	Short: "Import loan tapes into the asset database",
	Long: `tapeload reads seller loan tapes (CSV or XLSX), maps their columns
onto the loan schema, validates and converts each row, and writes the
result to Postgres in batches. Column mapping tries saved configs and
semantic proposals before falling back to exact header matches.

Configuration comes from the environment (or a .env file); see the
DATABASE_URL and TAPELOAD_* variables.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	// Interrupts cancel the context; a run in flight stops between
	// batches and records what it committed.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if importer.IsUserFacing(err) {
			fmt.Fprintln(os.Stderr, importer.FormatUserError(err))
		} else {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}

// setup loads configuration, initialises logging, and opens the
// database pool. The returned cleanup closes the pool.
func setup(ctx context.Context) (*config.Config, *store.PG, func(), error) {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Debug("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load configuration: %w", err)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Debug("configuration loaded",
		"db_max_conns", cfg.Database.MaxConns,
		"batch_size", cfg.Import.BatchSize,
		"semantic_enabled", cfg.Semantic.Enabled(),
	)

	poolConfig, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("parse database URL: %w", err)
	}

	// Apply pool configuration from config
	poolConfig.MaxConns = int32(cfg.Database.MaxConns)
	poolConfig.MinConns = int32(cfg.Database.MinConns)
	poolConfig.MaxConnLifetime = cfg.Database.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.Database.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, nil, fmt.Errorf("ping database: %w", err)
	}

	if u, err := url.Parse(cfg.Database.URL); err == nil {
		slog.Debug("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
	}

	st := store.NewPG(pool)
	if err := st.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, nil, fmt.Errorf("ensure schema: %w", err)
	}

	return cfg, st, pool.Close, nil
}
