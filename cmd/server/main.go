package main

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/finbase/b3ingest/internal/config"
	"github.com/finbase/b3ingest/internal/ingest"
	"github.com/finbase/b3ingest/internal/ledger"
	"github.com/finbase/b3ingest/internal/logging"
	"github.com/finbase/b3ingest/internal/storage"
	"github.com/finbase/b3ingest/internal/store"
	"github.com/finbase/b3ingest/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"db_max_conns", cfg.Database.MaxConns,
		"batch_size", cfg.Upload.BatchSize,
		"reject_duplicates", cfg.Upload.RejectDuplicates,
	)

	ctx := context.Background()

	pool, err := connectDatabase(ctx, cfg)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if u, err := url.Parse(cfg.Database.URL); err == nil {
		slog.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
	} else {
		slog.Info("connected to database")
	}

	contents := store.NewPostgresContentStore(pool)
	if err := contents.EnsureSchema(ctx); err != nil {
		slog.Error("failed to ensure schema", "error", err)
		os.Exit(1)
	}

	uploads, err := openLedger(cfg)
	if err != nil {
		slog.Error("failed to open upload ledger", "error", err)
		os.Exit(1)
	}
	defer uploads.Close()

	service := ingest.NewService(contents, uploads, storage.New(cfg.Upload.Dir), ingest.Options{
		BatchSize:        cfg.Upload.BatchSize,
		RejectDuplicates: cfg.Upload.RejectDuplicates,
		HistoryCacheKey:  cfg.Cache.HistoryKey,
		HistoryCacheTTL:  cfg.Cache.HistoryTTL,
	})

	limiter := ingest.NewLimiter(cfg.Upload.MaxConcurrent, cfg.Upload.MaxWait)

	server := web.NewServer(service, pool, limiter, cfg)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
		if err := limiter.WaitForDrain(shutdownCtx); err != nil {
			slog.Error("uploads still in flight at shutdown", "error", err)
		}
	}()

	slog.Info("server starting", "addr", cfg.Server.Addr())
	if err := server.Start(); err != nil {
		slog.Info("server stopped", "error", err)
	}
}

// connectDatabase builds the pgx pool and pings it, retrying with
// exponential backoff so the service survives a database that is still
// coming up.
func connectDatabase(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		return nil, err
	}

	poolConfig.MaxConns = int32(cfg.Database.MaxConns)
	poolConfig.MinConns = int32(cfg.Database.MinConns)
	poolConfig.MaxConnLifetime = cfg.Database.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.Database.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, err
	}

	policy := backoff.WithContext(
		backoff.NewExponentialBackOff(backoff.WithMaxElapsedTime(cfg.Database.ConnectRetryTime)),
		ctx,
	)
	err = backoff.Retry(func() error {
		if err := pool.Ping(ctx); err != nil {
			slog.Warn("database not ready, retrying", "error", err)
			return err
		}
		return nil
	}, policy)
	if err != nil {
		pool.Close()
		return nil, err
	}

	return pool, nil
}

// openLedger opens the configured upload ledger store.
func openLedger(cfg *config.Config) (*ledger.Badger, error) {
	if cfg.Ledger.InMemory {
		return ledger.OpenInMemory()
	}
	return ledger.Open(cfg.Ledger.Path)
}
