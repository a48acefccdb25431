package database

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/avast/retry-go"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rickgao/memestream/internal/config"
)

// Connect creates a single connection pool and verifies it with a ping.
func Connect(ctx context.Context, cfg config.DBConfig) (*pgxpool.Pool, error) {
	connStr := BuildConnString(cfg)

	poolCfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// ConnectWithRetry connects to TimescaleDB, retrying with exponential backoff
// while the database comes up.
func ConnectWithRetry(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (*pgxpool.Pool, error) {
	if logger == nil {
		logger = slog.Default()
	}

	attempts := cfg.ConnectAttempts
	if attempts < 1 {
		attempts = 1
	}

	var pool *pgxpool.Pool
	err := retry.Do(
		func() error {
			if ctx.Err() != nil {
				return retry.Unrecoverable(ctx.Err())
			}
			p, err := Connect(ctx, cfg.Timescale)
			if err != nil {
				return err
			}
			pool = p
			return nil
		},
		retry.Attempts(uint(attempts)),
		retry.Delay(cfg.ConnectDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn("database connect failed, retrying",
				"attempt", int(n+1),
				"host", cfg.Timescale.Host,
				"error", err,
			)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect timescale: %w", err)
	}

	logger.Info("database connected", "host", cfg.Timescale.Host, "name", cfg.Timescale.Name)
	return pool, nil
}
