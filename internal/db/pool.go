package db

import (
	"context"
	"fmt"
	"net/url"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Pool is an alias for pgxpool.Pool
type Pool = pgxpool.Pool

// PoolSettings bounds the connection pool for the observation store
type PoolSettings struct {
	ServiceName string
	URL         string
	MaxConns    int
	MinConns    int
}

// NewPool creates the PostgreSQL pool backing the observation store. The
// pool identifies itself to the server by service name and is sized from
// configuration; the worker's write load is one small transaction per
// observation, so a handful of connections is plenty.
func NewPool(lc fx.Lifecycle, logger *zap.Logger, settings PoolSettings) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(settings.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
	}
	poolCfg.MaxConns = int32(settings.MaxConns)
	poolCfg.MinConns = int32(settings.MinConns)
	poolCfg.ConnConfig.RuntimeParams["application_name"] = settings.ServiceName

	logger.Info("initializing observation store pool",
		zap.String("database", redactedURL(settings.URL)),
		zap.Int("max_conns", settings.MaxConns),
		zap.Int("min_conns", settings.MinConns),
	)

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create observation store pool: %w", err)
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := pool.Ping(ctx); err != nil {
				logger.Error("observation store ping failed",
					zap.Error(err),
					zap.String("database", redactedURL(settings.URL)),
				)
				return fmt.Errorf("observation store unreachable (check that Postgres is running and DATABASE_URL is correct): %w", err)
			}
			logger.Info("observation store connected")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			pool.Close()
			logger.Info("observation store pool closed")
			return nil
		},
	})

	return pool, nil
}

// redactedURL strips credentials from the connection URL for logging
func redactedURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<unparseable>"
	}
	return u.Redacted()
}
