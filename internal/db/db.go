package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const applicationName = "transfer-core"

type poolSettings struct {
	maxConns        int32
	minConns        int32
	maxConnLifetime time.Duration
	maxConnIdleTime time.Duration
	connectTimeout  time.Duration
}

// PoolOption tunes the connection pool opened by Connect.
type PoolOption func(*poolSettings)

func WithMaxConns(n int32) PoolOption {
	return func(s *poolSettings) {
		if n > 0 {
			s.maxConns = n
		}
	}
}

func WithConnectTimeout(d time.Duration) PoolOption {
	return func(s *poolSettings) {
		if d > 0 {
			s.connectTimeout = d
		}
	}
}

// Connect opens a pool whose sessions run in UTC. Daily usage windows are computed in Go
// against the business timezone, so the server timezone must not shift timestamps.
func Connect(ctx context.Context, dbURL string, opts ...PoolOption) (*pgxpool.Pool, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	s := poolSettings{
		maxConns:        10,
		minConns:        2,
		maxConnLifetime: time.Hour,
		maxConnIdleTime: 30 * time.Minute,
		connectTimeout:  5 * time.Second,
	}
	for _, opt := range opts {
		opt(&s)
	}
	if s.minConns > s.maxConns {
		s.minConns = s.maxConns
	}

	config, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}
	config.MaxConns = s.maxConns
	config.MinConns = s.minConns
	config.MaxConnLifetime = s.maxConnLifetime
	config.MaxConnIdleTime = s.maxConnIdleTime
	if config.ConnConfig.RuntimeParams == nil {
		config.ConnConfig.RuntimeParams = map[string]string{}
	}
	config.ConnConfig.RuntimeParams["timezone"] = "UTC"
	if _, ok := config.ConnConfig.RuntimeParams["application_name"]; !ok {
		config.ConnConfig.RuntimeParams["application_name"] = applicationName
	}

	ctx, cancel := context.WithTimeout(ctx, s.connectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	return pool, nil
}
