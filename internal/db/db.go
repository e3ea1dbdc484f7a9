package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type options struct {
	maxConns    int32
	pingTimeout time.Duration
	retries     int
	retryDelay  time.Duration
}

type Option func(*options)

// WithMaxConns caps the pool size
func WithMaxConns(n int32) Option {
	return func(o *options) { o.maxConns = n }
}

// WithRetry re-pings up to n extra times, waiting delay between tries.
// Useful when the relay and postgres start together.
func WithRetry(n int, delay time.Duration) Option {
	return func(o *options) {
		o.retries = n
		o.retryDelay = delay
	}
}

// Connect establishes a connection pool to the database and verifies it with a ping
func Connect(ctx context.Context, dsn string, opts ...Option) (*pgxpool.Pool, error) {
	o := options{maxConns: 10, pingTimeout: 5 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = o.maxConns
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	for attempt := 0; ; attempt++ {
		err = ping(ctx, pool, o.pingTimeout)
		if err == nil {
			return pool, nil
		}
		if attempt >= o.retries {
			break
		}
		select {
		case <-ctx.Done():
			pool.Close()
			return nil, fmt.Errorf("ping database: %w", ctx.Err())
		case <-time.After(o.retryDelay):
		}
	}
	pool.Close()
	return nil, fmt.Errorf("ping database: %w", err)
}

func ping(ctx context.Context, pool *pgxpool.Pool, timeout time.Duration) error {
	ctxPing, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return pool.Ping(ctxPing)
}
