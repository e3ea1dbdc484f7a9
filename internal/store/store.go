// Package store selects and opens the configured storage driver.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/austindbirch/hookrelay/internal/config"
	"github.com/austindbirch/hookrelay/internal/db"
	"github.com/austindbirch/hookrelay/internal/delivery"
	"github.com/austindbirch/hookrelay/internal/destination"
	"github.com/austindbirch/hookrelay/internal/store/memory"
	"github.com/austindbirch/hookrelay/internal/store/postgres"
	"github.com/austindbirch/hookrelay/internal/store/redisstore"
	"github.com/austindbirch/hookrelay/internal/store/sqlite"
)

// Backend is one driver serving both records and destinations
type Backend interface {
	delivery.Store
	destination.Store
	Ping(ctx context.Context) error
	Close() error
}

var (
	_ Backend = (*memory.Store)(nil)
	_ Backend = (*postgres.Store)(nil)
	_ Backend = (*sqlite.Store)(nil)
	_ Backend = (*redisstore.Store)(nil)
)

func Open(ctx context.Context, cfg config.Config) (Backend, error) {
	switch cfg.Store.Driver {
	case config.DriverMemory:
		return memory.New(), nil
	case config.DriverSQLite:
		s, err := sqlite.Open(ctx, cfg.Store.SQLitePath)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.DriverRedis:
		s, err := redisstore.Open(ctx, cfg.Store.RedisAddr, cfg.Store.RedisPassword, cfg.Store.RedisDB)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.DriverPostgres:
		pool, err := db.Connect(ctx, cfg.DSN(), db.WithRetry(10, 2*time.Second))
		if err != nil {
			return nil, err
		}
		s := postgres.New(pool)
		if err := s.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}
