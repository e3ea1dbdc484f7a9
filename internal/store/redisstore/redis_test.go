package redisstore

import (
	"context"
	"os"
	"testing"

	goredis "github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/austindbirch/hookrelay/internal/delivery"
	"github.com/austindbirch/hookrelay/internal/store/storetest"
)

// redisOptions targets HOOKRELAY_TEST_REDIS_ADDR when set, otherwise a
// throwaway container. The suite flushes DB 15, so never point it at a
// database holding real data.
func redisOptions(t *testing.T) *goredis.Options {
	t.Helper()
	if addr := os.Getenv("HOOKRELAY_TEST_REDIS_ADDR"); addr != "" {
		return &goredis.Options{Addr: addr, DB: 15}
	}
	if testing.Short() {
		t.Skip("redis container skipped in -short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)
	t.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")

	ctx := context.Background()
	ctr, err := tcredis.Run(ctx, "redis:7-alpine")
	testcontainers.CleanupContainer(t, ctr)
	if err != nil {
		t.Fatalf("start redis container: %v", err)
	}
	uri, err := ctr.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("redis connection string: %v", err)
	}
	opts, err := goredis.ParseURL(uri)
	if err != nil {
		t.Fatalf("ParseURL(%q) error = %v", uri, err)
	}
	opts.DB = 15
	return opts
}

func TestContract(t *testing.T) {
	rdb := goredis.NewClient(redisOptions(t))
	t.Cleanup(func() { rdb.Close() })
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("ping: %v", err)
	}

	storetest.Run(t, func(t *testing.T) storetest.Store {
		if err := rdb.FlushDB(context.Background()).Err(); err != nil {
			t.Fatalf("flushdb: %v", err)
		}
		return New(rdb)
	})
}

func TestDecodeDelivery(t *testing.T) {
	tests := []struct {
		name      string
		fields    map[string]string
		wantErr   bool
		wantNil   bool
		wantLast  string
		wantCount int
	}{
		{name: "empty hash is not found", fields: map[string]string{}, wantErr: true},
		{
			name: "pending without last_error",
			fields: map[string]string{
				"id": "dlv_1", "owner_id": "o", "occurred_at": "2025-03-01T12:00:00Z",
				"status": "pending", "attempts": "0",
			},
			wantNil: true,
		},
		{
			name: "failed with last_error",
			fields: map[string]string{
				"id": "dlv_2", "owner_id": "o", "occurred_at": "2025-03-01T12:00:00.123456789Z",
				"status": "failed", "attempts": "3", "last_error": "HTTP 500",
			},
			wantLast:  "HTTP 500",
			wantCount: 3,
		},
		{
			name:    "bad attempts",
			fields:  map[string]string{"id": "dlv_3", "occurred_at": "2025-03-01T12:00:00Z", "attempts": "x"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := decodeDelivery(tt.fields)
			if tt.wantErr {
				if err == nil {
					t.Errorf("decodeDelivery() error = nil, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("decodeDelivery() error = %v", err)
			}
			if tt.wantNil && d.LastError != nil {
				t.Errorf("LastError = %q, want nil", *d.LastError)
			}
			if tt.wantLast != "" && (d.LastError == nil || *d.LastError != tt.wantLast) {
				t.Errorf("LastError = %v, want %q", d.LastError, tt.wantLast)
			}
			if d.Attempts != tt.wantCount {
				t.Errorf("Attempts = %d, want %d", d.Attempts, tt.wantCount)
			}
		})
	}

	if _, err := decodeDelivery(nil); err != delivery.ErrNotFound {
		t.Errorf("decodeDelivery(nil) = %v, want ErrNotFound", err)
	}
}
