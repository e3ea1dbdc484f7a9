// Package redisstore keeps deliveries and destinations in Redis hashes with
// per-owner indexes.
package redisstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/austindbirch/hookrelay/internal/delivery"
	"github.com/austindbirch/hookrelay/internal/destination"
)

const (
	prefixDelivery    = "hookrelay:dlv:"
	prefixDestination = "hookrelay:dst:"
	zOwnerDeliveries  = "hookrelay:z:dlv:owner:"
	lOwnerDestination = "hookrelay:l:dst:owner:"
)

// createScript inserts the hash and its owner index only when the key is new.
// KEYS[1] = delivery hash, KEYS[2] = owner sorted set
// ARGV[1] = score, ARGV[2] = id, ARGV[3..] = field/value pairs
var createScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then return 0 end
redis.call('HSET', KEYS[1], unpack(ARGV, 3))
redis.call('ZADD', KEYS[2], ARGV[1], ARGV[2])
return 1
`)

// updateScript writes status, attempts and last_error together, refusing terminal records.
// KEYS[1] = delivery hash
// ARGV[1] = status, ARGV[2] = attempts, ARGV[3] = "1" when last_error is set, ARGV[4] = last_error
var updateScript = goredis.NewScript(`
local st = redis.call('HGET', KEYS[1], 'status')
if not st then return 0 end
if st ~= 'pending' then return -1 end
redis.call('HSET', KEYS[1], 'status', ARGV[1], 'attempts', ARGV[2])
if ARGV[3] == '1' then
    redis.call('HSET', KEYS[1], 'last_error', ARGV[4])
else
    redis.call('HDEL', KEYS[1], 'last_error')
end
return 1
`)

type Store struct {
	rdb goredis.UniversalClient
}

func New(rdb goredis.UniversalClient) *Store {
	return &Store{rdb: rdb}
}

// Open connects to a single Redis node and verifies it with PING
func Open(ctx context.Context, addr, password string, db int) (*Store, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return New(rdb), nil
}

func (s *Store) Ping(ctx context.Context) error { return s.rdb.Ping(ctx).Err() }

func (s *Store) Close() error { return s.rdb.Close() }

func (s *Store) Create(ctx context.Context, d delivery.Delivery) error {
	args := []any{d.OccurredAt.UnixMilli(), d.ID,
		"id", d.ID,
		"owner_id", d.OwnerID,
		"source", d.Source,
		"destination_url", d.DestinationURL,
		"event_type", d.EventType,
		"occurred_at", d.OccurredAt.UTC().Format(time.RFC3339Nano),
		"status", string(d.Status),
		"attempts", d.Attempts,
	}
	if d.LastError != nil {
		args = append(args, "last_error", *d.LastError)
	}
	n, err := createScript.Run(ctx, s.rdb, []string{prefixDelivery + d.ID, zOwnerDeliveries + d.OwnerID}, args...).Int()
	if err != nil {
		return fmt.Errorf("redis create delivery: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", delivery.ErrDuplicate, d.ID)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (delivery.Delivery, error) {
	fields, err := s.rdb.HGetAll(ctx, prefixDelivery+id).Result()
	if err != nil {
		return delivery.Delivery{}, fmt.Errorf("redis get delivery: %w", err)
	}
	return decodeDelivery(fields)
}

func (s *Store) Update(ctx context.Context, id string, u delivery.Update) error {
	hasErr, lastErr := "0", ""
	if u.LastError != nil {
		hasErr, lastErr = "1", *u.LastError
	}
	n, err := updateScript.Run(ctx, s.rdb, []string{prefixDelivery + id},
		string(u.Status), u.Attempts, hasErr, lastErr).Int()
	if err != nil {
		return fmt.Errorf("redis update delivery: %w", err)
	}
	switch n {
	case 0:
		return delivery.ErrNotFound
	case -1:
		return delivery.ErrTerminal
	}
	return nil
}

func (s *Store) ListByOwner(ctx context.Context, ownerID string, limit int) ([]delivery.Delivery, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	ids, err := s.rdb.ZRevRange(ctx, zOwnerDeliveries+ownerID, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list deliveries: %w", err)
	}
	if len(ids) == 0 {
		return []delivery.Delivery{}, nil
	}

	pipe := s.rdb.Pipeline()
	cmds := make([]*goredis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, prefixDelivery+id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis list deliveries: %w", err)
	}

	out := make([]delivery.Delivery, 0, len(ids))
	for _, cmd := range cmds {
		d, err := decodeDelivery(cmd.Val())
		if err != nil {
			continue // index entry without a hash
		}
		out = append(out, d)
	}
	return out, nil
}

func (s *Store) CreateDestination(ctx context.Context, d destination.Destination) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HSet(ctx, prefixDestination+d.ID,
			"id", d.ID,
			"owner_id", d.OwnerID,
			"url", d.URL,
			"active", strconv.FormatBool(d.Active),
			"created_at", d.CreatedAt.UTC().Format(time.RFC3339Nano),
		)
		pipe.RPush(ctx, lOwnerDestination+d.OwnerID, d.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis create destination: %w", err)
	}
	return nil
}

func (s *Store) ListDestinations(ctx context.Context, ownerID string) ([]destination.Destination, error) {
	ids, err := s.rdb.LRange(ctx, lOwnerDestination+ownerID, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list destinations: %w", err)
	}
	out := make([]destination.Destination, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	pipe := s.rdb.Pipeline()
	cmds := make([]*goredis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, prefixDestination+id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis list destinations: %w", err)
	}
	for _, cmd := range cmds {
		f := cmd.Val()
		if len(f) == 0 {
			continue
		}
		created, _ := time.Parse(time.RFC3339Nano, f["created_at"])
		active, _ := strconv.ParseBool(f["active"])
		out = append(out, destination.Destination{
			ID:        f["id"],
			OwnerID:   f["owner_id"],
			URL:       f["url"],
			Active:    active,
			CreatedAt: created.UTC(),
		})
	}
	return out, nil
}

func decodeDelivery(f map[string]string) (delivery.Delivery, error) {
	if len(f) == 0 {
		return delivery.Delivery{}, delivery.ErrNotFound
	}
	occurred, err := time.Parse(time.RFC3339Nano, f["occurred_at"])
	if err != nil {
		return delivery.Delivery{}, fmt.Errorf("parse occurred_at: %w", err)
	}
	attempts, err := strconv.Atoi(f["attempts"])
	if err != nil {
		return delivery.Delivery{}, fmt.Errorf("parse attempts: %w", err)
	}
	d := delivery.Delivery{
		ID:             f["id"],
		OwnerID:        f["owner_id"],
		Source:         f["source"],
		DestinationURL: f["destination_url"],
		EventType:      f["event_type"],
		OccurredAt:     occurred.UTC(),
		Status:         delivery.Status(f["status"]),
		Attempts:       attempts,
	}
	if msg, ok := f["last_error"]; ok {
		d.LastError = &msg
	}
	return d, nil
}
