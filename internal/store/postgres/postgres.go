// Package postgres stores deliveries and destinations in PostgreSQL via pgx.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/austindbirch/hookrelay/internal/delivery"
	"github.com/austindbirch/hookrelay/internal/destination"
)

//go:embed migrations/*.sql
var migrations embed.FS

const uniqueViolation = "23505"

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Migrate applies the embedded schema; every statement is idempotent
func (s *Store) Migrate(ctx context.Context) error {
	names, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(names)
	for _, name := range names {
		b, err := migrations.ReadFile(name)
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		if _, err := s.pool.Exec(ctx, string(b)); err != nil {
			return fmt.Errorf("apply %s: %w", name, err)
		}
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) Create(ctx context.Context, d delivery.Delivery) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO hookrelay.deliveries(id, owner_id, source, destination_url, event_type, occurred_at, status, attempts, last_error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		d.ID, d.OwnerID, d.Source, d.DestinationURL, d.EventType,
		d.OccurredAt.UTC(), string(d.Status), d.Attempts, d.LastError,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("%w: %s", delivery.ErrDuplicate, d.ID)
		}
		return fmt.Errorf("insert delivery: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (delivery.Delivery, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, owner_id, source, destination_url, event_type, occurred_at, status, attempts, last_error
		FROM hookrelay.deliveries WHERE id = $1`, id)
	return scanDelivery(row)
}

// Update guards on status = 'pending' so the terminal check and the write are one statement
func (s *Store) Update(ctx context.Context, id string, u delivery.Update) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE hookrelay.deliveries
		SET status = $2, attempts = $3, last_error = $4, updated_at = now()
		WHERE id = $1 AND status = 'pending'`,
		id, string(u.Status), u.Attempts, u.LastError,
	)
	if err != nil {
		return fmt.Errorf("update delivery: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return delivery.ErrTerminal
}

func (s *Store) ListByOwner(ctx context.Context, ownerID string, limit int) ([]delivery.Delivery, error) {
	var lim *int
	if limit > 0 {
		lim = &limit
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, owner_id, source, destination_url, event_type, occurred_at, status, attempts, last_error
		FROM hookrelay.deliveries
		WHERE owner_id = $1
		ORDER BY occurred_at DESC, id DESC
		LIMIT $2`, ownerID, lim)
	if err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	defer rows.Close()

	out := []delivery.Delivery{}
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) CreateDestination(ctx context.Context, d destination.Destination) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO hookrelay.destinations(id, owner_id, url, active, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		d.ID, d.OwnerID, d.URL, d.Active, d.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert destination: %w", err)
	}
	return nil
}

func (s *Store) ListDestinations(ctx context.Context, ownerID string) ([]destination.Destination, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, owner_id, url, active, created_at
		FROM hookrelay.destinations
		WHERE owner_id = $1
		ORDER BY created_at ASC, id ASC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list destinations: %w", err)
	}
	defer rows.Close()

	out := []destination.Destination{}
	for rows.Next() {
		var d destination.Destination
		if err := rows.Scan(&d.ID, &d.OwnerID, &d.URL, &d.Active, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan destination: %w", err)
		}
		d.CreatedAt = d.CreatedAt.UTC()
		out = append(out, d)
	}
	return out, rows.Err()
}

func scanDelivery(row pgx.Row) (delivery.Delivery, error) {
	var d delivery.Delivery
	var status string
	var occurred time.Time
	if err := row.Scan(&d.ID, &d.OwnerID, &d.Source, &d.DestinationURL, &d.EventType,
		&occurred, &status, &d.Attempts, &d.LastError); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return d, delivery.ErrNotFound
		}
		return d, fmt.Errorf("scan delivery: %w", err)
	}
	d.Status = delivery.Status(status)
	d.OccurredAt = occurred.UTC()
	return d, nil
}
