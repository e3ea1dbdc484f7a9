// Package sqlite stores deliveries and destinations in a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/austindbirch/hookrelay/internal/delivery"
	"github.com/austindbirch/hookrelay/internal/destination"
)

//go:embed migrations/*.sql
var migrations embed.FS

type Store struct {
	DB *sql.DB
}

// Open opens the database at path and applies the schema.
// Use ":memory:" for a throwaway database.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection serializes writers and keeps ":memory:" a single database.
	db.SetMaxOpenConns(1)

	if path != ":memory:" {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL: %w", err)
		}
	}
	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{DB: db}, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
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
		if _, err := db.ExecContext(ctx, string(b)); err != nil {
			return fmt.Errorf("apply %s: %w", name, err)
		}
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error { return s.DB.PingContext(ctx) }

func (s *Store) Close() error { return s.DB.Close() }

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey || se.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

func (s *Store) Create(ctx context.Context, d delivery.Delivery) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO deliveries (id, owner_id, source, destination_url, event_type, occurred_at, status, attempts, last_error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.OwnerID, d.Source, d.DestinationURL, d.EventType,
		d.OccurredAt.UTC().UnixNano(), string(d.Status), d.Attempts, nullString(d.LastError),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", delivery.ErrDuplicate, d.ID)
		}
		return fmt.Errorf("insert delivery: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (delivery.Delivery, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT id, owner_id, source, destination_url, event_type, occurred_at, status, attempts, last_error
		 FROM deliveries WHERE id = ?`, id)
	return scanDelivery(row)
}

// Update only touches pending rows, so the write and the terminal check are one statement
func (s *Store) Update(ctx context.Context, id string, u delivery.Update) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE deliveries SET status = ?, attempts = ?, last_error = ?
		 WHERE id = ? AND status = 'pending'`,
		string(u.Status), u.Attempts, nullString(u.LastError), id,
	)
	if err != nil {
		return fmt.Errorf("update delivery: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update delivery: %w", err)
	}
	if n == 1 {
		return nil
	}
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return delivery.ErrTerminal
}

func (s *Store) ListByOwner(ctx context.Context, ownerID string, limit int) ([]delivery.Delivery, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, owner_id, source, destination_url, event_type, occurred_at, status, attempts, last_error
		 FROM deliveries WHERE owner_id = ?
		 ORDER BY occurred_at DESC, rowid DESC
		 LIMIT ?`, ownerID, limit)
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
	active := 0
	if d.Active {
		active = 1
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO destinations (id, owner_id, url, active, created_at) VALUES (?, ?, ?, ?, ?)`,
		d.ID, d.OwnerID, d.URL, active, d.CreatedAt.UTC().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert destination: %w", err)
	}
	return nil
}

func (s *Store) ListDestinations(ctx context.Context, ownerID string) ([]destination.Destination, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, owner_id, url, active, created_at
		 FROM destinations WHERE owner_id = ?
		 ORDER BY created_at ASC, rowid ASC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list destinations: %w", err)
	}
	defer rows.Close()

	out := []destination.Destination{}
	for rows.Next() {
		var d destination.Destination
		var active int
		var created int64
		if err := rows.Scan(&d.ID, &d.OwnerID, &d.URL, &active, &created); err != nil {
			return nil, fmt.Errorf("scan destination: %w", err)
		}
		d.Active = active != 0
		d.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, d)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDelivery(s scanner) (delivery.Delivery, error) {
	var d delivery.Delivery
	var status string
	var occurred int64
	var lastErr sql.NullString
	if err := s.Scan(&d.ID, &d.OwnerID, &d.Source, &d.DestinationURL, &d.EventType,
		&occurred, &status, &d.Attempts, &lastErr); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return d, delivery.ErrNotFound
		}
		return d, fmt.Errorf("scan delivery: %w", err)
	}
	d.Status = delivery.Status(status)
	d.OccurredAt = time.Unix(0, occurred).UTC()
	if lastErr.Valid {
		d.LastError = &lastErr.String
	}
	return d, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
