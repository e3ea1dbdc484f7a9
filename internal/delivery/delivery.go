// Package delivery holds the delivery record model and the engine that drives
// a record through its bounded sequence of HTTP attempts.
package delivery

import (
	"context"
	"errors"
	"time"
)

// Status is the lifecycle state of a delivery record
type Status string

const (
	StatusPending   Status = "pending"
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further updates are allowed in this state
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusFailed
}

// Valid reports whether s is one of the known states
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusDelivered, StatusFailed:
		return true
	}
	return false
}

var (
	ErrNotFound  = errors.New("delivery not found")
	ErrTerminal  = errors.New("delivery is in a terminal state")
	ErrDuplicate = errors.New("delivery already exists")
)

// Delivery is the persisted record of one inbound event being forwarded to one destination
type Delivery struct {
	ID             string    `json:"id"`
	OwnerID        string    `json:"owner_id"`
	Source         string    `json:"source"`
	DestinationURL string    `json:"destination_url"`
	EventType      string    `json:"event_type"`
	OccurredAt     time.Time `json:"occurred_at"`
	Status         Status    `json:"status"`
	Attempts       int       `json:"attempts"`
	LastError      *string   `json:"last_error"`
}

// Update is the set of fields written together after every attempt
type Update struct {
	Status    Status
	Attempts  int
	LastError *string
}

// Apply returns a copy of d with u written over it
func (u Update) Apply(d Delivery) Delivery {
	d.Status = u.Status
	d.Attempts = u.Attempts
	d.LastError = nil
	if u.LastError != nil {
		msg := *u.LastError
		d.LastError = &msg
	}
	return d
}

// Store persists delivery records.
//
// Update writes {status, attempts, last_error} as one atomic step and returns
// ErrTerminal when the stored record is already delivered or failed.
// ListByOwner returns the most recent records first.
type Store interface {
	Create(ctx context.Context, d Delivery) error
	Get(ctx context.Context, id string) (Delivery, error)
	Update(ctx context.Context, id string, u Update) error
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]Delivery, error)
}

// StringPtr is a small helper for optional last_error values
func StringPtr(s string) *string {
	return &s
}
