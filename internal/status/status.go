// Package status answers owner-scoped queries about delivery records.
package status

import (
	"context"
	"errors"
	"fmt"

	"github.com/austindbirch/hookrelay/internal/delivery"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

var (
	ErrNotFound  = errors.New("delivery not found")
	ErrForbidden = errors.New("forbidden")
)

type Service struct {
	store delivery.Store
}

func NewService(store delivery.Store) *Service {
	return &Service{store: store}
}

// GetDelivery returns the record only when callerID owns it
func (s *Service) GetDelivery(ctx context.Context, callerID, id string) (delivery.Delivery, error) {
	d, err := s.store.Get(ctx, id)
	if errors.Is(err, delivery.ErrNotFound) {
		return delivery.Delivery{}, ErrNotFound
	}
	if err != nil {
		return delivery.Delivery{}, fmt.Errorf("get delivery: %w", err)
	}
	if d.OwnerID != callerID {
		return delivery.Delivery{}, ErrForbidden
	}
	return d, nil
}

// ListDeliveries returns the owner's records, most recent first
func (s *Service) ListDeliveries(ctx context.Context, ownerID string, limit int) ([]delivery.Delivery, error) {
	list, err := s.store.ListByOwner(ctx, ownerID, ClampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	if list == nil {
		list = []delivery.Delivery{}
	}
	return list, nil
}

// ClampLimit maps non-positive values to DefaultLimit and caps at MaxLimit
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}
