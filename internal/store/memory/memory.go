// Package memory is a process-local store for tests and single-node development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/austindbirch/hookrelay/internal/delivery"
	"github.com/austindbirch/hookrelay/internal/destination"
)

type entry struct {
	seq uint64
	rec delivery.Delivery
}

type Store struct {
	mu           sync.RWMutex
	seq          uint64
	deliveries   map[string]entry
	destinations map[string][]destination.Destination
}

func New() *Store {
	return &Store{
		deliveries:   make(map[string]entry),
		destinations: make(map[string][]destination.Destination),
	}
}

func copyDelivery(d delivery.Delivery) delivery.Delivery {
	if d.LastError != nil {
		msg := *d.LastError
		d.LastError = &msg
	}
	return d
}

func (s *Store) Create(_ context.Context, d delivery.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.deliveries[d.ID]; ok {
		return fmt.Errorf("%w: %s", delivery.ErrDuplicate, d.ID)
	}
	s.seq++
	s.deliveries[d.ID] = entry{seq: s.seq, rec: copyDelivery(d)}
	return nil
}

func (s *Store) Get(_ context.Context, id string) (delivery.Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.deliveries[id]
	if !ok {
		return delivery.Delivery{}, delivery.ErrNotFound
	}
	return copyDelivery(e.rec), nil
}

func (s *Store) Update(_ context.Context, id string, u delivery.Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.deliveries[id]
	if !ok {
		return delivery.ErrNotFound
	}
	if e.rec.Status.Terminal() {
		return delivery.ErrTerminal
	}
	e.rec = u.Apply(e.rec)
	s.deliveries[id] = e
	return nil
}

func (s *Store) ListByOwner(_ context.Context, ownerID string, limit int) ([]delivery.Delivery, error) {
	s.mu.RLock()
	matched := make([]entry, 0)
	for _, e := range s.deliveries {
		if e.rec.OwnerID == ownerID {
			matched = append(matched, e)
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.rec.OccurredAt.Equal(b.rec.OccurredAt) {
			return a.rec.OccurredAt.After(b.rec.OccurredAt)
		}
		return a.seq > b.seq
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}

	out := make([]delivery.Delivery, 0, len(matched))
	for _, e := range matched {
		out = append(out, copyDelivery(e.rec))
	}
	return out, nil
}

func (s *Store) CreateDestination(_ context.Context, d destination.Destination) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.destinations[d.OwnerID] = append(s.destinations[d.OwnerID], d)
	return nil
}

func (s *Store) ListDestinations(_ context.Context, ownerID string) ([]destination.Destination, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.destinations[ownerID]
	out := make([]destination.Destination, len(list))
	copy(out, list)
	return out, nil
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }
