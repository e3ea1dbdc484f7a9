// Package storetest is the behavioral contract every store driver must pass.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/austindbirch/hookrelay/internal/delivery"
	"github.com/austindbirch/hookrelay/internal/destination"
)

// Store is the combined surface a driver exposes
type Store interface {
	delivery.Store
	destination.Store
}

// Factory returns an empty store; cleanup is registered on t
type Factory func(t *testing.T) Store

func Run(t *testing.T, newStore Factory) {
	t.Run("CreateGet", func(t *testing.T) { testCreateGet(t, newStore(t)) })
	t.Run("DuplicateCreate", func(t *testing.T) { testDuplicate(t, newStore(t)) })
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, newStore(t)) })
	t.Run("UpdateLifecycle", func(t *testing.T) { testUpdateLifecycle(t, newStore(t)) })
	t.Run("UpdateMissing", func(t *testing.T) { testUpdateMissing(t, newStore(t)) })
	t.Run("TerminalIsImmutable", func(t *testing.T) { testTerminal(t, newStore(t)) })
	t.Run("ListByOwner", func(t *testing.T) { testListByOwner(t, newStore(t)) })
	t.Run("ConcurrentUpdates", func(t *testing.T) { testConcurrentUpdates(t, newStore(t)) })
	t.Run("Destinations", func(t *testing.T) { testDestinations(t, newStore(t)) })
}

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func record(id, owner string, at time.Time) delivery.Delivery {
	return delivery.Delivery{
		ID:             id,
		OwnerID:        owner,
		Source:         "stripe",
		DestinationURL: "https://example.com/hook",
		EventType:      "invoice.paid",
		OccurredAt:     at,
		Status:         delivery.StatusPending,
	}
}

func mustCreate(t *testing.T, s Store, d delivery.Delivery) {
	t.Helper()
	if err := s.Create(context.Background(), d); err != nil {
		t.Fatalf("Create(%s) error = %v", d.ID, err)
	}
}

func testCreateGet(t *testing.T, s Store) {
	ctx := context.Background()
	want := record("dlv_a", "owner-1", base)
	mustCreate(t, s, want)

	got, err := s.Get(ctx, want.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.ID != want.ID || got.OwnerID != want.OwnerID || got.Source != want.Source ||
		got.DestinationURL != want.DestinationURL || got.EventType != want.EventType {
		t.Errorf("Get() = %+v, want %+v", got, want)
	}
	if !got.OccurredAt.Equal(want.OccurredAt) {
		t.Errorf("Get() OccurredAt = %v, want %v", got.OccurredAt, want.OccurredAt)
	}
	if got.Status != delivery.StatusPending || got.Attempts != 0 || got.LastError != nil {
		t.Errorf("Get() state = %s/%d/%v, want pending/0/nil", got.Status, got.Attempts, got.LastError)
	}

	again, err := s.Get(ctx, want.ID)
	if err != nil {
		t.Fatalf("second Get() error = %v", err)
	}
	if again.Status != got.Status || again.Attempts != got.Attempts || !again.OccurredAt.Equal(got.OccurredAt) {
		t.Errorf("repeated Get() = %+v, want %+v", again, got)
	}
}

func testDuplicate(t *testing.T, s Store) {
	mustCreate(t, s, record("dlv_dup", "o", base))
	err := s.Create(context.Background(), record("dlv_dup", "o", base))
	if !errors.Is(err, delivery.ErrDuplicate) {
		t.Errorf("Create(duplicate) = %v, want ErrDuplicate", err)
	}
}

func testGetMissing(t *testing.T, s Store) {
	if _, err := s.Get(context.Background(), "dlv_nope"); !errors.Is(err, delivery.ErrNotFound) {
		t.Errorf("Get(missing) = %v, want ErrNotFound", err)
	}
}

func testUpdateLifecycle(t *testing.T, s Store) {
	ctx := context.Background()
	mustCreate(t, s, record("dlv_u", "o", base))

	steps := []delivery.Update{
		{Status: delivery.StatusPending, Attempts: 1, LastError: delivery.StringPtr("HTTP 500")},
		{Status: delivery.StatusPending, Attempts: 2, LastError: delivery.StringPtr("transport: connection refused")},
		{Status: delivery.StatusDelivered, Attempts: 3},
	}
	for i, u := range steps {
		if err := s.Update(ctx, "dlv_u", u); err != nil {
			t.Fatalf("Update(step %d) error = %v", i, err)
		}
		got, err := s.Get(ctx, "dlv_u")
		if err != nil {
			t.Fatalf("Get(step %d) error = %v", i, err)
		}
		if got.Status != u.Status || got.Attempts != u.Attempts {
			t.Errorf("step %d: state = %s/%d, want %s/%d", i, got.Status, got.Attempts, u.Status, u.Attempts)
		}
		switch {
		case u.LastError == nil && got.LastError != nil:
			t.Errorf("step %d: LastError = %q, want nil", i, *got.LastError)
		case u.LastError != nil && (got.LastError == nil || *got.LastError != *u.LastError):
			t.Errorf("step %d: LastError = %v, want %q", i, got.LastError, *u.LastError)
		}
	}
}

func testUpdateMissing(t *testing.T, s Store) {
	err := s.Update(context.Background(), "dlv_ghost", delivery.Update{Status: delivery.StatusPending, Attempts: 1})
	if !errors.Is(err, delivery.ErrNotFound) {
		t.Errorf("Update(missing) = %v, want ErrNotFound", err)
	}
}

func testTerminal(t *testing.T, s Store) {
	ctx := context.Background()
	for _, final := range []delivery.Status{delivery.StatusDelivered, delivery.StatusFailed} {
		id := "dlv_t_" + string(final)
		mustCreate(t, s, record(id, "o", base))
		u := delivery.Update{Status: final, Attempts: 3}
		if final == delivery.StatusFailed {
			u.LastError = delivery.StringPtr("HTTP 500")
		}
		if err := s.Update(ctx, id, u); err != nil {
			t.Fatalf("Update(%s) error = %v", final, err)
		}

		err := s.Update(ctx, id, delivery.Update{Status: delivery.StatusPending, Attempts: 1})
		if !errors.Is(err, delivery.ErrTerminal) {
			t.Errorf("Update(after %s) = %v, want ErrTerminal", final, err)
		}
		got, _ := s.Get(ctx, id)
		if got.Status != final || got.Attempts != 3 {
			t.Errorf("%s record changed after refusal: %s/%d", final, got.Status, got.Attempts)
		}
	}
}

func testListByOwner(t *testing.T, s Store) {
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		mustCreate(t, s, record(fmt.Sprintf("dlv_o1_%d", i), "owner-1", base.Add(time.Duration(i)*time.Second)))
	}
	mustCreate(t, s, record("dlv_o2_0", "owner-2", base.Add(time.Hour)))

	got, err := s.ListByOwner(ctx, "owner-1", 3)
	if err != nil {
		t.Fatalf("ListByOwner() error = %v", err)
	}
	want := []string{"dlv_o1_4", "dlv_o1_3", "dlv_o1_2"}
	if len(got) != len(want) {
		t.Fatalf("ListByOwner() returned %d records, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("ListByOwner()[%d] = %s, want %s", i, got[i].ID, id)
		}
		if got[i].OwnerID != "owner-1" {
			t.Errorf("ListByOwner()[%d] owner = %s, want owner-1", i, got[i].OwnerID)
		}
	}

	all, err := s.ListByOwner(ctx, "owner-1", 100)
	if err != nil {
		t.Fatalf("ListByOwner(100) error = %v", err)
	}
	if len(all) != 5 {
		t.Errorf("ListByOwner(100) returned %d, want 5", len(all))
	}

	none, err := s.ListByOwner(ctx, "nobody", 20)
	if err != nil {
		t.Fatalf("ListByOwner(nobody) error = %v", err)
	}
	if len(none) != 0 {
		t.Errorf("ListByOwner(nobody) returned %d, want 0", len(none))
	}
}

func testConcurrentUpdates(t *testing.T, s Store) {
	ctx := context.Background()
	const n = 10
	for i := 0; i < n; i++ {
		mustCreate(t, s, record(fmt.Sprintf("dlv_c_%d", i), "o", base.Add(time.Duration(i)*time.Millisecond)))
	}

	var wg sync.WaitGroup
	errs := make(chan error, n*3)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for a := 1; a <= 2; a++ {
				if err := s.Update(ctx, id, delivery.Update{Status: delivery.StatusPending, Attempts: a, LastError: delivery.StringPtr("HTTP 503")}); err != nil {
					errs <- err
				}
			}
			if err := s.Update(ctx, id, delivery.Update{Status: delivery.StatusDelivered, Attempts: 3}); err != nil {
				errs <- err
			}
		}(fmt.Sprintf("dlv_c_%d", i))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent Update() error = %v", err)
	}

	for i := 0; i < n; i++ {
		got, err := s.Get(ctx, fmt.Sprintf("dlv_c_%d", i))
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got.Status != delivery.StatusDelivered || got.Attempts != 3 || got.LastError != nil {
			t.Errorf("%s = %s/%d/%v, want delivered/3/nil", got.ID, got.Status, got.Attempts, got.LastError)
		}
	}
}

func testDestinations(t *testing.T, s Store) {
	ctx := context.Background()
	dests := []destination.Destination{
		{ID: "dst_1", OwnerID: "owner-1", URL: "https://a.example.com", Active: true, CreatedAt: base},
		{ID: "dst_2", OwnerID: "owner-1", URL: "https://b.example.com", Active: false, CreatedAt: base.Add(time.Second)},
		{ID: "dst_3", OwnerID: "owner-2", URL: "https://c.example.com", Active: true, CreatedAt: base.Add(2 * time.Second)},
	}
	for _, d := range dests {
		if err := s.CreateDestination(ctx, d); err != nil {
			t.Fatalf("CreateDestination(%s) error = %v", d.ID, err)
		}
	}

	got, err := s.ListDestinations(ctx, "owner-1")
	if err != nil {
		t.Fatalf("ListDestinations() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ListDestinations() returned %d, want 2", len(got))
	}
	if got[0].ID != "dst_1" || got[1].ID != "dst_2" {
		t.Errorf("ListDestinations() order = [%s %s], want [dst_1 dst_2]", got[0].ID, got[1].ID)
	}
	if !got[0].Active || got[1].Active {
		t.Errorf("ListDestinations() active flags = [%v %v], want [true false]", got[0].Active, got[1].Active)
	}
	if got[0].URL != "https://a.example.com" || !got[0].CreatedAt.Equal(base) {
		t.Errorf("ListDestinations()[0] = %+v", got[0])
	}

	empty, err := s.ListDestinations(ctx, "owner-3")
	if err != nil {
		t.Fatalf("ListDestinations(empty) error = %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("ListDestinations(empty) returned %d, want 0", len(empty))
	}
}
