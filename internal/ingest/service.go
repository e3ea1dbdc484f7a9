package ingest

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/austindbirch/hookrelay/internal/delivery"
	"github.com/austindbirch/hookrelay/internal/destination"
	"github.com/austindbirch/hookrelay/internal/ids"
	"github.com/austindbirch/hookrelay/internal/logging"
	"github.com/austindbirch/hookrelay/internal/metrics"
	"github.com/austindbirch/hookrelay/internal/tracing"
)

var (
	ErrNoDestinationConfigured = errors.New("no active destination configured")
	ErrInvalidInput            = errors.New("invalid input")
	ErrDispatch                = errors.New("delivery could not be scheduled")
)

// DispatchError reports a scheduling failure after the record was persisted.
// The record stays pending with 0 attempts under DeliveryID.
type DispatchError struct {
	DeliveryID string
	Err        error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("%v: %s: %v", ErrDispatch, e.DeliveryID, e.Err)
}

func (e *DispatchError) Is(target error) bool { return target == ErrDispatch }

func (e *DispatchError) Unwrap() error { return e.Err }

// Scheduler starts the attempt loop for a task without waiting for its outcome
type Scheduler interface {
	Schedule(ctx context.Context, t delivery.Task) error
}

// Accepted is returned once the record is persisted and scheduled
type Accepted struct {
	Status         string         `json:"status"`
	OwnerID        string         `json:"user_id"`
	DeliveryID     string         `json:"delivery_id"`
	DestinationURL string         `json:"destination_url"`
	Event          delivery.Event `json:"event"`
}

type Coordinator struct {
	resolver  destination.Resolver
	store     delivery.Store
	scheduler Scheduler
	logger    *logging.Logger
}

func NewCoordinator(resolver destination.Resolver, store delivery.Store, scheduler Scheduler, logger *logging.Logger) *Coordinator {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Coordinator{resolver: resolver, store: store, scheduler: scheduler, logger: logger}
}

// Ingest records an inbound event for ownerID and hands it to the scheduler.
// No record is created when the owner has no active destination.
func (c *Coordinator) Ingest(ctx context.Context, ownerID, source string, payload map[string]any) (Accepted, error) {
	ctx, span := tracing.StartSpan(ctx, "ingest.Ingest",
		attribute.String("owner_id", ownerID),
		attribute.String("source", source),
	)
	defer span.End()

	switch {
	case ownerID == "":
		return Accepted{}, fmt.Errorf("%w: owner is required", ErrInvalidInput)
	case source == "":
		return Accepted{}, fmt.Errorf("%w: source is required", ErrInvalidInput)
	case payload == nil:
		return Accepted{}, fmt.Errorf("%w: payload must be a JSON object", ErrInvalidInput)
	}

	tracing.AddSpanEvent(ctx, "destination.resolve")
	url, ok, err := c.resolver.ActiveURLFor(ctx, ownerID)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return Accepted{}, err
	}
	if !ok {
		return Accepted{}, ErrNoDestinationConfigured
	}

	ev := delivery.NewEvent(source, payload)
	rec := delivery.Delivery{
		ID:             ids.NewDelivery(),
		OwnerID:        ownerID,
		Source:         source,
		DestinationURL: url,
		EventType:      ev.EventType,
		OccurredAt:     ev.OccurredAt,
		Status:         delivery.StatusPending,
		Attempts:       0,
	}
	span.SetAttributes(
		attribute.String("delivery_id", rec.ID),
		attribute.String("event_id", ev.EventID),
		attribute.String("event_type", ev.EventType),
	)

	tracing.AddSpanEvent(ctx, "db.insert_delivery")
	if err := c.store.Create(ctx, rec); err != nil {
		tracing.SetSpanError(ctx, err)
		return Accepted{}, fmt.Errorf("persist delivery: %w", err)
	}

	log := c.logger.WithContext(ctx).WithOwner(ownerID).WithDelivery(rec.ID).WithEvent(ev.EventID).WithDestination(url)

	task := delivery.Task{
		DeliveryID:     rec.ID,
		OwnerID:        ownerID,
		DestinationURL: url,
		Event:          ev,
		TraceHeaders:   tracing.InjectHeaders(ctx),
	}
	tracing.AddSpanEvent(ctx, "delivery.schedule")
	if err := c.scheduler.Schedule(ctx, task); err != nil {
		tracing.SetSpanError(ctx, err)
		log.WithError(err).Error("schedule delivery failed, record left pending")
		return Accepted{}, &DispatchError{DeliveryID: rec.ID, Err: err}
	}

	metrics.RecordEventIngested(ownerID)
	log.WithFields(map[string]any{"source": source, "event_type": ev.EventType}).Info("event accepted")

	return Accepted{
		Status:         "accepted",
		OwnerID:        ownerID,
		DeliveryID:     rec.ID,
		DestinationURL: url,
		Event:          ev,
	}, nil
}
