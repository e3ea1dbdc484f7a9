package dispatch

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/austindbirch/hookrelay/internal/delivery"
	"github.com/austindbirch/hookrelay/internal/logging"
	"github.com/austindbirch/hookrelay/internal/store/memory"
)

type blockingRunner struct {
	mu       sync.Mutex
	started  chan string
	release  chan struct{}
	finished []string
	ctxErrs  []error
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{started: make(chan string, 16), release: make(chan struct{})}
}

func (r *blockingRunner) RunDelivery(ctx context.Context, t delivery.Task) {
	r.started <- t.DeliveryID
	select {
	case <-r.release:
	case <-ctx.Done():
	}
	r.mu.Lock()
	r.finished = append(r.finished, t.DeliveryID)
	r.ctxErrs = append(r.ctxErrs, ctx.Err())
	r.mu.Unlock()
}

func TestLocal_ScheduleDoesNotBlock(t *testing.T) {
	r := newBlockingRunner()
	l := NewLocal(r, logging.Discard())

	done := make(chan error, 1)
	go func() { done <- l.Schedule(context.Background(), delivery.Task{DeliveryID: "dlv_1"}) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Schedule() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Schedule() blocked on the running loop")
	}

	if got := <-r.started; got != "dlv_1" {
		t.Errorf("started %q, want dlv_1", got)
	}
	close(r.release)
	if err := l.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if len(r.finished) != 1 {
		t.Errorf("finished = %v, want one loop", r.finished)
	}
}

func TestLocal_LoopSurvivesCallerCancel(t *testing.T) {
	r := newBlockingRunner()
	l := NewLocal(r, logging.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	if err := l.Schedule(ctx, delivery.Task{DeliveryID: "dlv_1"}); err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	<-r.started
	cancel()

	close(r.release)
	if err := l.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if r.ctxErrs[0] != nil {
		t.Errorf("loop context error = %v, want nil after caller cancel", r.ctxErrs[0])
	}
}

func TestLocal_ShutdownDeadlineCancelsLoops(t *testing.T) {
	r := newBlockingRunner()
	l := NewLocal(r, logging.Discard())

	for _, id := range []string{"dlv_1", "dlv_2"} {
		if err := l.Schedule(context.Background(), delivery.Task{DeliveryID: id}); err != nil {
			t.Fatalf("Schedule() error = %v", err)
		}
	}
	<-r.started
	<-r.started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := l.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Shutdown() error = %v, want DeadlineExceeded", err)
	}
	if len(r.finished) != 2 {
		t.Fatalf("finished = %v, want both loops to return", r.finished)
	}
	for i, err := range r.ctxErrs {
		if !errors.Is(err, context.Canceled) {
			t.Errorf("loop %d context error = %v, want Canceled", i, err)
		}
	}
}

func TestLocal_ScheduleAfterShutdown(t *testing.T) {
	l := NewLocal(newBlockingRunner(), nil)
	if err := l.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if err := l.Schedule(context.Background(), delivery.Task{DeliveryID: "dlv_1"}); !errors.Is(err, ErrClosed) {
		t.Errorf("Schedule() error = %v, want ErrClosed", err)
	}
}

// cancelAwareSender blocks every attempt until its context ends
type cancelAwareSender struct {
	started chan struct{}
}

func (s *cancelAwareSender) Send(ctx context.Context, _ string, _ []byte, _ http.Header) delivery.Result {
	s.started <- struct{}{}
	<-ctx.Done()
	return delivery.Result{Err: ctx.Err()}
}

type countingSink struct {
	mu      sync.Mutex
	letters []delivery.DeadLetter
}

func (c *countingSink) PublishDeadLetter(_ context.Context, dl delivery.DeadLetter) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.letters = append(c.letters, dl)
	return nil
}

func TestLocal_ShutdownLeavesInterruptedDeliveryPending(t *testing.T) {
	st := memory.New()
	lastErr := "HTTP 500"
	if err := st.Create(context.Background(), delivery.Delivery{
		ID:             "dlv_last",
		OwnerID:        "owner-1",
		Source:         "stripe",
		DestinationURL: "https://example.com/hook",
		EventType:      "invoice.paid",
		OccurredAt:     time.Now().UTC(),
		Status:         delivery.StatusPending,
		Attempts:       2,
		LastError:      &lastErr,
	}); err != nil {
		t.Fatal(err)
	}

	sender := &cancelAwareSender{started: make(chan struct{}, 1)}
	sink := &countingSink{}
	engine := delivery.NewEngine(st, sender,
		delivery.WithLogger(logging.Discard()),
		delivery.WithDeadLetterSink(sink),
	)
	l := NewLocal(engine, logging.Discard())

	task := delivery.Task{DeliveryID: "dlv_last", OwnerID: "owner-1", DestinationURL: "https://example.com/hook"}
	if err := l.Schedule(context.Background(), task); err != nil {
		t.Fatalf("Schedule() error = %v", err)
	}
	<-sender.started

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := l.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Shutdown() error = %v, want DeadlineExceeded", err)
	}

	got, err := st.Get(context.Background(), "dlv_last")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != delivery.StatusPending || got.Attempts != 2 || got.LastError == nil || *got.LastError != "HTTP 500" {
		t.Errorf("record = %s/%d/%v, want pending/2/HTTP 500", got.Status, got.Attempts, got.LastError)
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.letters) != 0 {
		t.Errorf("dead letters = %d, want 0", len(sink.letters))
	}
}
