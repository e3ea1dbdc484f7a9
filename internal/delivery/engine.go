package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/austindbirch/hookrelay/internal/logging"
	"github.com/austindbirch/hookrelay/internal/metrics"
	"github.com/austindbirch/hookrelay/internal/tracing"
)

// Policy bounds the attempt sequence of one delivery
type Policy struct {
	MaxAttempts    int
	AttemptTimeout time.Duration
	BackoffBase    time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    3,
		AttemptTimeout: 10 * time.Second,
		BackoffBase:    time.Second,
	}
}

// Backoff is the wait after failed attempt n (1-based): base * 2^(n-1)
func (p Policy) Backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	return p.BackoffBase << (n - 1)
}

// WorstCase is the longest one loop can run: every attempt hits its timeout
// and every backoff between attempts is waited out in full.
func (p Policy) WorstCase() time.Duration {
	var d time.Duration
	for n := 1; n <= p.MaxAttempts; n++ {
		d += p.AttemptTimeout
		if n < p.MaxAttempts {
			d += p.Backoff(n)
		}
	}
	return d
}

// WaitFunc blocks for d or until ctx is done
type WaitFunc func(ctx context.Context, d time.Duration) error

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type Engine struct {
	store  Store
	sender Sender
	policy Policy
	logger *logging.Logger
	dlq    DeadLetterSink
	wait   WaitFunc
}

type Option func(*Engine)

func WithPolicy(p Policy) Option {
	return func(e *Engine) { e.policy = p }
}

func WithLogger(l *logging.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func WithDeadLetterSink(s DeadLetterSink) Option {
	return func(e *Engine) { e.dlq = s }
}

// WithWait replaces the backoff timer; tests use it to observe delays
func WithWait(w WaitFunc) Option {
	return func(e *Engine) { e.wait = w }
}

func NewEngine(store Store, sender Sender, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		sender: sender,
		policy: DefaultPolicy(),
		logger: logging.New("hookrelay-engine"),
		wait:   sleepCtx,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.policy.MaxAttempts < 1 {
		e.policy.MaxAttempts = 1
	}
	if e.policy.AttemptTimeout <= 0 {
		e.policy.AttemptTimeout = DefaultPolicy().AttemptTimeout
	}
	return e
}

func (e *Engine) Policy() Policy {
	return e.policy
}

// RunDelivery drives one delivery to a terminal state, persisting the record
// after every attempt. Records that are missing or already terminal are skipped.
func (e *Engine) RunDelivery(ctx context.Context, t Task) {
	metrics.DeliveryStarted()
	defer metrics.DeliveryFinished()

	ctx = tracing.ExtractHeaders(ctx, t.TraceHeaders)
	ctx, span := tracing.StartSpan(ctx, "delivery.run",
		attribute.String("delivery_id", t.DeliveryID),
		attribute.String("owner_id", t.OwnerID),
		attribute.String("event_id", t.Event.EventID),
		attribute.String("event_type", t.Event.EventType),
		attribute.String("destination_url", t.DestinationURL),
	)
	defer span.End()

	log := func() *logging.LogEntry {
		return e.logger.WithContext(ctx).
			WithOwner(t.OwnerID).
			WithDelivery(t.DeliveryID).
			WithEvent(t.Event.EventID).
			WithDestination(t.DestinationURL)
	}

	rec, err := e.store.Get(ctx, t.DeliveryID)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		log().WithError(err).Error("load delivery failed, skipping")
		return
	}
	if rec.Status.Terminal() {
		tracing.AddSpanEvent(ctx, "delivery.skipped", attribute.String("status", string(rec.Status)))
		log().WithField("status", rec.Status).Info("delivery already terminal, skipping")
		return
	}

	maxAttempts := e.policy.MaxAttempts
	if rec.Attempts >= maxAttempts {
		last := "attempts exhausted"
		if rec.LastError != nil {
			last = *rec.LastError
		}
		e.persist(ctx, t.DeliveryID, Update{Status: StatusFailed, Attempts: rec.Attempts, LastError: &last})
		metrics.RecordDelivery(string(StatusFailed))
		return
	}

	body, encErr := json.Marshal(t.Event)

	for n := rec.Attempts + 1; n <= maxAttempts; n++ {
		var res Result
		if encErr != nil {
			res = Result{Err: fmt.Errorf("encode event: %w", encErr)}
		} else {
			res = e.attempt(ctx, t, n, body)
		}

		// Cancelled mid-attempt: keep the last persisted pending state.
		if !res.OK() && ctx.Err() != nil {
			tracing.SetSpanError(ctx, ctx.Err())
			log().WithAttempt(n).WithError(ctx.Err()).Warn("delivery interrupted, record left pending")
			return
		}

		if res.OK() {
			metrics.RecordAttempt("success", res.Latency)
			tracing.AddSpanEvent(ctx, "delivery.success",
				attribute.Int("attempt", n),
				attribute.Int("http.status_code", res.StatusCode),
			)
			e.persist(ctx, t.DeliveryID, Update{Status: StatusDelivered, Attempts: n})
			metrics.RecordDelivery(string(StatusDelivered))
			span.SetAttributes(
				attribute.String("delivery.final_status", string(StatusDelivered)),
				attribute.Int("delivery.attempts", n),
			)
			log().WithAttempt(n).WithFields(map[string]any{
				"http_status": res.StatusCode,
				"latency_ms":  res.Latency.Milliseconds(),
			}).Info("delivery succeeded")
			return
		}

		desc := res.Describe()
		reason := classifyReason(res.Err, res.StatusCode)
		metrics.RecordAttempt(reason, res.Latency)
		tracing.AddSpanEvent(ctx, "delivery.attempt_failed",
			attribute.Int("attempt", n),
			attribute.String("reason", reason),
			attribute.String("error", desc),
		)

		if n == maxAttempts {
			e.persist(ctx, t.DeliveryID, Update{Status: StatusFailed, Attempts: n, LastError: &desc})
			metrics.RecordDelivery(string(StatusFailed))
			metrics.RecordDLQ(reason)
			span.SetAttributes(
				attribute.String("delivery.final_status", string(StatusFailed)),
				attribute.Int("delivery.attempts", n),
				attribute.String("failure_reason", reason),
			)
			log().WithAttempt(n).WithFields(map[string]any{
				"reason": reason,
				"error":  desc,
			}).Warn("delivery failed, attempts exhausted")
			e.deadLetter(ctx, t, n, res, desc, reason)
			return
		}

		if err := e.persist(ctx, t.DeliveryID, Update{Status: StatusPending, Attempts: n, LastError: &desc}); errors.Is(err, ErrTerminal) || errors.Is(err, ErrNotFound) {
			log().WithError(err).Warn("delivery changed underneath the engine, stopping")
			return
		}

		delay := e.policy.Backoff(n)
		metrics.RecordRetry(reason)
		log().WithAttempt(n).WithFields(map[string]any{
			"reason": reason,
			"delay":  delay.String(),
		}).Info("retrying delivery")

		if err := e.wait(ctx, delay); err != nil {
			tracing.SetSpanError(ctx, err)
			log().WithError(err).Warn("backoff interrupted, delivery left pending")
			return
		}
	}
}

func (e *Engine) attempt(ctx context.Context, t Task, n int, body []byte) Result {
	actx, cancel := context.WithTimeout(ctx, e.policy.AttemptTimeout)
	defer cancel()

	h := http.Header{}
	h.Set(HeaderDeliveryID, t.DeliveryID)
	h.Set(HeaderEventID, t.Event.EventID)
	h.Set(HeaderAttempt, strconv.Itoa(n))
	if traceID := tracing.GetTraceID(ctx); traceID != "" {
		h.Set(HeaderTraceID, traceID)
		for k, v := range tracing.InjectHeaders(ctx) {
			h.Set(k, v)
		}
	}
	return e.sender.Send(actx, t.DestinationURL, body, h)
}

// persist writes u and reports store failures through logs and the span
// persist writes u even when ctx was cancelled after the attempt completed
func (e *Engine) persist(ctx context.Context, id string, u Update) error {
	err := e.store.Update(context.WithoutCancel(ctx), id, u)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		e.logger.WithContext(ctx).WithDelivery(id).WithError(err).
			WithFields(map[string]any{"status": u.Status, "attempts": u.Attempts}).
			Error("persist delivery update failed")
	}
	return err
}

func (e *Engine) deadLetter(ctx context.Context, t Task, attempts int, res Result, desc, reason string) {
	if e.dlq == nil {
		return
	}
	dl := NewDeadLetter(t, attempts, res.StatusCode, desc, reason)
	if err := e.dlq.PublishDeadLetter(ctx, dl); err != nil {
		tracing.SetSpanError(ctx, err)
		e.logger.WithContext(ctx).WithDelivery(t.DeliveryID).WithError(err).Error("dead letter publish failed")
		return
	}
	tracing.AddSpanEvent(ctx, "delivery.dead_lettered")
}
