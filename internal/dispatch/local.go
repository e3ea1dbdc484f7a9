package dispatch

import (
	"context"
	"sync"

	"github.com/austindbirch/hookrelay/internal/config"
	"github.com/austindbirch/hookrelay/internal/delivery"
	"github.com/austindbirch/hookrelay/internal/logging"
	"github.com/austindbirch/hookrelay/internal/metrics"
)

// Local runs each attempt loop on its own goroutine. Loops are detached from
// the caller's cancellation so an HTTP request finishing does not abort them.
type Local struct {
	runner Runner
	logger *logging.Logger

	base   context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewLocal(runner Runner, logger *logging.Logger) *Local {
	if logger == nil {
		logger = logging.Discard()
	}
	base, cancel := context.WithCancel(context.Background())
	return &Local{runner: runner, logger: logger, base: base, cancel: cancel}
}

func (l *Local) Schedule(ctx context.Context, t delivery.Task) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		metrics.RecordDispatchError(config.DispatchLocal)
		return ErrClosed
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(l.base, cancel)

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer cancel()
		defer stop()
		l.runner.RunDelivery(loopCtx, t)
	}()
	return nil
}

// Shutdown stops accepting tasks and waits for running loops. When ctx ends
// first the remaining loops are cancelled; their records stay pending.
func (l *Local) Shutdown(ctx context.Context) error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		l.cancel()
		return nil
	case <-ctx.Done():
		l.logger.WithContext(ctx).Warn("shutdown deadline reached, cancelling in-flight deliveries")
		l.cancel()
		<-done
		return ctx.Err()
	}
}
