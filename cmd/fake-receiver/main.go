package main

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/austindbirch/hookrelay/internal/config"
	"github.com/austindbirch/hookrelay/internal/delivery"
	"github.com/austindbirch/hookrelay/internal/logging"
)

// receiver is a destination that fails the first N requests
type receiver struct {
	failFirstN int
	failStatus int
	delay      time.Duration
	logger     *logging.Logger

	mu       sync.Mutex
	reqCount int
	received []string // delivery ids of accepted requests
}

func newReceiver(cfg config.FakeReceiver, logger *logging.Logger) *receiver {
	status := cfg.FailStatus
	if status < 400 {
		status = http.StatusInternalServerError
	}
	return &receiver{
		failFirstN: cfg.FailFirstN,
		failStatus: status,
		delay:      time.Duration(cfg.ResponseDelayMS) * time.Millisecond,
		logger:     logger,
	}
}

func (rc *receiver) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(`{"ok":true}`)) })
	mux.HandleFunc("POST /hook", rc.handleHook)
	mux.HandleFunc("POST /", rc.handleHook)
	return mux
}

func (rc *receiver) handleHook(w http.ResponseWriter, r *http.Request) {
	b, _ := io.ReadAll(r.Body)
	defer r.Body.Close()

	rc.mu.Lock()
	rc.reqCount++
	n := rc.reqCount
	failing := n <= rc.failFirstN
	if !failing {
		rc.received = append(rc.received, r.Header.Get(delivery.HeaderDeliveryID))
	}
	rc.mu.Unlock()

	if rc.delay > 0 {
		select {
		case <-time.After(rc.delay):
		case <-r.Context().Done():
			return
		}
	}

	log := rc.logger.Plain().WithFields(map[string]any{
		"delivery_id": r.Header.Get(delivery.HeaderDeliveryID),
		"attempt":     r.Header.Get(delivery.HeaderAttempt),
		"trace_id":    r.Header.Get("X-Trace-Id"),
		"path":        r.URL.Path,
		"body":        truncate(string(b), 160),
	})

	// Simulate flakiness: first N requests fail
	if failing {
		log.WithField("request", fmt.Sprintf("%d/%d", n, rc.failFirstN)).Warn("FAILING")
		http.Error(w, "temporary failure", rc.failStatus)
		return
	}

	log.Info("fake-receiver OK")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`ok`))
}

func main() {
	cfg := config.FromEnv().FakeReceiver
	logger := logging.New("hookrelay-fake-receiver")
	rc := newReceiver(cfg, logger)

	srv := &http.Server{
		Addr:         cfg.Port,
		Handler:      rc.routes(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	logger.Plain().WithFields(map[string]any{
		"addr":         cfg.Port,
		"fail_first_n": cfg.FailFirstN,
	}).Info("fake-receiver listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Plain().WithError(err).Fatal("fake-receiver failed")
	}
}

// truncate truncates a string to the specified length and adds an ellipsis if truncated
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("%s...", s[:n])
}
