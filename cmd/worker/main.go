package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/austindbirch/hookrelay/internal/config"
	"github.com/austindbirch/hookrelay/internal/delivery"
	"github.com/austindbirch/hookrelay/internal/dispatch"
	"github.com/austindbirch/hookrelay/internal/health"
	"github.com/austindbirch/hookrelay/internal/logging"
	"github.com/austindbirch/hookrelay/internal/metrics"
	"github.com/austindbirch/hookrelay/internal/store"
	"github.com/austindbirch/hookrelay/internal/tracing"
)

func main() {
	cfg := config.FromEnv()
	logging.SetDefaultService("hookrelay-worker")
	logger := logging.New("hookrelay-worker")

	if err := cfg.Validate(); err != nil {
		logger.Plain().WithError(err).Fatal("invalid configuration")
	}
	if cfg.Store.Driver == config.DriverMemory || (cfg.Store.Driver == config.DriverSQLite && cfg.Store.SQLitePath == ":memory:") {
		logger.Plain().WithField("store", cfg.Store.Driver).Fatal("worker needs a store shared with the relay")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Plain().WithError(err).Fatal("worker exited")
	}
	logger.Plain().Info("worker service stopped")
}

func run(ctx context.Context, cfg config.Config, logger *logging.Logger) error {
	shutdownTracing, err := tracing.InitTracing(ctx, "hookrelay-worker", cfg.TracingEnabled)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer shutdownTracing()

	backend, err := store.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer backend.Close()

	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)

	engineOpts, producer, err := engineOptions(cfg, logger)
	if err != nil {
		return err
	}
	if producer != nil {
		defer producer.Stop()
	}
	engine := delivery.NewEngine(backend, delivery.NewHTTPSender(nil), engineOpts...)

	consumer, err := dispatch.NewConsumer(cfg.NSQ, cfg.Relay.WorkerConcurrency, engine.Policy(), engine, logger)
	if err != nil {
		return err
	}
	if err := consumer.Connect(cfg.NSQ.NsqdTCPAddr, cfg.NSQ.LookupHTTPAddr); err != nil {
		return err
	}

	monitor := dispatch.NewBacklogMonitor(cfg.NSQ.NsqdHTTPAddr, cfg.NSQ.DeliveriesTopic, cfg.NSQ.WorkerChannel, logger)
	go monitor.Run(ctx, cfg.NSQ.StatsInterval)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", health.HTTPHandler(backend, cfg.Store.Driver))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	httpSrv := &http.Server{Addr: cfg.WorkerHTTPPort, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Plain().WithField("addr", httpSrv.Addr).Info("worker HTTP server starting")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("worker HTTP server: %w", err)
		}
	}()

	logger.Plain().WithFields(map[string]any{
		"topic":       cfg.NSQ.DeliveriesTopic,
		"channel":     cfg.NSQ.WorkerChannel,
		"concurrency": cfg.Relay.WorkerConcurrency,
		"store":       cfg.Store.Driver,
	}).Info("worker service started")

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Plain().Info("Shutting down worker service")
	case serveErr = <-errCh:
	}

	consumer.Stop(cfg.Relay.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	return serveErr
}

// engineOptions builds the engine policy and, when enabled, the DLQ producer
// the caller must stop
func engineOptions(cfg config.Config, logger *logging.Logger) ([]delivery.Option, dispatch.Producer, error) {
	opts := []delivery.Option{
		delivery.WithPolicy(delivery.Policy{
			MaxAttempts:    cfg.Relay.MaxAttempts,
			AttemptTimeout: cfg.Relay.AttemptTimeout,
			BackoffBase:    cfg.Relay.BackoffBase,
		}),
		delivery.WithLogger(logger),
	}
	if !cfg.Relay.PublishDLQ {
		return opts, nil, nil
	}
	p, err := dispatch.NewProducer(cfg.NSQ.NsqdTCPAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("nsq producer for DLQ: %w", err)
	}
	return append(opts, delivery.WithDeadLetterSink(dispatch.NewDeadLetterPublisher(p, cfg.NSQ.DLQTopic))), p, nil
}
