package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	grpc_health "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/austindbirch/hookrelay/internal/auth"
	"github.com/austindbirch/hookrelay/internal/config"
	"github.com/austindbirch/hookrelay/internal/delivery"
	"github.com/austindbirch/hookrelay/internal/destination"
	"github.com/austindbirch/hookrelay/internal/dispatch"
	"github.com/austindbirch/hookrelay/internal/health"
	"github.com/austindbirch/hookrelay/internal/httpapi"
	"github.com/austindbirch/hookrelay/internal/ingest"
	"github.com/austindbirch/hookrelay/internal/logging"
	"github.com/austindbirch/hookrelay/internal/metrics"
	"github.com/austindbirch/hookrelay/internal/status"
	"github.com/austindbirch/hookrelay/internal/store"
	"github.com/austindbirch/hookrelay/internal/tracing"
)

const healthService = "hookrelay.Relay"

func main() {
	cfg := config.FromEnv()
	logging.SetDefaultService("hookrelay-relay")
	logger := logging.New("hookrelay-relay")

	if err := cfg.Validate(); err != nil {
		logger.Plain().WithError(err).Fatal("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Plain().WithError(err).Fatal("relay exited")
	}
	logger.Plain().Info("relay stopped")
}

func run(ctx context.Context, cfg config.Config, logger *logging.Logger) error {
	shutdownTracing, err := tracing.InitTracing(ctx, "hookrelay-relay", cfg.TracingEnabled)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer shutdownTracing()

	backend, err := store.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer backend.Close()

	validator, err := newValidator(ctx, cfg.Auth)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)

	sched, err := newScheduler(cfg, backend, logger)
	if err != nil {
		return err
	}

	dests := destination.NewService(backend, logger)
	coord := ingest.NewCoordinator(dests, backend, sched, logger)
	api := httpapi.NewServer(dests, coord, status.NewService(backend), auth.NewAuthenticator(validator, "/"), logger)
	apiHandler, err := api.Handler()
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", health.HTTPHandler(backend, cfg.Store.Driver))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.Handle("/", apiHandler)

	grpcSrv := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	hs := grpc_health.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, hs)
	go health.Watch(ctx, hs, healthService, backend, 10*time.Second)

	lis, err := net.Listen("tcp", cfg.GRPCPort)
	if err != nil {
		return fmt.Errorf("gRPC listen: %w", err)
	}
	httpSrv := &http.Server{Addr: cfg.HTTPPort, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 2)
	go func() {
		logger.Plain().WithField("addr", cfg.GRPCPort).Info("relay gRPC health listening")
		if err := grpcSrv.Serve(lis); err != nil {
			errCh <- fmt.Errorf("gRPC serve: %w", err)
		}
	}()
	go func() {
		logger.Plain().WithFields(map[string]any{
			"addr":     cfg.HTTPPort,
			"store":    cfg.Store.Driver,
			"dispatch": cfg.Relay.DispatchMode,
		}).Info("relay HTTP listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP serve: %w", err)
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Plain().Info("shutting down relay")
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Relay.ShutdownTimeout)
	defer cancel()
	hs.Shutdown()
	_ = httpSrv.Shutdown(shutdownCtx)
	grpcSrv.GracefulStop()
	if err := sched.Shutdown(shutdownCtx); err != nil {
		logger.Plain().WithError(err).Warn("in-flight deliveries did not finish before shutdown deadline")
	}
	return serveErr
}

// scheduler is what the relay hands tasks to, plus a way to drain it
type scheduler interface {
	ingest.Scheduler
	Shutdown(ctx context.Context) error
}

type nsqScheduler struct {
	*dispatch.Publisher
	producer dispatch.Producer
}

func (n nsqScheduler) Shutdown(context.Context) error {
	n.producer.Stop()
	return nil
}

type localScheduler struct {
	*dispatch.Local
	producer dispatch.Producer
}

func (l localScheduler) Shutdown(ctx context.Context) error {
	err := l.Local.Shutdown(ctx)
	if l.producer != nil {
		l.producer.Stop()
	}
	return err
}

func policyFrom(cfg config.Relay) delivery.Policy {
	return delivery.Policy{
		MaxAttempts:    cfg.MaxAttempts,
		AttemptTimeout: cfg.AttemptTimeout,
		BackoffBase:    cfg.BackoffBase,
	}
}

func newScheduler(cfg config.Config, st delivery.Store, logger *logging.Logger) (scheduler, error) {
	switch cfg.Relay.DispatchMode {
	case config.DispatchNSQ:
		p, err := dispatch.NewProducer(cfg.NSQ.NsqdTCPAddr)
		if err != nil {
			return nil, err
		}
		return nsqScheduler{Publisher: dispatch.NewPublisher(p, cfg.NSQ.DeliveriesTopic, logger), producer: p}, nil
	case config.DispatchLocal:
		opts := []delivery.Option{delivery.WithPolicy(policyFrom(cfg.Relay)), delivery.WithLogger(logger)}
		var producer dispatch.Producer
		if cfg.Relay.PublishDLQ {
			p, err := dispatch.NewProducer(cfg.NSQ.NsqdTCPAddr)
			if err != nil {
				return nil, err
			}
			producer = p
			opts = append(opts, delivery.WithDeadLetterSink(dispatch.NewDeadLetterPublisher(p, cfg.NSQ.DLQTopic)))
		}
		engine := delivery.NewEngine(st, delivery.NewHTTPSender(nil), opts...)
		return localScheduler{Local: dispatch.NewLocal(engine, logger), producer: producer}, nil
	default:
		return nil, fmt.Errorf("unknown dispatch mode %q", cfg.Relay.DispatchMode)
	}
}

// newValidator returns nil when bearer tokens are not configured
func newValidator(ctx context.Context, cfg config.Auth) (*auth.JWTValidator, error) {
	switch {
	case cfg.JWTPublicKey != "":
		return auth.NewJWTValidator(cfg.JWTPublicKey, cfg.JWTIssuer, cfg.JWTAudience)
	case cfg.JWKSURL != "":
		key, err := auth.FetchJWKS(ctx, cfg.JWKSURL, "")
		if err != nil {
			return nil, err
		}
		return auth.NewJWTValidatorFromKey(key, cfg.JWTIssuer, cfg.JWTAudience), nil
	default:
		return nil, nil
	}
}
