package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	grpc_health "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Pinger is any backend that can report reachability
type Pinger interface {
	Ping(ctx context.Context) error
}

type Status struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
	Store   bool   `json:"store"`
	Driver  string `json:"driver,omitempty"`
}

func check(ctx context.Context, p Pinger) error {
	if p == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	return p.Ping(ctx)
}

// HTTPHandler returns an HTTP handler that reports the health status of the service
func HTTPHandler(p Pinger, driver string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := Status{OK: true, Message: "ok", Store: true, Driver: driver}
		code := http.StatusOK
		if err := check(r.Context(), p); err != nil {
			st = Status{OK: false, Message: "store ping failed", Store: false, Driver: driver}
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(st)
	}
}

// Watch keeps the gRPC health status of service in line with the backend until
// ctx is done
func Watch(ctx context.Context, hs *grpc_health.Server, service string, p Pinger, interval time.Duration) {
	update := func() {
		status := healthpb.HealthCheckResponse_SERVING
		if err := check(ctx, p); err != nil {
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
		hs.SetServingStatus(service, status)
		hs.SetServingStatus("", status)
	}
	update()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			update()
		}
	}
}
