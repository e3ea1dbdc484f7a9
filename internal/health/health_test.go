package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	grpc_health "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type mockPinger struct {
	err   atomic.Value
	calls atomic.Int32
}

func (m *mockPinger) Ping(ctx context.Context) error {
	m.calls.Add(1)
	if err, ok := m.err.Load().(error); ok {
		return err
	}
	return nil
}

func newMockPinger(err error) *mockPinger {
	m := &mockPinger{}
	if err != nil {
		m.err.Store(err)
	}
	return m
}

func TestHTTPHandler(t *testing.T) {
	tests := []struct {
		name               string
		pinger             Pinger
		expectedStatusCode int
		expectedStatus     Status
	}{
		{
			name:               "healthy without backend",
			pinger:             nil,
			expectedStatusCode: http.StatusOK,
			expectedStatus:     Status{OK: true, Message: "ok", Store: true, Driver: "sqlite"},
		},
		{
			name:               "healthy backend",
			pinger:             newMockPinger(nil),
			expectedStatusCode: http.StatusOK,
			expectedStatus:     Status{OK: true, Message: "ok", Store: true, Driver: "sqlite"},
		},
		{
			name:               "backend ping failure",
			pinger:             newMockPinger(context.DeadlineExceeded),
			expectedStatusCode: http.StatusServiceUnavailable,
			expectedStatus:     Status{OK: false, Message: "store ping failed", Store: false, Driver: "sqlite"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
			w := httptest.NewRecorder()

			HTTPHandler(tt.pinger, "sqlite")(w, req)

			if w.Code != tt.expectedStatusCode {
				t.Errorf("status = %d, want %d", w.Code, tt.expectedStatusCode)
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q, want application/json", ct)
			}
			var got Status
			if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if got != tt.expectedStatus {
				t.Errorf("body = %+v, want %+v", got, tt.expectedStatus)
			}
		})
	}
}

func TestWatch(t *testing.T) {
	hs := grpc_health.NewServer()
	p := newMockPinger(nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Watch(ctx, hs, "hookrelay.Relay", p, 10*time.Millisecond)
		close(done)
	}()

	waitFor := func(want healthpb.HealthCheckResponse_ServingStatus) {
		t.Helper()
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			resp, err := hs.Check(context.Background(), &healthpb.HealthCheckRequest{Service: "hookrelay.Relay"})
			if err == nil && resp.Status == want {
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
		t.Fatalf("health status never became %v", want)
	}

	waitFor(healthpb.HealthCheckResponse_SERVING)
	p.err.Store(errors.New("down"))
	waitFor(healthpb.HealthCheckResponse_NOT_SERVING)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Watch did not return after cancel")
	}
	if p.calls.Load() < 2 {
		t.Errorf("ping calls = %d, want at least 2", p.calls.Load())
	}
}
