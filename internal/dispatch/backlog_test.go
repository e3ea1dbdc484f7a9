package dispatch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/austindbirch/hookrelay/internal/logging"
	"github.com/austindbirch/hookrelay/internal/metrics"
)

const statsBody = `{
  "topics": [
    {"topic_name": "deliveries", "channels": [
      {"channel_name": "workers", "depth": 42, "in_flight_count": 7},
      {"channel_name": "audit", "depth": 3, "in_flight_count": 0}
    ]},
    {"topic_name": "deliveries_dlq", "channels": [
      {"channel_name": "workers", "depth": 999, "in_flight_count": 0}
    ]}
  ]
}`

func TestBacklogMonitor_Poll(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/stats" || r.URL.Query().Get("format") != "json" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(statsBody))
	}))
	defer srv.Close()

	m := NewBacklogMonitor(strings.TrimPrefix(srv.URL, "http://"), "deliveries", "workers", logging.Discard())
	if err := m.Poll(context.Background()); err != nil {
		t.Fatalf("Poll() error = %v", err)
	}

	if got := testutil.ToFloat64(metrics.QueueBacklog); got != 42 {
		t.Errorf("queue backlog = %v, want 42", got)
	}
	if got := testutil.ToFloat64(metrics.NSQChannelInFlight.WithLabelValues("deliveries", "workers")); got != 7 {
		t.Errorf("workers in flight = %v, want 7", got)
	}
	if got := testutil.ToFloat64(metrics.NSQChannelDepth.WithLabelValues("deliveries", "audit")); got != 3 {
		t.Errorf("audit depth = %v, want 3", got)
	}
}

func TestBacklogMonitor_PollErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"bad status", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusBadGateway) }},
		{"bad json", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("not json")) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()
			m := NewBacklogMonitor(srv.URL, "deliveries", "workers", nil)
			if err := m.Poll(context.Background()); err == nil {
				t.Error("Poll() error = nil, want error")
			}
		})
	}
}
