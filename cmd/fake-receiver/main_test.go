package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/austindbirch/hookrelay/internal/config"
	"github.com/austindbirch/hookrelay/internal/delivery"
	"github.com/austindbirch/hookrelay/internal/logging"
	"github.com/austindbirch/hookrelay/internal/store/memory"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		n        int
		expected string
	}{
		{name: "shorter than limit", input: "hello", n: 10, expected: "hello"},
		{name: "equal to limit", input: "hello", n: 5, expected: "hello"},
		{name: "longer than limit", input: "hello world", n: 5, expected: "hello..."},
		{name: "empty", input: "", n: 5, expected: ""},
		{name: "zero limit", input: "abc", n: 0, expected: "..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := truncate(tt.input, tt.n); got != tt.expected {
				t.Errorf("truncate(%q, %d) = %q, want %q", tt.input, tt.n, got, tt.expected)
			}
		})
	}
}

func TestHealthz(t *testing.T) {
	rc := newReceiver(config.FakeReceiver{}, logging.Discard())
	w := httptest.NewRecorder()
	rc.routes().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK || w.Body.String() != `{"ok":true}` {
		t.Errorf("healthz = %d %q", w.Code, w.Body.String())
	}
}

func TestHandleHook_FailFirstN(t *testing.T) {
	tests := []struct {
		name       string
		cfg        config.FakeReceiver
		requests   int
		wantCodes  []int
		wantAccept int
	}{
		{
			name:       "never fails",
			cfg:        config.FakeReceiver{},
			requests:   2,
			wantCodes:  []int{200, 200},
			wantAccept: 2,
		},
		{
			name:       "fails first two",
			cfg:        config.FakeReceiver{FailFirstN: 2, FailStatus: 500},
			requests:   3,
			wantCodes:  []int{500, 500, 200},
			wantAccept: 1,
		},
		{
			name:       "custom status",
			cfg:        config.FakeReceiver{FailFirstN: 1, FailStatus: 503},
			requests:   2,
			wantCodes:  []int{503, 200},
			wantAccept: 1,
		},
		{
			name:       "non error status falls back to 500",
			cfg:        config.FakeReceiver{FailFirstN: 1, FailStatus: 200},
			requests:   1,
			wantCodes:  []int{500},
			wantAccept: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rc := newReceiver(tt.cfg, logging.Discard())
			h := rc.routes()
			for i := 0; i < tt.requests; i++ {
				r := httptest.NewRequest(http.MethodPost, "/hook", strings.NewReader(`{"event_id":"evt_1"}`))
				r.Header.Set(delivery.HeaderDeliveryID, "dlv_1")
				w := httptest.NewRecorder()
				h.ServeHTTP(w, r)
				if w.Code != tt.wantCodes[i] {
					t.Errorf("request %d status = %d, want %d", i+1, w.Code, tt.wantCodes[i])
				}
			}
			if len(rc.received) != tt.wantAccept {
				t.Errorf("accepted = %d, want %d", len(rc.received), tt.wantAccept)
			}
		})
	}
}

// The engine's default policy recovers from two failures on the third attempt.
func TestReceiver_WithEngine(t *testing.T) {
	rc := newReceiver(config.FakeReceiver{FailFirstN: 2, FailStatus: 502}, logging.Discard())
	srv := httptest.NewServer(rc.routes())
	defer srv.Close()

	st := memory.New()
	rec := delivery.Delivery{
		ID: "dlv_fr", OwnerID: "o", Source: "s", DestinationURL: srv.URL + "/hook",
		EventType: "x", OccurredAt: time.Now().UTC(), Status: delivery.StatusPending,
	}
	if err := st.Create(context.Background(), rec); err != nil {
		t.Fatal(err)
	}

	e := delivery.NewEngine(st, delivery.NewHTTPSender(srv.Client()),
		delivery.WithLogger(logging.Discard()),
		delivery.WithWait(func(context.Context, time.Duration) error { return nil }),
	)
	e.RunDelivery(context.Background(), delivery.Task{
		DeliveryID:     rec.ID,
		OwnerID:        rec.OwnerID,
		DestinationURL: rec.DestinationURL,
		Event:          delivery.Event{EventID: "evt_1", Source: "s", EventType: "x", Data: map[string]any{}},
	})

	got, err := st.Get(context.Background(), rec.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != delivery.StatusDelivered || got.Attempts != 3 || got.LastError != nil {
		t.Errorf("record = %s/%d/%v, want delivered/3/nil", got.Status, got.Attempts, got.LastError)
	}
	if len(rc.received) != 1 || rc.received[0] != "dlv_fr" {
		t.Errorf("received = %v, want [dlv_fr]", rc.received)
	}
}
