package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/austindbirch/hookrelay/internal/auth"
	"github.com/austindbirch/hookrelay/internal/delivery"
	"github.com/austindbirch/hookrelay/internal/destination"
	"github.com/austindbirch/hookrelay/internal/ingest"
	"github.com/austindbirch/hookrelay/internal/logging"
	"github.com/austindbirch/hookrelay/internal/status"
	"github.com/austindbirch/hookrelay/internal/store/memory"
)

type captureScheduler struct {
	mu    sync.Mutex
	tasks []delivery.Task
	err   error
}

func (c *captureScheduler) Schedule(_ context.Context, t delivery.Task) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.tasks = append(c.tasks, t)
	return nil
}

type fixture struct {
	store *memory.Store
	sched *captureScheduler
	h     http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memory.New()
	sched := &captureScheduler{}
	dests := destination.NewService(st, logging.Discard())
	coord := ingest.NewCoordinator(dests, st, sched, logging.Discard())
	srv := NewServer(dests, coord, status.NewService(st), auth.NewAuthenticator(nil, "/"), logging.Discard())
	h, err := srv.Handler()
	if err != nil {
		t.Fatalf("Handler() error = %v", err)
	}
	return &fixture{store: st, sched: sched, h: h}
}

func (f *fixture) do(t *testing.T, method, path, user, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	if user != "" {
		r.Header.Set("X-Demo-User", user)
	}
	w := httptest.NewRecorder()
	f.h.ServeHTTP(w, r)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return m
}

func TestRoot(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := decode(t, w)["message"]; got != "Webhook relay is running" {
		t.Errorf("message = %v", got)
	}
}

func TestRequiresIdentity(t *testing.T) {
	f := newFixture(t)
	paths := []struct{ method, path string }{
		{http.MethodGet, "/v1/destinations"},
		{http.MethodPost, "/v1/ingest/stripe"},
		{http.MethodGet, "/v1/deliveries"},
		{http.MethodGet, "/v1/deliveries/dlv_x"},
	}
	for _, p := range paths {
		w := f.do(t, p.method, p.path, "", "")
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s %s status = %d, want 401", p.method, p.path, w.Code)
		}
	}
}

func TestDestinations(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name     string
		body     string
		wantCode int
		wantURL  string
	}{
		{name: "bare host", body: `{"url":"example.com/hook"}`, wantCode: http.StatusOK, wantURL: "https://example.com/hook"},
		{name: "http kept", body: `{"url":"http://localhost:8081/hook"}`, wantCode: http.StatusOK, wantURL: "http://localhost:8081/hook"},
		{name: "missing url", body: `{}`, wantCode: http.StatusBadRequest},
		{name: "empty body", body: "", wantCode: http.StatusBadRequest},
		{name: "bad json", body: `{"url":`, wantCode: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodPost, "/v1/destinations", "alice", tt.body)
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tt.wantCode, w.Body.String())
			}
			m := decode(t, w)
			if tt.wantCode != http.StatusOK {
				if m["detail"] == nil {
					t.Errorf("error body %v has no detail", m)
				}
				return
			}
			if m["status"] != "created" || m["user_id"] != "alice" {
				t.Errorf("body = %v", m)
			}
			d := m["destination"].(map[string]any)
			if d["url"] != tt.wantURL || d["active"] != true {
				t.Errorf("destination = %v, want url %s active", d, tt.wantURL)
			}
		})
	}

	w := f.do(t, http.MethodPost, "/v1/destinations", "alice", `{}`)
	if got := decode(t, w)["detail"]; got != destination.ErrMissingURL.Error() {
		t.Errorf("detail = %v, want %q", got, destination.ErrMissingURL.Error())
	}

	w = f.do(t, http.MethodGet, "/v1/destinations", "alice", "")
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	m := decode(t, w)
	if list := m["destinations"].([]any); len(list) != 2 {
		t.Errorf("destinations = %d, want 2", len(list))
	}

	w = f.do(t, http.MethodGet, "/v1/destinations", "bob", "")
	if list := decode(t, w)["destinations"].([]any); len(list) != 0 {
		t.Errorf("bob destinations = %d, want 0", len(list))
	}
}

func TestIngest_NoDestination(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodPost, "/v1/ingest/stripe", "alice", `{"event":"invoice.paid"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if got := decode(t, w)["detail"]; got != detailNoDestination {
		t.Errorf("detail = %v, want %q", got, detailNoDestination)
	}
	list, _ := f.store.ListByOwner(context.Background(), "alice", 0)
	if len(list) != 0 {
		t.Errorf("records = %d, want 0", len(list))
	}
}

func TestIngest_Accepted(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost, "/v1/destinations", "alice", `{"url":"https://example.com/hook"}`)

	w := f.do(t, http.MethodPost, "/v1/ingest/stripe", "alice", `{"event":"invoice.paid","amount":12.5,"nested":{"ok":true}}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202 (%s)", w.Code, w.Body.String())
	}
	m := decode(t, w)
	if m["status"] != "accepted" || m["user_id"] != "alice" || m["destination_url"] != "https://example.com/hook" {
		t.Errorf("body = %v", m)
	}
	ev := m["event"].(map[string]any)
	if ev["event_type"] != "invoice.paid" || ev["source"] != "stripe" {
		t.Errorf("event = %v", ev)
	}
	data := ev["data"].(map[string]any)
	if data["amount"] != 12.5 || data["nested"].(map[string]any)["ok"] != true {
		t.Errorf("data = %v", data)
	}

	if len(f.sched.tasks) != 1 {
		t.Fatalf("scheduled = %d, want 1", len(f.sched.tasks))
	}

	id := m["delivery_id"].(string)
	w = f.do(t, http.MethodGet, "/v1/deliveries/"+id, "alice", "")
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	rec := decode(t, w)
	if rec["id"] != id || rec["status"] != "pending" || rec["attempts"] != float64(0) || rec["last_error"] != nil {
		t.Errorf("record = %v", rec)
	}
}

func TestIngest_BadBody(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost, "/v1/destinations", "alice", `{"url":"https://example.com"}`)

	for _, body := range []string{`[1,2]`, `"str"`, `{"a":`, ""} {
		w := f.do(t, http.MethodPost, "/v1/ingest/stripe", "alice", body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("body %q status = %d, want 400", body, w.Code)
			continue
		}
		if got := decode(t, w)["detail"]; got != "Invalid JSON body" {
			t.Errorf("body %q detail = %v, want %q", body, got, "Invalid JSON body")
		}
	}
}

func TestIngest_PreservesNumbers(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "integer above 2^53",
			body: `{"event":"push","order_id":9007199254740993}`,
			want: `{"event":"push","order_id":9007199254740993}`,
		},
		{
			name: "uint64 max and nested",
			body: `{"big":18446744073709551615,"n":{"id":123456789012345678}}`,
			want: `{"big":18446744073709551615,"n":{"id":123456789012345678}}`,
		},
		{
			name: "fraction and exponent",
			body: `{"amount":12.50,"e":1.5e-7}`,
			want: `{"amount":12.50,"e":1.5e-7}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.do(t, http.MethodPost, "/v1/destinations", "alice", `{"url":"https://example.com/hook"}`)

			w := f.do(t, http.MethodPost, "/v1/ingest/stripe", "alice", tt.body)
			if w.Code != http.StatusAccepted {
				t.Fatalf("status = %d, want 202 (%s)", w.Code, w.Body.String())
			}
			if len(f.sched.tasks) != 1 {
				t.Fatalf("scheduled = %d, want 1", len(f.sched.tasks))
			}
			got, err := json.Marshal(f.sched.tasks[0].Event.Data)
			if err != nil {
				t.Fatalf("Marshal() error = %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("Event.Data = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestIngest_TrailingData(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost, "/v1/destinations", "alice", `{"url":"https://example.com"}`)

	w := f.do(t, http.MethodPost, "/v1/ingest/stripe", "alice", `{"a":1} {"b":2}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestIngest_DispatchFailure(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost, "/v1/destinations", "alice", `{"url":"https://example.com"}`)
	f.sched.err = errors.New("queue down")

	w := f.do(t, http.MethodPost, "/v1/ingest/stripe", "alice", `{}`)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
	m := decode(t, w)
	if m["detail"] != "Delivery could not be scheduled" {
		t.Errorf("detail = %v, want %q", m["detail"], "Delivery could not be scheduled")
	}
	id, _ := m["delivery_id"].(string)
	if id == "" {
		t.Fatalf("body = %v, want delivery_id of the stalled record", m)
	}
	w = f.do(t, http.MethodGet, "/v1/deliveries/"+id, "alice", "")
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d, want 200", w.Code)
	}
	if rec := decode(t, w); rec["status"] != "pending" || rec["attempts"] != float64(0) {
		t.Errorf("record = %v, want pending/0", rec)
	}
}

func TestDeliveries_Ownership(t *testing.T) {
	f := newFixture(t)
	err := f.store.Create(context.Background(), delivery.Delivery{
		ID: "dlv_alice", OwnerID: "alice", Source: "s", DestinationURL: "https://e.com",
		EventType: "x", OccurredAt: time.Now().UTC(), Status: delivery.StatusPending,
	})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		user     string
		id       string
		wantCode int
		detail   string
	}{
		{name: "owner", user: "alice", id: "dlv_alice", wantCode: http.StatusOK},
		{name: "other owner", user: "bob", id: "dlv_alice", wantCode: http.StatusForbidden, detail: "Forbidden"},
		{name: "missing", user: "alice", id: "dlv_nope", wantCode: http.StatusNotFound, detail: "Delivery not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodGet, "/v1/deliveries/"+tt.id, tt.user, "")
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantCode)
			}
			if tt.detail != "" {
				if got := decode(t, w)["detail"]; got != tt.detail {
					t.Errorf("detail = %v, want %q", got, tt.detail)
				}
			}
		})
	}
}

func TestListDeliveries(t *testing.T) {
	f := newFixture(t)
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 30; i++ {
		err := f.store.Create(context.Background(), delivery.Delivery{
			ID: "dlv_" + string(rune('a'+i%26)) + strings.Repeat("x", i/26), OwnerID: "alice",
			OccurredAt: base.Add(time.Duration(i) * time.Minute), Status: delivery.StatusPending,
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		query    string
		wantCode int
		wantLen  int
	}{
		{query: "", wantCode: http.StatusOK, wantLen: 20},
		{query: "?limit=5", wantCode: http.StatusOK, wantLen: 5},
		{query: "?limit=500", wantCode: http.StatusOK, wantLen: 30},
		{query: "?limit=0", wantCode: http.StatusOK, wantLen: 20},
		{query: "?limit=abc", wantCode: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run("limit"+tt.query, func(t *testing.T) {
			w := f.do(t, http.MethodGet, "/v1/deliveries"+tt.query, "alice", "")
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantCode)
			}
			if tt.wantCode != http.StatusOK {
				return
			}
			m := decode(t, w)
			if m["user_id"] != "alice" {
				t.Errorf("user_id = %v", m["user_id"])
			}
			if got := len(m["deliveries"].([]any)); got != tt.wantLen {
				t.Errorf("deliveries = %d, want %d", got, tt.wantLen)
			}
		})
	}

	w := f.do(t, http.MethodGet, "/v1/deliveries", "bob", "")
	if list := decode(t, w)["deliveries"].([]any); len(list) != 0 {
		t.Errorf("bob deliveries = %d, want 0", len(list))
	}
}
