package delivery

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

func TestHTTPSender_Send(t *testing.T) {
	var gotBody string
	var gotHeader http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		b, _ := io.ReadAll(r.Body)
		gotBody, gotHeader = string(b), r.Header.Clone()
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(strings.Repeat("x", 4096)))
	}))
	defer srv.Close()

	h := http.Header{}
	h.Set(HeaderDeliveryID, "dlv_1")
	res := NewHTTPSender(srv.Client()).Send(context.Background(), srv.URL, []byte(`{"a":1}`), h)

	if !res.OK() || res.StatusCode != http.StatusAccepted {
		t.Fatalf("Send() = %+v, want 202", res)
	}
	if gotBody != `{"a":1}` {
		t.Errorf("body = %q, want %q", gotBody, `{"a":1}`)
	}
	if gotHeader.Get(HeaderDeliveryID) != "dlv_1" {
		t.Errorf("%s = %q, want dlv_1", HeaderDeliveryID, gotHeader.Get(HeaderDeliveryID))
	}
	if gotHeader.Get("User-Agent") != UserAgent {
		t.Errorf("User-Agent = %q, want %q", gotHeader.Get("User-Agent"), UserAgent)
	}
	if len(res.Body) != maxResponseBody {
		t.Errorf("len(Body) = %d, want capped at %d", len(res.Body), maxResponseBody)
	}
	if res.Latency <= 0 {
		t.Errorf("Latency = %v, want > 0", res.Latency)
	}
}

func TestHTTPSender_BadURL(t *testing.T) {
	res := NewHTTPSender(nil).Send(context.Background(), "://nope", nil, nil)
	if res.OK() || res.Err == nil {
		t.Fatalf("Send(bad url) = %+v, want error", res)
	}
	if !strings.HasPrefix(res.Describe(), "transport: build request") {
		t.Errorf("Describe() = %q, want transport: build request prefix", res.Describe())
	}
}

func TestHTTPSender_RedirectIsNotFollowed(t *testing.T) {
	var hits atomic.Int32
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer target.Close()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, target.URL, http.StatusFound)
	}))
	defer srv.Close()

	res := NewHTTPSender(nil).Send(context.Background(), srv.URL, []byte(`{}`), nil)
	if res.OK() || res.StatusCode != http.StatusFound {
		t.Errorf("Send() = %d ok=%v, want 302 not ok", res.StatusCode, res.OK())
	}
	if got := res.Describe(); got != "HTTP 302" {
		t.Errorf("Describe() = %q, want HTTP 302", got)
	}
	if hits.Load() != 0 {
		t.Errorf("redirect target hit %d times, want 0", hits.Load())
	}
}
