package delivery

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	UserAgent = "hookrelay/1.0"

	HeaderDeliveryID = "X-Hookrelay-Delivery-Id"
	HeaderEventID    = "X-Hookrelay-Event-Id"
	HeaderAttempt    = "X-Hookrelay-Attempt"
	HeaderTraceID    = "X-Trace-Id"

	maxResponseBody = 1 << 10
)

// Result is the outcome of a single HTTP attempt
type Result struct {
	StatusCode int
	Err        error
	Latency    time.Duration
	Body       []byte // first 1KB of the response body
}

// OK reports whether the attempt got a 2xx response
func (r Result) OK() bool {
	return r.Err == nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// Describe renders the failure stored as last_error
func (r Result) Describe() string {
	if r.Err != nil {
		return "transport: " + r.Err.Error()
	}
	return fmt.Sprintf("HTTP %d", r.StatusCode)
}

// Sender performs one POST. The deadline of ctx bounds the whole attempt.
type Sender interface {
	Send(ctx context.Context, url string, body []byte, header http.Header) Result
}

type HTTPSender struct {
	client *http.Client
}

// NewHTTPSender returns a Sender backed by client. A nil client gets pooled
// transport defaults and does not follow redirects, so a 3xx is a failed attempt.
func NewHTTPSender(client *http.Client) *HTTPSender {
	if client == nil {
		client = &http.Client{
			CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        200,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	return &HTTPSender{client: client}
}

func (s *HTTPSender) Send(ctx context.Context, url string, body []byte, header http.Header) Result {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Result{Err: fmt.Errorf("build request: %w", err), Latency: time.Since(start)}
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", UserAgent)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return Result{Err: err, Latency: time.Since(start)}
	}
	defer resp.Body.Close()

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	return Result{
		StatusCode: resp.StatusCode,
		Latency:    time.Since(start),
		Body:       snippet,
	}
}

func classifyReason(err error, status int) string {
	if err != nil {
		errLower := strings.ToLower(err.Error())
		if strings.Contains(errLower, "timeout") || strings.Contains(errLower, "deadline exceeded") {
			return "timeout"
		}
		if strings.Contains(errLower, "connection refused") {
			return "connection_refused"
		}
		if strings.Contains(errLower, "no such host") || strings.Contains(errLower, "dns") {
			return "dns_error"
		}
		return "network"
	}
	if status >= 500 {
		return "http_5xx"
	}
	if status == http.StatusTooManyRequests {
		return "http_429"
	}
	if status >= 400 {
		return "http_4xx"
	}
	return "other"
}
