// Package httpapi exposes the relay over HTTP using grpc-gateway's ServeMux
// for routing.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/austindbirch/hookrelay/internal/auth"
	"github.com/austindbirch/hookrelay/internal/delivery"
	"github.com/austindbirch/hookrelay/internal/destination"
	"github.com/austindbirch/hookrelay/internal/ingest"
	"github.com/austindbirch/hookrelay/internal/logging"
	"github.com/austindbirch/hookrelay/internal/status"
	"github.com/austindbirch/hookrelay/internal/tracing"
)

const (
	maxBodyBytes = 1 << 20

	detailNoDestination = "No active destination configured for this user. Create one using POST /v1/destinations"
)

var errInvalidJSON = errors.New("invalid JSON body")

type Server struct {
	destinations *destination.Service
	ingest       *ingest.Coordinator
	status       *status.Service
	auth         *auth.Authenticator
	logger       *logging.Logger
}

func NewServer(dests *destination.Service, coord *ingest.Coordinator, st *status.Service, authn *auth.Authenticator, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.Discard()
	}
	if authn == nil {
		authn = auth.NewAuthenticator(nil, "/")
	}
	return &Server{destinations: dests, ingest: coord, status: st, auth: authn, logger: logger}
}

// Handler returns the routed API. The authenticator decides which paths need
// an owner; cmd/relay leaves only "/" public.
func (s *Server) Handler() (http.Handler, error) {
	mux := runtime.NewServeMux(runtime.WithRoutingErrorHandler(routingError))

	routes := []struct {
		method, pattern string
		h               runtime.HandlerFunc
	}{
		{http.MethodGet, "/", s.root},
		{http.MethodPost, "/v1/destinations", s.createDestination},
		{http.MethodGet, "/v1/destinations", s.listDestinations},
		{http.MethodPost, "/v1/ingest/{source}", s.ingestEvent},
		{http.MethodGet, "/v1/deliveries/{id}", s.getDelivery},
		{http.MethodGet, "/v1/deliveries", s.listDeliveries},
	}
	for _, rt := range routes {
		if err := mux.HandlePath(rt.method, rt.pattern, rt.h); err != nil {
			return nil, fmt.Errorf("register %s %s: %w", rt.method, rt.pattern, err)
		}
	}
	return traceRequests(s.auth.Middleware(mux)), nil
}

// traceRequests continues an inbound W3C trace and opens a server span
func traceRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		carrier := make(map[string]string, 2)
		for _, k := range []string{"traceparent", "tracestate"} {
			if v := r.Header.Get(k); v != "" {
				carrier[k] = v
			}
		}
		ctx := tracing.ExtractHeaders(r.Context(), carrier)
		ctx, span := tracing.StartSpan(ctx, r.Method+" "+r.URL.Path,
			attribute.String("http.method", r.Method),
			attribute.String("http.target", r.URL.Path),
		)
		defer span.End()
		if id := tracing.GetTraceID(ctx); id != "" {
			w.Header().Set("X-Trace-Id", id)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func routingError(_ context.Context, _ *runtime.ServeMux, _ runtime.Marshaler, w http.ResponseWriter, _ *http.Request, code int) {
	writeJSON(w, code, map[string]string{"detail": http.StatusText(code)})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := http.StatusInternalServerError
	detail := "Internal server error"
	switch {
	case errors.Is(err, ingest.ErrNoDestinationConfigured):
		code, detail = http.StatusBadRequest, detailNoDestination
	case errors.Is(err, errInvalidJSON):
		code, detail = http.StatusBadRequest, "Invalid JSON body"
	case errors.Is(err, ingest.ErrInvalidInput),
		errors.Is(err, destination.ErrMissingURL),
		errors.Is(err, destination.ErrInvalidURL):
		code, detail = http.StatusBadRequest, err.Error()
	case errors.Is(err, ingest.ErrDispatch):
		code, detail = http.StatusServiceUnavailable, "Delivery could not be scheduled"
	case errors.Is(err, status.ErrNotFound):
		code, detail = http.StatusNotFound, "Delivery not found"
	case errors.Is(err, status.ErrForbidden):
		code, detail = http.StatusForbidden, "Forbidden"
	}
	body := map[string]string{"detail": detail}
	// the record exists but nothing drives it
	var de *ingest.DispatchError
	if errors.As(err, &de) {
		body["delivery_id"] = de.DeliveryID
	}
	if code >= http.StatusInternalServerError {
		tracing.SetSpanError(r.Context(), err)
		s.logger.WithContext(r.Context()).WithError(err).WithFields(map[string]any{
			"method": r.Method,
			"path":   r.URL.Path,
			"status": code,
		}).Error("request failed")
	}
	writeJSON(w, code, body)
}

func owner(r *http.Request) string {
	id, _ := auth.OwnerFromContext(r.Context())
	return id
}

func readBody(r *http.Request) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return nil, errInvalidJSON
	}
	if len(b) > maxBodyBytes {
		return nil, fmt.Errorf("%w: body exceeds %d bytes", errInvalidJSON, maxBodyBytes)
	}
	return b, nil
}

func (s *Server) root(w http.ResponseWriter, _ *http.Request, _ map[string]string) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Webhook relay is running"})
}

type createDestinationRequest struct {
	URL string `json:"url"`
}

func (s *Server) createDestination(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	b, err := readBody(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req createDestinationRequest
	if len(b) > 0 {
		if err := json.Unmarshal(b, &req); err != nil {
			s.writeError(w, r, errInvalidJSON)
			return
		}
	}
	d, err := s.destinations.Create(r.Context(), owner(r), req.URL)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "created",
		"user_id":     d.OwnerID,
		"destination": d,
	})
}

func (s *Server) listDestinations(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	id := owner(r)
	list, err := s.destinations.List(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": id, "destinations": list})
}

// ingestEvent accepts any JSON object. Arrays, scalars and empty bodies are
// rejected by the structpb decoder; the payload itself keeps exact numbers.
func (s *Server) ingestEvent(w http.ResponseWriter, r *http.Request, params map[string]string) {
	b, err := readBody(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var shape structpb.Struct
	if err := protojson.Unmarshal(b, &shape); err != nil {
		s.writeError(w, r, errInvalidJSON)
		return
	}
	var payload map[string]any
	if err := delivery.DecodeJSON(b, &payload); err != nil || payload == nil {
		s.writeError(w, r, errInvalidJSON)
		return
	}
	acc, err := s.ingest.Ingest(r.Context(), owner(r), params["source"], payload)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, acc)
}

func (s *Server) getDelivery(w http.ResponseWriter, r *http.Request, params map[string]string) {
	d, err := s.status.GetDelivery(r.Context(), owner(r), params["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) listDeliveries(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			s.writeError(w, r, fmt.Errorf("%w: limit must be an integer", ingest.ErrInvalidInput))
			return
		}
		limit = n
	}
	id := owner(r)
	list, err := s.status.ListDeliveries(r.Context(), id, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		UserID     string              `json:"user_id"`
		Deliveries []delivery.Delivery `json:"deliveries"`
	}{id, list})
}
