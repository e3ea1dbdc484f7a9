package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/austindbirch/hookrelay/internal/auth"
	"github.com/austindbirch/hookrelay/internal/logging"
)

func newTestServer(t *testing.T) *tokenServer {
	t.Helper()
	iss, err := auth.NewIssuer("", "test-key-1", "hookrelay", "hookrelay-api")
	if err != nil {
		t.Fatalf("NewIssuer() error = %v", err)
	}
	return &tokenServer{issuer: iss, logger: logging.Discard()}
}

func TestHealthHandler(t *testing.T) {
	w := httptest.NewRecorder()
	healthHandler(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if w.Code != http.StatusOK {
		t.Errorf("healthHandler() status = %d, want %d", w.Code, http.StatusOK)
	}
	var response map[string]string
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if response["status"] != "ok" {
		t.Errorf("healthHandler() status = %q, want %q", response["status"], "ok")
	}
}

func TestJwksHandler(t *testing.T) {
	s := newTestServer(t)
	w := httptest.NewRecorder()
	s.routes().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/.well-known/jwks.json", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("jwksHandler() status = %d, want %d", w.Code, http.StatusOK)
	}
	if cc := w.Header().Get("Cache-Control"); cc != "public, max-age=300" {
		t.Errorf("jwksHandler() Cache-Control = %q", cc)
	}
	var set auth.JSONWebKeySet
	if err := json.NewDecoder(w.Body).Decode(&set); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(set.Keys) != 1 || set.Keys[0].Kid != "test-key-1" || set.Keys[0].Kty != "RSA" {
		t.Fatalf("jwksHandler() keys = %+v", set.Keys)
	}
	key, err := set.Keys[0].PublicKey()
	if err != nil {
		t.Fatalf("PublicKey() error = %v", err)
	}
	if !key.Equal(s.issuer.PublicKey()) {
		t.Error("published key does not match issuer key")
	}
}

func TestPublicKeyHandler(t *testing.T) {
	s := newTestServer(t)
	w := httptest.NewRecorder()
	s.routes().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/public-key", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if _, err := auth.NewJWTValidator(w.Body.String(), "hookrelay", "hookrelay-api"); err != nil {
		t.Errorf("served PEM is not usable: %v", err)
	}
}

func TestCreateTokenHandler(t *testing.T) {
	s := newTestServer(t)
	pemKey, _ := s.issuer.PublicKeyPEM()
	v, err := auth.NewJWTValidator(pemKey, "hookrelay", "hookrelay-api")
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name                 string
		requestBody          string
		expectedStatus       int
		expectedBodyContains string
		expectedTTL          float64
	}{
		{name: "valid request", requestBody: `{"tenant_id":"tn_123"}`, expectedStatus: http.StatusOK, expectedTTL: 3600},
		{name: "custom ttl", requestBody: `{"tenant_id":"tn_123","ttl_seconds":7200}`, expectedStatus: http.StatusOK, expectedTTL: 7200},
		{name: "missing tenant", requestBody: `{}`, expectedStatus: http.StatusBadRequest, expectedBodyContains: "tenant_id is required"},
		{name: "invalid json", requestBody: `{`, expectedStatus: http.StatusBadRequest, expectedBodyContains: "Invalid JSON"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			s.routes().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/token", strings.NewReader(tt.requestBody)))

			if w.Code != tt.expectedStatus {
				t.Fatalf("createTokenHandler() status = %d, want %d", w.Code, tt.expectedStatus)
			}
			if tt.expectedBodyContains != "" {
				if !strings.Contains(w.Body.String(), tt.expectedBodyContains) {
					t.Errorf("createTokenHandler() body = %q, want to contain %q", w.Body.String(), tt.expectedBodyContains)
				}
				return
			}

			var resp map[string]any
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp["token_type"] != "Bearer" {
				t.Errorf("createTokenHandler() token_type = %v, want Bearer", resp["token_type"])
			}
			if resp["expires_in"] != tt.expectedTTL {
				t.Errorf("createTokenHandler() expires_in = %v, want %v", resp["expires_in"], tt.expectedTTL)
			}
			owner, err := v.ValidateToken(resp["token"].(string))
			if err != nil || owner != "tn_123" {
				t.Errorf("ValidateToken() = %q, %v", owner, err)
			}
		})
	}
}
