package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/austindbirch/hookrelay/internal/auth"
	"github.com/austindbirch/hookrelay/internal/config"
	"github.com/austindbirch/hookrelay/internal/logging"
)

const keyID = "hookrelay-key-1"

// tokenServer issues development tokens and publishes the verification key
type tokenServer struct {
	issuer *auth.Issuer
	logger *logging.Logger
}

func (s *tokenServer) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /.well-known/jwks.json", s.jwksHandler)
	mux.HandleFunc("GET /public-key", s.publicKeyHandler)
	mux.HandleFunc("POST /token", s.createTokenHandler)
	mux.HandleFunc("GET /healthz", healthHandler)
	return mux
}

// jwksHandler serves the JWKS endpoint
func (s *tokenServer) jwksHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=300")
	_ = json.NewEncoder(w).Encode(s.issuer.JWKS())
}

// publicKeyHandler serves the PEM accepted by JWT_PUBLIC_KEY
func (s *tokenServer) publicKeyHandler(w http.ResponseWriter, _ *http.Request) {
	p, err := s.issuer.PublicKeyPEM()
	if err != nil {
		http.Error(w, "Failed to encode public key", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/x-pem-file")
	_, _ = w.Write([]byte(p))
}

// createTokenHandler handles token creation requests
func (s *tokenServer) createTokenHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TenantID string `json:"tenant_id"`
		TTL      int    `json:"ttl_seconds,omitempty"` // Optional, defaults to 1 hour
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.TenantID == "" {
		http.Error(w, "tenant_id is required", http.StatusBadRequest)
		return
	}
	ttl := req.TTL
	if ttl <= 0 {
		ttl = 3600
	}

	token, err := s.issuer.Issue(req.TenantID, time.Duration(ttl)*time.Second)
	if err != nil {
		s.logger.Plain().WithError(err).Error("sign token failed")
		http.Error(w, "Failed to sign token", http.StatusInternalServerError)
		return
	}
	s.logger.Plain().WithOwner(req.TenantID).WithField("ttl_seconds", ttl).Info("token issued")

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"token":      token,
		"expires_in": ttl,
		"token_type": "Bearer",
	})
}

// healthHandler provides a simple health check endpoint
func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func main() {
	cfg := config.FromEnv()
	logger := logging.New("hookrelay-jwks-server")

	issuer, err := auth.NewIssuer(os.Getenv("JWT_PRIVATE_KEY"), keyID, cfg.Auth.JWTIssuer, cfg.Auth.JWTAudience)
	if err != nil {
		logger.Plain().WithError(err).Fatal("load signing key")
	}
	s := &tokenServer{issuer: issuer, logger: logger}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8082"
	}
	logger.Plain().WithFields(map[string]any{
		"port": port,
		"jwks": "http://localhost:" + port + "/.well-known/jwks.json",
	}).Info("JWKS server starting")

	srv := &http.Server{Addr: ":" + port, Handler: s.routes(), ReadHeaderTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Plain().WithError(err).Fatal("Server failed to start")
	}
}
