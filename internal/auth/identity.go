package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

type contextKey string

const ownerIDKey contextKey = "owner_id"

var (
	ErrMissingIdentity = errors.New("missing user identity")
	ErrAuthHeader      = errors.New("invalid Authorization header format")
	ErrInvalidToken    = errors.New("invalid token")
)

// IdentityHeaders are trusted in this order when no bearer token is sent
var IdentityHeaders = []string{"X-RapidAPI-User", "X-Demo-User", "X-Tenant-Id"}

// Authenticator resolves the owner of a request. A nil validator disables
// bearer tokens and only the trusted headers are read.
type Authenticator struct {
	validator *JWTValidator
	public    map[string]bool
}

func NewAuthenticator(v *JWTValidator, publicPaths ...string) *Authenticator {
	public := make(map[string]bool, len(publicPaths))
	for _, p := range publicPaths {
		public[p] = true
	}
	return &Authenticator{validator: v, public: public}
}

// OwnerFromRequest returns the owner ID or an error suitable for a 401
func (a *Authenticator) OwnerFromRequest(r *http.Request) (string, error) {
	if a.validator != nil {
		if h := r.Header.Get("Authorization"); h != "" {
			token, ok := strings.CutPrefix(h, "Bearer ")
			if !ok {
				return "", ErrAuthHeader
			}
			owner, err := a.validator.ValidateToken(strings.TrimSpace(token))
			if err != nil {
				return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
			}
			return owner, nil
		}
	}
	for _, h := range IdentityHeaders {
		if v := strings.TrimSpace(r.Header.Get(h)); v != "" {
			return v, nil
		}
	}
	return "", ErrMissingIdentity
}

// Middleware stores the owner in the request context and rejects requests
// without one, except on public paths
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.public[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}
		owner, err := a.OwnerFromRequest(r)
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"detail": Detail(err)})
			return
		}
		next.ServeHTTP(w, r.WithContext(WithOwner(r.Context(), owner)))
	})
}

// Detail is the client-facing text for an identity error
func Detail(err error) string {
	switch {
	case errors.Is(err, ErrAuthHeader):
		return "Invalid Authorization header format"
	case errors.Is(err, ErrInvalidToken):
		return "Invalid token"
	default:
		return "Missing user identity"
	}
}

func WithOwner(ctx context.Context, ownerID string) context.Context {
	return context.WithValue(ctx, ownerIDKey, ownerID)
}

// OwnerFromContext extracts the owner set by Middleware
func OwnerFromContext(ctx context.Context) (string, bool) {
	owner, ok := ctx.Value(ownerIDKey).(string)
	return owner, ok && owner != ""
}
