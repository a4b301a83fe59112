// Package auth authenticates tenants by opaque API token, carried as
// "Authorization: Bearer <token>" or a bare token header.
package auth

import (
	"context"
	"crypto/rand"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sumoctl/controller/internal/apierr"
	"github.com/sumoctl/controller/internal/domain"
)

const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// GenerateAPIKey produces a new opaque token: prefix followed by length
// random characters from [A-Za-z0-9].
func GenerateAPIKey(prefix string, length int) (string, error) {
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	for i := range b {
		b[i] = alphabet[int(b[i])%len(alphabet)]
	}
	return prefix + string(b), nil
}

// TenantLookup resolves an API key to a tenant. It is satisfied by
// internal/store.Store; kept as an interface here to avoid an import cycle.
type TenantLookup interface {
	TenantByAPIKey(ctx context.Context, apiKey string) (domain.Tenant, error)
}

// Authenticator verifies inbound requests against the tenant store.
type Authenticator struct {
	store  TenantLookup
	logger *slog.Logger
}

// NewAuthenticator builds an Authenticator backed by store.
func NewAuthenticator(store TenantLookup, logger *slog.Logger) *Authenticator {
	return &Authenticator{store: store, logger: logger}
}

type ctxKey int

const tenantKey ctxKey = iota

// Middleware extracts and authenticates the bearer token, attaching the
// resolved tenant to the request context. It never itself rejects a
// request — RequireAuth does that — so that unauthenticated routes (health,
// auth/register) can share the same router tree.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractToken(r)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}

		tenant, err := a.store.TenantByAPIKey(r.Context(), token)
		if err != nil {
			a.logger.Debug("authentication failed", "error", err)
			next.ServeHTTP(w, r)
			return
		}

		ctx := context.WithValue(r.Context(), tenantKey, &tenant)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// extractToken handles both "Bearer <key>" and a bare "<key>" header value.
func extractToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if h == "" {
		return ""
	}
	h = strings.TrimPrefix(h, "Bearer ")
	return strings.TrimSpace(h)
}

// FromContext returns the authenticated tenant, or nil if the request is
// unauthenticated.
func FromContext(ctx context.Context) *domain.Tenant {
	t, _ := ctx.Value(tenantKey).(*domain.Tenant)
	return t
}

// RequireAuth rejects any request without a resolved tenant in context.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if FromContext(r.Context()) == nil {
			writeUnauthenticated(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeUnauthenticated(w http.ResponseWriter) {
	err := apierr.New(apierr.KindUnauthenticated, "missing or invalid API key")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.Kind.Status())
	_, _ = w.Write([]byte(`{"error":"` + string(err.Kind) + `","message":"` + err.Message + `"}`))
}
