package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/anyllm/gateway/internal/gateway/auth"
	"github.com/anyllm/gateway/internal/shared/redis"
)

type contextKey string

const identityKey contextKey = "identity"

// IdentityFrom returns the resolved caller identity, or nil when the
// request never passed the auth middleware.
func IdentityFrom(ctx context.Context) *auth.Identity {
	identity, _ := ctx.Value(identityKey).(*auth.Identity)
	return identity
}

type Middleware struct {
	resolver         *auth.Resolver
	db               KeyActivityStore
	redis            *redis.Client
	defaultRateLimit int
}

func NewMiddleware(resolver *auth.Resolver, db KeyActivityStore, redis *redis.Client, defaultRateLimit int) *Middleware {
	return &Middleware{
		resolver:         resolver,
		db:               db,
		redis:            redis,
		defaultRateLimit: defaultRateLimit,
	}
}

// bearerValue strips the Bearer scheme off an Authorization header.
func bearerValue(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// AuthMiddleware resolves caller identity from the request credentials
// and attaches it to the request context.
func (m *Middleware) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bearer := bearerValue(r.Header.Get("Authorization"))
		apiKey := strings.TrimSpace(r.Header.Get("X-API-Key"))

		identity, err := m.resolver.Resolve(r.Context(), bearer, apiKey)
		if err != nil {
			writeError(w, err)
			return
		}

		if identity.APIKey != nil {
			go m.db.UpdateAPIKeyLastUsed(context.Background(), identity.APIKey.ID)
		}

		ctx := context.WithValue(r.Context(), identityKey, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RateLimitMiddleware enforces per-key limits. Only API-key callers are
// rate limited; token and master callers pass through.
func (m *Middleware) RateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity := IdentityFrom(r.Context())
		if identity == nil || identity.APIKey == nil {
			next.ServeHTTP(w, r)
			return
		}

		limit := identity.APIKey.RateLimitPerMinute
		if limit <= 0 {
			limit = m.defaultRateLimit
		}

		exceeded, remaining, err := m.redis.CheckRateLimit(r.Context(), identity.APIKey.ID, limit)
		if err != nil {
			// Rate limiting is best-effort; a redis outage should not take
			// the gateway down.
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", limit))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))

		if exceeded {
			w.Header().Set("Retry-After", "60")
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// CORSMiddleware handles CORS
func (m *Middleware) CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
