package rbac

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/procura-erp/procura/internal/platform/httpx"
	"github.com/procura-erp/procura/internal/shared"
	"github.com/procura-erp/procura/internal/users"
)

// Middleware loads the user referenced by the session into the request
// context. Requests without a valid session pass through untouched so
// public routes keep working; protected routes are gated by Authenticated
// or Require.
type Middleware struct {
	users  *users.Service
	logger *slog.Logger
}

// NewMiddleware builds the resolver middleware.
func NewMiddleware(svc *users.Service, logger *slog.Logger) *Middleware {
	return &Middleware{users: svc, logger: logger}
}

// ResolveUser attaches the session's user to the context.
func (m *Middleware) ResolveUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := shared.SessionFromContext(r.Context())
		if sess == nil || sess.User() == "" {
			next.ServeHTTP(w, r)
			return
		}
		id, err := uuid.Parse(sess.User())
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}
		u, err := m.users.Get(r.Context(), id)
		if err != nil || !u.IsActive {
			if err != nil {
				m.logger.Warn("session user lookup failed", slog.String("user_id", sess.User()), slog.Any("error", err))
			}
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), u)))
	})
}

// Authenticated rejects requests without a resolved user.
func Authenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := UserFromContext(r.Context()); !ok {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Require gates a route on a capability predicate.
func Require(allowed func(users.Capabilities) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u, ok := UserFromContext(r.Context())
			if !ok {
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
				return
			}
			if !allowed(u.Capabilities()) {
				httpx.Problem(w, http.StatusForbidden, "Forbidden", "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
