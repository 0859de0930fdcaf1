// Package rbac resolves the authenticated user for a request and gates
// routes on role derived capabilities.
package rbac

import (
	"context"

	"github.com/procura-erp/procura/internal/users"
)

type contextKey string

const userKey contextKey = "rbac.user"

// ContextWithUser stores the resolved user in the context.
func ContextWithUser(ctx context.Context, u users.User) context.Context {
	return context.WithValue(ctx, userKey, u)
}

// UserFromContext retrieves the resolved user, if any.
func UserFromContext(ctx context.Context) (users.User, bool) {
	u, ok := ctx.Value(userKey).(users.User)
	return u, ok
}
