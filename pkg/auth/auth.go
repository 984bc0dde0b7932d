// Package auth carries the pre-authenticated caller identity through a request.
// Authentication happens upstream; this package only trusts the forwarded header.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// UserIDHeader is the header set by the upstream authenticating proxy.
const UserIDHeader = "X-User-ID"

// ErrNoUser is returned when no caller identity is present in the context.
var ErrNoUser = errors.New("no authenticated user in context")

type contextKey struct{}

// UserContext describes the acting user for one request.
type UserContext struct {
	UserID string
}

// WithUser stores the user in ctx.
func WithUser(ctx context.Context, uc UserContext) context.Context {
	return context.WithValue(ctx, contextKey{}, uc)
}

// GetUserContext returns the user stored in ctx.
func GetUserContext(ctx context.Context) (UserContext, error) {
	uc, ok := ctx.Value(contextKey{}).(UserContext)
	if !ok || uc.UserID == "" {
		return UserContext{}, ErrNoUser
	}
	return uc, nil
}

// Middleware copies the forwarded user header into the request context.
// Requests without the header pass through unauthenticated; handlers decide.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := strings.TrimSpace(r.Header.Get(UserIDHeader)); id != "" {
			r = r.WithContext(WithUser(r.Context(), UserContext{UserID: id}))
		}
		next.ServeHTTP(w, r)
	})
}
