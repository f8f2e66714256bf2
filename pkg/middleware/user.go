package middleware

import (
	"context"
	"net/http"
	"strings"
)

// UserHeader carries the acting user id. Authentication happens upstream;
// the service trusts the header as the principal.
const UserHeader = "X-User"

type userKey struct{}

// User copies the X-User header into the request context.
func User() Func {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if user := strings.TrimSpace(r.Header.Get(UserHeader)); user != "" {
				r = r.WithContext(WithUser(r.Context(), user))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithUser returns a context carrying the acting user id.
func WithUser(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, userKey{}, user)
}

// UserFrom returns the acting user id stored by User, if any.
func UserFrom(ctx context.Context) (string, bool) {
	user, ok := ctx.Value(userKey{}).(string)
	return user, ok && user != ""
}
