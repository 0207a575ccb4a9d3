package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/warp/hr-engine/generic"
)

// =============================================================================
// IDENTITY - Principal supplied by the upstream identity service
// =============================================================================

// Headers set by the authenticating proxy in front of this service.
const (
	HeaderUserID    = "X-User-ID"
	HeaderUserRole  = "X-User-Role"
	HeaderUserScope = "X-User-Scope"
)

type principalKey struct{}

// Identity reads the principal headers into the request context. Requests
// without a known role are rejected with 401.
func Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := generic.Principal{
			UserID: strings.TrimSpace(r.Header.Get(HeaderUserID)),
			Role:   generic.Role(strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderUserRole)))),
			Scope:  generic.Scope(strings.TrimSpace(r.Header.Get(HeaderUserScope))),
		}
		if p.UserID == "" || !p.Role.Valid() {
			writeError(w, http.StatusUnauthorized, "Missing or unknown identity", nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

func WithPrincipal(ctx context.Context, p generic.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the request principal. The zero Principal has no
// role and can do nothing.
func PrincipalFrom(ctx context.Context) generic.Principal {
	p, _ := ctx.Value(principalKey{}).(generic.Principal)
	return p
}
