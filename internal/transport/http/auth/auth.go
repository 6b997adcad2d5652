package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/corray333/backend-labs/fulfillment/internal/service/models/apperr"
	"github.com/corray333/backend-labs/fulfillment/internal/service/models/identity"
	"github.com/corray333/backend-labs/fulfillment/internal/transport/http/httpresp"
)

// Headers set by the API gateway after it authenticates the caller.
const (
	HeaderUserID = "X-User-Id"
	HeaderRole   = "X-User-Role"
)

type ctxKey struct{}

// Middleware puts the caller's identity into the request context and rejects anonymous requests.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get(HeaderUserID))
		if userID == "" {
			httpresp.Error(w, r, apperr.ErrUnauthorized)

			return
		}

		role := identity.RoleUser
		if strings.EqualFold(r.Header.Get(HeaderRole), string(identity.RoleAdmin)) {
			role = identity.RoleAdmin
		}

		ctx := WithIdentity(r.Context(), identity.Identity{UserID: userID, Role: role})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func WithIdentity(ctx context.Context, id identity.Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the identity stored by Middleware.
func FromContext(ctx context.Context) (identity.Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(identity.Identity)

	return id, ok
}
