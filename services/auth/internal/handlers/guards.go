package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"outsy/services/auth/internal/apperr"
	"outsy/services/auth/internal/tokens"
	"outsy/services/auth/internal/users"
)

type identityKey struct{}

// WithIdentity returns ctx carrying the verified caller.
func WithIdentity(ctx context.Context, id tokens.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the caller verified by Authenticate.
func IdentityFrom(ctx context.Context) (tokens.Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(tokens.Identity)
	return id, ok
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// Authenticate requires a valid bearer access token and stores the caller's
// identity in the request context.
func (h *Handler) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r.Header.Get("Authorization"))
		if !ok {
			h.fail(w, r, apperr.Unauthorized("missing or malformed authorization header", nil))
			return
		}

		id, err := h.svc.VerifyAccessToken(r.Context(), token)
		if err != nil {
			h.fail(w, r, err)
			return
		}

		zerolog.Ctx(r.Context()).UpdateContext(func(c zerolog.Context) zerolog.Context {
			return c.Str("user_id", id.UserID.String())
		})
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

// RequireRole must run after Authenticate. It looks the caller's role up on
// every request instead of trusting anything carried in the token.
func (h *Handler) RequireRole(role users.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFrom(r.Context())
			if !ok {
				h.fail(w, r, apperr.Unauthorized("not authenticated", nil))
				return
			}
			if err := h.svc.RequireRole(r.Context(), id.UserID, role); err != nil {
				h.fail(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
