package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"taskboard/internal/engine/auth"
	"taskboard/internal/metrics"
)

type identityKey struct{}

func withIdentity(ctx context.Context, id auth.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

func identityFromContext(ctx context.Context) (auth.Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(auth.Identity)
	return id, ok
}

// requireIdentity returns the authenticated caller or a 401.
func requireIdentity(ctx context.Context) (auth.Identity, huma.StatusError) {
	if id, ok := identityFromContext(ctx); ok && id.UserID != "" {
		return id, nil
	}
	return auth.Identity{}, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
}

// requireSession returns the caller when it is a browser session.
func requireSession(ctx context.Context) (auth.Identity, huma.StatusError) {
	id, authErr := requireIdentity(ctx)
	if authErr != nil {
		return auth.Identity{}, authErr
	}
	if err := auth.RequireSession(id); err != nil {
		return auth.Identity{}, handleError(ctx, err)
	}
	return id, nil
}

// newAuthMiddleware resolves the caller for every route under basePath
// except the public ones.
func newAuthMiddleware(basePath string, authn auth.Authenticator, m *metrics.Metrics) func(http.Handler) http.Handler {
	public := map[string]bool{}
	for _, p := range []string{"health", "openapi.json", "auth/signup", "auth/login", "auth/logout", "billing/webhook"} {
		public[path.Join(basePath, p)] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if !strings.HasPrefix(req.URL.Path, basePath+"/") || public[req.URL.Path] {
				next.ServeHTTP(w, req)
				return
			}
			id, err := authn.Authenticate(req)
			if err != nil {
				if errors.Is(err, auth.ErrUnauthorized) {
					m.AuthFailure(failureReason(req))
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "invalid or missing credentials", nil))
					return
				}
				requestLogger(req.Context()).Error("authenticate", "err", err)
				respondStatusError(w, newAPIError(http.StatusInternalServerError, "internal_error", "internal error", nil))
				return
			}
			next.ServeHTTP(w, req.WithContext(withIdentity(req.Context(), id)))
		})
	}
}

func failureReason(req *http.Request) string {
	switch {
	case req.Header.Get(auth.HeaderAPIKey) != "":
		return "api_key"
	case req.Header.Get("Authorization") != "":
		return "bearer"
	default:
		if _, err := req.Cookie(auth.SessionCookie); err == nil {
			return "session"
		}
		return "missing"
	}
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	status := err.GetStatus()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(err)
}
