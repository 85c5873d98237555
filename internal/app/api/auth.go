package api

import (
	"context"
	"net/http"
	"strings"

	"toolgate/internal/domain"
)

// Authenticator resolves the user behind a request. Session issuance is
// owned by an external system; the gateway only verifies.
type Authenticator interface {
	Authenticate(r *http.Request) (userID string, ok bool)
}

// TokenAuthenticator verifies static bearer tokens from configuration.
// The token table follows config reloads.
type TokenAuthenticator struct {
	source ConfigSource
}

// ConfigSource yields the current configuration snapshot.
type ConfigSource interface {
	Snapshot() domain.GatewayConfig
}

func NewTokenAuthenticator(source ConfigSource) *TokenAuthenticator {
	return &TokenAuthenticator{source: source}
}

func (a *TokenAuthenticator) Authenticate(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found || token == "" {
		return "", false
	}
	userID, ok := a.source.Snapshot().Auth.Tokens[token]
	return userID, ok
}

type userIDKey struct{}

func contextWithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

func userFrom(ctx context.Context) string {
	userID, _ := ctx.Value(userIDKey{}).(string)
	return userID
}

// requireAuth rejects unauthenticated requests and stashes the user id in
// the request context.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := s.auth.Authenticate(r)
		if !ok {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized"})
			return
		}
		next(w, r.WithContext(contextWithUser(r.Context(), userID)))
	}
}

// optionalAuth resolves the user when a valid token is present and lets
// anonymous requests through with an empty user id.
func (s *Server) optionalAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if userID, ok := s.auth.Authenticate(r); ok {
			r = r.WithContext(contextWithUser(r.Context(), userID))
		}
		next(w, r)
	}
}
