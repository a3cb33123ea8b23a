package helpers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/charlieegan3/social-relay/internal/apperr"
	"github.com/charlieegan3/social-relay/internal/auth"
)

// Verifier turns a bearer token into an identity.
type Verifier interface {
	Verify(token string) (auth.Identity, error)
}

type identityKey struct{}

// BearerToken extracts the token from an Authorization header.
func BearerToken(header *http.Header) (string, error) {
	value := header.Get("Authorization")
	if value == "" {
		return "", apperr.Authentication("missing credential")
	}
	if !strings.HasPrefix(value, "Bearer ") {
		return "", apperr.Authentication("authorization header must use the Bearer scheme")
	}
	return strings.TrimSpace(strings.TrimPrefix(value, "Bearer ")), nil
}

// AuthnUser verifies the bearer token in header.
func AuthnUser(header *http.Header, verifier Verifier) (auth.Identity, error) {
	token, err := BearerToken(header)
	if err != nil {
		return auth.Identity{}, err
	}
	return verifier.Verify(token)
}

// RequireAuth rejects requests without a valid bearer token and stores the
// verified identity on the request context.
func RequireAuth(verifier Verifier) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, err := AuthnUser(&r.Header, verifier)
			if err != nil {
				WriteError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

func WithIdentity(ctx context.Context, identity auth.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFrom returns the identity stored by RequireAuth.
func IdentityFrom(ctx context.Context) (auth.Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(auth.Identity)
	return identity, ok
}
