// Package auth resolves the credential presented on a websocket handshake
// or REST request into an Identity.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"webchat-service/internal/models"
	"webchat-service/internal/observability"
)

// ErrUnauthenticated is returned for every credential that does not resolve
// to a known account. Callers never learn which check failed.
var ErrUnauthenticated = errors.New("unauthenticated")

// ErrUnknownAccount is returned by resolvers when the token is valid but the
// account it names does not exist.
var ErrUnknownAccount = errors.New("unknown account")

const accessTokenCookie = "access_token"

// Resolver turns a raw token into an identity.
type Resolver interface {
	Resolve(ctx context.Context, token string) (models.Identity, error)
}

// Gate authenticates requests against a Resolver.
type Gate struct {
	resolver Resolver
	logger   zerolog.Logger
}

func NewGate(resolver Resolver, logger zerolog.Logger) *Gate {
	return &Gate{resolver: resolver, logger: logger.With().Str("component", "auth").Logger()}
}

// Authenticate extracts the credential from r and resolves it.
func (g *Gate) Authenticate(r *http.Request) (models.Identity, error) {
	token := TokenFromRequest(r)
	if token == "" {
		return g.reject("missing_token", errors.New("no credential presented"))
	}

	identity, err := g.resolver.Resolve(r.Context(), token)
	if err != nil {
		reason := "invalid_token"
		if errors.Is(err, ErrUnknownAccount) {
			reason = "unknown_account"
		}
		return g.reject(reason, err)
	}
	return identity, nil
}

func (g *Gate) reject(reason string, err error) (models.Identity, error) {
	observability.IncAuthRejection(reason)
	g.logger.Debug().Str("reason", reason).Err(err).Msg("credential rejected")
	return models.Identity{}, fmt.Errorf("%w: %s", ErrUnauthenticated, reason)
}

// TokenFromRequest returns the bearer credential of r. The token query
// parameter wins over the access_token cookie, which wins over the
// Authorization header.
func TokenFromRequest(r *http.Request) string {
	if token := strings.TrimSpace(r.URL.Query().Get("token")); token != "" {
		return token
	}
	if cookie, err := r.Cookie(accessTokenCookie); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}
