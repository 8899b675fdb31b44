// Package auth resolves the caller's identity. Tokens are verified by the API
// gateway, which forwards the authenticated user in request headers together
// with a shared secret proving the request came through it.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
)

const (
	HeaderUserID        = "X-User-ID"
	HeaderUserEmail     = "X-User-Email"
	HeaderGatewaySecret = "X-Gateway-Secret"
)

var (
	ErrUnauthenticated = errors.New("no authenticated user")
	ErrUntrustedCaller = errors.New("request did not come through the gateway")
)

type UserInfo struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type contextKey struct{}

// VerifyToken returns the id of the user attached by Middleware.
func VerifyToken(r *http.Request) (string, error) {
	user, err := Identify(r)
	if err != nil {
		return "", err
	}
	return user.ID, nil
}

// Identify returns the user attached by Middleware. Identity headers on a
// request that did not pass the middleware are ignored.
func Identify(r *http.Request) (UserInfo, error) {
	if user, ok := FromContext(r.Context()); ok {
		return user, nil
	}
	return UserInfo{}, ErrUnauthenticated
}

// Gateway trusts identity headers only when they arrive with the shared secret.
type Gateway struct {
	secret []byte
}

func NewGateway(secret string) *Gateway {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		log.Warn().Str("component", "auth").Msg("Gateway secret not configured, all authenticated requests will be rejected")
	}
	return &Gateway{secret: []byte(secret)}
}

// Authenticate checks the gateway secret and reads the forwarded identity.
func (g *Gateway) Authenticate(r *http.Request) (UserInfo, error) {
	if len(g.secret) == 0 {
		return UserInfo{}, ErrUntrustedCaller
	}
	presented := []byte(r.Header.Get(HeaderGatewaySecret))
	if subtle.ConstantTimeCompare(presented, g.secret) != 1 {
		return UserInfo{}, ErrUntrustedCaller
	}

	id := strings.TrimSpace(r.Header.Get(HeaderUserID))
	if id == "" {
		return UserInfo{}, ErrUnauthenticated
	}

	return UserInfo{
		ID:    id,
		Email: strings.TrimSpace(r.Header.Get(HeaderUserEmail)),
	}, nil
}

// Middleware rejects requests without a trusted identity and stores it on the context.
func (g *Gateway) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := g.Authenticate(r)
		if err != nil {
			if errors.Is(err, ErrUntrustedCaller) {
				log.Warn().
					Str("component", "auth").
					Str("remote_addr", r.RemoteAddr).
					Str("path", r.URL.Path).
					Msg("Rejected request without gateway secret")
			}
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}

func WithUser(ctx context.Context, user UserInfo) context.Context {
	return context.WithValue(ctx, contextKey{}, user)
}

func FromContext(ctx context.Context) (UserInfo, bool) {
	user, ok := ctx.Value(contextKey{}).(UserInfo)
	return user, ok
}
