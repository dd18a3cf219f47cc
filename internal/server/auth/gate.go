// Package auth implements the admin authorization gate. The same shared
// secret is enforced at two points: an HTTP middleware that rejects requests
// before routing reaches a handler, and a procedure-level check inside the
// service call chain. Both fail closed when no secret is configured.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/bcrypt"
)

// ErrUnauthorized is the fixed denial raised by the procedure form of the
// gate. The message is deliberately generic.
var ErrUnauthorized = errors.New("unauthorized")

type tokenKey struct{}

// Gate verifies admin bearer tokens against a configured secret. The secret
// may be stored pre-hashed with bcrypt; a "$2" prefix selects hash
// comparison, anything else is compared in constant time.
type Gate struct {
	secret string
}

// NewGate creates a gate for the given shared secret. An empty secret
// disables all admin operations.
func NewGate(secret string) *Gate {
	return &Gate{secret: strings.TrimSpace(secret)}
}

func (g *Gate) verify(token string) bool {
	if g.secret == "" {
		slog.Warn("admin token is not configured, denying request")
		return false
	}
	if token == "" {
		return false
	}
	if strings.HasPrefix(g.secret, "$2") {
		return bcrypt.CompareHashAndPassword([]byte(g.secret), []byte(token)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(g.secret), []byte(token)) == 1
}

// Middleware is the HTTP form of the gate. A missing header, malformed
// scheme, unconfigured secret, or mismatched token all answer 401 with the
// same generic body. On success the token is stashed in the request context
// so the procedure form can re-check it downstream.
func (g *Gate) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := extractBearer(c.Request().Header.Get("Authorization"))
			if !g.verify(token) {
				return c.JSON(http.StatusUnauthorized, map[string]string{
					"error": "unauthorized",
				})
			}
			ctx := WithToken(c.Request().Context(), token)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// Authorize is the procedure form of the gate, used inside the service call
// chain. It reads the token from the context and returns ErrUnauthorized on
// any failure instead of writing an HTTP response.
func (g *Gate) Authorize(ctx context.Context) error {
	token, _ := ctx.Value(tokenKey{}).(string)
	if !g.verify(token) {
		return ErrUnauthorized
	}
	return nil
}

// WithToken attaches a bearer token to a context for later authorization.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey{}, token)
}

func extractBearer(header string) string {
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}
