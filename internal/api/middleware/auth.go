package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/wb-go/wbf/ginext"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/pixmix-relay/internal/api/respond"
	"github.com/aliskhannn/pixmix-relay/internal/auth"
	"github.com/aliskhannn/pixmix-relay/internal/model"
	"github.com/aliskhannn/pixmix-relay/internal/reqctx"
)

// TokenValidator resolves a bearer token to the caller's identity.
type TokenValidator interface {
	Validate(ctx context.Context, token string) (model.Identity, error)
}

// Auth rejects requests without a valid bearer token. A nil validator lets everything through.
// Validator outages answer 503 rather than 403.
func Auth(v TokenValidator) ginext.HandlerFunc {
	return func(c *ginext.Context) {
		if v == nil {
			c.Next()
			return
		}

		token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			respond.Abort(c, http.StatusUnauthorized, respond.Error{Error: "Authentication required"})
			return
		}

		id, err := v.Validate(c.Request.Context(), token)
		if errors.Is(err, auth.ErrUnavailable) {
			zlog.Logger.Err(err).
				Str("request_id", reqctx.RequestID(c.Request.Context())).
				Msg("token validation unavailable")
			respond.Abort(c, http.StatusServiceUnavailable, respond.Error{
				Error:   "Authentication unavailable",
				Message: "Token validation service unreachable",
			})
			return
		}
		if err != nil {
			zlog.Logger.Warn().
				Err(err).
				Str("request_id", reqctx.RequestID(c.Request.Context())).
				Msg("token validation failed")
			respond.Abort(c, http.StatusForbidden, respond.Error{
				Error:   "Authentication failed",
				Message: "Invalid or expired token",
			})
			return
		}

		c.Request = c.Request.WithContext(reqctx.WithIdentity(c.Request.Context(), id))
		c.Next()
	}
}
