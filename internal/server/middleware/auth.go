package middleware

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"medilink/internal/platform/apperr"
	"medilink/internal/platform/authctx"
	"medilink/internal/platform/logger"
)

// IdentityResolver resolves the caller of a request from its credentials.
type IdentityResolver interface {
	Resolve(ctx context.Context, r *http.Request) (authctx.Identity, error)
}

// Authenticate attaches the resolved identity to the request context. Anonymous callers pass through
// without one; handlers decide whether that is allowed. A store failure ends the request with 500.
func Authenticate(resolver IdentityResolver, log *zap.Logger) func(http.Handler) http.Handler {
	log = logger.OrNop(log)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := resolver.Resolve(r.Context(), r)
			if err != nil {
				log.Error("resolve identity", zap.String("path", r.URL.Path), zap.Error(err))
				apperr.Write(w, r, apperr.Internal(err))
				return
			}
			if id.UserID != "" {
				r = r.WithContext(authctx.WithIdentity(r.Context(), id))
			}
			next.ServeHTTP(w, r)
		})
	}
}
