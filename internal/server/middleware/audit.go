package middleware

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"medilink/internal/audit"
	"medilink/internal/platform/authctx"
)

// Audit records one audit entry per mutating request of an authenticated caller, after the handler ran.
// Action and resource come from the matched chi route pattern; unmatched routes are not audited.
// skip lists "METHOD pattern" keys whose handlers write their own, richer entries.
func Audit(logger audit.AuditLogger, skip map[string]bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !audit.Mutating(r.Method) {
				next.ServeHTTP(w, r)
				return
			}
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			id, ok := authctx.From(r.Context())
			if !ok {
				return
			}
			rctx := chi.RouteContext(r.Context())
			if rctx == nil {
				return
			}
			pattern := rctx.RoutePattern()
			if pattern == "" || pattern == "/*" || skip[r.Method+" "+pattern] {
				return
			}
			ar := audit.ParseRoute(r.Method, pattern)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			var resourceID string
			if n := len(rctx.URLParams.Values); n > 0 {
				resourceID = rctx.URLParams.Values[n-1]
			}
			logger.LogEvent(r.Context(), audit.Event{
				OrgID:      id.OrgID,
				UserID:     id.UserID,
				Action:     ar.Action,
				Resource:   ar.Resource,
				ResourceID: resourceID,
				Metadata:   map[string]any{"method": r.Method, "route": pattern, "status": status},
			})
		})
	}
}
