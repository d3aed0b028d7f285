// Package server assembles the HTTP surface: middleware chain, API handlers and the portal gate.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"medilink/internal/audit"
	"medilink/internal/platform/logger"
	"medilink/internal/server/middleware"
)

// Routable is implemented by every feature handler.
type Routable interface {
	Routes(r chi.Router)
}

// Deps holds what NewRouter wires together. Nil optional fields disable their concern.
type Deps struct {
	Log *zap.Logger
	// Resolver authenticates every request. Required.
	Resolver middleware.IdentityResolver
	// AuditLogger receives one entry per authenticated mutating request. If nil, nothing is audited.
	AuditLogger audit.AuditLogger
	// TracerProvider and MeterProvider default to the OTel globals.
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
	// Handlers register the JSON API.
	Handlers []Routable
	// Pages serves every path no API route matched (the portal gate). If nil, chi's 404 is used.
	Pages http.Handler
}

// selfAudited routes are recorded by their services with richer metadata.
var selfAudited = map[string]bool{
	"POST /api/service-requests/{requestID}/dispute":                 true,
	"POST /api/disputes/{disputeID}/resolve":                         true,
	"POST /api/disputes/{disputeID}/withdraw":                        true,
	"POST /api/service-requests/{requestID}/cancel":                  true,
	"POST /api/service-requests/{requestID}/start":                   true,
	"POST /api/service-requests/{requestID}/complete":                true,
	"POST /api/service-requests/{requestID}/quotes/{quoteID}/accept": true,
	"POST /api/organizations":                                        true,
	"POST /api/auth/login":                                           true,
	"POST /api/auth/switch-org":                                      true,
	"DELETE /api/sessions/{sessionID}":                               true,
	"POST /api/sessions/revoke-user":                                 true,
	"POST /api/admin/users/{userID}/disable":                         true,
	"POST /api/admin/users/{userID}/enable":                          true,
}

// NewRouter returns the root handler.
func NewRouter(d Deps) (http.Handler, error) {
	log := logger.OrNop(d.Log)
	auditLogger := d.AuditLogger
	if auditLogger == nil {
		auditLogger = audit.Nop{}
	}
	telemetry, err := middleware.Telemetry(d.TracerProvider, d.MeterProvider)
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.StoreClientIP)
	r.Use(telemetry)
	r.Use(middleware.RequestLog(log))
	r.Use(middleware.Authenticate(d.Resolver, log))
	r.Use(middleware.Audit(auditLogger, selfAudited))

	for _, h := range d.Handlers {
		h.Routes(r)
	}
	if d.Pages != nil {
		r.NotFound(d.Pages.ServeHTTP)
	}
	return r, nil
}
