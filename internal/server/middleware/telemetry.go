package middleware

import (
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const scopeName = "medilink/internal/server"

// Telemetry starts one server span per request and records a request counter and a duration histogram,
// both attributed with route pattern, method and status. Nil providers fall back to the globals.
func Telemetry(tp trace.TracerProvider, mp metric.MeterProvider) (func(http.Handler) http.Handler, error) {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	tracer := tp.Tracer(scopeName)
	meter := mp.Meter(scopeName)
	requests, err := meter.Int64Counter("http.server.request.count",
		metric.WithDescription("HTTP requests served"), metric.WithUnit("{request}"))
	if err != nil {
		return nil, err
	}
	durations, err := meter.Float64Histogram("http.server.request.duration",
		metric.WithDescription("HTTP request duration"), metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := tracer.Start(ctx, r.Method, trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(attribute.String("http.request.method", r.Method), attribute.String("url.path", r.URL.Path)))
			defer span.End()

			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := routePattern(r)
			attrs := []attribute.KeyValue{
				attribute.String("http.route", route),
				attribute.String("http.request.method", r.Method),
				attribute.Int("http.response.status_code", status),
			}
			span.SetName(r.Method + " " + route)
			span.SetAttributes(attrs...)
			if status >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(status))
			}
			set := metric.WithAttributes(attrs...)
			requests.Add(ctx, 1, set)
			durations.Record(ctx, time.Since(start).Seconds(), set)
		})
	}, nil
}
