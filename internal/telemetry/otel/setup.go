// Package otel builds the OpenTelemetry trace, metric and log providers, exporting over OTLP gRPC.
package otel

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
	"go.uber.org/zap"
	"google.golang.org/grpc/credentials"

	"medilink/internal/platform/logger"
)

const metricInterval = 10 * time.Second

// Providers holds the OpenTelemetry providers and a shutdown function.
type Providers struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *metric.MeterProvider
	LoggerProvider *sdklog.LoggerProvider
	Shutdown       func(context.Context) error
}

// target is a parsed collector address.
type target struct {
	host     string
	insecure bool
}

// parseTarget accepts host:port or a URL; the path of a URL is ignored. Only https gets TLS.
func parseTarget(endpoint string, forceInsecure bool) (target, error) {
	raw := endpoint
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return target{}, fmt.Errorf("invalid OTLP endpoint %q: %w", endpoint, err)
	}
	if u.Host == "" {
		return target{}, fmt.Errorf("invalid OTLP endpoint %q: missing host", endpoint)
	}
	return target{host: u.Host, insecure: forceInsecure || u.Scheme != "https"}, nil
}

func (t target) traceOptions() []otlptracegrpc.Option {
	if t.insecure {
		return []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(t.host), otlptracegrpc.WithInsecure()}
	}
	return []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(t.host), otlptracegrpc.WithTLSCredentials(systemTLS())}
}

func (t target) metricOptions() []otlpmetricgrpc.Option {
	if t.insecure {
		return []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(t.host), otlpmetricgrpc.WithInsecure()}
	}
	return []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(t.host), otlpmetricgrpc.WithTLSCredentials(systemTLS())}
}

func (t target) logOptions() []otlploggrpc.Option {
	if t.insecure {
		return []otlploggrpc.Option{otlploggrpc.WithEndpoint(t.host), otlploggrpc.WithInsecure()}
	}
	return []otlploggrpc.Option{otlploggrpc.WithEndpoint(t.host), otlploggrpc.WithTLSCredentials(systemTLS())}
}

func systemTLS() credentials.TransportCredentials {
	return credentials.NewClientTLSFromCert(nil, "")
}

// disabled returns providers that record in-process only, for runs without a collector.
func disabled() *Providers {
	return &Providers{
		TracerProvider: sdktrace.NewTracerProvider(),
		MeterProvider:  metric.NewMeterProvider(),
		LoggerProvider: sdklog.NewLoggerProvider(),
		Shutdown:       func(context.Context) error { return nil },
	}
}

// NewProviders creates providers exporting to endpoint. An empty endpoint yields providers that
// export nothing and a no-op Shutdown.
func NewProviders(ctx context.Context, endpoint, serviceName string, insecure bool, log *zap.Logger) (*Providers, error) {
	log = logger.OrNop(log)
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return disabled(), nil
	}
	t, err := parseTarget(endpoint, insecure)
	if err != nil {
		return nil, err
	}
	res, err := resource.Merge(resource.Default(),
		resource.NewWithAttributes(semconv.SchemaURL, semconv.ServiceNameKey.String(serviceName)))
	if err != nil {
		return nil, err
	}

	// Shutdown runs in reverse so the log provider flushes before the exporters it reports on.
	var stops []func(context.Context) error
	shutdown := func(ctx context.Context) error {
		var errs []error
		for i := len(stops) - 1; i >= 0; i-- {
			if err := stops[i](ctx); err != nil {
				log.Warn("telemetry shutdown", zap.Error(err))
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
	fail := func(err error) (*Providers, error) {
		_ = shutdown(ctx)
		return nil, err
	}

	traceExp, err := otlptracegrpc.New(ctx, t.traceOptions()...)
	if err != nil {
		return fail(err)
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(traceExp), sdktrace.WithResource(res))
	stops = append(stops, tp.Shutdown)

	metricExp, err := otlpmetricgrpc.New(ctx, t.metricOptions()...)
	if err != nil {
		return fail(err)
	}
	mp := metric.NewMeterProvider(metric.WithResource(res),
		metric.WithReader(metric.NewPeriodicReader(metricExp, metric.WithInterval(metricInterval))))
	stops = append(stops, mp.Shutdown)

	logExp, err := otlploggrpc.New(ctx, t.logOptions()...)
	if err != nil {
		return fail(err)
	}
	lp := sdklog.NewLoggerProvider(sdklog.WithProcessor(sdklog.NewBatchProcessor(logExp)), sdklog.WithResource(res))
	stops = append(stops, lp.Shutdown)

	log.Info("telemetry exporting", zap.String("collector", t.host), zap.Bool("insecure", t.insecure))
	return &Providers{TracerProvider: tp, MeterProvider: mp, LoggerProvider: lp, Shutdown: shutdown}, nil
}

// SetGlobal installs the trace and meter providers and the W3C trace-context propagator.
// The LoggerProvider is not global; hand it to NewZapCore.
func (p *Providers) SetGlobal() {
	if p.TracerProvider != nil {
		otel.SetTracerProvider(p.TracerProvider)
	}
	if p.MeterProvider != nil {
		otel.SetMeterProvider(p.MeterProvider)
	}
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
}
