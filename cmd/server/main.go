// server runs the MediLink HTTP API, the portal gate and the realtime feed.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"medilink/internal/app"
	audithandler "medilink/internal/audit/handler"
	billinghandler "medilink/internal/billing/handler"
	"medilink/internal/config"
	creditshandler "medilink/internal/credits/handler"
	"medilink/internal/db"
	disputehandler "medilink/internal/dispute/handler"
	"medilink/internal/dispute/workflow"
	equipmenthandler "medilink/internal/equipment/handler"
	healthhandler "medilink/internal/health/handler"
	identityhandler "medilink/internal/identity/handler"
	membershiphandler "medilink/internal/membership/handler"
	orghandler "medilink/internal/organization/handler"
	"medilink/internal/platform/cookies"
	"medilink/internal/platform/logger"
	"medilink/internal/portal"
	"medilink/internal/realtime"
	"medilink/internal/server"
	srhandler "medilink/internal/servicerequest/handler"
	sessionhandler "medilink/internal/session/handler"
	telemetryotel "medilink/internal/telemetry/otel"
	userhandler "medilink/internal/user/handler"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "server:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, err := telemetryotel.NewProviders(ctx, cfg.OTLPEndpoint, "medilink-server", cfg.OTLPInsecure, log)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	providers.SetGlobal()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = providers.Shutdown(shutdownCtx)
	}()
	log = log.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		return zapcore.NewTee(c, telemetryotel.NewZapCore(providers.LoggerProvider, logger.ParseLevel(cfg.LogLevel)))
	}))

	conn, err := db.Connect(ctx, cfg.DatabaseURL, time.Minute, log)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer conn.Close()

	tokens, err := app.Tokens(cfg)
	if err != nil {
		return fmt.Errorf("jwt keys: %w", err)
	}
	bus, err := app.OpenBus(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := bus.Close(); err != nil {
			log.Warn("close event bus", zap.Error(err))
		}
	}()

	opts := app.Options{Config: cfg, Tokens: tokens, Publisher: bus.Publisher, Log: log}
	temporal, err := app.DialTemporal(cfg, log)
	if err != nil {
		return fmt.Errorf("temporal: %w", err)
	}
	if temporal != nil {
		defer temporal.Close()
		opts.DisputeEngine = workflow.NewEngine(temporal, cfg.DisputeEscalation())
	} else {
		log.Info("temporal not configured, disputes resolve synchronously")
	}
	svc := app.Build(conn, opts)

	policy, err := portal.LoadPolicy(ctx, cfg.PortalPolicyFile)
	if err != nil {
		return err
	}
	jar := cookies.Jar{Secure: cfg.CookieSecure, Domain: cfg.CookieDomain}
	gate, err := portal.NewGate(svc.Resolver, policy, cfg.FrontendUpstreamURL, jar, log.Named("portal"))
	if err != nil {
		return err
	}

	router, err := server.NewRouter(server.Deps{
		Log:            log,
		Resolver:       svc.Resolver,
		AuditLogger:    svc.AuditLogger,
		TracerProvider: providers.TracerProvider,
		MeterProvider:  providers.MeterProvider,
		Handlers: []server.Routable{
			identityhandler.NewHandler(svc.Auth, jar),
			orghandler.NewHandler(svc.Orgs, jar),
			membershiphandler.NewHandler(svc.Members),
			sessionhandler.NewHandler(svc.Repos.Sessions, svc.Repos.Memberships, svc.AuditLogger),
			userhandler.NewHandler(svc.Repos.Users, svc.Repos.Sessions, svc.AuditLogger),
			equipmenthandler.NewHandler(svc.Equipment),
			srhandler.NewHandler(svc.Requests),
			disputehandler.NewHandler(svc.Disputes),
			billinghandler.NewHandler(svc.Billing),
			creditshandler.NewHandler(svc.Credits),
			audithandler.NewHandler(svc.Audit, log),
			realtime.NewHandler(bus.Feed, cfg.RealtimeOriginsList(), log.Named("realtime")),
			healthhandler.NewHandler(conn, policy, log),
			gate,
		},
		Pages: gate,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		// Request contexts end with the process so websocket streams stop on shutdown.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("http server stopped")
	return nil
}
