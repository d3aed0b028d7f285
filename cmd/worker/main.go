// worker runs the background side of MediLink: the Kafka to Redis event relay, subscription
// renewals and the Temporal dispute worker. Each part starts only when its backends are configured.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"medilink/internal/app"
	"medilink/internal/config"
	"medilink/internal/db"
	"medilink/internal/dispute/workflow"
	"medilink/internal/events"
	"medilink/internal/platform/logger"
	telemetryotel "medilink/internal/telemetry/otel"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "worker:", err)
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

	providers, err := telemetryotel.NewProviders(ctx, cfg.OTLPEndpoint, "medilink-worker", cfg.OTLPInsecure, log)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	providers.SetGlobal()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
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

	bus, err := app.OpenBus(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := bus.Close(); err != nil {
			log.Warn("close event bus", zap.Error(err))
		}
	}()

	opts := app.Options{Config: cfg, Publisher: bus.Publisher, Log: log}
	temporal, err := app.DialTemporal(cfg, log)
	if err != nil {
		return fmt.Errorf("temporal: %w", err)
	}
	if temporal != nil {
		defer temporal.Close()
		opts.DisputeEngine = workflow.NewEngine(temporal, cfg.DisputeEscalation())
	}
	svc := app.Build(conn, opts)

	g, gctx := errgroup.WithContext(ctx)

	if brokers := cfg.KafkaBrokersList(); len(brokers) > 0 && bus.Redis != nil {
		reader := events.NewKafkaReader(brokers, cfg.EventsKafkaTopic, cfg.KafkaGroupID)
		defer reader.Close()
		relay := events.NewRelay(reader, events.NewRedis(bus.Redis), log.Named("relay"))
		g.Go(func() error { return relay.Run(gctx) })
		log.Info("event relay started", zap.String("topic", cfg.EventsKafkaTopic), zap.String("group", cfg.KafkaGroupID))
	} else {
		log.Info("event relay disabled, needs KAFKA_BROKERS and REDIS_URL")
	}

	g.Go(func() error { return svc.Billing.RunRenewals(gctx, cfg.RenewalEvery()) })
	log.Info("subscription renewals scheduled", zap.Duration("every", cfg.RenewalEvery()))

	if temporal != nil {
		w := workflow.NewWorker(temporal, svc.Disputes)
		if err := w.Start(); err != nil {
			return fmt.Errorf("start dispute worker: %w", err)
		}
		defer w.Stop()
		log.Info("dispute worker started", zap.String("task_queue", workflow.TaskQueue))
	}

	err = g.Wait()
	log.Info("worker stopped")
	return err
}
