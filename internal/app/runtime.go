package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"medilink/internal/config"
	"medilink/internal/events"
	"medilink/internal/platform/logger"
	"medilink/internal/realtime"
)

// Bus is the event publisher chosen from config plus the realtime feed that observes it.
type Bus struct {
	Publisher events.Publisher
	// Feed is nil when published events never reach this process (Kafka without Redis).
	Feed realtime.Subscriber
	// Redis is the shared client, nil when REDIS_URL is empty.
	Redis   *redis.Client
	async   *events.Async
	closers []func() error
}

// OpenBus selects the publisher: Kafka when KAFKA_BROKERS is set, else Redis directly when REDIS_URL is set,
// else an in-process hub. The realtime feed reads Redis when configured, else the hub.
func OpenBus(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Bus, error) {
	log = logger.OrNop(log)
	b := &Bus{}
	if cfg.RedisURL != "" {
		c, err := events.OpenRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		b.Redis = c
		b.closers = append(b.closers, c.Close)
		b.Feed = events.NewRedis(c)
	}

	var sink events.Sink
	switch {
	case len(cfg.KafkaBrokersList()) > 0:
		k := events.NewKafkaSink(cfg.KafkaBrokersList(), cfg.EventsKafkaTopic)
		if k == nil {
			return nil, errors.New("events: EVENTS_KAFKA_TOPIC must be set with KAFKA_BROKERS")
		}
		b.closers = append(b.closers, k.Close)
		sink = k
		log.Info("events publish to kafka", zap.String("topic", cfg.EventsKafkaTopic))
	case b.Redis != nil:
		sink = events.NewRedis(b.Redis)
		log.Info("events publish to redis")
	default:
		hub := realtime.NewHub(64)
		sink = hub
		b.Feed = hub
		log.Info("events stay in process")
	}
	b.async = events.NewAsync(sink, log.Named("events"))
	b.Publisher = b.async
	return b, nil
}

// Close drains in-flight events, then closes the connections.
func (b *Bus) Close() error {
	b.async.Close()
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DialTemporal connects to Temporal, or returns nil when TEMPORAL_HOST_PORT is empty.
func DialTemporal(cfg *config.Config, log *zap.Logger) (client.Client, error) {
	if cfg.TemporalHostPort == "" {
		return nil, nil
	}
	return client.Dial(client.Options{
		HostPort:  cfg.TemporalHostPort,
		Namespace: cfg.TemporalNamespace,
		Logger:    temporalLogger{logger.OrNop(log).Named("temporal").Sugar()},
	})
}

// temporalLogger adapts zap to the Temporal SDK logger.
type temporalLogger struct {
	s *zap.SugaredLogger
}

func (l temporalLogger) Debug(msg string, keyvals ...interface{}) { l.s.Debugw(msg, keyvals...) }
func (l temporalLogger) Info(msg string, keyvals ...interface{})  { l.s.Infow(msg, keyvals...) }
func (l temporalLogger) Warn(msg string, keyvals ...interface{})  { l.s.Warnw(msg, keyvals...) }
func (l temporalLogger) Error(msg string, keyvals ...interface{}) { l.s.Errorw(msg, keyvals...) }
