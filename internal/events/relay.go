package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"medilink/internal/platform/logger"
)

// MessageReader is the part of *kafka.Reader the relay uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// NewKafkaReader returns a consumer-group reader for topic.
func NewKafkaReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
}

// Relay copies events from Kafka to the realtime sink, committing each message after it is forwarded.
type Relay struct {
	reader  MessageReader
	sink    Sink
	log     *zap.Logger
	backoff func() backoff.BackOff
}

func NewRelay(reader MessageReader, sink Sink, log *zap.Logger) *Relay {
	return &Relay{reader: reader, sink: sink, log: logger.OrNop(log), backoff: func() backoff.BackOff {
		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = 250 * time.Millisecond
		bo.MaxInterval = 30 * time.Second
		bo.MaxElapsedTime = 0
		return bo
	}}
}

// Run relays until ctx is cancelled. Undecodable messages are skipped. A failed forward is retried with
// backoff and the message is committed only after it went through.
func (r *Relay) Run(ctx context.Context) error {
	for {
		msg, err := r.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		var e Event
		if err := json.Unmarshal(msg.Value, &e); err != nil {
			r.log.Warn("relay: skip malformed event", zap.Int64("offset", msg.Offset), zap.Error(err))
		} else if err := r.forward(ctx, e); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := r.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

func (r *Relay) forward(ctx context.Context, e Event) error {
	if len(e.OrgIDs) == 0 {
		return nil
	}
	return backoff.RetryNotify(func() error {
		sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
		defer cancel()
		return r.sink.Send(sendCtx, e)
	}, backoff.WithContext(r.backoff(), ctx), func(err error, next time.Duration) {
		r.log.Warn("relay: forward failed, retrying", zap.String("event_id", e.ID), zap.Error(err), zap.Duration("next", next))
	})
}
