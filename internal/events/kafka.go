package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaSink writes events as JSON to a Kafka topic, keyed by the first org so one org's events stay ordered.
type KafkaSink struct {
	writer *kafka.Writer
}

// NewKafkaSink returns a sink for topic, or nil when brokers or topic are empty. Call Close when shutting down.
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	if len(brokers) == 0 || topic == "" {
		return nil
	}
	return &KafkaSink{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
	}}
}

func (s *KafkaSink) Send(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	var key []byte
	if len(e.OrgIDs) > 0 {
		key = []byte(e.OrgIDs[0])
	}
	return s.writer.WriteMessages(ctx, kafka.Message{Key: key, Value: payload})
}

// Close flushes and closes the writer. Safe on nil.
func (s *KafkaSink) Close() error {
	if s == nil || s.writer == nil {
		return nil
	}
	return s.writer.Close()
}
