package events

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"medilink/internal/platform/logger"
)

// sendTimeout bounds a single delivery. Also the longest Close waits per in-flight event.
const sendTimeout = 5 * time.Second

// Sink delivers one event synchronously.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Async is a Publisher that hands each event to a Sink on its own goroutine.
// Delivery uses a fresh context so a finished request does not cancel it; failures are logged and dropped.
type Async struct {
	sink Sink
	log  *zap.Logger
	wg   sync.WaitGroup
}

// NewAsync returns a Publisher over sink. A nil sink yields a Publisher that drops everything.
func NewAsync(sink Sink, log *zap.Logger) *Async {
	return &Async{sink: sink, log: logger.OrNop(log)}
}

// Publish sends e in the background.
func (a *Async) Publish(_ context.Context, e Event) {
	if a == nil || a.sink == nil || len(e.OrgIDs) == 0 {
		return
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		if err := a.sink.Send(ctx, e); err != nil {
			a.log.Warn("event publish failed", zap.String("type", e.Type), zap.String("event_id", e.ID), zap.Error(err))
		}
	}()
}

// Close waits for in-flight deliveries.
func (a *Async) Close() {
	if a == nil {
		return
	}
	a.wg.Wait()
}
