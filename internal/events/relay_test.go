package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/segmentio/kafka-go"
)

type fakeReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	committed []int64
	drained   chan struct{}
}

func (f *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	f.mu.Lock()
	if len(f.msgs) > 0 {
		m := f.msgs[0]
		f.msgs = f.msgs[1:]
		f.mu.Unlock()
		return m, nil
	}
	f.mu.Unlock()
	select {
	case f.drained <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (f *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range msgs {
		f.committed = append(f.committed, m.Offset)
	}
	return nil
}

type flakySink struct {
	mockSink
	failures int
}

func (f *flakySink) Send(ctx context.Context, e Event) error {
	f.mu.Lock()
	if f.failures > 0 {
		f.failures--
		f.mu.Unlock()
		return errors.New("redis down")
	}
	f.mu.Unlock()
	return f.mockSink.Send(ctx, e)
}

func message(t *testing.T, offset int64, e Event) kafka.Message {
	t.Helper()
	b, err := json.Marshal(e)
	if err != nil {
		t.Fatal(err)
	}
	return kafka.Message{Offset: offset, Value: b}
}

func TestRelay_ForwardsAndCommits(t *testing.T) {
	reader := &fakeReader{drained: make(chan struct{}, 1), msgs: []kafka.Message{
		message(t, 1, New(ServiceRequestCreated, "sr-1", nil, "h1")),
		{Offset: 2, Value: []byte("{not json")},
		message(t, 3, New(DisputeResolved, "d1", nil, "h1", "p1")),
	}}
	sink := &flakySink{failures: 2}
	r := NewRelay(reader, sink, nil)
	r.backoff = func() backoff.BackOff { return backoff.NewConstantBackOff(time.Millisecond) }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	select {
	case <-reader.drained:
	case <-time.After(5 * time.Second):
		t.Fatal("relay did not drain the reader")
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}

	sent := sink.sent()
	if len(sent) != 2 {
		t.Fatalf("forwarded %d events, want 2", len(sent))
	}
	if sent[1].Type != DisputeResolved {
		t.Errorf("second event = %s", sent[1].Type)
	}
	reader.mu.Lock()
	defer reader.mu.Unlock()
	if len(reader.committed) != 3 {
		t.Errorf("committed = %v, want all three offsets", reader.committed)
	}
}
