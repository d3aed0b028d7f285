package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type mockSink struct {
	mu     sync.Mutex
	events []Event
	err    error
	delay  time.Duration
}

func (m *mockSink) Send(ctx context.Context, e Event) error {
	if m.delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.delay):
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return m.err
}

func (m *mockSink) sent() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

func TestNew_DropsEmptyOrgs(t *testing.T) {
	e := New(QuoteSubmitted, "q1", nil, "h1", "", "p1")
	if len(e.OrgIDs) != 2 || e.OrgIDs[0] != "h1" || e.OrgIDs[1] != "p1" {
		t.Errorf("OrgIDs = %v", e.OrgIDs)
	}
	if e.ID == "" || e.OccurredAt.IsZero() {
		t.Error("New should stamp id and time")
	}
}

func TestAsync_NilSink(t *testing.T) {
	a := NewAsync(nil, nil)
	a.Publish(context.Background(), New(CreditsChanged, "", nil, "org-1"))
	a.Close()

	var nilAsync *Async
	nilAsync.Publish(context.Background(), Event{})
	nilAsync.Close()
}

func TestAsync_Delivers(t *testing.T) {
	sink := &mockSink{}
	a := NewAsync(sink, nil)
	a.Publish(context.Background(), New(CreditsChanged, "", nil, "org-1"))
	a.Publish(context.Background(), New(CreditsChanged, "", nil)) // no audience, dropped
	a.Close()

	if got := sink.sent(); len(got) != 1 || got[0].OrgIDs[0] != "org-1" {
		t.Errorf("sent = %+v", got)
	}
}

func TestAsync_RequestCancellationDoesNotAbort(t *testing.T) {
	sink := &mockSink{delay: 20 * time.Millisecond}
	a := NewAsync(sink, nil)
	ctx, cancel := context.WithCancel(context.Background())
	a.Publish(ctx, New(DisputeOpened, "d1", nil, "h1"))
	cancel()
	a.Close()

	if len(sink.sent()) != 1 {
		t.Error("delivery should survive request cancellation")
	}
}

func TestAsync_ErrorsAreSwallowed(t *testing.T) {
	sink := &mockSink{err: errors.New("broker down")}
	a := NewAsync(sink, nil)
	a.Publish(context.Background(), New(DisputeOpened, "d1", nil, "h1"))
	a.Close()

	if len(sink.sent()) != 1 {
		t.Error("sink should have been called")
	}
}

func TestChannel(t *testing.T) {
	if got := Channel("abc"); got != "medilink:org:abc" {
		t.Errorf("Channel = %q", got)
	}
}
