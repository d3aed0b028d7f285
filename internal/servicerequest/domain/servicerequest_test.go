package domain

import (
	"errors"
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	allowed := [][2]Status{
		{StatusOpen, StatusQuoted},
		{StatusQuoted, StatusAccepted},
		{StatusAccepted, StatusInProgress},
		{StatusInProgress, StatusCompleted},
		{StatusOpen, StatusCancelled},
		{StatusQuoted, StatusCancelled},
		{StatusAccepted, StatusCancelled},
		{StatusCompleted, StatusDisputed},
		{StatusDisputed, StatusCompleted},
		{StatusDisputed, StatusRefunded},
	}
	for _, tc := range allowed {
		if !CanTransition(tc[0], tc[1]) {
			t.Errorf("%s -> %s should be allowed", tc[0], tc[1])
		}
	}
	denied := [][2]Status{
		{StatusOpen, StatusAccepted},
		{StatusOpen, StatusInProgress},
		{StatusInProgress, StatusCancelled},
		{StatusCompleted, StatusCancelled},
		{StatusCancelled, StatusOpen},
		{StatusRefunded, StatusCompleted},
		{StatusQuoted, StatusOpen},
	}
	for _, tc := range denied {
		if CanTransition(tc[0], tc[1]) {
			t.Errorf("%s -> %s should be denied", tc[0], tc[1])
		}
	}
}

func TestTransition(t *testing.T) {
	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	r := &ServiceRequest{Status: StatusInProgress}
	if err := r.Transition(StatusCompleted, at); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if r.CompletedAt == nil || !r.CompletedAt.Equal(at) || !r.UpdatedAt.Equal(at) {
		t.Errorf("stamps = %v %v", r.CompletedAt, r.UpdatedAt)
	}
	if err := r.Transition(StatusOpen, at); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("err = %v, want ErrInvalidTransition", err)
	}
	if r.Status != StatusCompleted {
		t.Errorf("status changed on a denied transition: %s", r.Status)
	}
}

func TestValidate(t *testing.T) {
	r := &ServiceRequest{Title: " Fix ", EquipmentID: "e1"}
	if err := r.Validate(); err != nil || r.Priority != PriorityMedium || r.Title != "Fix" {
		t.Errorf("Validate = %v, %+v", err, r)
	}
	if err := (&ServiceRequest{Title: "x", EquipmentID: "e", Priority: "urgent"}).Validate(); err == nil {
		t.Error("unknown priority should fail")
	}
	q := &Quote{AmountCents: 100, Currency: "jpy"}
	if err := q.Validate(); err != nil || q.Currency != "JPY" {
		t.Errorf("quote Validate = %v, %+v", err, q)
	}
	if err := (&Quote{AmountCents: 0}).Validate(); err == nil {
		t.Error("zero amount should fail")
	}
}

func TestQuoteExpired(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	if !(&Quote{ValidUntil: &past}).Expired(now) {
		t.Error("past validity is expired")
	}
	if (&Quote{}).Expired(now) {
		t.Error("open-ended quote never expires")
	}
}
