package domain

import (
	"testing"
	"time"
)

func TestLookupPlan(t *testing.T) {
	p, err := LookupPlan(PlanStandard)
	if err != nil {
		t.Fatalf("LookupPlan: %v", err)
	}
	if p.PriceCents != 49_000 || p.MonthlyCredits != 500 || !p.Paid() {
		t.Errorf("standard = %+v", p)
	}
	free, _ := LookupPlan(PlanFree)
	if free.Paid() || free.MonthlyCredits != 20 {
		t.Errorf("free = %+v", free)
	}
	if _, err := LookupPlan("platinum"); err != ErrUnknownPlan {
		t.Errorf("unknown plan err = %v", err)
	}
}

func TestPlans_ReturnsCopy(t *testing.T) {
	ps := Plans()
	ps[0].MonthlyCredits = 1
	if p, _ := LookupPlan(PlanFree); p.MonthlyCredits != 20 {
		t.Error("Plans must not expose the catalog")
	}
}

func TestNextPeriod_CalendarMonth(t *testing.T) {
	s := &Subscription{CurrentPeriodEnd: time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)}
	start, end := s.NextPeriod()
	if !start.Equal(s.CurrentPeriodEnd) {
		t.Errorf("start = %v", start)
	}
	if want := time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC); !end.Equal(want) {
		t.Errorf("end = %v, want %v", end, want)
	}
}

func TestPayment_CanMoveTo(t *testing.T) {
	testCases := []struct {
		from, to PaymentStatus
		want     bool
	}{
		{PaymentPending, PaymentSucceeded, true},
		{PaymentPending, PaymentFailed, true},
		{PaymentPending, PaymentRefunded, false},
		{PaymentFailed, PaymentSucceeded, true},
		{PaymentSucceeded, PaymentRefunded, true},
		{PaymentSucceeded, PaymentPending, false},
		{PaymentRefunded, PaymentSucceeded, false},
	}
	for _, tc := range testCases {
		p := &Payment{Status: tc.from}
		if got := p.CanMoveTo(tc.to); got != tc.want {
			t.Errorf("%s -> %s = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}
