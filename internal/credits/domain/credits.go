package domain

import (
	"errors"
	"time"
)

// Account is an org's AI credit balance.
type Account struct {
	OrgID            string
	Balance          int64
	LifetimeGranted  int64
	LifetimeConsumed int64
	UpdatedAt        time.Time
}

// Reason classifies a ledger entry.
type Reason string

const (
	ReasonGrant   Reason = "grant"
	ReasonConsume Reason = "consume"
	ReasonRefund  Reason = "refund"
	ReasonAdjust  Reason = "adjust"
)

// Transaction is one immutable ledger entry. Delta is negative for consumption.
type Transaction struct {
	Seq          int64
	ID           string
	OrgID        string
	Delta        int64
	Reason       Reason
	Feature      Feature
	Reference    string
	BalanceAfter int64
	CreatedAt    time.Time
}

// Feature is an AI-assisted feature that costs credits.
type Feature string

const (
	FeatureEquipmentDiagnosis  Feature = "equipment_diagnosis"
	FeatureQuoteSummary        Feature = "quote_summary"
	FeatureMaintenanceForecast Feature = "maintenance_forecast"
	FeatureReportGeneration    Feature = "report_generation"
)

var costs = map[Feature]int64{
	FeatureEquipmentDiagnosis:  5,
	FeatureQuoteSummary:        2,
	FeatureMaintenanceForecast: 8,
	FeatureReportGeneration:    10,
}

// ErrUnknownFeature is returned for a feature with no price.
var ErrUnknownFeature = errors.New("unknown AI feature")

// ErrInsufficientCredits is returned when the balance cannot cover a charge.
var ErrInsufficientCredits = errors.New("insufficient AI credits")

// Cost returns the credit price of f.
func Cost(f Feature) (int64, error) {
	c, ok := costs[f]
	if !ok {
		return 0, ErrUnknownFeature
	}
	return c, nil
}

// Features lists every priced feature with its cost.
func Features() map[Feature]int64 {
	out := make(map[Feature]int64, len(costs))
	for f, c := range costs {
		out[f] = c
	}
	return out
}
