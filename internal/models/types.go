package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Granularity of a persisted meter reading.
type Granularity string

const (
	GranularityDay   Granularity = "day"
	GranularityMonth Granularity = "month"
)

// MeterReading is one consumption record handed from the scheduler to
// the readings store. PeriodStart is the day (or first day of the
// month) the reading covers.
type MeterReading struct {
	AccountNumber string              `json:"account_number"`
	Granularity   Granularity         `json:"granularity"`
	PeriodStart   time.Time           `json:"period_start"`
	EnergyKWh     decimal.Decimal     `json:"energy_kwh"`
	Cost          decimal.NullDecimal `json:"cost,omitempty"`
}
