// Package metering exposes typed read operations over the vendor
// client: balance/arrears, ladder status and daily/monthly/yearly
// usage. Energy and money figures are fixed-point decimals end to end;
// no float ever touches a financial value.
package metering

import (
	"time"

	"github.com/shopspring/decimal"
)

// Period selects which instance of a calendar-bounded series to fetch.
type Period int

const (
	// PeriodCurrent is the running month/year.
	PeriodCurrent Period = iota
	// PeriodPrevious is the closed month/year before the current one.
	PeriodPrevious
)

func (p Period) String() string {
	if p == PeriodPrevious {
		return "previous"
	}
	return "current"
}

// Balance is the account balance snapshot. Arrears is the amount owed;
// both are vendor-reported, in CNY.
type Balance struct {
	Balance decimal.Decimal
	Arrears decimal.Decimal
	AsOf    time.Time
}

// LadderStatus is the tiered-pricing snapshot for a metering point: a
// point-in-time value, not a series. The vendor sometimes omits parts
// of it mid-cycle, hence the null-aware fields.
type LadderStatus struct {
	Tier         int       // 0 when the vendor reported no ladder info
	StartDate    time.Time // zero when unreported
	RemainingKWh decimal.NullDecimal
	TierPrice    decimal.NullDecimal
}

// DailyReading is one day's consumption, optionally with its cost.
type DailyReading struct {
	Date      time.Time
	EnergyKWh decimal.Decimal
	Cost      decimal.NullDecimal
}

// DailySeries is one month's worth of daily readings. AsOf is the date
// of the newest reading the vendor has published - typically two or
// more days behind the wall clock, and surfaced rather than assumed.
type DailySeries struct {
	Year      int
	Month     time.Month
	TotalKWh  decimal.NullDecimal
	TotalCost decimal.NullDecimal
	Days      []DailyReading
	AsOf      time.Time
}

// Latest returns the newest reading in the series.
func (s DailySeries) Latest() (DailyReading, bool) {
	if len(s.Days) == 0 {
		return DailyReading{}, false
	}
	return s.Days[len(s.Days)-1], true
}

// LatestDaily returns the freshest daily reading across the current
// and previous month's series. Early in a month the vendor has not
// published any current-month days yet, so the previous month's tail
// is the newest data available.
func LatestDaily(current, previous DailySeries) (DailyReading, bool) {
	if r, ok := current.Latest(); ok {
		return r, true
	}
	return previous.Latest()
}

// MonthlyReading is one month's billed totals within a year.
type MonthlyReading struct {
	Year      int
	Month     time.Month
	EnergyKWh decimal.Decimal
	Cost      decimal.Decimal
}

// YearStats carries a year's totals plus the month-by-month breakdown.
type YearStats struct {
	Year      int
	TotalKWh  decimal.Decimal
	TotalCost decimal.Decimal
	Months    []MonthlyReading
}
