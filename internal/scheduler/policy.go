package scheduler

import "time"

// CadenceClass groups buckets by how often they are worth re-fetching.
type CadenceClass int

const (
	// CadenceLive data changes continuously and refreshes on every tick.
	CadenceLive CadenceClass = iota
	// CadenceStabilizingMonth covers last month's totals: still settling
	// during the first days of the current month, immutable after.
	CadenceStabilizingMonth
	// CadenceStabilizingYear covers last year's totals: refreshed once
	// per calendar day during the first days of January, never after.
	CadenceStabilizingYear
)

// stabilizingWindowDays is how many days into the period the vendor is
// still allowed to restate the previous period's figures.
const stabilizingWindowDays = 5

// Bucket is a named, independently scheduled unit of metering data.
type Bucket string

const (
	BucketBalance        Bucket = "balance"
	BucketLadder         Bucket = "ladder"
	BucketYesterday      Bucket = "yesterday"
	BucketThisMonthDaily Bucket = "this_month_daily"
	BucketThisYearStats  Bucket = "this_year_stats"
	BucketLastMonthDaily Bucket = "last_month_daily"
	BucketLastYearStats  Bucket = "last_year_stats"
)

// AllBuckets in refresh order: live buckets first, stabilizing after,
// because last-month eligibility may depend on this month's result.
var AllBuckets = []Bucket{
	BucketBalance,
	BucketLadder,
	BucketYesterday,
	BucketThisMonthDaily,
	BucketThisYearStats,
	BucketLastMonthDaily,
	BucketLastYearStats,
}

// Cadence returns the bucket's cadence class.
func (b Bucket) Cadence() CadenceClass {
	switch b {
	case BucketLastMonthDaily:
		return CadenceStabilizingMonth
	case BucketLastYearStats:
		return CadenceStabilizingYear
	default:
		return CadenceLive
	}
}

// Eligible is the pure cadence policy: given a bucket class, the wall
// clock and the bucket's last successful refresh, decide whether an
// automatic refresh is due. It holds no state and touches no timers,
// so it is testable against fixed dates.
//
// A zero lastRefreshed means the bucket has never been fetched; the
// first tick fetches everything regardless of windows.
func Eligible(class CadenceClass, now, lastRefreshed time.Time) bool {
	if lastRefreshed.IsZero() {
		return true
	}
	switch class {
	case CadenceLive:
		return true
	case CadenceStabilizingMonth:
		return now.Day() <= stabilizingWindowDays
	case CadenceStabilizingYear:
		if now.Month() != time.January || now.Day() > stabilizingWindowDays {
			return false
		}
		return !sameDay(now, lastRefreshed)
	default:
		return false
	}
}

func sameDay(a, b time.Time) bool {
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}
