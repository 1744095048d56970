package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 10, 0, 0, 0, time.UTC)
}

func TestEligibleFirstFetch(t *testing.T) {
	// a never-fetched bucket is always due, windows or not
	for _, class := range []CadenceClass{CadenceLive, CadenceStabilizingMonth, CadenceStabilizingYear} {
		assert.True(t, Eligible(class, date(2024, time.July, 20), time.Time{}))
	}
}

func TestEligibleLive(t *testing.T) {
	last := date(2024, time.July, 20)
	assert.True(t, Eligible(CadenceLive, last.Add(time.Minute), last))
}

func TestEligibleStabilizingMonth(t *testing.T) {
	last := date(2024, time.June, 28)

	assert.True(t, Eligible(CadenceStabilizingMonth, date(2024, time.July, 2), last))
	assert.True(t, Eligible(CadenceStabilizingMonth, date(2024, time.July, 5), last))
	assert.False(t, Eligible(CadenceStabilizingMonth, date(2024, time.July, 6), last))
	assert.False(t, Eligible(CadenceStabilizingMonth, date(2024, time.July, 10), last))
}

func TestEligibleStabilizingYear(t *testing.T) {
	last := date(2023, time.December, 30)

	assert.True(t, Eligible(CadenceStabilizingYear, date(2024, time.January, 3), last))
	assert.False(t, Eligible(CadenceStabilizingYear, date(2024, time.January, 8), last))
	assert.False(t, Eligible(CadenceStabilizingYear, date(2024, time.February, 3), last))

	// at most once per calendar day inside the window
	refreshedToday := time.Date(2024, time.January, 3, 2, 0, 0, 0, time.UTC)
	assert.False(t, Eligible(CadenceStabilizingYear, date(2024, time.January, 3), refreshedToday))
	assert.True(t, Eligible(CadenceStabilizingYear, date(2024, time.January, 4), refreshedToday))
}

func TestBucketCadence(t *testing.T) {
	assert.Equal(t, CadenceLive, BucketBalance.Cadence())
	assert.Equal(t, CadenceLive, BucketLadder.Cadence())
	assert.Equal(t, CadenceLive, BucketYesterday.Cadence())
	assert.Equal(t, CadenceLive, BucketThisMonthDaily.Cadence())
	assert.Equal(t, CadenceLive, BucketThisYearStats.Cadence())
	assert.Equal(t, CadenceStabilizingMonth, BucketLastMonthDaily.Cadence())
	assert.Equal(t, CadenceStabilizingYear, BucketLastYearStats.Cadence())
}

func TestAllBucketsLiveFirst(t *testing.T) {
	seenStabilizing := false
	for _, b := range AllBuckets {
		if b.Cadence() != CadenceLive {
			seenStabilizing = true
		} else {
			assert.False(t, seenStabilizing, "live bucket %q listed after a stabilizing one", b)
		}
	}
}
