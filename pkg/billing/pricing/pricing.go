// Package pricing holds the pure business rules for subscription amounts and trial windows.
package pricing

import (
	"math"
	"time"
)

const (
	// EarlyBirdPrice is the monthly amount in minor currency units for waitlist early birds
	EarlyBirdPrice int64 = 4400

	// StandardPrice is the monthly amount in minor currency units for everyone else
	StandardPrice int64 = 6200

	// TrialMonths is the length of the free trial in calendar months
	TrialMonths = 2
)

// PriceForEligibility returns the monthly price for the given early-bird eligibility
func PriceForEligibility(isEarlyBird bool) int64 {
	if isEarlyBird {
		return EarlyBirdPrice
	}
	return StandardPrice
}

// TrialEnd returns start plus TrialMonths calendar months.
// When the target month is shorter than start's day-of-month, the result clips
// to that month's last day (Dec 31 -> Feb 28, Nov 30 -> Jan 30).
func TrialEnd(start time.Time) time.Time {
	return addMonthsSafe(start, TrialMonths)
}

// IsWithinTrial reports whether the trial ending at end is still running at now
func IsWithinTrial(end, now time.Time) bool {
	return end.After(now)
}

// TrialDays returns the trial length starting at start in whole days, rounded up.
// Checkout sessions take a day count, so this keeps the provider trial aligned with TrialEnd.
func TrialDays(start time.Time) int64 {
	d := TrialEnd(start).Sub(start)
	return int64(math.Ceil(d.Hours() / 24))
}

// addMonthsSafe adds months to a time, handling month-end edge cases.
// Use time.Date with day=1 to avoid overflow, then clip to max day.
func addMonthsSafe(t time.Time, months int) time.Time {
	year, month, day := t.Date()
	targetDate := time.Date(year, month+time.Month(months), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())

	// day=0 of month+1 is the last day of month.
	lastDay := time.Date(targetDate.Year(), targetDate.Month()+1, 0, 0, 0, 0, 0, targetDate.Location()).Day()

	actualDay := day
	if actualDay > lastDay {
		actualDay = lastDay
	}

	return time.Date(targetDate.Year(), targetDate.Month(), actualDay, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}
