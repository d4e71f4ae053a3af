package billing

import (
	"time"

	"github.com/memberloop/memberpay/app/models"
)

// AddBillingPeriod advances a period end by one billing cycle. Day-of-month
// overflow clamps to the last day of the target month, so Jan 31 + 1 month
// is Feb 28 (29 in leap years), never Mar 2/3.
func AddBillingPeriod(periodEnd time.Time, billingCycle string) time.Time {
	switch billingCycle {
	case models.BillingCycleYearly:
		return addMonthsClamped(periodEnd, 12)
	default:
		return addMonthsClamped(periodEnd, 1)
	}
}

func addMonthsClamped(t time.Time, months int) time.Time {
	firstOfTarget := time.Date(t.Year(), t.Month()+time.Month(months), 1,
		t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())

	day := t.Day()
	if last := lastDayOfMonth(firstOfTarget); day > last {
		day = last
	}
	return time.Date(firstOfTarget.Year(), firstOfTarget.Month(), day,
		t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func lastDayOfMonth(t time.Time) int {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location()).
		AddDate(0, 1, -1).Day()
}
