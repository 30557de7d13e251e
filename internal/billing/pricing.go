// Package billing holds the pure pricing rules for content additions.
package billing

import "time"

// Price is the outcome of pricing one content addition.
type Price struct {
	Free        bool
	AmountMinor int
}

// PriceForPosition prices the Nth content addition for a company, counting
// entries in creation order. The first item is free; every later item costs
// the configured unit price. Trial status never changes the price, only the
// charge timing.
func PriceForPosition(position, unitPrice int) Price {
	if position <= 1 {
		return Price{Free: true}
	}
	return Price{AmountMinor: unitPrice}
}

// NextBillingPeriod returns the first normal billing period after a trial:
// the day after trial end through one month after trial end. Charges deferred
// during trial are attributed here because the provider refuses invoice items
// for a period that has not started.
func NextBillingPeriod(trialEnd time.Time) (start, end time.Time) {
	return trialEnd.AddDate(0, 0, 1), trialEnd.AddDate(0, 1, 0)
}

// MonthlyTotal is the recurring amount a company pays: the base fee plus the
// unit price for every paid (non-free) content entry.
func MonthlyTotal(basePrice, unitPrice, paidCount int) int {
	return basePrice + unitPrice*paidCount
}
