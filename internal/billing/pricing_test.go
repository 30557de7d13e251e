package billing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPriceForPosition(t *testing.T) {
	first := PriceForPosition(1, 1500)
	assert.True(t, first.Free)
	assert.Equal(t, 0, first.AmountMinor)

	second := PriceForPosition(2, 1500)
	assert.False(t, second.Free)
	assert.Equal(t, 1500, second.AmountMinor)

	fifth := PriceForPosition(5, 1500)
	assert.False(t, fifth.Free)
	assert.Equal(t, 1500, fifth.AmountMinor)
}

func TestNextBillingPeriod(t *testing.T) {
	trialEnd := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)
	start, end := NextBillingPeriod(trialEnd)

	assert.Equal(t, time.Date(2026, 3, 16, 10, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2026, 4, 15, 10, 0, 0, 0, time.UTC), end)
	assert.True(t, start.Before(end))
}

func TestMonthlyTotal(t *testing.T) {
	assert.Equal(t, 3900, MonthlyTotal(3900, 1500, 0))
	assert.Equal(t, 5400, MonthlyTotal(3900, 1500, 1))
	assert.Equal(t, 6900, MonthlyTotal(3900, 1500, 2))
}
