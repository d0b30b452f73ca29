package engine

import (
	"math"
	"time"
)

// DaysToExpiry counts whole days until resolution, rounding up, with a floor
// of one so a same-day or past expiry never divides by zero.
func DaysToExpiry(resolvesAt, now time.Time) int {
	days := int(math.Ceil(resolvesAt.Sub(now).Hours() / 24))
	if days < 1 {
		return 1
	}
	return days
}

// AnnualizedYield scales an arbitrage percentage to a 365-day basis.
func AnnualizedYield(arbPercent float64, days int) float64 {
	if days < 1 {
		days = 1
	}
	return arbPercent * 365 / float64(days)
}
