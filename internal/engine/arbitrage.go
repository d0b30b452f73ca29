package engine

import (
	"math"
	"sort"

	"github.com/rewired-gh/polyedge/internal/models"
)

// Arbitrage returns the guaranteed edge in percent of buying both sides at
// yes and no. It reports false when the combined price is not below 1.
func Arbitrage(yes, no float64) (float64, bool) {
	total := yes + no
	if math.IsNaN(total) || total >= 1 {
		return 0, false
	}
	return (1 - total) * 100, true
}

// RankArbitrage lists the events with an arbitrage edge, highest APY first
// and then by edge. Events without a resolution date rank by edge alone
// after those with one.
func RankArbitrage(events []models.MarketEvent) []models.ArbOpportunity {
	var out []models.ArbOpportunity
	for _, e := range events {
		if e.ArbPercent == nil || e.BestYes == nil || e.BestNo == nil {
			continue
		}
		opp := models.ArbOpportunity{
			EventID:    e.ID,
			Title:      e.Title,
			Outcome:    e.Outcome,
			Category:   e.Category,
			BestYes:    *e.BestYes,
			BestNo:     *e.BestNo,
			ArbPercent: *e.ArbPercent,
		}
		if e.APY != nil {
			opp.APY = *e.APY
		}
		if e.DaysToExpiry != nil {
			opp.DaysToExpiry = *e.DaysToExpiry
		}
		out = append(out, opp)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].APY != out[j].APY {
			return out[i].APY > out[j].APY
		}
		return out[i].ArbPercent > out[j].ArbPercent
	})
	return out
}
