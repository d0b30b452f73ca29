package engine

import (
	"math"
	"sort"

	"github.com/rewired-gh/polyedge/internal/models"
)

// DetectAlpha measures how far venue YES prices stray from a fair value and
// classifies the pattern. Fair value is the reference venue's YES when it is
// quoting, otherwise the lower median of all YES prices. It reports false
// when there are too few lines or the widest deviation is below the floor.
func (e *Engine) DetectAlpha(lines []models.Line) (models.AlphaSignal, bool) {
	minLines := e.config.MinLines
	if minLines < 1 {
		minLines = 1
	}
	if len(lines) < minLines {
		return models.AlphaSignal{}, false
	}

	fair, anchored := e.fairPrice(lines)

	var maxEdge float64
	for _, l := range lines {
		maxEdge = math.Max(maxEdge, math.Abs(l.Yes.Value-fair))
	}

	strategy := models.StrategyRetailLag
	switch {
	case maxEdge > e.config.InstitutionalGap:
		strategy = models.StrategyInstitutionalGap
	case wideSpread(lines, e.config.MarketMakerSpread):
		strategy = models.StrategyMarketMaker
	}

	edge := maxEdge * 100
	if edge <= e.config.OpportunityFloor {
		return models.AlphaSignal{}, false
	}

	return models.AlphaSignal{
		FairPrice:  fair,
		Edge:       edge,
		Strategy:   strategy,
		Confidence: math.Min(e.config.ConfidenceCap, e.config.ConfidenceBase+maxEdge*e.config.ConfidenceSlope),
		Anchored:   anchored,
	}, true
}

func (e *Engine) fairPrice(lines []models.Line) (float64, bool) {
	for _, l := range lines {
		if l.Venue == e.config.ReferenceVenue {
			return l.Yes.Value, true
		}
	}

	prices := make([]float64, len(lines))
	for i, l := range lines {
		prices[i] = l.Yes.Value
	}
	sort.Float64s(prices)
	return prices[len(prices)/2], false
}

func wideSpread(lines []models.Line, spread float64) bool {
	for _, l := range lines {
		if math.Abs(l.Yes.Value-l.No.Value) > spread {
			return true
		}
	}
	return false
}

// RankAlpha returns the qualifying alpha opportunities, widest edge first.
func (e *Engine) RankAlpha(events []models.MarketEvent) []models.Opportunity {
	var out []models.Opportunity
	for _, ev := range events {
		var signal models.AlphaSignal
		if ev.Alpha != nil {
			signal = *ev.Alpha
		} else {
			s, ok := e.DetectAlpha(ev.Lines)
			if !ok {
				continue
			}
			signal = s
		}
		out = append(out, models.Opportunity{
			EventID:     ev.ID,
			Title:       ev.Title,
			Outcome:     ev.Outcome,
			Category:    ev.Category,
			ResolvesAt:  ev.ResolvesAt,
			AlphaSignal: signal,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Edge > out[j].Edge
	})
	return out
}
