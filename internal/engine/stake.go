package engine

import (
	"math"

	"github.com/rewired-gh/polyedge/internal/models"
)

// AllocateStake splits bankroll across both sides so that either outcome
// pays the same amount. Fees and slippage are not modelled.
func AllocateStake(bankroll, pYes, pNo float64) (models.StakeSplit, error) {
	if math.IsNaN(bankroll) || math.IsInf(bankroll, 0) || bankroll <= 0 {
		return models.StakeSplit{}, ErrInvalidBankroll
	}
	total := pYes + pNo
	if math.IsNaN(total) || math.IsInf(total, 0) || pYes < 0 || pNo < 0 || total <= 0 {
		return models.StakeSplit{}, ErrDegenerateQuote
	}

	payout := bankroll / total
	net := payout - bankroll
	return models.StakeSplit{
		Bankroll:   bankroll,
		StakeOnYes: payout * pYes,
		StakeOnNo:  payout * pNo,
		Payout:     payout,
		NetProfit:  net,
		ROIPercent: net / bankroll * 100,
	}, nil
}

// AllocateForEvent allocates bankroll over the event's best-execution pair.
func AllocateForEvent(event models.MarketEvent, bankroll float64) (models.StakeSplit, error) {
	pair, ok := event.BestPair()
	if !ok {
		return models.StakeSplit{}, ErrDegenerateQuote
	}
	return AllocateStake(bankroll, pair.Yes.Price, pair.No.Price)
}
