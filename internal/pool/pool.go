// Package pool implements pari-mutuel wagering math for two-sided match
// pools. All stakes on one side are pooled; winners split the combined
// pool pro-rata. There is no bookmaker and no fixed odds — payouts are a
// function of final pool ratios only.
//
// All monetary values use shopspring/decimal — never float64 for money.
// The package is stateless: pool totals live on the Match and are passed
// in as arguments.
package pool

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/agentchess/arena-engine/internal/model"
)

var (
	// ErrInvalidSide is returned for a side other than white or black.
	ErrInvalidSide = errors.New("pool: side must be white or black")

	// ErrInvalidStake is returned for a zero or negative stake.
	ErrInvalidStake = errors.New("pool: stake must be positive")

	// ErrBettingClosed is returned when the match has left the betting
	// phase or the betting window has expired.
	ErrBettingClosed = errors.New("pool: betting window is closed")

	// ErrDuplicateBet is returned when the bettor already has a bet on
	// this match. First bet wins; no top-ups.
	ErrDuplicateBet = errors.New("pool: bettor already has a bet on this match")
)

// oddsEpsilon guards the odds division when a side's pool is empty.
var oddsEpsilon = decimal.NewFromFloat(0.01)

// PayoutScale is the number of decimal places for payout rounding.
const PayoutScale int32 = 2

// PotentialPayout is the bettor's pro-rata share of the combined pool at
// placement time, assuming no further bets arrive: stake / sidePoolAfter *
// totalPoolAfter. A point-in-time estimate, not a guarantee.
func PotentialPayout(stake, sidePoolBefore, totalPoolBefore decimal.Decimal) decimal.Decimal {
	sideAfter := sidePoolBefore.Add(stake)
	totalAfter := totalPoolBefore.Add(stake)
	return stake.Div(sideAfter).Mul(totalAfter).Round(PayoutScale)
}

// Odds returns the multiplier shown to spectators for one side:
// total / sidePool, with an epsilon floor on the divisor so an empty side
// never divides by zero.
func Odds(total, sidePool decimal.Decimal) decimal.Decimal {
	if sidePool.LessThan(oddsEpsilon) {
		sidePool = oddsEpsilon
	}
	return total.Div(sidePool).Round(PayoutScale)
}

// Settlement is the resolved status and payout for one bet.
type Settlement struct {
	BetID  string
	Status model.BetStatus
	Payout decimal.Decimal
}

// Settle resolves every bet on a finalized match. A decisive result pays
// winning-side bets their share of the combined pool and zeroes the rest;
// draws and cancellations refund every stake. Bets already resolved are
// passed through unchanged, so re-running settlement converges on the
// same end state.
func Settle(result model.Result, bets []model.Bet, poolTotal, poolWhite, poolBlack decimal.Decimal) []Settlement {
	winner := result.WinningSide()
	out := make([]Settlement, 0, len(bets))

	winningPool := poolWhite
	if winner == model.SideBlack {
		winningPool = poolBlack
	}

	for _, b := range bets {
		if b.Status != model.BetPending {
			out = append(out, Settlement{BetID: b.ID, Status: b.Status, Payout: b.Payout})
			continue
		}

		s := Settlement{BetID: b.ID}
		switch {
		case winner == "":
			s.Status = model.BetRefunded
			s.Payout = b.Stake
		case b.Side == winner:
			s.Status = model.BetWon
			if winningPool.IsPositive() {
				s.Payout = b.Stake.Div(winningPool).Mul(poolTotal).Round(PayoutScale)
			} else {
				// No stake on the winning side can only mean a data
				// inconsistency; refund rather than invent a payout.
				s.Status = model.BetRefunded
				s.Payout = b.Stake
			}
		default:
			s.Status = model.BetLost
			s.Payout = decimal.Zero
		}
		out = append(out, s)
	}
	return out
}

// ValidatePlacement checks everything about a bet that does not require
// store access: side, stake, match phase, and window expiry. windowOpen is
// the caller's clock comparison against the match's betting deadline.
func ValidatePlacement(m *model.Match, side model.Side, stake decimal.Decimal, windowOpen bool) error {
	if !side.Valid() {
		return ErrInvalidSide
	}
	if !stake.IsPositive() {
		return ErrInvalidStake
	}
	if m.Status != model.StatusBetting || !windowOpen {
		return ErrBettingClosed
	}
	return nil
}
