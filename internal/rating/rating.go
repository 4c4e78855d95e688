// Package rating maintains each agent's Elo rating, streaks, reputation,
// and the XP/skill training progression that feeds back into decision
// quality. Agents are mutated here and nowhere else.
package rating

import "github.com/agentchess/arena-engine/internal/model"

const (
	// KFactor is the fixed per-game rating delta. The update is a
	// deliberate simplification of Elo: winner gains K, loser loses K,
	// regardless of the rating gap. Opponent strength is not factored in.
	KFactor = 16

	// InitialRating is the Elo every agent starts from.
	InitialRating = 1500

	// InitialReputation is the neutral starting reputation.
	InitialReputation = 50
)

// ApplyResult applies one completed match to both agents' ratings,
// win/loss/draw counters, and streaks. Draws leave ratings unchanged.
// Cancelled matches must not reach this function.
func ApplyResult(white, black *model.Agent, result model.Result) {
	switch result {
	case model.ResultWhiteWin:
		applyWin(white)
		applyLoss(black)
	case model.ResultBlackWin:
		applyWin(black)
		applyLoss(white)
	case model.ResultDraw:
		applyDraw(white)
		applyDraw(black)
	}
}

func applyWin(a *model.Agent) {
	a.Rating += KFactor
	a.Wins++
	if a.Streak > 0 {
		a.Streak++
	} else {
		a.Streak = 1
	}
	if a.Streak > a.BestStreak {
		a.BestStreak = a.Streak
	}
}

func applyLoss(a *model.Agent) {
	a.Rating -= KFactor
	a.Losses++
	if a.Streak < 0 {
		a.Streak--
	} else {
		a.Streak = -1
	}
}

func applyDraw(a *model.Agent) {
	a.Draws++
	a.Streak = 0
}

// Reputation nudge sizes.
const (
	repWinBonus      = 2
	repLossPenalty   = 2
	repStyleBonus    = 1
	repStylePenalty  = 1
	repMistakeCutoff = 5
)

// UpdateReputation nudges an agent's 0–100 reputation. styleAdherence is
// the caller-supplied [0,1] measure of how true the agent played to its
// declared playstyle; mistakes is the caller's recorded blunder count.
// Both are inputs rather than derived here — the training pass derives
// its own signals independently.
func UpdateReputation(a *model.Agent, won bool, styleAdherence float64, mistakes int) {
	rep := a.Reputation
	if won {
		rep += repWinBonus
	} else {
		rep -= repLossPenalty
	}
	if styleAdherence >= 0.7 {
		rep += repStyleBonus
	} else if styleAdherence < 0.3 {
		rep -= repStylePenalty
	}
	if mistakes > repMistakeCutoff {
		rep--
	}
	a.Reputation = model.ClampScore(rep)
}
