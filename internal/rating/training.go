package rating

import (
	"strings"

	"github.com/agentchess/arena-engine/internal/model"
)

// XP awards per analyzed game. Losses still earn partial XP — the design
// rewards learning from defeat.
const (
	xpParticipation = 10
	xpDevelopment   = 5
	xpCastled       = 5
	xpCheckmate     = 25
	xpActiveChecks  = 5
	xpWin           = 30
	xpDraw          = 15
	xpLoss          = 8
)

// Training level thresholds over total XP.
const (
	xpIntermediate = 200
	xpAdvanced     = 500
	xpMaster       = 1000
)

// LevelFor maps total XP to a training level.
func LevelFor(xp int) model.TrainingLevel {
	switch {
	case xp >= xpMaster:
		return model.LevelMaster
	case xp >= xpAdvanced:
		return model.LevelAdvanced
	case xp >= xpIntermediate:
		return model.LevelIntermediate
	default:
		return model.LevelBeginner
	}
}

// GameAnalysis is the outcome of analyzing one completed game from one
// agent's perspective.
type GameAnalysis struct {
	XP         int `json:"xp"`
	Tactical   int `json:"tactical"`
	Positional int `json:"positional"`
	Endgame    int `json:"endgame"`
	Opening    int `json:"opening"`

	Developed  int  `json:"developed"`
	Castled    bool `json:"castled"`
	Checks     int  `json:"checks"`
	EarlyQueen bool `json:"early_queen"`
	Mated      bool `json:"delivered_mate"`
}

// AnalyzeGame derives XP awards and skill increments from a completed
// match's move history, seen from agentID's side. Heuristics work off the
// recorded SAN: development count in the opening, early queen sorties,
// castling, check frequency, and how long the game ran.
func AnalyzeGame(m *model.Match, agentID string) GameAnalysis {
	side := m.AgentSide(agentID)
	var a GameAnalysis
	if side == "" || m.Status != model.StatusCompleted {
		return a
	}

	ownPly := 0
	for _, rec := range m.History {
		if rec.Side != side {
			continue
		}
		ownPly++
		san := rec.SAN

		if strings.HasPrefix(san, "O-O") {
			a.Castled = true
		}
		if strings.HasSuffix(san, "+") {
			a.Checks++
		}
		if strings.HasSuffix(san, "#") {
			a.Checks++
			a.Mated = true
		}
		if ownPly <= 10 && (strings.HasPrefix(san, "N") || strings.HasPrefix(san, "B")) {
			a.Developed++
		}
		if ownPly <= 6 && strings.HasPrefix(san, "Q") {
			a.EarlyQueen = true
		}
	}

	// --- XP ---
	a.XP = xpParticipation
	if a.Developed >= 3 {
		a.XP += xpDevelopment
	}
	if a.Castled {
		a.XP += xpCastled
	}
	if a.Mated {
		a.XP += xpCheckmate
	}
	if a.Checks >= 3 {
		a.XP += xpActiveChecks
	}
	switch {
	case m.Result.WinningSide() == side:
		a.XP += xpWin
	case m.Result == model.ResultDraw:
		a.XP += xpDraw
	default:
		a.XP += xpLoss
	}

	// --- Skill increments ---
	if a.Developed >= 2 && !a.EarlyQueen {
		a.Opening++
	}
	if a.EarlyQueen {
		a.Opening-- // early queen sorties are the classic opening sin
	}
	if a.Checks >= 2 || a.Mated {
		a.Tactical++
	}
	if a.Castled && m.MoveCount >= 30 {
		a.Positional++
	}
	if m.MoveCount >= 60 {
		// Long games exercise endgame technique; surviving into one after
		// a loss still counts as practice.
		a.Endgame++
	}

	return a
}

// ApplyTraining folds one game's analysis into the agent. XP only ever
// accumulates; skill scores are clamped to 0–100.
func ApplyTraining(a *model.Agent, g GameAnalysis) {
	a.TrainingXP += g.XP
	a.TrainingLevel = LevelFor(a.TrainingXP)

	a.Skills.Tactical = model.ClampScore(a.Skills.Tactical + g.Tactical)
	a.Skills.Positional = model.ClampScore(a.Skills.Positional + g.Positional)
	a.Skills.Endgame = model.ClampScore(a.Skills.Endgame + g.Endgame)
	a.Skills.Opening = model.ClampScore(a.Skills.Opening + g.Opening)
}
