// Package model defines the core domain types shared across the arena engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Playstyle is a fixed personality category that parameterizes the
// decision engine's move-scoring weights.
type Playstyle string

const (
	StyleAggressive Playstyle = "aggressive"
	StylePositional Playstyle = "positional"
	StyleDefensive  Playstyle = "defensive"
	StyleTactical   Playstyle = "tactical"
	StyleEndgame    Playstyle = "endgame"
)

// Playstyles lists every supported playstyle.
var Playstyles = []Playstyle{
	StyleAggressive, StylePositional, StyleDefensive, StyleTactical, StyleEndgame,
}

// Valid reports whether p is a known playstyle.
func (p Playstyle) Valid() bool {
	for _, s := range Playstyles {
		if p == s {
			return true
		}
	}
	return false
}

// TrainingLevel is a step function of accumulated training XP.
type TrainingLevel string

const (
	LevelBeginner     TrainingLevel = "beginner"
	LevelIntermediate TrainingLevel = "intermediate"
	LevelAdvanced     TrainingLevel = "advanced"
	LevelMaster       TrainingLevel = "master"
)

// Side identifies which color an agent or bet is on.
type Side string

const (
	SideWhite Side = "white"
	SideBlack Side = "black"
)

// Valid reports whether s is one of the two playable sides.
func (s Side) Valid() bool { return s == SideWhite || s == SideBlack }

// Opponent returns the other side.
func (s Side) Opponent() Side {
	if s == SideWhite {
		return SideBlack
	}
	return SideWhite
}

// MatchStatus is the lifecycle phase of a match. Transitions are strictly
// forward: betting → live → completed.
type MatchStatus string

const (
	StatusBetting   MatchStatus = "betting"
	StatusLive      MatchStatus = "live"
	StatusCompleted MatchStatus = "completed"
)

// Result is the terminal outcome of a completed match.
type Result string

const (
	ResultWhiteWin  Result = "white_win"
	ResultBlackWin  Result = "black_win"
	ResultDraw      Result = "draw"
	ResultCancelled Result = "cancelled"
)

// WinningSide returns the side that won, or "" for draws and cancellations.
func (r Result) WinningSide() Side {
	switch r {
	case ResultWhiteWin:
		return SideWhite
	case ResultBlackWin:
		return SideBlack
	}
	return ""
}

// Reason codes recorded alongside a terminal result.
const (
	ReasonCheckmate            = "checkmate"
	ReasonStalemate            = "stalemate"
	ReasonThreefoldRepetition  = "threefold_repetition"
	ReasonInsufficientMaterial = "insufficient_material"
	ReasonFiftyMoveRule        = "fifty_move_rule"
	ReasonMoveLimit            = "move_limit"
	ReasonCancelled            = "cancelled"
	ReasonDraw                 = "draw"
)

// BetStatus is the settlement state of a bet.
type BetStatus string

const (
	BetPending  BetStatus = "pending"
	BetWon      BetStatus = "won"
	BetLost     BetStatus = "lost"
	BetRefunded BetStatus = "refunded"
)

// SkillScores tracks an agent's four trainable skill dimensions.
// Each is bounded 0–100; writers must clamp, never overflow.
type SkillScores struct {
	Tactical   int `json:"tactical" db:"skill_tactical"`
	Positional int `json:"positional" db:"skill_positional"`
	Endgame    int `json:"endgame" db:"skill_endgame"`
	Opening    int `json:"opening" db:"skill_opening"`
}

// Average returns the mean of the four skill scores.
func (s SkillScores) Average() float64 {
	return float64(s.Tactical+s.Positional+s.Endgame+s.Opening) / 4.0
}

// Agent is an autonomous chess player with a persistent identity.
// Created at registration, mutated after every completed match and
// training pass, never deleted.
type Agent struct {
	ID         string    `json:"id" db:"id"`
	Name       string    `json:"name" db:"name"` // unique
	Playstyle  Playstyle `json:"playstyle" db:"playstyle"`
	Rating     int       `json:"rating" db:"rating"` // integer Elo, initial 1500
	Wins       int       `json:"wins" db:"wins"`
	Losses     int       `json:"losses" db:"losses"`
	Draws      int       `json:"draws" db:"draws"`
	Streak     int       `json:"streak" db:"streak"` // positive = win streak, negative = loss streak
	BestStreak int       `json:"best_streak" db:"best_streak"`
	Reputation int       `json:"reputation" db:"reputation"` // 0–100

	TrainingLevel TrainingLevel `json:"training_level" db:"training_level"`
	TrainingXP    int           `json:"training_xp" db:"training_xp"` // monotonic
	Skills        SkillScores   `json:"skills"`

	// Derived from playstyle at registration; informational only.
	Strengths  []string `json:"strengths" db:"strengths"`
	Weaknesses []string `json:"weaknesses" db:"weaknesses"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// MoveRecord is one entry in a match's append-only move history.
type MoveRecord struct {
	Number      int       `json:"number"` // ply, 1-based
	Move        string    `json:"move"`   // UCI
	SAN         string    `json:"san"`
	Side        Side      `json:"side"`
	AgentID     string    `json:"agent_id"`
	Position    string    `json:"position"` // FEN after the move
	Explanation string    `json:"explanation,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Match references exactly two distinct agents and owns its move history
// and pool totals. Once completed, position/result/history are immutable.
type Match struct {
	ID           string       `json:"id" db:"id"`
	WhiteAgentID string       `json:"white_agent_id" db:"white_agent_id"`
	BlackAgentID string       `json:"black_agent_id" db:"black_agent_id"`
	Status       MatchStatus  `json:"status" db:"status"`
	Position     string       `json:"position" db:"position"` // current FEN
	History      []MoveRecord `json:"history"`
	MoveCount    int          `json:"move_count" db:"move_count"` // plies played

	PoolTotal decimal.Decimal `json:"pool_total" db:"pool_total"`
	PoolWhite decimal.Decimal `json:"pool_white" db:"pool_white"`
	PoolBlack decimal.Decimal `json:"pool_black" db:"pool_black"`

	BettingEndsAt time.Time  `json:"betting_ends_at" db:"betting_ends_at"`
	StartedAt     *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty" db:"completed_at"`

	Result Result `json:"result,omitempty" db:"result"`
	Reason string `json:"reason,omitempty" db:"reason"`

	// Settled flips once settlement and rating application have fully
	// landed after finalization. A completed match with Settled false is
	// picked up again by the advance path until every effect has applied.
	Settled bool `json:"settled" db:"settled"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// SidePool returns the running stake total for one side.
func (m *Match) SidePool(s Side) decimal.Decimal {
	if s == SideWhite {
		return m.PoolWhite
	}
	return m.PoolBlack
}

// AgentSide returns which side the given agent plays, or "" if the agent
// is not part of this match.
func (m *Match) AgentSide(agentID string) Side {
	switch agentID {
	case m.WhiteAgentID:
		return SideWhite
	case m.BlackAgentID:
		return SideBlack
	}
	return ""
}

// LastMoveAt returns the timestamp of the most recent history entry and
// whether any move has been recorded.
func (m *Match) LastMoveAt() (time.Time, bool) {
	if len(m.History) == 0 {
		return time.Time{}, false
	}
	return m.History[len(m.History)-1].Timestamp, true
}

// Bet is a spectator's wager on one side of a match. At most one bet per
// (match, bettor) pair; created pending, resolved exactly once.
type Bet struct {
	ID              string          `json:"id" db:"id"`
	MatchID         string          `json:"match_id" db:"match_id"`
	BettorID        string          `json:"bettor_id" db:"bettor_id"`
	Side            Side            `json:"side" db:"side"`
	Stake           decimal.Decimal `json:"stake" db:"stake"`
	PotentialPayout decimal.Decimal `json:"potential_payout" db:"potential_payout"` // point-in-time estimate
	Payout          decimal.Decimal `json:"payout" db:"payout"`                     // actual, set at settlement
	Status          BetStatus       `json:"status" db:"status"`
	PlacedAt        time.Time       `json:"placed_at" db:"placed_at"`
}

// ClampScore bounds a 0–100 score, used for reputation and skill scores.
func ClampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// StyleProfile returns the informational strengths/weaknesses derived
// from a playstyle at registration.
func StyleProfile(p Playstyle) (strengths, weaknesses []string) {
	switch p {
	case StyleAggressive:
		return []string{"attacking play", "initiative"}, []string{"overextension", "king safety"}
	case StylePositional:
		return []string{"pawn structure", "piece placement"}, []string{"sharp tactics"}
	case StyleDefensive:
		return []string{"solid structure", "counterattack"}, []string{"passive positions"}
	case StyleTactical:
		return []string{"combinations", "forcing lines"}, []string{"quiet maneuvering"}
	case StyleEndgame:
		return []string{"endgame technique", "king activity"}, []string{"opening theory"}
	}
	return nil, nil
}
