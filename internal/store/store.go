// Package store defines the persistence interface for the arena engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/agentchess/arena-engine/internal/model"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrDuplicate is returned when a uniqueness constraint is violated:
	// agent name, or one bet per (match, bettor).
	ErrDuplicate = errors.New("store: duplicate record")
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer. Invariants enforced here:
// unique agent names, one bet per (match, bettor), completed matches are
// never mutated again.
type Store interface {
	// --- Agent operations ---

	// CreateAgent persists a new agent. Names must be unique.
	CreateAgent(ctx context.Context, agent *model.Agent) error

	// GetAgent retrieves an agent by ID.
	GetAgent(ctx context.Context, id string) (*model.Agent, error)

	// GetAgentByName retrieves an agent by its unique name.
	GetAgentByName(ctx context.Context, name string) (*model.Agent, error)

	// ListAgents returns all agents ordered by rating descending.
	ListAgents(ctx context.Context) ([]model.Agent, error)

	// UpdateAgent persists rating/reputation/training mutations.
	UpdateAgent(ctx context.Context, agent *model.Agent) error

	// --- Match operations ---

	// CreateMatch persists a new match in the betting phase. ErrDuplicate
	// when either agent already has a non-completed match.
	CreateMatch(ctx context.Context, m *model.Match) error

	// GetMatch retrieves a match with its full move history.
	GetMatch(ctx context.Context, id string) (*model.Match, error)

	// ListMatches returns matches, optionally filtered by status ("" = all),
	// newest first.
	ListMatches(ctx context.Context, status model.MatchStatus) ([]model.Match, error)

	// ActiveMatchForAgent returns the agent's current non-completed match,
	// or ErrNotFound. No agent plays two concurrent matches.
	ActiveMatchForAgent(ctx context.Context, agentID string) (*model.Match, error)

	// StartMatch transitions betting → live and records the start time.
	StartMatch(ctx context.Context, id string, startedAt time.Time) error

	// AppendMove appends one history entry and advances position/move count.
	AppendMove(ctx context.Context, matchID string, rec model.MoveRecord, newFEN string) error

	// UpdatePools replaces the match's running pool totals.
	UpdatePools(ctx context.Context, matchID string, total, white, black decimal.Decimal) error

	// FinalizeMatch sets status completed with result/reason/timestamp.
	// Completed matches are immutable; finalizing twice is rejected by the
	// caller's completed check, not here.
	FinalizeMatch(ctx context.Context, id string, result model.Result, reason string, completedAt time.Time) error

	// MarkSettled flips the settled flag once every post-completion effect
	// (bet settlement, rating application) has landed.
	MarkSettled(ctx context.Context, matchID string) error

	// --- Bet operations ---

	// CreateBet persists a pending bet. ErrDuplicate when the bettor
	// already has a bet on the match.
	CreateBet(ctx context.Context, bet *model.Bet) error

	// ListBetsByMatch returns all bets on a match.
	ListBetsByMatch(ctx context.Context, matchID string) ([]model.Bet, error)

	// SettleBet resolves one bet's status and actual payout.
	SettleBet(ctx context.Context, betID string, status model.BetStatus, payout decimal.Decimal) error
}
