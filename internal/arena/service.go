// Package arena owns the match lifecycle: pacing autonomous play across
// betting, live, and completed phases, settling the wagering pool, and
// applying rating progression when a game ends.
//
// The service has no internal scheduler. AdvanceMatch is invoked by
// external triggers (HTTP requests, a sweep job) and is safe to call
// repeatedly and concurrently for the same match: a per-match lock
// serializes advancement and the minimum inter-move interval turns
// redundant invocations into no-ops.
package arena

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/coder/quartz"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/agentchess/arena-engine/internal/brain"
	"github.com/agentchess/arena-engine/internal/metrics"
	"github.com/agentchess/arena-engine/internal/model"
	"github.com/agentchess/arena-engine/internal/pool"
	"github.com/agentchess/arena-engine/internal/rating"
	"github.com/agentchess/arena-engine/internal/rules"
	"github.com/agentchess/arena-engine/internal/store"
)

var (
	// ErrAgentBusy is returned when an agent already has a non-completed
	// match; no agent plays two concurrent matches.
	ErrAgentBusy = errors.New("arena: agent already in an active match")

	// ErrSameAgent is returned when a pairing names one agent twice.
	ErrSameAgent = errors.New("arena: a match needs two distinct agents")

	// ErrNoOpponent is returned when matchmaking finds nobody available.
	ErrNoOpponent = errors.New("arena: no opponent available")

	// ErrNoMove is returned when the brain produces no move for a
	// position the rules engine did not flag as terminal. The match is
	// left unchanged so a later invocation can retry.
	ErrNoMove = errors.New("arena: decision produced no move")
)

// Config holds the pacing and safety parameters for autonomous play.
type Config struct {
	// BettingWindow is how long a new match accepts bets.
	BettingWindow time.Duration

	// MinMoveInterval throttles autonomous play to a watchable pace.
	// Invocations inside the interval are no-ops.
	MinMoveInterval time.Duration

	// MaxPlies forces a draw when a game will not end on its own.
	MaxPlies int
}

// DefaultConfig returns the production pacing parameters.
func DefaultConfig() Config {
	return Config{
		BettingWindow:   2 * time.Minute,
		MinMoveInterval: 10 * time.Second,
		MaxPlies:        300,
	}
}

// Service drives matches, bets, matchmaking, and training.
type Service struct {
	store store.Store
	brain *brain.Brain
	clock quartz.Clock
	rand  brain.Rand
	cfg   Config
	locks *matchLocks
	wsHub *WSHub // optional, nil disables broadcasting
}

// NewService creates the arena service. Pass nil for hub if WebSocket
// broadcasting is not needed.
func NewService(st store.Store, b *brain.Brain, clock quartz.Clock, cfg Config, hub *WSHub) *Service {
	if cfg.MaxPlies == 0 {
		cfg = DefaultConfig()
	}
	return &Service{
		store: st,
		brain: b,
		clock: clock,
		rand:  brain.NewRand(),
		cfg:   cfg,
		locks: newMatchLocks(),
		wsHub: hub,
	}
}

// WithRand replaces the matchmaking randomness source. Tests pin side
// assignment with a fixed source.
func (s *Service) WithRand(r brain.Rand) *Service {
	s.rand = r
	return s
}

// AdvanceOutcome classifies one AdvanceMatch invocation.
type AdvanceOutcome string

const (
	OutcomeMoved     AdvanceOutcome = "moved"
	OutcomeCompleted AdvanceOutcome = "completed"
	OutcomeNoop      AdvanceOutcome = "noop"
)

// AdvanceResult reports what one AdvanceMatch invocation did.
type AdvanceResult struct {
	Outcome AdvanceOutcome    `json:"outcome"`
	Detail  string            `json:"detail,omitempty"`
	Move    *model.MoveRecord `json:"move,omitempty"`
	Result  model.Result      `json:"result,omitempty"`
	Reason  string            `json:"reason,omitempty"`
}

// AdvanceMatch progresses one match by at most one move, or finalizes it
// when the position is terminal or the move-limit safety cutoff is hit.
// Safe to call repeatedly; advancing a completed match is a no-op.
func (s *Service) AdvanceMatch(ctx context.Context, matchID string) (*AdvanceResult, error) {
	unlock := s.locks.acquire(matchID)
	defer unlock()

	m, err := s.store.GetMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}

	switch m.Status {
	case model.StatusCompleted:
		// A completed match that never settled means a previous
		// finalization was interrupted. Re-run the post-completion
		// effects until they land; then it becomes a plain no-op.
		if !m.Settled {
			if err := s.settleAndRate(ctx, m); err != nil {
				return nil, err
			}
		}
		return s.countOutcome(&AdvanceResult{Outcome: OutcomeNoop, Detail: "match already completed", Result: m.Result, Reason: m.Reason}), nil

	case model.StatusBetting:
		if s.clock.Now().Before(m.BettingEndsAt) {
			return s.countOutcome(&AdvanceResult{Outcome: OutcomeNoop, Detail: "betting window open"}), nil
		}
		if err := s.startLocked(ctx, m); err != nil {
			return nil, err
		}
	}

	g, err := rules.Load(rules.UCIMoves(m.History))
	if err != nil {
		return nil, fmt.Errorf("match %s history corrupt: %w", matchID, err)
	}

	// A terminal position with the match still live means a previous
	// finalization did not land. Finalize, never move.
	if out, terminal := g.Terminal(); terminal {
		if err := s.finalize(ctx, m, out.Result, out.Reason); err != nil {
			return nil, err
		}
		return s.countOutcome(&AdvanceResult{Outcome: OutcomeCompleted, Result: out.Result, Reason: out.Reason}), nil
	}

	// Safety cutoff: guarantee termination even if the agents shuffle
	// pieces forever without triggering a rules-engine draw.
	if m.MoveCount >= s.cfg.MaxPlies {
		if err := s.finalize(ctx, m, model.ResultDraw, model.ReasonMoveLimit); err != nil {
			return nil, err
		}
		return s.countOutcome(&AdvanceResult{Outcome: OutcomeCompleted, Result: model.ResultDraw, Reason: model.ReasonMoveLimit}), nil
	}

	if last, ok := m.LastMoveAt(); ok && s.clock.Now().Sub(last) < s.cfg.MinMoveInterval {
		return s.countOutcome(&AdvanceResult{Outcome: OutcomeNoop, Detail: "move interval not elapsed"}), nil
	}

	side := g.Turn()
	agentID := m.WhiteAgentID
	if side == model.SideBlack {
		agentID = m.BlackAgentID
	}
	agent, err := s.store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}

	decision, err := s.brain.Decide(g.Position(), agent, lastMoveGaveCheck(m))
	if err != nil {
		// Surface as retryable; the match state is untouched.
		slog.Error("decision failed", "match", matchID, "agent", agent.Name, "err", err)
		return nil, fmt.Errorf("%w: %v", ErrNoMove, err)
	}

	san := decision.SAN
	if err := g.Apply(decision.Move); err != nil {
		return nil, err
	}

	rec := model.MoveRecord{
		Number:      m.MoveCount + 1,
		Move:        decision.UCI,
		SAN:         san,
		Side:        side,
		AgentID:     agent.ID,
		Position:    g.FEN(),
		Explanation: decision.Explanation,
		Timestamp:   s.clock.Now(),
	}
	if err := s.store.AppendMove(ctx, m.ID, rec, rec.Position); err != nil {
		return nil, err
	}
	m.History = append(m.History, rec)
	m.MoveCount++
	m.Position = rec.Position

	metrics.MovesTotal.WithLabelValues(string(agent.Playstyle)).Inc()
	metrics.DecisionConfidence.Observe(decision.Confidence)
	slog.Info("move played",
		"match", m.ID,
		"ply", rec.Number,
		"agent", agent.Name,
		"side", side,
		"san", san,
		"confidence", fmt.Sprintf("%.2f", decision.Confidence),
		"phase", decision.Phase.String(),
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:        "move_played",
			MatchID:     m.ID,
			Move:        rec.Move,
			SAN:         rec.SAN,
			Side:        string(side),
			Position:    rec.Position,
			Explanation: rec.Explanation,
		})
	}

	if out, terminal := g.Terminal(); terminal {
		if err := s.finalize(ctx, m, out.Result, out.Reason); err != nil {
			return nil, err
		}
		return s.countOutcome(&AdvanceResult{Outcome: OutcomeCompleted, Move: &rec, Result: out.Result, Reason: out.Reason}), nil
	}

	return s.countOutcome(&AdvanceResult{Outcome: OutcomeMoved, Move: &rec}), nil
}

func (s *Service) countOutcome(r *AdvanceResult) *AdvanceResult {
	metrics.AdvanceOutcomes.WithLabelValues(string(r.Outcome)).Inc()
	return r
}

// startLocked transitions betting → live. Caller holds the match lock.
func (s *Service) startLocked(ctx context.Context, m *model.Match) error {
	now := s.clock.Now()
	if err := s.store.StartMatch(ctx, m.ID, now); err != nil {
		return err
	}
	m.Status = model.StatusLive
	m.StartedAt = &now
	metrics.LiveMatches.Inc()
	slog.Info("match live", "match", m.ID, "pool", m.PoolTotal.String())
	return nil
}

// StartMatch explicitly closes the betting window and begins play.
func (s *Service) StartMatch(ctx context.Context, matchID string) error {
	unlock := s.locks.acquire(matchID)
	defer unlock()

	m, err := s.store.GetMatch(ctx, matchID)
	if err != nil {
		return err
	}
	if m.Status != model.StatusBetting {
		return nil // already started or completed; repeated starts are expected
	}
	return s.startLocked(ctx, m)
}

// CancelMatch is the administrative escape hatch: every bet is refunded
// and no ratings change. Reachable from betting or live, never from
// completed.
func (s *Service) CancelMatch(ctx context.Context, matchID string) error {
	unlock := s.locks.acquire(matchID)
	defer unlock()

	m, err := s.store.GetMatch(ctx, matchID)
	if err != nil {
		return err
	}
	if m.Status == model.StatusCompleted {
		return nil
	}
	return s.finalize(ctx, m, model.ResultCancelled, model.ReasonCancelled)
}

// finalize is the single point that completes a match: status, result,
// settlement, and rating all land here, under the match lock. The status
// write goes first; the remaining effects run via settleAndRate, which
// any later advance or sweep re-runs until the settled flag flips.
func (s *Service) finalize(ctx context.Context, m *model.Match, result model.Result, reason string) error {
	now := s.clock.Now()
	if err := s.store.FinalizeMatch(ctx, m.ID, result, reason, now); err != nil {
		return err
	}
	wasLive := m.Status == model.StatusLive
	m.Status = model.StatusCompleted
	m.Result = result
	m.Reason = reason
	m.CompletedAt = &now

	if err := s.settleAndRate(ctx, m); err != nil {
		return fmt.Errorf("match %s finalized but settlement incomplete: %w", m.ID, err)
	}

	if wasLive {
		metrics.LiveMatches.Dec()
	}
	metrics.MatchesCompleted.WithLabelValues(reason).Inc()
	slog.Info("match completed",
		"match", m.ID,
		"result", result,
		"reason", reason,
		"moves", m.MoveCount,
		"pool", m.PoolTotal.String(),
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:    "match_completed",
			MatchID: m.ID,
			Result:  string(result),
			Reason:  reason,
		})
	}
	return nil
}

// settleAndRate runs the post-completion effects for a completed match:
// bet settlement, then ratings, then the settled flag. Each step is
// skipped once done, so re-running after a partial failure converges.
// Caller holds the match lock.
func (s *Service) settleAndRate(ctx context.Context, m *model.Match) error {
	if m.Settled {
		return nil
	}
	if err := s.settle(ctx, m, m.Result); err != nil {
		return err
	}
	if m.Result != model.ResultCancelled {
		if err := s.applyRatings(ctx, m, m.Result); err != nil {
			return fmt.Errorf("ratings incomplete: %w", err)
		}
	}
	if err := s.store.MarkSettled(ctx, m.ID); err != nil {
		return err
	}
	m.Settled = true
	return nil
}

// settle resolves every pending bet on the match. Already-resolved bets
// pass through untouched, so re-running converges on the same end state.
func (s *Service) settle(ctx context.Context, m *model.Match, result model.Result) error {
	bets, err := s.store.ListBetsByMatch(ctx, m.ID)
	if err != nil {
		return err
	}
	settlements := pool.Settle(result, bets, m.PoolTotal, m.PoolWhite, m.PoolBlack)
	for i, st := range settlements {
		if bets[i].Status != model.BetPending {
			continue
		}
		if err := s.store.SettleBet(ctx, st.BetID, st.Status, st.Payout); err != nil {
			return err
		}
		slog.Info("bet settled", "bet", st.BetID, "match", m.ID, "status", st.Status, "payout", st.Payout.String())
	}
	return nil
}

// applyRatings applies the fixed-delta Elo update, counters, streaks, and
// the win/loss reputation nudge to both agents.
func (s *Service) applyRatings(ctx context.Context, m *model.Match, result model.Result) error {
	white, err := s.store.GetAgent(ctx, m.WhiteAgentID)
	if err != nil {
		return err
	}
	black, err := s.store.GetAgent(ctx, m.BlackAgentID)
	if err != nil {
		return err
	}

	rating.ApplyResult(white, black, result)
	// Style adherence and mistakes come from a separate analysis input;
	// finalization applies the neutral win/loss nudge only.
	rating.UpdateReputation(white, result == model.ResultWhiteWin, 0.5, 0)
	rating.UpdateReputation(black, result == model.ResultBlackWin, 0.5, 0)

	if err := s.store.UpdateAgent(ctx, white); err != nil {
		return err
	}
	return s.store.UpdateAgent(ctx, black)
}

// PlaceBet accepts a wager during the betting phase. First bet wins per
// (match, bettor); no top-ups.
func (s *Service) PlaceBet(ctx context.Context, matchID, bettorID string, side model.Side, stake decimal.Decimal) (*model.Bet, error) {
	unlock := s.locks.acquire(matchID)
	defer unlock()

	m, err := s.store.GetMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	windowOpen := s.clock.Now().Before(m.BettingEndsAt)
	if err := pool.ValidatePlacement(m, side, stake, windowOpen); err != nil {
		metrics.BetsRejected.WithLabelValues(rejectReason(err)).Inc()
		return nil, err
	}

	bet := &model.Bet{
		ID:              uuid.New().String(),
		MatchID:         m.ID,
		BettorID:        bettorID,
		Side:            side,
		Stake:           stake,
		PotentialPayout: pool.PotentialPayout(stake, m.SidePool(side), m.PoolTotal),
		Payout:          decimal.Zero,
		Status:          model.BetPending,
		PlacedAt:        s.clock.Now(),
	}
	if err := s.store.CreateBet(ctx, bet); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			metrics.BetsRejected.WithLabelValues("duplicate").Inc()
			return nil, pool.ErrDuplicateBet
		}
		return nil, err
	}

	total := m.PoolTotal.Add(stake)
	white, black := m.PoolWhite, m.PoolBlack
	if side == model.SideWhite {
		white = white.Add(stake)
	} else {
		black = black.Add(stake)
	}
	if err := s.store.UpdatePools(ctx, m.ID, total, white, black); err != nil {
		return nil, err
	}

	metrics.BetsTotal.WithLabelValues(string(side)).Inc()
	slog.Info("bet accepted",
		"match", m.ID,
		"bettor", bettorID,
		"side", side,
		"stake", stake.String(),
		"potential_payout", bet.PotentialPayout.String(),
	)

	if s.wsHub != nil {
		s.wsHub.Broadcast(WSMessage{
			Type:      "bet_placed",
			MatchID:   m.ID,
			Side:      string(side),
			OddsWhite: pool.Odds(total, white).String(),
			OddsBlack: pool.Odds(total, black).String(),
		})
	}
	return bet, nil
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, pool.ErrInvalidSide):
		return "invalid_side"
	case errors.Is(err, pool.ErrInvalidStake):
		return "invalid_stake"
	case errors.Is(err, pool.ErrBettingClosed):
		return "window_closed"
	case errors.Is(err, pool.ErrDuplicateBet):
		return "duplicate"
	}
	return "other"
}

// RegisterAgent creates a new agent with defaults derived from its
// playstyle.
func (s *Service) RegisterAgent(ctx context.Context, name string, style model.Playstyle) (*model.Agent, error) {
	if !style.Valid() {
		return nil, fmt.Errorf("arena: unknown playstyle %q", style)
	}
	strengths, weaknesses := model.StyleProfile(style)
	agent := &model.Agent{
		ID:            uuid.New().String(),
		Name:          name,
		Playstyle:     style,
		Rating:        rating.InitialRating,
		Reputation:    rating.InitialReputation,
		TrainingLevel: model.LevelBeginner,
		Skills:        model.SkillScores{Tactical: 50, Positional: 50, Endgame: 50, Opening: 50},
		Strengths:     strengths,
		Weaknesses:    weaknesses,
		CreatedAt:     s.clock.Now(),
	}
	if err := s.store.CreateAgent(ctx, agent); err != nil {
		return nil, err
	}
	slog.Info("agent registered", "agent", agent.Name, "playstyle", style)
	return agent, nil
}

// CreateMatch pairs two distinct, idle agents directly.
func (s *Service) CreateMatch(ctx context.Context, whiteID, blackID string) (*model.Match, error) {
	if whiteID == blackID {
		return nil, ErrSameAgent
	}
	for _, id := range []string{whiteID, blackID} {
		if _, err := s.store.GetAgent(ctx, id); err != nil {
			return nil, err
		}
		if _, err := s.store.ActiveMatchForAgent(ctx, id); err == nil {
			return nil, fmt.Errorf("%w: %s", ErrAgentBusy, id)
		} else if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}

	now := s.clock.Now()
	m := &model.Match{
		ID:            uuid.New().String(),
		WhiteAgentID:  whiteID,
		BlackAgentID:  blackID,
		Status:        model.StatusBetting,
		Position:      rules.StartFEN,
		PoolTotal:     decimal.Zero,
		PoolWhite:     decimal.Zero,
		PoolBlack:     decimal.Zero,
		BettingEndsAt: now.Add(s.cfg.BettingWindow),
		CreatedAt:     now,
	}
	if err := s.store.CreateMatch(ctx, m); err != nil {
		// The store enforces one active match per agent; a raced
		// concurrent pairing surfaces as a duplicate here.
		if errors.Is(err, store.ErrDuplicate) {
			return nil, fmt.Errorf("%w: %s vs %s", ErrAgentBusy, whiteID, blackID)
		}
		return nil, err
	}
	slog.Info("match created", "match", m.ID, "white", whiteID, "black", blackID, "betting_ends", m.BettingEndsAt)
	return m, nil
}

// ratingBands are the expanding matchmaking search radii.
var ratingBands = []int{100, 200, 400, 800}

// FindOpponent pairs the agent with the closest-rated idle opponent
// within an expanding rating band, randomizing side assignment.
func (s *Service) FindOpponent(ctx context.Context, agentID string) (*model.Match, error) {
	agent, err := s.store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.ActiveMatchForAgent(ctx, agentID); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrAgentBusy, agentID)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	all, err := s.store.ListAgents(ctx)
	if err != nil {
		return nil, err
	}

	for _, band := range ratingBands {
		var best *model.Agent
		bestGap := band + 1
		for i := range all {
			cand := &all[i]
			if cand.ID == agent.ID {
				continue
			}
			gap := cand.Rating - agent.Rating
			if gap < 0 {
				gap = -gap
			}
			if gap > band || gap >= bestGap {
				continue
			}
			if _, err := s.store.ActiveMatchForAgent(ctx, cand.ID); err == nil {
				continue
			} else if !errors.Is(err, store.ErrNotFound) {
				return nil, err
			}
			best = cand
			bestGap = gap
		}
		if best != nil {
			white, black := agent.ID, best.ID
			if s.rand.Intn(2) == 1 {
				white, black = black, white
			}
			return s.CreateMatch(ctx, white, black)
		}
	}
	return nil, ErrNoOpponent
}

// TrainAgent analyzes a batch of the agent's completed matches, awarding
// XP and skill increments, and optionally applies the caller-supplied
// style-adherence/mistake reputation inputs.
func (s *Service) TrainAgent(ctx context.Context, agentID string, matchIDs []string, styleAdherence float64, mistakes int) (*model.Agent, []rating.GameAnalysis, error) {
	agent, err := s.store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, nil, err
	}

	var analyses []rating.GameAnalysis
	for _, id := range matchIDs {
		m, err := s.store.GetMatch(ctx, id)
		if err != nil {
			return nil, nil, err
		}
		if m.Status != model.StatusCompleted || m.AgentSide(agentID) == "" {
			continue
		}
		a := rating.AnalyzeGame(m, agentID)
		rating.ApplyTraining(agent, a)
		analyses = append(analyses, a)
	}

	if styleAdherence > 0 || mistakes > 0 {
		won := agent.Streak > 0 // adherence input rides on the most recent form
		rating.UpdateReputation(agent, won, styleAdherence, mistakes)
	}

	if err := s.store.UpdateAgent(ctx, agent); err != nil {
		return nil, nil, err
	}
	slog.Info("agent trained", "agent", agent.Name, "games", len(analyses), "xp", agent.TrainingXP, "level", agent.TrainingLevel)
	return agent, analyses, nil
}

// Decide exposes the decision brain for analysis: score an arbitrary
// position as a given agent without touching any match.
func (s *Service) Decide(ctx context.Context, fen, agentID string) (*brain.Decision, error) {
	agent, err := s.store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	pos, err := rules.PositionFromFEN(fen)
	if err != nil {
		return nil, err
	}
	return s.brain.Decide(pos, agent, false)
}

// SweepDue advances every live match and every betting match whose window
// has expired, and retries post-completion effects on any completed match
// whose settled flag never flipped. Invoked by the scheduler; each match
// is advanced at most one move per sweep.
func (s *Service) SweepDue(ctx context.Context) {
	for _, status := range []model.MatchStatus{model.StatusBetting, model.StatusLive, model.StatusCompleted} {
		matches, err := s.store.ListMatches(ctx, status)
		if err != nil {
			slog.Error("sweep list failed", "status", status, "err", err)
			continue
		}
		for _, m := range matches {
			if m.Status == model.StatusBetting && s.clock.Now().Before(m.BettingEndsAt) {
				continue
			}
			if m.Status == model.StatusCompleted && m.Settled {
				continue
			}
			if _, err := s.AdvanceMatch(ctx, m.ID); err != nil {
				slog.Error("sweep advance failed", "match", m.ID, "err", err)
			}
		}
	}
}

// lastMoveGaveCheck reports whether the side to move is in check, read
// from the previous move's SAN.
func lastMoveGaveCheck(m *model.Match) bool {
	if len(m.History) == 0 {
		return false
	}
	san := m.History[len(m.History)-1].SAN
	return strings.HasSuffix(san, "+") || strings.HasSuffix(san, "#")
}
