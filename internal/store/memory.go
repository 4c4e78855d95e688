package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/agentchess/arena-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu      sync.RWMutex
	agents  map[string]*model.Agent
	matches map[string]*model.Match
	bets    map[string]*model.Bet
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		agents:  make(map[string]*model.Agent),
		matches: make(map[string]*model.Match),
		bets:    make(map[string]*model.Bet),
	}
}

// --- Agents ---

func (s *MemoryStore) CreateAgent(_ context.Context, a *model.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.agents {
		if existing.Name == a.Name {
			return fmt.Errorf("%w: agent name %s", ErrDuplicate, a.Name)
		}
	}
	cp := cloneAgent(a)
	s.agents[a.ID] = cp
	return nil
}

func (s *MemoryStore) GetAgent(_ context.Context, id string) (*model.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.agents[id]
	if !ok {
		return nil, fmt.Errorf("%w: agent %s", ErrNotFound, id)
	}
	return cloneAgent(a), nil
}

func (s *MemoryStore) GetAgentByName(_ context.Context, name string) (*model.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.agents {
		if a.Name == name {
			return cloneAgent(a), nil
		}
	}
	return nil, fmt.Errorf("%w: agent named %s", ErrNotFound, name)
}

func (s *MemoryStore) ListAgents(_ context.Context) ([]model.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	agents := make([]model.Agent, 0, len(s.agents))
	for _, a := range s.agents {
		agents = append(agents, *cloneAgent(a))
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].Rating > agents[j].Rating })
	return agents, nil
}

func (s *MemoryStore) UpdateAgent(_ context.Context, a *model.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.agents[a.ID]; !ok {
		return fmt.Errorf("%w: agent %s", ErrNotFound, a.ID)
	}
	s.agents[a.ID] = cloneAgent(a)
	return nil
}

// --- Matches ---

func (s *MemoryStore) CreateMatch(_ context.Context, m *model.Match) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.Status != model.StatusCompleted {
		for _, existing := range s.matches {
			if existing.ID == m.ID || existing.Status == model.StatusCompleted {
				continue
			}
			for _, agentID := range []string{m.WhiteAgentID, m.BlackAgentID} {
				if existing.WhiteAgentID == agentID || existing.BlackAgentID == agentID {
					return fmt.Errorf("%w: agent %s already in match %s", ErrDuplicate, agentID, existing.ID)
				}
			}
		}
	}
	s.matches[m.ID] = cloneMatch(m)
	return nil
}

func (s *MemoryStore) GetMatch(_ context.Context, id string) (*model.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.matches[id]
	if !ok {
		return nil, fmt.Errorf("%w: match %s", ErrNotFound, id)
	}
	return cloneMatch(m), nil
}

func (s *MemoryStore) ListMatches(_ context.Context, status model.MatchStatus) ([]model.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matches := make([]model.Match, 0, len(s.matches))
	for _, m := range s.matches {
		if status != "" && m.Status != status {
			continue
		}
		matches = append(matches, *cloneMatch(m))
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].CreatedAt.After(matches[j].CreatedAt) })
	return matches, nil
}

func (s *MemoryStore) ActiveMatchForAgent(_ context.Context, agentID string) (*model.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.matches {
		if m.Status == model.StatusCompleted {
			continue
		}
		if m.WhiteAgentID == agentID || m.BlackAgentID == agentID {
			return cloneMatch(m), nil
		}
	}
	return nil, fmt.Errorf("%w: no active match for agent %s", ErrNotFound, agentID)
}

func (s *MemoryStore) StartMatch(_ context.Context, id string, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.matches[id]
	if !ok {
		return fmt.Errorf("%w: match %s", ErrNotFound, id)
	}
	m.Status = model.StatusLive
	t := startedAt
	m.StartedAt = &t
	return nil
}

func (s *MemoryStore) AppendMove(_ context.Context, matchID string, rec model.MoveRecord, newFEN string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.matches[matchID]
	if !ok {
		return fmt.Errorf("%w: match %s", ErrNotFound, matchID)
	}
	m.History = append(m.History, rec)
	m.Position = newFEN
	m.MoveCount = len(m.History)
	return nil
}

func (s *MemoryStore) UpdatePools(_ context.Context, matchID string, total, white, black decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.matches[matchID]
	if !ok {
		return fmt.Errorf("%w: match %s", ErrNotFound, matchID)
	}
	m.PoolTotal = total
	m.PoolWhite = white
	m.PoolBlack = black
	return nil
}

func (s *MemoryStore) FinalizeMatch(_ context.Context, id string, result model.Result, reason string, completedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.matches[id]
	if !ok {
		return fmt.Errorf("%w: match %s", ErrNotFound, id)
	}
	m.Status = model.StatusCompleted
	m.Result = result
	m.Reason = reason
	t := completedAt
	m.CompletedAt = &t
	return nil
}

func (s *MemoryStore) MarkSettled(_ context.Context, matchID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.matches[matchID]
	if !ok {
		return fmt.Errorf("%w: match %s", ErrNotFound, matchID)
	}
	m.Settled = true
	return nil
}

// --- Bets ---

func (s *MemoryStore) CreateBet(_ context.Context, b *model.Bet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.bets {
		if existing.MatchID == b.MatchID && existing.BettorID == b.BettorID {
			return fmt.Errorf("%w: bet by %s on match %s", ErrDuplicate, b.BettorID, b.MatchID)
		}
	}
	cp := *b
	s.bets[b.ID] = &cp
	return nil
}

func (s *MemoryStore) ListBetsByMatch(_ context.Context, matchID string) ([]model.Bet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var bets []model.Bet
	for _, b := range s.bets {
		if b.MatchID == matchID {
			bets = append(bets, *b)
		}
	}
	sort.Slice(bets, func(i, j int) bool { return bets[i].PlacedAt.Before(bets[j].PlacedAt) })
	return bets, nil
}

func (s *MemoryStore) SettleBet(_ context.Context, betID string, status model.BetStatus, payout decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bets[betID]
	if !ok {
		return fmt.Errorf("%w: bet %s", ErrNotFound, betID)
	}
	b.Status = status
	b.Payout = payout
	return nil
}

// --- copy helpers (store copies to avoid external mutation) ---

func cloneAgent(a *model.Agent) *model.Agent {
	cp := *a
	cp.Strengths = append([]string(nil), a.Strengths...)
	cp.Weaknesses = append([]string(nil), a.Weaknesses...)
	return &cp
}

func cloneMatch(m *model.Match) *model.Match {
	cp := *m
	cp.History = append([]model.MoveRecord(nil), m.History...)
	if m.StartedAt != nil {
		t := *m.StartedAt
		cp.StartedAt = &t
	}
	if m.CompletedAt != nil {
		t := *m.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}
