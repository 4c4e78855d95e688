package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/agentchess/arena-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for the hot reads (match and agent snapshots that spectator pages
// hammer). Writes go to the primary store and invalidate the cache.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{primary: primary, rdb: rdb, ttl: ttl}
}

func agentKey(id string) string { return "arena:agent:" + id }
func matchKey(id string) string { return "arena:match:" + id }

// --- Agents ---

func (s *CachedStore) CreateAgent(ctx context.Context, a *model.Agent) error {
	if err := s.primary.CreateAgent(ctx, a); err != nil {
		return err
	}
	s.cacheSet(ctx, agentKey(a.ID), a)
	return nil
}

func (s *CachedStore) GetAgent(ctx context.Context, id string) (*model.Agent, error) {
	var a model.Agent
	if s.cacheGet(ctx, agentKey(id), &a) {
		return &a, nil
	}
	got, err := s.primary.GetAgent(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheSet(ctx, agentKey(id), got)
	return got, nil
}

func (s *CachedStore) GetAgentByName(ctx context.Context, name string) (*model.Agent, error) {
	// Name lookups are registration-time only; no cache.
	return s.primary.GetAgentByName(ctx, name)
}

func (s *CachedStore) ListAgents(ctx context.Context) ([]model.Agent, error) {
	return s.primary.ListAgents(ctx)
}

func (s *CachedStore) UpdateAgent(ctx context.Context, a *model.Agent) error {
	if err := s.primary.UpdateAgent(ctx, a); err != nil {
		return err
	}
	s.rdb.Del(ctx, agentKey(a.ID))
	return nil
}

// --- Matches ---

func (s *CachedStore) CreateMatch(ctx context.Context, m *model.Match) error {
	if err := s.primary.CreateMatch(ctx, m); err != nil {
		return err
	}
	s.cacheSet(ctx, matchKey(m.ID), m)
	return nil
}

func (s *CachedStore) GetMatch(ctx context.Context, id string) (*model.Match, error) {
	var m model.Match
	if s.cacheGet(ctx, matchKey(id), &m) {
		return &m, nil
	}
	got, err := s.primary.GetMatch(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheSet(ctx, matchKey(id), got)
	return got, nil
}

func (s *CachedStore) ListMatches(ctx context.Context, status model.MatchStatus) ([]model.Match, error) {
	return s.primary.ListMatches(ctx, status)
}

func (s *CachedStore) ActiveMatchForAgent(ctx context.Context, agentID string) (*model.Match, error) {
	return s.primary.ActiveMatchForAgent(ctx, agentID)
}

func (s *CachedStore) StartMatch(ctx context.Context, id string, startedAt time.Time) error {
	if err := s.primary.StartMatch(ctx, id, startedAt); err != nil {
		return err
	}
	s.rdb.Del(ctx, matchKey(id))
	return nil
}

func (s *CachedStore) AppendMove(ctx context.Context, matchID string, rec model.MoveRecord, newFEN string) error {
	if err := s.primary.AppendMove(ctx, matchID, rec, newFEN); err != nil {
		return err
	}
	s.rdb.Del(ctx, matchKey(matchID))
	return nil
}

func (s *CachedStore) UpdatePools(ctx context.Context, matchID string, total, white, black decimal.Decimal) error {
	if err := s.primary.UpdatePools(ctx, matchID, total, white, black); err != nil {
		return err
	}
	s.rdb.Del(ctx, matchKey(matchID))
	return nil
}

func (s *CachedStore) FinalizeMatch(ctx context.Context, id string, result model.Result, reason string, completedAt time.Time) error {
	if err := s.primary.FinalizeMatch(ctx, id, result, reason, completedAt); err != nil {
		return err
	}
	s.rdb.Del(ctx, matchKey(id))
	return nil
}

func (s *CachedStore) MarkSettled(ctx context.Context, matchID string) error {
	if err := s.primary.MarkSettled(ctx, matchID); err != nil {
		return err
	}
	s.rdb.Del(ctx, matchKey(matchID))
	return nil
}

// --- Bets (uncached: settlement correctness beats read latency) ---

func (s *CachedStore) CreateBet(ctx context.Context, b *model.Bet) error {
	return s.primary.CreateBet(ctx, b)
}

func (s *CachedStore) ListBetsByMatch(ctx context.Context, matchID string) ([]model.Bet, error) {
	return s.primary.ListBetsByMatch(ctx, matchID)
}

func (s *CachedStore) SettleBet(ctx context.Context, betID string, status model.BetStatus, payout decimal.Decimal) error {
	return s.primary.SettleBet(ctx, betID, status, payout)
}

// --- cache helpers (best effort; cache failures never fail the request) ---

func (s *CachedStore) cacheSet(ctx context.Context, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	s.rdb.Set(ctx, key, data, s.ttl)
}

func (s *CachedStore) cacheGet(ctx context.Context, key string, v any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		// Poisoned entry; drop it.
		s.rdb.Del(ctx, key)
		return false
	}
	return true
}

var _ Store = (*CachedStore)(nil)
