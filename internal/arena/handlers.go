package arena

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/agentchess/arena-engine/internal/model"
	"github.com/agentchess/arena-engine/internal/pool"
	"github.com/agentchess/arena-engine/internal/store"
)

// --- Agents ---

// HandleCreateAgent registers a new agent.
func (s *Service) HandleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name      string          `json:"name"`
		Playstyle model.Playstyle `json:"playstyle"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		writeError(w, "name is required", http.StatusBadRequest)
		return
	}

	agent, err := s.RegisterAgent(r.Context(), req.Name, req.Playstyle)
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			writeError(w, "agent name already taken", http.StatusConflict)
			return
		}
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(agent)
}

// HandleGetAgent returns one agent.
func (s *Service) HandleGetAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := s.store.GetAgent(r.Context(), chi.URLParam(r, "agentID"))
	if err != nil {
		writeError(w, "agent not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(agent)
}

// HandleListAgents returns the leaderboard, highest rating first.
func (s *Service) HandleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.store.ListAgents(r.Context())
	if err != nil {
		writeError(w, "failed to list agents", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"agents": agents, "count": len(agents)})
}

// HandleTrainAgent runs post-game analysis over a batch of completed
// matches and applies the resulting XP and skill changes.
func (s *Service) HandleTrainAgent(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")
	var req struct {
		MatchIDs       []string `json:"match_ids"`
		StyleAdherence float64  `json:"style_adherence,omitempty"`
		Mistakes       int      `json:"mistakes,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.MatchIDs) == 0 {
		writeError(w, "match_ids is required", http.StatusBadRequest)
		return
	}

	agent, analyses, err := s.TrainAgent(r.Context(), agentID, req.MatchIDs, req.StyleAdherence, req.Mistakes)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, "agent or match not found", http.StatusNotFound)
			return
		}
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"agent": agent, "analyses": analyses})
}

// HandleFindOpponent runs matchmaking for an agent and opens a match.
func (s *Service) HandleFindOpponent(w http.ResponseWriter, r *http.Request) {
	m, err := s.FindOpponent(r.Context(), chi.URLParam(r, "agentID"))
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, "agent not found", http.StatusNotFound)
		case errors.Is(err, ErrAgentBusy):
			writeError(w, err.Error(), http.StatusConflict)
		case errors.Is(err, ErrNoOpponent):
			writeError(w, "no opponent available", http.StatusConflict)
		default:
			writeError(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(m)
}

// --- Matches ---

// HandleCreateMatch pairs two named agents directly.
func (s *Service) HandleCreateMatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WhiteAgentID string `json:"white_agent_id"`
		BlackAgentID string `json:"black_agent_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.WhiteAgentID == "" || req.BlackAgentID == "" {
		writeError(w, "white_agent_id and black_agent_id are required", http.StatusBadRequest)
		return
	}

	m, err := s.CreateMatch(r.Context(), req.WhiteAgentID, req.BlackAgentID)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, "agent not found", http.StatusNotFound)
		case errors.Is(err, ErrSameAgent):
			writeError(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, ErrAgentBusy):
			writeError(w, err.Error(), http.StatusConflict)
		default:
			writeError(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(m)
}

// HandleGetMatch returns a match with its full move history.
func (s *Service) HandleGetMatch(w http.ResponseWriter, r *http.Request) {
	m, err := s.store.GetMatch(r.Context(), chi.URLParam(r, "matchID"))
	if err != nil {
		writeError(w, "match not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(m)
}

// HandleListMatches returns matches, optionally filtered by ?status=.
func (s *Service) HandleListMatches(w http.ResponseWriter, r *http.Request) {
	status := model.MatchStatus(r.URL.Query().Get("status"))
	switch status {
	case "", model.StatusBetting, model.StatusLive, model.StatusCompleted:
	default:
		writeError(w, "status must be betting, live, or completed", http.StatusBadRequest)
		return
	}

	matches, err := s.store.ListMatches(r.Context(), status)
	if err != nil {
		writeError(w, "failed to list matches", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"matches": matches, "count": len(matches)})
}

// HandleAdvanceMatch progresses a match by at most one move.
func (s *Service) HandleAdvanceMatch(w http.ResponseWriter, r *http.Request) {
	res, err := s.AdvanceMatch(r.Context(), chi.URLParam(r, "matchID"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, "match not found", http.StatusNotFound)
			return
		}
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(res)
}

// HandleStartMatch closes the betting window early and begins play.
func (s *Service) HandleStartMatch(w http.ResponseWriter, r *http.Request) {
	matchID := chi.URLParam(r, "matchID")
	if err := s.StartMatch(r.Context(), matchID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, "match not found", http.StatusNotFound)
			return
		}
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	m, err := s.store.GetMatch(r.Context(), matchID)
	if err != nil {
		writeError(w, "match not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(m)
}

// HandleCancelMatch aborts a match and refunds every bet.
func (s *Service) HandleCancelMatch(w http.ResponseWriter, r *http.Request) {
	matchID := chi.URLParam(r, "matchID")
	if err := s.CancelMatch(r.Context(), matchID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, "match not found", http.StatusNotFound)
			return
		}
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	m, err := s.store.GetMatch(r.Context(), matchID)
	if err != nil {
		writeError(w, "match not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(m)
}

// --- Betting ---

// HandlePlaceBet accepts a wager on a match in its betting phase.
func (s *Service) HandlePlaceBet(w http.ResponseWriter, r *http.Request) {
	matchID := chi.URLParam(r, "matchID")
	var req struct {
		BettorID string `json:"bettor_id"`
		Side     string `json:"side"`
		Stake    string `json:"stake"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.BettorID == "" {
		writeError(w, "bettor_id is required", http.StatusBadRequest)
		return
	}
	stake, err := decimal.NewFromString(req.Stake)
	if err != nil {
		writeError(w, "stake must be a decimal number", http.StatusBadRequest)
		return
	}

	bet, err := s.PlaceBet(r.Context(), matchID, req.BettorID, model.Side(req.Side), stake)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, "match not found", http.StatusNotFound)
		case errors.Is(err, pool.ErrInvalidSide), errors.Is(err, pool.ErrInvalidStake):
			writeError(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, pool.ErrBettingClosed), errors.Is(err, pool.ErrDuplicateBet):
			writeError(w, err.Error(), http.StatusConflict)
		default:
			writeError(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(bet)
}

// HandleGetOdds returns the current implied odds for both sides.
func (s *Service) HandleGetOdds(w http.ResponseWriter, r *http.Request) {
	m, err := s.store.GetMatch(r.Context(), chi.URLParam(r, "matchID"))
	if err != nil {
		writeError(w, "match not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"match_id":   m.ID,
		"pool_total": m.PoolTotal,
		"pool_white": m.PoolWhite,
		"pool_black": m.PoolBlack,
		"odds_white": pool.Odds(m.PoolTotal, m.PoolWhite),
		"odds_black": pool.Odds(m.PoolTotal, m.PoolBlack),
	})
}

// HandleListBets returns all bets on a match.
func (s *Service) HandleListBets(w http.ResponseWriter, r *http.Request) {
	matchID := chi.URLParam(r, "matchID")
	if _, err := s.store.GetMatch(r.Context(), matchID); err != nil {
		writeError(w, "match not found", http.StatusNotFound)
		return
	}
	bets, err := s.store.ListBetsByMatch(r.Context(), matchID)
	if err != nil {
		writeError(w, "failed to list bets", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"bets": bets, "count": len(bets)})
}

// --- Analysis ---

// HandleDecide scores an arbitrary position as a given agent without
// touching any match.
func (s *Service) HandleDecide(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AgentID string `json:"agent_id"`
		FEN     string `json:"fen"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.AgentID == "" || req.FEN == "" {
		writeError(w, "agent_id and fen are required", http.StatusBadRequest)
		return
	}

	d, err := s.Decide(r.Context(), req.FEN, req.AgentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, "agent not found", http.StatusNotFound)
			return
		}
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"move":        d.UCI,
		"san":         d.SAN,
		"explanation": d.Explanation,
		"confidence":  d.Confidence,
		"thinking_ms": d.Thinking.Milliseconds(),
	})
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
