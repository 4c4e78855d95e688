package arena_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/agentchess/arena-engine/internal/arena"
	"github.com/agentchess/arena-engine/internal/brain"
	"github.com/agentchess/arena-engine/internal/model"
	"github.com/agentchess/arena-engine/internal/pool"
	"github.com/agentchess/arena-engine/internal/rating"
	"github.com/agentchess/arena-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// newTestEnv creates a test Service with in-memory store, mock clock, and
// chi router.
func newTestEnv(t *testing.T) (*arena.Service, *store.MemoryStore, *quartz.Mock, chi.Router) {
	t.Helper()
	ms := store.NewMemoryStore()
	clock := quartz.NewMock(t)
	svc := arena.NewService(ms, brain.New(), clock, arena.DefaultConfig(), nil)

	r := chi.NewRouter()
	r.Post("/api/v1/agents", svc.HandleCreateAgent)
	r.Get("/api/v1/agents", svc.HandleListAgents)
	r.Get("/api/v1/agents/{agentID}", svc.HandleGetAgent)
	r.Post("/api/v1/agents/{agentID}/train", svc.HandleTrainAgent)
	r.Post("/api/v1/matches", svc.HandleCreateMatch)
	r.Get("/api/v1/matches/{matchID}", svc.HandleGetMatch)
	r.Post("/api/v1/matches/{matchID}/advance", svc.HandleAdvanceMatch)
	r.Post("/api/v1/matches/{matchID}/bets", svc.HandlePlaceBet)
	r.Get("/api/v1/matches/{matchID}/odds", svc.HandleGetOdds)

	return svc, ms, clock, r
}

// seedPair registers two agents and returns them.
func seedPair(t *testing.T, svc *arena.Service) (*model.Agent, *model.Agent) {
	t.Helper()
	white, err := svc.RegisterAgent(context.Background(), "Kasparova", model.StyleAggressive)
	if err != nil {
		t.Fatalf("failed to register agent: %v", err)
	}
	black, err := svc.RegisterAgent(context.Background(), "Petrosian-9", model.StyleDefensive)
	if err != nil {
		t.Fatalf("failed to register agent: %v", err)
	}
	return white, black
}

// foolsMate is the shortest possible checkmate, used to seed matches in a
// known terminal position.
var foolsMate = []struct {
	uci, san string
	side     model.Side
}{
	{"f2f3", "f3", model.SideWhite},
	{"e7e5", "e5", model.SideBlack},
	{"g2g4", "g4", model.SideWhite},
	{"d8h4", "Qh4#", model.SideBlack},
}

// seedLiveMatch seeds a live match directly in the store with the given
// UCI/SAN history.
func seedLiveMatch(t *testing.T, ms *store.MemoryStore, clock *quartz.Mock, white, black *model.Agent, history []struct {
	uci, san string
	side     model.Side
}) *model.Match {
	t.Helper()
	now := clock.Now()
	m := &model.Match{
		ID:            "test-match-1",
		WhiteAgentID:  white.ID,
		BlackAgentID:  black.ID,
		Status:        model.StatusLive,
		PoolTotal:     decimal.Zero,
		PoolWhite:     decimal.Zero,
		PoolBlack:     decimal.Zero,
		BettingEndsAt: now.Add(-time.Minute),
		StartedAt:     &now,
		CreatedAt:     now.Add(-2 * time.Minute),
	}
	for i, mv := range history {
		agentID := white.ID
		if mv.side == model.SideBlack {
			agentID = black.ID
		}
		m.History = append(m.History, model.MoveRecord{
			Number:    i + 1,
			Move:      mv.uci,
			SAN:       mv.san,
			Side:      mv.side,
			AgentID:   agentID,
			Timestamp: now.Add(-time.Minute),
		})
	}
	m.MoveCount = len(m.History)
	if err := ms.CreateMatch(context.Background(), m); err != nil {
		t.Fatalf("failed to seed match: %v", err)
	}
	return m
}

func seedPendingBet(t *testing.T, ms *store.MemoryStore, matchID, bettorID string, side model.Side, stake decimal.Decimal) {
	t.Helper()
	err := ms.CreateBet(context.Background(), &model.Bet{
		ID:       "bet-" + bettorID,
		MatchID:  matchID,
		BettorID: bettorID,
		Side:     side,
		Stake:    stake,
		Status:   model.BetPending,
		PlacedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("failed to seed bet: %v", err)
	}
}

func placeBet(t *testing.T, router chi.Router, matchID, bettorID, side, stake string) *httptest.ResponseRecorder {
	t.Helper()
	body, _ := json.Marshal(map[string]string{
		"bettor_id": bettorID,
		"side":      side,
		"stake":     stake,
	})
	req := httptest.NewRequest("POST", "/api/v1/matches/"+matchID+"/bets", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// --- Match lifecycle ---

func TestAdvanceMatch_BettingWindowGates(t *testing.T) {
	svc, ms, clock, _ := newTestEnv(t)
	white, black := seedPair(t, svc)

	m, err := svc.CreateMatch(context.Background(), white.ID, black.ID)
	if err != nil {
		t.Fatalf("create match failed: %v", err)
	}
	if m.Status != model.StatusBetting {
		t.Fatalf("new match should be in betting, got %s", m.Status)
	}

	// Inside the window nothing moves.
	res, err := svc.AdvanceMatch(context.Background(), m.ID)
	if err != nil {
		t.Fatalf("advance failed: %v", err)
	}
	if res.Outcome != arena.OutcomeNoop {
		t.Errorf("advance during betting should be a no-op, got %s", res.Outcome)
	}

	// Past the window the match goes live and plays its first move.
	clock.Advance(3 * time.Minute)
	res, err = svc.AdvanceMatch(context.Background(), m.ID)
	if err != nil {
		t.Fatalf("advance failed: %v", err)
	}
	if res.Outcome != arena.OutcomeMoved {
		t.Fatalf("expected first move, got %s (%s)", res.Outcome, res.Detail)
	}
	if res.Move == nil || res.Move.Number != 1 || res.Move.Side != model.SideWhite {
		t.Errorf("first move should be white's ply 1, got %+v", res.Move)
	}

	got, err := svc.AdvanceMatch(context.Background(), m.ID)
	if err != nil {
		t.Fatalf("advance failed: %v", err)
	}
	if got.Outcome != arena.OutcomeNoop {
		t.Errorf("advance inside the move interval should be a no-op, got %s", got.Outcome)
	}
	stored, _ := ms.GetMatch(context.Background(), m.ID)
	if len(stored.History) != 1 {
		t.Errorf("two invocations inside the interval should leave one history entry, got %d", len(stored.History))
	}

	clock.Advance(10 * time.Second)
	got, err = svc.AdvanceMatch(context.Background(), m.ID)
	if err != nil {
		t.Fatalf("advance failed: %v", err)
	}
	if got.Outcome != arena.OutcomeMoved || got.Move.Side != model.SideBlack {
		t.Errorf("expected black's reply after the interval, got %s", got.Outcome)
	}
}

func TestAdvanceMatch_FinalizesCheckmate(t *testing.T) {
	svc, ms, clock, _ := newTestEnv(t)
	white, black := seedPair(t, svc)
	m := seedLiveMatch(t, ms, clock, white, black, foolsMate)
	seedPendingBet(t, ms, m.ID, "alice", model.SideWhite, d(10))
	seedPendingBet(t, ms, m.ID, "bob", model.SideBlack, d(30))
	if err := ms.UpdatePools(context.Background(), m.ID, d(40), d(10), d(30)); err != nil {
		t.Fatalf("failed to seed pools: %v", err)
	}

	res, err := svc.AdvanceMatch(context.Background(), m.ID)
	if err != nil {
		t.Fatalf("advance failed: %v", err)
	}
	if res.Outcome != arena.OutcomeCompleted {
		t.Fatalf("terminal position should finalize, got %s", res.Outcome)
	}
	if res.Result != model.ResultBlackWin || res.Reason != model.ReasonCheckmate {
		t.Errorf("expected black checkmate, got %s/%s", res.Result, res.Reason)
	}

	// Settlement: the lone black bettor takes the whole 40 pool.
	bets, _ := ms.ListBetsByMatch(context.Background(), m.ID)
	for _, b := range bets {
		switch b.BettorID {
		case "alice":
			if b.Status != model.BetLost || !b.Payout.IsZero() {
				t.Errorf("white backer should lose, got %s %s", b.Status, b.Payout)
			}
		case "bob":
			if b.Status != model.BetWon || !b.Payout.Equal(d(40)) {
				t.Errorf("black backer should take 40, got %s %s", b.Status, b.Payout)
			}
		}
	}

	// Ratings: fixed K delta each way.
	w, _ := ms.GetAgent(context.Background(), white.ID)
	b, _ := ms.GetAgent(context.Background(), black.ID)
	if w.Rating != rating.InitialRating-rating.KFactor {
		t.Errorf("loser rating should drop by K, got %d", w.Rating)
	}
	if b.Rating != rating.InitialRating+rating.KFactor || b.Wins != 1 {
		t.Errorf("winner rating should rise by K, got %d (wins %d)", b.Rating, b.Wins)
	}
}

func TestAdvanceMatch_CompletedIsIdempotent(t *testing.T) {
	svc, ms, clock, _ := newTestEnv(t)
	white, black := seedPair(t, svc)
	m := seedLiveMatch(t, ms, clock, white, black, foolsMate)

	if _, err := svc.AdvanceMatch(context.Background(), m.ID); err != nil {
		t.Fatalf("first advance failed: %v", err)
	}
	first, _ := ms.GetMatch(context.Background(), m.ID)

	// Re-advancing must not replay settlement or ratings, nor touch the
	// stored result, history, or position.
	res, err := svc.AdvanceMatch(context.Background(), m.ID)
	if err != nil {
		t.Fatalf("second advance failed: %v", err)
	}
	if res.Outcome != arena.OutcomeNoop {
		t.Errorf("completed match should no-op, got %s", res.Outcome)
	}

	second, _ := ms.GetMatch(context.Background(), m.ID)
	if second.Result != first.Result || second.Reason != first.Reason {
		t.Errorf("result changed on re-advance: %s/%s vs %s/%s",
			first.Result, first.Reason, second.Result, second.Reason)
	}
	if len(second.History) != len(first.History) || second.Position != first.Position {
		t.Error("history or position changed on re-advance")
	}

	b, _ := ms.GetAgent(context.Background(), black.ID)
	if b.Rating != rating.InitialRating+rating.KFactor || b.Wins != 1 {
		t.Errorf("ratings applied twice: rating %d, wins %d", b.Rating, b.Wins)
	}
}

// flakySettleStore fails SettleBet a fixed number of times before
// delegating, simulating a storage outage mid-finalization.
type flakySettleStore struct {
	store.Store
	failures int
}

func (f *flakySettleStore) SettleBet(ctx context.Context, betID string, status model.BetStatus, payout decimal.Decimal) error {
	if f.failures > 0 {
		f.failures--
		return errors.New("settle unavailable")
	}
	return f.Store.SettleBet(ctx, betID, status, payout)
}

func TestAdvanceMatch_RecoversInterruptedSettlement(t *testing.T) {
	ms := store.NewMemoryStore()
	clock := quartz.NewMock(t)
	flaky := &flakySettleStore{Store: ms, failures: 1}
	svc := arena.NewService(flaky, brain.New(), clock, arena.DefaultConfig(), nil)

	white, black := seedPair(t, svc)
	m := seedLiveMatch(t, ms, clock, white, black, foolsMate)
	seedPendingBet(t, ms, m.ID, "bob", model.SideBlack, d(30))
	if err := ms.UpdatePools(context.Background(), m.ID, d(30), decimal.Zero, d(30)); err != nil {
		t.Fatalf("failed to seed pools: %v", err)
	}

	// Finalization lands the completed status but settlement dies.
	if _, err := svc.AdvanceMatch(context.Background(), m.ID); err == nil {
		t.Fatal("expected settlement failure to surface")
	}
	got, _ := ms.GetMatch(context.Background(), m.ID)
	if got.Status != model.StatusCompleted {
		t.Fatalf("match should be completed despite settle failure, got %s", got.Status)
	}
	if got.Settled {
		t.Fatal("settled flag must not flip while a bet is pending")
	}
	bets, _ := ms.ListBetsByMatch(context.Background(), m.ID)
	if bets[0].Status != model.BetPending {
		t.Fatalf("bet should still be pending after the outage, got %s", bets[0].Status)
	}

	// The next advance retries the stranded effects to convergence.
	res, err := svc.AdvanceMatch(context.Background(), m.ID)
	if err != nil {
		t.Fatalf("recovery advance failed: %v", err)
	}
	if res.Outcome != arena.OutcomeNoop {
		t.Errorf("recovery advance should report no-op, got %s", res.Outcome)
	}
	bets, _ = ms.ListBetsByMatch(context.Background(), m.ID)
	if bets[0].Status != model.BetWon || !bets[0].Payout.Equal(d(30)) {
		t.Errorf("bet should settle won for 30 on retry, got %s %s", bets[0].Status, bets[0].Payout)
	}
	got, _ = ms.GetMatch(context.Background(), m.ID)
	if !got.Settled {
		t.Error("settled flag should flip once every effect landed")
	}

	// Ratings applied exactly once, on the recovery pass.
	b, _ := ms.GetAgent(context.Background(), black.ID)
	if b.Rating != rating.InitialRating+rating.KFactor || b.Wins != 1 {
		t.Errorf("winner rating should rise by K exactly once, got %d (wins %d)", b.Rating, b.Wins)
	}

	// A third advance is a pure no-op.
	if _, err := svc.AdvanceMatch(context.Background(), m.ID); err != nil {
		t.Fatalf("settled advance failed: %v", err)
	}
	b, _ = ms.GetAgent(context.Background(), black.ID)
	if b.Rating != rating.InitialRating+rating.KFactor || b.Wins != 1 {
		t.Errorf("ratings replayed on a settled match: %d (wins %d)", b.Rating, b.Wins)
	}
}

func TestSweepDue_RetriesUnsettledCompleted(t *testing.T) {
	ms := store.NewMemoryStore()
	clock := quartz.NewMock(t)
	// One sweep makes two attempts: the live pass finalizes and the
	// completed pass retries. Fail both so the bet survives the sweep.
	flaky := &flakySettleStore{Store: ms, failures: 2}
	svc := arena.NewService(flaky, brain.New(), clock, arena.DefaultConfig(), nil)

	white, black := seedPair(t, svc)
	m := seedLiveMatch(t, ms, clock, white, black, foolsMate)
	seedPendingBet(t, ms, m.ID, "carol", model.SideBlack, d(12))
	if err := ms.UpdatePools(context.Background(), m.ID, d(12), decimal.Zero, d(12)); err != nil {
		t.Fatalf("failed to seed pools: %v", err)
	}

	// First sweep finalizes but strands the bet; second sweep settles it.
	svc.SweepDue(context.Background())
	bets, _ := ms.ListBetsByMatch(context.Background(), m.ID)
	if bets[0].Status != model.BetPending {
		t.Fatalf("expected stranded pending bet after first sweep, got %s", bets[0].Status)
	}

	svc.SweepDue(context.Background())
	bets, _ = ms.ListBetsByMatch(context.Background(), m.ID)
	if bets[0].Status != model.BetWon || !bets[0].Payout.Equal(d(12)) {
		t.Errorf("sweep should settle the stranded bet, got %s %s", bets[0].Status, bets[0].Payout)
	}
	got, _ := ms.GetMatch(context.Background(), m.ID)
	if !got.Settled {
		t.Error("match should be settled after the retry sweep")
	}
}

func TestAdvanceMatch_MoveLimitForcesDraw(t *testing.T) {
	svc, ms, clock, _ := newTestEnv(t)
	white, black := seedPair(t, svc)
	m := seedLiveMatch(t, ms, clock, white, black, nil)
	m.MoveCount = arena.DefaultConfig().MaxPlies
	if err := ms.CreateMatch(context.Background(), m); err != nil {
		t.Fatalf("failed to reseed match: %v", err)
	}
	seedPendingBet(t, ms, m.ID, "alice", model.SideWhite, d(25))
	if err := ms.UpdatePools(context.Background(), m.ID, d(25), d(25), decimal.Zero); err != nil {
		t.Fatalf("failed to seed pools: %v", err)
	}

	res, err := svc.AdvanceMatch(context.Background(), m.ID)
	if err != nil {
		t.Fatalf("advance failed: %v", err)
	}
	if res.Outcome != arena.OutcomeCompleted || res.Result != model.ResultDraw || res.Reason != model.ReasonMoveLimit {
		t.Fatalf("expected forced draw at the ply limit, got %s %s/%s", res.Outcome, res.Result, res.Reason)
	}

	bets, _ := ms.ListBetsByMatch(context.Background(), m.ID)
	if bets[0].Status != model.BetRefunded || !bets[0].Payout.Equal(d(25)) {
		t.Errorf("draw should refund the stake, got %s %s", bets[0].Status, bets[0].Payout)
	}

	// Draws leave ratings alone.
	w, _ := ms.GetAgent(context.Background(), white.ID)
	if w.Rating != rating.InitialRating || w.Draws != 1 {
		t.Errorf("draw should not move rating: %d (draws %d)", w.Rating, w.Draws)
	}
}

func TestCancelMatch_RefundsEverything(t *testing.T) {
	svc, ms, _, router := newTestEnv(t)
	white, black := seedPair(t, svc)

	m, err := svc.CreateMatch(context.Background(), white.ID, black.ID)
	if err != nil {
		t.Fatalf("create match failed: %v", err)
	}
	if w := placeBet(t, router, m.ID, "alice", "white", "15"); w.Code != http.StatusCreated {
		t.Fatalf("bet rejected: %d %s", w.Code, w.Body.String())
	}

	if err := svc.CancelMatch(context.Background(), m.ID); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	got, _ := ms.GetMatch(context.Background(), m.ID)
	if got.Status != model.StatusCompleted || got.Result != model.ResultCancelled {
		t.Errorf("expected completed/cancelled, got %s/%s", got.Status, got.Result)
	}

	bets, _ := ms.ListBetsByMatch(context.Background(), m.ID)
	if bets[0].Status != model.BetRefunded || !bets[0].Payout.Equal(d(15)) {
		t.Errorf("cancel should refund the stake, got %s %s", bets[0].Status, bets[0].Payout)
	}

	// Cancellations never touch ratings.
	w, _ := ms.GetAgent(context.Background(), white.ID)
	if w.Rating != rating.InitialRating || w.Wins+w.Losses+w.Draws != 0 {
		t.Errorf("cancel should leave the record untouched: %+v", w)
	}
}

// --- Betting ---

func TestPlaceBet_HTTP(t *testing.T) {
	svc, _, _, router := newTestEnv(t)
	white, black := seedPair(t, svc)
	m, err := svc.CreateMatch(context.Background(), white.ID, black.ID)
	if err != nil {
		t.Fatalf("create match failed: %v", err)
	}

	w := placeBet(t, router, m.ID, "alice", "white", "10")
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var bet model.Bet
	json.Unmarshal(w.Body.Bytes(), &bet)
	if bet.Status != model.BetPending {
		t.Errorf("new bet should be pending, got %s", bet.Status)
	}
	// First bet on an empty pool can only win its own stake back.
	if !bet.PotentialPayout.Equal(d(10)) {
		t.Errorf("expected potential payout 10, got %s", bet.PotentialPayout)
	}

	if w := placeBet(t, router, m.ID, "alice", "black", "5"); w.Code != http.StatusConflict {
		t.Errorf("second bet by the same bettor should 409, got %d", w.Code)
	}
	if w := placeBet(t, router, m.ID, "bob", "yellow", "5"); w.Code != http.StatusBadRequest {
		t.Errorf("invalid side should 400, got %d", w.Code)
	}
	if w := placeBet(t, router, m.ID, "bob", "black", "-5"); w.Code != http.StatusBadRequest {
		t.Errorf("negative stake should 400, got %d", w.Code)
	}
	if w := placeBet(t, router, "no-such-match", "bob", "black", "5"); w.Code != http.StatusNotFound {
		t.Errorf("unknown match should 404, got %d", w.Code)
	}
}

func TestPlaceBet_WindowExpiry(t *testing.T) {
	svc, _, clock, router := newTestEnv(t)
	white, black := seedPair(t, svc)
	m, err := svc.CreateMatch(context.Background(), white.ID, black.ID)
	if err != nil {
		t.Fatalf("create match failed: %v", err)
	}

	clock.Advance(3 * time.Minute)
	if w := placeBet(t, router, m.ID, "alice", "white", "10"); w.Code != http.StatusConflict {
		t.Errorf("expired window should 409, got %d: %s", w.Code, w.Body.String())
	}

	// The rejected bet must not leak into the pools.
	got, _ := svc.AdvanceMatch(context.Background(), m.ID)
	if got.Outcome != arena.OutcomeMoved {
		t.Fatalf("match should go live, got %s", got.Outcome)
	}
	req := httptest.NewRequest("GET", "/api/v1/matches/"+m.ID+"/odds", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	var odds struct {
		PoolTotal decimal.Decimal `json:"pool_total"`
	}
	json.Unmarshal(w.Body.Bytes(), &odds)
	if !odds.PoolTotal.IsZero() {
		t.Errorf("rejected bet leaked into the pool: %s", odds.PoolTotal)
	}
}

func TestDuplicateBet_LeavesPoolsUnchanged(t *testing.T) {
	svc, ms, _, _ := newTestEnv(t)
	white, black := seedPair(t, svc)
	m, err := svc.CreateMatch(context.Background(), white.ID, black.ID)
	if err != nil {
		t.Fatalf("create match failed: %v", err)
	}

	if _, err := svc.PlaceBet(context.Background(), m.ID, "alice", model.SideWhite, d(10)); err != nil {
		t.Fatalf("first bet failed: %v", err)
	}
	if _, err := svc.PlaceBet(context.Background(), m.ID, "alice", model.SideBlack, d(99)); !errors.Is(err, pool.ErrDuplicateBet) {
		t.Fatalf("expected ErrDuplicateBet, got %v", err)
	}

	got, _ := ms.GetMatch(context.Background(), m.ID)
	if !got.PoolTotal.Equal(d(10)) || !got.PoolWhite.Equal(d(10)) || !got.PoolBlack.IsZero() {
		t.Errorf("pools moved on a rejected bet: %s/%s/%s", got.PoolTotal, got.PoolWhite, got.PoolBlack)
	}
}

// --- Matchmaking and pairing ---

func TestCreateMatch_Validation(t *testing.T) {
	svc, _, _, _ := newTestEnv(t)
	white, black := seedPair(t, svc)

	if _, err := svc.CreateMatch(context.Background(), white.ID, white.ID); !errors.Is(err, arena.ErrSameAgent) {
		t.Errorf("expected ErrSameAgent, got %v", err)
	}
	if _, err := svc.CreateMatch(context.Background(), white.ID, "ghost"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if _, err := svc.CreateMatch(context.Background(), white.ID, black.ID); err != nil {
		t.Fatalf("create match failed: %v", err)
	}
	if _, err := svc.CreateMatch(context.Background(), white.ID, black.ID); !errors.Is(err, arena.ErrAgentBusy) {
		t.Errorf("agents already in a match should be busy, got %v", err)
	}
}

func TestFindOpponent_PrefersClosestRating(t *testing.T) {
	svc, ms, _, _ := newTestEnv(t)
	ctx := context.Background()

	seeker, err := svc.RegisterAgent(ctx, "Seeker", model.StyleTactical)
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	near, err := svc.RegisterAgent(ctx, "Near", model.StylePositional)
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	far, err := svc.RegisterAgent(ctx, "Far", model.StyleEndgame)
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	near.Rating = 1550
	far.Rating = 1950
	for _, a := range []*model.Agent{near, far} {
		if err := ms.UpdateAgent(ctx, a); err != nil {
			t.Fatalf("update failed: %v", err)
		}
	}

	m, err := svc.FindOpponent(ctx, seeker.ID)
	if err != nil {
		t.Fatalf("matchmaking failed: %v", err)
	}
	if m.AgentSide(near.ID) == "" {
		t.Errorf("should pair with the closest-rated idle agent, got %s vs %s", m.WhiteAgentID, m.BlackAgentID)
	}
	if m.AgentSide(seeker.ID) == "" {
		t.Error("seeker should be in the match")
	}

	// Both are now busy; the far agent has nobody within any band.
	if _, err := svc.FindOpponent(ctx, seeker.ID); !errors.Is(err, arena.ErrAgentBusy) {
		t.Errorf("busy seeker should be rejected, got %v", err)
	}
	if _, err := svc.FindOpponent(ctx, far.ID); !errors.Is(err, arena.ErrNoOpponent) {
		t.Errorf("expected ErrNoOpponent, got %v", err)
	}
}

// blindActiveStore reports no active match for any agent, standing in
// for the window where two pairings race past the service's pre-check.
type blindActiveStore struct {
	store.Store
}

func (b *blindActiveStore) ActiveMatchForAgent(_ context.Context, agentID string) (*model.Match, error) {
	return nil, store.ErrNotFound
}

func TestCreateMatch_StoreRejectsRacedPairing(t *testing.T) {
	ms := store.NewMemoryStore()
	clock := quartz.NewMock(t)
	svc := arena.NewService(&blindActiveStore{Store: ms}, brain.New(), clock, arena.DefaultConfig(), nil)

	ctx := context.Background()
	white, black := seedPair(t, svc)
	third, err := svc.RegisterAgent(ctx, "Tal-3000", model.StyleTactical)
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	if _, err := svc.CreateMatch(ctx, white.ID, black.ID); err != nil {
		t.Fatalf("first pairing failed: %v", err)
	}
	// The pre-check sees nothing, so the storage uniqueness guard is the
	// last line of defense and must surface as a busy agent.
	if _, err := svc.CreateMatch(ctx, white.ID, third.ID); !errors.Is(err, arena.ErrAgentBusy) {
		t.Errorf("raced pairing should map to ErrAgentBusy, got %v", err)
	}
}

// scriptedRand returns canned Intn values, wrapping around.
type scriptedRand struct {
	ints []int
	i    int
}

func (r *scriptedRand) Float64() float64 { return 0 }

func (r *scriptedRand) Intn(n int) int {
	v := r.ints[r.i%len(r.ints)] % n
	r.i++
	return v
}

func TestFindOpponent_SideAssignmentFollowsRand(t *testing.T) {
	ctx := context.Background()

	for _, tc := range []struct {
		name string
		coin int
	}{
		{"seeker keeps white", 0},
		{"seeker takes black", 1},
	} {
		t.Run(tc.name, func(t *testing.T) {
			svc, _, _, _ := newTestEnv(t)
			svc.WithRand(&scriptedRand{ints: []int{tc.coin}})
			seeker, opp := seedPair(t, svc)

			m, err := svc.FindOpponent(ctx, seeker.ID)
			if err != nil {
				t.Fatalf("matchmaking failed: %v", err)
			}
			wantSide := model.SideWhite
			if tc.coin == 1 {
				wantSide = model.SideBlack
			}
			if got := m.AgentSide(seeker.ID); got != wantSide {
				t.Errorf("seeker side = %s, want %s", got, wantSide)
			}
			if m.AgentSide(opp.ID) == m.AgentSide(seeker.ID) {
				t.Error("both agents on the same side")
			}
		})
	}
}

func TestFindOpponent_ExpandsBands(t *testing.T) {
	svc, ms, _, _ := newTestEnv(t)
	ctx := context.Background()

	seeker, err := svc.RegisterAgent(ctx, "Seeker", model.StyleAggressive)
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	distant, err := svc.RegisterAgent(ctx, "Distant", model.StyleDefensive)
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	distant.Rating = 2100 // 600 away, only the 800 band reaches
	if err := ms.UpdateAgent(ctx, distant); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	m, err := svc.FindOpponent(ctx, seeker.ID)
	if err != nil {
		t.Fatalf("matchmaking should expand to the widest band: %v", err)
	}
	if m.AgentSide(distant.ID) == "" {
		t.Error("distant agent should be paired once bands expand")
	}
}

// --- Training ---

func TestTrainAgent_AppliesXP(t *testing.T) {
	svc, ms, clock, _ := newTestEnv(t)
	white, black := seedPair(t, svc)
	m := seedLiveMatch(t, ms, clock, white, black, foolsMate)

	// Finalize via advance so the match is completed.
	if _, err := svc.AdvanceMatch(context.Background(), m.ID); err != nil {
		t.Fatalf("advance failed: %v", err)
	}

	agent, analyses, err := svc.TrainAgent(context.Background(), black.ID, []string{m.ID, "no-such"}, 0, 0)
	if err == nil {
		t.Fatal("unknown match id in the batch should fail")
	}

	agent, analyses, err = svc.TrainAgent(context.Background(), black.ID, []string{m.ID}, 0, 0)
	if err != nil {
		t.Fatalf("training failed: %v", err)
	}
	if len(analyses) != 1 {
		t.Fatalf("expected one analysis, got %d", len(analyses))
	}
	// Winner with a delivered mate: participation 10 + mate 25 + win 30.
	if analyses[0].XP != 65 {
		t.Errorf("expected 65 XP, got %d", analyses[0].XP)
	}
	if agent.TrainingXP != 65 || agent.TrainingLevel != model.LevelBeginner {
		t.Errorf("XP not applied: %d %s", agent.TrainingXP, agent.TrainingLevel)
	}

	// Incomplete or foreign matches are skipped, not errors.
	other, err := svc.RegisterAgent(context.Background(), "Bystander", model.StyleTactical)
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	_, analyses, err = svc.TrainAgent(context.Background(), other.ID, []string{m.ID}, 0, 0)
	if err != nil {
		t.Fatalf("training failed: %v", err)
	}
	if len(analyses) != 0 {
		t.Errorf("foreign match should be skipped, got %d analyses", len(analyses))
	}
}

// --- Leaderboard ---

func TestListAgents_SortedByRating(t *testing.T) {
	svc, ms, _, router := newTestEnv(t)
	_, black := seedPair(t, svc)
	black.Rating = 1700
	if err := ms.UpdateAgent(context.Background(), black); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	req := httptest.NewRequest("GET", "/api/v1/agents", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp struct {
		Agents []model.Agent `json:"agents"`
		Count  int           `json:"count"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Count != 2 {
		t.Fatalf("expected 2 agents, got %d", resp.Count)
	}
	if resp.Agents[0].ID != black.ID {
		t.Errorf("leaderboard should lead with the highest rating, got %s", resp.Agents[0].Name)
	}
}
