package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/agentchess/arena-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Monetary values are stored as NUMERIC for exact decimal precision; move
// history is a JSONB document owned exclusively by its match row.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the schema if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS agents (
			id               TEXT PRIMARY KEY,
			name             TEXT NOT NULL UNIQUE,
			playstyle        TEXT NOT NULL,
			rating           INT NOT NULL,
			wins             INT NOT NULL DEFAULT 0,
			losses           INT NOT NULL DEFAULT 0,
			draws            INT NOT NULL DEFAULT 0,
			streak           INT NOT NULL DEFAULT 0,
			best_streak      INT NOT NULL DEFAULT 0,
			reputation       INT NOT NULL,
			training_level   TEXT NOT NULL,
			training_xp      INT NOT NULL DEFAULT 0,
			skill_tactical   INT NOT NULL DEFAULT 50,
			skill_positional INT NOT NULL DEFAULT 50,
			skill_endgame    INT NOT NULL DEFAULT 50,
			skill_opening    INT NOT NULL DEFAULT 50,
			strengths        TEXT[] NOT NULL DEFAULT '{}',
			weaknesses       TEXT[] NOT NULL DEFAULT '{}',
			created_at       TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS matches (
			id              TEXT PRIMARY KEY,
			white_agent_id  TEXT NOT NULL REFERENCES agents(id),
			black_agent_id  TEXT NOT NULL REFERENCES agents(id),
			status          TEXT NOT NULL,
			position        TEXT NOT NULL,
			history         JSONB NOT NULL DEFAULT '[]',
			move_count      INT NOT NULL DEFAULT 0,
			pool_total      NUMERIC NOT NULL DEFAULT 0,
			pool_white      NUMERIC NOT NULL DEFAULT 0,
			pool_black      NUMERIC NOT NULL DEFAULT 0,
			betting_ends_at TIMESTAMPTZ NOT NULL,
			started_at      TIMESTAMPTZ,
			completed_at    TIMESTAMPTZ,
			result          TEXT,
			reason          TEXT,
			settled         BOOLEAN NOT NULL DEFAULT FALSE,
			created_at      TIMESTAMPTZ NOT NULL
		);
		CREATE UNIQUE INDEX IF NOT EXISTS matches_white_active
			ON matches (white_agent_id) WHERE status != 'completed';
		CREATE UNIQUE INDEX IF NOT EXISTS matches_black_active
			ON matches (black_agent_id) WHERE status != 'completed';
		CREATE TABLE IF NOT EXISTS bets (
			id               TEXT PRIMARY KEY,
			match_id         TEXT NOT NULL REFERENCES matches(id),
			bettor_id        TEXT NOT NULL,
			side             TEXT NOT NULL,
			stake            NUMERIC NOT NULL,
			potential_payout NUMERIC NOT NULL,
			payout           NUMERIC NOT NULL DEFAULT 0,
			status           TEXT NOT NULL,
			placed_at        TIMESTAMPTZ NOT NULL,
			UNIQUE (match_id, bettor_id)
		);
	`)
	return err
}

func mapPgErr(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrDuplicate, what)
	}
	return fmt.Errorf("%s: %w", what, err)
}

// --- Agents ---

const agentColumns = `id, name, playstyle, rating, wins, losses, draws, streak, best_streak,
	reputation, training_level, training_xp,
	skill_tactical, skill_positional, skill_endgame, skill_opening,
	strengths, weaknesses, created_at`

func scanAgent(row pgx.Row) (*model.Agent, error) {
	var a model.Agent
	err := row.Scan(&a.ID, &a.Name, &a.Playstyle, &a.Rating, &a.Wins, &a.Losses, &a.Draws,
		&a.Streak, &a.BestStreak, &a.Reputation, &a.TrainingLevel, &a.TrainingXP,
		&a.Skills.Tactical, &a.Skills.Positional, &a.Skills.Endgame, &a.Skills.Opening,
		&a.Strengths, &a.Weaknesses, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *PostgresStore) CreateAgent(ctx context.Context, a *model.Agent) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO agents (`+agentColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
		a.ID, a.Name, a.Playstyle, a.Rating, a.Wins, a.Losses, a.Draws, a.Streak, a.BestStreak,
		a.Reputation, a.TrainingLevel, a.TrainingXP,
		a.Skills.Tactical, a.Skills.Positional, a.Skills.Endgame, a.Skills.Opening,
		a.Strengths, a.Weaknesses, a.CreatedAt)
	return mapPgErr(err, "create agent "+a.Name)
}

func (s *PostgresStore) GetAgent(ctx context.Context, id string) (*model.Agent, error) {
	a, err := scanAgent(s.pool.QueryRow(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE id = $1`, id))
	if err != nil {
		return nil, mapPgErr(err, "agent "+id)
	}
	return a, nil
}

func (s *PostgresStore) GetAgentByName(ctx context.Context, name string) (*model.Agent, error) {
	a, err := scanAgent(s.pool.QueryRow(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE name = $1`, name))
	if err != nil {
		return nil, mapPgErr(err, "agent named "+name)
	}
	return a, nil
}

func (s *PostgresStore) ListAgents(ctx context.Context) ([]model.Agent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+agentColumns+` FROM agents ORDER BY rating DESC, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var agents []model.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, *a)
	}
	return agents, rows.Err()
}

func (s *PostgresStore) UpdateAgent(ctx context.Context, a *model.Agent) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE agents SET rating=$2, wins=$3, losses=$4, draws=$5, streak=$6, best_streak=$7,
		        reputation=$8, training_level=$9, training_xp=$10,
		        skill_tactical=$11, skill_positional=$12, skill_endgame=$13, skill_opening=$14
		 WHERE id = $1`,
		a.ID, a.Rating, a.Wins, a.Losses, a.Draws, a.Streak, a.BestStreak,
		a.Reputation, a.TrainingLevel, a.TrainingXP,
		a.Skills.Tactical, a.Skills.Positional, a.Skills.Endgame, a.Skills.Opening)
	if err != nil {
		return mapPgErr(err, "update agent "+a.ID)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: agent %s", ErrNotFound, a.ID)
	}
	return nil
}

// --- Matches ---

const matchColumns = `id, white_agent_id, black_agent_id, status, position, history, move_count,
	pool_total::TEXT, pool_white::TEXT, pool_black::TEXT,
	betting_ends_at, started_at, completed_at,
	COALESCE(result, ''), COALESCE(reason, ''), settled, created_at`

func scanMatch(row pgx.Row) (*model.Match, error) {
	var m model.Match
	var history []byte
	var total, white, black string
	err := row.Scan(&m.ID, &m.WhiteAgentID, &m.BlackAgentID, &m.Status, &m.Position,
		&history, &m.MoveCount, &total, &white, &black,
		&m.BettingEndsAt, &m.StartedAt, &m.CompletedAt, &m.Result, &m.Reason, &m.Settled, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(history, &m.History); err != nil {
		return nil, fmt.Errorf("decode history for match %s: %w", m.ID, err)
	}
	m.PoolTotal, _ = decimal.NewFromString(total)
	m.PoolWhite, _ = decimal.NewFromString(white)
	m.PoolBlack, _ = decimal.NewFromString(black)
	return &m, nil
}

func (s *PostgresStore) CreateMatch(ctx context.Context, m *model.Match) error {
	history, err := json.Marshal(m.History)
	if err != nil {
		return err
	}
	if len(m.History) == 0 {
		history = []byte("[]")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO matches (id, white_agent_id, black_agent_id, status, position, history,
		        move_count, pool_total, pool_white, pool_black, betting_ends_at, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8::NUMERIC,$9::NUMERIC,$10::NUMERIC,$11,$12)`,
		m.ID, m.WhiteAgentID, m.BlackAgentID, m.Status, m.Position, history,
		m.MoveCount, m.PoolTotal.String(), m.PoolWhite.String(), m.PoolBlack.String(),
		m.BettingEndsAt, m.CreatedAt)
	return mapPgErr(err, "create match "+m.ID)
}

func (s *PostgresStore) GetMatch(ctx context.Context, id string) (*model.Match, error) {
	m, err := scanMatch(s.pool.QueryRow(ctx,
		`SELECT `+matchColumns+` FROM matches WHERE id = $1`, id))
	if err != nil {
		return nil, mapPgErr(err, "match "+id)
	}
	return m, nil
}

func (s *PostgresStore) ListMatches(ctx context.Context, status model.MatchStatus) ([]model.Match, error) {
	query := `SELECT ` + matchColumns + ` FROM matches`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []model.Match
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, err
		}
		matches = append(matches, *m)
	}
	return matches, rows.Err()
}

func (s *PostgresStore) ActiveMatchForAgent(ctx context.Context, agentID string) (*model.Match, error) {
	m, err := scanMatch(s.pool.QueryRow(ctx,
		`SELECT `+matchColumns+` FROM matches
		 WHERE status != 'completed' AND (white_agent_id = $1 OR black_agent_id = $1)
		 LIMIT 1`, agentID))
	if err != nil {
		return nil, mapPgErr(err, "active match for agent "+agentID)
	}
	return m, nil
}

func (s *PostgresStore) StartMatch(ctx context.Context, id string, startedAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE matches SET status = 'live', started_at = $2
		 WHERE id = $1 AND status = 'betting'`, id, startedAt)
	if err != nil {
		return mapPgErr(err, "start match "+id)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: match %s not in betting phase", ErrNotFound, id)
	}
	return nil
}

func (s *PostgresStore) AppendMove(ctx context.Context, matchID string, rec model.MoveRecord, newFEN string) error {
	entry, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	// Completed matches are immutable at the storage boundary.
	tag, err := s.pool.Exec(ctx,
		`UPDATE matches
		 SET history = history || $2::jsonb, position = $3, move_count = move_count + 1
		 WHERE id = $1 AND status = 'live'`,
		matchID, entry, newFEN)
	if err != nil {
		return mapPgErr(err, "append move to match "+matchID)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: match %s not live", ErrNotFound, matchID)
	}
	return nil
}

func (s *PostgresStore) UpdatePools(ctx context.Context, matchID string, total, white, black decimal.Decimal) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE matches SET pool_total = $2::NUMERIC, pool_white = $3::NUMERIC, pool_black = $4::NUMERIC
		 WHERE id = $1`, matchID, total.String(), white.String(), black.String())
	if err != nil {
		return mapPgErr(err, "update pools for match "+matchID)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: match %s", ErrNotFound, matchID)
	}
	return nil
}

func (s *PostgresStore) FinalizeMatch(ctx context.Context, id string, result model.Result, reason string, completedAt time.Time) error {
	// The status guard makes a raced double-finalize a no-op: the first
	// writer wins, the second updates zero rows.
	_, err := s.pool.Exec(ctx,
		`UPDATE matches SET status = 'completed', result = $2, reason = $3, completed_at = $4
		 WHERE id = $1 AND status != 'completed'`,
		id, result, reason, completedAt)
	return mapPgErr(err, "finalize match "+id)
}

func (s *PostgresStore) MarkSettled(ctx context.Context, matchID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE matches SET settled = TRUE WHERE id = $1`, matchID)
	if err != nil {
		return mapPgErr(err, "mark match settled "+matchID)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: match %s", ErrNotFound, matchID)
	}
	return nil
}

// --- Bets ---

const betColumns = `id, match_id, bettor_id, side, stake::TEXT, potential_payout::TEXT, payout::TEXT, status, placed_at`

func scanBet(row pgx.Row) (*model.Bet, error) {
	var b model.Bet
	var stake, potential, payout string
	err := row.Scan(&b.ID, &b.MatchID, &b.BettorID, &b.Side, &stake, &potential, &payout,
		&b.Status, &b.PlacedAt)
	if err != nil {
		return nil, err
	}
	b.Stake, _ = decimal.NewFromString(stake)
	b.PotentialPayout, _ = decimal.NewFromString(potential)
	b.Payout, _ = decimal.NewFromString(payout)
	return &b, nil
}

func (s *PostgresStore) CreateBet(ctx context.Context, b *model.Bet) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO bets (id, match_id, bettor_id, side, stake, potential_payout, payout, status, placed_at)
		 VALUES ($1,$2,$3,$4,$5::NUMERIC,$6::NUMERIC,$7::NUMERIC,$8,$9)`,
		b.ID, b.MatchID, b.BettorID, b.Side,
		b.Stake.String(), b.PotentialPayout.String(), b.Payout.String(),
		b.Status, b.PlacedAt)
	return mapPgErr(err, "create bet on match "+b.MatchID)
}

func (s *PostgresStore) ListBetsByMatch(ctx context.Context, matchID string) ([]model.Bet, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+betColumns+` FROM bets WHERE match_id = $1 ORDER BY placed_at`, matchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bets []model.Bet
	for rows.Next() {
		b, err := scanBet(rows)
		if err != nil {
			return nil, err
		}
		bets = append(bets, *b)
	}
	return bets, rows.Err()
}

func (s *PostgresStore) SettleBet(ctx context.Context, betID string, status model.BetStatus, payout decimal.Decimal) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE bets SET status = $2, payout = $3::NUMERIC WHERE id = $1`,
		betID, status, payout.String())
	if err != nil {
		return mapPgErr(err, "settle bet "+betID)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: bet %s", ErrNotFound, betID)
	}
	return nil
}
