// Package brain turns legal-move candidates into a single chosen move with
// an explanation and a confidence score. It is a pure function over
// (position, agent) — no shared mutable state, safe to call concurrently
// for different matches.
//
// Decision quality is intentionally bounded and personality-driven, not
// optimal: every move is scored by one weighted feature sum, then selection
// is stochastic with the agent's skill factor controlling how often the
// top-ranked move is played.
package brain

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/notnil/chess"

	"github.com/agentchess/arena-engine/internal/model"
)

// ErrNoLegalMoves is returned for terminal positions. Callers should check
// terminal state first, or treat this as game-over.
var ErrNoLegalMoves = errors.New("brain: no legal moves")

// Phase is the opening/middlegame/endgame classification.
type Phase int

const (
	PhaseOpening Phase = iota
	PhaseMiddlegame
	PhaseEndgame
)

func (p Phase) String() string {
	switch p {
	case PhaseOpening:
		return "opening"
	case PhaseMiddlegame:
		return "middlegame"
	}
	return "endgame"
}

// Phase thresholds on non-king, non-pawn piece count. A fresh game has 14.
const (
	openingPieceThreshold    = 10
	middlegamePieceThreshold = 5
)

// Scoring constants. Checkmate dominates everything; the jitter stays small
// relative to every other term so ranking is not noise-driven.
const (
	mateScore = 100000.0

	checkBonus        = 40.0
	checkBonusEndgame = 70.0
	captureUnit       = 12.0
	centerBonus       = 25.0
	castleBonus       = 50.0
	pawnAdvanceUnit   = 25.0
	pawnSeventhBonus  = 40.0
	promotionBonus    = 150.0
	promotionEndgame  = 300.0
	developmentBonus  = 15.0
	jitterMagnitude   = 3.0
)

var pieceValue = map[chess.PieceType]int{
	chess.Pawn:   1,
	chess.Knight: 3,
	chess.Bishop: 3,
	chess.Rook:   5,
	chess.Queen:  9,
}

// Rand is the injectable randomness source for move selection and jitter.
type Rand interface {
	Float64() float64
	Intn(n int) int
}

// NewRand returns a time-seeded Rand safe for concurrent use.
func NewRand() Rand {
	return &lockedRand{r: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// lockedRand guards a math/rand source so one Brain can serve concurrent
// matches.
type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

func (l *lockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}

func (l *lockedRand) Intn(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Intn(n)
}

// Decision is the output of one Decide call.
type Decision struct {
	Move        *chess.Move   `json:"-"`
	UCI         string        `json:"move"`
	SAN         string        `json:"san"`
	Explanation string        `json:"explanation"`
	Confidence  float64       `json:"confidence"` // [0,1]
	Thinking    time.Duration `json:"thinking"`   // synthetic, UX only
	Phase       Phase         `json:"-"`
}

// Brain is the playstyle-driven decision engine.
type Brain struct {
	rand Rand
}

// New creates a Brain with a time-seeded randomness source.
func New() *Brain {
	return &Brain{rand: NewRand()}
}

// NewWithRand creates a Brain with an injected randomness source, used by
// tests to force deterministic selection.
func NewWithRand(r Rand) *Brain {
	return &Brain{rand: r}
}

// ClassifyPhase buckets a position by remaining non-king, non-pawn pieces.
func ClassifyPhase(board *chess.Board) Phase {
	count := 0
	for sq := chess.A1; sq <= chess.H8; sq++ {
		p := board.Piece(sq)
		if p == chess.NoPiece {
			continue
		}
		if p.Type() != chess.King && p.Type() != chess.Pawn {
			count++
		}
	}
	switch {
	case count > openingPieceThreshold:
		return PhaseOpening
	case count > middlegamePieceThreshold:
		return PhaseMiddlegame
	default:
		return PhaseEndgame
	}
}

// SkillFactor blends normalized Elo with training-derived skill into [0,1].
// Higher values sharpen selection toward the top-ranked move.
func SkillFactor(agent *model.Agent) float64 {
	base := float64(agent.Rating) / 2000.0
	if base > 1 {
		base = 1
	}
	if base < 0 {
		base = 0
	}
	trainBonus := (agent.Skills.Average() - 50.0) / 100.0 // ±0.5
	f := 0.7*base + 0.3*(0.5+trainBonus)
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

type scoredMove struct {
	move    *chess.Move
	score   float64
	mate    bool
	reasons []string
}

// Decide picks one move for the side to move. inCheck tells the brain the
// mover is currently in check (the caller knows this from the previous
// move); it only shortens the synthetic thinking time.
func (b *Brain) Decide(pos *chess.Position, agent *model.Agent, inCheck bool) (*Decision, error) {
	moves := pos.ValidMoves()
	if len(moves) == 0 {
		return nil, ErrNoLegalMoves
	}

	tr := TraitsFor(agent.Playstyle)
	phase := ClassifyPhase(pos.Board())

	scored := make([]scoredMove, len(moves))
	for i, mv := range moves {
		scored[i] = b.scoreMove(pos, mv, tr, phase)
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].score > scored[j].score })

	var idx int
	if scored[0].mate {
		// Mate in one is never passed up, whatever the skill factor.
		idx = 0
	} else {
		idx = b.pickIndex(len(scored), SkillFactor(agent))
	}
	chosen := scored[idx]

	d := &Decision{
		Move:        chosen.move,
		UCI:         chosen.move.String(),
		SAN:         chess.AlgebraicNotation{}.Encode(pos, chosen.move),
		Explanation: explain(chosen),
		Confidence:  confidence(scored, idx),
		Thinking:    b.thinking(scored, phase, inCheck),
		Phase:       phase,
	}
	return d, nil
}

// pickIndex samples a rank. Skill sharpens the distribution toward rank 0;
// low skill flattens it into the top-3/top-5/top-10 tails. P(rank 0) is
// strictly non-decreasing in skill.
func (b *Brain) pickIndex(n int, skill float64) int {
	if n == 1 {
		return 0
	}
	topProb := 0.35 + 0.6*skill
	if b.rand.Float64() < topProb {
		return 0
	}
	switch r := b.rand.Float64(); {
	case r < 0.5:
		return b.rand.Intn(min(3, n))
	case r < 0.8:
		return b.rand.Intn(min(5, n))
	default:
		return b.rand.Intn(min(10, n))
	}
}

func (b *Brain) scoreMove(pos *chess.Position, mv *chess.Move, tr Traits, phase Phase) scoredMove {
	board := pos.Board()
	mover := board.Piece(mv.S1())
	sm := scoredMove{move: mv}

	add := func(pts float64, reason string) {
		sm.score += pts
		if reason != "" {
			sm.reasons = append(sm.reasons, reason)
		}
	}

	if mv.HasTag(chess.Check) {
		// Only checking moves can mate; probing just those keeps the
		// position updates cheap.
		if pos.Update(mv).Status() == chess.Checkmate {
			sm.mate = true
			sm.score = mateScore
			sm.reasons = []string{"delivers checkmate"}
			return sm
		}
		bonus := checkBonus
		if phase == PhaseEndgame {
			bonus = checkBonusEndgame
		}
		add(bonus*tr.Check, "gives check")
	}

	if victim, ok := capturedPiece(board, mv); ok {
		vVal := pieceValue[victim]
		factor := 1.0 // losing trade
		if vVal >= pieceValue[mover.Type()] {
			factor = 2.0
		}
		add(float64(vVal)*captureUnit*factor*tr.Capture,
			fmt.Sprintf("captures the %s", pieceName(victim)))
	}

	if phase != PhaseEndgame && isCenter(mv.S2()) {
		add(centerBonus*tr.Center, "controls the center")
	}

	if mv.HasTag(chess.KingSideCastle) || mv.HasTag(chess.QueenSideCastle) {
		add(castleBonus*tr.KingSafety, "castles to safety")
	}

	if mover.Type() == chess.Pawn {
		b.scorePawnAdvance(&sm, mv, mover.Color(), tr, phase)
	}

	if phase == PhaseOpening && isDevelopment(mv, mover) {
		add(developmentBonus, "develops a piece")
	}

	if phase == PhaseEndgame {
		b.scoreEndgame(&sm, board, mv, mover, tr)
	}

	// Small jitter so identical positions do not always resolve the same
	// way; magnitude stays well below every feature bonus.
	sm.score += (b.rand.Float64()*2 - 1) * jitterMagnitude * tr.Risk
	return sm
}

func (b *Brain) scorePawnAdvance(sm *scoredMove, mv *chess.Move, color chess.Color, tr Traits, phase Phase) {
	progress := pawnProgress(mv.S2(), color) // 0 at home rank, 1 at promotion
	sm.score += progress * pawnAdvanceUnit * tr.PawnAdvance

	if mv.Promo() != chess.NoPieceType {
		bonus := promotionBonus
		if phase == PhaseEndgame {
			bonus = promotionEndgame
		}
		sm.score += bonus * tr.PawnAdvance
		sm.reasons = append(sm.reasons, "promotes a pawn")
		return
	}
	if progress >= 5.0/6.0 {
		sm.score += pawnSeventhBonus * tr.PawnAdvance
		sm.reasons = append(sm.reasons, "pushes a pawn to the seventh")
	} else if progress >= 0.5 {
		sm.reasons = append(sm.reasons, "advances a pawn")
	}
}

// scoreEndgame rewards mating-net construction: closing distance to the
// enemy king, cutting it off on a file or rank, driving it to the edge,
// and bringing the own king up in support.
func (b *Brain) scoreEndgame(sm *scoredMove, board *chess.Board, mv *chess.Move, mover chess.Piece, tr Traits) {
	enemyKing, ok := kingSquare(board, mover.Color().Other())
	if !ok {
		return
	}

	switch mover.Type() {
	case chess.Queen, chess.Rook, chess.King:
		before := manhattan(mv.S1(), enemyKing)
		after := manhattan(mv.S2(), enemyKing)
		if after < before {
			sm.score += float64(before-after) * 6 * tr.Attack
			if len(sm.reasons) == 0 {
				sm.reasons = append(sm.reasons, "closes in on the king")
			}
		}
	}

	if mover.Type() == chess.Queen || mover.Type() == chess.Rook {
		if mv.S2().File() == enemyKing.File() || mv.S2().Rank() == enemyKing.Rank() {
			sm.score += 25 * tr.Attack
			sm.reasons = append(sm.reasons, "cuts off the king")
		}
	}

	// Static pressure terms: a cornered enemy king raises every move a
	// little, keeping the mating side from drifting.
	edge := edgeDistance(enemyKing)
	sm.score += float64(3-edge) * 8 * tr.Attack
	if edge == 0 && cornerDistance(enemyKing) <= 2 {
		sm.score += 10 * tr.Attack
	}

	ownKing := mv.S2()
	if mover.Type() != chess.King {
		if sq, ok := kingSquare(board, mover.Color()); ok {
			ownKing = sq
		}
	}
	if manhattan(ownKing, enemyKing) <= 2 {
		sm.score += 20 * tr.Attack
	}
}

// thinking synthesizes a bounded "thinking" latency: longer for close
// decisions and middlegame positions, shorter under check.
func (b *Brain) thinking(scored []scoredMove, phase Phase, inCheck bool) time.Duration {
	think := 900 * time.Millisecond
	if phase == PhaseMiddlegame {
		think += 600 * time.Millisecond
	}
	if len(scored) > 1 && scored[0].score-scored[1].score < 10 {
		think += 800 * time.Millisecond
	}
	if inCheck {
		think /= 2
	}
	think += time.Duration(b.rand.Float64() * float64(500*time.Millisecond))

	if think < 300*time.Millisecond {
		think = 300 * time.Millisecond
	}
	if think > 4*time.Second {
		think = 4 * time.Second
	}
	return think
}

// confidence scales with the chosen move's margin over the scored field.
func confidence(scored []scoredMove, idx int) float64 {
	chosen := scored[idx]
	if chosen.mate {
		return 0.99
	}
	top := scored[0].score
	bottom := scored[len(scored)-1].score
	spread := top - bottom
	if spread <= 0 {
		return 0.5
	}
	c := 0.35 + 0.6*(chosen.score-bottom)/spread
	if c < 0.05 {
		c = 0.05
	}
	if c > 0.99 {
		c = 0.99
	}
	return c
}

func explain(sm scoredMove) string {
	if len(sm.reasons) == 0 {
		return "improves the position"
	}
	if len(sm.reasons) == 1 {
		return sm.reasons[0]
	}
	return strings.Join(sm.reasons[:2], " and ")
}

// --- board helpers ---

func capturedPiece(board *chess.Board, mv *chess.Move) (chess.PieceType, bool) {
	if mv.HasTag(chess.EnPassant) {
		return chess.Pawn, true
	}
	victim := board.Piece(mv.S2())
	if victim == chess.NoPiece {
		return chess.NoPieceType, false
	}
	return victim.Type(), true
}

func isCenter(sq chess.Square) bool {
	return sq == chess.D4 || sq == chess.E4 || sq == chess.D5 || sq == chess.E5
}

// isDevelopment reports a knight or bishop leaving its starting rank.
func isDevelopment(mv *chess.Move, mover chess.Piece) bool {
	if mover.Type() != chess.Knight && mover.Type() != chess.Bishop {
		return false
	}
	if mover.Color() == chess.White {
		return mv.S1().Rank() == chess.Rank1
	}
	return mv.S1().Rank() == chess.Rank8
}

// pawnProgress normalizes advancement toward promotion: 0 at the home
// rank, 1 on the promotion rank.
func pawnProgress(to chess.Square, color chess.Color) float64 {
	if color == chess.White {
		return float64(int(to.Rank())-1) / 6.0
	}
	return float64(6-int(to.Rank())) / 6.0
}

func kingSquare(board *chess.Board, color chess.Color) (chess.Square, bool) {
	for sq := chess.A1; sq <= chess.H8; sq++ {
		p := board.Piece(sq)
		if p != chess.NoPiece && p.Type() == chess.King && p.Color() == color {
			return sq, true
		}
	}
	return chess.A1, false
}

func manhattan(a, b chess.Square) int {
	df := int(a.File()) - int(b.File())
	dr := int(a.Rank()) - int(b.Rank())
	if df < 0 {
		df = -df
	}
	if dr < 0 {
		dr = -dr
	}
	return df + dr
}

// edgeDistance is how far a square sits from the nearest board edge
// (0 on the rim, 3 in the center).
func edgeDistance(sq chess.Square) int {
	f := int(sq.File())
	r := int(sq.Rank())
	d := min(f, 7-f)
	if rd := min(r, 7-r); rd < d {
		d = rd
	}
	return d
}

// cornerDistance is the Chebyshev distance to the nearest corner.
func cornerDistance(sq chess.Square) int {
	f := int(sq.File())
	r := int(sq.Rank())
	df := min(f, 7-f)
	dr := min(r, 7-r)
	if df > dr {
		return df
	}
	return dr
}

func pieceName(t chess.PieceType) string {
	switch t {
	case chess.Pawn:
		return "pawn"
	case chess.Knight:
		return "knight"
	case chess.Bishop:
		return "bishop"
	case chess.Rook:
		return "rook"
	case chess.Queen:
		return "queen"
	}
	return "piece"
}
