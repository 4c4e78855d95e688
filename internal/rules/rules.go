// Package rules adapts the notnil/chess rules engine for the arena.
// It owns legal-move generation, move application, and terminal-state
// classification. A game is rebuilt from the persisted move history on
// every invocation — nothing survives in process memory across calls, so
// traffic for one match may hit any instance.
package rules

import (
	"errors"
	"fmt"

	"github.com/notnil/chess"

	"github.com/agentchess/arena-engine/internal/model"
)

// StartFEN is the standard initial position.
const StartFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

// ErrIllegalMove is returned when a move is not legal in the current position.
var ErrIllegalMove = errors.New("rules: illegal move")

// Outcome classifies a terminal position.
type Outcome struct {
	Result model.Result
	Reason string
}

// Game wraps a notnil/chess game reconstructed from persisted state.
type Game struct {
	g *chess.Game
}

// NewGame starts a game from the standard initial position.
func NewGame() *Game {
	return &Game{g: chess.NewGame(chess.UseNotation(chess.UCINotation{}))}
}

// Load replays a game from the standard start through the given UCI moves.
// A decode or application failure means the stored history is corrupt.
func Load(uciMoves []string) (*Game, error) {
	g := NewGame()
	for i, uci := range uciMoves {
		mv, err := chess.UCINotation{}.Decode(g.g.Position(), uci)
		if err != nil {
			return nil, fmt.Errorf("rules: decode move %d (%s): %w", i+1, uci, err)
		}
		if err := g.g.Move(mv); err != nil {
			return nil, fmt.Errorf("rules: replay move %d (%s): %w", i+1, uci, err)
		}
	}
	return g, nil
}

// FEN returns the current position.
func (g *Game) FEN() string {
	return g.g.Position().String()
}

// Position returns the current position for read-only evaluation.
func (g *Game) Position() *chess.Position {
	return g.g.Position()
}

// Turn returns the side to move.
func (g *Game) Turn() model.Side {
	if g.g.Position().Turn() == chess.White {
		return model.SideWhite
	}
	return model.SideBlack
}

// LegalMoves returns every legal move in the current position.
func (g *Game) LegalMoves() []*chess.Move {
	return g.g.ValidMoves()
}

// Apply plays a move. The move must come from LegalMoves.
func (g *Game) Apply(mv *chess.Move) error {
	if err := g.g.Move(mv); err != nil {
		return fmt.Errorf("%w: %s", ErrIllegalMove, mv)
	}
	return nil
}

// SAN encodes a move in standard algebraic notation against the current
// position. Call before Apply.
func (g *Game) SAN(mv *chess.Move) string {
	return chess.AlgebraicNotation{}.Encode(g.g.Position(), mv)
}

// Terminal classifies the current position, claiming threefold-repetition
// and fifty-move draws on the agents' behalf (unattended play has nobody
// to decline a claimable draw). Classification priority: checkmate,
// stalemate, repetition, insufficient material, fifty-move, generic draw.
func (g *Game) Terminal() (Outcome, bool) {
	pos := g.g.Position()
	switch pos.Status() {
	case chess.Checkmate:
		// The side to move is the side that got mated.
		if pos.Turn() == chess.White {
			return Outcome{Result: model.ResultBlackWin, Reason: model.ReasonCheckmate}, true
		}
		return Outcome{Result: model.ResultWhiteWin, Reason: model.ReasonCheckmate}, true
	case chess.Stalemate:
		return Outcome{Result: model.ResultDraw, Reason: model.ReasonStalemate}, true
	}

	if g.claimDraw(chess.ThreefoldRepetition) {
		return Outcome{Result: model.ResultDraw, Reason: model.ReasonThreefoldRepetition}, true
	}

	if g.g.Outcome() != chess.NoOutcome {
		// Automatic draws the engine declares itself.
		switch g.g.Method() {
		case chess.InsufficientMaterial:
			return Outcome{Result: model.ResultDraw, Reason: model.ReasonInsufficientMaterial}, true
		case chess.FivefoldRepetition:
			return Outcome{Result: model.ResultDraw, Reason: model.ReasonThreefoldRepetition}, true
		case chess.SeventyFiveMoveRule:
			return Outcome{Result: model.ResultDraw, Reason: model.ReasonFiftyMoveRule}, true
		}
		return Outcome{Result: model.ResultDraw, Reason: model.ReasonDraw}, true
	}

	if g.claimDraw(chess.FiftyMoveRule) {
		return Outcome{Result: model.ResultDraw, Reason: model.ReasonFiftyMoveRule}, true
	}

	return Outcome{}, false
}

func (g *Game) claimDraw(method chess.Method) bool {
	for _, m := range g.g.EligibleDraws() {
		if m == method {
			// Claim errors are impossible for a method EligibleDraws returned.
			_ = g.g.Draw(method)
			return true
		}
	}
	return false
}

// PositionFromFEN parses a standalone position for analysis endpoints.
// Repetition and fifty-move context is lost; only the position itself is
// evaluated.
func PositionFromFEN(fen string) (*chess.Position, error) {
	opt, err := chess.FEN(fen)
	if err != nil {
		return nil, fmt.Errorf("rules: parse fen: %w", err)
	}
	return chess.NewGame(opt).Position(), nil
}

// UCIMoves extracts the UCI move strings from a match's history for Load.
func UCIMoves(history []model.MoveRecord) []string {
	moves := make([]string, len(history))
	for i, rec := range history {
		moves[i] = rec.Move
	}
	return moves
}
