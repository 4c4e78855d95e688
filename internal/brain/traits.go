package brain

import "github.com/agentchess/arena-engine/internal/model"

// Traits are the per-playstyle scoring weights. One table, one scoring
// function — every playstyle runs through the same feature evaluation and
// differs only in these multipliers.
type Traits struct {
	Attack      float64 // mating-net and king-hunt terms
	Capture     float64 // material-gain terms
	Check       float64 // checking-move bonus
	Center      float64 // central square occupation
	KingSafety  float64 // castling bonus
	PawnAdvance float64 // pawn pushes toward promotion
	Risk        float64 // scales the random jitter (personality variance)
}

var traitTable = map[model.Playstyle]Traits{
	model.StyleAggressive: {Attack: 1.5, Capture: 1.4, Check: 1.3, Center: 0.8, KingSafety: 0.5, PawnAdvance: 1.0, Risk: 1.4},
	model.StylePositional: {Attack: 0.8, Capture: 0.9, Check: 0.7, Center: 1.5, KingSafety: 1.2, PawnAdvance: 1.1, Risk: 0.7},
	model.StyleDefensive:  {Attack: 0.6, Capture: 0.8, Check: 0.6, Center: 1.0, KingSafety: 1.6, PawnAdvance: 0.8, Risk: 0.5},
	model.StyleTactical:   {Attack: 1.2, Capture: 1.5, Check: 1.2, Center: 1.0, KingSafety: 0.8, PawnAdvance: 0.9, Risk: 1.2},
	model.StyleEndgame:    {Attack: 0.9, Capture: 1.0, Check: 1.0, Center: 0.7, KingSafety: 1.0, PawnAdvance: 1.6, Risk: 0.8},
}

var neutralTraits = Traits{Attack: 1, Capture: 1, Check: 1, Center: 1, KingSafety: 1, PawnAdvance: 1, Risk: 1}

// TraitsFor returns the weight set for a playstyle. Unknown playstyles
// get neutral weights rather than failing mid-game.
func TraitsFor(p model.Playstyle) Traits {
	if t, ok := traitTable[p]; ok {
		return t
	}
	return neutralTraits
}
