package brain_test

import (
	"testing"

	"github.com/agentchess/arena-engine/internal/brain"
	"github.com/agentchess/arena-engine/internal/model"
	"github.com/agentchess/arena-engine/internal/rules"
)

// fixedRand drives selection deterministically: Float64 always below the
// top-pick threshold, Intn always zero.
type fixedRand struct {
	f float64
}

func (r fixedRand) Float64() float64 { return r.f }
func (r fixedRand) Intn(n int) int   { return 0 }

func testAgent(style model.Playstyle, rating int) *model.Agent {
	return &model.Agent{
		ID:        "agent-1",
		Name:      "tester",
		Playstyle: style,
		Rating:    rating,
		Skills:    model.SkillScores{Tactical: 50, Positional: 50, Endgame: 50, Opening: 50},
	}
}

func startGame(t *testing.T) *rules.Game {
	t.Helper()
	g, err := rules.Load(nil)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	return g
}

// --- Decision basics ---

func TestDecide_ReturnsLegalMove(t *testing.T) {
	styles := []model.Playstyle{
		model.StyleAggressive, model.StylePositional, model.StyleDefensive,
		model.StyleTactical, model.StyleEndgame,
	}
	b := brain.New()
	for _, style := range styles {
		g := startGame(t)
		agent := testAgent(style, 1500)

		d, err := b.Decide(g.Position(), agent, false)
		if err != nil {
			t.Fatalf("%s: decide failed: %v", style, err)
		}
		if d.Move == nil || d.UCI == "" || d.SAN == "" {
			t.Fatalf("%s: decision should carry the move in both notations", style)
		}
		if err := g.Apply(d.Move); err != nil {
			t.Errorf("%s: chosen move should be legal: %v", style, err)
		}
		if d.Confidence <= 0 || d.Confidence > 1 {
			t.Errorf("%s: confidence out of range: %f", style, d.Confidence)
		}
		if d.Explanation == "" {
			t.Errorf("%s: every decision carries an explanation", style)
		}
	}
}

func TestDecide_NoLegalMoves(t *testing.T) {
	// Black is checkmated; there is nothing to decide.
	pos, err := rules.PositionFromFEN("rnb1kbnr/pppp1ppp/8/4p3/6Pq/5P2/PPPPP2P/RNBQKBNR w KQkq - 1 3")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	b := brain.New()
	if _, err := b.Decide(pos, testAgent(model.StyleTactical, 1500), true); err != brain.ErrNoLegalMoves {
		t.Errorf("expected ErrNoLegalMoves, got %v", err)
	}
}

func TestDecide_MateInOneNeverPassedUp(t *testing.T) {
	// Scholar's mate position: Qxf7# is available. Even a weak agent with
	// adversarial randomness must play it.
	pos, err := rules.PositionFromFEN("r1bqkb1r/pppp1ppp/2n2n2/4p2Q/2B1P3/8/PPPP1PPP/RNB1K1NR w KQkq - 4 4")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	// Float64 = 0.999 forces the low-probability selection branch.
	b := brain.NewWithRand(fixedRand{f: 0.999})
	agent := testAgent(model.StyleDefensive, 400)
	agent.Skills = model.SkillScores{}

	d, err := b.Decide(pos, agent, false)
	if err != nil {
		t.Fatalf("decide failed: %v", err)
	}
	if d.UCI != "h5f7" {
		t.Errorf("mate in one must be played, got %s", d.UCI)
	}
	if d.Confidence != 0.99 {
		t.Errorf("mate confidence should be 0.99, got %f", d.Confidence)
	}
}

func TestDecide_DeterministicWithForcedRand(t *testing.T) {
	// Float64 = 0 always takes the top-ranked move and zeroes the jitter
	// direction, so repeated decisions agree.
	agent := testAgent(model.StyleAggressive, 1800)

	first, err := brain.NewWithRand(fixedRand{f: 0}).Decide(startGame(t).Position(), agent, false)
	if err != nil {
		t.Fatalf("decide failed: %v", err)
	}
	second, err := brain.NewWithRand(fixedRand{f: 0}).Decide(startGame(t).Position(), agent, false)
	if err != nil {
		t.Fatalf("decide failed: %v", err)
	}
	if first.UCI != second.UCI {
		t.Errorf("forced randomness should be deterministic: %s vs %s", first.UCI, second.UCI)
	}
}

func TestDecide_ThinkingBounded(t *testing.T) {
	b := brain.New()
	g := startGame(t)

	for i := 0; i < 20; i++ {
		d, err := b.Decide(g.Position(), testAgent(model.StylePositional, 1500), i%2 == 0)
		if err != nil {
			t.Fatalf("decide failed: %v", err)
		}
		if d.Thinking < 300e6 || d.Thinking > 4e9 {
			t.Errorf("thinking time out of bounds: %s", d.Thinking)
		}
	}
}

// --- Skill factor ---

func TestSkillFactor_MonotonicInRating(t *testing.T) {
	weak := brain.SkillFactor(testAgent(model.StyleAggressive, 800))
	mid := brain.SkillFactor(testAgent(model.StyleAggressive, 1500))
	strong := brain.SkillFactor(testAgent(model.StyleAggressive, 2200))

	if !(weak < mid && mid < strong) {
		t.Errorf("skill should rise with rating: %f %f %f", weak, mid, strong)
	}
	for _, s := range []float64{weak, mid, strong} {
		if s < 0 || s > 1 {
			t.Errorf("skill factor out of [0,1]: %f", s)
		}
	}
}

func TestDecide_HigherSkillPlaysTopMoveMoreOften(t *testing.T) {
	// A hanging queen dominates the score sheet by hundreds of points, so
	// "plays the top-ranked move" is observable as "takes the queen". The
	// empirical capture rate must rise with the skill factor.
	const fen = "4k3/8/8/3q4/8/8/8/3RK3 w - - 0 1"
	const trials = 300

	captureRate := func(t *testing.T, rating int) int {
		t.Helper()
		b := brain.New()
		agent := testAgent(model.StyleAggressive, rating)
		hits := 0
		for i := 0; i < trials; i++ {
			pos, err := rules.PositionFromFEN(fen)
			if err != nil {
				t.Fatalf("parse failed: %v", err)
			}
			d, err := b.Decide(pos, agent, false)
			if err != nil {
				t.Fatalf("decide failed: %v", err)
			}
			if d.UCI == "d1d5" {
				hits++
			}
		}
		return hits
	}

	weak := captureRate(t, 800)
	strong := captureRate(t, 2200)
	if strong <= weak {
		t.Errorf("skill should raise the top-move rate: weak %d/%d, strong %d/%d",
			weak, trials, strong, trials)
	}
	// Even a weak agent takes the queen more often than not.
	if weak < trials/3 {
		t.Errorf("weak agent takes the queen too rarely: %d/%d", weak, trials)
	}
}

func TestSkillFactor_SkillsContribute(t *testing.T) {
	low := testAgent(model.StyleTactical, 1500)
	low.Skills = model.SkillScores{Tactical: 10, Positional: 10, Endgame: 10, Opening: 10}
	high := testAgent(model.StyleTactical, 1500)
	high.Skills = model.SkillScores{Tactical: 90, Positional: 90, Endgame: 90, Opening: 90}

	if brain.SkillFactor(low) >= brain.SkillFactor(high) {
		t.Error("higher skill scores should raise the skill factor")
	}
}

// --- Phase classification ---

func TestClassifyPhase(t *testing.T) {
	cases := []struct {
		name string
		fen  string
		want brain.Phase
	}{
		{"start position", rules.StartFEN, brain.PhaseOpening},
		// Queens and both bishop pairs traded: 8 pieces left.
		{"middlegame", "r3k2r/pppp1ppp/2n2n2/4p3/4P3/2N2N2/PPPP1PPP/R3K2R w KQkq - 0 10", brain.PhaseMiddlegame},
		{"king and pawns", "8/4k3/8/8/8/8/4P3/4K3 w - - 0 1", brain.PhaseEndgame},
		{"rook endgame", "8/4k3/8/8/8/8/4P3/R3K3 w - - 0 1", brain.PhaseEndgame},
	}
	for _, c := range cases {
		pos, err := rules.PositionFromFEN(c.fen)
		if err != nil {
			t.Fatalf("%s: parse failed: %v", c.name, err)
		}
		if got := brain.ClassifyPhase(pos.Board()); got != c.want {
			t.Errorf("%s: expected %s, got %s", c.name, c.want, got)
		}
	}
}

// --- Traits ---

func TestTraitsFor_DistinguishesStyles(t *testing.T) {
	agg := brain.TraitsFor(model.StyleAggressive)
	def := brain.TraitsFor(model.StyleDefensive)

	if agg.Attack <= def.Attack {
		t.Error("aggressive agents should weight attack above defensive ones")
	}
	if def.KingSafety <= agg.KingSafety {
		t.Error("defensive agents should weight king safety above aggressive ones")
	}

	// Unknown styles fall back to neutral weights rather than zeroes.
	if n := brain.TraitsFor("unknown"); n.Capture == 0 {
		t.Error("unknown style should get neutral traits")
	}
}
