package shgat

import (
	"math"
	"math/rand"

	"github.com/shgat/runtime/blas"
	"github.com/shgat/runtime/messagepassing"
)

// initLogit returns logit(p). InitParams seeds V→V's residual mix with
// initLogit(0.3) so the phase begins mostly passthrough with a modest
// co-occurrence nudge (§4.3 "Adaptive init").
func initLogit(p float64) float64 { return math.Log(p / (1 - p)) }

// InitParams deterministically constructs a fresh parameter set for the
// given dimensionality, max level, and adaptive head config, seeded by
// rngSeed so two calls with identical inputs produce bit-identical
// params — required for property 10's round-trip check and for tests
// that compare pre/post reinit behavior.
func InitParams(d, maxLevel int, heads HeadConfig, rngSeed int64) *Params {
	rng := rand.New(rand.NewSource(rngSeed))

	p := &Params{
		Up:         make(map[int][]messagepassing.HeadParams, maxLevel),
		Down:       make(map[int][]messagepassing.HeadParams, maxLevel),
		V2V:        messagepassing.V2VParams{ResidualLogit: initLogit(0.3), TemperatureLogit: 0},
		Heads:      heads,
		D:          d,
		MaxLevel:   maxLevel,
		ScoringDim: heads.HeadDim,
	}

	p.V0 = initHeadLevel(rng, heads, d)
	var k int
	for k = 1; k <= maxLevel; k++ {
		p.Up[k] = initHeadLevel(rng, heads, d)
		p.Down[k] = initHeadLevel(rng, heads, d)
	}

	p.WIntent = xavier(rng, heads.HiddenDim, d)
	p.Scoring = make([]HeadScoring, heads.Heads)
	var i int
	for i = 0; i < heads.Heads; i++ {
		p.Scoring[i] = HeadScoring{
			WQ: xavier(rng, p.ScoringDim, heads.HiddenDim),
			WK: xavier(rng, p.ScoringDim, d),
		}
	}

	return p
}

func initHeadLevel(rng *rand.Rand, heads HeadConfig, d int) []messagepassing.HeadParams {
	out := make([]messagepassing.HeadParams, heads.Heads)
	var i int
	for i = 0; i < heads.Heads; i++ {
		out[i] = messagepassing.HeadParams{
			WChild:    xavier(rng, heads.HeadDim, d),
			WParent:   xavier(rng, heads.HeadDim, d),
			AUpward:   smallUniform(rng, 2*heads.HeadDim),
			ADownward: smallUniform(rng, 2*heads.HeadDim),
		}
	}

	return out
}

// xavier fills a rows x cols matrix with Glorot-uniform values in
// ±sqrt(6/(rows+cols)).
func xavier(rng *rand.Rand, rows, cols int) *blas.Dense {
	m, _ := blas.NewDense(rows, cols)
	bound := math.Sqrt(6.0 / float64(rows+cols))
	var i, j int
	for i = 0; i < rows; i++ {
		for j = 0; j < cols; j++ {
			_ = m.Set(i, j, (rng.Float64()*2-1)*bound)
		}
	}

	return m
}

// smallUniform fills a length-n vector with small uniform values, used for
// the attention vectors a_upward/a_downward (§4.3: "small uniform for
// attention vectors").
func smallUniform(rng *rand.Rand, n int) []float64 {
	const bound = 0.1
	out := make([]float64, n)
	var i int
	for i = range out {
		out[i] = (rng.Float64()*2 - 1) * bound
	}

	return out
}
