// Package shgat implements the SuperHyperGraph Attention Network: a
// K-head scorer over capability embeddings propagated by messagepassing,
// its InfoNCE contrastive trainer, and parameter export/import for hot
// swap (§4.3). Scoring is deterministic given params and frozen
// embeddings; training is stochastic only in negative sampling and
// example order, both seedable.
package shgat

import (
	"errors"

	"github.com/shgat/runtime/blas"
	"github.com/shgat/runtime/messagepassing"
)

// SchemaVersion is bumped whenever ExportParams' JSON shape changes
// incompatibly; ImportParams rejects any other version (§7 ParamSchemaMismatch,
// §12 "Parameter store schema versioning").
const SchemaVersion = 1

// ErrParamSchemaMismatch is returned by ImportParams when the blob's
// schema version doesn't match SchemaVersion; the in-memory params are
// left untouched (§7).
var ErrParamSchemaMismatch = errors.New("shgat: parameter schema mismatch")

// ErrShapeMismatch is returned by ImportParams when the blob's d differs
// from the expected d, and by Model.SwapParams when p.D differs from the
// model's d. The shapes of individual tensors are not compared against d.
var ErrShapeMismatch = errors.New("shgat: parameter shape mismatch")

// HeadScoring holds one scoring head's query/key projections.
type HeadScoring struct {
	WQ *blas.Dense // scoringDim x hiddenDim
	WK *blas.Dense // scoringDim x d
}

// Params is every learnable tensor in the model (§3 "SHGAT parameters").
type Params struct {
	// V0 holds the level-0 V→E head parameters.
	V0 []messagepassing.HeadParams
	// Up[k] / Down[k] hold level k's E→E upward/downward head parameters, k in 1..MaxLevel.
	Up   map[int][]messagepassing.HeadParams
	Down map[int][]messagepassing.HeadParams

	// V2V holds the two V→V scalars; always populated even if the phase
	// is gated off at forward time by hypergraph density.
	V2V messagepassing.V2VParams

	WIntent *blas.Dense // hiddenDim x d
	Scoring []HeadScoring

	Heads     HeadConfig
	D         int
	MaxLevel  int
	ScoringDim int
}

// Clone deep-copies every tensor so callers can mutate a copy (e.g. inside
// a training subprocess) without aliasing the parent's live params.
func (p *Params) Clone() *Params {
	out := &Params{
		Up:        make(map[int][]messagepassing.HeadParams, len(p.Up)),
		Down:      make(map[int][]messagepassing.HeadParams, len(p.Down)),
		V2V:       p.V2V,
		WIntent:   p.WIntent.Clone(),
		Heads:     p.Heads,
		D:         p.D,
		MaxLevel:  p.MaxLevel,
		ScoringDim: p.ScoringDim,
	}
	out.V0 = cloneHeads(p.V0)
	var k int
	var hs []messagepassing.HeadParams
	for k, hs = range p.Up {
		out.Up[k] = cloneHeads(hs)
	}
	for k, hs = range p.Down {
		out.Down[k] = cloneHeads(hs)
	}
	out.Scoring = make([]HeadScoring, len(p.Scoring))
	var i int
	for i = range p.Scoring {
		out.Scoring[i] = HeadScoring{WQ: p.Scoring[i].WQ.Clone(), WK: p.Scoring[i].WK.Clone()}
	}

	return out
}

func cloneHeads(hs []messagepassing.HeadParams) []messagepassing.HeadParams {
	out := make([]messagepassing.HeadParams, len(hs))
	var i int
	for i = range hs {
		out[i] = messagepassing.HeadParams{
			WChild:    hs[i].WChild.Clone(),
			WParent:   hs[i].WParent.Clone(),
			AUpward:   append([]float64(nil), hs[i].AUpward...),
			ADownward: append([]float64(nil), hs[i].ADownward...),
		}
	}

	return out
}
