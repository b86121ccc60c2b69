package messagepassing

import (
	"math"

	"github.com/shgat/runtime/blas"
)

// HeadParams holds one attention head's learnable weights at a single level
// (or, for V→V, the single global head-independent projection is not used —
// V→V has its own scalar params below).
type HeadParams struct {
	WChild    *blas.Dense // headDim x d
	WParent   *blas.Dense // headDim x d
	AUpward   []float64   // length 2*headDim
	ADownward []float64   // length 2*headDim
}

// LevelParams holds every head's parameters for one level's V→E / E→E phases.
type LevelParams struct {
	Heads []HeadParams
}

// V2VParams holds the two learnable scalars of the V→V phase. Exported in
// logit/log space so any real value is valid and Xavier-style small-uniform
// init never produces an invalid β or T (§4.3 adaptive init).
type V2VParams struct {
	ResidualLogit    float64
	TemperatureLogit float64
}

// Beta returns σ(ResidualLogit), the residual-mix weight in (0,1).
func (p V2VParams) Beta() float64 { return 1 / (1 + math.Exp(-p.ResidualLogit)) }

// Temperature returns exp(TemperatureLogit), always positive.
func (p V2VParams) Temperature() float64 { return math.Exp(p.TemperatureLogit) }

// projectHead computes W·x via the shared blas engine, creating a default
// engine if engine is nil (unit tests that don't care about dispatch).
func projectHead(engine *blas.Engine, w *blas.Dense, x []float64) []float64 {
	out := make([]float64, w.Rows())
	if engine == nil {
		engine = blas.NewEngine()
	}
	_ = engine.GEMV(w, x, out)

	return out
}

// projectHeadTransposeAdd accumulates Wᵀ·g into dst (used by backward to
// push a headDim-sized gradient back through a W projection into a
// d-sized input gradient).
func projectHeadTransposeAdd(dst []float64, w *blas.Dense, g []float64) {
	var i, j int
	for i = 0; i < w.Rows(); i++ {
		for j = 0; j < w.Cols(); j++ {
			v, _ := w.At(i, j)
			dst[j] += v * g[i]
		}
	}
}

// outerAddInto accumulates the outer product g⊗x into dW (dW[i][j] += g[i]*x[j]).
func outerAddInto(dW *blas.Dense, g, x []float64) {
	var i, j int
	for i = 0; i < dW.Rows(); i++ {
		for j = 0; j < dW.Cols(); j++ {
			cur, _ := dW.At(i, j)
			_ = dW.Set(i, j, cur+g[i]*x[j])
		}
	}
}
