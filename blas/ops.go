package blas

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// DefaultThreshold is the inner dimension at or above which GEMM/GEMV
// dispatch to gonum instead of the pure-Go loop, chosen per SPEC_FULL.md §12
// to make both code paths exercisable deterministically in tests.
const DefaultThreshold = 64

// Engine dispatches matrix products to gonum above Threshold and to a
// pure-Go fallback below it (or always, via ForceFallback). The fallback is
// also what runs when gonum panics on a degenerate shape it doesn't like —
// BLAS unavailability degrades to the scalar path per the error taxonomy,
// it never aborts the caller.
type Engine struct {
	Threshold     int
	ForceFallback bool
}

// NewEngine returns an Engine with DefaultThreshold and gonum dispatch enabled.
func NewEngine() *Engine {
	return &Engine{Threshold: DefaultThreshold}
}

// GEMM computes C = A·B. A is m×k, B is k×n, C is m×n and must be
// pre-allocated by the caller (NewDense(m, n)).
func (e *Engine) GEMM(a, b, c *Dense) error {
	if a.Cols() != b.Rows() {
		return fmt.Errorf("blas.Engine.GEMM: %w: a is %dx%d, b is %dx%d", ErrShapeMismatch, a.Rows(), a.Cols(), b.Rows(), b.Cols())
	}
	if c.Rows() != a.Rows() || c.Cols() != b.Cols() {
		return fmt.Errorf("blas.Engine.GEMM: %w: c is %dx%d, want %dx%d", ErrShapeMismatch, c.Rows(), c.Cols(), a.Rows(), b.Cols())
	}

	if !e.ForceFallback && a.Cols() >= e.Threshold {
		return e.gemmGonum(a, b, c)
	}

	return gemmFallback(a, b, c)
}

func (e *Engine) gemmGonum(a, b, c *Dense) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = gemmFallback(a, b, c)
		}
	}()

	ma := mat.NewDense(a.Rows(), a.Cols(), a.RawRowMajor())
	mb := mat.NewDense(b.Rows(), b.Cols(), b.RawRowMajor())
	mc := mat.NewDense(c.Rows(), c.Cols(), nil)
	mc.Mul(ma, mb)
	copy(c.RawRowMajor(), mc.RawMatrix().Data)

	return nil
}

func gemmFallback(a, b, c *Dense) error {
	m, k, n := a.Rows(), a.Cols(), b.Cols()
	var i, j, p int
	for i = 0; i < m; i++ {
		for j = 0; j < n; j++ {
			var sum float64
			for p = 0; p < k; p++ {
				av, _ := a.At(i, p)
				bv, _ := b.At(p, j)
				sum += av * bv
			}
			if err := c.Set(i, j, sum); err != nil {
				return err
			}
		}
	}

	return nil
}

// GEMV computes y = A·x. A is m×n, x has length n, y is pre-allocated with length m.
func (e *Engine) GEMV(a *Dense, x, y []float64) error {
	if a.Cols() != len(x) {
		return fmt.Errorf("blas.Engine.GEMV: %w: a has %d cols, x has %d", ErrShapeMismatch, a.Cols(), len(x))
	}
	if len(y) != a.Rows() {
		return fmt.Errorf("blas.Engine.GEMV: %w: y has %d, want %d", ErrShapeMismatch, len(y), a.Rows())
	}

	if !e.ForceFallback && a.Cols() >= e.Threshold {
		if err := e.gemvGonum(a, x, y); err == nil {
			return nil
		}
	}

	return gemvFallback(a, x, y)
}

func (e *Engine) gemvGonum(a *Dense, x, y []float64) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("blas: gonum gemv panic: %v", r)
		}
	}()

	ma := mat.NewDense(a.Rows(), a.Cols(), a.RawRowMajor())
	vx := mat.NewVecDense(len(x), x)
	vy := mat.NewVecDense(len(y), nil)
	vy.MulVec(ma, vx)
	copy(y, vy.RawVector().Data)

	return nil
}

func gemvFallback(a *Dense, x, y []float64) error {
	m, n := a.Rows(), a.Cols()
	var i, j int
	for i = 0; i < m; i++ {
		var sum float64
		for j = 0; j < n; j++ {
			av, _ := a.At(i, j)
			sum += av * x[j]
		}
		y[i] = sum
	}

	return nil
}
