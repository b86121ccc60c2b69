package blas_test

import (
	"testing"

	"github.com/shgat/runtime/blas"
	"github.com/stretchr/testify/require"
)

func mustDense(t *testing.T, rows, cols int, vals []float64) *blas.Dense {
	t.Helper()
	d, err := blas.NewDenseFromSlice(rows, cols, vals)
	require.NoError(t, err)

	return d
}

func TestEngine_GEMM_SmallFallback(t *testing.T) {
	e := blas.NewEngine()
	e.Threshold = 64 // a has 2 cols, well under threshold: exercises fallback

	a := mustDense(t, 2, 2, []float64{1, 2, 3, 4})
	b := mustDense(t, 2, 2, []float64{5, 6, 7, 8})
	c, err := blas.NewDense(2, 2)
	require.NoError(t, err)

	require.NoError(t, e.GEMM(a, b, c))
	v00, _ := c.At(0, 0)
	v01, _ := c.At(0, 1)
	v10, _ := c.At(1, 0)
	v11, _ := c.At(1, 1)
	require.Equal(t, []float64{19, 22, 43, 50}, []float64{v00, v01, v10, v11})
}

func TestEngine_GEMM_GonumPath(t *testing.T) {
	e := blas.NewEngine()
	e.Threshold = 2 // a has 2 cols >= threshold: exercises gonum dispatch

	a := mustDense(t, 2, 2, []float64{1, 2, 3, 4})
	b := mustDense(t, 2, 2, []float64{5, 6, 7, 8})
	c, err := blas.NewDense(2, 2)
	require.NoError(t, err)

	require.NoError(t, e.GEMM(a, b, c))
	v00, _ := c.At(0, 0)
	v11, _ := c.At(1, 1)
	require.Equal(t, 19.0, v00)
	require.Equal(t, 50.0, v11)
}

func TestEngine_GEMM_ShapeMismatch(t *testing.T) {
	e := blas.NewEngine()
	a := mustDense(t, 2, 3, make([]float64, 6))
	b := mustDense(t, 2, 2, make([]float64, 4))
	c, err := blas.NewDense(2, 2)
	require.NoError(t, err)

	err = e.GEMM(a, b, c)
	require.ErrorIs(t, err, blas.ErrShapeMismatch)
}

func TestEngine_GEMV(t *testing.T) {
	e := blas.NewEngine()
	e.Threshold = 64

	a := mustDense(t, 2, 3, []float64{1, 2, 3, 4, 5, 6})
	x := []float64{1, 1, 1}
	y := make([]float64, 2)

	require.NoError(t, e.GEMV(a, x, y))
	require.Equal(t, []float64{6, 15}, y)
}
