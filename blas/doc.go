// Package blas provides GEMM/GEMV acceleration for the matrix products that
// dominate message-passing and K-head scoring: per-head projections
// (W_q·i, W_k·e, W_child·H, W_parent·E) and the batched scoring pass.
//
// Dense mirrors the row-major layout of the teacher's matrix.Dense: a flat
// []float64 backing slice addressed by r*cols+c, so a Dense can be handed to
// gonum's mat.Dense via RawRowMajor without a copy. GEMM and GEMV dispatch to
// gonum when the operation is large enough to amortize its call overhead
// (Threshold, default 64, measured on the shared inner dimension); below
// that they run a tight pure-Go loop, which is also the only path available
// if a caller never wants the gonum dependency in the hot path of a tiny
// unit test.
package blas
