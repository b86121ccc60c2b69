// Package tracestore is the append-only episodic log of execution traces
// that the PER trainer samples by priority. It mirrors the teacher's
// adjacency-list locking discipline (a guarded map plus a derived index)
// rather than any external time-series engine: this package ships only the
// in-memory reference implementation; a host service fronts it with
// `algorithm_traces` persistence (§6) if it wants durability across
// restarts.
package tracestore
