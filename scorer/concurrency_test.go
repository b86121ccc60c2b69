package scorer_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/shgat/runtime/decisionlog"
	"github.com/shgat/runtime/embedding"
	"github.com/shgat/runtime/hypergraph"
	"github.com/shgat/runtime/scorer"
	"github.com/shgat/runtime/shgat"
	"github.com/stretchr/testify/require"
)

// snapshotFinals reduces a Search result to its scoring-relevant fields,
// dropping the per-call CorrelationID so two runs under the same params
// compare equal.
func snapshotFinals(results []scorer.Result) map[string]float64 {
	out := make(map[string]float64, len(results))
	var r scorer.Result
	for _, r = range results {
		out[r.CapID] = r.Final
	}

	return out
}

// TestTrainIncremental_ConcurrentSearchObservesConsistentParams exercises
// the guarantee trainer.Trainer.TrainIncremental's single Model.SwapParams
// call depends on (§5 "Parameter swap", §8 property 8: concurrent
// unifiedSearch calls during a training round all observe a fully-old or
// fully-new param set, never a torn mix). It drives Model.SwapParams in a
// tight loop — exactly what TrainIncremental does on a successful round —
// concurrently with 100 goroutines calling Scorer.Search, and asserts
// every observed result set matches one of the two known-good snapshots
// recorded before the race started.
func TestTrainIncremental_ConcurrentSearchObservesConsistentParams(t *testing.T) {
	const d = 8

	store := hypergraph.New(nil)
	require.NoError(t, store.UpsertTool("t1", vec(d, 0)))
	require.NoError(t, store.UpsertTool("t2", vec(d, 1)))
	require.NoError(t, store.UpsertCapability("cap_read", 0, vec(d, 2), nil, []string{"t1"}))
	require.NoError(t, store.UpsertCapability("cap_write", 0, vec(d, 3), nil, []string{"t2"}))

	emb, err := embedding.NewHashProvider(d)
	require.NoError(t, err)

	modelA := shgat.NewModel(d, 1, nil)
	modelA.EnsureAdaptive(10, 0)
	paramsA := modelA.Params()

	modelB := shgat.NewModel(d, 2, nil)
	modelB.EnsureAdaptive(10, 0)
	paramsB := modelB.Params()

	shared := shgat.NewModel(d, 1, nil)
	shared.EnsureAdaptive(10, 0)

	s := &scorer.Scorer{Embeddings: emb, Store: store, Model: shared, Logger: decisionlog.NoOp{}}
	query := scorer.Query{IntentText: "read a file please", Mode: scorer.ModeActiveSearch, TopK: 5}
	ctx := context.Background()

	require.NoError(t, shared.SwapParams(paramsA))
	resultsA, err := s.Search(ctx, query)
	require.NoError(t, err)
	snapA := snapshotFinals(resultsA)

	require.NoError(t, shared.SwapParams(paramsB))
	resultsB, err := s.Search(ctx, query)
	require.NoError(t, err)
	snapB := snapshotFinals(resultsB)

	require.NotEqual(t, snapA, snapB, "paramsA/paramsB must produce distinguishable outputs for this check to be meaningful")

	errCh := make(chan error, 100)
	var searchers sync.WaitGroup
	var i int
	for i = 0; i < 100; i++ {
		searchers.Add(1)
		go func() {
			defer searchers.Done()
			var j int
			for j = 0; j < 5; j++ {
				results, searchErr := s.Search(ctx, query)
				if searchErr != nil {
					errCh <- searchErr
					return
				}
				got := snapshotFinals(results)
				matchesA := mapsEqual(got, snapA)
				matchesB := mapsEqual(got, snapB)
				if !matchesA && !matchesB {
					errCh <- fmt.Errorf("search observed a param set matching neither pre- nor post-swap snapshot: %v", got)
					return
				}
			}
		}()
	}

	var swapper sync.WaitGroup
	swapper.Add(1)
	go func() {
		defer swapper.Done()
		var k int
		for k = 0; k < 200; k++ {
			var swapErr error
			if k%2 == 0 {
				swapErr = shared.SwapParams(paramsA)
			} else {
				swapErr = shared.SwapParams(paramsB)
			}
			if swapErr != nil {
				errCh <- swapErr
				return
			}
		}
	}()

	searchers.Wait()
	swapper.Wait()
	close(errCh)

	var e error
	for e = range errCh {
		require.NoError(t, e)
	}
}

func mapsEqual(a, b map[string]float64) bool {
	if len(a) != len(b) {
		return false
	}
	var k string
	var v float64
	for k, v = range a {
		if bv, ok := b[k]; !ok || bv != v {
			return false
		}
	}

	return true
}
