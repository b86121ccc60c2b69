package shgat_test

import (
	"math/rand"
	"testing"

	"github.com/shgat/runtime/messagepassing"
	"github.com/shgat/runtime/shgat"
	"github.com/stretchr/testify/require"
)

func toyTrainingSetup(t *testing.T) (*shgat.Params, shgat.Candidates, shgat.Example) {
	t.Helper()
	cfg := shgat.AdaptiveHeadConfig(10, 0)
	p := shgat.InitParams(8, 0, cfg, 7)

	cand := shgat.Candidates{
		Embed: map[string][]float64{
			"pos": {1, 0, 0, 0, 0, 0, 0, 0},
			"n1":  {0, 1, 0, 0, 0, 0, 0, 0},
			"n2":  {0, 0, 1, 0, 0, 0, 0, 0},
		},
		Level: map[string]int{"pos": 0, "n1": 0, "n2": 0},
	}
	intent := []float64{1, 0, 0, 0, 0, 0, 0, 0}
	ex := shgat.Example{IntentEmbed: intent, PositiveID: "pos", Universe: []string{"pos", "n1", "n2"}}

	return p, cand, ex
}

func TestTrainInfoNCE_LossIsFinitePositive(t *testing.T) {
	p, cand, ex := toyTrainingSetup(t)
	rng := rand.New(rand.NewSource(1))

	loss, tdErr, grads := shgat.TrainInfoNCE(p, nil, ex, cand, 0.1, 2, rng)
	require.Greater(t, loss, 0.0)
	require.GreaterOrEqual(t, tdErr, 0.0)
	require.NotNil(t, grads)
}

func TestTrainInfoNCE_RepeatedStepsReduceLoss(t *testing.T) {
	p, cand, ex := toyTrainingSetup(t)
	rng := rand.New(rand.NewSource(1))

	firstLoss, _, grads := shgat.TrainInfoNCE(p, nil, ex, cand, 0.1, 2, rng)
	shgat.ApplyGrads(p, grads, messagepassing.MultiLevelGrads{}, 0.5)

	var lastLoss float64
	for i := 0; i < 25; i++ {
		loss, _, g := shgat.TrainInfoNCE(p, nil, ex, cand, 0.1, 2, rng)
		shgat.ApplyGrads(p, g, messagepassing.MultiLevelGrads{}, 0.5)
		lastLoss = loss
	}

	require.Less(t, lastLoss, firstLoss)
}

func TestApplyGrads_EmptyMessagePassingGradsNoop(t *testing.T) {
	cfg := shgat.AdaptiveHeadConfig(10, 2)
	p := shgat.InitParams(8, 2, cfg, 3)
	before := p.Clone()

	_, cand, ex := toyTrainingSetup(t)
	rng := rand.New(rand.NewSource(2))
	_, _, grads := shgat.TrainInfoNCE(p, nil, ex, cand, 0.1, 2, rng)
	shgat.ApplyGrads(p, grads, messagepassing.MultiLevelGrads{}, 0.1)

	// V0/Up/Down head weights are untouched by a subprocess-only training
	// step: no message-passing gradient was supplied.
	beforeV, err := before.V0[0].WChild.At(0, 0)
	require.NoError(t, err)
	afterV, err := p.V0[0].WChild.At(0, 0)
	require.NoError(t, err)
	require.Equal(t, beforeV, afterV)
}

func TestGradNorm_ZeroForEmptyGrads(t *testing.T) {
	cfg := shgat.AdaptiveHeadConfig(10, 0)
	p := shgat.InitParams(8, 0, cfg, 1)
	_, cand, ex := toyTrainingSetup(t)
	_ = cand
	_ = ex
	_ = p

	grads := &shgat.Grads{}
	norm := shgat.GradNorm(grads, messagepassing.MultiLevelGrads{})
	require.Equal(t, 0.0, norm)
}
