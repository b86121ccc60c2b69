package messagepassing

import "math"

// VVCache retains the per-tool intermediates needed for V→V backward:
// neighbor ids, softmax weights, the embeddings those weights were computed
// over, and the pre-normalization residual sum (so normalizeVec's backward
// doesn't need to recompute the forward pass).
type VVCache struct {
	neighbors map[string][]string
	weights   map[string][]float64 // softmax(s_i) over neighbors[i]
	scores    map[string][]float64 // pre-softmax logits s_i = cos·w/T
	embed     map[string][]float64 // snapshot of h, keyed by tool id
	pre       map[string][]float64 // h_i + β·agg_i, pre-normalization
}

// VVGrads holds gradients for the V→V phase's two learnable scalars.
type VVGrads struct {
	DResidualLogit    float64
	DTemperatureLogit float64
}

// VVForwardWithCache runs the V→V co-occurrence attention pass (§4.2.1).
// coocc[i][j] is the tool-tool dependency weight feeding the attention
// score; tools absent from coocc[i] are not attended to. Returns the
// refined embeddings and a cache for backward.
func VVForwardWithCache(h map[string][]float64, coocc map[string]map[string]float64, params V2VParams) (map[string][]float64, *VVCache) {
	beta := params.Beta()
	temp := params.Temperature()

	cache := &VVCache{
		neighbors: make(map[string][]string),
		weights:   make(map[string][]float64),
		scores:    make(map[string][]float64),
		embed:     h,
		pre:       make(map[string][]float64),
	}
	out := make(map[string][]float64, len(h))

	var i string
	for i = range h {
		neighborWeights, ok := coocc[i]
		if !ok || len(neighborWeights) == 0 {
			out[i] = normalizeVec(h[i])
			cache.pre[i] = cloneVec(h[i])

			continue
		}

		neighbors := make([]string, 0, len(neighborWeights))
		var j string
		for j = range neighborWeights {
			if _, ok := h[j]; ok {
				neighbors = append(neighbors, j)
			}
		}

		scores := make([]float64, len(neighbors))
		var idx int
		for idx, j = range neighbors {
			scores[idx] = cosineSim(h[i], h[j]) * neighborWeights[j] / temp
		}
		weights := softmax(scores)

		agg := zeros(len(h[i]))
		for idx, j = range neighbors {
			axpy(agg, weights[idx], h[j])
		}

		pre := cloneVec(h[i])
		axpy(pre, beta, agg)

		out[i] = normalizeVec(pre)
		cache.neighbors[i] = neighbors
		cache.weights[i] = weights
		cache.scores[i] = scores
		cache.pre[i] = pre
	}

	return out, cache
}

// VVBackward propagates dOut (gradient w.r.t. the normalized output) back
// through the residual mix and attention weights into dH and the two
// scalar parameter gradients. Per §4.2.1, the cosine similarity's gradient
// is deliberately dropped: only the attention-weight and residual-mix
// gradients are propagated into dH.
func VVBackward(dOut map[string][]float64, cache *VVCache, params V2VParams) (VVGrads, map[string][]float64) {
	beta := params.Beta()
	temp := params.Temperature()
	var grads VVGrads
	dH := make(map[string][]float64)

	ensure := func(id string, dim int) {
		if dH[id] == nil {
			dH[id] = zeros(dim)
		}
	}

	var i string
	var dy []float64
	for i, dy = range dOut {
		pre := cache.pre[i]
		dPre := normalizeBackward(pre, dy)
		dim := len(dPre)

		ensure(i, dim)
		addInto(dH[i], dPre)

		neighbors := cache.neighbors[i]
		if len(neighbors) == 0 {
			continue
		}
		weights := cache.weights[i]

		dAgg := scale(dPre, beta)
		agg := zeros(dim)
		var idx int
		var j string
		for idx, j = range neighbors {
			axpy(agg, weights[idx], cache.embed[j])
		}
		grads.DResidualLogit += dot(dPre, agg) * beta * (1 - beta)

		dWeights := make([]float64, len(neighbors))
		for idx, j = range neighbors {
			ensure(j, dim)
			axpy(dH[j], weights[idx], dAgg)
			dWeights[idx] = dot(dAgg, cache.embed[j])
		}

		dScores := softmaxBackward(weights, dWeights)
		scores := cache.scores[i]
		// score_ij = cos_ij·w_ij/T, so d(score_ij)/dT = -score_ij/T.
		var dT float64
		for idx = range neighbors {
			dT += dScores[idx] * (-scores[idx] / temp)
		}
		grads.DTemperatureLogit += dT * temp // dTemperatureLogit = dT · T, since T = exp(TemperatureLogit)
	}

	return grads, dH
}

// normalizeBackward computes dx for y = x/||x|| given dy.
func normalizeBackward(x, dy []float64) []float64 {
	norm := dot(x, x)
	if norm == 0 {
		return cloneVec(dy)
	}
	n := math.Sqrt(norm)

	dotXdy := dot(x, dy)

	out := make([]float64, len(x))
	var i int
	for i = range x {
		out[i] = dy[i]/n - x[i]*dotXdy/(n*n*n)
	}

	return out
}
