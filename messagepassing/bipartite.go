package messagepassing

import "github.com/shgat/runtime/blas"

// headCache retains one head's intermediates for a single bipartite
// attention pass: the projected child/parent vectors, the pre-LeakyReLU
// logits per target (LeakyReLU's backward needs the pre-activation value),
// the post-softmax weights, and the pre-ELU aggregate (ELU's backward is
// likewise defined on the pre-activation).
type headCache struct {
	childProj map[string][]float64 // child id -> WChild·H[child], headDim
	parentProj map[string][]float64 // target id -> WParent·E[target], headDim
	preAct     map[string][]float64 // target id -> raw a·concat(E',H') per neighbor
	weights    map[string][]float64 // target id -> softmax(LeakyReLU(preAct))
	preELU     map[string][]float64 // target id -> Σ weights·childProj, pre-ELU, headDim
}

// BipartiteCache retains every head's intermediates, the incidence map, and
// snapshots of the input embeddings, shared across V→E, E→E (up/down), and
// E→V, which all share this one attention template (§4.2).
type BipartiteCache struct {
	incidence   map[string][]string
	heads       []*headCache
	childEmbed  map[string][]float64
	parentEmbed map[string][]float64
}

// HeadGrad mirrors HeadParams' shape for gradient accumulation. DAttn
// matches whichever of AUpward/ADownward the caller supplied to forward.
type HeadGrad struct {
	DWChild  *blas.Dense
	DWParent *blas.Dense
	DAttn    []float64
}

// BipartiteGrads holds gradients for one level's worth of head parameters.
type BipartiteGrads struct {
	Heads []HeadGrad
}

// BipartiteForwardWithCache runs the shared attention template used by
// V→E, E→E upward, E→E downward, and E→V (§4.2.2-5): for each head and
// each target e with incidence set N(e), project children and the target
// via W_child/W_parent, score each neighbor with LeakyReLU(a·concat(E',H')),
// softmax over N(e), aggregate, apply ELU, then project the headDim result
// back to d via W_parent^T and average across heads. Averaging across heads
// (rather than concatenation) keeps every phase's output at dimension d
// regardless of headDim, matching the K-head mean-fuse pattern used for
// scoring.
func BipartiteForwardWithCache(
	parentEmbed, childEmbed map[string][]float64,
	incidence map[string][]string,
	heads []HeadParams,
	attnVecs [][]float64,
	engine *blas.Engine,
) (map[string][]float64, *BipartiteCache) {
	if engine == nil {
		engine = blas.NewEngine()
	}

	cache := &BipartiteCache{
		incidence:   incidence,
		heads:       make([]*headCache, len(heads)),
		childEmbed:  childEmbed,
		parentEmbed: parentEmbed,
	}

	var d int
	for _, v := range parentEmbed {
		d = len(v)
		break
	}
	out := make(map[string][]float64, len(parentEmbed))
	var e string
	for e = range parentEmbed {
		out[e] = zeros(d)
	}

	numHeads := float64(len(heads))
	var hIdx int
	var head HeadParams
	for hIdx, head = range heads {
		hc := &headCache{
			childProj:  make(map[string][]float64),
			parentProj: make(map[string][]float64),
			preAct:     make(map[string][]float64),
			weights:    make(map[string][]float64),
			preELU:     make(map[string][]float64),
		}

		var c string
		var cv []float64
		for c, cv = range childEmbed {
			hc.childProj[c] = projectHead(engine, head.WChild, cv)
		}
		for e, cv = range parentEmbed {
			hc.parentProj[e] = projectHead(engine, head.WParent, cv)
		}

		attn := attnVecs[hIdx]
		headDim := head.WChild.Rows()

		for e = range parentEmbed {
			neighbors := incidence[e]
			if len(neighbors) == 0 {
				continue
			}
			ep := hc.parentProj[e]
			preAct := make([]float64, len(neighbors))
			postAct := make([]float64, len(neighbors))
			var idx int
			var v string
			for idx, v = range neighbors {
				preAct[idx] = dotConcat(attn, ep, hc.childProj[v])
				postAct[idx] = leakyReLU(preAct[idx], 0.2)
			}
			weights := softmax(postAct)
			agg := zeros(headDim)
			for idx, v = range neighbors {
				axpy(agg, weights[idx], hc.childProj[v])
			}

			hc.preAct[e] = preAct
			hc.weights[e] = weights
			hc.preELU[e] = agg

			contribution := zeros(d)
			projectHeadTransposeAdd(contribution, head.WParent, eluVec(agg))
			axpy(out[e], 1/numHeads, contribution)
		}

		cache.heads[hIdx] = hc
	}

	return out, cache
}

// BipartiteBackward propagates dOut (gradient w.r.t. the d-dimensional
// target outputs) back through every head into gradients for W_child,
// W_parent, and the attention vector, plus dChild/dParent input gradients.
// attnVecs must be the same slice passed to the matching forward call.
func BipartiteBackward(
	dOut map[string][]float64,
	cache *BipartiteCache,
	heads []HeadParams,
	attnVecs [][]float64,
	engine *blas.Engine,
) (BipartiteGrads, map[string][]float64, map[string][]float64) {
	if engine == nil {
		engine = blas.NewEngine()
	}
	numHeads := float64(len(heads))
	dChild := make(map[string][]float64)
	dParent := make(map[string][]float64)

	ensure := func(m map[string][]float64, id string, dim int) {
		if m[id] == nil {
			m[id] = zeros(dim)
		}
	}

	grads := BipartiteGrads{Heads: make([]HeadGrad, len(heads))}

	var hIdx int
	var head HeadParams
	for hIdx, head = range heads {
		hc := cache.heads[hIdx]
		headDim := head.WChild.Rows()
		d := head.WChild.Cols()
		attn := attnVecs[hIdx]

		dWChild, _ := blas.NewDense(headDim, d)
		dWParent, _ := blas.NewDense(headDim, d)
		dAttn := zeros(2 * headDim)

		dHc := make(map[string][]float64) // accumulated gradient on childProj, by child id
		dEp := make(map[string][]float64) // accumulated gradient on parentProj, by target id

		var e string
		var dy []float64
		for e, dy = range dOut {
			neighbors := cache.incidence[e]
			if len(neighbors) == 0 {
				continue
			}
			dContribution := scale(dy, 1/numHeads)

			agg := hc.preELU[e]
			eluOut := eluVec(agg)
			deluOut := projectHead(engine, head.WParent, dContribution)
			outerAddInto(dWParent, eluOut, dContribution)

			dAgg := make([]float64, headDim)
			var k int
			for k = range agg {
				dAgg[k] = deluOut[k] * eluGrad(agg[k])
			}

			weights := hc.weights[e]
			dWeights := make([]float64, len(neighbors))
			var idx int
			var v string
			for idx, v = range neighbors {
				ensure(dHc, v, headDim)
				axpy(dHc[v], weights[idx], dAgg)
				dWeights[idx] = dot(dAgg, hc.childProj[v])
			}

			dPostAct := softmaxBackward(weights, dWeights)
			preAct := hc.preAct[e]
			ensure(dEp, e, headDim)
			for idx, v = range neighbors {
				dPre := dPostAct[idx] * leakyReLUGrad(preAct[idx], 0.2)

				var i int
				for i = 0; i < headDim; i++ {
					dAttn[i] += dPre * hc.parentProj[e][i]
					dAttn[headDim+i] += dPre * hc.childProj[v][i]
				}

				axpy(dEp[e], dPre, attn[:headDim])
				ensure(dHc, v, headDim)
				axpy(dHc[v], dPre, attn[headDim:])
			}
		}

		var c string
		var g []float64
		for c, g = range dHc {
			ensure(dChild, c, d)
			projectHeadTransposeAdd(dChild[c], head.WChild, g)
			outerAddInto(dWChild, g, cache.childEmbed[c])
		}
		for e, g = range dEp {
			ensure(dParent, e, d)
			projectHeadTransposeAdd(dParent[e], head.WParent, g)
			outerAddInto(dWParent, g, cache.parentEmbed[e])
		}

		grads.Heads[hIdx] = HeadGrad{DWChild: dWChild, DWParent: dWParent, DAttn: dAttn}
	}

	return grads, dChild, dParent
}

func dotConcat(a, left, right []float64) float64 {
	var sum float64
	var i int
	for i = range left {
		sum += a[i] * left[i]
	}
	for i = range right {
		sum += a[len(left)+i] * right[i]
	}

	return sum
}
