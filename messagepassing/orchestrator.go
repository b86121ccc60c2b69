// MultiLevelOrchestrator sequences the five phases of §4.2 over a graph with
// capability levels 0..L: V→V (optional) → V→E → E→E upward(1..L) →
// E→E downward(L..1) → E→V. Forward caches every phase's intermediates;
// BackwardMultiLevel walks the same sequence in reverse, routing a gradient
// planted on any single (level, capability id) — the positive or a
// negative candidate picked by InfoNCE — back through every phase it
// passed through on the way to that embedding.
package messagepassing

import "github.com/shgat/runtime/blas"

// LevelSlice identifies one level's worth of capability ids within the flat
// index used by the K-head scorer, so a gradient on a single candidate's
// final embedding can be routed back to the right (level, within-level)
// slot in backwardMultiLevel.
type LevelSlice struct {
	Level int
	IDs   []string
}

// Input bundles everything MultiLevelOrchestrator.Forward needs: the
// starting tool embeddings, one LevelParams per level 1..L plus the level-0
// V→E params, the optional V→V params (nil disables the phase per §12's
// density gate), and the hypergraph's incidence/children/cooccurrence views.
type Input struct {
	ToolEmbed map[string][]float64

	// V0Heads are the V→E params producing level-0 capability embeddings.
	V0Heads []HeadParams
	// V0Attn is AUpward per head for V→E (children are tools, parents are level-0 caps).
	V0Attn [][]float64

	// LevelUp[k] (k from 1..L) holds the E→E upward params from level k-1 to k.
	LevelUp map[int]LevelParams
	// LevelDown[k] holds the E→E downward params from level k to k-1, mirroring LevelUp.
	LevelDown map[int]LevelParams

	// Incidence0 maps a level-0 capability id to its incident tool ids.
	Incidence0 map[string][]string
	// ChildrenOf maps a level-k (k>=1) capability id to its level-(k-1) children.
	ChildrenOf map[string][]string
	// CapEmbed seeds every capability's own embedding (used as the "parent"
	// input at the level it first appears, and refined thereafter).
	CapEmbed map[string][]float64
	// CapsByLevel lists every capability id present at each level, 0..MaxLevel.
	CapsByLevel map[int][]string

	MaxLevel int

	// V2V, when non-nil, enables the V→V phase (§12: gated on Density()>0).
	V2V       *V2VParams
	Cooccur   map[string]map[string]float64

	Engine *blas.Engine
}

// Cache retains every phase's cache plus the intermediate embeddings needed
// to run BackwardMultiLevel.
type Cache struct {
	vv      *VVCache
	vvOut   map[string][]float64
	v0      *BipartiteCache
	up      map[int]*BipartiteCache
	down    map[int]*BipartiteCache
	ev      *BipartiteCache

	toolsForV0 map[string][]float64 // tool embeddings fed into V→E (post V→V if enabled)
	capAfterUp map[int]map[string][]float64
	capFinal   map[int]map[string][]float64 // final per-level embeddings after downward pass
}

// Forward runs V→V (if enabled) → V→E → E→E upward(1..L) → E→E downward(L..1)
// → E→V, returning the final per-level capability embeddings (levels 0..L)
// and a cache for BackwardMultiLevel (§4.2 "MultiLevelOrchestrator").
func Forward(in Input) (map[int]map[string][]float64, Cache) {
	engine := in.Engine
	if engine == nil {
		engine = blas.NewEngine()
	}

	cache := Cache{
		up:         make(map[int]*BipartiteCache),
		down:       make(map[int]*BipartiteCache),
		capAfterUp: make(map[int]map[string][]float64),
		capFinal:   make(map[int]map[string][]float64),
	}

	toolsIn := in.ToolEmbed
	if in.V2V != nil {
		vvOut, vvCache := VVForwardWithCache(in.ToolEmbed, in.Cooccur, *in.V2V)
		cache.vv = vvCache
		cache.vvOut = vvOut
		toolsIn = vvOut
	}
	cache.toolsForV0 = toolsIn

	level0Parents := subset(in.CapEmbed, in.CapsByLevel[0])
	e0, v0Cache := BipartiteForwardWithCache(level0Parents, toolsIn, in.Incidence0, in.V0Heads, in.V0Attn, engine)
	cache.v0 = v0Cache
	cache.capAfterUp[0] = e0

	cur := e0
	var k int
	for k = 1; k <= in.MaxLevel; k++ {
		lp := in.LevelUp[k]
		parents := subset(in.CapEmbed, in.CapsByLevel[k])
		children := mergeEmbed(cur, subset(in.CapEmbed, in.CapsByLevel[k-1]))
		attn := upwardAttn(lp.Heads)
		out, c := BipartiteForwardWithCache(parents, children, in.ChildrenOf, lp.Heads, attn, engine)
		cache.up[k] = c
		cache.capAfterUp[k] = out
		cur = out
	}

	cache.capFinal[in.MaxLevel] = cur
	for k = in.MaxLevel; k >= 1; k-- {
		lp := in.LevelDown[k]
		children := subset(cache.capAfterUp[k-1], in.CapsByLevel[k-1])
		parents := mergeEmbed(cache.capFinal[k], subset(in.CapEmbed, in.CapsByLevel[k]))
		attn := downwardAttn(lp.Heads)
		// E→E downward refines children using the now-final parent signal:
		// children play the "parent" role in the shared template (they are
		// the target whose embedding is being recomputed) and parents play
		// "child" (they are the neighbor set being attended over). Each
		// level-(k-1) capability attends over its own parents, a list that
		// invert derives here from ChildrenOf.
		parentsOfChild := invert(in.ChildrenOf, in.CapsByLevel[k-1])
		out, c := BipartiteForwardWithCache(children, parents, parentsOfChild, lp.Heads, attn, engine)
		cache.down[k] = c
		cache.capFinal[k-1] = out
	}
	if in.MaxLevel == 0 {
		cache.capFinal[0] = e0
	}

	// E→V projects refined level-0 capability embeddings back onto their
	// incident tools (§4.2.5). The spec gives it the same attention
	// template as every other phase but names no parameters of its own —
	// H_final is consumed "indirectly" via the K-head scorer over E, not
	// returned here — so it reuses the level-0 V→E head parameters, the
	// same reuse the scorer's K-head mean-fuse already does across phases.
	e2v := cache.capFinal[0]
	evParents := subset(toolsIn, toolIDs(toolsIn))
	_, evCache := BipartiteForwardWithCache(evParents, e2v, invertIncidence(in.Incidence0), in.V0Heads, in.V0Attn, engine)
	cache.ev = evCache

	return cache.capFinal, cache
}

// subset returns the embeddings in src whose key appears in ids; ids not
// present in src are skipped (a capability may not yet have a seed
// embedding assigned at a level it doesn't occupy).
func subset(src map[string][]float64, ids []string) map[string][]float64 {
	out := make(map[string][]float64, len(ids))
	var id string
	for _, id = range ids {
		if v, ok := src[id]; ok {
			out[id] = v
		}
	}

	return out
}

// mergeEmbed overlays refined on top of base, preferring refined's values.
func mergeEmbed(refined, base map[string][]float64) map[string][]float64 {
	out := make(map[string][]float64, len(base)+len(refined))
	var k string
	var v []float64
	for k, v = range base {
		out[k] = v
	}
	for k, v = range refined {
		out[k] = v
	}

	return out
}

func upwardAttn(heads []HeadParams) [][]float64 {
	out := make([][]float64, len(heads))
	var i int
	for i = range heads {
		out[i] = heads[i].AUpward
	}

	return out
}

func downwardAttn(heads []HeadParams) [][]float64 {
	out := make([][]float64, len(heads))
	var i int
	for i = range heads {
		out[i] = heads[i].ADownward
	}

	return out
}

// invert builds, for each id in ids, the list of parent ids whose
// childrenOf entry includes it — i.e. ParentsOf, derived from ChildrenOf.
func invert(childrenOf map[string][]string, ids []string) map[string][]string {
	out := make(map[string][]string, len(ids))
	var id string
	for _, id = range ids {
		out[id] = nil
	}
	var parent string
	var kids []string
	for parent, kids = range childrenOf {
		var c string
		for _, c = range kids {
			if _, ok := out[c]; ok {
				out[c] = append(out[c], parent)
			}
		}
	}

	return out
}

func invertIncidence(incidence map[string][]string) map[string][]string {
	out := make(map[string][]string)
	var cap string
	var tools []string
	for cap, tools = range incidence {
		var t string
		for _, t = range tools {
			out[t] = append(out[t], cap)
		}
	}

	return out
}

func toolIDs(m map[string][]float64) []string {
	out := make([]string, 0, len(m))
	var k string
	for k = range m {
		out = append(out, k)
	}

	return out
}

// MultiLevelGrads holds backward results for the whole orchestrator: per-
// level upward/downward head gradients, V→V scalar gradients, and the
// gradient on the original tool embeddings (dH), for callers that also
// train an upstream tool encoder.
type MultiLevelGrads struct {
	V0    BipartiteGrads
	Up    map[int]BipartiteGrads
	Down  map[int]BipartiteGrads
	V2V   VVGrads
	DTool map[string][]float64
}

// BackwardMultiLevel propagates a gradient on the final capability
// embeddings at a single (level, id) — the positive or a negative candidate
// from InfoNCE — back through downward, upward, and V→E, and finally V→V
// if it was enabled, accumulating gradients at every phase (§4.2).
func BackwardMultiLevel(dFinal map[int]map[string][]float64, cache Cache, in Input) MultiLevelGrads {
	engine := in.Engine
	if engine == nil {
		engine = blas.NewEngine()
	}

	grads := MultiLevelGrads{
		Up:   make(map[int]BipartiteGrads),
		Down: make(map[int]BipartiteGrads),
	}

	dCapAfterUp := make(map[int]map[string][]float64)
	var k int
	for k = 0; k <= in.MaxLevel; k++ {
		dCapAfterUp[k] = make(map[string][]float64)
	}

	dUpstream := dFinal[in.MaxLevel]
	if dUpstream == nil {
		dUpstream = make(map[string][]float64)
	}
	mergeGrad(dCapAfterUp[in.MaxLevel], dUpstream)

	for k = in.MaxLevel; k >= 1; k-- {
		dIn := dFinal[k-1]
		merged := make(map[string][]float64)
		mergeGrad(merged, dCapAfterUp[k-1])
		mergeGrad(merged, dIn)

		lp := in.LevelDown[k]
		attn := downwardAttn(lp.Heads)
		// Downward, the level-k parents were the "child" input and the
		// level-(k-1) children the targets.
		bg, dParents, dChildren := BipartiteBackward(merged, cache.down[k], lp.Heads, attn, engine)
		grads.Down[k] = bg
		mergeGrad(dCapAfterUp[k-1], dChildren)
		mergeGrad(dCapAfterUp[k], dParents)
	}

	dToolsFromV0 := make(map[string][]float64)
	v0Grad := make(map[string][]float64)

	for k = in.MaxLevel; k >= 1; k-- {
		lp := in.LevelUp[k]
		attn := upwardAttn(lp.Heads)
		merged := make(map[string][]float64)
		mergeGrad(merged, dCapAfterUp[k])
		bg, dChildren, _ := BipartiteBackward(merged, cache.up[k], lp.Heads, attn, engine)
		grads.Up[k] = bg
		mergeGrad(dCapAfterUp[k-1], dChildren)
	}

	mergeGrad(v0Grad, dCapAfterUp[0])
	bgV0, dChild0, _ := BipartiteBackward(v0Grad, cache.v0, in.V0Heads, in.V0Attn, engine)
	grads.V0 = bgV0
	mergeGrad(dToolsFromV0, dChild0)

	if in.V2V != nil && cache.vv != nil {
		vvGrads, dTool := VVBackward(dToolsFromV0, cache.vv, *in.V2V)
		grads.V2V = vvGrads
		grads.DTool = dTool
	} else {
		grads.DTool = dToolsFromV0
	}

	return grads
}

func mergeGrad(dst, src map[string][]float64) {
	var k string
	var v []float64
	for k, v = range src {
		if dst[k] == nil {
			dst[k] = zeros(len(v))
		}
		addInto(dst[k], v)
	}
}
