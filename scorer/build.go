package scorer

import (
	"github.com/shgat/runtime/hypergraph"
	"github.com/shgat/runtime/messagepassing"
	"github.com/shgat/runtime/shgat"
)

// buildInput assembles a messagepassing.Input snapshot from the
// hypergraph store for one forward pass: tool embeddings, per-level
// capability embeddings and incidence/children views, the tool-tool
// cooccurrence overlay, and the V→V gate from §12 (enabled only when
// Density()>0 — "gated on availability of co-occurrence data").
func buildInput(store *hypergraph.Store, p *shgat.Params) messagepassing.Input {
	toolIDs := store.Tools()
	toolEmbed := make(map[string][]float64, len(toolIDs))
	var id string
	for _, id = range toolIDs {
		t, err := store.Tool(id)
		if err != nil {
			continue
		}
		toolEmbed[id] = t.Embedding
	}

	capsByLevel := make(map[int][]string, p.MaxLevel+1)
	capEmbed := make(map[string][]float64)
	incidence0 := make(map[string][]string)
	childrenOf := make(map[string][]string)

	var k int
	for k = 0; k <= p.MaxLevel; k++ {
		ids := store.CapsByLevel(k)
		capsByLevel[k] = ids
		for _, id = range ids {
			c, err := store.Capability(id)
			if err != nil {
				continue
			}
			capEmbed[id] = c.Embedding
			if k == 0 {
				inc, iErr := store.Incidence(id)
				if iErr == nil {
					incidence0[id] = inc
				}
			} else {
				childrenOf[id] = c.Children
			}
		}
	}

	in := messagepassing.Input{
		ToolEmbed:   toolEmbed,
		V0Heads:     p.V0,
		V0Attn:      headAttn(p.V0, true),
		LevelUp:     toLevelParams(p.Up),
		LevelDown:   toLevelParams(p.Down),
		Incidence0:  incidence0,
		ChildrenOf:  childrenOf,
		CapEmbed:    capEmbed,
		CapsByLevel: capsByLevel,
		MaxLevel:    p.MaxLevel,
	}

	if store.Density() > 0 {
		v2v := p.V2V
		in.V2V = &v2v
		in.Cooccur = store.ToolCooccurrence()
	}

	return in
}

func headAttn(heads []messagepassing.HeadParams, upward bool) [][]float64 {
	out := make([][]float64, len(heads))
	var i int
	for i = range heads {
		if upward {
			out[i] = heads[i].AUpward
		} else {
			out[i] = heads[i].ADownward
		}
	}

	return out
}

func toLevelParams(m map[int][]messagepassing.HeadParams) map[int]messagepassing.LevelParams {
	out := make(map[int]messagepassing.LevelParams, len(m))
	var k int
	var hs []messagepassing.HeadParams
	for k, hs = range m {
		out[k] = messagepassing.LevelParams{Heads: hs}
	}

	return out
}
