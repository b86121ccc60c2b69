// Package scorer implements the unified-search fusion pipeline (C5):
// encode an intent, shortlist semantically similar capabilities, run one
// SHGAT forward pass over the whole hypergraph, fuse semantic and graph
// scores with a reliability multiplier, threshold the result, and emit a
// decision record (§4.4).
package scorer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/google/uuid"
	"github.com/shgat/runtime/blas"
	"github.com/shgat/runtime/decisionlog"
	"github.com/shgat/runtime/embedding"
	"github.com/shgat/runtime/hypergraph"
	"github.com/shgat/runtime/messagepassing"
	"github.com/shgat/runtime/shgat"
)

// Mode selects the query's intent and its default fusion weight/threshold band.
type Mode string

const (
	ModeActiveSearch      Mode = "active_search"
	ModePassiveSuggestion Mode = "passive_suggestion"
	ModeSpeculation       Mode = "speculation"
)

// defaultAlpha gives the mode default fusion weight used when no
// per-node/per-mode adaptive alpha is available (§4.4 step 4).
var defaultAlpha = map[Mode]float64{
	ModeActiveSearch:      0.7,
	ModePassiveSuggestion: 0.5,
	ModeSpeculation:       0.85,
}

// ErrEmptyIntent is returned when Search is called with an empty intent string.
var ErrEmptyIntent = errors.New("scorer: intent_text is empty")

// ThresholdFunc computes the accept/reject cutoff for a given mode, risk
// band, and context hash (§4.4 step 5). Hosts supply their own policy;
// DefaultThreshold is a flat per-mode fallback for tests and bootstrap.
type ThresholdFunc func(mode Mode, risk string, contextHash string) float64

// DefaultThreshold returns a conservative flat threshold per mode,
// ignoring risk/contextHash — real deployments supply a richer ThresholdFunc.
func DefaultThreshold(mode Mode, _ string, _ string) float64 {
	switch mode {
	case ModeSpeculation:
		return 0.3
	case ModePassiveSuggestion:
		return 0.15
	default:
		return 0.2
	}
}

// AlphaFunc returns the local adaptive fusion weight for a candidate under
// a mode, or ok=false to fall back to the mode default (§4.4 step 4).
type AlphaFunc func(capID string, mode Mode) (alpha float64, ok bool)

// contextHops bounds how far a query's context_tools expand across the
// tool-tool overlay when widening the semantic shortlist (§4.4's optional
// context_tools input, §6 unifiedSearch).
const contextHops = 2

// Query is one unifiedSearch request (§6 MCP transport contract).
type Query struct {
	IntentText   string
	ContextTools []string
	Mode         Mode
	TopK         int
	MinScore     float64
	Risk         string
	ContextHash  string
}

// Result is one ranked candidate (§6).
type Result struct {
	CapID         string
	Semantic      float64
	Graph         float64
	Alpha         float64
	Reliability   float64
	Final         float64
	Decision      string
	CorrelationID string
}

// Scorer wires together the embedding provider, hypergraph store, SHGAT
// model, and decision logger into one Search entry point.
type Scorer struct {
	Embeddings embedding.Provider
	Store      *hypergraph.Store
	Model      *shgat.Model
	Logger     decisionlog.Logger
	Threshold  ThresholdFunc
	Alpha      AlphaFunc
	Engine     *blas.Engine
}

// expansionMultiplier widens the semantic shortlist when the hypergraph is
// sparse, so low-density graphs still surface enough candidates for the
// graph score to discriminate among (§4.4 step 2).
func expansionMultiplier(density float64) float64 {
	switch {
	case density < 0.01:
		return 1.5
	case density < 0.10:
		return 2.0
	default:
		return 3.0
	}
}

// Search runs one unifiedSearch call end to end (§4.4). It is
// deterministic given fixed SHGAT params and frozen embeddings. Each
// hypergraph read it makes takes the store's lock on its own; no lock or
// snapshot is held across the whole forward pass, so a concurrent write
// can land between two of those reads.
func (s *Scorer) Search(ctx context.Context, q Query) ([]Result, error) {
	if q.IntentText == "" {
		return nil, ErrEmptyIntent
	}

	intentVec, err := s.Embeddings.Encode(q.IntentText)
	if err != nil {
		return nil, fmt.Errorf("scorer.Search: encode intent: %w", err)
	}

	params := s.Model.Params()
	if params == nil {
		return nil, fmt.Errorf("scorer.Search: model has no parameters yet")
	}

	candidates := s.semanticShortlist(intentVec, q.TopK)
	s.expandByContextTools(candidates, intentVec, q.ContextTools)
	engine := s.Engine
	if engine == nil {
		engine = blas.NewEngine()
	}

	in := buildInput(s.Store, params)
	capFinal, _ := messagepassing.Forward(in)

	scored := make(map[string][]float64, len(candidates))
	successRate := make(map[string]float64, len(candidates))
	var id string
	for id = range candidates {
		emb, _ := s.finalEmbedding(capFinal, id)
		if emb == nil {
			continue
		}
		scored[id] = emb
		c, cErr := s.Store.Capability(id)
		if cErr == nil {
			successRate[id] = c.SuccessRate()
		}
	}

	graphScores := shgat.Score(params, engine, intentVec, scored, successRate)
	graphByID := make(map[string]shgat.CandidateScore, len(graphScores))
	var gs shgat.CandidateScore
	for _, gs = range graphScores {
		graphByID[gs.CapID] = gs
	}

	threshold := s.Threshold
	if threshold == nil {
		threshold = DefaultThreshold
	}

	results := make([]Result, 0, len(candidates))
	for id, sem := range candidates {
		g, ok := graphByID[id]
		alpha, hasAdaptive := 0.0, false
		if s.Alpha != nil {
			alpha, hasAdaptive = s.Alpha(id, q.Mode)
		}
		if !hasAdaptive {
			alpha = defaultAlpha[q.Mode]
			if alpha == 0 {
				alpha = defaultAlpha[ModeActiveSearch]
			}
		}

		graphScore := 0.0
		reliability := 1.0
		if ok {
			graphScore = g.Score
			reliability = g.Reliability
		}

		unified := (alpha*sem + (1-alpha)*graphScore) * reliability
		thr := threshold(q.Mode, q.Risk, q.ContextHash)

		decision := "rejected"
		if unified >= thr && unified >= q.MinScore {
			decision = "accepted"
		}

		corrID := uuid.NewString()
		results = append(results, Result{
			CapID: id, Semantic: sem, Graph: graphScore, Alpha: alpha,
			Reliability: reliability, Final: unified, Decision: decision,
			CorrelationID: corrID,
		})

		s.Logger.LogDecision(ctx, decisionlog.Record{
			Algorithm: "shgat", Mode: string(q.Mode), TargetType: "capability",
			Intent: q.IntentText, FinalScore: unified, Threshold: thr,
			Decision: decision, TargetID: id, CorrelationID: corrID,
			Signals: map[string]interface{}{"semantic": sem, "graph": graphScore, "alpha": alpha, "reliability": reliability},
		})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Final > results[j].Final })
	if q.TopK > 0 && len(results) > q.TopK {
		results = results[:q.TopK]
	}

	return results, nil
}

// semanticShortlist ranks every level-0 capability by cosine similarity to
// intentVec and returns the top k*expansionMultiplier(density) ids mapped
// to their semantic score (§4.4 steps 1-2).
func (s *Scorer) semanticShortlist(intentVec []float64, topK int) map[string]float64 {
	type scored struct {
		id  string
		sim float64
	}

	caps := s.Store.CapsByLevel(0)
	all := make([]scored, 0, len(caps))
	var id string
	for _, id = range caps {
		c, err := s.Store.Capability(id)
		if err != nil {
			continue
		}
		all = append(all, scored{id: id, sim: cosine(intentVec, c.Embedding)})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].sim > all[j].sim })

	if topK <= 0 {
		topK = 10
	}
	n := int(float64(topK) * expansionMultiplier(s.Store.Density()))
	if n > len(all) {
		n = len(all)
	}

	out := make(map[string]float64, n)
	var i int
	for i = 0; i < n; i++ {
		out[all[i].id] = all[i].sim
	}

	return out
}

// expandByContextTools widens candidates in place with capabilities
// incident to tools reachable within contextHops of q.ContextTools,
// structurally surfacing nearby capabilities a pure semantic shortlist
// could miss (§4.4 step 2's optional context_tools input). A missing or
// unreachable context tool contributes nothing; it is never an error.
func (s *Scorer) expandByContextTools(candidates map[string]float64, intentVec []float64, contextTools []string) {
	if len(contextTools) == 0 {
		return
	}

	reachable, err := s.Store.ToolsReachable(contextTools, contextHops)
	if err != nil || len(reachable) == 0 {
		return
	}

	var capID string
	for _, capID = range s.Store.CapsIncidentToAny(reachable) {
		if _, ok := candidates[capID]; ok {
			continue
		}
		c, cErr := s.Store.Capability(capID)
		if cErr != nil {
			continue
		}
		candidates[capID] = cosine(intentVec, c.Embedding)
	}
}

// finalEmbedding locates id's refined embedding across capFinal's levels.
func (s *Scorer) finalEmbedding(capFinal map[int]map[string][]float64, id string) ([]float64, int) {
	var lvl int
	var m map[string][]float64
	for lvl, m = range capFinal {
		if v, ok := m[id]; ok {
			return v, lvl
		}
	}

	return nil, -1
}

func cosine(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	var i int
	for i = range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}

	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
