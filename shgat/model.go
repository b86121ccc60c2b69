package shgat

import (
	"math"
	"sync/atomic"

	"github.com/shgat/runtime/blas"
	"go.uber.org/zap"
)

// Model owns the live parameter set and the adaptive-head hysteresis
// state (§12: "reinit only when bounds change"). Parameters are read
// through an atomic pointer so scoring calls never observe a partially
// swapped set (§5 "Parameter swap").
type Model struct {
	params  atomic.Pointer[Params]
	current HeadConfig // last computed adaptive bucket; reinit only fires when this changes

	d    int
	seed int64
	log  *zap.Logger
}

// NewModel returns a Model with no parameters yet; call EnsureAdaptive
// before the first Forward/Score call.
func NewModel(d int, seed int64, log *zap.Logger) *Model {
	if log == nil {
		log = zap.NewNop()
	}

	return &Model{d: d, seed: seed, log: log}
}

// EnsureAdaptive computes the adaptive head config for the current graph
// size and max level and reinitializes parameters only if the bucket
// differs from the last one used — a fresh AdaptiveHeadConfig that
// matches the stored triple is a no-op, preserving trained weights across
// calls that don't cross a bucket boundary.
func (m *Model) EnsureAdaptive(graphSize, maxLevel int) {
	cfg := AdaptiveHeadConfig(graphSize, maxLevel)
	if m.params.Load() != nil && cfg == m.current {
		return
	}

	m.current = cfg
	m.params.Store(InitParams(m.d, maxLevel, cfg, m.seed))
	m.log.Info("shgat: adaptive head reinit",
		zap.Int("heads", cfg.Heads), zap.Int("head_dim", cfg.HeadDim),
		zap.Int("hidden_dim", cfg.HiddenDim), zap.Int("max_level", maxLevel))
}

// Params returns the current live parameter set. Never mutate the
// returned value in place; ImportParams/EnsureAdaptive replace it wholesale.
func (m *Model) Params() *Params { return m.params.Load() }

// CandidateScore is one candidate's public score plus the raw logit
// InfoNCE trains on.
type CandidateScore struct {
	CapID     string
	Score     float64 // σ(mean head logit) — public ranking score
	RawLogit  float64 // mean head logit — used for InfoNCE
	Reliability float64
	Final     float64 // Score * ReliabilityMult
}

// ReliabilityMult implements §4.3's banded multiplier.
func ReliabilityMult(successRate float64) float64 {
	switch {
	case successRate < 0.5:
		return 0.1
	case successRate > 0.9:
		return 1.2
	default:
		return 1.0
	}
}

// Score computes the K-head fused score for every candidate capability
// embedding against one intent embedding (§4.3 "Scoring"). successRate
// supplies the per-candidate reliability band; candidates absent from it
// are treated as successRate=0.5 (reliability 1.0).
func Score(p *Params, engine *blas.Engine, intentEmbed []float64, candidates map[string][]float64, successRate map[string]float64) []CandidateScore {
	if engine == nil {
		engine = blas.NewEngine()
	}

	intentProj := projectDense(engine, p.WIntent, intentEmbed)
	sqrtScoring := math.Sqrt(float64(p.ScoringDim))

	out := make([]CandidateScore, 0, len(candidates))
	var id string
	var emb []float64
	for id, emb = range candidates {
		var sum float64
		var h int
		for h = range p.Scoring {
			q := projectDense(engine, p.Scoring[h].WQ, intentProj)
			k := projectDense(engine, p.Scoring[h].WK, emb)
			sum += dotSlice(q, k) / sqrtScoring
		}
		raw := sum / float64(len(p.Scoring))
		sr, ok := successRate[id]
		if !ok {
			sr = 0.5
		}
		rel := ReliabilityMult(sr)
		score := sigmoid(raw)
		out = append(out, CandidateScore{
			CapID: id, Score: score, RawLogit: raw,
			Reliability: rel, Final: score * rel,
		})
	}

	return out
}

func projectDense(engine *blas.Engine, w *blas.Dense, x []float64) []float64 {
	out := make([]float64, w.Rows())
	_ = engine.GEMV(w, x, out)

	return out
}

func dotSlice(a, b []float64) float64 {
	var sum float64
	var i int
	for i = range a {
		sum += a[i] * b[i]
	}

	return sum
}

func sigmoid(x float64) float64 { return 1 / (1 + math.Exp(-x)) }
