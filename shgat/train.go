package shgat

import (
	"math"
	"math/rand"

	"github.com/shgat/runtime/blas"
	"github.com/shgat/runtime/messagepassing"
)

// clipNorm is the L2 gradient-clipping bound from §4.3 "Training".
const clipNorm = 5.0

// Example is one InfoNCE training unit: an intent embedding, the positive
// capability id, and the capability ids eligible to be drawn as random
// negatives (the full candidate universe minus the positive).
type Example struct {
	IntentEmbed []float64
	PositiveID  string
	Universe    []string
}

// Candidates is the id -> (level, embedding) view the trainer needs to
// both score and route gradients back into BackwardMultiLevel.
type Candidates struct {
	Embed map[string][]float64
	Level map[string]int
}

// sampleNegatives draws numNegatives distinct ids from universe, excluding
// exclude, via Fisher-Yates (§4.3: "Fisher–Yates shuffle, positive
// excluded" — not hard-negative mining, which the source deliberately
// avoids per §9: hard negatives cluster near the positive and block
// learning in high-dimensional embeddings).
func sampleNegatives(rng *rand.Rand, universe []string, exclude string, numNegatives int) []string {
	pool := make([]string, 0, len(universe))
	var id string
	for _, id = range universe {
		if id != exclude {
			pool = append(pool, id)
		}
	}
	var i int
	for i = len(pool) - 1; i > 0; i-- {
		j := rng.Intn(i + 1)
		pool[i], pool[j] = pool[j], pool[i]
	}
	if numNegatives > len(pool) {
		numNegatives = len(pool)
	}

	return pool[:numNegatives]
}

// headScores caches, per scoring head, the intent projection Q_h (shared
// across candidates in one example) and each candidate's K_h, so
// backward doesn't need to recompute the forward projections.
type headScores struct {
	q []float64
	k map[string][]float64
}

// scoreBatch computes raw (pre-sigmoid) mean-head logits for intentEmbed
// against every id in ids, returning per-head caches for backward.
func scoreBatch(p *Params, engine *blas.Engine, intentEmbed []float64, embeds map[string][]float64, ids []string) (map[string]float64, []headScores, []float64) {
	intentProj := projectDense(engine, p.WIntent, intentEmbed)
	sqrtScoring := math.Sqrt(float64(p.ScoringDim))

	heads := make([]headScores, len(p.Scoring))
	var h int
	for h = range p.Scoring {
		heads[h] = headScores{q: projectDense(engine, p.Scoring[h].WQ, intentProj), k: make(map[string][]float64, len(ids))}
	}

	raw := make(map[string]float64, len(ids))
	var id string
	for _, id = range ids {
		var sum float64
		for h = range p.Scoring {
			kv := projectDense(engine, p.Scoring[h].WK, embeds[id])
			heads[h].k[id] = kv
			sum += dotSlice(heads[h].q, kv) / sqrtScoring
		}
		raw[id] = sum / float64(len(p.Scoring))
	}

	return raw, heads, intentProj
}

// Grads accumulates gradients for every learnable tensor touched by one
// training step: the scoring heads, W_intent, and — via dFinal — every
// message-passing phase that produced a scored candidate's embedding.
type Grads struct {
	dWqMat   []*blas.Dense
	dWkMat   []*blas.Dense
	DWIntent *blas.Dense
	DFinal   map[int]map[string][]float64
}

// TrainInfoNCE runs one contrastive example: scores the positive against
// numNegatives random negatives, computes softmax_tau over the raw
// logits, and backpropagates the InfoNCE loss into the scoring heads,
// W_intent, and (via the returned DFinal map) every message-passing
// phase upstream of the scored embeddings. It does not apply the SGD
// update itself; callers pass the returned Grads to ApplyGrads.
func TrainInfoNCE(p *Params, engine *blas.Engine, ex Example, cand Candidates, tau float64, numNegatives int, rng *rand.Rand) (loss float64, tdError float64, grads *Grads) {
	if engine == nil {
		engine = blas.NewEngine()
	}

	negs := sampleNegatives(rng, ex.Universe, ex.PositiveID, numNegatives)
	ids := append([]string{ex.PositiveID}, negs...)

	raw, heads, intentProj := scoreBatch(p, engine, ex.IntentEmbed, cand.Embed, ids)

	logits := make([]float64, len(ids))
	var i int
	var id string
	for i, id = range ids {
		logits[i] = raw[id] / tau
	}
	sm := softmaxLocal(logits)
	loss = -math.Log(math.Max(sm[0], 1e-12))
	tdError = math.Abs(1 - sm[0])

	dLogit := make(map[string]float64, len(ids))
	for i, id = range ids {
		if i == 0 {
			dLogit[id] = (sm[0] - 1) / tau
		} else {
			dLogit[id] = sm[i] / tau
		}
	}

	grads = &Grads{
		dWqMat: make([]*blas.Dense, len(p.Scoring)),
		dWkMat: make([]*blas.Dense, len(p.Scoring)),
		DFinal: make(map[int]map[string][]float64),
	}
	grads.DWIntent, _ = blas.NewDense(p.WIntent.Rows(), p.WIntent.Cols())

	sqrtScoring := math.Sqrt(float64(p.ScoringDim))
	numHeads := float64(len(p.Scoring))
	dIntentProj := make([]float64, len(intentProj))
	dEmbed := make(map[string][]float64, len(ids))

	var h int
	for h = range p.Scoring {
		grads.dWqMat[h], _ = blas.NewDense(p.Scoring[h].WQ.Rows(), p.Scoring[h].WQ.Cols())
		grads.dWkMat[h], _ = blas.NewDense(p.Scoring[h].WK.Rows(), p.Scoring[h].WK.Cols())

		dQ := make([]float64, len(heads[h].q))
		for _, id = range ids {
			dl := dLogit[id] / numHeads / sqrtScoring
			k := heads[h].k[id]
			axpyLocal(dQ, dl, k)

			dK := scaleLocal(heads[h].q, dl)
			outerAdd(grads.dWkMat[h], dK, cand.Embed[id])
			if dEmbed[id] == nil {
				dEmbed[id] = make([]float64, len(cand.Embed[id]))
			}
			transposeAddInto(dEmbed[id], p.Scoring[h].WK, dK)
		}
		outerAdd(grads.dWqMat[h], dQ, intentProj)
		transposeAddInto(dIntentProj, p.Scoring[h].WQ, dQ)
	}
	outerAdd(grads.DWIntent, dIntentProj, ex.IntentEmbed)

	for _, id = range ids {
		lvl := cand.Level[id]
		if grads.DFinal[lvl] == nil {
			grads.DFinal[lvl] = make(map[string][]float64)
		}
		grads.DFinal[lvl][id] = dEmbed[id]
	}

	return loss, tdError, grads
}

// ApplyGrads clips the combined scoring + message-passing gradient to L2
// norm 5.0 and applies plain SGD with the given learning rate (§4.3). mpGrads
// is the result of messagepassing.BackwardMultiLevel on grads.DFinal.
func ApplyGrads(p *Params, grads *Grads, mpGrads messagepassing.MultiLevelGrads, lr float64) float64 {
	norm := GradNorm(grads, mpGrads)
	scale := 1.0
	if norm > clipNorm && norm > 0 {
		scale = clipNorm / norm
	}

	var h int
	for h = range p.Scoring {
		applyDense(p.Scoring[h].WQ, grads.dWqMat[h], lr*scale)
		applyDense(p.Scoring[h].WK, grads.dWkMat[h], lr*scale)
	}
	applyDense(p.WIntent, grads.DWIntent, lr*scale)

	applyHeadGrads(p.V0, mpGrads.V0, lr*scale, false)
	var k int
	var bg messagepassing.BipartiteGrads
	for k, bg = range mpGrads.Up {
		applyHeadGrads(p.Up[k], bg, lr*scale, false)
	}
	for k, bg = range mpGrads.Down {
		applyHeadGrads(p.Down[k], bg, lr*scale, true)
	}

	p.V2V.ResidualLogit -= lr * scale * mpGrads.V2V.DResidualLogit
	p.V2V.TemperatureLogit -= lr * scale * mpGrads.V2V.DTemperatureLogit

	return norm
}

func applyHeadGrads(heads []messagepassing.HeadParams, bg messagepassing.BipartiteGrads, lrScale float64, downward bool) {
	var i int
	for i = range heads {
		if i >= len(bg.Heads) {
			break
		}
		applyDense(heads[i].WChild, bg.Heads[i].DWChild, lrScale)
		applyDense(heads[i].WParent, bg.Heads[i].DWParent, lrScale)
		attn := heads[i].AUpward
		if downward {
			attn = heads[i].ADownward
		}
		var j int
		for j = range attn {
			attn[j] -= lrScale * bg.Heads[i].DAttn[j]
		}
	}
}

func applyDense(w, dw *blas.Dense, lrScale float64) {
	if dw == nil {
		return
	}
	var i, j int
	for i = 0; i < w.Rows(); i++ {
		for j = 0; j < w.Cols(); j++ {
			cur, _ := w.At(i, j)
			d, _ := dw.At(i, j)
			_ = w.Set(i, j, cur-lrScale*d)
		}
	}
}

// GradNorm computes the L2 norm over every gradient tensor a training
// step touched (scoring heads, W_intent, and every message-passing phase
// gradient), the quantity §4.3's clip-at-5.0 rule is applied to.
func GradNorm(grads *Grads, mpGrads messagepassing.MultiLevelGrads) float64 {
	var sumSq float64
	var d *blas.Dense
	for _, d = range grads.dWqMat {
		sumSq += sumSqDense(d)
	}
	for _, d = range grads.dWkMat {
		sumSq += sumSqDense(d)
	}
	sumSq += sumSqDense(grads.DWIntent)

	addHeadSumSq := func(bg messagepassing.BipartiteGrads) {
		var hg messagepassing.HeadGrad
		for _, hg = range bg.Heads {
			sumSq += sumSqDense(hg.DWChild)
			sumSq += sumSqDense(hg.DWParent)
			sumSq += sumSqSlice(hg.DAttn)
		}
	}
	addHeadSumSq(mpGrads.V0)
	var bg messagepassing.BipartiteGrads
	for _, bg = range mpGrads.Up {
		addHeadSumSq(bg)
	}
	for _, bg = range mpGrads.Down {
		addHeadSumSq(bg)
	}
	sumSq += mpGrads.V2V.DResidualLogit * mpGrads.V2V.DResidualLogit
	sumSq += mpGrads.V2V.DTemperatureLogit * mpGrads.V2V.DTemperatureLogit

	return math.Sqrt(sumSq)
}

func sumSqDense(d *blas.Dense) float64 {
	if d == nil {
		return 0
	}
	var sum float64
	var i, j int
	for i = 0; i < d.Rows(); i++ {
		for j = 0; j < d.Cols(); j++ {
			v, _ := d.At(i, j)
			sum += v * v
		}
	}

	return sum
}

func sumSqSlice(v []float64) float64 {
	var sum float64
	var x float64
	for _, x = range v {
		sum += x * x
	}

	return sum
}

func outerAdd(dst *blas.Dense, g, x []float64) {
	var i, j int
	for i = 0; i < dst.Rows(); i++ {
		for j = 0; j < dst.Cols(); j++ {
			cur, _ := dst.At(i, j)
			_ = dst.Set(i, j, cur+g[i]*x[j])
		}
	}
}

func transposeAddInto(dst []float64, w *blas.Dense, g []float64) {
	var i, j int
	for i = 0; i < w.Rows(); i++ {
		for j = 0; j < w.Cols(); j++ {
			v, _ := w.At(i, j)
			dst[j] += v * g[i]
		}
	}
}

func axpyLocal(dst []float64, a float64, x []float64) {
	var i int
	for i = range dst {
		dst[i] += a * x[i]
	}
}

func scaleLocal(v []float64, s float64) []float64 {
	out := make([]float64, len(v))
	var i int
	for i = range v {
		out[i] = v[i] * s
	}

	return out
}

func softmaxLocal(logits []float64) []float64 {
	maxV := logits[0]
	var v float64
	for _, v = range logits {
		if v > maxV {
			maxV = v
		}
	}
	out := make([]float64, len(logits))
	var sum float64
	var i int
	for i, v = range logits {
		out[i] = math.Exp(v - maxV)
		sum += out[i]
	}
	for i = range out {
		out[i] /= sum
	}

	return out
}

// TrainBCE is the bootstrap-only fallback for traces with no negatives
// (§4.3: "retained only for bootstrap traces"). label is 1 for a positive
// outcome, 0 for a recorded failure; the standard BCE derivative on the
// sigmoid score is backpropagated the same way InfoNCE's dLogit is.
func TrainBCE(p *Params, engine *blas.Engine, intentEmbed string, embed []float64, intentVec []float64, level int, label float64) (loss float64, grads *Grads) {
	if engine == nil {
		engine = blas.NewEngine()
	}
	cand := Candidates{Embed: map[string][]float64{intentEmbed: embed}, Level: map[string]int{intentEmbed: level}}
	raw, heads, intentProj := scoreBatch(p, engine, intentVec, cand.Embed, []string{intentEmbed})
	s := sigmoid(raw[intentEmbed])
	loss = -(label*math.Log(math.Max(s, 1e-12)) + (1-label)*math.Log(math.Max(1-s, 1e-12)))
	dLogit := s - label

	grads = &Grads{
		dWqMat: make([]*blas.Dense, len(p.Scoring)),
		dWkMat: make([]*blas.Dense, len(p.Scoring)),
		DFinal: map[int]map[string][]float64{level: {intentEmbed: make([]float64, len(embed))}},
	}
	grads.DWIntent, _ = blas.NewDense(p.WIntent.Rows(), p.WIntent.Cols())

	sqrtScoring := math.Sqrt(float64(p.ScoringDim))
	numHeads := float64(len(p.Scoring))
	dIntentProj := make([]float64, len(intentProj))

	var h int
	for h = range p.Scoring {
		grads.dWqMat[h], _ = blas.NewDense(p.Scoring[h].WQ.Rows(), p.Scoring[h].WQ.Cols())
		grads.dWkMat[h], _ = blas.NewDense(p.Scoring[h].WK.Rows(), p.Scoring[h].WK.Cols())

		dl := dLogit / numHeads / sqrtScoring
		k := heads[h].k[intentEmbed]
		dQ := scaleLocal(k, dl)
		dK := scaleLocal(heads[h].q, dl)

		outerAdd(grads.dWqMat[h], dQ, intentProj)
		outerAdd(grads.dWkMat[h], dK, embed)
		transposeAddInto(dIntentProj, p.Scoring[h].WQ, dQ)
		transposeAddInto(grads.DFinal[level][intentEmbed], p.Scoring[h].WK, dK)
	}
	outerAdd(grads.DWIntent, dIntentProj, intentVec)

	return loss, grads
}
