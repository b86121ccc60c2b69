// Command shgat-trainer is the subprocess training kernel §4.5 and §9
// describe: a pure function over a single JSON document on stdin,
// producing a single JSON document on stdout. It never reads the
// hypergraph directly — only the capability embeddings, success rates,
// and InfoNCE examples the parent already extracted — so it has no
// access to message-passing topology and trains the SHGAT scoring heads
// (W_q, W_k, W_intent) only; the parent's orchestrator owns the
// message-passing phases' own gradients (see DESIGN.md).
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"os"

	"github.com/shgat/runtime/blas"
	"github.com/shgat/runtime/messagepassing"
	"github.com/shgat/runtime/shgat"
	"github.com/shgat/runtime/trainer"
)

func main() {
	resp := run()
	out, err := json.Marshal(resp)
	if err != nil {
		fmt.Fprintln(os.Stderr, "shgat-trainer: marshal response:", err)
		os.Exit(1)
	}
	if _, err = os.Stdout.Write(out); err != nil {
		fmt.Fprintln(os.Stderr, "shgat-trainer: write response:", err)
		os.Exit(1)
	}
}

func run() trainer.Response {
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return trainer.Response{Error: fmt.Sprintf("read stdin: %v", err)}
	}

	var req trainer.Request
	if err = json.Unmarshal(data, &req); err != nil {
		return trainer.Response{Error: fmt.Sprintf("unmarshal request: %v", err)}
	}
	if len(req.Capabilities) == 0 {
		return trainer.Response{Error: "no capabilities supplied"}
	}

	d := len(req.Capabilities[0].Embedding)
	params, err := shgat.ImportParams(req.ExistingParams, d)
	if err != nil {
		return trainer.Response{Error: fmt.Sprintf("import params: %v", err)}
	}

	cand := shgat.Candidates{
		Embed: make(map[string][]float64, len(req.Capabilities)),
		Level: make(map[string]int, len(req.Capabilities)),
	}
	universe := make([]string, 0, len(req.Capabilities))
	var cv trainer.CapabilityView
	for _, cv = range req.Capabilities {
		cand.Embed[cv.ID] = cv.Embedding
		cand.Level[cv.ID] = cv.Level
		universe = append(universe, cv.ID)
	}

	rng := rand.New(rand.NewSource(req.Seed))
	engine := blas.NewEngine()

	tau := req.Tau
	if tau == 0 {
		tau = 0.1
	}
	lr := req.LR
	if lr == 0 {
		lr = 0.01
	}
	numNeg := req.NumNegatives
	if numNeg == 0 {
		numNeg = 4
	}
	epochs := req.Config.Epochs
	if epochs <= 0 {
		epochs = 1
	}

	var finalLoss, finalAccuracy, gradNorm float64
	tdErrors := make([]float64, len(req.Examples))
	traceIDs := make([]string, len(req.Examples))

	var epoch int
	for epoch = 0; epoch < epochs; epoch++ {
		order := rng.Perm(len(req.Examples))
		var correct int
		var totalLoss float64

		var oi int
		for oi = range order {
			ex := req.Examples[order[oi]]
			if _, ok := cand.Embed[ex.PositiveCapID]; !ok {
				continue
			}

			example := shgat.Example{IntentEmbed: ex.IntentEmbedding, PositiveID: ex.PositiveCapID, Universe: universe}
			loss, tdErr, grads := shgat.TrainInfoNCE(params, engine, example, cand, tau, numNeg, rng)
			gradNorm = shgat.ApplyGrads(params, grads, messagepassing.MultiLevelGrads{}, lr)

			totalLoss += loss
			if tdErr < 0.5 {
				correct++
			}
			tdErrors[order[oi]] = tdErr
			traceIDs[order[oi]] = ex.TraceID
		}

		if len(req.Examples) > 0 {
			finalLoss = totalLoss / float64(len(req.Examples))
			finalAccuracy = float64(correct) / float64(len(req.Examples))
		}
	}

	blob, err := shgat.ExportParams(params, 0)
	if err != nil {
		return trainer.Response{Error: fmt.Sprintf("export params: %v", err)}
	}

	return trainer.Response{
		Success:       true,
		FinalLoss:     finalLoss,
		FinalAccuracy: finalAccuracy,
		Params:        blob,
		TDErrors:      tdErrors,
		TraceIDs:      traceIDs,
		GradNorm:      gradNorm,
	}
}
