// Package trainer drives SHGAT updates from a streaming trace log without
// blocking the serving path (§4.5 C6 PER Trainer). The parent process
// samples traces by priority, builds InfoNCE examples, and hands the work
// to a subprocess implementing the pure-function training kernel over a
// single JSON document on stdin/stdout (§4.5 steps 4-5, §9: subprocess IPC
// over JSON on stdio is load-bearing).
package trainer

// CapabilityView is one capability's data as seen by the training kernel:
// just enough to score and backprop, never the whole hypergraph.
type CapabilityView struct {
	ID          string    `json:"id"`
	Level       int       `json:"level"`
	Embedding   []float64 `json:"embedding"`
	SuccessRate float64   `json:"success_rate"`
}

// TrainingExample is one InfoNCE unit built from a sampled trace (§4.5 step 3).
type TrainingExample struct {
	TraceID          string    `json:"trace_id"`
	IntentEmbedding  []float64 `json:"intent_embedding"`
	PositiveCapID    string    `json:"positive_cap_id"`
}

// TrainConfig carries the epoch/batch knobs that distinguish batch vs live
// training modes (§4.5: "Batch vs live modes differ only in (epochs, maxTraces)").
type TrainConfig struct {
	Epochs    int `json:"epochs"`
	BatchSize int `json:"batch_size"`
}

// Request is the single JSON document the parent writes to the
// subprocess's stdin (§4.5 step 4, §6 "Trainer subprocess wire format").
type Request struct {
	Capabilities   []CapabilityView  `json:"capabilities"`
	Examples       []TrainingExample `json:"examples"`
	Config         TrainConfig       `json:"config"`
	ExistingParams []byte            `json:"existing_params,omitempty"`
	NumNegatives   int               `json:"num_negatives"`
	Tau            float64           `json:"tau"`
	LR             float64           `json:"lr"`
	Seed           int64             `json:"seed"`
}

// Response is the single JSON document the subprocess writes to stdout on
// completion (§6). Error is populated, and every other field left zero,
// on failure.
type Response struct {
	Success       bool      `json:"success"`
	FinalLoss     float64   `json:"final_loss,omitempty"`
	FinalAccuracy float64   `json:"final_accuracy,omitempty"`
	Params        []byte    `json:"params,omitempty"`
	TDErrors      []float64 `json:"td_errors,omitempty"`
	TraceIDs      []string  `json:"trace_ids,omitempty"`
	GradNorm      float64   `json:"grad_norm,omitempty"`
	Error         string    `json:"error,omitempty"`
}
