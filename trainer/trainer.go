package trainer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/shgat/runtime/embedding"
	"github.com/shgat/runtime/hypergraph"
	"github.com/shgat/runtime/paramstore"
	"github.com/shgat/runtime/shgat"
	"github.com/shgat/runtime/tracestore"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Sentinel errors from §7's trainer error taxonomy. Each leaves traces and
// params untouched; the caller may retry on the next tick.
var (
	ErrTrainTimeout      = errors.New("trainer: training subprocess exceeded its wall-clock budget")
	ErrTrainProtocolError = errors.New("trainer: subprocess produced a malformed response")
	ErrTrainChildCrash   = errors.New("trainer: subprocess exited with an error")
	ErrBusy              = errors.New("trainer: a training round is already in flight")
	ErrBreakerOpen       = errors.New("trainer: circuit breaker is open after repeated failures")
)

// Config holds the knobs §6 lists for the trainer.
type Config struct {
	NumNegatives int
	Tau          float64
	LR           float64
	TrainTimeout time.Duration
	BatchSize    int
}

// Trainer drives incremental SHGAT training rounds from TraceStore
// samples via an isolated subprocess (§4.5, §5 "Trainer subprocess").
// Exactly one round runs at a time: a concurrent call while busy returns
// ErrBusy immediately rather than queuing (§5: "busy → drop request").
type Trainer struct {
	BinaryPath string
	Hypergraph *hypergraph.Store
	Traces     *tracestore.Store
	Embeddings embedding.Provider
	Model      *shgat.Model
	ParamStore paramstore.Store
	ParamKey   string
	Log        *zap.Logger
	Cfg        Config

	busy    atomic.Bool
	breaker *gobreaker.CircuitBreaker
	once    sync.Once

	mu       sync.Mutex
	proc     *exec.Cmd
	procDone chan struct{}
}

// breakerInit lazily builds the circuit breaker wrapping subprocess
// invocations: it opens after 3 consecutive failed subprocess runs (crash,
// timeout or malformed response) so a wedged training binary isn't retried on every trace tick
// (§11 domain stack: gobreaker wired to Trainer.trainIncremental).
func (t *Trainer) breakerInit() {
	t.once.Do(func() {
		t.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "shgat-trainer",
			MaxRequests: 1,
			Interval:    0,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				if t.Log != nil {
					t.Log.Warn("trainer: circuit breaker state change",
						zap.String("name", name), zap.String("from", from.String()), zap.String("to", to.String()))
				}
			},
		})
	})
}

// TrainIncremental runs one training round: it samples up to maxTraces by
// priority, builds InfoNCE examples, spawns the subprocess, and on
// success imports the returned params and feeds TD errors back to
// TraceStore (§4.5 steps 1-7).
func (t *Trainer) TrainIncremental(ctx context.Context, maxTraces, epochs int) error {
	if !t.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer t.busy.Store(false)

	t.breakerInit()

	traces := t.Traces.GetTracesByPriority(maxTraces)
	if len(traces) == 0 {
		return nil
	}

	req, traceIDs, err := t.buildRequest(traces, epochs)
	if err != nil {
		return fmt.Errorf("trainer.TrainIncremental: %w", err)
	}
	if len(req.Examples) == 0 {
		return nil
	}

	timeout := t.Cfg.TrainTimeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resultAny, err := t.breaker.Execute(func() (interface{}, error) {
		return t.runSubprocess(runCtx, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) {
			return ErrBreakerOpen
		}

		return err
	}
	resp := resultAny.(*Response)

	if !resp.Success {
		return fmt.Errorf("trainer.TrainIncremental: %w: %s", ErrTrainProtocolError, resp.Error)
	}

	params, err := shgat.ImportParams(resp.Params, t.Model.Params().D)
	if err != nil {
		return fmt.Errorf("trainer.TrainIncremental: %w", err)
	}
	if err = t.Model.SwapParams(params); err != nil {
		return fmt.Errorf("trainer.TrainIncremental: %w", err)
	}

	if t.ParamStore != nil {
		if err = t.ParamStore.Put(ctx, t.ParamKey, paramstore.Record{
			ParamsJSON: resp.Params, SchemaVersion: shgat.SchemaVersion, UpdatedAt: time.Now(),
		}); err != nil {
			t.Log.Warn("trainer: param store write failed", zap.Error(err))
		}
	}

	ids := traceIDs
	if len(resp.TraceIDs) == len(resp.TDErrors) && len(resp.TraceIDs) > 0 {
		ids = resp.TraceIDs
	}
	if len(ids) == len(resp.TDErrors) {
		if err = t.Traces.UpdatePriorities(ids, resp.TDErrors); err != nil {
			t.Log.Warn("trainer: priority update failed", zap.Error(err))
		}
	}

	return nil
}

// buildRequest constructs the subprocess request from sampled traces,
// skipping any whose capability was retired in the meantime — the trace
// itself stays in TraceStore so its priority statistics aren't lost, but
// no training example is built for it (§12 "Retired-capability trace
// handling": resolved as skip at batch-build time).
func (t *Trainer) buildRequest(traces []*tracestore.Trace, epochs int) (Request, []string, error) {
	capIDs := make(map[string]struct{})
	var id string
	for _, id = range t.Hypergraph.Capabilities() {
		capIDs[id] = struct{}{}
	}

	views := make([]CapabilityView, 0, len(capIDs))
	for id = range capIDs {
		c, err := t.Hypergraph.Capability(id)
		if err != nil {
			continue
		}
		views = append(views, CapabilityView{ID: id, Level: c.Level, Embedding: c.Embedding, SuccessRate: c.SuccessRate()})
	}

	examples := make([]TrainingExample, 0, len(traces))
	ids := make([]string, 0, len(traces))
	var tr *tracestore.Trace
	for _, tr = range traces {
		if _, ok := capIDs[tr.CapabilityID]; !ok {
			t.Log.Info("trainer: skipping trace referencing retired capability",
				zap.String("trace_id", tr.TraceID), zap.String("capability_id", tr.CapabilityID))

			continue
		}
		intentVec, err := t.Embeddings.Encode(tr.IntentText)
		if err != nil {
			continue
		}
		examples = append(examples, TrainingExample{TraceID: tr.TraceID, IntentEmbedding: intentVec, PositiveCapID: tr.CapabilityID})
		ids = append(ids, tr.TraceID)
	}

	existing, err := shgat.ExportParams(t.Model.Params(), time.Now().Unix())
	if err != nil {
		return Request{}, nil, err
	}

	return Request{
		Capabilities:   views,
		Examples:       examples,
		Config:         TrainConfig{Epochs: epochs, BatchSize: t.Cfg.BatchSize},
		ExistingParams: existing,
		NumNegatives:   t.Cfg.NumNegatives,
		Tau:            t.Cfg.Tau,
		LR:             t.Cfg.LR,
		Seed:           time.Now().UnixNano(),
	}, ids, nil
}

// runSubprocess spawns the training kernel binary, writes the request as a
// single JSON document to stdin, and reads stdout/stderr from two
// independent goroutines (§9: sequential reads deadlock on medium
// payloads). SIGTERM is sent on ctx cancellation; a crash or malformed
// response maps to the §7 sentinel errors.
func (t *Trainer) runSubprocess(ctx context.Context, req Request) (*Response, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("trainer.runSubprocess: %w", err)
	}

	cmd := exec.CommandContext(ctx, t.BinaryPath)
	cmd.Stdin = bytes.NewReader(payload)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("trainer.runSubprocess: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("trainer.runSubprocess: %w", err)
	}

	t.mu.Lock()
	t.proc = cmd
	t.procDone = make(chan struct{})
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		close(t.procDone)
		t.proc = nil
		t.mu.Unlock()
	}()

	if err = cmd.Start(); err != nil {
		return nil, fmt.Errorf("trainer.runSubprocess: %w: %v", ErrTrainChildCrash, err)
	}

	var outBuf, errBuf bytes.Buffer
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, copyErr := outBuf.ReadFrom(stdout)

		return copyErr
	})
	g.Go(func() error {
		_, copyErr := errBuf.ReadFrom(stderr)

		return copyErr
	})

	waitErr := cmd.Wait()
	_ = g.Wait()

	if errBuf.Len() > 0 && t.Log != nil {
		t.Log.Info("trainer: subprocess stderr", zap.String("output", errBuf.String()))
	}

	if waitErr != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrTrainTimeout
		}

		return nil, fmt.Errorf("trainer.runSubprocess: %w: %v", ErrTrainChildCrash, waitErr)
	}

	var resp Response
	if err = json.Unmarshal(outBuf.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("trainer.runSubprocess: %w: %v", ErrTrainProtocolError, err)
	}

	return &resp, nil
}

// Close performs graceful shutdown of any in-flight subprocess: SIGTERM,
// a 2s grace period, then SIGKILL (§5, §12 "Graceful shutdown"). Output
// from a subprocess killed during Close is discarded.
func (t *Trainer) Close(ctx context.Context) error {
	t.mu.Lock()
	proc := t.proc
	done := t.procDone
	t.mu.Unlock()

	if proc == nil || proc.Process == nil {
		return nil
	}

	_ = proc.Process.Signal(syscall.SIGTERM)

	select {
	case <-done:
		return nil
	case <-time.After(2 * time.Second):
		_ = proc.Process.Kill()
	case <-ctx.Done():
		_ = proc.Process.Kill()

		return ctx.Err()
	}

	return nil
}
