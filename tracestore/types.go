package tracestore

import (
	"errors"
	"time"
)

// TraceType enumerates the lifecycle events a trace records.
type TraceType string

const (
	ToolStart         TraceType = "tool_start"
	ToolEnd           TraceType = "tool_end"
	CapabilityStart   TraceType = "capability_start"
	CapabilityEnd     TraceType = "capability_end"
)

// Outcome is the terminal result of a trace's execution.
type Outcome string

const (
	Success Outcome = "success"
	Fail    Outcome = "fail"
)

// priorityFloor and priorityCeil bound the clamped priority range from §4.6.
const (
	priorityFloor = 1e-6
	priorityCeil  = 1.0
	priorityAlpha = 0.6
)

// Sentinel errors for tracestore operations.
var (
	ErrEmptyTraceID        = errors.New("tracestore: trace id is empty")
	ErrParentNotFound      = errors.New("tracestore: parent_trace_id does not reference a known trace")
	ErrUnmatchedEnd        = errors.New("tracestore: capability_end without a matching capability_start")
	ErrTraceNotFound       = errors.New("tracestore: trace not found")
)

// Trace is one PER sampling unit: a single lifecycle event plus enough
// context to rebuild a training example (intent, executed path, outcome).
type Trace struct {
	TraceID       string
	ParentTraceID string
	Timestamp     time.Time
	Type          TraceType
	ToolOrCapID   string
	ArgsHash      string
	Outcome       Outcome
	DurationMS    int64
	IntentText    string
	ExecutedPath  []string
	CapabilityID  string
	Priority      float64
}

// clampPriority applies the [1e-6, 1.0] clamp from §4.6 to a raw |td|^0.6 value.
func clampPriority(p float64) float64 {
	if p < priorityFloor {
		return priorityFloor
	}
	if p > priorityCeil {
		return priorityCeil
	}

	return p
}
