package hypergraph

import (
	"errors"
	"time"
)

// Kind selects which overlay an edge operation applies to.
type Kind int

const (
	KindTool Kind = iota
	KindCapability
)

// EdgeType enumerates the dependency-edge relationships.
type EdgeType string

const (
	EdgeContains     EdgeType = "contains"
	EdgeSequence     EdgeType = "sequence"
	EdgeAlternative  EdgeType = "alternative"
	EdgeDependency   EdgeType = "dependency"
)

// EdgeSource enumerates how a dependency edge was observed.
type EdgeSource string

const (
	SourceObserved EdgeSource = "observed"
	SourceInferred EdgeSource = "inferred"
	SourceTemplate EdgeSource = "template"
)

// Permission tags a capability's required privilege band.
type Permission string

const (
	PermMinimal     Permission = "minimal"
	PermReadonly    Permission = "readonly"
	PermFilesystem  Permission = "filesystem"
	PermNetworkAPI  Permission = "network-api"
	PermMCPStandard Permission = "mcp-standard"
	PermTrusted     Permission = "trusted"
)

// promotionThreshold is the observed_count at which an inferred edge becomes observed (§3).
const promotionThreshold = 3

// typeWeight and sourceModifier implement the weight formula from §3:
// weight = edge_type_weight × edge_source_modifier.
var typeWeight = map[EdgeType]float64{
	EdgeDependency:  1.0,
	EdgeContains:    0.8,
	EdgeAlternative: 0.6,
	EdgeSequence:    0.5,
}

var sourceModifier = map[EdgeSource]float64{
	SourceObserved: 1.0,
	SourceInferred: 0.7,
	SourceTemplate: 0.5,
}

// edgeWeight computes the weight for a (type, source) pair.
func edgeWeight(t EdgeType, s EdgeSource) float64 {
	return typeWeight[t] * sourceModifier[s]
}

// Sentinel errors for hypergraph operations.
var (
	ErrEmptyID          = errors.New("hypergraph: id is empty")
	ErrSelfLoop         = errors.New("hypergraph: self-loop edges are not allowed")
	ErrToolNotFound     = errors.New("hypergraph: tool not found")
	ErrCapNotFound      = errors.New("hypergraph: capability not found")
	ErrChildNotFound    = errors.New("hypergraph: child capability not found")
	ErrEmbeddingMissing = errors.New("hypergraph: embedding is required")
	ErrNoPath           = errors.New("hypergraph: no path between nodes")
)

// Tool is a tool vertex (V).
type Tool struct {
	ID         string
	Embedding  []float64
	Alpha      float64 // success-rate beta-distribution alpha
	Beta       float64 // success-rate beta-distribution beta
	LastUsed   time.Time
	Tombstoned bool
}

// SuccessRate returns the beta-distribution mean alpha/(alpha+beta), or 0.5
// (maximally uncertain) when no observations have been recorded yet.
func (t *Tool) SuccessRate() float64 {
	if t.Alpha+t.Beta == 0 {
		return 0.5
	}

	return t.Alpha / (t.Alpha + t.Beta)
}

// Capability is a capability hyperedge (E) at level k.
type Capability struct {
	ID              string
	Level           int
	Embedding       []float64
	ToolInvocations []string // ordered, may repeat
	ToolsUsed       map[string]struct{}
	Alpha           float64
	Beta            float64
	Children        []string // level-(k-1) capability ids composing this one (level>=1 only)
	Permission      Permission
}

// SuccessRate returns the beta-distribution mean, defaulting to 0.5 when unobserved.
func (c *Capability) SuccessRate() float64 {
	if c.Alpha+c.Beta == 0 {
		return 0.5
	}

	return c.Alpha / (c.Alpha + c.Beta)
}

// DependencyEdge is a (from, to) relationship in either overlay.
type DependencyEdge struct {
	From            string
	To              string
	Type            EdgeType
	Source          EdgeSource
	ObservedCount   int
	ConfidenceScore float64
	LastObserved    time.Time
	Weight          float64
}
