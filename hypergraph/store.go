package hypergraph

import (
	"fmt"
	"sync"
	"time"

	"github.com/shgat/runtime/bfs"
	"github.com/shgat/runtime/core"
	"github.com/shgat/runtime/dfs"
	"github.com/shgat/runtime/dijkstra"
	"go.uber.org/zap"
)

// Store is the memory-resident hypergraph: tool vertices, capability
// hyperedges, and their tool-tool / cap-cap overlays. All mutation methods
// take a single write lock; reads take a read lock, matching the
// single-writer concurrency model in §5.
type Store struct {
	mu sync.RWMutex

	tools map[string]*Tool
	caps  map[string]*Capability

	// parentIndex[childID] = set of capability ids that list childID in Children.
	parentIndex map[string]map[string]struct{}

	toolGraph *core.Graph // tool-tool dependency overlay (V→V)
	capGraph  *core.Graph // capability-capability dependency overlay

	toolDepIndex map[string]*DependencyEdge // edgeKey -> DependencyEdge, tool overlay
	capDepIndex  map[string]*DependencyEdge // edgeKey -> DependencyEdge, capability overlay

	log *zap.Logger
}

// New returns an empty Store. log may be zap.NewNop() in tests. Both overlays
// are directed graphs in mixed mode, which core requires before AddEdge
// accepts the edge attributes syncOverlayEdge attaches.
func New(log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}

	return &Store{
		tools:        make(map[string]*Tool),
		caps:         make(map[string]*Capability),
		parentIndex:  make(map[string]map[string]struct{}),
		toolGraph:    core.NewGraph(core.WithDirected(true), core.WithWeighted(), core.WithMixedEdges()),
		capGraph:     core.NewGraph(core.WithDirected(true), core.WithWeighted(), core.WithMixedEdges()),
		toolDepIndex: make(map[string]*DependencyEdge),
		capDepIndex:  make(map[string]*DependencyEdge),
		log:          log,
	}
}

// UpsertTool creates or refreshes a tool vertex. Idempotent: re-upserting
// with the same embedding is a no-op beyond touching LastUsed; a differing
// embedding on an existing tool logs InvariantViolation and is ignored
// (embeddings are immutable per §4.1).
func (s *Store) UpsertTool(id string, embedding []float64) error {
	if id == "" {
		return ErrEmptyID
	}
	if len(embedding) == 0 {
		return fmt.Errorf("hypergraph.UpsertTool(%s): %w", id, ErrEmbeddingMissing)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.tools[id]
	if ok {
		if !vecEqual(existing.Embedding, embedding) {
			s.log.Warn("hypergraph: UpsertTool ignored differing embedding for existing tool",
				zap.String("tool_id", id))

			return nil
		}
		existing.LastUsed = time.Now()

		return nil
	}

	s.tools[id] = &Tool{ID: id, Embedding: embedding, LastUsed: time.Now()}

	return s.toolGraph.AddVertex(id)
}

// UpsertCapability creates or refreshes a capability hyperedge at the given
// level. children must already exist for level>=1; the child-union
// invariant (incidence = union of children's incidence) is enforced here.
func (s *Store) UpsertCapability(id string, level int, embedding []float64, children []string, invocations []string) error {
	if id == "" {
		return ErrEmptyID
	}
	if len(embedding) == 0 {
		return fmt.Errorf("hypergraph.UpsertCapability(%s): %w", id, ErrEmbeddingMissing)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	toolsUsed := make(map[string]struct{})

	if level == 0 {
		var t string
		for _, t = range invocations {
			toolsUsed[t] = struct{}{}
		}
	} else {
		var childID string
		for _, childID = range children {
			child, ok := s.caps[childID]
			if !ok {
				return fmt.Errorf("hypergraph.UpsertCapability(%s): %w: %s", id, ErrChildNotFound, childID)
			}
			var tool string
			for tool = range child.ToolsUsed {
				toolsUsed[tool] = struct{}{}
			}
		}
	}

	if existing, ok := s.caps[id]; ok {
		if !vecEqual(existing.Embedding, embedding) {
			s.log.Warn("hypergraph: UpsertCapability ignored differing embedding for existing capability",
				zap.String("capability_id", id))

			return nil
		}
		existing.ToolInvocations = invocations
		existing.ToolsUsed = toolsUsed
		existing.Children = children
		s.reindexParents(id, children)

		return nil
	}

	s.caps[id] = &Capability{
		ID:              id,
		Level:           level,
		Embedding:       embedding,
		ToolInvocations: invocations,
		ToolsUsed:       toolsUsed,
		Children:        children,
		Permission:      PermMinimal,
	}
	s.reindexParents(id, children)

	return s.capGraph.AddVertex(id)
}

func (s *Store) reindexParents(parentID string, children []string) {
	var childID string
	for _, childID = range children {
		if s.parentIndex[childID] == nil {
			s.parentIndex[childID] = make(map[string]struct{})
		}
		s.parentIndex[childID][parentID] = struct{}{}
	}
}

// vecEqual compares two embeddings for exact equality (immutability check).
func vecEqual(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	var i int
	for i = range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}

// graphFor returns the overlay for the given Kind.
func (s *Store) graphFor(kind Kind) *core.Graph {
	if kind == KindTool {
		return s.toolGraph
	}

	return s.capGraph
}

// AddEdge creates or upgrades a dependency edge in the overlay selected by
// kind. Re-adding an existing (from,to,type) pair bumps observed_count and
// promotes inferred→observed at the threshold; weight is recomputed from
// the (possibly upgraded) source on every call, so it is monotone-non-
// decreasing for a fixed (type,source) trajectory (§4.1 invariant).
func (s *Store) AddEdge(kind Kind, from, to string, edgeType EdgeType, source EdgeSource) error {
	if from == "" || to == "" {
		return ErrEmptyID
	}
	if from == to {
		return fmt.Errorf("hypergraph.AddEdge(%s,%s): %w", from, to, ErrSelfLoop)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	g := s.graphFor(kind)
	if err := g.AddVertex(from); err != nil {
		return err
	}
	if err := g.AddVertex(to); err != nil {
		return err
	}

	key := edgeKey(from, to, edgeType)
	store := s.toolDeps(kind)

	existing, ok := store[key]
	if !ok {
		de := &DependencyEdge{
			From: from, To: to, Type: edgeType, Source: source,
			ObservedCount: 1, LastObserved: time.Now(),
			Weight: edgeWeight(edgeType, source),
		}
		store[key] = de
		if err := s.syncOverlayEdge(g, de); err != nil {
			return err
		}
		if kind == KindCapability && edgeType == EdgeContains {
			s.warnIfContainsCycle()
		}

		return nil
	}

	existing.ObservedCount++
	if existing.Source != SourceObserved && existing.ObservedCount >= promotionThreshold {
		existing.Source = SourceObserved
	} else if sourceRank(source) > sourceRank(existing.Source) {
		existing.Source = source
	}
	existing.LastObserved = time.Now()
	newWeight := edgeWeight(existing.Type, existing.Source)
	if newWeight > existing.Weight {
		existing.Weight = newWeight
	}

	if err := s.syncOverlayEdge(g, existing); err != nil {
		return err
	}

	if kind == KindCapability && edgeType == EdgeContains {
		s.warnIfContainsCycle()
	}

	return nil
}

// sourceRank orders sources so a stronger observation never downgrades an edge.
func sourceRank(s EdgeSource) int {
	switch s {
	case SourceObserved:
		return 2
	case SourceInferred:
		return 1
	default:
		return 0
	}
}

func edgeKey(from, to string, t EdgeType) string {
	return from + "\x00" + to + "\x00" + string(t)
}

// toolDeps lazily allocates per-kind dependency index storage. Declared as a
// method (not a field type switch) to keep AddEdge's locking simple.
func (s *Store) toolDeps(kind Kind) map[string]*DependencyEdge {
	if kind == KindTool {
		if s.toolDepIndex == nil {
			s.toolDepIndex = make(map[string]*DependencyEdge)
		}

		return s.toolDepIndex
	}
	if s.capDepIndex == nil {
		s.capDepIndex = make(map[string]*DependencyEdge)
	}

	return s.capDepIndex
}

// syncOverlayEdge replaces any existing (from,to) edge in g with one
// carrying de's current weight, since core.Graph doesn't support in-place
// weight mutation without a multi-edge graph.
func (s *Store) syncOverlayEdge(g *core.Graph, de *DependencyEdge) error {
	if g.HasEdge(de.From, de.To) {
		neighbors, err := g.Neighbors(de.From)
		if err != nil {
			return err
		}
		var e *core.Edge
		for _, e = range neighbors {
			if e.To == de.To {
				_ = g.RemoveEdge(e.ID)
			}
		}
	}
	_, err := g.AddEdge(de.From, de.To, de.Weight, core.WithEdgeAttrs(map[string]interface{}{
		"edge_type":      string(de.Type),
		"edge_source":    string(de.Source),
		"observed_count": de.ObservedCount,
	}))

	return err
}

// warnIfContainsCycle runs cycle detection restricted to contains edges and
// logs a warning if any are found; it never returns an error (§4.1: a
// contains-cycle is InvariantViolation, logged not fatal).
func (s *Store) warnIfContainsCycle() {
	sub := core.NewGraph(core.WithDirected(true), core.WithWeighted())
	var de *DependencyEdge
	for _, de = range s.capDepIndex {
		if de.Type != EdgeContains {
			continue
		}
		_ = sub.AddVertex(de.From)
		_ = sub.AddVertex(de.To)
		_, _ = sub.AddEdge(de.From, de.To, de.Weight)
	}

	found, cycles, err := dfs.DetectCycles(sub)
	if err != nil {
		s.log.Warn("hypergraph: contains-cycle detection failed", zap.Error(err))

		return
	}
	if found {
		s.log.Warn("hypergraph: contains edges form a cycle", zap.Any("cycles", cycles))
	}
}

// ShortestPathWeighted finds the cheapest path over the capability
// dependency overlay with edge cost 1/weight, so stronger dependency
// edges read as cheaper hops. Returns the path (including endpoints) or
// ErrNoPath.
//
// The cap-cap overlay is a DAG whenever its `contains` edges dominate
// (§4.1's own invariant: `contains` edges form a DAG); when
// dfs.TopologicalSort succeeds on the cost graph, a single O(V+E)
// topological relaxation gives the same shortest path as Dijkstra
// without the heap, so that fast path is tried first. `sequence` and
// `alternative` edges can still close a cycle across otherwise-DAG
// `contains` edges, in which case TopologicalSort returns
// dfs.ErrCycleDetected and this falls back to dijkstra.Dijkstra.
func (s *Store) ShortestPathWeighted(from, to string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	costGraph := core.NewGraph(core.WithDirected(true), core.WithWeighted())
	var de *DependencyEdge
	for _, de = range s.capDepIndex {
		_ = costGraph.AddVertex(de.From)
		_ = costGraph.AddVertex(de.To)
		if de.Weight <= 0 {
			continue
		}
		_, _ = costGraph.AddEdge(de.From, de.To, 1/de.Weight)
	}

	if !costGraph.HasVertex(from) || !costGraph.HasVertex(to) {
		return nil, fmt.Errorf("hypergraph.ShortestPathWeighted(%s,%s): %w", from, to, ErrNoPath)
	}

	if order, topoErr := dfs.TopologicalSort(costGraph); topoErr == nil {
		return shortestPathDAG(costGraph, order, from, to)
	}

	_, prev, err := dijkstra.Dijkstra(costGraph, dijkstra.Source(from), dijkstra.WithReturnPath())
	if err != nil {
		return nil, fmt.Errorf("hypergraph.ShortestPathWeighted(%s,%s): %w", from, to, err)
	}

	path := []string{to}
	cur := to
	for cur != from {
		p, ok := prev[cur]
		if !ok || p == "" {
			return nil, fmt.Errorf("hypergraph.ShortestPathWeighted(%s,%s): %w", from, to, ErrNoPath)
		}
		path = append([]string{p}, path...)
		cur = p
	}

	return path, nil
}

// shortestPathDAG relaxes edges in topological order starting at from,
// the standard single-pass DAG shortest-path algorithm (each vertex's
// distance is final the first time it is reached, since every
// predecessor already precedes it in order).
func shortestPathDAG(g *core.Graph, order []string, from, to string) ([]string, error) {
	dist := map[string]float64{from: 0}
	prev := make(map[string]string, len(order))

	reached := false
	var v string
	for _, v = range order {
		if v == from {
			reached = true
		}
		if !reached {
			continue
		}
		d, ok := dist[v]
		if !ok {
			continue
		}
		neighbors, err := g.Neighbors(v)
		if err != nil {
			return nil, fmt.Errorf("hypergraph.shortestPathDAG(%s,%s): %w", from, to, err)
		}
		var e *core.Edge
		for _, e = range neighbors {
			if e.From != v {
				continue
			}
			nd := d + e.Weight
			if cur, ok2 := dist[e.To]; !ok2 || nd < cur {
				dist[e.To] = nd
				prev[e.To] = v
			}
		}
	}

	if _, ok := dist[to]; !ok {
		return nil, fmt.Errorf("hypergraph.shortestPathDAG(%s,%s): %w", from, to, ErrNoPath)
	}

	path := []string{to}
	cur := to
	for cur != from {
		p, ok := prev[cur]
		if !ok {
			return nil, fmt.Errorf("hypergraph.shortestPathDAG(%s,%s): %w", from, to, ErrNoPath)
		}
		path = append([]string{p}, path...)
		cur = p
	}

	return path, nil
}

// Density returns |E_tool-tool| / (|V|·(|V|−1)), the graph-size-normalized
// co-occurrence edge density used to gate the V→V phase (§12).
func (s *Store) Density() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v := s.toolGraph.VertexCount()
	if v < 2 {
		return 0
	}

	return float64(s.toolGraph.EdgeCount()) / float64(v*(v-1))
}

// Capabilities returns every capability id in the store, across all levels.
func (s *Store) Capabilities() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.caps))
	var id string
	for id = range s.caps {
		out = append(out, id)
	}

	return out
}

// MaxLevel returns the highest capability level currently present, or -1
// if the store has no capabilities yet.
func (s *Store) MaxLevel() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	max := -1
	var c *Capability
	for _, c = range s.caps {
		if c.Level > max {
			max = c.Level
		}
	}

	return max
}

// ChildrenOf returns the capability ids directly composing cap (empty for level 0).
func (s *Store) ChildrenOf(capID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.caps[capID]
	if !ok {
		return nil, fmt.Errorf("hypergraph.ChildrenOf(%s): %w", capID, ErrCapNotFound)
	}

	return c.Children, nil
}

// ParentsOf returns the capability ids that directly compose around capID
// (the reverse of ChildrenOf).
func (s *Store) ParentsOf(capID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.caps[capID]; !ok {
		return nil, fmt.Errorf("hypergraph.ParentsOf(%s): %w", capID, ErrCapNotFound)
	}

	parents := make([]string, 0, len(s.parentIndex[capID]))
	var p string
	for p = range s.parentIndex[capID] {
		parents = append(parents, p)
	}

	return parents, nil
}

// CapsByLevel returns every capability id at the given level.
func (s *Store) CapsByLevel(level int) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0)
	var id string
	var c *Capability
	for id, c = range s.caps {
		if c.Level == level {
			out = append(out, id)
		}
	}

	return out
}

// Incidence returns the tool ids participating in a capability.
func (s *Store) Incidence(capID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.caps[capID]
	if !ok {
		return nil, fmt.Errorf("hypergraph.Incidence(%s): %w", capID, ErrCapNotFound)
	}

	out := make([]string, 0, len(c.ToolsUsed))
	var t string
	for t = range c.ToolsUsed {
		out = append(out, t)
	}

	return out, nil
}

// ToolsReachable returns, for each seed tool, the set of tool ids within
// maxHops unweighted edges of it in the tool-tool dependency overlay.
// Edge weight (which encodes edge_type/edge_source strength, §4.1) is
// irrelevant to hop-count reachability, so this mirrors toolDepIndex into
// a throwaway unweighted core.Graph and runs bfs.BFS on it rather than
// reusing the weighted toolGraph directly (bfs.BFS rejects weighted
// graphs). Unknown seeds are skipped rather than erroring, since a
// context tool the store has never seen simply contributes nothing.
func (s *Store) ToolsReachable(seeds []string, maxHops int) (map[string]struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	unweighted := core.NewGraph(core.WithDirected(true))
	var de *DependencyEdge
	for _, de = range s.toolDepIndex {
		_ = unweighted.AddVertex(de.From)
		_ = unweighted.AddVertex(de.To)
		_, _ = unweighted.AddEdge(de.From, de.To, 0)
	}

	out := make(map[string]struct{})
	var seed string
	for _, seed = range seeds {
		if !unweighted.HasVertex(seed) {
			continue
		}
		res, err := bfs.BFS(unweighted, seed, bfs.WithMaxDepth(maxHops))
		if err != nil {
			return nil, fmt.Errorf("hypergraph.ToolsReachable(%s): %w", seed, err)
		}
		var v string
		for _, v = range res.Order {
			out[v] = struct{}{}
		}
	}

	return out, nil
}

// CapsIncidentToAny returns the ids of every capability whose incidence
// set intersects tools.
func (s *Store) CapsIncidentToAny(tools map[string]struct{}) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0)
	var id string
	var c *Capability
	for id, c = range s.caps {
		var t string
		for t = range c.ToolsUsed {
			if _, ok := tools[t]; ok {
				out = append(out, id)

				break
			}
		}
	}

	return out
}

// Tool returns a tool by id.
func (s *Store) Tool(id string) (*Tool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tools[id]
	if !ok {
		return nil, fmt.Errorf("hypergraph.Tool(%s): %w", id, ErrToolNotFound)
	}

	return t, nil
}

// Capability returns a capability by id.
func (s *Store) Capability(id string) (*Capability, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.caps[id]
	if !ok {
		return nil, fmt.Errorf("hypergraph.Capability(%s): %w", id, ErrCapNotFound)
	}

	return c, nil
}

// Tools returns every tool id.
func (s *Store) Tools() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.tools))
	var id string
	for id = range s.tools {
		out = append(out, id)
	}

	return out
}

// NeighborsTool returns the tool ids reachable by one hop from id in the
// tool-tool overlay, restricted to edges for which filter returns true
// (filter may be nil to accept all).
func (s *Store) NeighborsTool(id string, filter func(*DependencyEdge) bool) ([]string, error) {
	return s.neighbors(s.toolGraph, s.toolDepIndex, id, filter)
}

// NeighborsCapability returns the capability ids reachable by one hop from
// id in the capability dependency overlay.
func (s *Store) NeighborsCapability(id string, filter func(*DependencyEdge) bool) ([]string, error) {
	return s.neighbors(s.capGraph, s.capDepIndex, id, filter)
}

// ToolCooccurrence returns the tool-tool overlay as a nested weight map
// suitable for the V→V message-passing phase: coocc[from][to] = weight.
func (s *Store) ToolCooccurrence() map[string]map[string]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]map[string]float64, len(s.tools))
	var de *DependencyEdge
	for _, de = range s.toolDepIndex {
		if out[de.From] == nil {
			out[de.From] = make(map[string]float64)
		}
		out[de.From][de.To] = de.Weight
	}

	return out
}

func (s *Store) neighbors(g *core.Graph, deps map[string]*DependencyEdge, id string, filter func(*DependencyEdge) bool) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	edges, err := g.Neighbors(id)
	if err != nil {
		return nil, fmt.Errorf("hypergraph.neighbors(%s): %w", id, err)
	}

	out := make([]string, 0, len(edges))
	var e *core.Edge
	for _, e = range edges {
		if filter == nil {
			out = append(out, e.To)

			continue
		}
		var de *DependencyEdge
		for _, de = range deps {
			if de.From == e.From && de.To == e.To && filter(de) {
				out = append(out, e.To)

				break
			}
		}
	}

	return out, nil
}
