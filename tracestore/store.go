package tracestore

import (
	"container/heap"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"
)

// item is one entry in the priority heap: the trace plus its position, kept
// in sync so updatePriorities can re-heapify in O(log N) via heap.Fix
// instead of a linear rescan.
type item struct {
	trace *Trace
	index int
}

// priorityHeap is a max-heap over item.trace.Priority.
type priorityHeap []*item

func (h priorityHeap) Len() int            { return len(h) }
func (h priorityHeap) Less(i, j int) bool  { return h[i].trace.Priority > h[j].trace.Priority }
func (h priorityHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *priorityHeap) Push(x interface{}) {
	it := x.(*item)
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *priorityHeap) Pop() interface{} {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]

	return it
}

// Store is a guarded, priority-indexed log of traces. append is O(log N);
// getTracesByPriority(k) is O(N·k): it copies and shuffles all N traces,
// then runs a partial selection sort for the top k; a parallel
// map keyed by trace id supports O(1) parent-link validation and O(log N)
// priority updates.
type Store struct {
	mu        sync.RWMutex
	heap      priorityHeap
	byID      map[string]*item
	openCaps  map[string]*Trace // capability_id -> unmatched capability_start
	rng       *rand.Rand
	retention time.Duration
}

// NewStore returns an empty Store with the given retention window and a
// seeded RNG (seed 0 gives deterministic tie-breaking for tests).
func NewStore(retention time.Duration, seed int64) *Store {
	s := &Store{
		heap:      make(priorityHeap, 0),
		byID:      make(map[string]*item),
		openCaps:  make(map[string]*Trace),
		rng:       rand.New(rand.NewSource(seed)),
		retention: retention,
	}
	heap.Init(&s.heap)

	return s
}

// Append inserts a new trace in O(log N). If Priority is zero, a neutral
// mid-range priority is assigned so a fresh trace gets a fair chance of
// being sampled before any TD error is known.
func (s *Store) Append(tr *Trace) error {
	if tr.TraceID == "" {
		return ErrEmptyTraceID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if tr.ParentTraceID != "" {
		if _, ok := s.byID[tr.ParentTraceID]; !ok {
			return fmt.Errorf("tracestore.Append(%s): %w", tr.TraceID, ErrParentNotFound)
		}
	}

	switch tr.Type {
	case CapabilityStart:
		s.openCaps[tr.CapabilityID] = tr
	case CapabilityEnd:
		if _, ok := s.openCaps[tr.CapabilityID]; !ok {
			return fmt.Errorf("tracestore.Append(%s): %w", tr.TraceID, ErrUnmatchedEnd)
		}
		delete(s.openCaps, tr.CapabilityID)
	}

	if tr.Priority == 0 {
		tr.Priority = 0.5
	}
	tr.Priority = clampPriority(tr.Priority)

	it := &item{trace: tr}
	heap.Push(&s.heap, it)
	s.byID[tr.TraceID] = it

	return nil
}

// GetTracesByPriority returns up to k traces ordered by descending priority,
// with a stochastic tie-break among traces of equal priority so the trainer
// doesn't always sample the same subset when many traces share a priority
// band. The store itself is not mutated.
func (s *Store) GetTracesByPriority(k int) []*Trace {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if k <= 0 || len(s.heap) == 0 {
		return nil
	}
	if k > len(s.heap) {
		k = len(s.heap)
	}

	// Snapshot and shuffle within priority bands so ties don't always
	// resolve the same way, then take the top k by priority.
	snapshot := make([]*Trace, len(s.heap))
	var i int
	for i = range s.heap {
		snapshot[i] = s.heap[i].trace
	}
	s.rng.Shuffle(len(snapshot), func(a, b int) { snapshot[a], snapshot[b] = snapshot[b], snapshot[a] })

	// Partial selection sort for the top k by priority (k is typically
	// small relative to N — maxTraces is 50-500 per §4.5).
	for i = 0; i < k; i++ {
		best := i
		var j int
		for j = i + 1; j < len(snapshot); j++ {
			if snapshot[j].Priority > snapshot[best].Priority {
				best = j
			}
		}
		snapshot[i], snapshot[best] = snapshot[best], snapshot[i]
	}

	return snapshot[:k]
}

// UpdatePriorities recomputes priority = |td|^0.6 clamped to [1e-6, 1.0] for
// each (id, tdError) pair and re-heapifies affected entries in O(log N) each.
// Unknown ids are skipped silently: the trace may have aged out via
// RetentionSweep between sampling and feedback.
func (s *Store) UpdatePriorities(ids []string, tdErrors []float64) error {
	if len(ids) != len(tdErrors) {
		return fmt.Errorf("tracestore.UpdatePriorities: %w: %d ids, %d tdErrors", ErrTraceNotFound, len(ids), len(tdErrors))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var i int
	for i = range ids {
		it, ok := s.byID[ids[i]]
		if !ok {
			continue
		}
		it.trace.Priority = clampPriority(math.Pow(math.Abs(tdErrors[i]), priorityAlpha))
		heap.Fix(&s.heap, it.index)
	}

	return nil
}

// RetentionSweep drops every trace whose Timestamp is older than the
// configured retention window relative to now.
func (s *Store) RetentionSweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int
	var i int
	for i = 0; i < len(s.heap); {
		tr := s.heap[i].trace
		if now.Sub(tr.Timestamp) > s.retention {
			delete(s.byID, tr.TraceID)
			heap.Remove(&s.heap, i)
			removed++
			continue
		}
		i++
	}

	return removed
}

// Len reports the number of traces currently retained.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.heap)
}
