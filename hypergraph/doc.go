// Package hypergraph implements the in-memory bipartite hypergraph of tool
// vertices (V) and capability hyperedges (E) at levels 0..L, together with
// its two weighted overlays: tool-tool co-occurrence (used by the V→V
// message-passing phase) and capability-capability dependency (used for
// ordering and cycle detection).
//
// The bipartite incidence structure itself — which tools participate in
// which capability, and which lower-level capabilities compose a higher-
// level one — is arena-addressed by stable string ids, never by pointer,
// per the "no raw pointers between caps" redesign direction: a Capability
// stores its children's ids, and Store derives the reverse parent index.
// The two overlays are plain weighted graphs, so they are built on top of
// the core package's Graph rather than reinventing adjacency bookkeeping.
package hypergraph
