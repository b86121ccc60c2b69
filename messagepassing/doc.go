// Package messagepassing implements the forward and backward passes that
// propagate tool and capability embeddings through the hypergraph: an
// optional V→V co-occurrence pass over tool vertices, then V→E, E→E
// (upward and downward per level), and E→V attention phases. Every phase
// preserves the input embedding dimension d end to end — this is a
// correctness contract, not an optimization, since W_q/W_k in the scoring
// layer and every serialized parameter assume it.
//
// Each phase exposes forwardWithCache (returning intermediates needed for
// backward) and backward (returning gradients for its own parameters and
// for its inputs, so the orchestrator can chain phases without each one
// needing to know about its neighbors). Attention logits and softmax
// weights are computed with the K-head template shared by V→E, E→E-up,
// E→E-down, and E→V, since §4.2 gives them the same formula differing only
// in which set plays "parent" and which plays "child".
package messagepassing
