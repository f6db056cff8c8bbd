// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

// InstanceHandle identifies a value flowing through the indirect-call dispatcher (DispatchCall):
// an input argument, a callable's return value, or an aggregated getter-table entry.
//
// Concretely this is just a *Node: GoMLX's Graph already owns and garbage-collects *Node values (see
// Graph.nodes), so unlike the C++ system this is modeled after, there's no separate ref-counted handle
// table to maintain. InstanceHandle exists as a named type so the dispatcher's API reads the way the
// rest of the package's operations do (taking/returning *Node), while still making explicit, at the call
// sites that care (DispatchCall's bookkeeping, instance_call_errors.go), which *Node values are being
// treated as "handles" crossing the dispatch boundary.
type InstanceHandle = *Node

// HandleState classifies an InstanceHandle the way spec.md's IR handle does: literal, unevaluated
// (still a symbolic expression), evaluated (backed by materialized device data), or dirty (written to
// inside a symbolic region and not yet reconciled). GoMLX doesn't expose a literal/evaluated/dirty split
// on *Node directly, so the dispatcher computes it at the few points that need it (the getter strategy,
// see instance_call_getter.go) rather than storing it on every node.
type HandleState int

const (
	// HandleUnevaluated is the common case: the handle is a symbolic expression, not yet run.
	HandleUnevaluated HandleState = iota
	// HandleLiteral means the handle's node is a constant with an inline literal value
	// (see Node.Type() == NodeTypeConstant and Node.ConstantValue()).
	HandleLiteral
	// HandleEvaluated means the handle is backed by already-materialized data (a constant wrapping a
	// tensors.Tensor too large to classify as a small literal, or an already-run sub-graph result).
	HandleEvaluated
	// HandleDirty means the handle was written to (via a CustomOp backward/forward re-entry or a
	// getter-table aggregation) during the current recording scope and should be treated as fresh.
	HandleDirty
)

// String implements fmt.Stringer.
func (s HandleState) String() string {
	switch s {
	case HandleLiteral:
		return "Literal"
	case HandleEvaluated:
		return "Evaluated"
	case HandleDirty:
		return "Dirty"
	default:
		return "Unevaluated"
	}
}

// classifyHandle returns the HandleState of an InstanceHandle, used by the getter strategy to decide
// whether an output can be read as an inline literal or must be treated as an opaque evaluated value.
func classifyHandle(h InstanceHandle) HandleState {
	if h == nil {
		return HandleUnevaluated
	}
	if h.Type() == NodeTypeConstant {
		return HandleLiteral
	}
	if h.IsConstantExpression() {
		return HandleEvaluated
	}
	return HandleUnevaluated
}
