// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

// selfFrame records the current instance ("who am I?") during recording/evaluation of one
// callable's body, per spec.md §3's "self stack": the instance id, and (during the evaluated
// strategy's per-bucket recording) the per-lane instance-id variable so user code sees the
// original, unbucketized value when it asks for its own id.
type selfFrame struct {
	id      int
	perLane *Node // nil unless a per-lane variable is pushed (evaluated strategy)
}

// dispatchScopeState holds the process-wide (here: per-Graph) scoped stacks the dispatcher
// pushes/pops in strict LIFO discipline, mirroring Graph.aliasScope's push/pop pattern
// (node_aliases.go). Lazily allocated by Graph.dispatchState.
type dispatchScopeState struct {
	maskStack []*Node
	selfStack []selfFrame

	// symbolicCallsEnabled mirrors spec.md §6's `SymbolicCalls` flag: when set, DispatchCall picks
	// the recording strategy instead of the evaluated one.
	symbolicCallsEnabled bool

	// recordingDepth counts nested recording/getter regions, so Graph.Symbolic (spec.md §6's
	// read-only `Symbolic` flag) can report whether one is currently active.
	recordingDepth int
}

// dispatchState returns g's dispatchScopeState, allocating it on first use.
func (g *Graph) dispatchState() *dispatchScopeState {
	if g.dispatch == nil {
		g.dispatch = &dispatchScopeState{}
	}
	return g.dispatch
}

// pushMask pushes mask onto the mask stack. Every write/side-effect performed while inside a
// dispatch call should be considered ANDed with CurrentMask(). Must be matched by a popMask on
// every exit path (success or panic) -- callers use `defer g.popMask()` immediately after.
func (g *Graph) pushMask(mask *Node) {
	st := g.dispatchState()
	st.maskStack = append(st.maskStack, mask)
}

// popMask pops the top of the mask stack. Panics (KindInternalInvariant) if the stack is empty,
// since that indicates a push/pop imbalance -- a dispatcher bug, not a user error.
func (g *Graph) popMask() {
	st := g.dispatchState()
	if len(st.maskStack) == 0 {
		dispatchPanicf(KindInternalInvariant, "popMask called with an empty mask stack")
	}
	st.maskStack = st.maskStack[:len(st.maskStack)-1]
}

// CurrentMask returns the mask at the top of the mask stack, or nil if the stack is empty (no
// active dispatch region, i.e. masking is a no-op).
func (g *Graph) CurrentMask() *Node {
	st := g.dispatchState()
	if len(st.maskStack) == 0 {
		return nil
	}
	return st.maskStack[len(st.maskStack)-1]
}

// maskStackDepth reports the current mask stack depth, used by DispatchCall to assert the stack
// is balanced again on every exit path (spec.md §8's scoped-stack-depth invariant).
func (g *Graph) maskStackDepth() int {
	return len(g.dispatchState().maskStack)
}

// pushSelf pushes a self frame (instance id, and optionally a per-lane id variable) onto the self
// stack. Must be matched by a popSelf -- callers use `defer g.popSelf()`.
func (g *Graph) pushSelf(id int, perLane *Node) {
	st := g.dispatchState()
	st.selfStack = append(st.selfStack, selfFrame{id: id, perLane: perLane})
}

// popSelf pops the top of the self stack.
func (g *Graph) popSelf() {
	st := g.dispatchState()
	if len(st.selfStack) == 0 {
		dispatchPanicf(KindInternalInvariant, "popSelf called with an empty self stack")
	}
	st.selfStack = st.selfStack[:len(st.selfStack)-1]
}

// CurrentSelf returns the instance id at the top of the self stack, and the per-lane id variable
// if one was pushed (evaluated strategy) or nil (recording/getter strategies, where every lane in
// the region shares the same instance id). ok is false if there is no active self frame.
func (g *Graph) CurrentSelf() (id int, perLane *Node, ok bool) {
	st := g.dispatchState()
	if len(st.selfStack) == 0 {
		return 0, nil, false
	}
	top := st.selfStack[len(st.selfStack)-1]
	return top.id, top.perLane, true
}

// selfStackDepth reports the current self stack depth.
func (g *Graph) selfStackDepth() int {
	return len(g.dispatchState().selfStack)
}

// SetSymbolicCalls enables or disables spec.md §6's `SymbolicCalls` flag on g: when enabled,
// DispatchCall picks the recording strategy; when disabled, it picks the evaluated strategy
// (failing with KindSymbolicModeRequired if a symbolic region happens to be active already).
func (g *Graph) SetSymbolicCalls(enabled bool) {
	g.dispatchState().symbolicCallsEnabled = enabled
}

// SymbolicCallsEnabled reports the current value of the `SymbolicCalls` flag.
func (g *Graph) SymbolicCallsEnabled() bool {
	return g.dispatchState().symbolicCallsEnabled
}

// pushRecording marks entry into a recording or getter region. Must be matched by a popRecording
// -- callers use `defer g.popRecording()`.
func (g *Graph) pushRecording() {
	g.dispatchState().recordingDepth++
}

// popRecording marks exit from a recording or getter region.
func (g *Graph) popRecording() {
	st := g.dispatchState()
	if st.recordingDepth == 0 {
		dispatchPanicf(KindInternalInvariant, "popRecording called with recordingDepth already 0")
	}
	st.recordingDepth--
}

// Symbolic reports spec.md §6's read-only `Symbolic` flag: whether a recording or getter region
// is currently active.
func (g *Graph) Symbolic() bool {
	return g.dispatchState().recordingDepth > 0
}
