// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"fmt"

	"github.com/gomlx/gomlx/pkg/core/graph/pytree"
	"github.com/gomlx/gopjrt/dtypes"
)

// loopStateEntry is the first-pass entry table spec.md §4.7 requires: once a leaf's (path, dtype,
// rank) is fixed by the loop body's first trace, every later trace (there is only one more here --
// the cond/body closures each trace exactly once) must agree, or the loop fails KindLoopStateChanged.
type loopStateEntry struct {
	path  string
	dtype string
	rank  int
}

// SymbolicWhile implements spec.md §4.7: state is an arbitrary pytree of *Node leaves (structs,
// maps, slices -- pytree.Flatten's cycle-guarded traversal walks all of them), cond derives a
// scalar active mask from the current state, and body derives the next state. Both are traced
// exactly once, each into its own backend closure built over Parameter nodes standing in for the
// flattened leaves, the same convention controlflow.go's While already uses.
//
// Leaves may grow from a scalar to a fixed lane size between entry and the body's first return
// (spec.md's "sizes may grow from 1 to N"); any other size change, or a change of path/dtype/rank,
// fails KindLoopSizeConflict / KindLoopStateChanged respectively.
func SymbolicWhile(state pytree.Tree, cond func(pytree.Tree) *Node, body func(pytree.Tree) pytree.Tree) pytree.Tree {
	initialLeaves, paths := pytree.Flatten(state)
	if len(initialLeaves) == 0 {
		dispatchPanicf(KindEmptyReturn, "SymbolicWhile: state pytree has no leaves")
	}
	initialNodes := make([]*Node, len(initialLeaves))
	entries := make([]loopStateEntry, len(initialLeaves))
	for i, leaf := range initialLeaves {
		n, ok := leaf.(*Node)
		if !ok {
			dispatchPanicf(KindReturnTypeMismatch, "SymbolicWhile: state leaf %q is not a *Node (got %T)", paths[i], leaf)
		}
		initialNodes[i] = n
		entries[i] = loopStateEntry{path: paths[i], dtype: n.DType().String(), rank: n.Shape().Rank()}
	}
	g := initialNodes[0].graph
	g.AssertBuilding()

	freshParams := func(g *Graph) []*Node {
		params := make([]*Node, len(initialNodes))
		for i, n := range initialNodes {
			params[i] = Parameter(g, fmt.Sprintf("arg%d", i), n.Shape())
		}
		return params
	}

	condClosure := NewClosure(g, func(g *Graph) []*Node {
		params := freshParams(g)
		rebuilt := pytree.Unflatten(state, nodesToAny(params))
		mask := cond(rebuilt)
		if !mask.Shape().IsScalar() {
			dispatchPanicf(KindReturnNotScalar, "SymbolicWhile: cond must return a scalar mask, got shape %s", mask.Shape())
		}
		if mask.DType() != dtypes.Bool {
			dispatchPanicf(KindReturnTypeMismatch, "SymbolicWhile: cond must return a boolean mask, got dtype %s", mask.DType())
		}
		return []*Node{mask}
	})

	bodyClosure := NewClosure(g, func(g *Graph) []*Node {
		params := freshParams(g)
		rebuilt := pytree.Unflatten(state, nodesToAny(params))
		newState := body(rebuilt)
		newLeaves, newPaths := pytree.Flatten(newState)
		validateLoopStateEntries("SymbolicWhile", entries, newLeaves, newPaths)
		newNodes := make([]*Node, len(newLeaves))
		for i, leaf := range newLeaves {
			newNodes[i] = leaf.(*Node)
		}
		return newNodes
	})

	results := While(condClosure, bodyClosure, initialNodes...)
	return pytree.Unflatten(state, nodesToAny(results))
}

// validateLoopStateEntries checks the body's returned leaves against the entry table fixed by the
// initial state: same path/dtype/rank, and a lane size that either stayed put or grew from 1.
func validateLoopStateEntries(name string, entries []loopStateEntry, newLeaves []any, newPaths []string) {
	if len(newLeaves) != len(entries) {
		dispatchPanicf(KindLoopStateChanged, "%s: body changed the number of state leaves: %d -> %d", name, len(entries), len(newLeaves))
	}
	for i, entry := range entries {
		n, ok := newLeaves[i].(*Node)
		if !ok {
			dispatchPanicf(KindReturnTypeMismatch, "%s: body leaf %q is not a *Node", name, newPaths[i])
		}
		if newPaths[i] != entry.path {
			dispatchPanicf(KindLoopStateChanged, "%s: state leaf order changed: %q -> %q", name, entry.path, newPaths[i])
		}
		if n.DType().String() != entry.dtype {
			dispatchPanicf(KindLoopStateChanged, "%s: state leaf %q changed dtype: %s -> %s", name, entry.path, entry.dtype, n.DType())
		}
		if n.Shape().Rank() != entry.rank {
			dispatchPanicf(KindLoopStateChanged, "%s: state leaf %q changed rank: %d -> %d", name, entry.path, entry.rank, n.Shape().Rank())
		}
	}
}

// nodesToAny adapts a []*Node to the []any pytree.Unflatten expects.
func nodesToAny(nodes []*Node) []any {
	out := make([]any, len(nodes))
	for i, n := range nodes {
		out[i] = n
	}
	return out
}
