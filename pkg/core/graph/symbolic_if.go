// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"github.com/gomlx/gomlx/pkg/core/graph/pytree"
	"github.com/gomlx/gopjrt/dtypes"
)

// IfMode selects how SymbolicIf combines its two branches.
type IfMode int

const (
	// IfModeAuto picks IfModeScalar when pred is a scalar boolean, IfModeSymbolic otherwise.
	IfModeAuto IfMode = iota
	// IfModeScalar runs exactly one branch, chosen by a scalar predicate, via the backend's
	// native conditional (If).
	IfModeScalar
	// IfModeSymbolic runs both branches and blends their results lane-by-lane by pred, the way
	// runRecordingStrategy blends callables.
	IfModeSymbolic
)

// SymbolicIf implements spec.md §4.6: trueFn and falseFn are called with no arguments (they close
// over whatever parent-scope state they need, the same convention NewClosure's branches use) and
// must return pytrees of identical shape (same leaf count, dtype and static dimensions); mismatches
// fail with KindReturnShapeMismatch.
//
// IfModeAuto (the zero value) dispatches on pred's shape: a scalar boolean runs exactly one branch
// through the backend's native If; anything else (a per-lane condition) runs both branches and
// combines them with Where, since the backend's If -- like Case -- only supports a single scalar
// predicate for the whole call.
func SymbolicIf(pred *Node, trueFn, falseFn func() pytree.Tree, mode IfMode) pytree.Tree {
	g := pred.graph
	g.AssertBuilding()

	if mode == IfModeAuto {
		if pred.Shape().IsScalar() {
			mode = IfModeScalar
		} else {
			mode = IfModeSymbolic
		}
	}

	if mode == IfModeScalar {
		return runScalarIf(g, pred, trueFn, falseFn)
	}
	return runSymbolicIf(g, pred, trueFn, falseFn)
}

// runScalarIf wraps the backend's native two-branch If: each branch is traced into its own
// NewClosure, and the leaves are repacked into whichever branch's pytree shape was recorded (they
// must agree, so either works as the Unflatten template).
func runScalarIf(g *Graph, pred *Node, trueFn, falseFn func() pytree.Tree) pytree.Tree {
	var template pytree.Tree
	trueBranch := NewClosure(g, func(g *Graph) []*Node {
		tree := trueFn()
		template = tree
		leaves := treeLeafNodes("SymbolicIf", tree)
		return leaves
	})
	falseBranch := NewClosure(g, func(g *Graph) []*Node {
		tree := falseFn()
		leaves := treeLeafNodes("SymbolicIf", tree)
		checkTreeShapeMatch("SymbolicIf", template, tree)
		return leaves
	})
	results := If(pred, trueBranch, falseBranch)
	return unflattenNodes(template, results)
}

// runSymbolicIf runs both branches and blends their leaves lane-by-lane by pred, per spec.md §4.6
// ("the driver is the recording strategy specialized to two"): it reuses DispatchCall itself, with
// CallableCount: 2, rather than re-implementing the push-recording/push-self/Where-blend sequence
// inline -- callable 1 is trueFn, callable 2 is falseFn, and pred is recast as a per-lane
// InstanceIndex (1 where true, 2 where false) so runRecordingStrategy's existing combination logic
// picks the right branch per lane.
func runSymbolicIf(g *Graph, pred *Node, trueFn, falseFn func() pytree.Tree) pytree.Tree {
	instanceIndex := Where(pred, Scalar(g, dtypes.Int32, 1), Scalar(g, dtypes.Int32, 2))

	var template pytree.Tree
	userFn := func(_ any, instancePtr any, _ []*Node) []*Node {
		var tree pytree.Tree
		if instancePtr.(int) == 1 {
			tree = trueFn()
		} else {
			tree = falseFn()
		}
		if template == nil {
			template = tree
		}
		return treeLeafNodes("SymbolicIf", tree)
	}

	// instanceIndex is always a freshly built Where node, never a compile-time constant (this
	// package never folds ops at trace time), so the evaluated strategy's constant-data fast path
	// could never fire anyway; forcing SymbolicCalls here just means a SymbolicIf nested inside
	// another recording/getter region keeps working instead of hitting DispatchCall's
	// KindSymbolicModeRequired guard, matching the unconditional recording this used to do by hand.
	wasEnabled := g.SymbolicCallsEnabled()
	g.SetSymbolicCalls(true)
	defer g.SetSymbolicCalls(wasEnabled)

	rv, _ := DispatchCall(g, CallConfig{
		Name:          "SymbolicIf",
		CallableCount: 2,
		InstanceIndex: instanceIndex,
		UserFn:        userFn,
	})
	return unflattenNodes(template, rv)
}

// treeLeafNodes flattens tree and asserts every leaf is a *Node.
func treeLeafNodes(name string, tree pytree.Tree) []*Node {
	leaves, _ := pytree.Flatten(tree)
	out := make([]*Node, len(leaves))
	for i, leaf := range leaves {
		n, ok := leaf.(*Node)
		if !ok {
			dispatchPanicf(KindReturnTypeMismatch, "%s: branch returned a non-*Node leaf (%T) at position %d", name, leaf, i)
		}
		out[i] = n
	}
	return out
}

// checkTreeShapeMatch validates that two branch results agree leaf-for-leaf on dtype and static
// dimensions, per spec.md §4.6 step 3.
func checkTreeShapeMatch(name string, a, b pytree.Tree) {
	aLeaves, aPaths := pytree.Flatten(a)
	bLeaves, bPaths := pytree.Flatten(b)
	if len(aLeaves) != len(bLeaves) {
		dispatchPanicf(KindReturnArityMismatch, "%s: branches returned pytrees with %d vs %d leaves", name, len(aLeaves), len(bLeaves))
	}
	for i := range aLeaves {
		aNode, aOk := aLeaves[i].(*Node)
		bNode, bOk := bLeaves[i].(*Node)
		if !aOk || !bOk {
			dispatchPanicf(KindReturnTypeMismatch, "%s: branch leaf %q is not a *Node", name, aPaths[i])
		}
		if aNode.DType() != bNode.DType() {
			dispatchPanicf(KindReturnTypeMismatch, "%s: branches disagree on dtype for leaf %q: %s vs %s", name, aPaths[i], aNode.DType(), bNode.DType())
		}
		if !aNode.Shape().EqualDimensions(bNode.Shape()) {
			dispatchPanicf(KindReturnShapeMismatch, "%s: branches disagree on shape for leaf %q: %s vs %s", name, aPaths[i], aNode.Shape(), bNode.Shape())
		}
	}
}

// unflattenNodes repacks a flat []*Node into template's pytree shape.
func unflattenNodes(template pytree.Tree, nodes []*Node) pytree.Tree {
	leaves := make([]any, len(nodes))
	for i, n := range nodes {
		leaves[i] = n
	}
	return pytree.Unflatten(template, leaves)
}
