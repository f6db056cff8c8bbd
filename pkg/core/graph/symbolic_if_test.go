// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph_test

import (
	"testing"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/core/graph/pytree"
	"github.com/stretchr/testify/require"
)

func TestSymbolicIf_ScalarModeSelectsOneBranch(t *testing.T) {
	graphtest.RunTestGraphFn(t, "SymbolicIf: scalar predicate runs exactly one branch",
		func(g *Graph) (inputs, outputs []*Node) {
			x := Const(g, float32(10))
			pred := GreaterThan(x, Const(g, float32(5)))
			result := SymbolicIf(pred,
				func() pytree.Tree { return map[string]*Node{"v": Const(g, float32(1))} },
				func() pytree.Tree { return map[string]*Node{"v": Const(g, float32(-1))} },
				IfModeScalar,
			)
			tree := result.(map[string]*Node)
			return nil, []*Node{tree["v"]}
		},
		[]any{float32(1)},
		0,
	)
}

func TestSymbolicIf_SymbolicModeBlendsPerLane(t *testing.T) {
	graphtest.RunTestGraphFn(t, "SymbolicIf: per-lane predicate blends both branches with Where",
		func(g *Graph) (inputs, outputs []*Node) {
			pred := Const(g, []bool{true, false, true})
			onTrue := Const(g, []float32{1, 2, 3})
			onFalse := Const(g, []float32{10, 20, 30})
			result := SymbolicIf(pred,
				func() pytree.Tree { return onTrue },
				func() pytree.Tree { return onFalse },
				IfModeSymbolic,
			)
			return nil, []*Node{result.(*Node)}
		},
		[]any{[]float32{1, 20, 3}},
		0,
	)
}

func TestSymbolicIf_AutoModePicksSymbolicForNonScalarPred(t *testing.T) {
	graphtest.RunTestGraphFn(t, "SymbolicIf: IfModeAuto dispatches on pred's shape",
		func(g *Graph) (inputs, outputs []*Node) {
			pred := Const(g, []bool{false, true})
			onTrue := Const(g, []float32{1, 2})
			onFalse := Const(g, []float32{100, 200})
			result := SymbolicIf(pred,
				func() pytree.Tree { return onTrue },
				func() pytree.Tree { return onFalse },
				IfModeAuto,
			)
			return nil, []*Node{result.(*Node)}
		},
		[]any{[]float32{100, 2}},
		0,
	)
}

func TestSymbolicIf_ShapeMismatchPanics(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	g := NewGraph(backend, "TestSymbolicIf_ShapeMismatchPanics")
	pred := Const(g, true)
	require.Panics(t, func() {
		SymbolicIf(pred,
			func() pytree.Tree { return Const(g, float32(1)) },
			func() pytree.Tree { return Const(g, []float32{1, 2}) },
			IfModeScalar,
		)
	})
}
