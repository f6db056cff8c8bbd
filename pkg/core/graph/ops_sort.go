// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"github.com/gomlx/gomlx/internal/exceptions"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/shapes"
)

// SortDescending sorts x along axis in descending order. See Sort for the ascending version.
func SortDescending(x *Node, axis int) *Node {
	return Sort(x, axis, false)
}

// SortWithIndices sorts x along axis and also returns the indices (dtype Int32) that produce the
// sorted order, the way ArgSort's callers need both the permutation and the sorted values without
// paying for two separate sorts.
func SortWithIndices(x *Node, axis int, descending bool) (sortedValues, indices *Node) {
	g := x.Graph()
	g.AssertBuilding()
	dtype := x.DType()

	rank := x.Shape().Rank()
	normAxis := axis
	if normAxis < 0 {
		normAxis = rank + normAxis
	}
	if normAxis < 0 || normAxis >= rank {
		exceptions.Panicf("SortWithIndices: axis %d out of range for tensor of rank %d", axis, rank)
	}

	indicesShape := x.Shape().Clone()
	indicesShape.DType = dtypes.Int32
	indicesInput := Iota(g, indicesShape, normAxis)

	comparator := NewClosure(g, func(g *Graph) []*Node {
		lhsVal := Parameter(g, "lhs_val", shapes.Make(dtype))
		rhsVal := Parameter(g, "rhs_val", shapes.Make(dtype))
		_ = Parameter(g, "lhs_idx", shapes.Make(dtypes.Int32))
		_ = Parameter(g, "rhs_idx", shapes.Make(dtypes.Int32))
		if descending {
			return []*Node{GreaterThan(lhsVal, rhsVal)}
		}
		return []*Node{LessThan(lhsVal, rhsVal)}
	})

	results := SortFunc(comparator, normAxis, true, x, indicesInput)
	return results[0], results[1]
}

// ArgSort returns the indices (dtype Int32) that would sort x along axis, discarding the sorted
// values themselves.
func ArgSort(x *Node, axis int, descending bool) *Node {
	_, indices := SortWithIndices(x, axis, descending)
	return indices
}
