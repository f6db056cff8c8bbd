// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gopjrt/dtypes"
)

// This file contains small constant-building helpers used throughout the package (masking, degenerate-case
// results, gradient seeds): Scalar, ScalarZero, ScalarOne, Ones, OnesLike, Zeros and ZerosLike.

// Scalar returns a constant scalar with the given value, converted to dtype.
func Scalar(g *Graph, dtype dtypes.DType, value float64) *Node {
	return Const(g, shapes.CastAsDType(value, dtype))
}

// ScalarZero returns a scalar constant 0 for the given DType.
func ScalarZero(g *Graph, dtype dtypes.DType) *Node {
	return Scalar(g, dtype, 0)
}

// ScalarOne returns a scalar constant 1 for the given DType.
func ScalarOne(g *Graph, dtype dtypes.DType) *Node {
	return Scalar(g, dtype, 1)
}

// Ones creates a node with the given shape, filled with the value 1.
func Ones(g *Graph, shape shapes.Shape) *Node {
	g.AssertBuilding()
	if shape.IsScalar() {
		return ScalarOne(g, shape.DType)
	}
	return BroadcastPrefix(ScalarOne(g, shape.DType), shape.Dimensions...)
}

// OnesLike returns a node with the same shape as x, filled with the value 1.
func OnesLike(x *Node) *Node {
	g := validateBuildingGraphFromInputs(x)
	return Ones(g, x.Shape())
}

// Zeros creates a node with the given shape, filled with the value 0.
func Zeros(g *Graph, shape shapes.Shape) *Node {
	g.AssertBuilding()
	if shape.IsScalar() {
		return ScalarZero(g, shape.DType)
	}
	return BroadcastPrefix(ScalarZero(g, shape.DType), shape.Dimensions...)
}

// ZerosLike returns a node with the same shape as x, filled with the value 0.
func ZerosLike(x *Node) *Node {
	g := validateBuildingGraphFromInputs(x)
	return Zeros(g, x.Shape())
}
