// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"fmt"

	"github.com/gomlx/gomlx/backends"
)

// backend_node_inputs.go declares the NodeInputs implementations that shape_extraction.go, the
// VJP registrations in ops.go/ops_sparse.go/ops_dotgeneral.go/ops_convolve.go, and other
// hand-written files in this package recover via a concrete `node.inputs.(*nodeInputsXxx)` type
// assertion. ops_backend.go's generic nodeInputsBackendOp is unsafe for any of these ops: it would
// make that type assertion panic.

// ---- binary arithmetic: Add, Sub, Mul, Div, Max, Min ----

type nodeInputsAdd struct{ lhs, rhs *Node }

func (ni *nodeInputsAdd) Type() NodeType      { return NodeTypeAdd }
func (ni *nodeInputsAdd) InputNodes() []*Node { return []*Node{ni.lhs, ni.rhs} }
func (ni *nodeInputsAdd) String() string {
	return fmt.Sprintf("Add(lhs=[#%d], rhs=[#%d])", ni.lhs.Id(), ni.rhs.Id())
}

type nodeInputsSub struct{ lhs, rhs *Node }

func (ni *nodeInputsSub) Type() NodeType      { return NodeTypeSub }
func (ni *nodeInputsSub) InputNodes() []*Node { return []*Node{ni.lhs, ni.rhs} }
func (ni *nodeInputsSub) String() string {
	return fmt.Sprintf("Sub(lhs=[#%d], rhs=[#%d])", ni.lhs.Id(), ni.rhs.Id())
}

type nodeInputsMul struct{ lhs, rhs *Node }

func (ni *nodeInputsMul) Type() NodeType      { return NodeTypeMul }
func (ni *nodeInputsMul) InputNodes() []*Node { return []*Node{ni.lhs, ni.rhs} }
func (ni *nodeInputsMul) String() string {
	return fmt.Sprintf("Mul(lhs=[#%d], rhs=[#%d])", ni.lhs.Id(), ni.rhs.Id())
}

type nodeInputsDiv struct{ lhs, rhs *Node }

func (ni *nodeInputsDiv) Type() NodeType      { return NodeTypeDiv }
func (ni *nodeInputsDiv) InputNodes() []*Node { return []*Node{ni.lhs, ni.rhs} }
func (ni *nodeInputsDiv) String() string {
	return fmt.Sprintf("Div(lhs=[#%d], rhs=[#%d])", ni.lhs.Id(), ni.rhs.Id())
}

type nodeInputsMax struct{ lhs, rhs *Node }

func (ni *nodeInputsMax) Type() NodeType      { return NodeTypeMax }
func (ni *nodeInputsMax) InputNodes() []*Node { return []*Node{ni.lhs, ni.rhs} }
func (ni *nodeInputsMax) String() string {
	return fmt.Sprintf("Max(lhs=[#%d], rhs=[#%d])", ni.lhs.Id(), ni.rhs.Id())
}

type nodeInputsMin struct{ lhs, rhs *Node }

func (ni *nodeInputsMin) Type() NodeType      { return NodeTypeMin }
func (ni *nodeInputsMin) InputNodes() []*Node { return []*Node{ni.lhs, ni.rhs} }
func (ni *nodeInputsMin) String() string {
	return fmt.Sprintf("Min(lhs=[#%d], rhs=[#%d])", ni.lhs.Id(), ni.rhs.Id())
}

// ---- Where ----

type nodeInputsWhere struct{ condition, onTrue, onFalse *Node }

func (ni *nodeInputsWhere) Type() NodeType { return NodeTypeWhere }
func (ni *nodeInputsWhere) InputNodes() []*Node {
	return []*Node{ni.condition, ni.onTrue, ni.onFalse}
}
func (ni *nodeInputsWhere) String() string {
	return fmt.Sprintf("Where(condition=[#%d], onTrue=[#%d], onFalse=[#%d])", ni.condition.Id(), ni.onTrue.Id(), ni.onFalse.Id())
}

// ---- Reshape, Slice, Concatenate, ConvertDType ----

type nodeInputsReshape struct {
	x          *Node
	dimensions []int
}

func (ni *nodeInputsReshape) Type() NodeType      { return NodeTypeReshape }
func (ni *nodeInputsReshape) InputNodes() []*Node { return []*Node{ni.x} }
func (ni *nodeInputsReshape) String() string {
	return fmt.Sprintf("Reshape(x=[#%d], dimensions=%v)", ni.x.Id(), ni.dimensions)
}

type nodeInputsSlice struct {
	x                       *Node
	starts, limits, strides []int
}

func (ni *nodeInputsSlice) Type() NodeType      { return NodeTypeSlice }
func (ni *nodeInputsSlice) InputNodes() []*Node { return []*Node{ni.x} }
func (ni *nodeInputsSlice) String() string {
	return fmt.Sprintf("Slice(x=[#%d], starts=%v, limits=%v, strides=%v)", ni.x.Id(), ni.starts, ni.limits, ni.strides)
}

type nodeInputsConcatenate struct {
	axis     int
	operands []*Node
}

func (ni *nodeInputsConcatenate) Type() NodeType      { return NodeTypeConcatenate }
func (ni *nodeInputsConcatenate) InputNodes() []*Node { return ni.operands }
func (ni *nodeInputsConcatenate) String() string {
	return fmt.Sprintf("Concatenate(axis=%d, operands=%d)", ni.axis, len(ni.operands))
}

type nodeInputsConvertDType struct{ x *Node }

func (ni *nodeInputsConvertDType) Type() NodeType      { return NodeTypeConvertDType }
func (ni *nodeInputsConvertDType) InputNodes() []*Node { return []*Node{ni.x} }
func (ni *nodeInputsConvertDType) String() string {
	return fmt.Sprintf("ConvertDType(x=[#%d])", ni.x.Id())
}

// ---- GetDimensionSize, ReduceMax ----

type nodeInputsGetDimensionSize struct {
	operand   *Node
	dimension int
}

func (ni *nodeInputsGetDimensionSize) Type() NodeType      { return NodeTypeGetDimensionSize }
func (ni *nodeInputsGetDimensionSize) InputNodes() []*Node { return []*Node{ni.operand} }
func (ni *nodeInputsGetDimensionSize) String() string {
	return fmt.Sprintf("GetDimensionSize(operand=[#%d], dimension=%d)", ni.operand.Id(), ni.dimension)
}

type nodeInputsReduceMax struct{ x *Node }

func (ni *nodeInputsReduceMax) Type() NodeType      { return NodeTypeReduceMax }
func (ni *nodeInputsReduceMax) InputNodes() []*Node { return []*Node{ni.x} }
func (ni *nodeInputsReduceMax) String() string {
	return fmt.Sprintf("ReduceMax(x=[#%d])", ni.x.Id())
}

type nodeInputsReduceSum struct {
	x    *Node
	axes []int
}

func (ni *nodeInputsReduceSum) Type() NodeType      { return NodeTypeReduceSum }
func (ni *nodeInputsReduceSum) InputNodes() []*Node { return []*Node{ni.x} }
func (ni *nodeInputsReduceSum) String() string {
	return fmt.Sprintf("ReduceSum(x=[#%d], axes=%v)", ni.x.Id(), ni.axes)
}

// ---- Gather ----

type nodeInputsGather struct {
	operand, startIndices *Node
	sliceSizes            []int
}

func (ni *nodeInputsGather) Type() NodeType      { return NodeTypeGather }
func (ni *nodeInputsGather) InputNodes() []*Node { return []*Node{ni.operand, ni.startIndices} }
func (ni *nodeInputsGather) String() string {
	return fmt.Sprintf("Gather(operand=[#%d], startIndices=[#%d], sliceSizes=%v)", ni.operand.Id(), ni.startIndices.Id(), ni.sliceSizes)
}

// ---- Scatter family ----

type nodeInputsScatterSum struct {
	operand, scatterIndices, updates *Node
	indicesAreSorted                 bool
}

func (ni *nodeInputsScatterSum) Type() NodeType { return NodeTypeScatterSum }
func (ni *nodeInputsScatterSum) InputNodes() []*Node {
	return []*Node{ni.operand, ni.scatterIndices, ni.updates}
}
func (ni *nodeInputsScatterSum) String() string {
	return fmt.Sprintf("ScatterSum(operand=[#%d], scatterIndices=[#%d], updates=[#%d], indicesAreSorted=%v)",
		ni.operand.Id(), ni.scatterIndices.Id(), ni.updates.Id(), ni.indicesAreSorted)
}

type nodeInputsScatterMax struct {
	operand, scatterIndices, updates *Node
	indicesAreSorted                 bool
}

func (ni *nodeInputsScatterMax) Type() NodeType { return NodeTypeScatterMax }
func (ni *nodeInputsScatterMax) InputNodes() []*Node {
	return []*Node{ni.operand, ni.scatterIndices, ni.updates}
}
func (ni *nodeInputsScatterMax) String() string {
	return fmt.Sprintf("ScatterMax(operand=[#%d], scatterIndices=[#%d], updates=[#%d], indicesAreSorted=%v)",
		ni.operand.Id(), ni.scatterIndices.Id(), ni.updates.Id(), ni.indicesAreSorted)
}

type nodeInputsScatterMin struct {
	operand, scatterIndices, updates *Node
	indicesAreSorted                 bool
}

func (ni *nodeInputsScatterMin) Type() NodeType { return NodeTypeScatterMin }
func (ni *nodeInputsScatterMin) InputNodes() []*Node {
	return []*Node{ni.operand, ni.scatterIndices, ni.updates}
}
func (ni *nodeInputsScatterMin) String() string {
	return fmt.Sprintf("ScatterMin(operand=[#%d], scatterIndices=[#%d], updates=[#%d], indicesAreSorted=%v)",
		ni.operand.Id(), ni.scatterIndices.Id(), ni.updates.Id(), ni.indicesAreSorted)
}

// ---- DotGeneral ----

type nodeInputsDotGeneral struct {
	lhs, rhs                          *Node
	lhsContractingAxes, lhsBatchAxes  []int
	rhsContractingAxes, rhsBatchAxes  []int
	config                            backends.DotGeneralConfig
}

func (ni *nodeInputsDotGeneral) Type() NodeType      { return NodeTypeDotGeneral }
func (ni *nodeInputsDotGeneral) InputNodes() []*Node { return []*Node{ni.lhs, ni.rhs} }
func (ni *nodeInputsDotGeneral) String() string {
	return fmt.Sprintf("DotGeneral(lhs=[#%d], rhs=[#%d], lhsContractingAxes=%v, lhsBatchAxes=%v, rhsContractingAxes=%v, rhsBatchAxes=%v)",
		ni.lhs.Id(), ni.rhs.Id(), ni.lhsContractingAxes, ni.lhsBatchAxes, ni.rhsContractingAxes, ni.rhsBatchAxes)
}

// ---- ConvGeneral ----

type nodeInputsConvGeneral struct {
	x, kernel                          *Node
	axes                               ConvolveAxesConfig
	strides                            []int
	paddings                           [][2]int
	inputDilations, kernelDilations    []int
	channelGroupCount, batchGroupCount int
}

func (ni *nodeInputsConvGeneral) Type() NodeType      { return NodeTypeConvGeneral }
func (ni *nodeInputsConvGeneral) InputNodes() []*Node { return []*Node{ni.x, ni.kernel} }
func (ni *nodeInputsConvGeneral) String() string {
	return fmt.Sprintf("ConvGeneral(x=[#%d], kernel=[#%d], strides=%v, paddings=%v)",
		ni.x.Id(), ni.kernel.Id(), ni.strides, ni.paddings)
}
