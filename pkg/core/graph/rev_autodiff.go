// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	. "github.com/gomlx/gomlx/internal/exceptions"
	"github.com/gomlx/gomlx/pkg/core/shapes"
)

// SingleOutputVJP computes the gradient of a single-output node's inputs, given the gradient with
// respect to its (sole) output.
type SingleOutputVJP func(node, v *Node, outputShape shapes.Shape) []*Node

// vjpForSingleOutput adapts a SingleOutputVJP to the general VJP signature used by VJPRegistration,
// for nodes that only ever produce one output.
func vjpForSingleOutput(fn SingleOutputVJP) VJP {
	return func(node *Node, vjpForOutputs []*Node, outputShape shapes.Shape) []*Node {
		return fn(node, vjpForOutputs[0], outputShape)
	}
}

// VJPRegistration maps a NodeType to the function that computes the vector-Jacobian product for its
// inputs, given the gradient(s) with respect to its output(s). It is populated by init() functions
// spread across the files that implement each op (see rev_autodiff_fused.go for an example).
//
// A node can override this registration for itself: see Node.customVJP, set by
// IdentityWithCustomGradient and by the instance dispatcher's CustomOp (instance_call_customop.go).
var VJPRegistration = map[NodeType]VJP{}

func init() {
	VJPRegistration[NodeTypeAdd] = vjpForSingleOutput(addVJP)
	VJPRegistration[NodeTypeSub] = vjpForSingleOutput(subVJP)
	VJPRegistration[NodeTypeMul] = vjpForSingleOutput(mulVJP)
	VJPRegistration[NodeTypeDiv] = vjpForSingleOutput(divVJP)
	VJPRegistration[NodeTypeMax] = vjpForSingleOutput(minMaxVJP)
	VJPRegistration[NodeTypeMin] = vjpForSingleOutput(minMaxVJP)
	VJPRegistration[NodeTypeWhere] = vjpForSingleOutput(whereVJP)
	VJPRegistration[NodeTypeReshape] = vjpForSingleOutput(reshapeVJP)
	VJPRegistration[NodeTypeReduceSum] = vjpForSingleOutput(reduceSumVJP)
	VJPRegistration[NodeTypeConvertDType] = vjpForSingleOutput(convertDTypeVJP)
	VJPRegistration[NodeTypeConcatenate] = vjpForSingleOutput(concatenateVJP)
	VJPRegistration[NodeTypeDotGeneral] = vjpForSingleOutput(dotGeneralVJP)
	VJPRegistration[NodeTypeConvGeneral] = vjpForSingleOutput(convGeneralVJP)
	VJPRegistration[NodeTypeScatterSum] = vjpForSingleOutput(scatterSumVJP)
	VJPRegistration[NodeTypeScatterMax] = vjpForSingleOutput(scatterMaxOrMinVJP)
	VJPRegistration[NodeTypeScatterMin] = vjpForSingleOutput(scatterMaxOrMinVJP)
}

// vjpForDefaultBroadcast handles the common case of a binary op whose input was broadcast to the
// output's shape: it un-broadcasts v by summing over the axes that were broadcast, then reshapes to
// input's shape.
func vjpForDefaultBroadcast(node, input, v *Node) *Node {
	inputShape := input.Shape()
	outputShape := node.Shape()
	if inputShape.Equal(outputShape) {
		return v
	}
	if inputShape.IsScalar() {
		return ReduceAllSum(v)
	}
	rankDiff := outputShape.Rank() - inputShape.Rank()
	var reduceAxes []int
	for axis := 0; axis < outputShape.Rank(); axis++ {
		if axis < rankDiff {
			reduceAxes = append(reduceAxes, axis)
			continue
		}
		inputAxis := axis - rankDiff
		if inputShape.Dimensions[inputAxis] == 1 && outputShape.Dimensions[axis] != 1 {
			reduceAxes = append(reduceAxes, axis)
		}
	}
	if len(reduceAxes) > 0 {
		v = ReduceSum(v, reduceAxes...)
	}
	return ReshapeWithShape(v, inputShape)
}

func addVJP(node, v *Node, _ shapes.Shape) []*Node {
	lhs, rhs := node.inputNodes[0], node.inputNodes[1]
	return []*Node{vjpForDefaultBroadcast(node, lhs, v), vjpForDefaultBroadcast(node, rhs, v)}
}

func subVJP(node, v *Node, _ shapes.Shape) []*Node {
	lhs, rhs := node.inputNodes[0], node.inputNodes[1]
	return []*Node{vjpForDefaultBroadcast(node, lhs, v), vjpForDefaultBroadcast(node, rhs, Neg(v))}
}

func mulVJP(node, v *Node, _ shapes.Shape) []*Node {
	lhs, rhs := node.inputNodes[0], node.inputNodes[1]
	lhsVJP := vjpForDefaultBroadcast(node, lhs, Mul(v, BroadcastToShape(rhs, node.Shape())))
	rhsVJP := vjpForDefaultBroadcast(node, rhs, Mul(v, BroadcastToShape(lhs, node.Shape())))
	return []*Node{lhsVJP, rhsVJP}
}

func divVJP(node, v *Node, _ shapes.Shape) []*Node {
	lhs, rhs := node.inputNodes[0], node.inputNodes[1]
	rhsBroadcast := BroadcastToShape(rhs, node.Shape())
	lhsVJP := vjpForDefaultBroadcast(node, lhs, Div(v, rhsBroadcast))
	rhsVJP := vjpForDefaultBroadcast(node, rhs, Neg(Mul(Div(node, rhsBroadcast), v)))
	return []*Node{lhsVJP, rhsVJP}
}

// minMaxVJP routes v to whichever of the two inputs produced the output value, split evenly when equal.
func minMaxVJP(node, v *Node, _ shapes.Shape) []*Node {
	lhs, rhs := node.inputNodes[0], node.inputNodes[1]
	lhsBroadcast := BroadcastToShape(lhs, node.Shape())
	rhsBroadcast := BroadcastToShape(rhs, node.Shape())
	isLHS := Equal(node, lhsBroadcast)
	isRHS := Equal(node, rhsBroadcast)
	bothSelected := And(isLHS, isRHS)
	half := Scalar(node.Graph(), node.DType(), 0.5)
	weightLHS := Where(bothSelected, half, Where(isLHS, ScalarOne(node.Graph(), node.DType()), ScalarZero(node.Graph(), node.DType())))
	weightRHS := Where(bothSelected, half, Where(isRHS, ScalarOne(node.Graph(), node.DType()), ScalarZero(node.Graph(), node.DType())))
	lhsVJP := vjpForDefaultBroadcast(node, lhs, Mul(v, weightLHS))
	rhsVJP := vjpForDefaultBroadcast(node, rhs, Mul(v, weightRHS))
	return []*Node{lhsVJP, rhsVJP}
}

func whereVJP(node, v *Node, _ shapes.Shape) []*Node {
	condition := node.inputNodes[0]
	onTrue, onFalse := node.inputNodes[1], node.inputNodes[2]
	zeros := ZerosLike(v)
	condBroadcast := BroadcastToShape(condition, node.Shape())
	onTrueVJP := vjpForDefaultBroadcast(node, onTrue, Where(condBroadcast, v, zeros))
	onFalseVJP := vjpForDefaultBroadcast(node, onFalse, Where(condBroadcast, zeros, v))
	return []*Node{nil, onTrueVJP, onFalseVJP}
}

func reshapeVJP(node, v *Node, _ shapes.Shape) []*Node {
	return []*Node{ReshapeWithShape(v, node.inputNodes[0].Shape())}
}

func convertDTypeVJP(node, v *Node, _ shapes.Shape) []*Node {
	x := node.inputNodes[0]
	return []*Node{ConvertDType(v, x.DType())}
}

// reduceSumVJP re-expands v, which is shaped like the reduced output, back to x's rank by
// re-inserting the reduced axes (at dimension 1) and broadcasting them back to their original size.
func reduceSumVJP(node, v *Node, _ shapes.Shape) []*Node {
	params := node.inputs.(*nodeInputsReduceSum)
	x := params.x
	if len(params.axes) == 0 {
		return []*Node{v}
	}
	expanded := ExpandAxes(v, params.axes...)
	return []*Node{BroadcastToShape(expanded, x.Shape())}
}

// combineOutputShape builds the shape a VJP for an input must have: inputShape's dimensions, with
// outputShape's DType (the gradient flows in the dtype of the value being differentiated, v).
func combineOutputShape(outputShape, inputShape shapes.Shape) shapes.Shape {
	result := inputShape.Clone()
	result.DType = outputShape.DType
	return result
}

// reverseNode tracks, for one forward node, the bookkeeping needed to run the reverse (gradient)
// sweep: which forward nodes consume it, whether it lies on a path from the root, whether its
// gradient is actually needed by any of the requested gradientNodes, and the accumulated VJP.
type reverseNode struct {
	Node           *Node
	Consumers      []*Node
	Included       bool
	Useful         bool
	Selected       bool
	AccumulatedVJP *Node
}

// reverseGraph is the bookkeeping structure built once per Gradient call, mirroring the set of
// forward nodes reachable between root and the requested gradientNodes.
type reverseGraph struct {
	Graph        *Graph
	Root         *Node
	ReverseNodes []*reverseNode
}

func newReverseGraph(g *Graph, root *Node, gradientNodes []*Node) *reverseGraph {
	rg := &reverseGraph{Graph: g, Root: root}
	rg.ReverseNodes = make([]*reverseNode, len(g.nodes))
	for ii, node := range g.nodes {
		if node == nil {
			continue
		}
		rg.ReverseNodes[ii] = &reverseNode{Node: node}
	}
	for _, node := range g.nodes {
		if node == nil {
			continue
		}
		for _, input := range node.inputNodes {
			if input == nil {
				continue
			}
			rInput := rg.ReverseNodes[input.Id()]
			rInput.Consumers = append(rInput.Consumers, node)
		}
	}
	rg.recursivePathFromRoot(root)
	for _, gNode := range gradientNodes {
		rg.ReverseNodes[gNode.Id()].Selected = true
		rg.recursiveMarkAsUseful(gNode)
	}
	return rg
}

func (rg *reverseGraph) recursivePathFromRoot(node *Node) {
	rNode := rg.ReverseNodes[node.Id()]
	if rNode.Included {
		return
	}
	rNode.Included = true
	for _, input := range node.inputNodes {
		if input == nil {
			continue
		}
		rg.recursivePathFromRoot(input)
	}
}

func (rg *reverseGraph) recursiveMarkAsUseful(node *Node) {
	rNode := rg.ReverseNodes[node.Id()]
	if !rNode.Included || rNode.Useful {
		return
	}
	rNode.Useful = true
	for _, consumer := range rNode.Consumers {
		rg.recursiveMarkAsUseful(consumer)
	}
}

// Gradient returns the gradient of a scalar output with respect to each of gradientNodes, using
// reverse-mode automatic differentiation. output must be a scalar, non-complex node.
//
// Any node without a path of dependency to output returns a zero-valued gradient of the matching
// shape, and any node past a StopGradient returns zero as well.
func Gradient(output *Node, gradientNodes ...*Node) []*Node {
	g := validateBuildingGraphFromInputs(append([]*Node{output}, gradientNodes...)...)
	outputShape := output.Shape()
	if outputShape.Rank() > 0 {
		Panicf("Gradient requires a scalar output, got shape %s", outputShape)
	}
	if outputShape.DType.IsComplex() {
		Panicf("Gradient does not support complex output dtype %s", outputShape.DType)
	}

	rg := newReverseGraph(g, output, gradientNodes)
	rOutput := rg.ReverseNodes[output.Id()]
	rOutput.AccumulatedVJP = ScalarOne(g, outputShape.DType)

	needGradientFor := func(rNode *reverseNode) bool {
		return rNode != nil && rNode.Included && rNode.Useful && !rNode.Node.StopGradient()
	}

	for nodeIdx := output.Id(); nodeIdx >= 0; nodeIdx -= 1 {
		rNode := rg.ReverseNodes[nodeIdx]
		if rNode == nil || !rNode.Included || !rNode.Useful {
			continue
		}
		node := rNode.Node
		if rNode.AccumulatedVJP == nil {
			continue
		}
		if len(node.inputNodes) == 0 {
			continue
		}

		vjpFn := node.CustomGradient()
		if vjpFn == nil {
			var ok bool
			vjpFn, ok = VJPRegistration[node.Type()]
			if !ok {
				Panicf("Gradient: no VJP registered for node type %s (node #%d), cannot differentiate through it", node.Type(), node.Id())
			}
		}
		inputsVJPs := vjpFn(node, []*Node{rNode.AccumulatedVJP}, node.Shape())
		if len(inputsVJPs) != len(node.inputNodes) {
			Panicf("Gradient: VJP for node type %s returned %d gradients, want %d (one per input)",
				node.Type(), len(inputsVJPs), len(node.inputNodes))
		}
		for ii, input := range node.inputNodes {
			if input == nil {
				continue
			}
			rInput := rg.ReverseNodes[input.Id()]
			if !needGradientFor(rInput) {
				continue
			}
			inputVJP := inputsVJPs[ii]
			if inputVJP == nil {
				continue
			}
			if rInput.AccumulatedVJP == nil {
				rInput.AccumulatedVJP = inputVJP
			} else {
				rInput.AccumulatedVJP = Add(rInput.AccumulatedVJP, inputVJP)
			}
		}
	}

	results := make([]*Node, len(gradientNodes))
	for ii, gNode := range gradientNodes {
		rGNode := rg.ReverseNodes[gNode.Id()]
		if rGNode.AccumulatedVJP == nil {
			results[ii] = ZerosLike(gNode)
		} else {
			results[ii] = rGNode.AccumulatedVJP
		}
	}
	return results
}
