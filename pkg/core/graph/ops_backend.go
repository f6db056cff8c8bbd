// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"fmt"

	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/internal/exceptions"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/pkg/errors"
)

// nodeInputsBackendOp is the generic NodeInputs used by every op built in this file: one backend
// call, one or more *Node inputs, no op-specific bookkeeping beyond a human-readable name. Most ops
// would normally carry their own NodeType and NodeInputs struct produced by the package's generator
// (see node_type.go); this file provides the glue by hand in its absence.
type nodeInputsBackendOp struct {
	name   string
	inputs []*Node
}

func (ni *nodeInputsBackendOp) Type() NodeType { return NodeTypeBackendOp }
func (ni *nodeInputsBackendOp) String() string { return ni.name }

// buildBackendNode wraps a single backend.Op/error pair as a registered, single-output *Node.
func buildBackendNode(name string, inputNodes []*Node, result backends.Op, err error) *Node {
	if err != nil {
		panic(errors.WithMessagef(err, "%s", name))
	}
	g := validateBuildingGraphFromInputs(inputNodes...)
	scope, scopeErr := innermostFunction(inputNodes)
	if scopeErr != nil {
		panic(errors.WithMessagef(scopeErr, "%s", name))
	}
	if scope == nil {
		scope = g.currentFunc
	}
	node := &Node{
		graph:        g,
		outputOps:    []backends.Op{result},
		outputShapes: []shapes.Shape{mustNoError(g.builder.OpShape(result))},
		inputs:       &nodeInputsBackendOp{name: name, inputs: inputNodes},
		inputNodes:   inputNodes,
		scope:        scope,
	}
	g.registerNode(node)
	return node
}

// buildBackendNodeWithInputs is buildBackendNode's counterpart for ops whose NodeInputs is recovered
// via a concrete type assertion elsewhere in the package (shape extraction, VJP registration) instead
// of the generic nodeInputsBackendOp.
func buildBackendNodeWithInputs(name string, inputs NodeInputs, inputNodes []*Node, result backends.Op, err error) *Node {
	if err != nil {
		panic(errors.WithMessagef(err, "%s", name))
	}
	g := validateBuildingGraphFromInputs(inputNodes...)
	scope, scopeErr := innermostFunction(inputNodes)
	if scopeErr != nil {
		panic(errors.WithMessagef(scopeErr, "%s", name))
	}
	if scope == nil {
		scope = g.currentFunc
	}
	node := &Node{
		graph:        g,
		outputOps:    []backends.Op{result},
		outputShapes: []shapes.Shape{mustNoError(g.builder.OpShape(result))},
		inputs:       inputs,
		inputNodes:   inputNodes,
		scope:        scope,
	}
	g.registerNode(node)
	return node
}

// buildBackendNodeMulti is buildBackendNode's counterpart for ops that return several outputs.
func buildBackendNodeMulti(name string, inputNodes []*Node, results []backends.Op, err error) []*Node {
	if err != nil {
		panic(errors.WithMessagef(err, "%s", name))
	}
	g := validateBuildingGraphFromInputs(inputNodes...)
	scope, scopeErr := innermostFunction(inputNodes)
	if scopeErr != nil {
		panic(errors.WithMessagef(scopeErr, "%s", name))
	}
	if scope == nil {
		scope = g.currentFunc
	}
	outputShapes := make([]shapes.Shape, len(results))
	outputOps := make([]backends.Op, len(results))
	for i, r := range results {
		outputShapes[i] = mustNoError(g.builder.OpShape(r))
		outputOps[i] = r
	}
	node := &Node{
		graph:        g,
		outputOps:    outputOps,
		outputShapes: outputShapes,
		inputs:       &nodeInputsBackendOp{name: name, inputs: inputNodes},
		inputNodes:   inputNodes,
		scope:        scope,
	}
	g.registerNode(node)
	return splitNode(node)
}

func op1(n string, fn func(backends.Op) (backends.Op, error), x *Node) *Node {
	g := validateBuildingGraphFromInputs(x)
	result, err := fn(x.outputOps[0])
	_ = g
	return buildBackendNode(n, []*Node{x}, result, err)
}

func op2(n string, fn func(a, b backends.Op) (backends.Op, error), a, b *Node) *Node {
	validateBuildingGraphFromInputs(a, b)
	result, err := fn(a.outputOps[0], b.outputOps[0])
	return buildBackendNode(n, []*Node{a, b}, result, err)
}

// ---- Arithmetic ----

// Add returns the element-wise sum of lhs and rhs. Standard broadcasting rules apply.
func Add(lhs, rhs *Node) *Node {
	validateBuildingGraphFromInputs(lhs, rhs)
	result, err := lhs.graph.currentFunc.backendFunc.Add(lhs.outputOps[0], rhs.outputOps[0])
	return buildBackendNodeWithInputs("Add", &nodeInputsAdd{lhs: lhs, rhs: rhs}, []*Node{lhs, rhs}, result, err)
}

// Sub returns the element-wise subtraction lhs - rhs. Standard broadcasting rules apply.
func Sub(lhs, rhs *Node) *Node {
	validateBuildingGraphFromInputs(lhs, rhs)
	result, err := lhs.graph.currentFunc.backendFunc.Sub(lhs.outputOps[0], rhs.outputOps[0])
	return buildBackendNodeWithInputs("Sub", &nodeInputsSub{lhs: lhs, rhs: rhs}, []*Node{lhs, rhs}, result, err)
}

// Mul returns the element-wise multiplication of lhs and rhs. Standard broadcasting rules apply.
func Mul(lhs, rhs *Node) *Node {
	validateBuildingGraphFromInputs(lhs, rhs)
	result, err := lhs.graph.currentFunc.backendFunc.Mul(lhs.outputOps[0], rhs.outputOps[0])
	return buildBackendNodeWithInputs("Mul", &nodeInputsMul{lhs: lhs, rhs: rhs}, []*Node{lhs, rhs}, result, err)
}

// Div returns the element-wise division lhs / rhs. Standard broadcasting rules apply.
func Div(lhs, rhs *Node) *Node {
	validateBuildingGraphFromInputs(lhs, rhs)
	result, err := lhs.graph.currentFunc.backendFunc.Div(lhs.outputOps[0], rhs.outputOps[0])
	return buildBackendNodeWithInputs("Div", &nodeInputsDiv{lhs: lhs, rhs: rhs}, []*Node{lhs, rhs}, result, err)
}

// Rem returns the element-wise remainder (modulo) of lhs by rhs.
func Rem(lhs, rhs *Node) *Node {
	return op2("Rem", func(a, b backends.Op) (backends.Op, error) { return lhs.graph.currentFunc.backendFunc.Rem(a, b) }, lhs, rhs)
}

// Pow returns lhs raised element-wise to the power of rhs.
func Pow(lhs, rhs *Node) *Node {
	return op2("Pow", func(a, b backends.Op) (backends.Op, error) { return lhs.graph.currentFunc.backendFunc.Pow(a, b) }, lhs, rhs)
}

// Max returns the element-wise highest value among lhs and rhs.
func Max(lhs, rhs *Node) *Node {
	validateBuildingGraphFromInputs(lhs, rhs)
	result, err := lhs.graph.currentFunc.backendFunc.Max(lhs.outputOps[0], rhs.outputOps[0])
	return buildBackendNodeWithInputs("Max", &nodeInputsMax{lhs: lhs, rhs: rhs}, []*Node{lhs, rhs}, result, err)
}

// Min returns the element-wise smallest value among lhs and rhs.
func Min(lhs, rhs *Node) *Node {
	validateBuildingGraphFromInputs(lhs, rhs)
	result, err := lhs.graph.currentFunc.backendFunc.Min(lhs.outputOps[0], rhs.outputOps[0])
	return buildBackendNodeWithInputs("Min", &nodeInputsMin{lhs: lhs, rhs: rhs}, []*Node{lhs, rhs}, result, err)
}

// Neg returns the element-wise negation of x.
func Neg(x *Node) *Node {
	return op1("Neg", x.graph.currentFunc.backendFunc.Neg, x)
}

// Abs returns the element-wise absolute value of x.
func Abs(x *Node) *Node {
	return op1("Abs", x.graph.currentFunc.backendFunc.Abs, x)
}

// ---- Comparisons (return dtype Bool) ----

// Equal performs an element-wise equality check.
func Equal(lhs, rhs *Node) *Node {
	return op2("Equal", func(a, b backends.Op) (backends.Op, error) { return lhs.graph.currentFunc.backendFunc.Equal(a, b) }, lhs, rhs)
}

// NotEqual performs an element-wise inequality check.
func NotEqual(lhs, rhs *Node) *Node {
	return op2("NotEqual", func(a, b backends.Op) (backends.Op, error) { return lhs.graph.currentFunc.backendFunc.NotEqual(a, b) }, lhs, rhs)
}

// LessThan performs an element-wise `lhs < rhs` comparison.
func LessThan(lhs, rhs *Node) *Node {
	return op2("LessThan", func(a, b backends.Op) (backends.Op, error) { return lhs.graph.currentFunc.backendFunc.LessThan(a, b) }, lhs, rhs)
}

// LessOrEqual performs an element-wise `lhs <= rhs` comparison.
func LessOrEqual(lhs, rhs *Node) *Node {
	return op2("LessOrEqual", func(a, b backends.Op) (backends.Op, error) { return lhs.graph.currentFunc.backendFunc.LessOrEqual(a, b) }, lhs, rhs)
}

// GreaterThan performs an element-wise `lhs > rhs` comparison.
func GreaterThan(lhs, rhs *Node) *Node {
	return op2("GreaterThan", func(a, b backends.Op) (backends.Op, error) { return lhs.graph.currentFunc.backendFunc.GreaterThan(a, b) }, lhs, rhs)
}

// GreaterOrEqual performs an element-wise `lhs >= rhs` comparison.
func GreaterOrEqual(lhs, rhs *Node) *Node {
	return op2("GreaterOrEqual", func(a, b backends.Op) (backends.Op, error) { return lhs.graph.currentFunc.backendFunc.GreaterOrEqual(a, b) }, lhs, rhs)
}

// ---- Logical (dtype Bool in, Bool out) ----

// LogicalAnd returns the element-wise logical AND of lhs and rhs.
func LogicalAnd(lhs, rhs *Node) *Node {
	return op2("LogicalAnd", func(a, b backends.Op) (backends.Op, error) { return lhs.graph.currentFunc.backendFunc.LogicalAnd(a, b) }, lhs, rhs)
}

// LogicalOr returns the element-wise logical OR of lhs and rhs.
func LogicalOr(lhs, rhs *Node) *Node {
	return op2("LogicalOr", func(a, b backends.Op) (backends.Op, error) { return lhs.graph.currentFunc.backendFunc.LogicalOr(a, b) }, lhs, rhs)
}

// LogicalNot returns the element-wise logical negation of x.
func LogicalNot(x *Node) *Node {
	return op1("LogicalNot", x.graph.currentFunc.backendFunc.LogicalNot, x)
}

// ---- Bitwise ----

// BitwiseAnd returns the element-wise bitwise AND of lhs and rhs.
func BitwiseAnd(lhs, rhs *Node) *Node {
	return op2("BitwiseAnd", func(a, b backends.Op) (backends.Op, error) { return lhs.graph.currentFunc.backendFunc.BitwiseAnd(a, b) }, lhs, rhs)
}

// BitwiseNot returns the element-wise bitwise negation of x.
func BitwiseNot(x *Node) *Node {
	return op1("BitwiseNot", x.graph.currentFunc.backendFunc.BitwiseNot, x)
}

// BitCount returns, element-wise, the number of bits set to one in operand (population count).
func BitCount(operand *Node) *Node {
	return op1("BitCount", operand.graph.currentFunc.backendFunc.BitCount, operand)
}

// Clz returns, element-wise, the count of leading zero bits of x.
func Clz(x *Node) *Node {
	return op1("Clz", x.graph.currentFunc.backendFunc.Clz, x)
}

// Bitcast reinterprets the bits of x as targetDType, without converting the value -- see
// backends.StandardOps.Bitcast for the exact shape transformation rules when sizes differ.
func Bitcast(x *Node, targetDType dtypes.DType) *Node {
	g := validateBuildingGraphFromInputs(x)
	result, err := g.currentFunc.backendFunc.Bitcast(x.outputOps[0], targetDType)
	return buildBackendNode(fmt.Sprintf("Bitcast(%s)", targetDType), []*Node{x}, result, err)
}

// ---- Transcendental / rounding ----

// Exp returns the element-wise e^x.
func Exp(x *Node) *Node { return op1("Exp", x.graph.currentFunc.backendFunc.Exp, x) }

// Expm1 returns the element-wise e^x - 1, accurate for values of x near zero.
func Expm1(x *Node) *Node { return op1("Expm1", x.graph.currentFunc.backendFunc.Expm1, x) }

// Log returns the element-wise natural logarithm of x.
func Log(x *Node) *Node { return op1("Log", x.graph.currentFunc.backendFunc.Log, x) }

// Log1p returns the element-wise log(x+1), accurate for values of x near zero.
func Log1p(x *Node) *Node { return op1("Log1p", x.graph.currentFunc.backendFunc.Log1p, x) }

// Sqrt returns the element-wise square root of x.
func Sqrt(x *Node) *Node { return op1("Sqrt", x.graph.currentFunc.backendFunc.Sqrt, x) }

// Rsqrt returns the element-wise reciprocal of the square root of x: 1/sqrt(x).
func Rsqrt(x *Node) *Node { return op1("Rsqrt", x.graph.currentFunc.backendFunc.Rsqrt, x) }

// Sin returns the element-wise sine of x.
func Sin(x *Node) *Node { return op1("Sin", x.graph.currentFunc.backendFunc.Sin, x) }

// Cos returns the element-wise cosine of x.
func Cos(x *Node) *Node { return op1("Cos", x.graph.currentFunc.backendFunc.Cos, x) }

// Tanh returns the element-wise hyperbolic tangent of x.
func Tanh(x *Node) *Node { return op1("Tanh", x.graph.currentFunc.backendFunc.Tanh, x) }

// Logistic returns the element-wise sigmoid function 1/(1+exp(-x)).
func Logistic(x *Node) *Node { return op1("Logistic", x.graph.currentFunc.backendFunc.Logistic, x) }

// Erf returns the element-wise "error function" erf(x).
func Erf(x *Node) *Node { return op1("Erf", x.graph.currentFunc.backendFunc.Erf, x) }

// Ceil returns the element-wise ceiling of x.
func Ceil(x *Node) *Node { return op1("Ceil", x.graph.currentFunc.backendFunc.Ceil, x) }

// Floor returns the element-wise floor of x.
func Floor(x *Node) *Node { return op1("Floor", x.graph.currentFunc.backendFunc.Floor, x) }

// Round returns x rounded element-wise to the nearest even integer.
func Round(x *Node) *Node { return op1("Round", x.graph.currentFunc.backendFunc.Round, x) }

// IsNaN reports, element-wise, whether x is NaN.
func IsNaN(x *Node) *Node { return op1("IsNaN", x.graph.currentFunc.backendFunc.IsNaN, x) }

// IsFinite reports, element-wise, whether x is neither +/-Inf nor NaN.
func IsFinite(x *Node) *Node { return op1("IsFinite", x.graph.currentFunc.backendFunc.IsFinite, x) }

// Identity returns a *Node whose value is the same as x -- a backend-level no-op, useful as a
// placeholder to pin a particular value in the graph (e.g. to attach a custom gradient to it).
func Identity(x *Node) *Node { return op1("Identity", x.graph.currentFunc.backendFunc.Identity, x) }

// ---- Complex numbers ----

// Complex returns the complex number with re as its real part and im as its imaginary part. Both
// must have the same floating-point dtype (Float32 or Float64).
func Complex(re, im *Node) *Node {
	return op2("Complex", func(a, b backends.Op) (backends.Op, error) { return re.graph.currentFunc.backendFunc.Complex(a, b) }, re, im)
}

// Conj returns the complex conjugate of x: Conj(a+bi) = a-bi.
func Conj(x *Node) *Node { return op1("Conj", x.graph.currentFunc.backendFunc.Conj, x) }

// Real returns the real part of x (x itself, if x is already real-valued).
func Real(x *Node) *Node { return op1("Real", x.graph.currentFunc.backendFunc.Real, x) }

// Imag returns the imaginary part of x (zero, if x is real-valued).
func Imag(x *Node) *Node { return op1("Imag", x.graph.currentFunc.backendFunc.Imag, x) }

// FFT computes the forward complex-to-complex Fast Fourier Transform over x's last axis. x must
// have a complex dtype; see InverseFFT for the inverse transform, and RealFFT/InverseRealFFT for
// the real-valued variants.
func FFT(x *Node) *Node {
	g := validateBuildingGraphFromInputs(x)
	fftLength := []int{x.Shape().Dimensions[x.Rank()-1]}
	result, err := g.currentFunc.backendFunc.FFT(x.outputOps[0], backends.FFTForward, fftLength)
	return buildBackendNode("FFT", []*Node{x}, result, err)
}

// InverseFFT computes the inverse complex-to-complex Fast Fourier Transform over x's last axis.
func InverseFFT(x *Node) *Node {
	g := validateBuildingGraphFromInputs(x)
	fftLength := []int{x.Shape().Dimensions[x.Rank()-1]}
	result, err := g.currentFunc.backendFunc.FFT(x.outputOps[0], backends.FFTInverse, fftLength)
	return buildBackendNode("InverseFFT", []*Node{x}, result, err)
}

// RealFFT computes the forward real-to-complex Fast Fourier Transform over x's last axis.
func RealFFT(x *Node) *Node {
	g := validateBuildingGraphFromInputs(x)
	fftLength := []int{x.Shape().Dimensions[x.Rank()-1]}
	result, err := g.currentFunc.backendFunc.FFT(x.outputOps[0], backends.FFTForwardReal, fftLength)
	return buildBackendNode("RealFFT", []*Node{x}, result, err)
}

// InverseRealFFT computes the inverse complex-to-real Fast Fourier Transform over x's last axis,
// given outputSize as the length of the real-valued result (RealFFT's output is roughly half that
// size, due to the conjugate symmetry of the real-to-complex transform).
func InverseRealFFT(x *Node, outputSize int) *Node {
	g := validateBuildingGraphFromInputs(x)
	result, err := g.currentFunc.backendFunc.FFT(x.outputOps[0], backends.FFTInverseReal, []int{outputSize})
	return buildBackendNode("InverseRealFFT", []*Node{x}, result, err)
}

// ---- Padding ----

// Pad injects fillValue (a scalar) at the start, end and/or interior of each axis of x, as
// configured by axesConfig (one per axis of x; axes without an explicit entry are left unpadded).
func Pad(x, fillValue *Node, axesConfig ...PadAxis) *Node {
	validateBuildingGraphFromInputs(x, fillValue)
	result, err := x.graph.currentFunc.backendFunc.Pad(x.outputOps[0], fillValue.outputOps[0], axesConfig...)
	return buildBackendNode("Pad", []*Node{x, fillValue}, result, err)
}

// ---- Dynamic indexing ----

// splitStartIndices normalizes DynamicSlice/DynamicUpdateSlice's startIndices argument: callers may
// pass either one scalar *Node per axis of operand, or a single rank-1 tensor of length
// operand.Rank() holding all of them.
func splitStartIndices(operand *Node, startIndices []*Node) []*Node {
	rank := operand.Rank()
	if len(startIndices) == rank {
		return startIndices
	}
	if len(startIndices) == 1 && startIndices[0].Rank() == 1 && startIndices[0].Shape().Dimensions[0] == rank {
		combined := startIndices[0]
		out := make([]*Node, rank)
		for i := 0; i < rank; i++ {
			out[i] = Reshape(Slice(combined, AxisRange(i, i+1)))
		}
		return out
	}
	exceptions.Panicf(
		"expected %d start indices (one per axis of operand) or a single rank-1 tensor of length %d, got %d *Node values",
		rank, rank, len(startIndices))
	return nil
}

// DynamicSlice extracts a slice of sliceDims size from operand, starting at startIndices -- either
// one scalar *Node per axis, or a single rank-1 tensor holding all of them. Out-of-bound start
// positions are clamped to keep the slice within operand's bounds.
func DynamicSlice(operand *Node, startIndices []*Node, sliceDims []int) *Node {
	indices := splitStartIndices(operand, startIndices)
	opIndices := make([]backends.Op, len(indices))
	for i, n := range indices {
		opIndices[i] = n.outputOps[0]
	}
	all := append([]*Node{operand}, indices...)
	validateBuildingGraphFromInputs(all...)
	result, err := operand.graph.currentFunc.backendFunc.DynamicSlice(operand.outputOps[0], opIndices, sliceDims)
	return buildBackendNode("DynamicSlice", all, result, err)
}

// DynamicUpdateSlice returns a copy of operand with update "pasted" at startIndices -- either one
// scalar *Node per axis, or a single rank-1 tensor holding all of them.
func DynamicUpdateSlice(operand, update *Node, startIndices []*Node) *Node {
	indices := splitStartIndices(operand, startIndices)
	opIndices := make([]backends.Op, len(indices))
	for i, n := range indices {
		opIndices[i] = n.outputOps[0]
	}
	all := append([]*Node{operand, update}, indices...)
	validateBuildingGraphFromInputs(all...)
	result, err := operand.graph.currentFunc.backendFunc.DynamicUpdateSlice(operand.outputOps[0], update.outputOps[0], opIndices)
	return buildBackendNode("DynamicUpdateSlice", all, result, err)
}

// ---- Shape / movement ops with missing glue ----

func backendWhere(condition, onTrue, onFalse *Node) *Node {
	validateBuildingGraphFromInputs(condition, onTrue, onFalse)
	result, err := condition.graph.currentFunc.backendFunc.Where(condition.outputOps[0], onTrue.outputOps[0], onFalse.outputOps[0])
	inputs := &nodeInputsWhere{condition: condition, onTrue: onTrue, onFalse: onFalse}
	return buildBackendNodeWithInputs("Where", inputs, []*Node{condition, onTrue, onFalse}, result, err)
}

func backendReshape(x *Node, dimensions []int) *Node {
	g := validateBuildingGraphFromInputs(x)
	result, err := g.currentFunc.backendFunc.Reshape(x.outputOps[0], dimensions...)
	inputs := &nodeInputsReshape{x: x, dimensions: dimensions}
	return buildBackendNodeWithInputs("Reshape", inputs, []*Node{x}, result, err)
}

func backendSlice(x *Node, starts, limits, strides []int) *Node {
	g := validateBuildingGraphFromInputs(x)
	result, err := g.currentFunc.backendFunc.Slice(x.outputOps[0], starts, limits, strides)
	inputs := &nodeInputsSlice{x: x, starts: starts, limits: limits, strides: strides}
	return buildBackendNodeWithInputs("Slice", inputs, []*Node{x}, result, err)
}

func backendTranspose(x *Node, permutation []int) *Node {
	g := validateBuildingGraphFromInputs(x)
	result, err := g.currentFunc.backendFunc.Transpose(x.outputOps[0], permutation...)
	return buildBackendNode("Transpose", []*Node{x}, result, err)
}

func backendReverse(x *Node, axes []int) *Node {
	g := validateBuildingGraphFromInputs(x)
	result, err := g.currentFunc.backendFunc.Reverse(x.outputOps[0], axes...)
	return buildBackendNode("Reverse", []*Node{x}, result, err)
}

func backendConcatenate(axis int, operands ...*Node) *Node {
	g := validateBuildingGraphFromInputs(operands...)
	ops := make([]backends.Op, len(operands))
	for i, n := range operands {
		ops[i] = n.outputOps[0]
	}
	result, err := g.currentFunc.backendFunc.Concatenate(axis, ops...)
	inputs := &nodeInputsConcatenate{axis: axis, operands: operands}
	return buildBackendNodeWithInputs("Concatenate", inputs, operands, result, err)
}

func backendConvertDType(x *Node, dtype dtypes.DType) *Node {
	g := validateBuildingGraphFromInputs(x)
	result, err := g.currentFunc.backendFunc.ConvertDType(x.outputOps[0], dtype)
	inputs := &nodeInputsConvertDType{x: x}
	return buildBackendNodeWithInputs(fmt.Sprintf("ConvertDType(%s)", dtype), inputs, []*Node{x}, result, err)
}

func backendBroadcastInDim(x *Node, outputShape shapes.Shape, broadcastAxes []int) *Node {
	g := validateBuildingGraphFromInputs(x)
	result, err := g.currentFunc.backendFunc.BroadcastInDim(x.outputOps[0], outputShape, broadcastAxes)
	return buildBackendNode("BroadcastInDim", []*Node{x}, result, err)
}

// backendDynamicBroadcastInDim is the unbounded counterpart of backendDynamicBroadcastInDimWithBounds
// (backend_dynamic_bounds.go), used once the caller has given up trying to extract a static bound.
func backendDynamicBroadcastInDim(operand, outputDimensions *Node, broadcastDimensions []int) *Node {
	all := []*Node{operand, outputDimensions}
	g := validateBuildingGraphFromInputs(all...)
	result, err := dynamicBoundsBuilder(g).DynamicBroadcastInDim(operand.outputOps[0], outputDimensions.outputOps[0], broadcastDimensions)
	return buildBackendNode("DynamicBroadcastInDim", all, result, err)
}

// backendDynamicReshape is the unbounded counterpart of backendDynamicReshapeWithBounds.
func backendDynamicReshape(operand, outputShape *Node) *Node {
	all := []*Node{operand, outputShape}
	g := validateBuildingGraphFromInputs(all...)
	result, err := dynamicBoundsBuilder(g).DynamicReshape(operand.outputOps[0], outputShape.outputOps[0])
	return buildBackendNode("DynamicReshape", all, result, err)
}

func backendIota(g *Graph, shape shapes.Shape, iotaAxis int) *Node {
	g.AssertBuilding()
	result, err := g.currentFunc.backendFunc.Iota(shape, iotaAxis)
	if err != nil {
		panic(errors.WithMessagef(err, "Iota"))
	}
	node := &Node{
		graph:        g,
		outputOps:    []backends.Op{result},
		outputShapes: []shapes.Shape{mustNoError(g.builder.OpShape(result))},
		inputs:       &nodeInputsBackendOp{name: "Iota"},
		scope:        g.currentFunc,
	}
	g.registerNode(node)
	return node
}

// dimensionSizeBuilder asserts that g's builder implements backends.DimensionSizeOps, panicking with a
// clear message for backends that don't.
func dimensionSizeBuilder(g *Graph) backends.DimensionSizeOps {
	b, ok := g.builder.(backends.DimensionSizeOps)
	if !ok {
		exceptions.Panicf("backend %q does not support GetDimensionSize", g.backend.Name())
	}
	return b
}

func backendGetDimensionSize(x *Node, axis int) *Node {
	g := validateBuildingGraphFromInputs(x)
	result, err := dimensionSizeBuilder(g).GetDimensionSize(x.outputOps[0], axis)
	inputs := &nodeInputsGetDimensionSize{operand: x, dimension: axis}
	return buildBackendNodeWithInputs("GetDimensionSize", inputs, []*Node{x}, result, err)
}

func backendGather(operand, startIndices *Node, indexVectorAxis int, offsetOutputAxes, collapsedSliceAxes, startIndexMap, sliceSizes []int, indicesAreSorted bool) *Node {
	validateBuildingGraphFromInputs(operand, startIndices)
	result, err := operand.graph.currentFunc.backendFunc.Gather(
		operand.outputOps[0], startIndices.outputOps[0], indexVectorAxis,
		offsetOutputAxes, collapsedSliceAxes, startIndexMap, sliceSizes, indicesAreSorted)
	inputs := &nodeInputsGather{operand: operand, startIndices: startIndices, sliceSizes: sliceSizes}
	return buildBackendNodeWithInputs("Gather", inputs, []*Node{operand, startIndices}, result, err)
}

func backendScatterSum(operand, scatterIndices, updates *Node, indexVectorAxis int, updateWindowAxes, insertedWindowAxes, scatterAxesToOperandAxes []int, indicesAreSorted, uniqueIndices bool) *Node {
	validateBuildingGraphFromInputs(operand, scatterIndices, updates)
	result, err := operand.graph.currentFunc.backendFunc.ScatterSum(operand.outputOps[0], scatterIndices.outputOps[0], updates.outputOps[0], indexVectorAxis, updateWindowAxes, insertedWindowAxes, scatterAxesToOperandAxes, indicesAreSorted, uniqueIndices)
	inputs := &nodeInputsScatterSum{operand: operand, scatterIndices: scatterIndices, updates: updates, indicesAreSorted: indicesAreSorted}
	return buildBackendNodeWithInputs("ScatterSum", inputs, []*Node{operand, scatterIndices, updates}, result, err)
}

func backendScatterMax(operand, scatterIndices, updates *Node, indexVectorAxis int, updateWindowAxes, insertedWindowAxes, scatterAxesToOperandAxes []int, indicesAreSorted, uniqueIndices bool) *Node {
	validateBuildingGraphFromInputs(operand, scatterIndices, updates)
	result, err := operand.graph.currentFunc.backendFunc.ScatterMax(operand.outputOps[0], scatterIndices.outputOps[0], updates.outputOps[0], indexVectorAxis, updateWindowAxes, insertedWindowAxes, scatterAxesToOperandAxes, indicesAreSorted, uniqueIndices)
	inputs := &nodeInputsScatterMax{operand: operand, scatterIndices: scatterIndices, updates: updates, indicesAreSorted: indicesAreSorted}
	return buildBackendNodeWithInputs("ScatterMax", inputs, []*Node{operand, scatterIndices, updates}, result, err)
}

func backendScatterMin(operand, scatterIndices, updates *Node, indexVectorAxis int, updateWindowAxes, insertedWindowAxes, scatterAxesToOperandAxes []int, indicesAreSorted, uniqueIndices bool) *Node {
	validateBuildingGraphFromInputs(operand, scatterIndices, updates)
	result, err := operand.graph.currentFunc.backendFunc.ScatterMin(operand.outputOps[0], scatterIndices.outputOps[0], updates.outputOps[0], indexVectorAxis, updateWindowAxes, insertedWindowAxes, scatterAxesToOperandAxes, indicesAreSorted, uniqueIndices)
	inputs := &nodeInputsScatterMin{operand: operand, scatterIndices: scatterIndices, updates: updates, indicesAreSorted: indicesAreSorted}
	return buildBackendNodeWithInputs("ScatterMin", inputs, []*Node{operand, scatterIndices, updates}, result, err)
}

// ---- Reductions ----

func backendReduce(name string, call func(x backends.Op, axes ...int) (backends.Op, error), x *Node, axes ...int) *Node {
	g := validateBuildingGraphFromInputs(x)
	result, err := call(x.outputOps[0], axes...)
	_ = g
	return buildBackendNode(name, []*Node{x}, result, err)
}

func backendReduceSum(x *Node, axes ...int) *Node {
	g := validateBuildingGraphFromInputs(x)
	result, err := g.currentFunc.backendFunc.ReduceSum(x.outputOps[0], axes...)
	return buildBackendNodeWithInputs("ReduceSum", &nodeInputsReduceSum{x: x, axes: axes}, []*Node{x}, result, err)
}
func backendReduceMax(x *Node, axes ...int) *Node {
	g := validateBuildingGraphFromInputs(x)
	result, err := g.currentFunc.backendFunc.ReduceMax(x.outputOps[0], axes...)
	return buildBackendNodeWithInputs("ReduceMax", &nodeInputsReduceMax{x: x}, []*Node{x}, result, err)
}
func backendReduceMin(x *Node, axes ...int) *Node {
	return backendReduce("ReduceMin", x.graph.currentFunc.backendFunc.ReduceMin, x, axes...)
}
func backendReduceProduct(x *Node, axes ...int) *Node {
	return backendReduce("ReduceProduct", x.graph.currentFunc.backendFunc.ReduceProduct, x, axes...)
}
func backendReduceLogicalAnd(x *Node, axes ...int) *Node {
	return backendReduce("ReduceLogicalAnd", x.graph.currentFunc.backendFunc.ReduceLogicalAnd, x, axes...)
}
func backendReduceLogicalOr(x *Node, axes ...int) *Node {
	return backendReduce("ReduceLogicalOr", x.graph.currentFunc.backendFunc.ReduceLogicalOr, x, axes...)
}
func backendReduceLogicalXor(x *Node, axes ...int) *Node {
	return backendReduce("ReduceLogicalXor", x.graph.currentFunc.backendFunc.ReduceLogicalXor, x, axes...)
}
func backendReduceBitwiseAnd(x *Node, axes ...int) *Node {
	return backendReduce("ReduceBitwiseAnd", x.graph.currentFunc.backendFunc.ReduceBitwiseAnd, x, axes...)
}
func backendReduceBitwiseOr(x *Node, axes ...int) *Node {
	return backendReduce("ReduceBitwiseOr", x.graph.currentFunc.backendFunc.ReduceBitwiseOr, x, axes...)
}
func backendReduceBitwiseXor(x *Node, axes ...int) *Node {
	return backendReduce("ReduceBitwiseXor", x.graph.currentFunc.backendFunc.ReduceBitwiseXor, x, axes...)
}

// ---- Misc ops referenced by kept teacher files ----

func backendArgMinMax(x *Node, axis int, outputDType dtypes.DType, isMin bool) *Node {
	g := validateBuildingGraphFromInputs(x)
	result, err := g.currentFunc.backendFunc.ArgMinMax(x.outputOps[0], axis, outputDType, isMin)
	return buildBackendNode("ArgMinMax", []*Node{x}, result, err)
}

func backendSign(x *Node) *Node {
	return op1("Sign", x.graph.currentFunc.backendFunc.Sign, x)
}

func backendShiftLeft(lhs, rhs *Node) *Node {
	return op2("ShiftLeft", func(a, b backends.Op) (backends.Op, error) { return lhs.graph.currentFunc.backendFunc.ShiftLeft(a, b) }, lhs, rhs)
}
func backendShiftRightArithmetic(lhs, rhs *Node) *Node {
	return op2("ShiftRightArithmetic", func(a, b backends.Op) (backends.Op, error) { return lhs.graph.currentFunc.backendFunc.ShiftRightArithmetic(a, b) }, lhs, rhs)
}
func backendShiftRightLogical(lhs, rhs *Node) *Node {
	return op2("ShiftRightLogical", func(a, b backends.Op) (backends.Op, error) { return lhs.graph.currentFunc.backendFunc.ShiftRightLogical(a, b) }, lhs, rhs)
}

func backendDotGeneral(lhs *Node, lhsContractingAxes, lhsBatchAxes []int, rhs *Node, rhsContractingAxes, rhsBatchAxes []int, config backends.DotGeneralConfig) *Node {
	validateBuildingGraphFromInputs(lhs, rhs)
	result, err := lhs.graph.currentFunc.backendFunc.DotGeneral(lhs.outputOps[0], lhsContractingAxes, lhsBatchAxes, rhs.outputOps[0], rhsContractingAxes, rhsBatchAxes, config)
	inputs := &nodeInputsDotGeneral{
		lhs: lhs, rhs: rhs,
		lhsContractingAxes: lhsContractingAxes, lhsBatchAxes: lhsBatchAxes,
		rhsContractingAxes: rhsContractingAxes, rhsBatchAxes: rhsBatchAxes,
		config: config,
	}
	return buildBackendNodeWithInputs("DotGeneral", inputs, []*Node{lhs, rhs}, result, err)
}

func backendConvGeneral(input, kernel *Node, axes backends.ConvolveAxesConfig, strides []int, paddings [][2]int, inputDilations, kernelDilations []int, channelGroupCount, batchGroupCount int) *Node {
	validateBuildingGraphFromInputs(input, kernel)
	result, err := input.graph.currentFunc.backendFunc.ConvGeneral(input.outputOps[0], kernel.outputOps[0], axes, strides, paddings, inputDilations, kernelDilations, channelGroupCount, batchGroupCount)
	inputs := &nodeInputsConvGeneral{
		x: input, kernel: kernel, axes: axes, strides: strides, paddings: paddings,
		inputDilations: inputDilations, kernelDilations: kernelDilations,
		channelGroupCount: channelGroupCount, batchGroupCount: batchGroupCount,
	}
	return buildBackendNodeWithInputs("ConvGeneral", inputs, []*Node{input, kernel}, result, err)
}

func backendRNGBitGenerator(state *Node, shape shapes.Shape) (newState, values *Node) {
	g := validateBuildingGraphFromInputs(state)
	newStateOp, valuesOp, err := g.currentFunc.backendFunc.RNGBitGenerator(state.outputOps[0], shape)
	if err != nil {
		panic(errors.WithMessagef(err, "RNGBitGenerator"))
	}
	nodes := buildBackendNodeMulti("RNGBitGenerator", []*Node{state}, []backends.Op{newStateOp, valuesOp}, nil)
	return nodes[0], nodes[1]
}

func backendBatchNormForInference(operand, scale, offset, mean, variance *Node, epsilon float32, featureAxis int) *Node {
	inputs := []*Node{operand, scale, offset, mean, variance}
	validateBuildingGraphFromInputs(inputs...)
	result, err := operand.graph.currentFunc.backendFunc.BatchNormForInference(
		operand.outputOps[0], scale.outputOps[0], offset.outputOps[0], mean.outputOps[0], variance.outputOps[0], epsilon, featureAxis)
	return buildBackendNode("BatchNormForInference", inputs, result, err)
}

func backendBatchNormForTraining(operand, scale, offset *Node, epsilon float32, featureAxis int) (normalized, batchMean, batchVariance *Node) {
	inputs := []*Node{operand, scale, offset}
	validateBuildingGraphFromInputs(inputs...)
	n, mean, variance, err := operand.graph.currentFunc.backendFunc.BatchNormForTraining(operand.outputOps[0], scale.outputOps[0], offset.outputOps[0], epsilon, featureAxis)
	if err != nil {
		panic(errors.WithMessagef(err, "BatchNormForTraining"))
	}
	nodes := buildBackendNodeMulti("BatchNormForTraining", inputs, []backends.Op{n, mean, variance}, nil)
	return nodes[0], nodes[1], nodes[2]
}

func backendBatchNormGradient(operand, scale, mean, variance, gradOutput *Node, epsilon float32, featureAxis int) (gradOperand, gradScale, gradOffset *Node) {
	inputs := []*Node{operand, scale, mean, variance, gradOutput}
	validateBuildingGraphFromInputs(inputs...)
	gOperand, gScale, gOffset, err := operand.graph.currentFunc.backendFunc.BatchNormGradient(
		operand.outputOps[0], scale.outputOps[0], mean.outputOps[0], variance.outputOps[0], gradOutput.outputOps[0], epsilon, featureAxis)
	if err != nil {
		panic(errors.WithMessagef(err, "BatchNormGradient"))
	}
	nodes := buildBackendNodeMulti("BatchNormGradient", inputs, []backends.Op{gOperand, gScale, gOffset}, nil)
	return nodes[0], nodes[1], nodes[2]
}
