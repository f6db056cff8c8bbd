// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

// NodeType identifies the kind of operation a Node's NodeInputs represents (see NodeInputs.Type,
// Node.Type). Most ops are normally enumerated by a generator (see the package's `go:generate` directive
// and gen_backend_ops.go) from the backends.OpType list; this file declares the handful of NodeType
// values this package's own (non-generated) files need directly, plus the small set referenced by
// the fused/control-flow/call ops defined alongside them.
//
//go:generate go tool stringer -type=NodeType -trimprefix=NodeType -output=gen_nodetype_string.go
type NodeType int

const (
	// NodeTypeInvalid marks a Node with no inputs set (e.g., a nil or zero-value Node).
	NodeTypeInvalid NodeType = iota

	NodeTypeParameter
	NodeTypeConstant
	NodeTypeSplitNode

	// Generic element-wise and shape ops referenced directly by this package's hand-written files
	// (as opposed to backend-generated wrappers, which carry their own NodeType returned by
	// shapeinference/op-specific NodeInputs implementations not listed here).
	NodeTypeAdd
	NodeTypeSub
	NodeTypeMul
	NodeTypeDiv
	NodeTypeMax
	NodeTypeMin
	NodeTypeWhere
	NodeTypeReshape
	NodeTypeSlice
	NodeTypeConcatenate
	NodeTypeConvertDType
	NodeTypeGather
	NodeTypeScatterSum
	NodeTypeScatterMax
	NodeTypeScatterMin
	NodeTypeDynamicBroadcastInDim
	NodeTypeDynamicReshape
	NodeTypeGetDimensionSize
	NodeTypeReduceMax
	NodeTypeReduceSum
	NodeTypeDotGeneral
	NodeTypeConvGeneral

	// NodeTypeBackendOp stands in for every StandardOps/CollectiveOps method that doesn't otherwise
	// have its own NodeType above: with gen_backend_ops.go missing, there is no generator producing a
	// distinct, stringer-friendly NodeType per backend op (Equal, LessThan, Abs, Exp,
	// BroadcastInDim, Iota, Transpose, and so on) -- ops_backend.go's nodeInputsBackendOp carries the
	// op's name as a plain string for introspection instead.
	NodeTypeBackendOp

	// Fused composite ops (fused_ops.go).
	NodeTypeFusedSoftmax
	NodeTypeFusedLayerNorm
	NodeTypeFusedGelu
	NodeTypeFusedLinear
	NodeTypeFusedLinearActivation
	NodeTypeFusedDense
	NodeTypeFusedDenseActivation

	// Function/sub-computation ops (function.go, controlflow.go), matching backends.OpType's
	// Call/Sort/While/If family.
	NodeTypeCall
	NodeTypeSort
	NodeTypeWhile
	NodeTypeIf
)

var nodeTypeNames = map[NodeType]string{
	NodeTypeInvalid:               "Invalid",
	NodeTypeParameter:             "Parameter",
	NodeTypeConstant:              "Constant",
	NodeTypeSplitNode:             "SplitNode",
	NodeTypeAdd:                   "Add",
	NodeTypeSub:                   "Sub",
	NodeTypeMul:                   "Mul",
	NodeTypeDiv:                   "Div",
	NodeTypeMax:                   "Max",
	NodeTypeMin:                   "Min",
	NodeTypeWhere:                 "Where",
	NodeTypeReshape:               "Reshape",
	NodeTypeSlice:                 "Slice",
	NodeTypeConcatenate:           "Concatenate",
	NodeTypeConvertDType:          "ConvertDType",
	NodeTypeGather:                "Gather",
	NodeTypeScatterSum:            "ScatterSum",
	NodeTypeScatterMax:            "ScatterMax",
	NodeTypeScatterMin:            "ScatterMin",
	NodeTypeDynamicBroadcastInDim: "DynamicBroadcastInDim",
	NodeTypeDynamicReshape:        "DynamicReshape",
	NodeTypeGetDimensionSize:      "GetDimensionSize",
	NodeTypeReduceMax:             "ReduceMax",
	NodeTypeReduceSum:             "ReduceSum",
	NodeTypeDotGeneral:            "DotGeneral",
	NodeTypeConvGeneral:           "ConvGeneral",
	NodeTypeBackendOp:             "BackendOp",
	NodeTypeFusedSoftmax:          "FusedSoftmax",
	NodeTypeFusedLayerNorm:        "FusedLayerNorm",
	NodeTypeFusedGelu:             "FusedGelu",
	NodeTypeFusedLinear:           "FusedLinear",
	NodeTypeFusedLinearActivation: "FusedLinearActivation",
	NodeTypeFusedDense:            "FusedDense",
	NodeTypeFusedDenseActivation:  "FusedDenseActivation",
	NodeTypeCall:                  "Call",
	NodeTypeSort:                  "Sort",
	NodeTypeWhile:                 "While",
	NodeTypeIf:                    "If",
}

// String implements fmt.Stringer. Normally produced by `go generate` (see the directive above);
// written by hand here since gen_backend_ops.go -- the source the generator reads from -- isn't
// part of this package.
func (nt NodeType) String() string {
	if name, ok := nodeTypeNames[nt]; ok {
		return name
	}
	return "UnknownNodeType"
}
