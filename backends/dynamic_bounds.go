package backends

// DynamicBoundsOps is an optional interface a Builder can implement to support reshaping/broadcasting
// to a shape that is only known at runtime, within a static upper bound on each dynamic dimension
// ("bounded dynamism"). Backends that don't implement it (see package
// github.com/gomlx/gomlx/backends/notimplemented) reject these ops with a NotImplementedError.
type DynamicBoundsOps interface {
	// DynamicReshape reshapes operand to the shape given by the outputShape tensor (a rank-1
	// integer tensor), with no static bound on the result: the backend must track the shape as
	// fully dynamic.
	DynamicReshape(operand Op, outputShape Op) (Op, error)

	// DynamicReshapeWithBounds reshapes operand to the shape given by the outputShape tensor
	// (a rank-1 integer tensor), where each dimension is bounded by the corresponding entry in
	// bounds -- the physical buffer is allocated at the bound, and the logical shape tracks the
	// runtime value.
	DynamicReshapeWithBounds(operand Op, outputShape Op, bounds []int) (Op, error)

	// DynamicBroadcastInDim broadcasts operand to the shape given by the outputDimensions tensor
	// (a rank-1 integer tensor), mapping operand's axes onto broadcastDimensions of the result,
	// with no static bound on the result.
	DynamicBroadcastInDim(operand Op, outputDimensions Op, broadcastDimensions []int) (Op, error)

	// DynamicBroadcastInDimWithBounds broadcasts operand to the shape given by the outputDimensions
	// tensor (a rank-1 integer tensor), mapping operand's axes onto broadcastDimensions of the
	// result, with each output dimension bounded by the corresponding entry in bounds.
	DynamicBroadcastInDimWithBounds(operand Op, outputDimensions Op, broadcastDimensions []int, bounds []int) (Op, error)
}
