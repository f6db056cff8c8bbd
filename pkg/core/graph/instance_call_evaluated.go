// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"reflect"

	"github.com/gomlx/gomlx/pkg/core/shapes"
)

// runEvaluatedStrategy implements spec.md §4.3's evaluated strategy: the one DispatchCall picks
// whenever SymbolicCallsEnabled is false, i.e. outside any active recording/getter region.
//
// The real evaluated strategy buckets lanes by concrete instance id and invokes each active
// instance's UserFn exactly once, on the gathered subset of arguments assigned to it -- avoiding
// the recording strategy's "run every callable on every lane" cost. That bucketing needs concrete
// per-lane instance ids, which this package (a purely symbolic graph builder, with no eager
// execution path -- see DESIGN.md) can only ever know when cfg.InstanceIndex happens to be a
// compile-time constant node. When it isn't, this falls back to the recording strategy's
// always-correct masked-select combination: the performance win is lost, but the result is
// identical, and no caller-visible behavior depends on which path ran.
func runEvaluatedStrategy(g *Graph, cfg CallConfig, instances []resolvedInstance, size int) []*Node {
	if cfg.InstanceIndex == nil || cfg.InstanceIndex.Type() != NodeTypeConstant {
		return runRecordingStrategy(g, cfg, instances, size)
	}

	ids := constantIntSlice(cfg.InstanceIndex, size)
	var maskVals []bool
	if cfg.Mask != nil {
		if cfg.Mask.Type() != NodeTypeConstant {
			return runRecordingStrategy(g, cfg, instances, size)
		}
		maskVals = constantBoolSlice(cfg.Mask, size)
	}

	buckets := make(map[int][]int)
	for lane, id := range ids {
		if id == 0 {
			continue
		}
		if maskVals != nil && !maskVals[lane] {
			continue
		}
		buckets[id] = append(buckets[id], lane)
	}
	if len(buckets) == 0 {
		dispatchPanicf(KindEmptyReturn, "DispatchCall %q: evaluated strategy found no active lanes", cfg.Name)
	}

	instanceByID := make(map[int]resolvedInstance, len(instances))
	for _, inst := range instances {
		instanceByID[inst.id] = inst
	}

	var want []*Node
	var rv []*Node
	for id, lanes := range buckets {
		inst, ok := instanceByID[id]
		if !ok || inst.ptr == nil {
			dispatchPanicf(KindRegistryMiss, "DispatchCall %q: evaluated strategy found no registered instance for id %d", cfg.Name, id)
		}

		bucketArgs := gatherLanes(cfg.Args, lanes, size)
		g.pushMask(defaultMask(g, len(lanes)))
		g.pushSelf(id, nil)
		got := cfg.UserFn(cfg.Payload, inst.ptr, wrapCallInputs(bucketArgs))
		g.popSelf()
		g.popMask()
		checkReturnConsistency(cfg.Name, want, got)
		if want == nil {
			want = got
			rv = make([]*Node, len(got))
			for i, g0 := range got {
				rv[i] = Zeros(g, laneResultShape(g0, size))
			}
		}

		indices := laneIndicesConst(g, lanes)
		for i, v := range got {
			rv[i] = ScatterUpdate(rv[i], indices, v, false, true)
		}
	}
	return rv
}

// laneResultShape derives the full [size, ...] shape of a strategy's result from one bucket's
// per-lane output shape, whose leading dimension is the bucket size rather than the full size.
func laneResultShape(bucketResult *Node, size int) shapes.Shape {
	shape := bucketResult.Shape().Clone()
	if shape.Rank() == 0 {
		return leadingSizeShape(shape, size)
	}
	shape.Dimensions[0] = size
	return shape
}

// gatherLanes restricts every lane-indexed argument (leading dimension == size) to the given lane
// positions; arguments that are scalar, or whose leading dimension doesn't match size (already
// shared across every lane), pass through unchanged.
func gatherLanes(args []*Node, lanes []int, size int) []*Node {
	out := make([]*Node, len(args))
	for i, a := range args {
		if a == nil || a.Shape().IsScalar() || a.Shape().Dimensions[0] != size {
			out[i] = a
			continue
		}
		out[i] = Gather(a, laneIndicesConst(a.Graph(), lanes))
	}
	return out
}

// laneIndicesConst builds the [len(lanes), 1]int32 index tensor Gather/ScatterUpdate expect to
// select/place the given lane positions.
func laneIndicesConst(g *Graph, lanes []int) *Node {
	flat := make([][]int32, len(lanes))
	for i, lane := range lanes {
		flat[i] = []int32{int32(lane)}
	}
	return Const(g, flat)
}

// constantIntSlice extracts one int per lane from a constant node: a scalar constant broadcasts to
// every lane, a vector constant is read element-wise. Used only once cfg.InstanceIndex/cfg.Mask
// have already been confirmed to be NodeTypeConstant.
func constantIntSlice(n *Node, size int) []int {
	t := n.ConstantValue()
	v := reflect.ValueOf(t.Value())
	if v.Kind() != reflect.Slice {
		out := make([]int, size)
		val := reflectToInt(v)
		for i := range out {
			out[i] = val
		}
		return out
	}
	out := make([]int, v.Len())
	for i := 0; i < v.Len(); i++ {
		out[i] = reflectToInt(v.Index(i))
	}
	return out
}

// constantBoolSlice is constantIntSlice's boolean counterpart.
func constantBoolSlice(n *Node, size int) []bool {
	t := n.ConstantValue()
	v := reflect.ValueOf(t.Value())
	if v.Kind() != reflect.Slice {
		out := make([]bool, size)
		val := v.Bool()
		for i := range out {
			out[i] = val
		}
		return out
	}
	out := make([]bool, v.Len())
	for i := 0; i < v.Len(); i++ {
		out[i] = v.Index(i).Bool()
	}
	return out
}

// reflectToInt converts a reflect.Value holding any signed or unsigned integer kind to an int.
func reflectToInt(v reflect.Value) int {
	switch v.Kind() {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int(v.Uint())
	default:
		return int(v.Int())
	}
}
