// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gopjrt/dtypes"
)

// runRecordingStrategy implements spec.md §4.2's recording strategy: the one DispatchCall picks
// whenever SymbolicCallsEnabled is set, i.e. cfg.InstanceIndex/cfg.Mask cannot be assumed to be
// concrete data at trace time. Every resolved instance's UserFn is invoked directly, against the
// shared cfg.Args, in the current scope; the per-lane result is then combined by masked selection
// against cfg.InstanceIndex/cfg.Mask.
//
// Unlike XLA's Case HLO, which selects one branch for an entire call by a single scalar index, the
// dispatcher's instance_index is a per-lane tensor: a different instance may service each lane of
// the same call. A single-branch-per-call primitive can't express that, so this strategy doesn't
// delegate lane selection to one; instead every active callable's computation is recorded once and
// combined lane-by-lane via Where, the symbolic-trace analogue of a masked SIMD implementation
// executing every branch and blending by mask.
func runRecordingStrategy(g *Graph, cfg CallConfig, instances []resolvedInstance, size int) []*Node {
	g.pushRecording()
	defer g.popRecording()

	if cfg.InstanceIndex == nil && size > 1 {
		dispatchPanicf(KindShapeMismatch, "DispatchCall %q: recording strategy needs a non-nil InstanceIndex for a call with %d lanes", cfg.Name, size)
	}

	idxDType := dtypes.Int32
	if cfg.InstanceIndex != nil {
		idxDType = cfg.InstanceIndex.DType()
	}

	callMask := cfg.Mask
	if callMask == nil {
		callMask = defaultMask(g, size)
	}
	g.pushMask(callMask)
	defer g.popMask()

	var want []*Node
	var rv []*Node
	anyRan := false
	for _, inst := range instances {
		if inst.ptr == nil {
			continue
		}
		anyRan = true

		g.pushSelf(inst.id, nil)
		got := cfg.UserFn(cfg.Payload, inst.ptr, wrapCallInputs(cfg.Args))
		g.popSelf()
		checkReturnConsistency(cfg.Name, want, got)
		if want == nil {
			want = got
			rv = make([]*Node, len(got))
			for i, g0 := range got {
				rv[i] = Zeros(g, laneResultShape(g0, size))
			}
		}

		selected := instanceSelectionMask(g, cfg, inst.id, idxDType, size)
		for i, v := range got {
			targetShape := rv[i].Shape()
			broadcastV := v
			// UserFn ran against the full, shared cfg.Args, so a v whose rank already matches
			// targetShape's came out lane-varying on its own (e.g. it depends on a lane-sized
			// argument); only a lane-invariant v (one rank short, the same value for every lane)
			// needs a fresh leading lane dimension broadcast onto it.
			if v.Shape().Rank() < targetShape.Rank() {
				broadcastV = BroadcastPrefix(v, size)
			}
			rv[i] = Where(BroadcastToShape(selected, targetShape), broadcastV, rv[i])
		}
	}
	if !anyRan {
		dispatchPanicf(KindEmptyReturn, "DispatchCall %q: recording strategy found no active (registered) callables", cfg.Name)
	}
	return rv
}

// leadingSizeShape returns base with a leading `size` dimension prepended, unless size <= 1.
func leadingSizeShape(base shapes.Shape, size int) shapes.Shape {
	shape := base.Clone()
	if size > 1 {
		shape.Dimensions = append([]int{size}, shape.Dimensions...)
	}
	return shape
}

// instanceSelectionMask returns a boolean node, shaped to broadcast against a [size, ...] result,
// that is true wherever cfg.InstanceIndex selects instance id and cfg.Mask (if any) is true.
func instanceSelectionMask(g *Graph, cfg CallConfig, id int, idxDType dtypes.DType, size int) *Node {
	var selected *Node
	if cfg.InstanceIndex == nil {
		// No per-lane routing information: every active lane is serviced by this (necessarily sole)
		// instance.
		selected = Const(g, true)
	} else {
		idxLiteral := Scalar(g, idxDType, float64(id))
		selected = Equal(cfg.InstanceIndex, idxLiteral)
	}
	if cfg.Mask != nil {
		selected = And(selected, cfg.Mask)
	}
	if size > 1 {
		selected = BroadcastToShape(selected, shapes.Make(dtypes.Bool, size))
	}
	return selected
}
