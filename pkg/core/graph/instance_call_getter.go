// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import "reflect"

// runGetterStrategy implements spec.md §4.4's getter strategy: every callable must return only
// scalars. Each callable runs once, inside its own recording scope (so any throwaway IR it builds
// doesn't leak into the enclosing graph beyond its single output node); the per-callable outputs
// are packed into a contiguous, gather-indexable buffer (slot 0 is the null-instance sentinel,
// always zero), and the final result is a single Gather by instance_index, masked by
// `mask & (instance_index != 0)`.
//
// If every callable produced the exact same literal for a given return slot, the gather is skipped
// entirely in favor of returning that shared literal broadcast to the call's size -- spec.md §4.4's
// shortcut.
func runGetterStrategy(g *Graph, cfg CallConfig, instances []resolvedInstance) []*Node {
	maxID := 0
	for _, inst := range instances {
		if inst.id > maxID {
			maxID = inst.id
		}
	}

	var want []*Node
	var perReturn [][]*Node // perReturn[returnIdx][id], id in [0, maxID]
	anyRan := false
	for _, inst := range instances {
		if inst.ptr == nil {
			continue
		}
		anyRan = true

		callMask := cfg.Mask
		if callMask == nil {
			callMask = defaultMask(g, 1)
		}
		g.pushRecording()
		g.pushMask(callMask)
		g.pushSelf(inst.id, nil)
		got := cfg.UserFn(cfg.Payload, inst.ptr, wrapCallInputs(cfg.Args))
		g.popSelf()
		g.popMask()
		g.popRecording()

		checkReturnConsistency(cfg.Name, want, got)
		shapesAllScalar(cfg.Name, got)
		if want == nil {
			want = got
			perReturn = make([][]*Node, len(got))
			for i := range perReturn {
				perReturn[i] = make([]*Node, maxID+1)
			}
		}
		for i, v := range got {
			perReturn[i][inst.id] = v
		}
	}
	if !anyRan {
		dispatchPanicf(KindEmptyReturn, "DispatchCall %q: getter strategy found no active (registered) callables", cfg.Name)
	}

	for i, slots := range perReturn {
		for id, v := range slots {
			if v == nil {
				slots[id] = ZerosLike(want[i])
			}
			_ = id
		}
		perReturn[i] = slots
	}

	rv := make([]*Node, len(want))
	for i, slots := range perReturn {
		if cfg.InstanceIndex == nil {
			// No per-lane selection: a getter with no InstanceIndex only makes sense when there is a
			// single active instance to read from.
			rv[i] = slots[maxID]
			continue
		}
		if shared, ok := sharedLiteral(slots[1:]); ok {
			rv[i] = BroadcastOrSame(shared, cfg)
			continue
		}
		buffer := Concatenate(reshapeEachToVector(slots), 0)
		rv[i] = gatherByInstanceIndex(g, buffer, cfg)
	}
	return rv
}

// sharedLiteral returns (the first slot, true) if every slot (excluding the null-instance
// sentinel) is a literal constant equal to the first one.
func sharedLiteral(slots []*Node) (*Node, bool) {
	if len(slots) == 0 {
		return nil, false
	}
	first := slots[0]
	if classifyHandle(first) != HandleLiteral {
		return nil, false
	}
	firstVal := first.ConstantValue().Value()
	for _, s := range slots[1:] {
		if classifyHandle(s) != HandleLiteral {
			return nil, false
		}
		if !reflect.DeepEqual(s.ConstantValue().Value(), firstVal) {
			return nil, false
		}
	}
	return first, true
}

// BroadcastOrSame broadcasts a shared scalar literal to the call's unified lane size, or returns
// it unchanged for a size-1 call.
func BroadcastOrSame(shared *Node, cfg CallConfig) *Node {
	size := unifySize(append([]*Node{cfg.InstanceIndex, cfg.Mask}, cfg.Args...)...)
	if size <= 1 {
		return shared
	}
	return BroadcastPrefix(shared, size)
}

// reshapeEachToVector reshapes every scalar node in slots to shape [1], so they can be
// Concatenate-d into a single [len(slots)] buffer.
func reshapeEachToVector(slots []*Node) []*Node {
	out := make([]*Node, len(slots))
	for i, s := range slots {
		out[i] = ReshapeWithShape(s, leadingSizeShape(s.Shape(), 1))
	}
	return out
}

// gatherByInstanceIndex implements the getter strategy's final `gather(buffer, instance_index,
// mask & (instance_index != 0))` step: lanes that are masked off, or whose instance_index is 0,
// read slot 0 of buffer (always zero). cfg.InstanceIndex is required here: a nil InstanceIndex
// with more than one distinct return value is handled by the shared-literal shortcut or by the
// caller picking the sole active instance directly, never by reaching this gather.
func gatherByInstanceIndex(g *Graph, buffer *Node, cfg CallConfig) *Node {
	idx := cfg.InstanceIndex
	active := NotEqual(idx, ScalarZero(g, idx.DType()))
	if cfg.Mask != nil {
		active = And(active, cfg.Mask)
	}
	effective := Where(active, idx, ScalarZero(g, idx.DType()))
	indices := InsertAxes(effective, -1)
	return Gather(buffer, indices)
}
