// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"reflect"

	"github.com/gomlx/gomlx/internal/exceptions"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gopjrt/dtypes"
)

// UserFn is the callable protocol invoked once per active instance by DispatchCall: given the
// dispatcher's payload, the resolved instance pointer (nil for the null instance, or an `int` id
// when no domain registry is used, or whatever the registry returned), and the (possibly
// call-input-wrapped) arguments, it must return one non-nil handle per declared return value.
//
// UserFn may panic (the package's exceptions idiom); DispatchCall's single catch-all runs cleanup
// exactly once and re-panics.
type UserFn func(payload any, instancePtr any, args []*Node) (rv []*Node)

// CallConfig configures one indirect call through DispatchCall.
type CallConfig struct {
	// Domain, if non-empty, resolves CallableCount and each instance's pointer via the registry
	// previously populated with RegisterDomain(Domain). Mutually exclusive with CallableCount.
	Domain string
	// CallableCount, if > 0, is a dense range [1..CallableCount] of raw instance ids, each
	// resolving to pointer `id` (an int). Mutually exclusive with Domain.
	CallableCount int

	// Name labels the emitted indirect-call instruction (combined with Domain as "domain::name"
	// when Domain is set); used only for diagnostics.
	Name string

	// IsGetter selects the getter strategy (every callable must return only scalars).
	IsGetter bool

	// InstanceIndex is a per-lane integer tensor selecting which callable services that lane.
	// Size 1 broadcasts to every lane. A value of 0 means "null instance": the lane is masked off.
	InstanceIndex *Node
	// Mask is a per-lane boolean tensor; size 1 broadcasts. Lanes where Mask is false are inactive.
	Mask *Node
	// Args are the arguments passed to every callable invocation (borrowed).
	Args []*Node

	// Payload is opaque caller state threaded through UserFn and CleanupFn.
	Payload any
	// UserFn is invoked once per active callable.
	UserFn UserFn
	// CleanupFn releases Payload; called exactly once, either by DispatchCall on failure / when AD
	// wrapping isn't needed, or (when handledCleanup is returned true) later by the CustomOp.
	CleanupFn func(payload any)

	// ADEnabled allows DispatchCall to wrap the result in a CustomOp when any argument or return
	// value is differentiable. If false, AD tags are stripped from the result.
	ADEnabled bool
}

// resolvedInstance pairs a dense slot (1-based) with its resolved pointer; a Domain lookup miss
// or a CallableCount "raw index" pointer of `id` both flow through this type.
type resolvedInstance struct {
	id  int
	ptr any // nil if Domain lookup missed (slot must be skipped)
}

// resolveInstances expands cfg.Domain/cfg.CallableCount into the dense, in-order list of
// instances DispatchCall's strategies iterate over.
func resolveInstances(cfg CallConfig) []resolvedInstance {
	hasDomain := cfg.Domain != ""
	hasCount := cfg.CallableCount > 0
	if hasDomain == hasCount {
		dispatchPanicf(KindModeConflict, "DispatchCall requires exactly one of Domain or CallableCount, got Domain=%q CallableCount=%d",
			cfg.Domain, cfg.CallableCount)
	}
	if hasCount {
		out := make([]resolvedInstance, cfg.CallableCount)
		for i := 0; i < cfg.CallableCount; i++ {
			out[i] = resolvedInstance{id: i + 1, ptr: i + 1}
		}
		return out
	}
	registry := LookupDomain(cfg.Domain)
	if registry == nil {
		return nil
	}
	// MaxID is the dense range's upper bound (the highest id ever registered), not the entry count:
	// registrations need not be contiguous from 1 (e.g. ids {1,3}), so Len() would under-probe and
	// silently drop any id beyond the entry count. Unregistered ids inside the range are skipped.
	count := registry.MaxID()
	out := make([]resolvedInstance, 0, count)
	for i := 1; i <= count; i++ {
		ptr, found := registry.Lookup(i)
		if !found {
			continue
		}
		out = append(out, resolvedInstance{id: i, ptr: ptr})
	}
	return out
}

// defaultMask builds an all-true boolean mask of size w (spec.md §4.3's `mask_default(size)`,
// pushed once per bucket), or a bare scalar true for w <= 1.
func defaultMask(g *Graph, w int) *Node {
	mask := Const(g, true)
	if w > 1 {
		mask = BroadcastToShape(mask, shapes.Make(dtypes.Bool, w))
	}
	return mask
}

// laneSize returns the number of lanes (leading-dimension size) of n, or 1 for a scalar.
func laneSize(n *Node) int {
	if n == nil {
		return 1
	}
	if n.Shape().IsScalar() {
		return 1
	}
	return n.Shape().Dimensions[0]
}

// unifySize implements spec.md §4.1's size-unification rule: every non-broadcast (size != 1) input
// must agree on a single size; size-1 inputs broadcast.
func unifySize(nodes ...*Node) int {
	size := 1
	for _, n := range nodes {
		s := laneSize(n)
		if s == 1 {
			continue
		}
		if size != 1 && size != s {
			dispatchPanicf(KindShapeMismatch, "incompatible lane sizes in DispatchCall: got both %d and %d", size, s)
		}
		size = s
	}
	return size
}

// isZeroScalarLiteral returns whether n is a constant, scalar node whose value is the zero value
// of its type (used to detect spec.md §4.1's degenerate "instance_index = 0" / "mask is the
// literal false" cases).
func isZeroScalarLiteral(n *Node) bool {
	if n == nil {
		return false
	}
	if n.Type() != NodeTypeConstant || !n.Shape().IsScalar() {
		return false
	}
	t := n.ConstantValue()
	if t == nil {
		return false
	}
	return reflect.ValueOf(t.Value()).IsZero()
}

// isDegenerate implements spec.md §4.1's degenerate-case predicate.
func isDegenerate(cfg CallConfig, instances []resolvedInstance, size int) bool {
	if len(instances) == 0 {
		return true
	}
	if size == 0 {
		return true
	}
	if isZeroScalarLiteral(cfg.InstanceIndex) {
		return true
	}
	if cfg.Mask != nil && cfg.Mask.Shape().IsScalar() && isFalseScalarLiteral(cfg.Mask) {
		return true
	}
	return false
}

// isFalseScalarLiteral returns whether n is a constant scalar boolean equal to false.
func isFalseScalarLiteral(n *Node) bool {
	if n == nil || n.Type() != NodeTypeConstant || !n.Shape().IsScalar() {
		return false
	}
	t := n.ConstantValue()
	if t == nil {
		return false
	}
	b, ok := t.Value().(bool)
	return ok && !b
}

// degenerateResult implements spec.md §4.1's degenerate case: call UserFn once with a null
// instance to discover the output arity/types, then replace every result with a zero literal of
// the matching shape (broadcast to size, or scalar if size is 0/1).
func degenerateResult(g *Graph, cfg CallConfig, size int) []*Node {
	allFalse := Const(g, false)
	if size > 1 {
		allFalse = BroadcastToShape(allFalse, shapes.Make(dtypes.Bool, size))
	}
	g.pushMask(allFalse)
	defer g.popMask()
	prototype := cfg.UserFn(cfg.Payload, nil, wrapCallInputs(cfg.Args))
	if len(prototype) == 0 {
		dispatchPanicf(KindEmptyReturn, "DispatchCall %q: degenerate case's prototype UserFn call returned no values", cfg.Name)
	}
	rv := make([]*Node, len(prototype))
	for i, p := range prototype {
		// p came out of a single call against the full, unmasked cfg.Args: if it's already rank
		// >= 1 it's already lane-shaped (matching laneResultShape's convention elsewhere in the
		// dispatcher), so only a scalar prototype needs a fresh leading lane dimension.
		rv[i] = Zeros(g, laneResultShape(p, size))
	}
	return rv
}

// wrapCallInputs marks every arg as a "call input" entering the indirect-call region (spec.md
// §4.2 step 2). In this implementation call inputs need no IR sentinel of their own -- GoMLX
// nodes already carry their scope/backend tag -- so this is currently the identity; it exists as
// a named seam so a future backend-specific sentinel can be introduced without changing callers.
func wrapCallInputs(args []*Node) []*Node {
	out := make([]*Node, len(args))
	copy(out, args)
	return out
}

// needsAD reports whether any of nodes is eligible to carry a gradient: a floating-point value
// not marked with StopGradient, per spec.md §4.1's `needs_ad` check (`ad_id != 0`). GoMLX computes
// gradients on demand (Gradient walks the graph backwards from a target), so "AD-tracked" here
// means "eligible", which is what the dispatcher needs to decide whether to wrap the call.
func needsAD(nodes ...*Node) bool {
	for _, n := range nodes {
		if n == nil || n.StopGradient() {
			continue
		}
		if n.DType().IsFloat() {
			return true
		}
	}
	return false
}

// DispatchCall is the dispatcher's public entry point (spec.md §4.1): it unifies lane sizes,
// handles the degenerate all-masked-off case, selects a strategy (getter / recording / evaluated),
// runs it, and wraps the result for automatic differentiation when needed.
//
// handledCleanup reports whether ownership of cfg.Payload was transferred to a CustomOp (true --
// the caller must not call cfg.CleanupFn itself) or whether DispatchCall already released it
// (false -- the caller is done, cfg.CleanupFn has already run exactly once, including on the
// degenerate path and on any panic).
func DispatchCall(g *Graph, cfg CallConfig) (rv []*Node, handledCleanup bool) {
	g.AssertBuilding()
	if cfg.UserFn == nil {
		exceptions.Panicf("DispatchCall %q: UserFn is required", cfg.Name)
	}
	if cfg.CleanupFn == nil {
		cfg.CleanupFn = func(any) {}
	}

	cleanedUp := false
	cleanupOnce := func() {
		if !cleanedUp {
			cleanedUp = true
			cfg.CleanupFn(cfg.Payload)
		}
	}
	defer func() {
		if r := recover(); r != nil {
			cleanupOnce()
			panic(r)
		}
	}()

	maskDepth, selfDepth := g.maskStackDepth(), g.selfStackDepth()
	defer func() {
		if g.maskStackDepth() != maskDepth || g.selfStackDepth() != selfDepth {
			dispatchPanicf(KindInternalInvariant, "DispatchCall %q: scoped stack depth changed across the call (mask %d->%d, self %d->%d)",
				cfg.Name, maskDepth, g.maskStackDepth(), selfDepth, g.selfStackDepth())
		}
	}()

	instances := resolveInstances(cfg)
	size := unifySize(append(append([]*Node{cfg.InstanceIndex, cfg.Mask}, cfg.Args...))...)

	if isDegenerate(cfg, instances, size) {
		rv = degenerateResult(g, cfg, size)
		cleanupOnce()
		return rv, false
	}

	var strategyNeedsAD bool
	switch {
	case cfg.IsGetter:
		rv = runGetterStrategy(g, cfg, instances)
	case g.SymbolicCallsEnabled():
		rv = runRecordingStrategy(g, cfg, instances, size)
	default:
		if g.Symbolic() {
			dispatchPanicf(KindSymbolicModeRequired, "DispatchCall %q: evaluated strategy attempted inside an active symbolic region", cfg.Name)
		}
		rv = runEvaluatedStrategy(g, cfg, instances, size)
	}
	strategyNeedsAD = needsAD(cfg.Args...) || needsAD(rv...)

	if cfg.ADEnabled && strategyNeedsAD {
		rv = attachDispatchCustomOp(g, cfg, rv)
		return rv, true
	}
	cleanupOnce()
	return rv, false
}

// checkReturnConsistency implements spec.md §4.2's check_rv: the first non-empty callable fixes
// arity/types/backend; every subsequent callable must match.
func checkReturnConsistency(name string, want, got []*Node) {
	if len(got) == 0 {
		dispatchPanicf(KindEmptyReturn, "DispatchCall %q: a callable returned no values", name)
	}
	for _, n := range got {
		if n == nil {
			dispatchPanicf(KindEmptyReturn, "DispatchCall %q: a callable returned a nil handle", name)
		}
	}
	if want == nil {
		return
	}
	if len(want) != len(got) {
		dispatchPanicf(KindReturnArityMismatch, "DispatchCall %q: callables disagree on return arity: %d vs %d", name, len(want), len(got))
	}
	for i, w := range want {
		gN := got[i]
		if w.Graph() != gN.Graph() {
			dispatchPanicf(KindReturnBackendMismatch, "DispatchCall %q: callables' return #%d built on different graphs", name, i)
		}
		if w.DType() != gN.DType() {
			dispatchPanicf(KindReturnTypeMismatch, "DispatchCall %q: callables' return #%d dtype mismatch: %s vs %s", name, i, w.DType(), gN.DType())
		}
		if !w.Shape().EqualDimensions(gN.Shape()) {
			dispatchPanicf(KindReturnShapeMismatch, "DispatchCall %q: callables' return #%d shape mismatch: %s vs %s", name, i, w.Shape(), gN.Shape())
		}
	}
}

// shapesAllScalar validates the getter strategy's precondition (spec.md §4.4).
func shapesAllScalar(name string, nodes []*Node) {
	for i, n := range nodes {
		if !n.Shape().IsScalar() {
			dispatchPanicf(KindReturnNotScalar, "DispatchCall %q: getter strategy requires scalar returns, return #%d has shape %s", name, i, n.Shape())
		}
	}
}
