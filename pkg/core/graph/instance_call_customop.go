// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"runtime"

	"github.com/gomlx/gomlx/pkg/core/shapes"
)

// attachDispatchCustomOp implements spec.md §4.5's AD hook: DispatchCall reaches here only once
// a strategy has already produced rv and decided (needsAD) that the call must stay differentiable.
//
// Forward: rv is returned unchanged -- the strategy already computed the right values, so there is
// no separate "forward" computation to run.
//
// Backward: each rv[i] is wrapped the way IdentityWithCustomGradient wraps a single-input op,
// generalized to the dispatcher's case of many inputs (cfg.Args) feeding many outputs (rv). The
// wrapper's declared inputs become cfg.Args directly (bypassing whatever intermediate graph the
// strategy built to reach rv[i]); its customVJP rebuilds a fresh differentiable copy of that
// strategy's output (by re-running DispatchCall's strategy selection with AD disabled, so it can't
// recurse into this function) and reduces it against the incoming cotangent with Gradient, the
// same "multiply by cotangent, sum, differentiate" trick reverseNode-based VJPs can't use directly
// since cfg.Args aren't rv[i]'s recorded graph inputs.
//
// Lifetime: cfg.Payload is owned by the wrapper nodes from here on; DispatchCall no longer calls
// cfg.CleanupFn itself (handledCleanup is returned true to the caller). Every rv[i] shares the same
// payload and the same cleanup, so only the first wrapper registers a finalizer for it -- calling
// CleanupFn once the payload becomes unreachable, the GC analogue of a destructor running it
// exactly once.
func attachDispatchCustomOp(g *Graph, cfg CallConfig, rv []*Node) []*Node {
	cleanup := &dispatchPayloadCleanup{payload: cfg.Payload, cleanupFn: cfg.CleanupFn}
	runtime.SetFinalizer(cleanup, (*dispatchPayloadCleanup).run)

	out := make([]*Node, len(rv))
	for i, v := range rv {
		out[i] = wrapDispatchCustomOpOutput(g, cfg, rv, i, cleanup)
		_ = v
	}
	return out
}

// dispatchPayloadCleanup defers cfg.CleanupFn(cfg.Payload) to GC finalization; run is idempotent so
// it tolerates being reachable from more than one wrapper output.
type dispatchPayloadCleanup struct {
	payload   any
	cleanupFn func(any)
	done      bool
}

func (c *dispatchPayloadCleanup) run() {
	if c.done {
		return
	}
	c.done = true
	c.cleanupFn(c.payload)
}

// wrapDispatchCustomOpOutput builds the CustomOp node standing in for rv[index]: same value, same
// shape, but with cfg.Args as its recorded inputs and a customVJP that differentiates through a
// freshly recomputed copy of the strategy, per this file's doc comment.
func wrapDispatchCustomOpOutput(g *Graph, cfg CallConfig, rv []*Node, index int, cleanup *dispatchPayloadCleanup) *Node {
	wrapped := Identity(rv[index])
	wrapped.inputNodes = cfg.Args
	runtime.KeepAlive(cleanup)
	wrapped.customVJP = func(node *Node, vjpForOutputs []*Node, _ shapes.Shape) []*Node {
		fresh := recomputeDispatchForGradient(g, cfg)
		if index >= len(fresh) {
			dispatchPanicf(KindInternalInvariant, "DispatchCall %q: custom gradient recompute returned %d outputs, need index %d",
				cfg.Name, len(fresh), index)
		}
		target := fresh[index]
		cotangent := vjpForOutputs[0]
		weighted := ReduceAllSum(Mul(target, StopGradient(cotangent)))
		grads := Gradient(weighted, cfg.Args...)
		return grads
	}
	return wrapped
}

// recomputeDispatchForGradient reruns strategy selection (skipping the degenerate and CustomOp
// wrapping steps, which only matter for the original call) to produce a fresh differentiable
// subgraph rooted at the same outputs as rv. UserFn and CleanupFn must tolerate being invoked again
// with the same Payload; CleanupFn itself is not called here, since the original attachDispatchCustomOp
// call already transferred its lifetime to the finalizer.
func recomputeDispatchForGradient(g *Graph, cfg CallConfig) []*Node {
	instances := resolveInstances(cfg)
	size := unifySize(append(append([]*Node{cfg.InstanceIndex, cfg.Mask}, cfg.Args...))...)

	if isDegenerate(cfg, instances, size) {
		return degenerateResult(g, cfg, size)
	}
	switch {
	case cfg.IsGetter:
		return runGetterStrategy(g, cfg, instances)
	case g.SymbolicCallsEnabled():
		return runRecordingStrategy(g, cfg, instances, size)
	default:
		return runEvaluatedStrategy(g, cfg, instances, size)
	}
}
