// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"fmt"
)

// DispatchErrorKind enumerates the ways DispatchCall (and SymbolicIf/SymbolicWhile built on top of
// it) can fail, each produced at its first detection point and never silently recovered.
type DispatchErrorKind int

const (
	// KindShapeMismatch: incompatible argument sizes across lanes/callables.
	KindShapeMismatch DispatchErrorKind = iota
	// KindModeConflict: both CallConfig.Domain and CallConfig.CallableCount were supplied, or neither.
	KindModeConflict
	// KindSymbolicModeRequired: an evaluated-strategy call was attempted inside an active recording scope.
	KindSymbolicModeRequired
	// KindEmptyReturn: a callable returned a zero/nil handle.
	KindEmptyReturn
	// KindReturnArityMismatch: callables returned a different number of values from each other.
	KindReturnArityMismatch
	// KindReturnTypeMismatch: callables returned values of different dtypes for the same return slot.
	KindReturnTypeMismatch
	// KindReturnBackendMismatch: callables returned values built against different graphs/backends.
	KindReturnBackendMismatch
	// KindReturnNotScalar: the getter strategy observed a non-scalar callable output.
	KindReturnNotScalar
	// KindRegistryMiss: the evaluated strategy encountered a bucket whose id is no longer registered.
	KindRegistryMiss
	// KindLoopStateChanged: SymbolicWhile's body changed the shape/type/count of the loop state pytree.
	KindLoopStateChanged
	// KindLoopSizeConflict: SymbolicWhile's condition and body disagree on the loop's lane count.
	KindLoopSizeConflict
	// KindReturnShapeMismatch: a callable's return shape disagrees with another callable's for the same slot.
	KindReturnShapeMismatch
	// KindInternalInvariant: an internal bookkeeping invariant was violated (e.g. indices consumed !=
	// indices provided); this should never happen given correct caller usage and indicates a dispatcher bug.
	KindInternalInvariant
)

// String implements fmt.Stringer.
func (k DispatchErrorKind) String() string {
	switch k {
	case KindShapeMismatch:
		return "ShapeMismatch"
	case KindModeConflict:
		return "ModeConflict"
	case KindSymbolicModeRequired:
		return "SymbolicModeRequired"
	case KindEmptyReturn:
		return "EmptyReturn"
	case KindReturnArityMismatch:
		return "ReturnArityMismatch"
	case KindReturnTypeMismatch:
		return "ReturnTypeMismatch"
	case KindReturnBackendMismatch:
		return "ReturnBackendMismatch"
	case KindReturnNotScalar:
		return "ReturnNotScalar"
	case KindRegistryMiss:
		return "RegistryMiss"
	case KindLoopStateChanged:
		return "LoopStateChanged"
	case KindLoopSizeConflict:
		return "LoopSizeConflict"
	case KindReturnShapeMismatch:
		return "ReturnShapeMismatch"
	case KindInternalInvariant:
		return "InternalInvariant"
	default:
		return "Unknown"
	}
}

// DispatchError is the error type raised (via panic, per the package's exceptions idiom) by
// DispatchCall and its strategies/frontends. All failures funnel through the dispatcher's single
// recover point (see DispatchCall), which runs cleanup exactly once and then re-panics with the
// same DispatchError so the caller's stack trace still points at the original failure.
type DispatchError struct {
	Kind    DispatchErrorKind
	Message string
}

// Error implements the error interface.
func (e *DispatchError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// newDispatchError creates a *DispatchError for the given kind and formatted message.
func newDispatchError(kind DispatchErrorKind, message string) *DispatchError {
	return &DispatchError{Kind: kind, Message: message}
}

// dispatchPanicf panics with a *DispatchError of the given kind, in the fashion of fmt.Errorf.
func dispatchPanicf(kind DispatchErrorKind, format string, args ...any) {
	panic(newDispatchError(kind, fmt.Sprintf(format, args...)))
}

// AsDispatchError returns (err, true) if the recovered exception is a *DispatchError, or (nil, false)
// otherwise. Useful in tests and in callers that want to distinguish dispatcher-raised failures from
// other panics (e.g. a plain exceptions.Panicf from deeper in package graph).
func AsDispatchError(exception any) (*DispatchError, bool) {
	err, ok := exception.(*DispatchError)
	return err, ok
}
