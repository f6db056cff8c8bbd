// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package exceptions provides helper functions to leverage Go's `panic`, `recover` and `defer`
// as an "exceptions" system. It is the successor of the older github.com/gomlx/gomlx/types/exceptions
// (and internal/exceptions) package, kept API-compatible so callers can migrate incrementally.
package exceptions

import "github.com/pkg/errors"

// Panicf panics with an error built from format and args, in the fashion of fmt.Errorf, but
// the panic carries a github.com/pkg/errors stack trace.
func Panicf(format string, args ...any) {
	panic(errors.Errorf(format, args...))
}

// Try calls fn and returns any exception (`panic`) that may have occurred.
// If no panic happened, it returns nil.
func Try(fn func()) (exception any) {
	defer func() {
		exception = recover()
	}()
	fn()
	return
}

// Catch calls handler if an exception occurs of the given type E. It must be called from a
// deferred statement; multiple deferred Catch calls are allowed, for different exception types.
// If the recovered exception is not of type E, it is re-thrown (re-panicked).
func Catch[E any](handler func(exception E)) {
	exception := recover()
	if exception == nil {
		return
	}
	exceptionE, ok := exception.(E)
	if !ok {
		panic(exception)
	}
	handler(exceptionE)
}

// TryCatch calls fn and recovers from any exception (panic) of type E, returning it.
// If no exception happened it returns the zero value for E.
//
// If a panic happened of a type different from E, it is not caught (it propagates).
func TryCatch[E any](fn func()) (exception E) {
	defer Catch(func(e E) { exception = e })
	fn()
	return
}
