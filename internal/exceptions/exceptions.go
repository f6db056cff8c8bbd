// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package exceptions provides helper functions to leverage Go's `panic`, `recover` and `defer`
// as an "exceptions" system, used pervasively by package graph to report graph-building-time
// errors with a stack trace instead of threading error returns through every operation.
package exceptions

import "github.com/pkg/errors"

// Panicf panics with an error built from format and args, in the fashion of fmt.Errorf, but
// the panic carries a github.com/pkg/errors stack trace.
func Panicf(format string, args ...any) {
	panic(errors.Errorf(format, args...))
}
