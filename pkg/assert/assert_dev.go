//go:build !release

// Package assert provides internal consistency checks. In development builds a failed check
// panics; building with the `release` tag compiles the checks away.
package assert

import "fmt"

// That panics with the formatted message when cond is false.
func That(cond bool, format string, args ...any) { //nolint:goprintffuncname // it's ok
	if !cond {
		panic(fmt.Sprintf("assertion failed: "+format, args...))
	}
}

// Unreachable panics unconditionally. Use it on code paths that exhaustive switches never reach.
func Unreachable(format string, args ...any) { //nolint:goprintffuncname // it's ok
	panic(fmt.Sprintf("unreachable: "+format, args...))
}
