package uthread

import "golang.org/x/exp/constraints"

// clampPositive returns v if v > 0, otherwise zero. newReadyQueue uses it
// to keep a non-positive capacity from producing a negative buffer size.
func clampPositive[T constraints.Integer](v T) T {
	if v > 0 {
		return v
	}
	var zero T
	return zero
}
