// Package mathx carries the ordered-type helpers the MCU paths need
// without pulling in math or fmt.
package mathx

import "golang.org/x/exp/constraints"

// Clamp limits v to [lo, hi]; reversed bounds are swapped first.
func Clamp[T constraints.Ordered](v, lo, hi T) T {
	if hi < lo {
		lo, hi = hi, lo
	}
	switch {
	case v < lo:
		return lo
	case v > hi:
		return hi
	default:
		return v
	}
}

func Min[T constraints.Ordered](a, b T) T {
	if b < a {
		return b
	}
	return a
}
