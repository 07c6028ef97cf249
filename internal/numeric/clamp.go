// Package numeric ports the small generic clamp helpers the original
// implementation kept in include/common/util/data_verification.h.
package numeric

import "cmp"

// Clamp returns v bounded to [lo, hi].
func Clamp[T cmp.Ordered](v, lo, hi T) T {
	return ClampUpper(ClampLower(v, lo), hi)
}

// ClampLower returns v if v >= lo, else lo.
func ClampLower[T cmp.Ordered](v, lo T) T {
	if v < lo {
		return lo
	}
	return v
}

// ClampUpper returns v if v <= hi, else hi.
func ClampUpper[T cmp.Ordered](v, hi T) T {
	if v > hi {
		return hi
	}
	return v
}

// ValueWithin reports whether v lies in [lo, hi].
func ValueWithin[T cmp.Ordered](v, lo, hi T) bool {
	return v >= lo && v <= hi
}
