package model

import "math"

// MaxReputation caps a verifier's reputation so that weights and selection
// totals stay representable.
const MaxReputation int64 = 1 << 32

// AddAmount returns a+b, or false when the sum does not fit in an int64.
func AddAmount(a, b int64) (int64, bool) {
	s := a + b
	if (b > 0 && s < a) || (b < 0 && s > a) {
		return 0, false
	}
	return s, true
}

// mulSaturating returns a*b for non-negative operands, clamped at MaxInt64.
func mulSaturating(a, b int64) int64 {
	if a <= 0 || b <= 0 {
		return 0
	}
	if a > math.MaxInt64/b {
		return math.MaxInt64
	}
	return a * b
}
