package fundamentals

import "math"

// Undefined marks a derived metric that could not be computed (zero
// denominator, missing inputs, no annual periods). It is a sentinel, not an
// error: aggregation always completes and downstream checks treat Undefined
// as a failed predicate.
var Undefined = math.Inf(-1)

// IsUndefined reports whether v carries the Undefined sentinel.
func IsUndefined(v float64) bool {
	return math.IsInf(v, -1)
}

// SafeDivide returns n/d, or sentinel when d is zero. Ratios over real-world
// filings hit zero denominators routinely, so division never errors.
func SafeDivide(n, d, sentinel float64) float64 {
	if d == 0 {
		return sentinel
	}
	return n / d
}
