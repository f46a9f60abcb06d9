package rangebar

import (
	"math"

	"rangebar/internal/fixedpoint"
)

// ThresholdDenominator fixes the unit of the threshold parameter at tenths
// of a basis point: a parameter of 250 means 250/100000 = 0.25%.
//
// Note for anyone migrating data produced under a whole-basis-point
// convention: the divisor here is 100000, not 10000.
const ThresholdDenominator = 100_000

// ComputeThresholds derives the breach bounds for a bar from its open
// price. delta = open*param/100000, upper = open+delta, lower = open-delta.
//
// The bounds are computed exactly once per bar, at the open, and stored for
// the bar's lifetime; they are never revised from a later price. That is
// what keeps bars free of lookahead bias.
func ComputeThresholds(open fixedpoint.Value, thresholdTenthBps uint32) (upper, lower fixedpoint.Value) {
	delta, err := open.MulDiv(uint64(thresholdTenthBps), ThresholdDenominator)
	if err != nil {
		// Only reachable with an absurd open*param combination; saturated
		// bounds make the bar unbounded rather than wrong.
		return fixedpoint.FromRaw(math.MaxInt64), fixedpoint.FromRaw(math.MinInt64)
	}
	return open.Add(delta), open.Sub(delta)
}
