package fixedpoint

import "math/bits"

// Wide is an unsigned 128-bit accumulator for sums of Value products.
//
// A product of two Values is scaled by 10^16, which can exceed int64 for a
// busy bar, so turnover is accumulated at full width and only narrowed back
// to Value precision when read out. Wide is a value type; the zero Wide is
// an empty accumulator.
type Wide struct {
	hi uint64
	lo uint64
}

// AddProduct accumulates a*b into the accumulator. Both factors must be
// non-negative (prices and volumes are).
func (w Wide) AddProduct(a, b Value) Wide {
	hi, lo := bits.Mul64(uint64(a), uint64(b))
	var carry uint64
	w.lo, carry = bits.Add64(w.lo, lo, 0)
	w.hi, _ = bits.Add64(w.hi, hi, carry)
	return w
}

// Add returns the sum of two accumulators.
func (w Wide) Add(o Wide) Wide {
	var carry uint64
	w.lo, carry = bits.Add64(w.lo, o.lo, 0)
	w.hi, _ = bits.Add64(w.hi, o.hi, carry)
	return w
}

// IsZero reports whether nothing has been accumulated.
func (w Wide) IsZero() bool {
	return w.hi == 0 && w.lo == 0
}

// Quo divides the 10^16-scaled accumulator by a 10^8-scaled divisor,
// yielding a 10^8-scaled Value. The division is exact integer division,
// which makes turnover/volume an order-independent VWAP.
func (w Wide) Quo(div Value) Value {
	if div <= 0 || w.hi >= uint64(div) {
		return 0
	}
	q, _ := bits.Div64(w.hi, w.lo, uint64(div))
	return Value(q)
}

// Narrow divides the accumulator by Scale, converting a 10^16-scaled sum of
// products back into an ordinary 10^8-scaled Value. Saturates to the
// maximum Value if the result does not fit, which for turnover would need a
// per-bar notional beyond 9.2*10^10 units.
func (w Wide) Narrow() Value {
	if w.hi >= Scale {
		return Value(int64(^uint64(0) >> 1))
	}
	q, _ := bits.Div64(w.hi, w.lo, Scale)
	if q > uint64(1)<<63-1 {
		return Value(int64(^uint64(0) >> 1))
	}
	return Value(q)
}
