// Package fixedpoint provides a scaled-integer decimal type for prices,
// volumes and turnover.
//
// All quantities are stored as int64 values scaled by 10^8 (8 fractional
// digits). Addition, subtraction and ordering are plain integer operations,
// which keeps breach comparisons free of floating-point drift. The wider
// operations needed for thresholds and VWAP go through 128-bit intermediates
// (see MulDiv and Wide) so they never lose precision before rescaling.
package fixedpoint

import (
	"errors"
	"fmt"
	"math"
	"math/bits"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	// Digits is the number of fractional decimal digits carried by a Value.
	Digits = 8

	// Scale is the integer scaling factor (10^Digits).
	Scale = 100_000_000
)

// Value is a decimal number stored as an integer count of 10^-8 units.
// E.g. 50000.5 is stored as 5_000_050_000_000.
type Value int64

// ParseError describes a string that could not be converted to a Value.
type ParseError struct {
	Input  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("fixedpoint: cannot parse %q: %s", e.Input, e.Reason)
}

// Parse converts a decimal numeral into a Value.
//
// Strings with more than 8 fractional digits are rejected rather than
// silently truncated; callers that want rounding must round upstream.
func Parse(s string) (Value, error) {
	if s == "" {
		return 0, &ParseError{Input: s, Reason: "empty string"}
	}

	neg := false
	body := s
	switch body[0] {
	case '-':
		neg = true
		body = body[1:]
	case '+':
		body = body[1:]
	}
	if body == "" {
		return 0, &ParseError{Input: s, Reason: "missing digits"}
	}

	intPart := body
	fracPart := ""
	if dot := strings.IndexByte(body, '.'); dot >= 0 {
		intPart = body[:dot]
		fracPart = body[dot+1:]
		if intPart == "" && fracPart == "" {
			return 0, &ParseError{Input: s, Reason: "missing digits"}
		}
		if strings.IndexByte(fracPart, '.') >= 0 {
			return 0, &ParseError{Input: s, Reason: "multiple decimal points"}
		}
	}
	if len(fracPart) > Digits {
		return 0, &ParseError{Input: s, Reason: fmt.Sprintf("more than %d fractional digits", Digits)}
	}

	var units int64
	if intPart != "" {
		n, err := strconv.ParseInt(intPart, 10, 64)
		if err != nil {
			return 0, &ParseError{Input: s, Reason: "invalid integer part"}
		}
		units = n
	}

	hi, lo := bits.Mul64(uint64(units), Scale)
	if hi != 0 || lo > uint64(1)<<63-1 {
		return 0, &ParseError{Input: s, Reason: "out of range"}
	}
	raw := int64(lo)

	if fracPart != "" {
		frac, err := strconv.ParseUint(fracPart, 10, 64)
		if err != nil {
			return 0, &ParseError{Input: s, Reason: "invalid fractional part"}
		}
		for i := len(fracPart); i < Digits; i++ {
			frac *= 10
		}
		if raw > math.MaxInt64-int64(frac) {
			return 0, &ParseError{Input: s, Reason: "out of range"}
		}
		raw += int64(frac)
	}

	if neg {
		raw = -raw
	}
	return Value(raw), nil
}

// MustParse is Parse for compile-time-known literals; it panics on error.
// Intended for tests and constant tables only.
func MustParse(s string) Value {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// FromInt converts a whole number of units into a Value. The representable
// range is about +/-9.2e10 units; inputs beyond it saturate to the nearest
// bound instead of wrapping.
func FromInt(units int64) Value {
	const maxUnits = math.MaxInt64 / Scale
	if units > maxUnits {
		return Value(math.MaxInt64)
	}
	if units < -maxUnits {
		return Value(math.MinInt64)
	}
	return Value(units * Scale)
}

// FromRaw wraps an already-scaled integer (10^-8 units) without conversion.
func FromRaw(raw int64) Value {
	return Value(raw)
}

// FromDecimal converts a decimal.Decimal into a Value. Decimals with more
// than 8 fractional digits are rejected, mirroring Parse.
func FromDecimal(d decimal.Decimal) (Value, error) {
	scaled := d.Shift(Digits)
	if !scaled.IsInteger() {
		return 0, &ParseError{Input: d.String(), Reason: fmt.Sprintf("more than %d fractional digits", Digits)}
	}
	if !scaled.BigInt().IsInt64() {
		return 0, &ParseError{Input: d.String(), Reason: "out of range"}
	}
	return Value(scaled.BigInt().Int64()), nil
}

// Decimal converts the Value into a shopspring decimal for boundary code
// that speaks decimal.Decimal (wire adapters, exporters).
func (v Value) Decimal() decimal.Decimal {
	return decimal.New(int64(v), -Digits)
}

// Raw returns the underlying scaled integer.
func (v Value) Raw() int64 {
	return int64(v)
}

// IsZero reports whether the value is exactly zero.
func (v Value) IsZero() bool {
	return v == 0
}

// Add returns v + o. Exact; no rescaling is involved.
func (v Value) Add(o Value) Value {
	return v + o
}

// Sub returns v - o. Exact; no rescaling is involved.
func (v Value) Sub(o Value) Value {
	return v - o
}

// String renders the value with exactly 8 fractional digits, so that
// formatting round-trips through Parse byte-for-byte.
func (v Value) String() string {
	raw := int64(v)
	sign := ""
	if raw < 0 {
		sign = "-"
		raw = -raw
	}
	return fmt.Sprintf("%s%d.%08d", sign, raw/Scale, raw%Scale)
}

// MarshalJSON renders the value as a JSON string to keep full precision
// across codecs that would otherwise round through float64.
func (v Value) MarshalJSON() ([]byte, error) {
	return []byte(`"` + v.String() + `"`), nil
}

// UnmarshalJSON accepts either a quoted decimal string or a bare numeral.
func (v *Value) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// ErrMulDivOverflow reports a MulDiv whose result does not fit in a Value.
var ErrMulDivOverflow = errors.New("fixedpoint: muldiv overflow")

// MulDiv computes v * num / den through a full 128-bit intermediate
// product, so the multiplication can never overflow before the division
// rescales it. The value must be non-negative and den must be positive.
func (v Value) MulDiv(num uint64, den uint64) (Value, error) {
	if v < 0 {
		r, err := (-v).MulDiv(num, den)
		return -r, err
	}
	hi, lo := bits.Mul64(uint64(v), num)
	if hi >= den {
		// Quotient would not fit in 64 bits.
		return 0, ErrMulDivOverflow
	}
	q, _ := bits.Div64(hi, lo, den)
	if q > uint64(1)<<63-1 {
		return 0, ErrMulDivOverflow
	}
	return Value(q), nil
}
