package types

import (
	"database/sql/driver"
	"fmt"
	"strings"

	"github.com/holiman/uint256"
)

// Amount is an unsigned 256-bit quantity in a token's smallest unit, or a
// fiat amount in cents. The zero value is 0.
//
// Amounts are serialised as base-10 strings so that JSON and SQL round-trips
// never lose precision.
//
//nolint:recvcheck // Value receivers for read-only methods, pointer receivers for UnmarshalText/Scan.
type Amount struct {
	v uint256.Int
}

// NewAmount returns an Amount holding n.
func NewAmount(n uint64) Amount {
	var a Amount
	a.v.SetUint64(n)
	return a
}

// AmountFromInt copies x into an Amount. A nil x yields zero.
func AmountFromInt(x *uint256.Int) Amount {
	var a Amount
	if x != nil {
		a.v.Set(x)
	}
	return a
}

// ParseAmount parses a base-10 unsigned integer.
func ParseAmount(s string) (Amount, error) {
	x, err := uint256.FromDecimal(strings.TrimSpace(s))
	if err != nil {
		return Amount{}, fmt.Errorf("types: invalid amount %q: %w", s, err)
	}
	return AmountFromInt(x), nil
}

// MustParseAmount is like ParseAmount but panics on error.
func MustParseAmount(s string) Amount {
	a, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return a
}

// Units returns whole * 10^decimals, the smallest-unit form of a whole token
// count. It panics on overflow, so use it only with literal inputs.
func Units(whole uint64, decimals uint8) Amount {
	scale := new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(decimals)))
	v, overflow := new(uint256.Int).MulOverflow(uint256.NewInt(whole), scale)
	if overflow {
		panic(fmt.Sprintf("types: %d * 10^%d overflows", whole, decimals))
	}
	return AmountFromInt(v)
}

// Int returns a copy of the underlying integer.
func (a Amount) Int() *uint256.Int {
	return a.v.Clone()
}

// IsZero reports whether a is zero.
func (a Amount) IsZero() bool {
	return a.v.IsZero()
}

// Cmp compares a and b, returning -1, 0 or +1.
func (a Amount) Cmp(b Amount) int {
	return a.v.Cmp(&b.v)
}

// Add returns a+b and whether the sum overflowed.
func (a Amount) Add(b Amount) (Amount, bool) {
	var out Amount
	_, overflow := out.v.AddOverflow(&a.v, &b.v)
	return out, overflow
}

// Sub returns a-b and whether the difference underflowed.
func (a Amount) Sub(b Amount) (Amount, bool) {
	var out Amount
	_, underflow := out.v.SubOverflow(&a.v, &b.v)
	return out, underflow
}

// String returns the base-10 form.
func (a Amount) String() string {
	return a.v.Dec()
}

// Format renders a in major units with the given number of decimals,
// e.g. 10500000 with 6 decimals is "10.500000".
func (a Amount) Format(decimals uint8) string {
	if decimals == 0 {
		return a.v.Dec()
	}

	divisor := new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(decimals)))
	major := new(uint256.Int).Div(&a.v, divisor)
	minor := new(uint256.Int).Mod(&a.v, divisor)

	frac := minor.Dec()
	if pad := int(decimals) - len(frac); pad > 0 {
		frac = strings.Repeat("0", pad) + frac
	}
	return major.Dec() + "." + frac
}

// MarshalText implements encoding.TextMarshaler.
func (a Amount) MarshalText() ([]byte, error) {
	return []byte(a.v.Dec()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Amount) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*a = Amount{}
		return nil
	}
	parsed, err := ParseAmount(string(data))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Value implements driver.Valuer. Amounts are stored as decimal text.
func (a Amount) Value() (driver.Value, error) {
	return a.v.Dec(), nil
}

// Scan implements sql.Scanner.
func (a *Amount) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*a = Amount{}
		return nil
	case string:
		return a.UnmarshalText([]byte(v))
	case []byte:
		return a.UnmarshalText(v)
	case int64:
		if v < 0 {
			return fmt.Errorf("types: negative amount %d", v)
		}
		*a = NewAmount(uint64(v))
		return nil
	default:
		return fmt.Errorf("types: cannot scan %T into Amount", src)
	}
}
