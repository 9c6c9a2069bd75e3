package types

import (
	"database/sql/driver"
	"encoding/hex"
	"fmt"
	"strings"
)

// AddressLength is the byte length of an account address.
const AddressLength = 20

// Address identifies an account: a merchant, subscriber, token ledger,
// price feed or the engine itself.
//
//nolint:recvcheck // Value receivers for read-only methods, pointer receivers for UnmarshalText/Scan.
type Address [AddressLength]byte

// ZeroAddress is the unset address.
var ZeroAddress Address

// ParseAddress parses a 0x-prefixed, 40 hex digit address. Case is ignored.
func ParseAddress(s string) (Address, error) {
	var a Address
	raw := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(raw) != AddressLength*2 || len(raw) == len(s) {
		return a, fmt.Errorf("types: invalid address %q", s)
	}
	if _, err := hex.Decode(a[:], []byte(raw)); err != nil {
		return a, fmt.Errorf("types: invalid address %q: %w", s, err)
	}
	return a, nil
}

// MustParseAddress is like ParseAddress but panics on error.
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

// BytesToAddress uses the last 20 bytes of b, left-padding shorter input.
func BytesToAddress(b []byte) Address {
	var a Address
	if len(b) > AddressLength {
		b = b[len(b)-AddressLength:]
	}
	copy(a[AddressLength-len(b):], b)
	return a
}

// IsZero reports whether a is the zero address.
func (a Address) IsZero() bool {
	return a == ZeroAddress
}

// String returns the lower-case 0x-prefixed hex form.
func (a Address) String() string {
	return "0x" + hex.EncodeToString(a[:])
}

// MarshalText implements encoding.TextMarshaler.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Empty input yields
// the zero address.
func (a *Address) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*a = ZeroAddress
		return nil
	}
	parsed, err := ParseAddress(string(data))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Value implements driver.Valuer.
func (a Address) Value() (driver.Value, error) {
	return a.String(), nil
}

// Scan implements sql.Scanner.
func (a *Address) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*a = ZeroAddress
		return nil
	case string:
		return a.UnmarshalText([]byte(v))
	case []byte:
		return a.UnmarshalText(v)
	default:
		return fmt.Errorf("types: cannot scan %T into Address", src)
	}
}
