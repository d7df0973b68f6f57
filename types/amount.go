package types

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// LedgerDecimals is the number of fractional digits the ledger represents.
// An Amount of 1 equals 10^18 ledger units.
const LedgerDecimals = 18

var (
	// ErrInvalidAmount is returned when a string is not a decimal number.
	ErrInvalidAmount = errors.New("amount: invalid decimal")
	// ErrNonPositiveAmount is returned for zero or negative bill amounts.
	ErrNonPositiveAmount = errors.New("amount: must be greater than zero")
	// ErrTooPrecise is returned when an amount carries more than LedgerDecimals fractional digits.
	ErrTooPrecise = errors.New("amount: more than 18 fractional digits")
)

// Amount is a non-negative value in whole units (e.g. "12.5").
// Conversion to and from ledger integer units is exact.
//
//nolint:recvcheck // Value receivers for read-only methods, pointer receivers for UnmarshalText/Scan.
type Amount struct {
	d decimal.Decimal
}

// ParseAmount parses a decimal string in whole units. It rejects
// non-positive amounts and amounts the ledger cannot represent exactly.
func ParseAmount(s string) (Amount, error) {
	a, err := parseAmount(s)
	if err != nil {
		return Amount{}, err
	}
	if !a.d.IsPositive() {
		return Amount{}, ErrNonPositiveAmount
	}

	return a, nil
}

// MustParseAmount is like ParseAmount but panics on error.
func MustParseAmount(s string) Amount {
	a, err := ParseAmount(s)
	if err != nil {
		panic(fmt.Sprintf("amount: must parse %q: %v", s, err))
	}

	return a
}

// parseAmount parses without the positivity check, so balances of zero
// can round-trip through storage.
func parseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Amount{}, ErrInvalidAmount
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if d.IsNegative() {
		return Amount{}, ErrNonPositiveAmount
	}
	if -d.Exponent() > LedgerDecimals && !d.Equal(d.Truncate(LedgerDecimals)) {
		return Amount{}, ErrTooPrecise
	}

	return Amount{d: d}, nil
}

// AmountFromMinor converts ledger integer units (value × 10^18) into an Amount.
func AmountFromMinor(minor *big.Int) Amount {
	if minor == nil {
		return Amount{}
	}

	return Amount{d: decimal.NewFromBigInt(minor, -LedgerDecimals)}
}

// Minor returns the exact ledger integer representation (value × 10^18).
func (a Amount) Minor() *big.Int {
	return a.d.Shift(LedgerDecimals).BigInt()
}

// Decimal exposes the underlying decimal value.
func (a Amount) Decimal() decimal.Decimal { return a.d }

// IsZero reports whether the amount is zero.
func (a Amount) IsZero() bool { return a.d.IsZero() }

// IsPositive reports whether the amount is greater than zero.
func (a Amount) IsPositive() bool { return a.d.IsPositive() }

// Equal compares two amounts by value, so "1.50" equals "1.5".
func (a Amount) Equal(other Amount) bool { return a.d.Equal(other.d) }

// String formats the amount without trailing zeros: "12.5", "100".
func (a Amount) String() string { return a.d.String() }

// MarshalText implements encoding.TextMarshaler.
func (a Amount) MarshalText() ([]byte, error) {
	return []byte(a.d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Amount) UnmarshalText(data []byte) error {
	parsed, err := parseAmount(string(data))
	if err != nil {
		return err
	}
	*a = parsed

	return nil
}

// MarshalJSON encodes the amount as a JSON string to keep full precision.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.d.String())
}

// UnmarshalJSON accepts both JSON strings and numbers.
func (a *Amount) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*a = Amount{}
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		s = string(data)
	}

	return a.UnmarshalText([]byte(s))
}

// Value implements driver.Valuer. Amounts are stored as decimal text.
func (a Amount) Value() (driver.Value, error) {
	return a.d.String(), nil
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
		*a = Amount{d: decimal.NewFromInt(v)}
		return nil
	case float64:
		*a = Amount{d: decimal.NewFromFloat(v)}
		return nil
	default:
		return fmt.Errorf("amount: cannot scan %T", src)
	}
}
