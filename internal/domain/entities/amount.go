package entities

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// Amount is an integer quantity in a token's base unit (wei, sun, drops).
// It is stored as NUMERIC and serialized as a decimal string.
type Amount struct {
	big.Int
}

// NewAmount wraps a big.Int, copying it
func NewAmount(v *big.Int) Amount {
	var a Amount
	if v != nil {
		a.Set(v)
	}
	return a
}

// AmountFromInt64 builds an Amount from a small integer
func AmountFromInt64(v int64) Amount {
	var a Amount
	a.SetInt64(v)
	return a
}

// ParseAmount parses a base-10 integer string
func ParseAmount(s string) (Amount, error) {
	var a Amount
	if _, ok := a.SetString(s, 10); !ok {
		return Amount{}, fmt.Errorf("invalid amount: %q", s)
	}
	return a, nil
}

// BigInt returns a copy as *big.Int
func (a Amount) BigInt() *big.Int {
	return new(big.Int).Set(&a.Int)
}

// IsPositive reports a > 0
func (a Amount) IsPositive() bool {
	return a.Sign() > 0
}

// Decimal converts to a human unit value with the given decimals
func (a Amount) Decimal(decimals int32) decimal.Decimal {
	return decimal.NewFromBigInt(&a.Int, -decimals)
}

func (a Amount) String() string {
	return a.Int.String()
}

// Value implements driver.Valuer
func (a Amount) Value() (driver.Value, error) {
	return a.Int.String(), nil
}

// Scan implements sql.Scanner
func (a *Amount) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		a.SetInt64(0)
		return nil
	case []byte:
		return a.scanString(string(v))
	case string:
		return a.scanString(v)
	case int64:
		a.SetInt64(v)
		return nil
	}
	return fmt.Errorf("cannot scan %T into Amount", src)
}

func (a *Amount) scanString(s string) error {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("invalid numeric amount %q: %w", s, err)
	}
	a.Set(d.BigInt())
	return nil
}

// MarshalJSON encodes the amount as a JSON string
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.Int.String())
}

// UnmarshalJSON accepts a JSON string or number
func (a *Amount) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("invalid amount: %s", string(data))
		}
		s = n.String()
	}
	if s == "" {
		a.SetInt64(0)
		return nil
	}
	if _, ok := a.SetString(s, 10); !ok {
		return fmt.Errorf("invalid amount: %q", s)
	}
	return nil
}
