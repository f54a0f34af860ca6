// Package money implements an exact fixed-point currency amount.
//
// A Money value holds an integer count of minor units (cents for USD, yen for
// JPY) together with its ISO-4217 code. Values are immutable; arithmetic
// returns new values and never rounds.
package money

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidAmount indicates an amount that cannot be represented exactly.
	ErrInvalidAmount = errors.New("money: invalid amount")
	// ErrInvalidCurrency indicates an unknown or malformed currency code.
	ErrInvalidCurrency = errors.New("money: invalid currency")
	// ErrCurrencyMismatch indicates arithmetic across different currencies.
	ErrCurrencyMismatch = errors.New("money: currency mismatch")
)

// Ordering is the result of Compare.
type Ordering int

const (
	Less    Ordering = -1
	Equal   Ordering = 0
	Greater Ordering = 1
)

func (o Ordering) String() string {
	switch o {
	case Less:
		return "less"
	case Greater:
		return "greater"
	default:
		return "equal"
	}
}

// Money is an amount of minor units in a single currency.
type Money struct {
	amount   int64
	currency Code
}

// Of constructs a Money from a raw minor-unit amount.
func Of(amount int64, code Code) (Money, error) {
	if !code.Valid() {
		return Money{}, fmt.Errorf("%w: %q", ErrInvalidCurrency, string(code))
	}
	// MinInt64 has no positive counterpart, so Negate could not be exact.
	if amount == math.MinInt64 {
		return Money{}, fmt.Errorf("%w: %d out of range", ErrInvalidAmount, amount)
	}
	return Money{amount: amount, currency: code}, nil
}

// MustOf is Of for literals in tests and fixtures.
func MustOf(amount int64, code Code) Money {
	m, err := Of(amount, code)
	if err != nil {
		panic(err)
	}
	return m
}

// Zero returns a zero amount in the currency.
func Zero(code Code) Money {
	return Money{currency: code}
}

// FromDecimal converts a major-unit decimal (12.34) into minor units. Amounts
// with more fractional digits than the currency allows are rejected.
func FromDecimal(d decimal.Decimal, code Code) (Money, error) {
	if !code.Valid() {
		return Money{}, fmt.Errorf("%w: %q", ErrInvalidCurrency, string(code))
	}
	minor := d.Shift(code.Scale())
	if !minor.IsInteger() {
		return Money{}, fmt.Errorf("%w: %s has more than %d decimal places for %s", ErrInvalidAmount, d.String(), code.Scale(), code)
	}
	big := minor.BigInt()
	if !big.IsInt64() {
		return Money{}, fmt.Errorf("%w: %s overflows", ErrInvalidAmount, d.String())
	}
	return Of(big.Int64(), code)
}

// Parse reads a major-unit string such as "100.25".
func Parse(raw string, code Code) (Money, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return Money{}, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}
	return FromDecimal(d, code)
}

// Amount returns the raw minor-unit amount.
func (m Money) Amount() int64 {
	return m.amount
}

// Currency returns the currency code.
func (m Money) Currency() Code {
	return m.currency
}

// Add returns m + other.
func (m Money) Add(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	sum := m.amount + other.amount
	if (other.amount > 0 && sum < m.amount) || (other.amount < 0 && sum > m.amount) || sum == math.MinInt64 {
		return Money{}, fmt.Errorf("%w: %d + %d overflows", ErrInvalidAmount, m.amount, other.amount)
	}
	return Money{amount: sum, currency: m.currency}, nil
}

// Subtract returns m - other.
func (m Money) Subtract(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	return m.Add(other.Negate())
}

// Negate flips the sign.
func (m Money) Negate() Money {
	return Money{amount: -m.amount, currency: m.currency}
}

// Abs returns the absolute amount.
func (m Money) Abs() Money {
	if m.amount < 0 {
		return m.Negate()
	}
	return m
}

// IsZero reports whether the amount is zero.
func (m Money) IsZero() bool {
	return m.amount == 0
}

// IsNegative reports whether the amount is below zero.
func (m Money) IsNegative() bool {
	return m.amount < 0
}

// IsPositive reports whether the amount is above zero.
func (m Money) IsPositive() bool {
	return m.amount > 0
}

// Compare orders two amounts of the same currency.
func (m Money) Compare(other Money) (Ordering, error) {
	if err := m.sameCurrency(other); err != nil {
		return Equal, err
	}
	switch {
	case m.amount < other.amount:
		return Less, nil
	case m.amount > other.amount:
		return Greater, nil
	default:
		return Equal, nil
	}
}

// Equal reports whether both currency and amount match.
func (m Money) Equal(other Money) bool {
	return m.currency == other.currency && m.amount == other.amount
}

// Decimal returns the amount in major units.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.amount, -m.currency.Scale())
}

// Format renders the amount with the currency's fixed number of decimals.
func (m Money) Format() string {
	return m.Decimal().StringFixed(m.currency.Scale())
}

func (m Money) String() string {
	return string(m.currency) + " " + m.Format()
}

func (m Money) sameCurrency(other Money) error {
	if m.currency != other.currency {
		return fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, m.currency, other.currency)
	}
	return nil
}

type moneyJSON struct {
	Amount   int64  `json:"amount"`
	Currency Code   `json:"currency"`
	Display  string `json:"display,omitempty"`
}

// MarshalJSON encodes the raw minor units with a display string.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(moneyJSON{Amount: m.amount, Currency: m.currency, Display: m.Format()})
}

// UnmarshalJSON decodes the representation produced by MarshalJSON.
func (m *Money) UnmarshalJSON(data []byte) error {
	var raw moneyJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Currency == "" && raw.Amount == 0 {
		*m = Money{}
		return nil
	}
	parsed, err := Of(raw.Amount, raw.Currency)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Sum adds amounts into a total in code. An empty list yields zero.
func Sum(code Code, amounts ...Money) (Money, error) {
	total := Zero(code)
	for _, amt := range amounts {
		next, err := total.Add(amt)
		if err != nil {
			return Money{}, err
		}
		total = next
	}
	return total, nil
}
