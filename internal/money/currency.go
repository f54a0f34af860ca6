package money

import (
	"fmt"
	"strings"

	"golang.org/x/text/currency"
)

// Code is an ISO-4217 currency code such as "USD" or "JPY".
type Code string

// ParseCode normalises and validates an ISO-4217 code.
func ParseCode(raw string) (Code, error) {
	unit, err := currency.ParseISO(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidCurrency, raw)
	}
	return Code(unit.String()), nil
}

// MustCode is ParseCode for constants and tests.
func MustCode(raw string) Code {
	code, err := ParseCode(raw)
	if err != nil {
		panic(err)
	}
	return code
}

// Scale reports the number of minor-unit decimal places for the currency.
func (c Code) Scale() int32 {
	unit, err := currency.ParseISO(string(c))
	if err != nil {
		return 0
	}
	scale, _ := currency.Standard.Rounding(unit)
	return int32(scale)
}

// Valid reports whether the code is a known ISO-4217 currency.
func (c Code) Valid() bool {
	_, err := currency.ParseISO(string(c))
	return err == nil && strings.ToUpper(string(c)) == string(c)
}

func (c Code) String() string {
	return string(c)
}
