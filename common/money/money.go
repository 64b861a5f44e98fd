package money

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/shopspring/decimal"
)

// Amounts are fixed-point with two decimal places. Binary floats are
// never used for balances; rounding drift would break the conservation
// invariant on transfers.

var (
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrNotPositive      = errors.New("amount must be positive")
	ErrTooManyDecimals  = errors.New("amount has more than two decimal places")
	ErrExceedsLimit     = errors.New("amount exceeds maximum limit")
	ErrInvalidCurrency  = errors.New("currency must be a three-letter ISO-4217 code")
	ErrCurrencyMismatch = errors.New("currency mismatch")
)

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

// ParseAmount parses a decimal string and validates it as a monetary
// amount: strictly positive, at most two decimal places, not above max.
func ParseAmount(s string, max decimal.Decimal) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if err := ValidateAmount(amount, max); err != nil {
		return decimal.Zero, err
	}
	return amount, nil
}

// ValidateAmount checks positivity, scale and the configured limit.
func ValidateAmount(amount, max decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrNotPositive
	}
	if amount.Exponent() < -2 {
		return ErrTooManyDecimals
	}
	if amount.GreaterThan(max) {
		return ErrExceedsLimit
	}
	return nil
}

// ValidateCurrency checks the ISO-4217 shape (three upper-case letters).
func ValidateCurrency(currency string) error {
	if !currencyPattern.MatchString(currency) {
		return ErrInvalidCurrency
	}
	return nil
}
