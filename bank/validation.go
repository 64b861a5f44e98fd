package main

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// GenerateAccountNumber builds a YYYYMMDD date part followed by an
// 8-digit sequence. Uniqueness is enforced by the database constraint;
// collisions within a day are retried by the caller.
func GenerateAccountNumber() string {
	datePart := time.Now().UTC().Format("20060102")
	sequence := 10000000 + rand.Intn(90000000)
	return fmt.Sprintf("%s%d", datePart, sequence)
}

// validateTransfer checks a proposed movement against both locked
// account rows. The returned error wraps ErrTransferInvalid with the
// reason reported to the client.
func validateTransfer(from, to *Account, amount, maxTransfer decimal.Decimal) error {
	if from.Status != AccountActive {
		return fmt.Errorf("%w: source account error: account is %s",
			ErrTransferInvalid, strings.ToLower(from.Status))
	}
	if to.Status != AccountActive {
		return fmt.Errorf("%w: destination account error: account is %s",
			ErrTransferInvalid, strings.ToLower(to.Status))
	}
	if from.AccountNumber == to.AccountNumber {
		return fmt.Errorf("%w: cannot transfer to same account", ErrTransferInvalid)
	}
	if from.Currency != to.Currency {
		return fmt.Errorf("%w: currency mismatch: %s vs %s",
			ErrTransferInvalid, from.Currency, to.Currency)
	}
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrTransferInvalid)
	}
	if amount.GreaterThan(maxTransfer) {
		return fmt.Errorf("%w: amount exceeds transfer limit of %s",
			ErrTransferInvalid, maxTransfer.StringFixed(2))
	}
	if from.Balance.LessThan(amount) {
		return fmt.Errorf("%w: insufficient balance. Available: %s, Required: %s",
			ErrTransferInvalid, from.Balance.StringFixed(2), amount.StringFixed(2))
	}
	return nil
}
