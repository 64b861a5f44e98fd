package main

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func activeAccount(number, currency, balance string) *Account {
	return &Account{
		AccountNumber: number,
		Currency:      currency,
		Balance:       decimal.RequireFromString(balance),
		Status:        AccountActive,
	}
}

func TestValidateTransfer(t *testing.T) {
	maxTransfer := decimal.RequireFromString("50000.00")
	amount := decimal.RequireFromString("100.00")

	cases := []struct {
		name    string
		from    *Account
		to      *Account
		amount  decimal.Decimal
		wantErr string
	}{
		{
			name: "valid",
			from: activeAccount("2026010111111111", "USD", "500.00"),
			to:   activeAccount("2026010122222222", "USD", "0.00"),
		},
		{
			name: "suspended source",
			from: func() *Account {
				a := activeAccount("2026010111111111", "USD", "500.00")
				a.Status = AccountSuspended
				return a
			}(),
			to:      activeAccount("2026010122222222", "USD", "0.00"),
			wantErr: "source account error: account is suspended",
		},
		{
			name: "closed destination",
			from: activeAccount("2026010111111111", "USD", "500.00"),
			to: func() *Account {
				a := activeAccount("2026010122222222", "USD", "0.00")
				a.Status = AccountClosed
				return a
			}(),
			wantErr: "destination account error: account is closed",
		},
		{
			name:    "same account",
			from:    activeAccount("2026010111111111", "USD", "500.00"),
			to:      activeAccount("2026010111111111", "USD", "500.00"),
			wantErr: "cannot transfer to same account",
		},
		{
			name:    "currency mismatch",
			from:    activeAccount("2026010111111111", "USD", "500.00"),
			to:      activeAccount("2026010122222222", "EUR", "0.00"),
			wantErr: "currency mismatch: USD vs EUR",
		},
		{
			name:    "insufficient balance",
			from:    activeAccount("2026010111111111", "USD", "50.00"),
			to:      activeAccount("2026010122222222", "USD", "0.00"),
			wantErr: "insufficient balance",
		},
		{
			name:    "zero amount",
			from:    activeAccount("2026010111111111", "USD", "500.00"),
			to:      activeAccount("2026010122222222", "USD", "0.00"),
			amount:  decimal.Zero,
			wantErr: "amount must be positive",
		},
		{
			name:    "over limit",
			from:    activeAccount("2026010111111111", "USD", "100000.00"),
			to:      activeAccount("2026010122222222", "USD", "0.00"),
			amount:  decimal.RequireFromString("50000.01"),
			wantErr: "exceeds transfer limit",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := tc.amount
			if a.IsZero() && tc.wantErr != "amount must be positive" {
				a = amount
			}
			err := validateTransfer(tc.from, tc.to, a, maxTransfer)
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrTransferInvalid)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestGenerateAccountNumber(t *testing.T) {
	number := GenerateAccountNumber()
	assert.Regexp(t, `^\d{16}$`, number)
	assert.Equal(t, time.Now().UTC().Format("20060102"), number[:8])
}
