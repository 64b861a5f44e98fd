package main

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/careforall/donation-platform/common/idempotency"
)

// Account statuses.
const (
	AccountActive    = "ACTIVE"
	AccountSuspended = "SUSPENDED"
	AccountClosed    = "CLOSED"
)

// Transaction kinds.
const (
	TypeTransfer   = "TRANSFER"
	TypeDeposit    = "DEPOSIT"
	TypeWithdrawal = "WITHDRAWAL"
)

// Transaction statuses.
const (
	TxPending   = "PENDING"
	TxCompleted = "COMPLETED"
	TxFailed    = "FAILED"
	TxReversed  = "REVERSED"
)

var (
	ErrAccountNotFound     = errors.New("account not found")
	ErrAccountExists       = errors.New("user already has a bank account")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrNotReversible       = errors.New("only completed transfers can be reversed")
	// ErrTransferInvalid wraps the specific validation reason shown to
	// the client.
	ErrTransferInvalid = errors.New("transfer rejected")
)

// Account is one ledger endpoint. Balance is fixed-point with two
// decimal places and never goes negative for ACTIVE accounts.
type Account struct {
	ID                uuid.UUID       `json:"id"`
	UserID            uuid.UUID       `json:"user_id"`
	AccountNumber     string          `json:"account_number"`
	AccountHolderName string          `json:"account_holder_name"`
	Email             string          `json:"email"`
	Balance           decimal.Decimal `json:"balance"`
	Currency          string          `json:"currency"`
	Status            string          `json:"status"`
	Version           int             `json:"version"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// Transaction is a movement record. Deposits carry no from account,
// withdrawals no to account.
type Transaction struct {
	ID              uuid.UUID       `json:"id"`
	TransactionType string          `json:"transaction_type"`
	FromAccountID   *uuid.UUID      `json:"from_account_id,omitempty"`
	ToAccountID     *uuid.UUID      `json:"to_account_id,omitempty"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	Status          string          `json:"status"`
	Description     string          `json:"description"`
	CreatedAt       time.Time       `json:"created_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
}

// CreateAccountRequest is the POST /v1/bank/accounts body.
type CreateAccountRequest struct {
	UserID            uuid.UUID `json:"user_id" binding:"required"`
	AccountHolderName string    `json:"account_holder_name" binding:"required"`
	Email             string    `json:"email" binding:"required,email"`
	InitialDeposit    string    `json:"initial_deposit"`
	Currency          string    `json:"currency"`
}

// TransferRequest is the POST /v1/bank/transfers body.
type TransferRequest struct {
	FromAccountNumber string `json:"from_account_number" binding:"required"`
	ToAccountNumber   string `json:"to_account_number" binding:"required"`
	Amount            string `json:"amount" binding:"required"`
	Description       string `json:"description"`
}

// TransferProposal is a parsed, amount-validated transfer.
type TransferProposal struct {
	FromNumber  string
	ToNumber    string
	Amount      decimal.Decimal
	Description string
}

// AccountFilter narrows ListAccounts.
type AccountFilter struct {
	UserID *uuid.UUID
	Status string
	Limit  int
	Offset int
}

// LedgerStore persists accounts and movements.
type LedgerStore interface {
	CreateAccount(ctx context.Context, account *Account, initialDeposit decimal.Decimal) error
	GetAccount(ctx context.Context, accountNumber string) (*Account, error)
	ListAccounts(ctx context.Context, f AccountFilter) ([]*Account, error)
	GetTransaction(ctx context.Context, id uuid.UUID) (*Transaction, error)
	ListTransactions(ctx context.Context, accountNumber string, limit, offset int) ([]*Transaction, error)
	// ExecuteTransfer runs the double-entry movement in one transaction:
	// both account rows locked in ascending account_number order,
	// validation against the locked rows, balance updates, the ledger
	// entry, the idempotency record and the outbox event.
	ExecuteTransfer(ctx context.Context, p TransferProposal, idemKey string) (*Transaction, error)
	// ReverseTransfer runs the opposite movement and marks the original
	// REVERSED. The reversal itself is a fresh transfer.
	ReverseTransfer(ctx context.Context, id uuid.UUID) (*Transaction, error)
}

// ReplayStore is the dual-layer idempotency surface for transfers.
type ReplayStore interface {
	Check(ctx context.Context, key string) (*idempotency.Response, error)
	Save(ctx context.Context, key string, resp idempotency.Response) error
}

// BankService is the business surface the HTTP handler consumes.
type BankService interface {
	CreateAccount(ctx context.Context, req CreateAccountRequest) (*Account, error)
	GetAccount(ctx context.Context, accountNumber string) (*Account, error)
	ListAccounts(ctx context.Context, f AccountFilter) ([]*Account, error)
	ListTransactions(ctx context.Context, accountNumber string, limit, offset int) ([]*Transaction, error)
	Transfer(ctx context.Context, rawBody []byte, headerKey string) (status int, body []byte, err error)
	Reverse(ctx context.Context, id uuid.UUID) (*Transaction, error)
}
