package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/careforall/donation-platform/common/events"
	"github.com/careforall/donation-platform/common/idempotency"
	"github.com/careforall/donation-platform/common/outbox"
)

const uniqueViolation = "23505"

type store struct {
	pool        *pgxpool.Pool
	maxTransfer decimal.Decimal
	idemTTL     time.Duration
}

func NewStore(pool *pgxpool.Pool, maxTransfer decimal.Decimal, idemTTL time.Duration) *store {
	return &store{pool: pool, maxTransfer: maxTransfer, idemTTL: idemTTL}
}

const accountColumns = `id, user_id, account_number, account_holder_name, email,
	balance, currency, status, version, created_at, updated_at`

const transactionColumns = `id, transaction_type, from_account_id, to_account_id,
	amount, currency, status, description, created_at, completed_at`

func (s *store) CreateAccount(ctx context.Context, account *Account, initialDeposit decimal.Decimal) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	err = tx.QueryRow(ctx, `
		INSERT INTO bank_accounts
			(id, user_id, account_number, account_holder_name, email, balance, currency, status, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1)
		RETURNING version, created_at, updated_at
	`, account.ID, account.UserID, account.AccountNumber, account.AccountHolderName,
		account.Email, account.Balance, account.Currency, account.Status,
	).Scan(&account.Version, &account.CreatedAt, &account.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrAccountExists
	}
	if err != nil {
		return fmt.Errorf("failed to insert account: %w", err)
	}

	// An opening balance is a movement like any other.
	if initialDeposit.IsPositive() {
		_, err = tx.Exec(ctx, `
			INSERT INTO transactions
				(id, transaction_type, to_account_id, amount, currency, status, description, completed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		`, uuid.New(), TypeDeposit, account.ID, initialDeposit, account.Currency,
			TxCompleted, "Opening deposit")
		if err != nil {
			return fmt.Errorf("failed to insert opening deposit: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func (s *store) GetAccount(ctx context.Context, accountNumber string) (*Account, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM bank_accounts WHERE account_number = $1`, accountNumber)
	return scanAccount(row)
}

func (s *store) ListAccounts(ctx context.Context, f AccountFilter) ([]*Account, error) {
	query := `SELECT ` + accountColumns + ` FROM bank_accounts WHERE 1=1`
	args := []any{}
	if f.UserID != nil {
		args = append(args, *f.UserID)
		query += fmt.Sprintf(" AND user_id = $%d", len(args))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	args = append(args, f.Limit, f.Offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("account rows error: %w", err)
	}
	return accounts, nil
}

func (s *store) GetTransaction(ctx context.Context, id uuid.UUID) (*Transaction, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id)
	return scanTransaction(row)
}

func (s *store) ListTransactions(ctx context.Context, accountNumber string, limit, offset int) ([]*Transaction, error) {
	account, err := s.GetAccount(ctx, accountNumber)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE from_account_id = $1 OR to_account_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, account.ID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var txs []*Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("transaction rows error: %w", err)
	}
	return txs, nil
}

func (s *store) ExecuteTransfer(ctx context.Context, p TransferProposal, idemKey string) (*Transaction, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	from, to, err := s.lockAccounts(ctx, tx, p.FromNumber, p.ToNumber)
	if err != nil {
		return nil, err
	}

	if err := validateTransfer(from, to, p.Amount, s.maxTransfer); err != nil {
		return nil, err
	}

	entry, err := s.move(ctx, tx, from, to, p.Amount, p.Description)
	if err != nil {
		return nil, err
	}

	if idemKey != "" {
		if err := s.insertIdempotency(ctx, tx, idemKey, entry); err != nil {
			return nil, err
		}
	}

	if err := outbox.Insert(ctx, tx, entry.ID, events.TransferCompleted, entry); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transfer: %w", err)
	}
	return entry, nil
}

// lockAccounts acquires both row locks in ascending account_number
// order. Concurrent opposite-direction transfers between the same pair
// always lock in the same order, so they queue instead of deadlocking.
func (s *store) lockAccounts(ctx context.Context, tx pgx.Tx, fromNumber, toNumber string) (*Account, *Account, error) {
	order := []string{fromNumber, toNumber}
	if toNumber < fromNumber {
		order = []string{toNumber, fromNumber}
	}

	byNumber := map[string]*Account{}
	for _, number := range order {
		if _, done := byNumber[number]; done {
			continue
		}
		row := tx.QueryRow(ctx,
			`SELECT `+accountColumns+` FROM bank_accounts WHERE account_number = $1 FOR UPDATE`, number)
		account, err := scanAccount(row)
		if errors.Is(err, ErrAccountNotFound) {
			side := "source"
			if number == toNumber && number != fromNumber {
				side = "destination"
			}
			return nil, nil, fmt.Errorf("%w: %s account %s", ErrAccountNotFound, side, number)
		}
		if err != nil {
			return nil, nil, err
		}
		byNumber[number] = account
	}

	return byNumber[fromNumber], byNumber[toNumber], nil
}

// move debits from, credits to and records the ledger entry, all on
// the caller's transaction.
func (s *store) move(ctx context.Context, tx pgx.Tx, from, to *Account, amount decimal.Decimal, description string) (*Transaction, error) {
	entry := &Transaction{
		ID:              uuid.New(),
		TransactionType: TypeTransfer,
		FromAccountID:   &from.ID,
		ToAccountID:     &to.ID,
		Amount:          amount,
		Currency:        from.Currency,
		Status:          TxPending,
		Description:     description,
	}
	err := tx.QueryRow(ctx, `
		INSERT INTO transactions
			(id, transaction_type, from_account_id, to_account_id, amount, currency, status, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`, entry.ID, entry.TransactionType, entry.FromAccountID, entry.ToAccountID,
		entry.Amount, entry.Currency, entry.Status, entry.Description,
	).Scan(&entry.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert ledger entry: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE bank_accounts
		SET balance = balance - $2, version = version + 1, updated_at = NOW()
		WHERE id = $1
	`, from.ID, amount)
	if err != nil {
		return nil, fmt.Errorf("failed to debit source account: %w", err)
	}
	_, err = tx.Exec(ctx, `
		UPDATE bank_accounts
		SET balance = balance + $2, version = version + 1, updated_at = NOW()
		WHERE id = $1
	`, to.ID, amount)
	if err != nil {
		return nil, fmt.Errorf("failed to credit destination account: %w", err)
	}

	var completedAt time.Time
	err = tx.QueryRow(ctx, `
		UPDATE transactions SET status = $2, completed_at = NOW()
		WHERE id = $1
		RETURNING completed_at
	`, entry.ID, TxCompleted).Scan(&completedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to complete ledger entry: %w", err)
	}
	entry.Status = TxCompleted
	entry.CompletedAt = &completedAt
	return entry, nil
}

// insertIdempotency persists the 201 response atomically with the
// movement it describes. Conflicts mean a concurrent handler with the
// same key won and are tolerated.
func (s *store) insertIdempotency(ctx context.Context, tx pgx.Tx, key string, entry *Transaction) error {
	body, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal transfer response: %w", err)
	}
	return idempotency.InsertInTx(ctx, tx, "transfer_idempotency", key,
		idempotency.Response{Body: body, Status: 201},
		time.Now().UTC().Add(s.idemTTL))
}

func (s *store) ReverseTransfer(ctx context.Context, id uuid.UUID) (*Transaction, error) {
	original, err := s.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if original.TransactionType != TypeTransfer || original.Status != TxCompleted {
		return nil, ErrNotReversible
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var fromNumber, toNumber string
	err = tx.QueryRow(ctx,
		`SELECT account_number FROM bank_accounts WHERE id = $1`, original.FromAccountID,
	).Scan(&fromNumber)
	if err == nil {
		err = tx.QueryRow(ctx,
			`SELECT account_number FROM bank_accounts WHERE id = $1`, original.ToAccountID,
		).Scan(&toNumber)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve transfer accounts: %w", err)
	}

	// The reversal flows the opposite direction.
	from, to, err := s.lockAccounts(ctx, tx, toNumber, fromNumber)
	if err != nil {
		return nil, err
	}
	if err := validateTransfer(from, to, original.Amount, s.maxTransfer); err != nil {
		return nil, err
	}

	reversal, err := s.move(ctx, tx, from, to, original.Amount,
		fmt.Sprintf("Reversal of transaction %s", original.ID))
	if err != nil {
		return nil, err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE transactions SET status = $2 WHERE id = $1 AND status = $3
	`, original.ID, TxReversed, TxCompleted)
	if err != nil {
		return nil, fmt.Errorf("failed to mark original reversed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// A concurrent reversal won the race.
		return nil, ErrNotReversible
	}

	if err := outbox.Insert(ctx, tx, reversal.ID, events.TransferCompleted, reversal); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit reversal: %w", err)
	}
	return reversal, nil
}

func scanAccount(row pgx.Row) (*Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.UserID, &a.AccountNumber, &a.AccountHolderName, &a.Email,
		&a.Balance, &a.Currency, &a.Status, &a.Version, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan account: %w", err)
	}
	return &a, nil
}

func scanTransaction(row pgx.Row) (*Transaction, error) {
	var t Transaction
	err := row.Scan(&t.ID, &t.TransactionType, &t.FromAccountID, &t.ToAccountID,
		&t.Amount, &t.Currency, &t.Status, &t.Description, &t.CreatedAt, &t.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan transaction: %w", err)
	}
	return &t, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
