package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/careforall/donation-platform/common/idempotency"
	"github.com/careforall/donation-platform/common/metrics"
)

// promauto registers into the default registry, so metrics are shared
// across tests in this package.
var ledgerTestMetrics = metrics.NewLedgerMetrics("bank_test")

type fakeLedgerStore struct {
	accounts     map[string]*Account
	transactions map[uuid.UUID]*Transaction
	maxTransfer  decimal.Decimal
	transfers    int
}

func newFakeLedgerStore() *fakeLedgerStore {
	return &fakeLedgerStore{
		accounts:     map[string]*Account{},
		transactions: map[uuid.UUID]*Transaction{},
		maxTransfer:  decimal.RequireFromString("50000.00"),
	}
}

func (f *fakeLedgerStore) CreateAccount(_ context.Context, account *Account, initialDeposit decimal.Decimal) error {
	for _, a := range f.accounts {
		if a.UserID == account.UserID {
			return ErrAccountExists
		}
	}
	account.Version = 1
	account.CreatedAt = time.Now().UTC()
	account.UpdatedAt = account.CreatedAt
	f.accounts[account.AccountNumber] = account
	if initialDeposit.IsPositive() {
		now := time.Now().UTC()
		t := &Transaction{
			ID:              uuid.New(),
			TransactionType: TypeDeposit,
			ToAccountID:     &account.ID,
			Amount:          initialDeposit,
			Currency:        account.Currency,
			Status:          TxCompleted,
			Description:     "Opening deposit",
			CreatedAt:       now,
			CompletedAt:     &now,
		}
		f.transactions[t.ID] = t
	}
	return nil
}

func (f *fakeLedgerStore) GetAccount(_ context.Context, number string) (*Account, error) {
	a, ok := f.accounts[number]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return a, nil
}

func (f *fakeLedgerStore) ListAccounts(_ context.Context, filter AccountFilter) ([]*Account, error) {
	var out []*Account
	for _, a := range f.accounts {
		if filter.UserID != nil && a.UserID != *filter.UserID {
			continue
		}
		if filter.Status != "" && a.Status != filter.Status {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (f *fakeLedgerStore) GetTransaction(_ context.Context, id uuid.UUID) (*Transaction, error) {
	t, ok := f.transactions[id]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	return t, nil
}

func (f *fakeLedgerStore) ListTransactions(_ context.Context, number string, _, _ int) ([]*Transaction, error) {
	account, ok := f.accounts[number]
	if !ok {
		return nil, ErrAccountNotFound
	}
	var out []*Transaction
	for _, t := range f.transactions {
		if (t.FromAccountID != nil && *t.FromAccountID == account.ID) ||
			(t.ToAccountID != nil && *t.ToAccountID == account.ID) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeLedgerStore) ExecuteTransfer(_ context.Context, p TransferProposal, _ string) (*Transaction, error) {
	from, ok := f.accounts[p.FromNumber]
	if !ok {
		return nil, fmt.Errorf("%w: source account %s", ErrAccountNotFound, p.FromNumber)
	}
	to, ok := f.accounts[p.ToNumber]
	if !ok {
		return nil, fmt.Errorf("%w: destination account %s", ErrAccountNotFound, p.ToNumber)
	}
	if err := validateTransfer(from, to, p.Amount, f.maxTransfer); err != nil {
		return nil, err
	}

	from.Balance = from.Balance.Sub(p.Amount)
	from.Version++
	to.Balance = to.Balance.Add(p.Amount)
	to.Version++

	now := time.Now().UTC()
	entry := &Transaction{
		ID:              uuid.New(),
		TransactionType: TypeTransfer,
		FromAccountID:   &from.ID,
		ToAccountID:     &to.ID,
		Amount:          p.Amount,
		Currency:        from.Currency,
		Status:          TxCompleted,
		Description:     p.Description,
		CreatedAt:       now,
		CompletedAt:     &now,
	}
	f.transactions[entry.ID] = entry
	f.transfers++
	return entry, nil
}

func (f *fakeLedgerStore) ReverseTransfer(ctx context.Context, id uuid.UUID) (*Transaction, error) {
	original, ok := f.transactions[id]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	if original.TransactionType != TypeTransfer || original.Status != TxCompleted {
		return nil, ErrNotReversible
	}
	var fromNumber, toNumber string
	for number, a := range f.accounts {
		if a.ID == *original.FromAccountID {
			fromNumber = number
		}
		if a.ID == *original.ToAccountID {
			toNumber = number
		}
	}
	reversal, err := f.ExecuteTransfer(ctx, TransferProposal{
		FromNumber:  toNumber,
		ToNumber:    fromNumber,
		Amount:      original.Amount,
		Description: fmt.Sprintf("Reversal of transaction %s", original.ID),
	}, "")
	if err != nil {
		return nil, err
	}
	original.Status = TxReversed
	return reversal, nil
}

type fakeReplayStore struct {
	saved map[string]idempotency.Response
}

func newFakeReplayStore() *fakeReplayStore {
	return &fakeReplayStore{saved: map[string]idempotency.Response{}}
}

func (f *fakeReplayStore) Check(_ context.Context, key string) (*idempotency.Response, error) {
	if resp, ok := f.saved[key]; ok {
		return &resp, nil
	}
	return nil, nil
}

func (f *fakeReplayStore) Save(_ context.Context, key string, resp idempotency.Response) error {
	f.saved[key] = resp
	return nil
}

func newTestService(store LedgerStore) *service {
	return NewService(store, newFakeReplayStore(), decimal.RequireFromString("50000.00"),
		ledgerTestMetrics, zap.NewNop())
}

func seedAccount(t *testing.T, svc *service, balance string) *Account {
	t.Helper()
	account, err := svc.CreateAccount(context.Background(), CreateAccountRequest{
		UserID:            uuid.New(),
		AccountHolderName: "Test Holder",
		Email:             "holder@example.com",
		InitialDeposit:    balance,
	})
	require.NoError(t, err)
	return account
}

func transferBody(t *testing.T, from, to, amount string) []byte {
	t.Helper()
	body, err := json.Marshal(TransferRequest{
		FromAccountNumber: from,
		ToAccountNumber:   to,
		Amount:            amount,
	})
	require.NoError(t, err)
	return body
}

func TestTransferConservesValue(t *testing.T) {
	store := newFakeLedgerStore()
	svc := newTestService(store)
	from := seedAccount(t, svc, "500.00")
	to := seedAccount(t, svc, "100.00")
	total := from.Balance.Add(to.Balance)

	status, body, err := svc.Transfer(context.Background(),
		transferBody(t, from.AccountNumber, to.AccountNumber, "150.00"), "key-1")
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, status)

	var entry Transaction
	require.NoError(t, json.Unmarshal(body, &entry))
	assert.Equal(t, TxCompleted, entry.Status)
	assert.Equal(t, TypeTransfer, entry.TransactionType)
	assert.True(t, entry.Amount.Equal(decimal.RequireFromString("150.00")))

	assert.True(t, from.Balance.Equal(decimal.RequireFromString("350.00")))
	assert.True(t, to.Balance.Equal(decimal.RequireFromString("250.00")))
	assert.True(t, total.Equal(from.Balance.Add(to.Balance)), "transfer must conserve total value")
}

func TestTransferReplaysCachedResponse(t *testing.T) {
	store := newFakeLedgerStore()
	svc := newTestService(store)
	from := seedAccount(t, svc, "500.00")
	to := seedAccount(t, svc, "0.00")

	body := transferBody(t, from.AccountNumber, to.AccountNumber, "100.00")
	status1, resp1, err := svc.Transfer(context.Background(), body, "dup-key")
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, status1)

	status2, resp2, err := svc.Transfer(context.Background(), body, "dup-key")
	require.NoError(t, err)
	assert.Equal(t, status1, status2)
	assert.JSONEq(t, string(resp1), string(resp2))
	assert.Equal(t, 1, store.transfers, "replay must not move money twice")
	assert.True(t, from.Balance.Equal(decimal.RequireFromString("400.00")))
}

func TestTransferValidationFailuresAreCached(t *testing.T) {
	store := newFakeLedgerStore()
	replay := newFakeReplayStore()
	svc := NewService(store, replay, decimal.RequireFromString("50000.00"),
		ledgerTestMetrics, zap.NewNop())
	from := seedAccount(t, svc, "50.00")
	to := seedAccount(t, svc, "0.00")

	status, body, err := svc.Transfer(context.Background(),
		transferBody(t, from.AccountNumber, to.AccountNumber, "100.00"), "poor-key")
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, string(body), "insufficient balance")
	assert.Len(t, replay.saved, 1)

	status, body, err = svc.Transfer(context.Background(),
		transferBody(t, from.AccountNumber, "0000000000000000", "10.00"), "ghost-key")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Contains(t, string(body), "destination account")
}

func TestTransferMalformedBodyNotCached(t *testing.T) {
	store := newFakeLedgerStore()
	replay := newFakeReplayStore()
	svc := NewService(store, replay, decimal.RequireFromString("50000.00"),
		ledgerTestMetrics, zap.NewNop())

	status, _, err := svc.Transfer(context.Background(), []byte(`{"oops`), "junk-key")
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Empty(t, replay.saved)
}

func TestReversalRestoresBalances(t *testing.T) {
	store := newFakeLedgerStore()
	svc := newTestService(store)
	from := seedAccount(t, svc, "500.00")
	to := seedAccount(t, svc, "100.00")

	_, body, err := svc.Transfer(context.Background(),
		transferBody(t, from.AccountNumber, to.AccountNumber, "200.00"), "rev-key")
	require.NoError(t, err)

	var entry Transaction
	require.NoError(t, json.Unmarshal(body, &entry))

	reversal, err := svc.Reverse(context.Background(), entry.ID)
	require.NoError(t, err)
	assert.Contains(t, reversal.Description, "Reversal of transaction")
	assert.True(t, from.Balance.Equal(decimal.RequireFromString("500.00")))
	assert.True(t, to.Balance.Equal(decimal.RequireFromString("100.00")))
	assert.Equal(t, TxReversed, store.transactions[entry.ID].Status)

	// A reversal is a fresh transfer, not transitively reversible
	// through the original.
	_, err = svc.Reverse(context.Background(), entry.ID)
	assert.ErrorIs(t, err, ErrNotReversible)
}

func TestCreateAccountDefaultsAndDuplicates(t *testing.T) {
	store := newFakeLedgerStore()
	svc := newTestService(store)

	userID := uuid.New()
	account, err := svc.CreateAccount(context.Background(), CreateAccountRequest{
		UserID:            userID,
		AccountHolderName: "Dana Smith",
		Email:             "dana@example.com",
		InitialDeposit:    "250.00",
	})
	require.NoError(t, err)
	assert.Equal(t, "USD", account.Currency)
	assert.Equal(t, AccountActive, account.Status)
	assert.Regexp(t, `^\d{16}$`, account.AccountNumber)
	assert.True(t, account.Balance.Equal(decimal.RequireFromString("250.00")))

	// Opening deposit shows up in the ledger.
	txs, err := svc.ListTransactions(context.Background(), account.AccountNumber, 50, 0)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, TypeDeposit, txs[0].TransactionType)

	_, err = svc.CreateAccount(context.Background(), CreateAccountRequest{
		UserID:            userID,
		AccountHolderName: "Dana Smith",
		Email:             "dana@example.com",
	})
	assert.ErrorIs(t, err, ErrAccountExists)
}
