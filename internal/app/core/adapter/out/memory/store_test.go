package memory

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-bank-ledger/pkg/wal"
)

func collect(t *testing.T, s *Store, accountID string) []domain.Transaction {
	t.Helper()
	var out []domain.Transaction
	for tx, err := range s.TransactionsByAccount(context.Background(), accountID) {
		require.NoError(t, err)
		out = append(out, *tx)
	}
	return out
}

func TestStoreAccounts(t *testing.T) {
	ctx := context.Background()
	s, err := NewStore(nil)
	require.NoError(t, err)

	_, err = s.FindAccount(ctx, "A1")
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)

	require.NoError(t, s.SaveAccount(ctx, domain.NewAccount("A1")))
	a, err := s.FindAccount(ctx, "A1")
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultAccountMetadata, a.Metadata)

	// 回傳的是複本，修改不影響儲存層
	a.Metadata = "changed"
	again, err := s.FindAccount(ctx, "A1")
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultAccountMetadata, again.Metadata)

	require.NoError(t, s.DeleteAccount(ctx, "A1"))
	require.NoError(t, s.DeleteAccount(ctx, "A1"))
	_, err = s.FindAccount(ctx, "A1")
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func TestStoreTransactionsIdempotent(t *testing.T) {
	ctx := context.Background()
	s, err := NewStore(nil)
	require.NoError(t, err)

	tx := domain.NewTransaction("t1", "A1", decimal.NewFromInt(100), domain.TransactionKindOpening)
	require.NoError(t, s.SaveTransaction(ctx, tx))
	require.NoError(t, s.SaveTransaction(ctx, tx))
	assert.Len(t, collect(t, s, "A1"), 1)

	found, err := s.FindTransaction(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.True(t, found.Amount.Equal(decimal.NewFromInt(100)))

	missing, err := s.FindTransaction(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, s.DeleteTransactionsByAccount(ctx, "A1"))
	assert.Empty(t, collect(t, s, "A1"))
	missing, err = s.FindTransaction(ctx, "t1")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestStoreAppendIfCovered(t *testing.T) {
	ctx := context.Background()
	s, err := NewStore(nil)
	require.NoError(t, err)

	require.NoError(t, s.SaveTransaction(ctx, domain.NewTransaction("open", "A1", decimal.NewFromInt(50), domain.TransactionKindOpening)))

	debit := domain.NewTransaction("d1", "A1", decimal.NewFromInt(-40), domain.TransactionKindDebit)
	require.NoError(t, s.AppendIfCovered(ctx, debit, decimal.NewFromInt(40)))
	// 同 ID 重送視為成功，不會再檢查餘額
	require.NoError(t, s.AppendIfCovered(ctx, debit, decimal.NewFromInt(40)))

	second := domain.NewTransaction("d2", "A1", decimal.NewFromInt(-40), domain.TransactionKindDebit)
	assert.ErrorIs(t, s.AppendIfCovered(ctx, second, decimal.NewFromInt(40)), domain.ErrInsufficientFunds)
	assert.Len(t, collect(t, s, "A1"), 2)
}

func TestStoreIteratorStopsEarly(t *testing.T) {
	ctx := context.Background()
	s, err := NewStore(nil)
	require.NoError(t, err)
	for _, id := range []string{"t1", "t2", "t3"} {
		require.NoError(t, s.SaveTransaction(ctx, domain.NewTransaction(id, "A1", decimal.NewFromInt(1), domain.TransactionKindCredit)))
	}

	seen := 0
	for range s.TransactionsByAccount(ctx, "A1") {
		seen++
		// yield 期間不持有鎖，可以再寫入
		require.NoError(t, s.SaveTransaction(ctx, domain.NewTransaction("x", "A2", decimal.NewFromInt(1), domain.TransactionKindCredit)))
		break
	}
	assert.Equal(t, 1, seen)

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	for tx, err := range s.TransactionsByAccount(cctx, "A1") {
		assert.Nil(t, tx)
		assert.ErrorIs(t, err, context.Canceled)
	}
}

func TestStoreRecoversFromWAL(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.wal")

	w, err := wal.Open(path, wal.WithoutSync())
	require.NoError(t, err)
	s, err := NewStore(w)
	require.NoError(t, err)

	require.NoError(t, s.SaveAccount(ctx, domain.NewAccount("A1")))
	require.NoError(t, s.SaveAccount(ctx, domain.NewAccount("A2")))
	require.NoError(t, s.SaveTransaction(ctx, domain.NewTransaction("t1", "A1", decimal.RequireFromString("100.00"), domain.TransactionKindOpening)))
	require.NoError(t, s.SaveTransaction(ctx, domain.NewTransaction("t2", "A2", decimal.NewFromInt(7), domain.TransactionKindOpening)))
	require.NoError(t, s.DeleteAccount(ctx, "A2"))
	require.NoError(t, s.DeleteTransactionsByAccount(ctx, "A2"))
	require.NoError(t, s.SaveProfile(ctx, &domain.CustomerProfile{CustomerID: "c1", Name: "n", AccountID: "A1"}))
	require.NoError(t, s.SaveLoan(ctx, &domain.Loan{LoanID: "l1", CustomerID: "c1", Balance: decimal.NewFromInt(5000), InterestRate: decimal.RequireFromString("0.05")}))
	require.NoError(t, w.Close())

	w, err = wal.Open(path)
	require.NoError(t, err)
	defer w.Close()
	recovered, err := NewStore(w)
	require.NoError(t, err)

	_, err = recovered.FindAccount(ctx, "A1")
	require.NoError(t, err)
	_, err = recovered.FindAccount(ctx, "A2")
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)

	txs := collect(t, recovered, "A1")
	require.Len(t, txs, 1)
	assert.True(t, txs[0].Amount.Equal(decimal.NewFromInt(100)))
	assert.Empty(t, collect(t, recovered, "A2"))

	p, err := recovered.FindProfileByAccount(ctx, "A1")
	require.NoError(t, err)
	assert.Equal(t, "c1", p.CustomerID)

	loans, err := recovered.LoansByCustomer(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, loans, 1)
	assert.Equal(t, "Loan ID: l1, Balance: 5000.00, Interest Rate: 0.05%", loans[0].Status())
}

func TestStoreReadModels(t *testing.T) {
	ctx := context.Background()
	s, err := NewStore(nil)
	require.NoError(t, err)

	_, err = s.FindProfile(ctx, "c1")
	assert.ErrorIs(t, err, domain.ErrCustomerNotFound)
	_, err = s.FindProfileByAccount(ctx, "A1")
	assert.ErrorIs(t, err, domain.ErrCustomerNotFound)
	_, err = s.FindLoan(ctx, "l1")
	assert.ErrorIs(t, err, domain.ErrLoanNotFound)

	require.NoError(t, s.SaveLoan(ctx, &domain.Loan{LoanID: "l2", CustomerID: "c1"}))
	require.NoError(t, s.SaveLoan(ctx, &domain.Loan{LoanID: "l1", CustomerID: "c1"}))
	require.NoError(t, s.SaveLoan(ctx, &domain.Loan{LoanID: "l3", CustomerID: "c2"}))

	loans, err := s.LoansByCustomer(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, loans, 2)
	assert.Equal(t, "l1", loans[0].LoanID)
	assert.Equal(t, "l2", loans[1].LoanID)
}
