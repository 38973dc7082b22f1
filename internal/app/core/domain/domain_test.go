package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestTransferValidate(t *testing.T) {
	tests := []struct {
		name   string
		from   string
		to     string
		amount string
		want   error
	}{
		{"ok", "A1", "A2", "40.00", nil},
		{"zero amount", "A1", "A2", "0", ErrInvalidAmount},
		{"negative amount", "A1", "A2", "-1", ErrInvalidAmount},
		{"same account", "A1", "A1", "10", ErrSameAccount},
		{"empty source", "", "A2", "10", ErrAccountNotFound},
		{"four decimals", "A1", "A2", "0.0001", nil},
		{"trailing zeros beyond scale", "A1", "A2", "1.500000", nil},
		{"sub-cent precision", "A1", "A2", "0.00001", ErrInvalidAmount},
		{"rounds up in storage", "A1", "A2", "0.00005", ErrInvalidAmount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewTransfer(tt.from, tt.to, dec(tt.amount)).Validate()
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestTransferLegsPairToZero(t *testing.T) {
	tr := NewTransfer("A1", "A2", dec("40.00"))

	debit := tr.Debit()
	credit := tr.Credit()

	assert.Equal(t, "A1", debit.AccountID)
	assert.Equal(t, "A2", credit.AccountID)
	assert.True(t, debit.Amount.Add(credit.Amount).IsZero(), "legs must sum to zero")
	assert.NotEqual(t, debit.ID, credit.ID)
	assert.Equal(t, tr.ID.String(), debit.TransferID)
}

func TestLegIDIsDeterministic(t *testing.T) {
	tr := NewTransfer("A1", "A2", dec("1"))

	assert.Equal(t, tr.DebitID, LegID(tr.ID, legDebit))
	assert.Equal(t, tr.CreditID, LegID(tr.ID, legCredit))
	assert.Equal(t, tr.Debit().ID, tr.Debit().ID, "retries must reuse the same id")

	other := NewTransfer("A1", "A2", dec("1"))
	assert.NotEqual(t, tr.DebitID, other.DebitID)
}

func TestTransferResult(t *testing.T) {
	tr := NewTransfer("A1", "A2", dec("5"))

	done := tr.Result(TransferStateCompleted)
	assert.Equal(t, TransferCompletedMessage, done.Message)
	assert.Equal(t, "completed", done.State.String())

	rejected := tr.Result(TransferStateRejected)
	assert.Empty(t, rejected.Message)
}

func TestErrorClassification(t *testing.T) {
	wrapped := fmt.Errorf("saving: %w", ErrStoreUnavailable)

	assert.True(t, IsRetryable(wrapped))
	assert.False(t, IsTerminal(wrapped))

	assert.True(t, IsTerminal(fmt.Errorf("lookup: %w", ErrInsufficientFunds)))
	assert.True(t, IsTerminal(fmt.Errorf("decode: %w", ErrInvalidRequest)))
	assert.False(t, IsTerminal(ErrInconsistent))
	assert.False(t, IsRetryable(errors.New("boom")))
}

func TestCompoundInterest(t *testing.T) {
	points := CompoundInterest(dec("1000"), dec("0.05"), 10)
	require.Len(t, points, 10)

	assert.Equal(t, 1, points[0].Year)
	assert.True(t, points[0].Amount.Equal(dec("1050")), "got %s", points[0].Amount)
	assert.True(t, points[1].Amount.Equal(dec("1102.5")), "got %s", points[1].Amount)
	assert.True(t, points[9].Amount.Equal(dec("1628.89")), "got %s", points[9].Amount)

	assert.Empty(t, CompoundInterest(dec("1000"), dec("0.05"), 0))
}

func TestLoanStatus(t *testing.T) {
	loan := Loan{LoanID: "loan1", Balance: dec("5000"), InterestRate: dec("0.05")}
	assert.Equal(t, "Loan ID: loan1, Balance: 5000.00, Interest Rate: 0.05%", loan.Status())

	// 兩位小數四捨五入，不經過浮點數
	loan = Loan{LoanID: "loan2", Balance: dec("10000.005"), InterestRate: dec("0.035")}
	assert.Equal(t, "Loan ID: loan2, Balance: 10000.01, Interest Rate: 0.04%", loan.Status())
}

func TestEventKey(t *testing.T) {
	tr := NewTransfer("A1", "A2", dec("1"))
	ev := NewTransferEvent(EventTransferInconsistent, tr, TransferStateInconsistent, "timeout")
	assert.Equal(t, tr.ID.String(), ev.Key())
	assert.True(t, ev.IsAlert())

	acc := NewAccountEvent(EventAccountCreated, "A1", dec("100"), "")
	assert.Equal(t, "A1", acc.Key())
	assert.False(t, acc.IsAlert())
}
