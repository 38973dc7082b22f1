package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransferState 轉帳狀態機
//
//	Validating -> Debiting -> Crediting -> Completed
//	任一寫入前失敗 -> Rejected
//	扣款成功但入帳未確認 -> Inconsistent (交給對帳流程)
type TransferState uint8

const (
	TransferStateValidating TransferState = iota + 1
	TransferStateDebiting
	TransferStateCrediting
	TransferStateCompleted
	TransferStateRejected
	TransferStateInconsistent
)

func (s TransferState) String() string {
	switch s {
	case TransferStateValidating:
		return "validating"
	case TransferStateDebiting:
		return "debiting"
	case TransferStateCrediting:
		return "crediting"
	case TransferStateCompleted:
		return "completed"
	case TransferStateRejected:
		return "rejected"
	case TransferStateInconsistent:
		return "inconsistent"
	default:
		return fmt.Sprintf("TransferState(%d)", uint8(s))
	}
}

// Transfer 一筆轉帳指令，建立時即決定所有腳位的交易 ID
type Transfer struct {
	ID        uuid.UUID
	From      string
	To        string
	Amount    decimal.Decimal
	DebitID   string
	CreditID  string
	RefundID  string
	CreatedAt time.Time
}

func NewTransfer(from, to string, amount decimal.Decimal) *Transfer {
	id := uuid.New()
	return &Transfer{
		ID:        id,
		From:      from,
		To:        to,
		Amount:    amount,
		DebitID:   LegID(id, legDebit),
		CreditID:  LegID(id, legCredit),
		RefundID:  LegID(id, legRefund),
		CreatedAt: time.Now().UTC(),
	}
}

// Validate 檢查不需查詢儲存層的規則
func (t *Transfer) Validate() error {
	if !t.Amount.IsPositive() || !HasValidScale(t.Amount) {
		return ErrInvalidAmount
	}
	if t.From == t.To {
		return ErrSameAccount
	}
	if t.From == "" || t.To == "" {
		return ErrAccountNotFound
	}
	return nil
}

// Debit 扣款腳位 (-Amount 於轉出帳戶)
func (t *Transfer) Debit() *Transaction {
	tx := NewTransaction(t.DebitID, t.From, t.Amount.Neg(), TransactionKindDebit)
	tx.TransferID = t.ID.String()
	return tx
}

// Credit 入帳腳位 (+Amount 於轉入帳戶)
func (t *Transfer) Credit() *Transaction {
	tx := NewTransaction(t.CreditID, t.To, t.Amount, TransactionKindCredit)
	tx.TransferID = t.ID.String()
	return tx
}

// Refund 轉入帳戶已關閉時，把扣款退回轉出帳戶
func (t *Transfer) Refund() *Transaction {
	tx := NewTransaction(t.RefundID, t.From, t.Amount, TransactionKindRefund)
	tx.TransferID = t.ID.String()
	return tx
}

// TransferResult 轉帳結果
type TransferResult struct {
	TransferID string          `json:"transfer_id"`
	From       string          `json:"from_account"`
	To         string          `json:"to_account"`
	Amount     decimal.Decimal `json:"amount"`
	DebitID    string          `json:"debit_transaction_id"`
	CreditID   string          `json:"credit_transaction_id"`
	State      TransferState   `json:"-"`
	Message    string          `json:"message"`
}

// TransferCompletedMessage 轉帳成功訊息
const TransferCompletedMessage = "transfer completed"

func (t *Transfer) Result(state TransferState) *TransferResult {
	r := &TransferResult{
		TransferID: t.ID.String(),
		From:       t.From,
		To:         t.To,
		Amount:     t.Amount,
		DebitID:    t.DebitID,
		CreditID:   t.CreditID,
		State:      state,
	}
	if state == TransferStateCompleted {
		r.Message = TransferCompletedMessage
	}
	return r
}
