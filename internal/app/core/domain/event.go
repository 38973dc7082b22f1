package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventType 帳本事件類型
type EventType string

const (
	EventAccountCreated          EventType = "account.created"
	EventAccountUpdated          EventType = "account.updated"
	EventAccountClosed           EventType = "account.closed"
	EventAccountCascadePending   EventType = "account.cascade_pending"
	EventAccountCascadeCompleted EventType = "account.cascade_completed"
	EventTransferCompleted       EventType = "transfer.completed"
	EventTransferRejected        EventType = "transfer.rejected"
	EventTransferInconsistent    EventType = "transfer.inconsistent"
	EventTransferReconciled      EventType = "transfer.reconciled"
	EventTransferReversed        EventType = "transfer.reversed"
)

// Event 對外發佈的帳本事件
type Event struct {
	Type       EventType       `json:"event_type"`
	AccountID  string          `json:"account_id,omitempty"`
	TransferID string          `json:"transfer_id,omitempty"`
	From       string          `json:"from_account,omitempty"`
	To         string          `json:"to_account,omitempty"`
	Amount     decimal.Decimal `json:"amount"`
	State      string          `json:"state,omitempty"`
	Reason     string          `json:"reason,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// Key 事件分區鍵，同一筆轉帳或同一帳戶的事件落在同一個分區
func (e *Event) Key() string {
	if e.TransferID != "" {
		return e.TransferID
	}
	return e.AccountID
}

// IsAlert 需要營運人員關注的事件
func (e *Event) IsAlert() bool {
	return e.Type == EventTransferInconsistent || e.Type == EventAccountCascadePending
}

func NewTransferEvent(typ EventType, t *Transfer, state TransferState, reason string) Event {
	return Event{
		Type:       typ,
		TransferID: t.ID.String(),
		From:       t.From,
		To:         t.To,
		Amount:     t.Amount,
		State:      state.String(),
		Reason:     reason,
		OccurredAt: time.Now().UTC(),
	}
}

func NewAccountEvent(typ EventType, accountID string, amount decimal.Decimal, reason string) Event {
	return Event{
		Type:       typ,
		AccountID:  accountID,
		Amount:     amount,
		Reason:     reason,
		OccurredAt: time.Now().UTC(),
	}
}
