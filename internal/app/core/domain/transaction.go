package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionKind 交易紀錄種類，只作為稽核用途，不影響餘額計算
type TransactionKind string

const (
	// 開戶入金
	TransactionKindOpening TransactionKind = "opening"
	// 轉帳扣款
	TransactionKindDebit TransactionKind = "debit"
	// 轉帳入帳
	TransactionKindCredit TransactionKind = "credit"
	// 入帳失敗後退回扣款
	TransactionKindRefund TransactionKind = "refund"
)

// AmountScale 金額允許的小數位數
// MySQL decimal(20,4) 與 Postgres NUMERIC(20,4) 欄位依此設定，超過的位數會被資料庫默默捨入
const AmountScale = 4

// HasValidScale 回報金額是否能在 AmountScale 位小數內精確表示 (尾端的 0 不計)
func HasValidScale(amount decimal.Decimal) bool {
	return amount.Equal(amount.Truncate(AmountScale))
}

// Transaction 交易紀錄 (不可變)
// 建立後不得修改，只會在帳戶關閉時一併刪除
type Transaction struct {
	// ID: 全域唯一交易 ID，重試時沿用同一個 ID 以確保冪等
	ID string `json:"transaction_id"`
	// AccountID: 所屬帳戶 (參照，非擁有)
	AccountID string `json:"account_id"`
	// Amount: 有號金額，扣款為負、入帳為正
	Amount decimal.Decimal `json:"amount"`
	// TransferID: 轉帳產生的紀錄才有值
	TransferID string          `json:"transfer_id,omitempty"`
	Kind       TransactionKind `json:"kind"`
	CreatedAt  time.Time       `json:"created_at"`
}

func NewTransaction(id, accountID string, amount decimal.Decimal, kind TransactionKind) *Transaction {
	return &Transaction{
		ID:        id,
		AccountID: accountID,
		Amount:    amount,
		Kind:      kind,
		CreatedAt: time.Now().UTC(),
	}
}

// 轉帳各腳位 ID 的命名空間
const (
	legDebit  = "debit"
	legCredit = "credit"
	legRefund = "refund"
)

// LegID 由轉帳 ID 推導出固定的腳位交易 ID
// 同一筆轉帳無論重試幾次，扣款/入帳/退款都會得到同一個 ID
func LegID(transferID uuid.UUID, leg string) string {
	return uuid.NewSHA1(transferID, []byte(leg)).String()
}
