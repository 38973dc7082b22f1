package grpc

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
)

// 訊息一律以 google.protobuf.Struct 傳遞，欄位名稱與 REST 的 JSON 相同
// 金額以字串表示，避免浮點誤差

// amountField 金額欄位；解析失敗回報為 domain.ErrInvalidAmount，而不是請求格式錯誤
type amountField struct {
	decimal.Decimal
}

func (a *amountField) UnmarshalJSON(b []byte) error {
	if err := a.Decimal.UnmarshalJSON(b); err != nil {
		return errors.Join(domain.ErrInvalidAmount, err)
	}
	return nil
}

type accountRequest struct {
	AccountID string `json:"account_id"`
}

type transferRequest struct {
	From   string      `json:"from_account"`
	To     string      `json:"to_account"`
	Amount amountField `json:"amount"`
}

type createAccountRequest struct {
	AccountID      string      `json:"account_id"`
	InitialBalance amountField `json:"initial_balance"`
}

type updateAccountRequest struct {
	AccountID string `json:"account_id"`
	Metadata  string `json:"metadata"`
}

type customerRequest struct {
	CustomerID string `json:"customer_id"`
}

type loanRequest struct {
	LoanID string `json:"loan_id"`
}

type balanceReply struct {
	AccountID string          `json:"account_id"`
	Balance   decimal.Decimal `json:"balance"`
}

type transferReply struct {
	*domain.TransferResult
	State string `json:"state"`
}

type transactionsReply struct {
	Transactions []domain.Transaction `json:"transactions"`
}

type closeReply struct {
	AccountID string `json:"account_id"`
	Closed    bool   `json:"closed"`
}

type loansReply struct {
	Loans []domain.Loan `json:"loans"`
}

type interestReply struct {
	AccountID string                 `json:"account_id"`
	Points    []domain.InterestPoint `json:"points"`
}

type loanStatusReply struct {
	LoanID string `json:"loan_id"`
	Status string `json:"status"`
}

// toStruct 把帶 json tag 的結構轉成 Struct
func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	s := new(structpb.Struct)
	if err := protojson.Unmarshal(b, s); err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return s, nil
}

// fromStruct 把 Struct 解回帶 json tag 的結構
func fromStruct(s *structpb.Struct, v any) error {
	b, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("decode message: %w", err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode message: %w", err)
	}
	return nil
}

var transferStates = map[string]domain.TransferState{
	domain.TransferStateValidating.String():   domain.TransferStateValidating,
	domain.TransferStateDebiting.String():     domain.TransferStateDebiting,
	domain.TransferStateCrediting.String():    domain.TransferStateCrediting,
	domain.TransferStateCompleted.String():    domain.TransferStateCompleted,
	domain.TransferStateRejected.String():     domain.TransferStateRejected,
	domain.TransferStateInconsistent.String(): domain.TransferStateInconsistent,
}
