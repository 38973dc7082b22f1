package grpc

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/usecase"
)

// Client ledger.v1.LedgerService 的客戶端
// 實作 usecase.Ledger，錯誤會還原成帳本錯誤分類
type Client struct {
	conn grpc.ClientConnInterface
}

var _ usecase.Ledger = (*Client)(nil)

// NewClient 建立客戶端，conn 通常來自 pkg/grpc.Pool
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

func (c *Client) invoke(ctx context.Context, name string, req, out any) (map[string]string, error) {
	in, err := toStruct(req)
	if err != nil {
		return nil, err
	}
	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, "/"+ServiceName+"/"+name, in, resp); err != nil {
		return fromStatus(err)
	}
	if out == nil {
		return nil, nil
	}
	return nil, fromStruct(resp, out)
}

func (c *Client) GetBalance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	var out balanceReply
	if _, err := c.invoke(ctx, "GetBalance", accountRequest{AccountID: accountID}, &out); err != nil {
		return decimal.Zero, err
	}
	return out.Balance, nil
}

// Transfer 收到 ErrInconsistent 時仍回傳帶轉帳 ID 的結果，方便呼叫端追蹤
func (c *Client) Transfer(ctx context.Context, from, to string, amount decimal.Decimal) (*domain.TransferResult, error) {
	out := transferReply{TransferResult: new(domain.TransferResult)}
	meta, err := c.invoke(ctx, "Transfer", transferRequest{From: from, To: to, Amount: amountField{amount}}, &out)
	if err != nil {
		if errors.Is(err, domain.ErrInconsistent) && meta["transfer_id"] != "" {
			return &domain.TransferResult{
				TransferID: meta["transfer_id"],
				From:       from,
				To:         to,
				Amount:     amount,
				DebitID:    meta["debit_transaction_id"],
				CreditID:   meta["credit_transaction_id"],
				State:      domain.TransferStateInconsistent,
			}, err
		}
		return nil, err
	}
	out.TransferResult.State = transferStates[out.State]
	return out.TransferResult, nil
}

func (c *Client) ListTransactions(ctx context.Context, accountID string) ([]domain.Transaction, error) {
	var out transactionsReply
	if _, err := c.invoke(ctx, "ListTransactions", accountRequest{AccountID: accountID}, &out); err != nil {
		return nil, err
	}
	if out.Transactions == nil {
		out.Transactions = []domain.Transaction{}
	}
	return out.Transactions, nil
}

func (c *Client) CreateAccount(ctx context.Context, accountID string, initialBalance decimal.Decimal) (*domain.AccountRef, error) {
	var out domain.AccountRef
	req := createAccountRequest{AccountID: accountID, InitialBalance: amountField{initialBalance}}
	if _, err := c.invoke(ctx, "CreateAccount", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CloseAccount(ctx context.Context, accountID string) error {
	_, err := c.invoke(ctx, "CloseAccount", accountRequest{AccountID: accountID}, nil)
	return err
}

func (c *Client) UpdateAccount(ctx context.Context, accountID, metadata string) error {
	_, err := c.invoke(ctx, "UpdateAccount", updateAccountRequest{AccountID: accountID, Metadata: metadata}, nil)
	return err
}

func (c *Client) GetCustomerProfile(ctx context.Context, accountID string) (*domain.CustomerProfile, error) {
	var out domain.CustomerProfile
	if _, err := c.invoke(ctx, "GetCustomerProfile", accountRequest{AccountID: accountID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetActiveLoans(ctx context.Context, customerID string) ([]domain.Loan, error) {
	var out loansReply
	if _, err := c.invoke(ctx, "GetActiveLoans", customerRequest{CustomerID: customerID}, &out); err != nil {
		return nil, err
	}
	return out.Loans, nil
}

func (c *Client) SimulateInterest(ctx context.Context, accountID string) ([]domain.InterestPoint, error) {
	var out interestReply
	if _, err := c.invoke(ctx, "SimulateInterest", accountRequest{AccountID: accountID}, &out); err != nil {
		return nil, err
	}
	return out.Points, nil
}

func (c *Client) GetLoanStatus(ctx context.Context, loanID string) (string, error) {
	var out loanStatusReply
	if _, err := c.invoke(ctx, "GetLoanStatus", loanRequest{LoanID: loanID}, &out); err != nil {
		return "", err
	}
	return out.Status, nil
}
