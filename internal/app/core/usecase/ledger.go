package usecase

import (
	"context"
	"iter"

	"github.com/shopspring/decimal"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
)

// AccountStore 帳戶持久化介面
type AccountStore interface {
	// SaveAccount 新增或覆寫帳戶
	SaveAccount(ctx context.Context, account *domain.Account) error
	// FindAccount 查詢帳戶，不存在時回傳 domain.ErrAccountNotFound
	FindAccount(ctx context.Context, accountID string) (*domain.Account, error)
	// DeleteAccount 刪除帳戶 (不存在時視為成功)
	DeleteAccount(ctx context.Context, accountID string) error
}

// TransactionStore 交易紀錄持久化介面 (只能新增、查詢、依帳戶刪除)
type TransactionStore interface {
	// SaveTransaction 以交易 ID 為鍵寫入；同 ID 重複寫入必須是冪等的
	SaveTransaction(ctx context.Context, tx *domain.Transaction) error
	// FindTransaction 依 ID 查詢，不存在時回傳 (nil, nil)
	FindTransaction(ctx context.Context, transactionID string) (*domain.Transaction, error)
	// TransactionsByAccount 逐筆產生該帳戶的交易紀錄
	TransactionsByAccount(ctx context.Context, accountID string) iter.Seq2[*domain.Transaction, error]
	// DeleteTransactionsByAccount 刪除該帳戶所有交易紀錄
	DeleteTransactionsByAccount(ctx context.Context, accountID string) error
}

// Store 帳本所需的完整儲存層
type Store interface {
	AccountStore
	TransactionStore
}

// ConditionalAppender 儲存層若能以單一不可分割操作完成
// 「餘額 >= need 才寫入扣款」，實作此介面即可讓扣款多一層保護
type ConditionalAppender interface {
	// AppendIfCovered 當帳戶餘額 >= need 時寫入 tx，否則回傳 domain.ErrInsufficientFunds
	// tx.ID 已存在時直接視為成功
	AppendIfCovered(ctx context.Context, tx *domain.Transaction, need decimal.Decimal) error
}

// ReadModelStore 客戶與貸款唯讀模型
type ReadModelStore interface {
	SaveProfile(ctx context.Context, profile *domain.CustomerProfile) error
	// FindProfileByAccount 不存在時回傳 domain.ErrCustomerNotFound
	FindProfileByAccount(ctx context.Context, accountID string) (*domain.CustomerProfile, error)
	// FindProfile 不存在時回傳 domain.ErrCustomerNotFound
	FindProfile(ctx context.Context, customerID string) (*domain.CustomerProfile, error)
	SaveLoan(ctx context.Context, loan *domain.Loan) error
	LoansByCustomer(ctx context.Context, customerID string) ([]domain.Loan, error)
	// FindLoan 不存在時回傳 domain.ErrLoanNotFound
	FindLoan(ctx context.Context, loanID string) (*domain.Loan, error)
}

// EventPublisher 帳本事件發佈介面
// 取代全域廣播，測試時可替換成記錄用的實作
type EventPublisher interface {
	Publish(ctx context.Context, event domain.Event) error
}

// Ledger 對外提供的帳本操作 (由 CoreUseCase 實作)
type Ledger interface {
	GetBalance(ctx context.Context, accountID string) (decimal.Decimal, error)
	Transfer(ctx context.Context, from, to string, amount decimal.Decimal) (*domain.TransferResult, error)
	ListTransactions(ctx context.Context, accountID string) ([]domain.Transaction, error)
	CreateAccount(ctx context.Context, accountID string, initialBalance decimal.Decimal) (*domain.AccountRef, error)
	CloseAccount(ctx context.Context, accountID string) error
	UpdateAccount(ctx context.Context, accountID, metadata string) error
	GetCustomerProfile(ctx context.Context, accountID string) (*domain.CustomerProfile, error)
	GetActiveLoans(ctx context.Context, customerID string) ([]domain.Loan, error)
	SimulateInterest(ctx context.Context, accountID string) ([]domain.InterestPoint, error)
	GetLoanStatus(ctx context.Context, loanID string) (string, error)
}
