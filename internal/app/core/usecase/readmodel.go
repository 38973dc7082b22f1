package usecase

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
)

// GetCustomerProfile 依帳戶查詢客戶資料
func (c *CoreUseCase) GetCustomerProfile(ctx context.Context, accountID string) (*domain.CustomerProfile, error) {
	if c.readModels == nil {
		return nil, domain.ErrCustomerNotFound
	}
	return c.readModels.FindProfileByAccount(ctx, accountID)
}

// GetActiveLoans 查詢客戶名下的貸款
func (c *CoreUseCase) GetActiveLoans(ctx context.Context, customerID string) ([]domain.Loan, error) {
	if c.readModels == nil {
		return nil, domain.ErrCustomerNotFound
	}
	if _, err := c.readModels.FindProfile(ctx, customerID); err != nil {
		return nil, err
	}
	loans, err := c.readModels.LoansByCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if len(loans) == 0 {
		return nil, domain.ErrNoActiveLoans
	}
	return loans, nil
}

// SimulateInterest 以目前餘額為本金試算逐年複利
func (c *CoreUseCase) SimulateInterest(ctx context.Context, accountID string) ([]domain.InterestPoint, error) {
	balance, err := c.GetBalance(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return domain.CompoundInterest(balance, c.interestRate, c.simulationYears), nil
}

// GetLoanStatus 貸款狀態描述
func (c *CoreUseCase) GetLoanStatus(ctx context.Context, loanID string) (string, error) {
	if c.readModels == nil {
		return "", domain.ErrLoanNotFound
	}
	loan, err := c.readModels.FindLoan(ctx, loanID)
	if err != nil {
		return "", err
	}
	return loan.Status(), nil
}

// seedProfile 為新帳戶建立預設客戶資料，失敗只記錄
func (c *CoreUseCase) seedProfile(ctx context.Context, ref *domain.AccountRef) {
	if c.readModels == nil {
		return
	}
	profile := &domain.CustomerProfile{
		CustomerID: uuid.NewString(),
		Name:       ref.OpeningTransactionID + "_name",
		Email:      ref.OpeningTransactionID + "@gmail.com",
		AccountID:  ref.AccountID,
	}
	if err := c.readModels.SaveProfile(context.WithoutCancel(ctx), profile); err != nil {
		c.logger.Warn("seed customer profile failed", zap.String("account_id", ref.AccountID), zap.Error(err))
	}
}
