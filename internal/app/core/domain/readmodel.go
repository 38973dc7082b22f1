package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// CustomerProfile 客戶資料 (唯讀模型)
type CustomerProfile struct {
	CustomerID string `json:"customer_id"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	AccountID  string `json:"account_id"`
}

// Loan 貸款 (唯讀模型)
type Loan struct {
	LoanID       string          `json:"loan_id"`
	Balance      decimal.Decimal `json:"balance"`
	InterestRate decimal.Decimal `json:"interest_rate"`
	CustomerID   string          `json:"customer_id"`
}

// Status 貸款狀態描述，利率照儲存值輸出 (0.05 顯示為 "0.05%")
func (l *Loan) Status() string {
	return fmt.Sprintf("Loan ID: %s, Balance: %s, Interest Rate: %s%%",
		l.LoanID, l.Balance.StringFixed(2), l.InterestRate.StringFixed(2))
}

// InterestPoint 複利試算單一年度結果
type InterestPoint struct {
	Year   int             `json:"year"`
	Amount decimal.Decimal `json:"amount"`
}

// CompoundInterest 以 principal * (1 + rate)^year 計算 1..years 年的複利
func CompoundInterest(principal, rate decimal.Decimal, years int) []InterestPoint {
	if years <= 0 {
		return nil
	}
	growth := decimal.NewFromInt(1).Add(rate)
	points := make([]InterestPoint, 0, years)
	factor := decimal.NewFromInt(1)
	for year := 1; year <= years; year++ {
		factor = factor.Mul(growth)
		points = append(points, InterestPoint{
			Year:   year,
			Amount: principal.Mul(factor).Round(2),
		})
	}
	return points
}
