package usecase

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
)

// BalanceAggregator 由交易紀錄推導帳戶餘額，沒有副作用
type BalanceAggregator struct {
	accounts     AccountStore
	transactions TransactionStore
}

func NewBalanceAggregator(accounts AccountStore, transactions TransactionStore) *BalanceAggregator {
	return &BalanceAggregator{
		accounts:     accounts,
		transactions: transactions,
	}
}

// Balance 取得帳戶餘額
//
// 參數:
//
//	ctx: 上下文
//	accountID: 帳戶 ID
//
// 回傳:
//
//	decimal.Decimal: 所有交易金額加總；沒有任何交易的既有帳戶為 0
//	error: 帳戶不存在時為 domain.ErrAccountNotFound
func (b *BalanceAggregator) Balance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	// 帳戶是否存在與交易筆數無關，必須獨立查詢
	if _, err := b.accounts.FindAccount(ctx, accountID); err != nil {
		return decimal.Zero, err
	}
	return b.Sum(ctx, accountID)
}

// Sum 只加總交易，不檢查帳戶是否存在
func (b *BalanceAggregator) Sum(ctx context.Context, accountID string) (decimal.Decimal, error) {
	total := decimal.Zero
	for tx, err := range b.transactions.TransactionsByAccount(ctx, accountID) {
		if err != nil {
			return decimal.Zero, fmt.Errorf("summing transactions of %s: %w", accountID, err)
		}
		total = total.Add(tx.Amount)
	}
	return total, nil
}
