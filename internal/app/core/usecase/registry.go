package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
)

// AccountRegistry 管理帳戶的存在與生命週期
// 所有變更都在該帳戶的 Sequencer 通道上執行
type AccountRegistry struct {
	store      Store
	seq        *Sequencer
	retry      RetryPolicy
	reconciler *Reconciler
	events     *notifier
	logger     *zap.Logger
}

func NewAccountRegistry(store Store, seq *Sequencer, retry RetryPolicy, reconciler *Reconciler, publisher EventPublisher, logger *zap.Logger) *AccountRegistry {
	return &AccountRegistry{
		store:      store,
		seq:        seq,
		retry:      retry,
		reconciler: reconciler,
		events:     newNotifier(publisher, logger),
		logger:     logger.Named("registry"),
	}
}

// Find 查詢帳戶 (儲存層暫時不可用時會重試)
func (r *AccountRegistry) Find(ctx context.Context, accountID string) (*domain.Account, error) {
	if accountID == "" {
		return nil, domain.ErrAccountNotFound
	}
	var account *domain.Account
	err := r.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		account, err = r.store.FindAccount(ctx, accountID)
		return err
	})
	return account, err
}

// CreateAccount 開戶，並寫入一筆金額為 initialBalance 的開戶交易
//
// 參數:
//
//	ctx: 上下文
//	accountID: 帳戶 ID
//	initialBalance: 開戶金額，不得為負
//
// 回傳:
//
//	*domain.AccountRef: 帳戶與開戶交易 ID
//	error: domain.ErrDuplicateAccount / domain.ErrInvalidAmount / domain.ErrInvalidAccountID
func (r *AccountRegistry) CreateAccount(ctx context.Context, accountID string, initialBalance decimal.Decimal) (*domain.AccountRef, error) {
	if accountID == "" {
		return nil, domain.ErrInvalidAccountID
	}
	if initialBalance.IsNegative() || !domain.HasValidScale(initialBalance) {
		return nil, domain.ErrInvalidAmount
	}

	var ref *domain.AccountRef
	err := r.seq.Do(ctx, accountID, func(ctx context.Context) error {
		_, err := r.Find(ctx, accountID)
		if err == nil {
			return domain.ErrDuplicateAccount
		}
		if !errors.Is(err, domain.ErrAccountNotFound) {
			return err
		}

		// 同 ID 的舊帳戶若還有未刪完的紀錄，先清乾淨再開戶
		if err := r.reconciler.runCascade(ctx, accountID); err != nil {
			return err
		}

		// 開始寫入後不再理會呼叫端取消
		wctx := context.WithoutCancel(ctx)
		account := domain.NewAccount(accountID)
		if err := r.retry.Do(wctx, func(ctx context.Context) error {
			return r.store.SaveAccount(ctx, account)
		}); err != nil {
			return fmt.Errorf("saving account %s: %w", accountID, err)
		}

		opening := domain.NewTransaction(uuid.NewString(), accountID, initialBalance, domain.TransactionKindOpening)
		if err := r.retry.Do(wctx, func(ctx context.Context) error {
			return r.store.SaveTransaction(ctx, opening)
		}); err != nil {
			// 開戶交易寫不進去就撤銷帳戶，避免出現沒有開戶紀錄的帳戶
			if derr := r.retry.Do(wctx, func(ctx context.Context) error {
				return r.store.DeleteAccount(ctx, accountID)
			}); derr != nil {
				r.logger.Error("rollback account failed", zap.String("account_id", accountID), zap.Error(derr))
			}
			return fmt.Errorf("saving opening transaction of %s: %w", accountID, err)
		}

		ref = &domain.AccountRef{AccountID: accountID, OpeningTransactionID: opening.ID}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.events.publish(ctx, domain.NewAccountEvent(domain.EventAccountCreated, accountID, initialBalance, ""))
	return ref, nil
}

// UpdateAccount 更新帳戶描述，交易紀錄不受影響
func (r *AccountRegistry) UpdateAccount(ctx context.Context, accountID, metadata string) error {
	err := r.seq.Do(ctx, accountID, func(ctx context.Context) error {
		account, err := r.Find(ctx, accountID)
		if err != nil {
			return err
		}
		account.Metadata = metadata
		return r.retry.Do(context.WithoutCancel(ctx), func(ctx context.Context) error {
			return r.store.SaveAccount(ctx, account)
		})
	})
	if err != nil {
		return err
	}

	r.events.publish(ctx, domain.NewAccountEvent(domain.EventAccountUpdated, accountID, decimal.Zero, metadata))
	return nil
}

// CloseAccount 關閉帳戶並刪除其所有交易紀錄
//
// 先刪帳戶再刪紀錄：帳戶一旦刪除，查詢一律回報不存在，殘留紀錄不會被誤算。
// 紀錄刪除在重試後仍無法確認時，回傳 domain.ErrStoreUnavailable，
// 並交由 Reconciler 持續重試到完成
func (r *AccountRegistry) CloseAccount(ctx context.Context, accountID string) error {
	err := r.seq.Do(ctx, accountID, func(ctx context.Context) error {
		if _, err := r.Find(ctx, accountID); err != nil {
			return err
		}

		wctx := context.WithoutCancel(ctx)
		if err := r.retry.Do(wctx, func(ctx context.Context) error {
			return r.store.DeleteAccount(ctx, accountID)
		}); err != nil {
			return fmt.Errorf("deleting account %s: %w", accountID, err)
		}

		r.reconciler.EnqueueCascade(accountID)
		if err := r.reconciler.runCascade(wctx, accountID); err != nil {
			r.events.publish(wctx, domain.NewAccountEvent(domain.EventAccountCascadePending, accountID, decimal.Zero, err.Error()))
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.events.publish(ctx, domain.NewAccountEvent(domain.EventAccountClosed, accountID, decimal.Zero, ""))
	return nil
}
