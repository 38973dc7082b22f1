package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
)

// TransferOrchestrator 轉帳狀態機
//
//	Validating: 金額、帳戶、餘額檢查 (在轉出帳戶通道上，與扣款之間沒有空隙)
//	Debiting:   在轉出帳戶通道上寫入扣款
//	Crediting:  在轉入帳戶通道上寫入入帳 (與呼叫端的 ctx 脫鉤)
//	Completed:  兩筆都確認後才回報成功
//
// 轉出通道不會等待轉入通道，兩個方向互轉也不會互鎖
type TransferOrchestrator struct {
	store      Store
	seq        *Sequencer
	balances   *BalanceAggregator
	registry   *AccountRegistry
	retry      RetryPolicy
	reconciler *Reconciler
	events     *notifier
	logger     *zap.Logger
}

func NewTransferOrchestrator(
	store Store,
	seq *Sequencer,
	balances *BalanceAggregator,
	registry *AccountRegistry,
	retry RetryPolicy,
	reconciler *Reconciler,
	publisher EventPublisher,
	logger *zap.Logger,
) *TransferOrchestrator {
	return &TransferOrchestrator{
		store:      store,
		seq:        seq,
		balances:   balances,
		registry:   registry,
		retry:      retry,
		reconciler: reconciler,
		events:     newNotifier(publisher, logger),
		logger:     logger.Named("transfer"),
	}
}

// Transfer 執行轉帳
//
// 參數:
//
//	ctx: 上下文；扣款確認之後取消不會中斷入帳
//	from: 轉出帳戶
//	to: 轉入帳戶
//	amount: 金額，必須大於 0
//
// 回傳:
//
//	*domain.TransferResult: 成功時狀態為 Completed
//	error: 驗證失敗為對應的業務錯誤；扣款後未能入帳時為 domain.ErrInconsistent，
//	       此時仍會回傳狀態為 Inconsistent 的結果，方便呼叫端追蹤轉帳 ID
func (o *TransferOrchestrator) Transfer(ctx context.Context, from, to string, amount decimal.Decimal) (*domain.TransferResult, error) {
	t := domain.NewTransfer(from, to, amount)
	logger := o.logger.With(zap.String("transfer_id", t.ID.String()))

	// 1. Validating (不需讀取儲存層的部分)
	if err := t.Validate(); err != nil {
		o.reject(ctx, t, err)
		return nil, err
	}
	if _, err := o.registry.Find(ctx, to); err != nil {
		o.reject(ctx, t, err)
		return nil, err
	}

	credited := make(chan error, 1)

	// 2. Validating + Debiting 在轉出帳戶通道上一次完成
	err := o.seq.Do(ctx, from, func(ctx context.Context) error {
		if err := o.debit(ctx, t); err != nil {
			return err
		}
		// 3. Crediting 交給轉入帳戶通道；不在這裡等待，避免兩條通道互相佔用
		handoff := o.seq.Handoff(t.To)
		go func() {
			credited <- o.credit(handoff, t)
		}()
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrInconsistent) {
			return t.Result(domain.TransferStateInconsistent), err
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			// 呼叫端放棄；若扣款已寫入，入帳仍會在背景完成
			logger.Debug("caller gave up during debit", zap.Error(err))
			return nil, err
		}
		o.reject(ctx, t, err)
		return nil, err
	}

	select {
	case err := <-credited:
		if err != nil {
			return t.Result(domain.TransferStateInconsistent), fmt.Errorf("%w: %v", domain.ErrInconsistent, err)
		}
	case <-ctx.Done():
		logger.Debug("caller gave up during credit", zap.Error(ctx.Err()))
		return nil, ctx.Err()
	}

	// 4. Completed
	return t.Result(domain.TransferStateCompleted), nil
}

// debit 檢查餘額並寫入扣款；必須在轉出帳戶的通道上呼叫
func (o *TransferOrchestrator) debit(ctx context.Context, t *domain.Transfer) error {
	if _, err := o.registry.Find(ctx, t.From); err != nil {
		return err
	}

	var balance decimal.Decimal
	if err := o.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		balance, err = o.balances.Sum(ctx, t.From)
		return err
	}); err != nil {
		return err
	}
	if balance.LessThan(t.Amount) {
		return domain.ErrInsufficientFunds
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// 一旦開始寫入就不再理會取消，結果必須確定
	wctx := context.WithoutCancel(ctx)
	err := o.retry.Do(wctx, func(ctx context.Context) error {
		return o.appendDebit(ctx, t)
	})
	if err == nil || !domain.IsRetryable(err) {
		return err
	}

	// 重試用盡，寫入結果不明：以固定的扣款 ID 查詢確認
	found, lookupErr := o.store.FindTransaction(wctx, t.DebitID)
	switch {
	case lookupErr == nil && found != nil:
		o.logger.Info("debit landed despite store error", zap.String("transfer_id", t.ID.String()))
		return nil
	case lookupErr == nil:
		return err
	default:
		cause := errors.Join(err, lookupErr)
		o.reconciler.EnqueueTransfer(t, cause)
		o.events.publish(wctx, domain.NewTransferEvent(domain.EventTransferInconsistent, t, domain.TransferStateDebiting, cause.Error()))
		return fmt.Errorf("%w: debit outcome unknown: %v", domain.ErrInconsistent, cause)
	}
}

func (o *TransferOrchestrator) appendDebit(ctx context.Context, t *domain.Transfer) error {
	if ca, ok := o.store.(ConditionalAppender); ok {
		return ca.AppendIfCovered(ctx, t.Debit(), t.Amount)
	}
	return o.store.SaveTransaction(ctx, t.Debit())
}

// credit 在轉入帳戶通道上寫入入帳，失敗就交給 Reconciler
// 呼叫端可能已經離開，所以結果事件都在這裡發佈
func (o *TransferOrchestrator) credit(handoff *Handoff, t *domain.Transfer) error {
	ctx := context.Background()
	err := handoff.Do(ctx, func(ctx context.Context) error {
		return o.reconciler.applyCredit(ctx, t)
	})
	if err != nil {
		o.reconciler.EnqueueTransfer(t, err)
		o.events.publish(ctx, domain.NewTransferEvent(domain.EventTransferInconsistent, t, domain.TransferStateCrediting, err.Error()))
		return err
	}
	o.events.publish(ctx, domain.NewTransferEvent(domain.EventTransferCompleted, t, domain.TransferStateCompleted, ""))
	return nil
}

func (o *TransferOrchestrator) reject(ctx context.Context, t *domain.Transfer, err error) {
	o.logger.Debug("transfer rejected",
		zap.String("transfer_id", t.ID.String()),
		zap.String("from", t.From),
		zap.String("to", t.To),
		zap.Error(err),
	)
	o.events.publish(ctx, domain.NewTransferEvent(domain.EventTransferRejected, t, domain.TransferStateRejected, err.Error()))
}
