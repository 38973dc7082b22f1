package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
)

// pendingTransfer 已扣款、尚未確認入帳的轉帳
type pendingTransfer struct {
	transfer *domain.Transfer
	attempts int
	lastErr  error
}

// Reconciler 背景對帳
//
// 負責兩種補完工作:
//  1. 扣款成功但入帳失敗的轉帳：只補做入帳 (沿用同一個入帳 ID)；
//     若轉入帳戶已關閉，則以固定的退款 ID 把金額退回轉出帳戶
//  2. 關閉帳戶時未能確認的交易紀錄連帶刪除
//
// 所有補完都透過 Sequencer 在對應帳戶的通道上執行，與一般請求互相排隊
type Reconciler struct {
	store    Store
	seq      *Sequencer
	retry    RetryPolicy
	events   *notifier
	logger   *zap.Logger
	interval time.Duration

	mu        sync.Mutex
	transfers map[uuid.UUID]*pendingTransfer
	cascades  map[string]int

	wake     chan struct{}
	stopChan chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func NewReconciler(store Store, seq *Sequencer, retry RetryPolicy, publisher EventPublisher, logger *zap.Logger, interval time.Duration) *Reconciler {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Reconciler{
		store:     store,
		seq:       seq,
		retry:     retry,
		events:    newNotifier(publisher, logger),
		logger:    logger.Named("reconciler"),
		interval:  interval,
		transfers: make(map[uuid.UUID]*pendingTransfer),
		cascades:  make(map[string]int),
		wake:      make(chan struct{}, 1),
		stopChan:  make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// EnqueueTransfer 登記一筆待補入帳的轉帳 (重複登記無副作用)
func (r *Reconciler) EnqueueTransfer(t *domain.Transfer, cause error) {
	r.mu.Lock()
	if p, ok := r.transfers[t.ID]; ok {
		p.lastErr = cause
	} else {
		r.transfers[t.ID] = &pendingTransfer{transfer: t, lastErr: cause}
	}
	r.mu.Unlock()
	r.poke()
}

// EnqueueCascade 登記一個待刪除交易紀錄的已關閉帳戶
func (r *Reconciler) EnqueueCascade(accountID string) {
	r.mu.Lock()
	if _, ok := r.cascades[accountID]; !ok {
		r.cascades[accountID] = 0
	}
	r.mu.Unlock()
	r.poke()
}

// HasPendingCascade 帳戶是否還有未完成的連帶刪除
func (r *Reconciler) HasPendingCascade(accountID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.cascades[accountID]
	return ok
}

// Pending 回傳尚未補完的轉帳數與連帶刪除數
func (r *Reconciler) Pending() (transfers, cascades int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.transfers), len(r.cascades)
}

// Start 啟動背景對帳 (非同步)
func (r *Reconciler) Start(ctx context.Context) {
	go r.loop(ctx)
}

// Stop 通知背景對帳停止，可搭配 Wait 等待結束
func (r *Reconciler) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopChan)
	})
}

// Wait 等待背景迴圈結束 (需先 Start)
func (r *Reconciler) Wait() {
	<-r.done
}

func (r *Reconciler) loop(ctx context.Context) {
	defer close(r.done)
	r.logger.Info("Starting reconciler", zap.Duration("interval", r.interval))

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.RunOnce(ctx)
		case <-r.wake:
			r.RunOnce(ctx)
		case <-r.stopChan:
			r.logger.Info("Stopping reconciler")
			return
		case <-ctx.Done():
			r.logger.Info("Context cancelled, stopping reconciler")
			return
		}
	}
}

func (r *Reconciler) poke() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// RunOnce 對所有待處理項目各嘗試一次，回傳仍未完成的數量
func (r *Reconciler) RunOnce(ctx context.Context) int {
	r.mu.Lock()
	transfers := make([]*pendingTransfer, 0, len(r.transfers))
	for _, p := range r.transfers {
		transfers = append(transfers, p)
	}
	cascades := make([]string, 0, len(r.cascades))
	for id := range r.cascades {
		cascades = append(cascades, id)
	}
	r.mu.Unlock()

	for _, p := range transfers {
		if ctx.Err() != nil {
			break
		}
		r.reconcileTransfer(ctx, p)
	}
	for _, id := range cascades {
		if ctx.Err() != nil {
			break
		}
		r.reconcileCascade(ctx, id)
	}

	t, c := r.Pending()
	return t + c
}

// reconcileTransfer 補完單筆轉帳
func (r *Reconciler) reconcileTransfer(ctx context.Context, p *pendingTransfer) {
	t := p.transfer

	// 1. 先確認扣款是否真的存在；不存在代表從未扣款 (或轉出帳戶已連同紀錄刪除)
	var debit *domain.Transaction
	err := r.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		debit, err = r.store.FindTransaction(ctx, t.DebitID)
		return err
	})
	if err != nil {
		r.keep(p, err)
		return
	}
	if debit == nil {
		r.logger.Info("debit never landed, dropping transfer", zap.String("transfer_id", t.ID.String()))
		r.forgetTransfer(t.ID)
		return
	}

	// 2. 在轉入帳戶通道上補入帳
	err = r.seq.Do(ctx, t.To, func(ctx context.Context) error {
		return r.applyCredit(ctx, t)
	})
	if err == nil {
		r.forgetTransfer(t.ID)
		r.events.publish(ctx, domain.NewTransferEvent(domain.EventTransferReconciled, t, domain.TransferStateCompleted, ""))
		return
	}
	if !errors.Is(err, domain.ErrAccountNotFound) {
		r.keep(p, err)
		return
	}

	// 3. 轉入帳戶已不存在：退回扣款
	err = r.seq.Do(ctx, t.From, func(ctx context.Context) error {
		return r.applyRefund(ctx, t)
	})
	if err != nil {
		r.keep(p, err)
		return
	}
	r.forgetTransfer(t.ID)
	r.events.publish(ctx, domain.NewTransferEvent(domain.EventTransferReversed, t, domain.TransferStateRejected, "destination account closed"))
}

// applyCredit 寫入入帳腳位；必須在轉入帳戶的通道上呼叫
// 轉入帳戶不存在時回傳 domain.ErrAccountNotFound
func (r *Reconciler) applyCredit(ctx context.Context, t *domain.Transfer) error {
	return r.retry.Do(ctx, func(ctx context.Context) error {
		if _, err := r.store.FindAccount(ctx, t.To); err != nil {
			return err
		}
		return r.store.SaveTransaction(ctx, t.Credit())
	})
}

// applyRefund 寫入退款腳位；必須在轉出帳戶的通道上呼叫
// 轉出帳戶也已關閉時，扣款已隨帳戶刪除，不需退款
func (r *Reconciler) applyRefund(ctx context.Context, t *domain.Transfer) error {
	return r.retry.Do(ctx, func(ctx context.Context) error {
		if _, err := r.store.FindAccount(ctx, t.From); err != nil {
			if errors.Is(err, domain.ErrAccountNotFound) {
				return nil
			}
			return err
		}
		return r.store.SaveTransaction(ctx, t.Refund())
	})
}

func (r *Reconciler) reconcileCascade(ctx context.Context, accountID string) {
	err := r.seq.Do(ctx, accountID, func(ctx context.Context) error {
		return r.runCascade(ctx, accountID)
	})
	if err != nil {
		r.mu.Lock()
		if _, ok := r.cascades[accountID]; ok {
			r.cascades[accountID]++
		}
		r.mu.Unlock()
		r.logger.Warn("cascade delete still failing", zap.String("account_id", accountID), zap.Error(err))
	}
}

// runCascade 刪除帳戶所有交易紀錄並清除待辦；必須在該帳戶的通道上呼叫
func (r *Reconciler) runCascade(ctx context.Context, accountID string) error {
	if !r.HasPendingCascade(accountID) {
		return nil
	}
	err := r.retry.Do(ctx, func(ctx context.Context) error {
		return r.store.DeleteTransactionsByAccount(ctx, accountID)
	})
	if err != nil {
		return fmt.Errorf("cascade delete %s: %w", accountID, err)
	}
	r.mu.Lock()
	delete(r.cascades, accountID)
	r.mu.Unlock()
	r.events.publish(ctx, domain.NewAccountEvent(domain.EventAccountCascadeCompleted, accountID, decimal.Zero, ""))
	return nil
}

func (r *Reconciler) keep(p *pendingTransfer, err error) {
	r.mu.Lock()
	p.attempts++
	p.lastErr = err
	attempts := p.attempts
	r.mu.Unlock()
	r.logger.Warn("transfer still inconsistent",
		zap.String("transfer_id", p.transfer.ID.String()),
		zap.Int("attempts", attempts),
		zap.Error(err),
	)
}

func (r *Reconciler) forgetTransfer(id uuid.UUID) {
	r.mu.Lock()
	delete(r.transfers, id)
	r.mu.Unlock()
}
