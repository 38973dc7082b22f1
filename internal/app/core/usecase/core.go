package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
)

// Options 帳本核心參數
type Options struct {
	LaneBuffer        int           `yaml:"lane_buffer"`
	Retry             RetryPolicy   `yaml:"retry"`
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`
	// InterestRate nil 時使用預設值；明確設為 0 表示不計息
	InterestRate      *float64      `yaml:"interest_rate"`
	SimulationYears   int           `yaml:"simulation_years"`
}

// Rate 方便以字面值設定 Options.InterestRate
func Rate(r float64) *float64 {
	return &r
}

func DefaultOptions() Options {
	return Options{
		LaneBuffer:        1024,
		Retry:             DefaultRetryPolicy(),
		ReconcileInterval: 5 * time.Second,
		InterestRate:      Rate(0.05),
		SimulationYears:   10,
	}
}

// CoreUseCase 是核心業務邏輯層 (Ledger Facade)
// 組合 Registry / Aggregator / Orchestrator，並把內部錯誤轉成對外的錯誤分類
type CoreUseCase struct {
	seq        *Sequencer
	balances   *BalanceAggregator
	registry   *AccountRegistry
	transfers  *TransferOrchestrator
	reconciler *Reconciler
	readModels ReadModelStore
	store      Store
	retry      RetryPolicy
	logger     *zap.Logger

	interestRate    decimal.Decimal
	simulationYears int
}

var _ Ledger = (*CoreUseCase)(nil)

// NewCoreUseCase 建立帳本核心
//
// 參數:
//
//	store: 帳戶與交易紀錄儲存層
//	readModels: 客戶/貸款唯讀模型，可為 nil (相關查詢回報找不到)
//	publisher: 事件發佈，可為 nil
//	logger: 日誌
//	opts: 參數，零值欄位使用預設值
func NewCoreUseCase(store Store, readModels ReadModelStore, publisher EventPublisher, logger *zap.Logger, opts Options) *CoreUseCase {
	def := DefaultOptions()
	if opts.LaneBuffer <= 0 {
		opts.LaneBuffer = def.LaneBuffer
	}
	if opts.Retry.Attempts <= 0 {
		opts.Retry = def.Retry
	}
	if opts.ReconcileInterval <= 0 {
		opts.ReconcileInterval = def.ReconcileInterval
	}
	if opts.InterestRate == nil {
		opts.InterestRate = def.InterestRate
	}
	if opts.SimulationYears <= 0 {
		opts.SimulationYears = def.SimulationYears
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	seq := NewSequencer(opts.LaneBuffer)
	balances := NewBalanceAggregator(store, store)
	reconciler := NewReconciler(store, seq, opts.Retry, publisher, logger, opts.ReconcileInterval)
	registry := NewAccountRegistry(store, seq, opts.Retry, reconciler, publisher, logger)
	transfers := NewTransferOrchestrator(store, seq, balances, registry, opts.Retry, reconciler, publisher, logger)

	return &CoreUseCase{
		seq:             seq,
		balances:        balances,
		registry:        registry,
		transfers:       transfers,
		reconciler:      reconciler,
		readModels:      readModels,
		store:           store,
		retry:           opts.Retry,
		logger:          logger,
		interestRate:    decimal.NewFromFloat(*opts.InterestRate),
		simulationYears: opts.SimulationYears,
	}
}

// Start 啟動背景對帳
func (c *CoreUseCase) Start(ctx context.Context) {
	c.reconciler.Start(ctx)
}

// Close 停止背景對帳與接受新工作，等待各帳戶通道 (含已交接的入帳) 做完
func (c *CoreUseCase) Close() {
	c.reconciler.Stop()
	c.seq.Close()
	if t, cs := c.reconciler.Pending(); t+cs > 0 {
		c.logger.Warn("shutting down with unreconciled work",
			zap.Int("transfers", t),
			zap.Int("cascades", cs),
		)
	}
}

// Reconciler 提供給維運工具查詢待補完數量
func (c *CoreUseCase) Reconciler() *Reconciler {
	return c.reconciler
}

// GetBalance 取得帳戶餘額
func (c *CoreUseCase) GetBalance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := c.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		balance, err = c.balances.Balance(ctx, accountID)
		return err
	})
	return balance, translate(err)
}

// Transfer 轉帳
func (c *CoreUseCase) Transfer(ctx context.Context, from, to string, amount decimal.Decimal) (*domain.TransferResult, error) {
	result, err := c.transfers.Transfer(ctx, from, to, amount)
	return result, translate(err)
}

// ListTransactions 列出帳戶交易紀錄；帳戶不存在或沒有紀錄時回傳空清單
func (c *CoreUseCase) ListTransactions(ctx context.Context, accountID string) ([]domain.Transaction, error) {
	list := []domain.Transaction{}
	err := c.retry.Do(ctx, func(ctx context.Context) error {
		list = list[:0]
		for tx, err := range c.store.TransactionsByAccount(ctx, accountID) {
			if err != nil {
				return err
			}
			list = append(list, *tx)
		}
		return nil
	})
	if err != nil {
		return nil, translate(err)
	}
	return list, nil
}

// CreateAccount 開戶，並盡力建立一筆預設客戶資料
func (c *CoreUseCase) CreateAccount(ctx context.Context, accountID string, initialBalance decimal.Decimal) (*domain.AccountRef, error) {
	ref, err := c.registry.CreateAccount(ctx, accountID, initialBalance)
	if err != nil {
		return nil, translate(err)
	}
	c.seedProfile(ctx, ref)
	return ref, nil
}

// CloseAccount 關閉帳戶
func (c *CoreUseCase) CloseAccount(ctx context.Context, accountID string) error {
	return translate(c.registry.CloseAccount(ctx, accountID))
}

// UpdateAccount 更新帳戶描述
func (c *CoreUseCase) UpdateAccount(ctx context.Context, accountID, metadata string) error {
	return translate(c.registry.UpdateAccount(ctx, accountID, metadata))
}

// translate 把內部錯誤轉成對外的錯誤分類
func translate(err error) error {
	if err == nil {
		return nil
	}
	var pe *PanicError
	switch {
	case errors.Is(err, ErrSequencerClosed):
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	case errors.As(err, &pe):
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return err
}
