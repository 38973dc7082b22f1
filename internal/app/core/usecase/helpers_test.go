package usecase_test

import (
	"context"
	"iter"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/adapter/out/event"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/adapter/out/memory"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/usecase"
)

// flakyStore 在記憶體儲存層外加上可控的故障
//
// 操作名稱:
//
//	save_account / delete_account / delete_txs / find_tx
//	save_tx:<kind> (例如 save_tx:credit)
type flakyStore struct {
	*memory.Store

	mu       sync.Mutex
	failures map[string]int
	gates    map[string]chan struct{}
	entered  map[string]chan struct{}
}

func newFlakyStore(t *testing.T) *flakyStore {
	t.Helper()
	s, err := memory.NewStore(nil)
	require.NoError(t, err)
	return &flakyStore{
		Store:    s,
		failures: make(map[string]int),
		gates:    make(map[string]chan struct{}),
		entered:  make(map[string]chan struct{}),
	}
}

// fail 讓 op 接下來 n 次回傳 domain.ErrStoreUnavailable
func (f *flakyStore) fail(op string, n int) {
	f.mu.Lock()
	f.failures[op] = n
	f.mu.Unlock()
}

func (f *flakyStore) heal() {
	f.mu.Lock()
	f.failures = make(map[string]int)
	f.mu.Unlock()
}

// block 讓 op 在 release 之前停住；回傳的 channel 在第一次停住時關閉
func (f *flakyStore) block(op string) (entered <-chan struct{}, release func()) {
	gate := make(chan struct{})
	in := make(chan struct{})
	f.mu.Lock()
	f.gates[op] = gate
	f.entered[op] = in
	f.mu.Unlock()
	var once sync.Once
	return in, func() { once.Do(func() { close(gate) }) }
}

func (f *flakyStore) check(ctx context.Context, op string) error {
	f.mu.Lock()
	gate := f.gates[op]
	in := f.entered[op]
	if in != nil {
		delete(f.entered, op)
	}
	n := f.failures[op]
	if n > 0 {
		f.failures[op] = n - 1
	}
	f.mu.Unlock()

	if gate != nil {
		if in != nil {
			close(in)
		}
		<-gate
	}
	if n > 0 {
		return domain.ErrStoreUnavailable
	}
	return nil
}

func (f *flakyStore) SaveAccount(ctx context.Context, a *domain.Account) error {
	if err := f.check(ctx, "save_account"); err != nil {
		return err
	}
	return f.Store.SaveAccount(ctx, a)
}

func (f *flakyStore) DeleteAccount(ctx context.Context, id string) error {
	if err := f.check(ctx, "delete_account"); err != nil {
		return err
	}
	return f.Store.DeleteAccount(ctx, id)
}

func (f *flakyStore) SaveTransaction(ctx context.Context, tx *domain.Transaction) error {
	if err := f.check(ctx, "save_tx:"+string(tx.Kind)); err != nil {
		return err
	}
	return f.Store.SaveTransaction(ctx, tx)
}

func (f *flakyStore) AppendIfCovered(ctx context.Context, tx *domain.Transaction, need decimal.Decimal) error {
	if err := f.check(ctx, "save_tx:"+string(tx.Kind)); err != nil {
		return err
	}
	return f.Store.AppendIfCovered(ctx, tx, need)
}

func (f *flakyStore) FindTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	if err := f.check(ctx, "find_tx"); err != nil {
		return nil, err
	}
	return f.Store.FindTransaction(ctx, id)
}

func (f *flakyStore) DeleteTransactionsByAccount(ctx context.Context, id string) error {
	if err := f.check(ctx, "delete_txs"); err != nil {
		return err
	}
	return f.Store.DeleteTransactionsByAccount(ctx, id)
}

// lanesOnlyStore 只暴露 usecase.Store，隱藏 AppendIfCovered，
// 讀取交易時稍作停頓，放大「檢查後寫入」之間的空隙
type lanesOnlyStore struct {
	usecase.Store
}

func (s lanesOnlyStore) TransactionsByAccount(ctx context.Context, accountID string) iter.Seq2[*domain.Transaction, error] {
	time.Sleep(time.Millisecond)
	return s.Store.TransactionsByAccount(ctx, accountID)
}

type harness struct {
	store  *flakyStore
	events *event.Recorder
	core   *usecase.CoreUseCase
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := newFlakyStore(t)
	return newHarnessWith(t, store, store)
}

// newHarnessWith 讓核心使用 ledger 作為帳本儲存層，flaky 仍用於直接檢查資料
func newHarnessWith(t *testing.T, store *flakyStore, ledger usecase.Store) *harness {
	t.Helper()
	rec := event.NewRecorder()
	core := usecase.NewCoreUseCase(ledger, store, rec, zaptest.NewLogger(t), usecase.Options{
		LaneBuffer: 16,
		Retry: usecase.RetryPolicy{
			Attempts:       3,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     5 * time.Millisecond,
		},
		// 測試中手動呼叫 RunOnce
		ReconcileInterval: time.Hour,
	})
	t.Cleanup(core.Close)
	return &harness{store: store, events: rec, core: core}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func (h *harness) open(t *testing.T, id, amount string) {
	t.Helper()
	_, err := h.core.CreateAccount(context.Background(), id, dec(amount))
	require.NoError(t, err)
}

func (h *harness) balance(t *testing.T, id string) decimal.Decimal {
	t.Helper()
	b, err := h.core.GetBalance(context.Background(), id)
	require.NoError(t, err)
	return b
}

func (h *harness) amounts(t *testing.T, id string) []string {
	t.Helper()
	txs, err := h.core.ListTransactions(context.Background(), id)
	require.NoError(t, err)
	out := make([]string, 0, len(txs))
	for _, tx := range txs {
		out = append(out, tx.Amount.StringFixed(2))
	}
	return out
}
