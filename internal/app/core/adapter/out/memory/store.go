package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"slices"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-bank-ledger/pkg/wal"
)

// WAL 操作種類
const (
	opSaveAccount   = "save_account"
	opDeleteAccount = "delete_account"
	opSaveTx        = "save_tx"
	opDeleteTxs     = "delete_txs"
	opSaveProfile   = "save_profile"
	opSaveLoan      = "save_loan"
)

// Store 是一個使用 RWMutex 保護的記憶體儲存層
//
// 結構:
//
//	accounts: 帳戶資料 Map
//	transactions: 交易 ID -> 交易
//	byAccount: 帳戶 ID -> 交易 ID (依寫入順序)
//	profiles / loans: 唯讀模型
//	wal: Write-Ahead Log 實例 (可為 nil，純記憶體)
//
// 每個變更都先寫入 WAL 再套用到記憶體，啟動時依序重播
type Store struct {
	mu           sync.RWMutex
	accounts     map[string]domain.Account
	transactions map[string]domain.Transaction
	byAccount    map[string][]string
	profiles     map[string]domain.CustomerProfile
	loans        map[string]domain.Loan
	wal          *wal.WAL
}

var (
	_ usecase.Store               = (*Store)(nil)
	_ usecase.ConditionalAppender = (*Store)(nil)
	_ usecase.ReadModelStore      = (*Store)(nil)
)

// NewStore 建立記憶體儲存層
//
// 參數:
//
//	w: Write-Ahead Log 實例，nil 表示不落地
//
// 回傳:
//
//	*Store: Store 實例
//	error: WAL 恢復失敗
func NewStore(w *wal.WAL) (*Store, error) {
	s := &Store{
		accounts:     make(map[string]domain.Account),
		transactions: make(map[string]domain.Transaction),
		byAccount:    make(map[string][]string),
		profiles:     make(map[string]domain.CustomerProfile),
		loans:        make(map[string]domain.Loan),
		wal:          w,
	}
	if w != nil {
		if err := s.recoverFromWAL(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// recoverFromWAL 從 WAL 檔案恢復狀態
// 只有 NewStore 呼叫，無需 Lock (單執行緒)
func (s *Store) recoverFromWAL() error {
	return s.wal.Replay(func(rec wal.Record) error {
		if err := s.apply(rec.Op, rec.Data); err != nil {
			return fmt.Errorf("recover record %d (%s): %w", rec.Seq, rec.Op, err)
		}
		return nil
	})
}

// apply 把一筆操作套用到記憶體 (不寫入 WAL)
func (s *Store) apply(op string, data []byte) error {
	switch op {
	case opSaveAccount:
		var a domain.Account
		if err := json.Unmarshal(data, &a); err != nil {
			return err
		}
		s.accounts[a.ID] = a
	case opDeleteAccount:
		var id string
		if err := json.Unmarshal(data, &id); err != nil {
			return err
		}
		delete(s.accounts, id)
	case opSaveTx:
		var tx domain.Transaction
		if err := json.Unmarshal(data, &tx); err != nil {
			return err
		}
		s.putTransaction(tx)
	case opDeleteTxs:
		var id string
		if err := json.Unmarshal(data, &id); err != nil {
			return err
		}
		for _, txID := range s.byAccount[id] {
			delete(s.transactions, txID)
		}
		delete(s.byAccount, id)
	case opSaveProfile:
		var p domain.CustomerProfile
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		s.profiles[p.CustomerID] = p
	case opSaveLoan:
		var l domain.Loan
		if err := json.Unmarshal(data, &l); err != nil {
			return err
		}
		s.loans[l.LoanID] = l
	default:
		return fmt.Errorf("unknown op %q", op)
	}
	return nil
}

func (s *Store) putTransaction(tx domain.Transaction) {
	if _, ok := s.transactions[tx.ID]; ok {
		return
	}
	s.transactions[tx.ID] = tx
	s.byAccount[tx.AccountID] = append(s.byAccount[tx.AccountID], tx.ID)
}

// mutate 寫入 WAL 後套用；呼叫端需持有寫鎖
func (s *Store) mutate(op string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if s.wal != nil {
		// 1. 寫入 WAL (Critical Path)
		if err := s.wal.Append(op, json.RawMessage(data)); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
		}
	}
	// 2. 套用到記憶體
	return s.apply(op, data)
}

func (s *Store) SaveAccount(ctx context.Context, account *domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mutate(opSaveAccount, account)
}

func (s *Store) FindAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	return &a, nil
}

func (s *Store) DeleteAccount(ctx context.Context, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[accountID]; !ok {
		return nil
	}
	return s.mutate(opDeleteAccount, accountID)
}

// SaveTransaction 寫入交易；同 ID 已存在時不重複寫入
func (s *Store) SaveTransaction(ctx context.Context, tx *domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.transactions[tx.ID]; ok {
		return nil
	}
	return s.mutate(opSaveTx, tx)
}

// AppendIfCovered 餘額 >= need 才寫入 tx，檢查與寫入在同一把鎖內完成
func (s *Store) AppendIfCovered(ctx context.Context, tx *domain.Transaction, need decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.transactions[tx.ID]; ok {
		return nil
	}
	balance := decimal.Zero
	for _, id := range s.byAccount[tx.AccountID] {
		balance = balance.Add(s.transactions[id].Amount)
	}
	if balance.LessThan(need) {
		return domain.ErrInsufficientFunds
	}
	return s.mutate(opSaveTx, tx)
}

func (s *Store) FindTransaction(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.transactions[transactionID]
	if !ok {
		return nil, nil
	}
	return &tx, nil
}

// TransactionsByAccount 先在讀鎖內複製快照，再逐筆產生 (yield 期間不持有鎖)
func (s *Store) TransactionsByAccount(ctx context.Context, accountID string) iter.Seq2[*domain.Transaction, error] {
	return func(yield func(*domain.Transaction, error) bool) {
		s.mu.RLock()
		ids := s.byAccount[accountID]
		snapshot := make([]domain.Transaction, 0, len(ids))
		for _, id := range ids {
			snapshot = append(snapshot, s.transactions[id])
		}
		s.mu.RUnlock()

		for i := range snapshot {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			if !yield(&snapshot[i], nil) {
				return
			}
		}
	}
}

func (s *Store) DeleteTransactionsByAccount(ctx context.Context, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.byAccount[accountID]) == 0 {
		return nil
	}
	return s.mutate(opDeleteTxs, accountID)
}

func (s *Store) SaveProfile(ctx context.Context, profile *domain.CustomerProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mutate(opSaveProfile, profile)
}

func (s *Store) FindProfileByAccount(ctx context.Context, accountID string) (*domain.CustomerProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.profiles {
		if p.AccountID == accountID {
			return &p, nil
		}
	}
	return nil, domain.ErrCustomerNotFound
}

func (s *Store) FindProfile(ctx context.Context, customerID string) (*domain.CustomerProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[customerID]
	if !ok {
		return nil, domain.ErrCustomerNotFound
	}
	return &p, nil
}

func (s *Store) SaveLoan(ctx context.Context, loan *domain.Loan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mutate(opSaveLoan, loan)
}

func (s *Store) LoansByCustomer(ctx context.Context, customerID string) ([]domain.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var loans []domain.Loan
	for _, l := range s.loans {
		if l.CustomerID == customerID {
			loans = append(loans, l)
		}
	}
	slices.SortFunc(loans, func(a, b domain.Loan) int {
		return strings.Compare(a.LoanID, b.LoanID)
	})
	return loans, nil
}

func (s *Store) FindLoan(ctx context.Context, loanID string) (*domain.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.loans[loanID]
	if !ok {
		return nil, domain.ErrLoanNotFound
	}
	return &l, nil
}
