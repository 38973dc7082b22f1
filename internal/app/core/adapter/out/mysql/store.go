package mysql

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"iter"
	"net"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-bank-ledger/pkg/mysql"
)

// sqlAccount 對應資料庫的 accounts 表
type sqlAccount struct {
	ID        string `gorm:"primaryKey;size:64"`
	Metadata  string `gorm:"size:255"`
	UpdatedAt int64  `gorm:"autoUpdateTime:milli"` // 自動更新時間
}

func (*sqlAccount) TableName() string {
	return "accounts"
}

// sqlTransaction 對應資料庫的 transactions 表 (只新增、不更新)
type sqlTransaction struct {
	ID         string          `gorm:"primaryKey;size:36"`
	AccountID  string          `gorm:"size:64;index:idx_tx_account_created,priority:1"`
	Amount     decimal.Decimal `gorm:"type:decimal(20,4)"` // 小數位數 = domain.AmountScale
	TransferID string          `gorm:"size:36;index"`
	Kind       string          `gorm:"size:16"`
	CreatedAt  int64           `gorm:"index:idx_tx_account_created,priority:2"` // UnixNano，維持寫入順序
}

func (*sqlTransaction) TableName() string {
	return "transactions"
}

type sqlProfile struct {
	CustomerID string `gorm:"primaryKey;size:36"`
	Name       string `gorm:"size:255"`
	Email      string `gorm:"size:255"`
	AccountID  string `gorm:"size:64;index"`
}

func (*sqlProfile) TableName() string {
	return "customer_profiles"
}

type sqlLoan struct {
	LoanID       string          `gorm:"primaryKey;size:64"`
	Balance      decimal.Decimal `gorm:"type:decimal(20,4)"`
	InterestRate decimal.Decimal `gorm:"type:decimal(10,6)"`
	CustomerID   string          `gorm:"size:36;index"`
}

func (*sqlLoan) TableName() string {
	return "loans"
}

// Store 以 GORM 實作帳本儲存層
type Store struct {
	client *mysql.Client
}

var (
	_ usecase.Store               = (*Store)(nil)
	_ usecase.ConditionalAppender = (*Store)(nil)
	_ usecase.ReadModelStore      = (*Store)(nil)
)

func NewStore(client *mysql.Client) *Store {
	return &Store{client: client}
}

// Migrate 建立或更新資料表
func (s *Store) Migrate(ctx context.Context) error {
	return s.db(ctx).AutoMigrate(&sqlAccount{}, &sqlTransaction{}, &sqlProfile{}, &sqlLoan{})
}

func (s *Store) db(ctx context.Context) *gorm.DB {
	return s.client.DB().WithContext(ctx)
}

func (s *Store) SaveAccount(ctx context.Context, account *domain.Account) error {
	row := sqlAccount{ID: account.ID, Metadata: account.Metadata}
	return classify(s.db(ctx).Save(&row).Error)
}

func (s *Store) FindAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	var row sqlAccount
	err := s.db(ctx).Where("id = ?", accountID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrAccountNotFound
	}
	if err != nil {
		return nil, classify(err)
	}
	return &domain.Account{ID: row.ID, Metadata: row.Metadata}, nil
}

func (s *Store) DeleteAccount(ctx context.Context, accountID string) error {
	return classify(s.db(ctx).Where("id = ?", accountID).Delete(&sqlAccount{}).Error)
}

// SaveTransaction 同 ID 已存在時不做任何事 (冪等)
func (s *Store) SaveTransaction(ctx context.Context, tx *domain.Transaction) error {
	row := toSQLTransaction(tx)
	return classify(s.db(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error)
}

// AppendIfCovered 在同一個資料庫交易中鎖住帳戶列、加總餘額、寫入扣款
func (s *Store) AppendIfCovered(ctx context.Context, tx *domain.Transaction, need decimal.Decimal) error {
	err := s.db(ctx).Transaction(func(db *gorm.DB) error {
		// 取得帳戶鎖 悲觀鎖
		var account sqlAccount
		err := db.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", tx.AccountID).
			First(&account).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrAccountNotFound
		}
		if err != nil {
			return err
		}

		// 先檢查是否有這筆交易記錄
		var count int64
		if err := db.Model(&sqlTransaction{}).Where("id = ?", tx.ID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return nil
		}

		var balance decimal.NullDecimal
		if err := db.Model(&sqlTransaction{}).
			Select("SUM(amount)").
			Where("account_id = ?", tx.AccountID).
			Row().Scan(&balance); err != nil {
			return err
		}
		if balance.Decimal.LessThan(need) {
			return domain.ErrInsufficientFunds
		}

		row := toSQLTransaction(tx)
		return db.Create(&row).Error
	})
	return classify(err)
}

func (s *Store) FindTransaction(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	var row sqlTransaction
	err := s.db(ctx).Where("id = ?", transactionID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err)
	}
	return row.toDomain(), nil
}

// TransactionsByAccount 以資料庫游標逐筆讀取，不一次載入全部
func (s *Store) TransactionsByAccount(ctx context.Context, accountID string) iter.Seq2[*domain.Transaction, error] {
	return func(yield func(*domain.Transaction, error) bool) {
		db := s.db(ctx)
		rows, err := db.Model(&sqlTransaction{}).
			Where("account_id = ?", accountID).
			Order("created_at, id").
			Rows()
		if err != nil {
			yield(nil, classify(err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var row sqlTransaction
			if err := db.ScanRows(rows, &row); err != nil {
				yield(nil, classify(err))
				return
			}
			if !yield(row.toDomain(), nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, classify(err))
		}
	}
}

func (s *Store) DeleteTransactionsByAccount(ctx context.Context, accountID string) error {
	return classify(s.db(ctx).Where("account_id = ?", accountID).Delete(&sqlTransaction{}).Error)
}

func (s *Store) SaveProfile(ctx context.Context, profile *domain.CustomerProfile) error {
	row := sqlProfile(*profile)
	return classify(s.db(ctx).Save(&row).Error)
}

func (s *Store) FindProfileByAccount(ctx context.Context, accountID string) (*domain.CustomerProfile, error) {
	return s.findProfile(ctx, "account_id = ?", accountID)
}

func (s *Store) FindProfile(ctx context.Context, customerID string) (*domain.CustomerProfile, error) {
	return s.findProfile(ctx, "customer_id = ?", customerID)
}

func (s *Store) findProfile(ctx context.Context, query string, arg string) (*domain.CustomerProfile, error) {
	var row sqlProfile
	err := s.db(ctx).Where(query, arg).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrCustomerNotFound
	}
	if err != nil {
		return nil, classify(err)
	}
	p := domain.CustomerProfile(row)
	return &p, nil
}

func (s *Store) SaveLoan(ctx context.Context, loan *domain.Loan) error {
	row := sqlLoan(*loan)
	return classify(s.db(ctx).Save(&row).Error)
}

func (s *Store) LoansByCustomer(ctx context.Context, customerID string) ([]domain.Loan, error) {
	var rows []sqlLoan
	if err := s.db(ctx).Where("customer_id = ?", customerID).Order("loan_id").Find(&rows).Error; err != nil {
		return nil, classify(err)
	}
	loans := make([]domain.Loan, 0, len(rows))
	for _, row := range rows {
		loans = append(loans, domain.Loan(row))
	}
	return loans, nil
}

func (s *Store) FindLoan(ctx context.Context, loanID string) (*domain.Loan, error) {
	var row sqlLoan
	err := s.db(ctx).Where("loan_id = ?", loanID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrLoanNotFound
	}
	if err != nil {
		return nil, classify(err)
	}
	loan := domain.Loan(row)
	return &loan, nil
}

func toSQLTransaction(tx *domain.Transaction) sqlTransaction {
	return sqlTransaction{
		ID:         tx.ID,
		AccountID:  tx.AccountID,
		Amount:     tx.Amount,
		TransferID: tx.TransferID,
		Kind:       string(tx.Kind),
		CreatedAt:  tx.CreatedAt.UnixNano(),
	}
}

func (row *sqlTransaction) toDomain() *domain.Transaction {
	return &domain.Transaction{
		ID:         row.ID,
		AccountID:  row.AccountID,
		Amount:     row.Amount,
		TransferID: row.TransferID,
		Kind:       domain.TransactionKind(row.Kind),
		CreatedAt:  time.Unix(0, row.CreatedAt).UTC(),
	}
}

// MySQL 可重試的錯誤碼
const (
	errLockWaitTimeout = 1205
	errDeadlock        = 1213
)

// classify 把連線類、逾時、鎖衝突錯誤歸類為 domain.ErrStoreUnavailable
// 業務錯誤原樣回傳
func classify(err error) error {
	if err == nil {
		return nil
	}
	if domain.IsTerminal(err) || errors.Is(err, domain.ErrStoreUnavailable) {
		return err
	}

	var netErr net.Error
	var myErr *mysqldriver.MySQLError
	switch {
	case errors.Is(err, driver.ErrBadConn),
		errors.Is(err, mysqldriver.ErrInvalidConn),
		errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr):
		return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	case errors.As(err, &myErr) && (myErr.Number == errLockWaitTimeout || myErr.Number == errDeadlock):
		return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	return err
}
