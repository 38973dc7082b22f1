package postgres

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/usecase"
)

// schema 建表語句，金額以 NUMERIC 保存
// seq 只用來維持同一帳戶交易的寫入順序
const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id         VARCHAR(64) PRIMARY KEY,
	metadata   TEXT NOT NULL DEFAULT '',
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS transactions (
	seq         BIGSERIAL,
	id          VARCHAR(36) PRIMARY KEY,
	account_id  VARCHAR(64) NOT NULL,
	amount      NUMERIC(20,4) NOT NULL, -- scale = domain.AmountScale
	transfer_id VARCHAR(36) NOT NULL DEFAULT '',
	kind        VARCHAR(16) NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transactions_account ON transactions (account_id, seq);

CREATE TABLE IF NOT EXISTS customer_profiles (
	customer_id VARCHAR(36) PRIMARY KEY,
	name        TEXT NOT NULL,
	email       TEXT NOT NULL,
	account_id  VARCHAR(64) NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_customer_profiles_account ON customer_profiles (account_id);

CREATE TABLE IF NOT EXISTS loans (
	loan_id       VARCHAR(64) PRIMARY KEY,
	balance       NUMERIC(20,4) NOT NULL,
	interest_rate NUMERIC(10,6) NOT NULL,
	customer_id   VARCHAR(36) NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_loans_customer ON loans (customer_id);
`

const selectTransaction = `
	SELECT id, account_id, amount::text, transfer_id, kind, created_at
	FROM transactions
`

// Store 以 pgx 連線池實作帳本儲存層
type Store struct {
	db *pgxpool.Pool
}

var (
	_ usecase.Store               = (*Store)(nil)
	_ usecase.ConditionalAppender = (*Store)(nil)
	_ usecase.ReadModelStore      = (*Store)(nil)
)

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// EnsureSchema 建立資料表 (可重複執行)
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure postgres schema: %w", classify(err))
	}
	return nil
}

func (s *Store) SaveAccount(ctx context.Context, account *domain.Account) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO accounts (id, metadata, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (id) DO UPDATE SET metadata = EXCLUDED.metadata, updated_at = now()
	`, account.ID, account.Metadata)
	return classify(err)
}

func (s *Store) FindAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	var account domain.Account
	err := s.db.QueryRow(ctx, `SELECT id, metadata FROM accounts WHERE id = $1`, accountID).
		Scan(&account.ID, &account.Metadata)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrAccountNotFound
	}
	if err != nil {
		return nil, classify(err)
	}
	return &account, nil
}

func (s *Store) DeleteAccount(ctx context.Context, accountID string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM accounts WHERE id = $1`, accountID)
	return classify(err)
}

// SaveTransaction 同 ID 已存在時不做任何事 (冪等)
func (s *Store) SaveTransaction(ctx context.Context, tx *domain.Transaction) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO transactions (id, account_id, amount, transfer_id, kind, created_at)
		VALUES ($1, $2, $3::numeric, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`, tx.ID, tx.AccountID, tx.Amount.String(), tx.TransferID, string(tx.Kind), tx.CreatedAt)
	return classify(err)
}

// AppendIfCovered 在同一個資料庫交易中鎖住帳戶列、加總餘額、寫入扣款
func (s *Store) AppendIfCovered(ctx context.Context, tx *domain.Transaction, need decimal.Decimal) error {
	dbTx, err := s.db.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return classify(err)
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	var id string
	err = dbTx.QueryRow(ctx, `SELECT id FROM accounts WHERE id = $1 FOR UPDATE`, tx.AccountID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrAccountNotFound
	}
	if err != nil {
		return classify(err)
	}

	var exists bool
	if err := dbTx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM transactions WHERE id = $1)`, tx.ID).Scan(&exists); err != nil {
		return classify(err)
	}
	if exists {
		return nil
	}

	var raw string
	if err := dbTx.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0)::text FROM transactions WHERE account_id = $1`,
		tx.AccountID,
	).Scan(&raw); err != nil {
		return classify(err)
	}
	balance, err := decimal.NewFromString(raw)
	if err != nil {
		return fmt.Errorf("parse balance %q: %w", raw, err)
	}
	if balance.LessThan(need) {
		return domain.ErrInsufficientFunds
	}

	if _, err := dbTx.Exec(ctx, `
		INSERT INTO transactions (id, account_id, amount, transfer_id, kind, created_at)
		VALUES ($1, $2, $3::numeric, $4, $5, $6)
	`, tx.ID, tx.AccountID, tx.Amount.String(), tx.TransferID, string(tx.Kind), tx.CreatedAt); err != nil {
		return classify(err)
	}
	return classify(dbTx.Commit(ctx))
}

func (s *Store) FindTransaction(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	tx, err := scanTransaction(s.db.QueryRow(ctx, selectTransaction+` WHERE id = $1`, transactionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err)
	}
	return tx, nil
}

// TransactionsByAccount 逐列讀取，依寫入順序產生
func (s *Store) TransactionsByAccount(ctx context.Context, accountID string) iter.Seq2[*domain.Transaction, error] {
	return func(yield func(*domain.Transaction, error) bool) {
		rows, err := s.db.Query(ctx, selectTransaction+` WHERE account_id = $1 ORDER BY seq`, accountID)
		if err != nil {
			yield(nil, classify(err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			tx, err := scanTransaction(rows)
			if err != nil {
				yield(nil, classify(err))
				return
			}
			if !yield(tx, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, classify(err))
		}
	}
}

func (s *Store) DeleteTransactionsByAccount(ctx context.Context, accountID string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM transactions WHERE account_id = $1`, accountID)
	return classify(err)
}

func (s *Store) SaveProfile(ctx context.Context, profile *domain.CustomerProfile) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO customer_profiles (customer_id, name, email, account_id) VALUES ($1, $2, $3, $4)
		ON CONFLICT (customer_id) DO UPDATE
		SET name = EXCLUDED.name, email = EXCLUDED.email, account_id = EXCLUDED.account_id
	`, profile.CustomerID, profile.Name, profile.Email, profile.AccountID)
	return classify(err)
}

func (s *Store) FindProfileByAccount(ctx context.Context, accountID string) (*domain.CustomerProfile, error) {
	return s.findProfile(ctx, "account_id", accountID)
}

func (s *Store) FindProfile(ctx context.Context, customerID string) (*domain.CustomerProfile, error) {
	return s.findProfile(ctx, "customer_id", customerID)
}

// column 只會是固定的欄位名稱
func (s *Store) findProfile(ctx context.Context, column, value string) (*domain.CustomerProfile, error) {
	var p domain.CustomerProfile
	err := s.db.QueryRow(ctx,
		`SELECT customer_id, name, email, account_id FROM customer_profiles WHERE `+column+` = $1 LIMIT 1`,
		value,
	).Scan(&p.CustomerID, &p.Name, &p.Email, &p.AccountID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrCustomerNotFound
	}
	if err != nil {
		return nil, classify(err)
	}
	return &p, nil
}

func (s *Store) SaveLoan(ctx context.Context, loan *domain.Loan) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO loans (loan_id, balance, interest_rate, customer_id) VALUES ($1, $2::numeric, $3::numeric, $4)
		ON CONFLICT (loan_id) DO UPDATE
		SET balance = EXCLUDED.balance, interest_rate = EXCLUDED.interest_rate, customer_id = EXCLUDED.customer_id
	`, loan.LoanID, loan.Balance.String(), loan.InterestRate.String(), loan.CustomerID)
	return classify(err)
}

func (s *Store) LoansByCustomer(ctx context.Context, customerID string) ([]domain.Loan, error) {
	rows, err := s.db.Query(ctx, `
		SELECT loan_id, balance::text, interest_rate::text, customer_id
		FROM loans WHERE customer_id = $1 ORDER BY loan_id
	`, customerID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	loans := make([]domain.Loan, 0)
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			return nil, classify(err)
		}
		loans = append(loans, *loan)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return loans, nil
}

func (s *Store) FindLoan(ctx context.Context, loanID string) (*domain.Loan, error) {
	loan, err := scanLoan(s.db.QueryRow(ctx, `
		SELECT loan_id, balance::text, interest_rate::text, customer_id
		FROM loans WHERE loan_id = $1
	`, loanID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrLoanNotFound
	}
	if err != nil {
		return nil, classify(err)
	}
	return loan, nil
}

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var (
		tx     domain.Transaction
		amount string
		kind   string
	)
	if err := row.Scan(&tx.ID, &tx.AccountID, &amount, &tx.TransferID, &kind, &tx.CreatedAt); err != nil {
		return nil, err
	}
	var err error
	if tx.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	tx.Kind = domain.TransactionKind(kind)
	tx.CreatedAt = tx.CreatedAt.UTC()
	return &tx, nil
}

func scanLoan(row pgx.Row) (*domain.Loan, error) {
	var (
		loan          domain.Loan
		balance, rate string
	)
	if err := row.Scan(&loan.LoanID, &balance, &rate, &loan.CustomerID); err != nil {
		return nil, err
	}
	var err error
	if loan.Balance, err = decimal.NewFromString(balance); err != nil {
		return nil, fmt.Errorf("parse loan balance %q: %w", balance, err)
	}
	if loan.InterestRate, err = decimal.NewFromString(rate); err != nil {
		return nil, fmt.Errorf("parse interest rate %q: %w", rate, err)
	}
	return &loan, nil
}

// 可重試的 SQLSTATE
var retryableCodes = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"55P03": true, // lock_not_available
	"57P01": true, // admin_shutdown
	"57P03": true, // cannot_connect_now
	"53300": true, // too_many_connections
}

// classify 把連線類、逾時、鎖衝突錯誤歸類為 domain.ErrStoreUnavailable
func classify(err error) error {
	if err == nil {
		return nil
	}
	if domain.IsTerminal(err) || errors.Is(err, domain.ErrStoreUnavailable) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// 08xxx: connection exception
		if retryableCodes[pgErr.Code] || (len(pgErr.Code) == 5 && pgErr.Code[:2] == "08") {
			return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
		}
		return err
	}

	var netErr net.Error
	var connectErr *pgconn.ConnectError
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		pgconn.Timeout(err),
		pgconn.SafeToRetry(err),
		errors.As(err, &connectErr),
		errors.As(err, &netErr):
		return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	return err
}
