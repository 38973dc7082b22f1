package domain

import "errors"

var (
	// ErrAccountNotFound 找不到帳戶
	ErrAccountNotFound = errors.New("account not found")

	// ErrDuplicateAccount 帳戶已存在
	ErrDuplicateAccount = errors.New("account already exists")

	// ErrInvalidAccountID 帳戶 ID 不合法 (空字串)
	ErrInvalidAccountID = errors.New("invalid account id")

	// ErrInvalidAmount 金額必須為正數 (開戶餘額不得為負)，且小數位數不得超過 AmountScale
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrInvalidRequest 請求格式錯誤 (欄位型別不符、未知欄位等)
	ErrInvalidRequest = errors.New("invalid request")

	// ErrSameAccount 轉出與轉入帳戶相同
	ErrSameAccount = errors.New("from and to account are the same")

	// ErrInsufficientFunds 餘額不足
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInconsistent 已扣款但入帳尚未確認，交由對帳流程補完
	ErrInconsistent = errors.New("transfer inconsistent: debit written, credit pending reconciliation")

	// ErrStoreUnavailable 儲存層暫時不可用，可重試
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrCustomerNotFound 找不到客戶資料
	ErrCustomerNotFound = errors.New("customer not found")

	// ErrNoActiveLoans 客戶沒有貸款
	ErrNoActiveLoans = errors.New("customer has no active loans")

	// ErrLoanNotFound 找不到貸款
	ErrLoanNotFound = errors.New("loan not found")
)

// IsTerminal 回報錯誤是否為不可重試的業務錯誤
func IsTerminal(err error) bool {
	switch {
	case errors.Is(err, ErrAccountNotFound),
		errors.Is(err, ErrDuplicateAccount),
		errors.Is(err, ErrInvalidAccountID),
		errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrInvalidRequest),
		errors.Is(err, ErrSameAccount),
		errors.Is(err, ErrInsufficientFunds):
		return true
	}
	return false
}

// IsRetryable 回報錯誤是否可以在步驟層級重試
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}
