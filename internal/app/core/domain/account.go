package domain

// Account 帳戶
// 帳戶本身不保存餘額，餘額一律由交易紀錄加總而來
type Account struct {
	ID       string `json:"account_id"`
	Metadata string `json:"metadata"`
}

// DefaultAccountMetadata 新開帳戶的預設描述
const DefaultAccountMetadata = "new account"

func NewAccount(id string) *Account {
	return &Account{
		ID:       id,
		Metadata: DefaultAccountMetadata,
	}
}

// AccountRef 開戶成功後回傳的參考資訊
type AccountRef struct {
	AccountID            string `json:"account_id"`
	OpeningTransactionID string `json:"opening_transaction_id"`
}
