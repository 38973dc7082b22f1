package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
)

// errorBody 錯誤回應格式
type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// errorTable 錯誤分類與 HTTP 狀態碼的對應
var errorTable = []struct {
	err    error
	status int
	code   string
}{
	{domain.ErrAccountNotFound, http.StatusNotFound, "ACCOUNT_NOT_FOUND"},
	{domain.ErrCustomerNotFound, http.StatusNotFound, "CUSTOMER_NOT_FOUND"},
	{domain.ErrNoActiveLoans, http.StatusNotFound, "NO_ACTIVE_LOANS"},
	{domain.ErrLoanNotFound, http.StatusNotFound, "LOAN_NOT_FOUND"},
	{domain.ErrDuplicateAccount, http.StatusConflict, "DUPLICATE_ACCOUNT"},
	{domain.ErrInvalidAccountID, http.StatusBadRequest, "INVALID_ACCOUNT_ID"},
	{domain.ErrInvalidAmount, http.StatusBadRequest, "INVALID_AMOUNT"},
	{domain.ErrInvalidRequest, http.StatusBadRequest, "INVALID_REQUEST"},
	{domain.ErrSameAccount, http.StatusBadRequest, "SAME_ACCOUNT"},
	{domain.ErrInsufficientFunds, http.StatusUnprocessableEntity, "INSUFFICIENT_FUNDS"},
	// 扣款已寫入但入帳未確認，不能回 2xx
	{domain.ErrInconsistent, http.StatusConflict, "INCONSISTENT"},
	{domain.ErrStoreUnavailable, http.StatusServiceUnavailable, "STORE_UNAVAILABLE"},
	{context.DeadlineExceeded, http.StatusGatewayTimeout, "TIMEOUT"},
	{context.Canceled, statusClientClosedRequest, "CANCELED"},
}

// statusClientClosedRequest 呼叫端已斷線 (nginx 慣例)
const statusClientClosedRequest = 499

func statusOf(err error) (int, string) {
	for _, e := range errorTable {
		if errors.Is(err, e.err) {
			return e.status, e.code
		}
	}
	return http.StatusInternalServerError, "INTERNAL"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status, code := statusOf(err)
	writeJSON(w, status, errorBody{Error: err.Error(), Code: code})
}
