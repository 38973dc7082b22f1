package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/usecase"
)

// amountField 金額欄位；解析失敗回報為 domain.ErrInvalidAmount，而不是請求格式錯誤
type amountField struct {
	decimal.Decimal
}

func (a *amountField) UnmarshalJSON(b []byte) error {
	if err := a.Decimal.UnmarshalJSON(b); err != nil {
		return errors.Join(domain.ErrInvalidAmount, err)
	}
	return nil
}

type transferRequest struct {
	FromAccount string      `json:"fromAccount"`
	ToAccount   string      `json:"toAccount"`
	Amount      amountField `json:"amount"`
}

type createAccountRequest struct {
	AccountID      string      `json:"accountId"`
	InitialBalance amountField `json:"initialBalance"`
}

type updateAccountRequest struct {
	AccountID string `json:"accountId"`
	NewData   string `json:"newData"`
}

type messageResponse struct {
	Message   string `json:"message"`
	AccountID string `json:"account_id,omitempty"`
}

type balanceResponse struct {
	AccountID string          `json:"account_id"`
	Balance   decimal.Decimal `json:"balance"`
}

type transferResponse struct {
	*domain.TransferResult
	State string `json:"state"`
	Error string `json:"error,omitempty"`
	Code  string `json:"code,omitempty"`
}

type loanStatusResponse struct {
	LoanID string `json:"loan_id"`
	Status string `json:"status"`
}

// Handler 把 REST 請求轉給帳本核心
type Handler struct {
	ledger usecase.Ledger
}

func NewHandler(ledger usecase.Ledger) *Handler {
	return &Handler{ledger: ledger}
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	err := dec.Decode(v)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrInvalidAmount):
		return err
	}
	return errors.Join(domain.ErrInvalidRequest, fmt.Errorf("invalid request body: %w", err))
}

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountId")
	balance, err := h.ledger.GetBalance(r.Context(), accountID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{AccountID: accountID, Balance: balance})
}

// Transfer 入帳未確認時回 409，body 仍帶轉帳 ID 與狀態供追蹤
func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	result, err := h.ledger.Transfer(r.Context(), req.FromAccount, req.ToAccount, req.Amount.Decimal)
	if err != nil && result == nil {
		writeError(w, err)
		return
	}
	resp := transferResponse{TransferResult: result, State: result.State.String()}
	status := http.StatusOK
	if err != nil {
		status, resp.Code = statusOf(err)
		resp.Error = err.Error()
	}
	writeJSON(w, status, resp)
}

func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := h.ledger.ListTransactions(r.Context(), chi.URLParam(r, "accountId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, txs)
}

func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	ref, err := h.ledger.CreateAccount(r.Context(), req.AccountID, req.InitialBalance.Decimal)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ref)
}

func (h *Handler) CloseAccount(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountId")
	if err := h.ledger.CloseAccount(r.Context(), accountID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "account closed", AccountID: accountID})
}

func (h *Handler) UpdateAccount(w http.ResponseWriter, r *http.Request) {
	var req updateAccountRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.ledger.UpdateAccount(r.Context(), req.AccountID, req.NewData); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "account updated", AccountID: req.AccountID})
}

func (h *Handler) GetCustomerProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := h.ledger.GetCustomerProfile(r.Context(), chi.URLParam(r, "accountId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (h *Handler) GetActiveLoans(w http.ResponseWriter, r *http.Request) {
	loans, err := h.ledger.GetActiveLoans(r.Context(), chi.URLParam(r, "customerId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loans)
}

func (h *Handler) SimulateInterest(w http.ResponseWriter, r *http.Request) {
	points, err := h.ledger.SimulateInterest(r.Context(), chi.URLParam(r, "accountId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, points)
}

func (h *Handler) GetLoanStatus(w http.ResponseWriter, r *http.Request) {
	loanID := chi.URLParam(r, "loanId")
	status, err := h.ledger.GetLoanStatus(r.Context(), loanID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loanStatusResponse{LoanID: loanID, Status: status})
}
