package grpc

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
)

// errorDomain ErrorInfo.Domain，用來辨識是否為帳本自己的錯誤
const errorDomain = "ledger.v1"

// errorTable 錯誤分類與 gRPC 狀態碼的對應
// 同一個狀態碼可能對應多個錯誤，以 ErrorInfo.Reason 區分
var errorTable = []struct {
	err    error
	code   codes.Code
	reason string
}{
	{domain.ErrAccountNotFound, codes.NotFound, "ACCOUNT_NOT_FOUND"},
	{domain.ErrCustomerNotFound, codes.NotFound, "CUSTOMER_NOT_FOUND"},
	{domain.ErrNoActiveLoans, codes.NotFound, "NO_ACTIVE_LOANS"},
	{domain.ErrLoanNotFound, codes.NotFound, "LOAN_NOT_FOUND"},
	{domain.ErrDuplicateAccount, codes.AlreadyExists, "DUPLICATE_ACCOUNT"},
	{domain.ErrInvalidAccountID, codes.InvalidArgument, "INVALID_ACCOUNT_ID"},
	{domain.ErrInvalidAmount, codes.InvalidArgument, "INVALID_AMOUNT"},
	{domain.ErrInvalidRequest, codes.InvalidArgument, "INVALID_REQUEST"},
	{domain.ErrSameAccount, codes.InvalidArgument, "SAME_ACCOUNT"},
	{domain.ErrInsufficientFunds, codes.FailedPrecondition, "INSUFFICIENT_FUNDS"},
	{domain.ErrInconsistent, codes.Aborted, "INCONSISTENT"},
	{domain.ErrStoreUnavailable, codes.Unavailable, "STORE_UNAVAILABLE"},
}

// toStatus 把帳本錯誤轉成 gRPC status
//
// 參數:
//
//	err: usecase 回傳的錯誤
//	metadata: 附在 ErrorInfo 的額外資訊 (例如轉帳 ID)，可為 nil
//
// 回傳值:
//
//	error: *status.Status 形式的錯誤
func toStatus(err error, metadata map[string]string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return status.FromContextError(err).Err()
	}
	for _, e := range errorTable {
		if !errors.Is(err, e.err) {
			continue
		}
		st := status.New(e.code, err.Error())
		if detailed, derr := st.WithDetails(&errdetails.ErrorInfo{
			Reason:   e.reason,
			Domain:   errorDomain,
			Metadata: metadata,
		}); derr == nil {
			st = detailed
		}
		return st.Err()
	}
	return status.Error(codes.Internal, err.Error())
}

// FromStatus 把 gRPC 錯誤還原成帳本錯誤，可用 errors.Is 判斷
// 非帳本錯誤 (例如連線失敗) 原樣回傳
func FromStatus(err error) error {
	_, err = fromStatus(err)
	return err
}

// fromStatus 同 FromStatus，另外回傳 ErrorInfo 的 metadata
func fromStatus(err error) (map[string]string, error) {
	if err == nil {
		return nil, nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return nil, err
	}
	for _, d := range st.Details() {
		info, ok := d.(*errdetails.ErrorInfo)
		if !ok || info.GetDomain() != errorDomain {
			continue
		}
		for _, e := range errorTable {
			if e.reason != info.GetReason() {
				continue
			}
			if st.Message() == e.err.Error() {
				return info.GetMetadata(), e.err
			}
			return info.GetMetadata(), fmt.Errorf("%w: %s", e.err, st.Message())
		}
	}
	switch st.Code() {
	case codes.Canceled:
		return nil, fmt.Errorf("%w: %s", context.Canceled, st.Message())
	case codes.DeadlineExceeded:
		return nil, fmt.Errorf("%w: %s", context.DeadlineExceeded, st.Message())
	}
	return nil, err
}
