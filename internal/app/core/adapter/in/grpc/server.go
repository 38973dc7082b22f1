package grpc

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/usecase"
)

// ServiceName gRPC 服務全名
const ServiceName = "ledger.v1.LedgerService"

// LedgerServiceServer ledger.v1.LedgerService 的伺服器端介面
type LedgerServiceServer interface {
	GetBalance(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Transfer(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListTransactions(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CreateAccount(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CloseAccount(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UpdateAccount(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetCustomerProfile(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetActiveLoans(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SimulateInterest(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetLoanStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryMethod func(LedgerServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func method(name string, fn unaryMethod) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return fn(srv.(LedgerServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return fn(srv.(LedgerServiceServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// ServiceDesc ledger.v1.LedgerService 的服務描述
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LedgerServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		method("GetBalance", LedgerServiceServer.GetBalance),
		method("Transfer", LedgerServiceServer.Transfer),
		method("ListTransactions", LedgerServiceServer.ListTransactions),
		method("CreateAccount", LedgerServiceServer.CreateAccount),
		method("CloseAccount", LedgerServiceServer.CloseAccount),
		method("UpdateAccount", LedgerServiceServer.UpdateAccount),
		method("GetCustomerProfile", LedgerServiceServer.GetCustomerProfile),
		method("GetActiveLoans", LedgerServiceServer.GetActiveLoans),
		method("SimulateInterest", LedgerServiceServer.SimulateInterest),
		method("GetLoanStatus", LedgerServiceServer.GetLoanStatus),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "ledger/v1/ledger.proto",
}

// Register 把 LedgerServiceServer 註冊到 gRPC server
func Register(s grpc.ServiceRegistrar, srv LedgerServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// GrpcServer 把 gRPC 請求轉給帳本核心
type GrpcServer struct {
	ledger usecase.Ledger
}

var _ LedgerServiceServer = (*GrpcServer)(nil)

func NewGrpcServer(ledger usecase.Ledger) *GrpcServer {
	return &GrpcServer{
		ledger: ledger,
	}
}

// decode 解析請求；金額欄位解析失敗為 ErrInvalidAmount，其他格式錯誤為 ErrInvalidRequest
func decode(in *structpb.Struct, v any) error {
	err := fromStruct(in, v)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrInvalidAmount):
		return toStatus(err, nil)
	}
	return toStatus(errors.Join(domain.ErrInvalidRequest, err), nil)
}

func reply(v any) (*structpb.Struct, error) {
	out, err := toStruct(v)
	if err != nil {
		return nil, toStatus(err, nil)
	}
	return out, nil
}

func (s *GrpcServer) GetBalance(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req accountRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	balance, err := s.ledger.GetBalance(ctx, req.AccountID)
	if err != nil {
		return nil, toStatus(err, nil)
	}
	return reply(balanceReply{AccountID: req.AccountID, Balance: balance})
}

// Transfer 入帳未確認時回傳 Aborted，轉帳 ID 放在 ErrorInfo.Metadata
func (s *GrpcServer) Transfer(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req transferRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	result, err := s.ledger.Transfer(ctx, req.From, req.To, req.Amount.Decimal)
	if err != nil {
		var meta map[string]string
		if result != nil {
			meta = map[string]string{
				"transfer_id":           result.TransferID,
				"debit_transaction_id":  result.DebitID,
				"credit_transaction_id": result.CreditID,
				"state":                 result.State.String(),
			}
		}
		return nil, toStatus(err, meta)
	}
	return reply(transferReply{TransferResult: result, State: result.State.String()})
}

func (s *GrpcServer) ListTransactions(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req accountRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	txs, err := s.ledger.ListTransactions(ctx, req.AccountID)
	if err != nil {
		return nil, toStatus(err, nil)
	}
	return reply(transactionsReply{Transactions: txs})
}

func (s *GrpcServer) CreateAccount(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req createAccountRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	ref, err := s.ledger.CreateAccount(ctx, req.AccountID, req.InitialBalance.Decimal)
	if err != nil {
		return nil, toStatus(err, nil)
	}
	return reply(ref)
}

func (s *GrpcServer) CloseAccount(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req accountRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	if err := s.ledger.CloseAccount(ctx, req.AccountID); err != nil {
		return nil, toStatus(err, nil)
	}
	return reply(closeReply{AccountID: req.AccountID, Closed: true})
}

func (s *GrpcServer) UpdateAccount(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req updateAccountRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	if err := s.ledger.UpdateAccount(ctx, req.AccountID, req.Metadata); err != nil {
		return nil, toStatus(err, nil)
	}
	return reply(domain.Account{ID: req.AccountID, Metadata: req.Metadata})
}

func (s *GrpcServer) GetCustomerProfile(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req accountRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	profile, err := s.ledger.GetCustomerProfile(ctx, req.AccountID)
	if err != nil {
		return nil, toStatus(err, nil)
	}
	return reply(profile)
}

func (s *GrpcServer) GetActiveLoans(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req customerRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	loans, err := s.ledger.GetActiveLoans(ctx, req.CustomerID)
	if err != nil {
		return nil, toStatus(err, nil)
	}
	return reply(loansReply{Loans: loans})
}

func (s *GrpcServer) SimulateInterest(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req accountRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	points, err := s.ledger.SimulateInterest(ctx, req.AccountID)
	if err != nil {
		return nil, toStatus(err, nil)
	}
	return reply(interestReply{AccountID: req.AccountID, Points: points})
}

func (s *GrpcServer) GetLoanStatus(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req loanRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	st, err := s.ledger.GetLoanStatus(ctx, req.LoanID)
	if err != nil {
		return nil, toStatus(err, nil)
	}
	return reply(loanStatusReply{LoanID: req.LoanID, Status: st})
}
