package grpc

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/adapter/out/memory"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/usecase"
)

type fixture struct {
	client *Client
	store  *memory.Store
	logs   *observer.ObservedLogs
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := memory.NewStore(nil)
	require.NoError(t, err)
	core := usecase.NewCoreUseCase(store, store, nil, zaptest.NewLogger(t), usecase.Options{})
	t.Cleanup(core.Close)

	obsCore, logs := observer.New(zapcore.DebugLevel)
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(UnaryLoggingInterceptor(zap.New(obsCore))))
	Register(srv, NewGrpcServer(core))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return &fixture{client: NewClient(conn), store: store, logs: logs}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestLedgerOverGRPC(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ref, err := f.client.CreateAccount(ctx, "A1", dec("100"))
	require.NoError(t, err)
	assert.Equal(t, "A1", ref.AccountID)
	assert.NotEmpty(t, ref.OpeningTransactionID)
	_, err = f.client.CreateAccount(ctx, "A2", dec("50"))
	require.NoError(t, err)

	result, err := f.client.Transfer(ctx, "A1", "A2", dec("30.25"))
	require.NoError(t, err)
	assert.Equal(t, domain.TransferStateCompleted, result.State)
	assert.Equal(t, domain.TransferCompletedMessage, result.Message)
	assert.True(t, dec("30.25").Equal(result.Amount))

	b1, err := f.client.GetBalance(ctx, "A1")
	require.NoError(t, err)
	assert.Equal(t, "69.75", b1.StringFixed(2))
	b2, err := f.client.GetBalance(ctx, "A2")
	require.NoError(t, err)
	assert.Equal(t, "80.25", b2.StringFixed(2))

	txs, err := f.client.ListTransactions(ctx, "A1")
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, domain.TransactionKindOpening, txs[0].Kind)
	assert.Equal(t, "-30.25", txs[1].Amount.StringFixed(2))
	assert.Equal(t, result.TransferID, txs[1].TransferID)

	require.NoError(t, f.client.UpdateAccount(ctx, "A1", "vip"))

	profile, err := f.client.GetCustomerProfile(ctx, "A1")
	require.NoError(t, err)
	assert.Equal(t, "A1", profile.AccountID)

	require.NoError(t, f.store.SaveLoan(ctx, &domain.Loan{
		LoanID: "L1", Balance: dec("2500"), InterestRate: dec("0.035"), CustomerID: profile.CustomerID,
	}))
	loans, err := f.client.GetActiveLoans(ctx, profile.CustomerID)
	require.NoError(t, err)
	require.Len(t, loans, 1)
	assert.Equal(t, "L1", loans[0].LoanID)

	st, err := f.client.GetLoanStatus(ctx, "L1")
	require.NoError(t, err)
	assert.Equal(t, "Loan ID: L1, Balance: 2500.00, Interest Rate: 0.04%", st)

	points, err := f.client.SimulateInterest(ctx, "A2")
	require.NoError(t, err)
	require.Len(t, points, 10)
	assert.Equal(t, 1, points[0].Year)
	assert.Equal(t, "84.26", points[0].Amount.StringFixed(2))

	require.NoError(t, f.client.CloseAccount(ctx, "A2"))
	_, err = f.client.GetBalance(ctx, "A2")
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func TestErrorsSurviveTheWire(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := f.client.CreateAccount(ctx, "A", dec("10"))
	require.NoError(t, err)
	_, err = f.client.CreateAccount(ctx, "B", dec("0"))
	require.NoError(t, err)

	tests := []struct {
		name string
		call func() error
		want error
		code codes.Code
	}{
		{"unknown account", func() error { _, err := f.client.GetBalance(ctx, "ghost"); return err }, domain.ErrAccountNotFound, codes.NotFound},
		{"duplicate", func() error { _, err := f.client.CreateAccount(ctx, "A", dec("1")); return err }, domain.ErrDuplicateAccount, codes.AlreadyExists},
		{"overdraw", func() error { _, err := f.client.Transfer(ctx, "A", "B", dec("10.01")); return err }, domain.ErrInsufficientFunds, codes.FailedPrecondition},
		{"same account", func() error { _, err := f.client.Transfer(ctx, "A", "A", dec("1")); return err }, domain.ErrSameAccount, codes.InvalidArgument},
		{"zero amount", func() error { _, err := f.client.Transfer(ctx, "A", "B", dec("0")); return err }, domain.ErrInvalidAmount, codes.InvalidArgument},
		{"no loan", func() error { _, err := f.client.GetLoanStatus(ctx, "none"); return err }, domain.ErrLoanNotFound, codes.NotFound},
		{"no customer", func() error { _, err := f.client.GetActiveLoans(ctx, "none"); return err }, domain.ErrCustomerNotFound, codes.NotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	// 直接呼叫時能看到原始狀態碼
	in, err := structpb.NewStruct(map[string]any{"account_id": "ghost"})
	require.NoError(t, err)
	out := new(structpb.Struct)
	err = f.client.conn.Invoke(ctx, "/"+ServiceName+"/GetBalance", in, out)
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestMalformedAmountIsInvalidArgument(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in, err := structpb.NewStruct(map[string]any{"from_account": "A", "to_account": "B", "amount": "ten"})
	require.NoError(t, err)
	err = f.client.conn.Invoke(ctx, "/"+ServiceName+"/Transfer", in, new(structpb.Struct))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
	assert.ErrorIs(t, FromStatus(err), domain.ErrInvalidAmount)
}

func TestMalformedFieldIsInvalidRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in, err := structpb.NewStruct(map[string]any{"from_account": 5, "to_account": "B", "amount": "1"})
	require.NoError(t, err)
	err = f.client.conn.Invoke(ctx, "/"+ServiceName+"/Transfer", in, new(structpb.Struct))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
	back := FromStatus(err)
	assert.ErrorIs(t, back, domain.ErrInvalidRequest)
	assert.NotErrorIs(t, back, domain.ErrInvalidAmount)
}

func TestInterceptorLogsRequests(t *testing.T) {
	f := newFixture(t)
	_, err := f.client.GetBalance(context.Background(), "ghost")
	require.Error(t, err)

	entries := f.logs.FilterMessage("grpc request").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "/ledger.v1.LedgerService/GetBalance", fields["method"])
	assert.Equal(t, "NotFound", fields["code"])
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
}

func TestInterceptorRecoversPanics(t *testing.T) {
	obsCore, logs := observer.New(zapcore.DebugLevel)
	interceptor := UnaryLoggingInterceptor(zap.New(obsCore))
	info := &grpc.UnaryServerInfo{FullMethod: "/" + ServiceName + "/Transfer"}

	resp, err := interceptor(context.Background(), nil, info, func(context.Context, any) (any, error) {
		panic("boom")
	})
	assert.Nil(t, resp)
	assert.Equal(t, codes.Internal, status.Code(err))
	assert.Equal(t, 1, logs.FilterMessage("panic in grpc handler").Len())
	assert.Equal(t, 1, logs.FilterLevelExact(zapcore.ErrorLevel).FilterMessage("grpc request").Len())
}

func TestStatusMapping(t *testing.T) {
	for _, e := range errorTable {
		wrapped := errors.Join(errors.New("context"), e.err)
		st := status.Convert(toStatus(wrapped, map[string]string{"k": "v"}))
		assert.Equal(t, e.code, st.Code(), e.reason)

		meta, back := fromStatus(st.Err())
		assert.ErrorIs(t, back, e.err, e.reason)
		assert.Equal(t, "v", meta["k"])
	}

	assert.Equal(t, codes.Canceled, status.Code(toStatus(context.Canceled, nil)))
	assert.Equal(t, codes.Internal, status.Code(toStatus(errors.New("boom"), nil)))
	assert.NoError(t, toStatus(nil, nil))

	plain := errors.New("not a status")
	assert.Equal(t, plain, FromStatus(plain))
}
