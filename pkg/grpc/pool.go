package grpc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
)

// Pool 依目標位址共用 gRPC 連線，每個位址只保留一條 ClientConn
// 可被多個 goroutine 同時使用
type Pool struct {
	mu           sync.Mutex
	conns        map[string]*grpc.ClientConn
	interceptors []grpc.UnaryClientInterceptor
	dialOpts     []grpc.DialOption
	keepalive    keepalive.ClientParameters
	logger       *zap.Logger
}

// PoolOption Pool 設定
type PoolOption func(*Pool)

// WithInterceptor 加入 UnaryClientInterceptor，依加入順序串接
func WithInterceptor(interceptor grpc.UnaryClientInterceptor) PoolOption {
	return func(p *Pool) {
		p.interceptors = append(p.interceptors, interceptor)
	}
}

// WithDialOptions 額外的連線選項，例如 TLS 憑證
func WithDialOptions(opts ...grpc.DialOption) PoolOption {
	return func(p *Pool) {
		p.dialOpts = append(p.dialOpts, opts...)
	}
}

// WithKeepalive 覆寫預設的 keepalive 參數
func WithKeepalive(params keepalive.ClientParameters) PoolOption {
	return func(p *Pool) {
		p.keepalive = params
	}
}

// WithLogger 連線建立/關閉的日誌
func WithLogger(logger *zap.Logger) PoolOption {
	return func(p *Pool) {
		p.logger = logger
	}
}

func NewPool(opts ...PoolOption) *Pool {
	p := &Pool{
		conns: make(map[string]*grpc.ClientConn),
		keepalive: keepalive.ClientParameters{
			Time:                10 * time.Second, // 閒置 10 秒送一次 ping
			Timeout:             time.Second,
			PermitWithoutStream: true,
		},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// GetConnection 取得目標的連線，不存在或已關閉時建立新連線
//
// 參數:
//
//	target: 伺服器位址 (e.g., "localhost:50051")
//
// 回傳值:
//
//	*grpc.ClientConn: 共用的連線，呼叫端不要自行 Close
//	error: 建立連線失敗
func (p *Pool) GetConnection(target string) (*grpc.ClientConn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conns == nil {
		return nil, errors.New("grpc pool is closed")
	}
	if conn, ok := p.conns[target]; ok {
		if conn.GetState() != connectivity.Shutdown {
			return conn, nil
		}
		delete(p.conns, target)
	}

	// 預設不加密，內部服務通常在私有網路或 service mesh 之後
	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(p.keepalive),
	}
	if len(p.interceptors) > 0 {
		opts = append(opts, grpc.WithChainUnaryInterceptor(p.interceptors...))
	}
	opts = append(opts, p.dialOpts...)

	// NewClient 不會立即連線，第一次呼叫時才建立
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create grpc client for target %s: %w", target, err)
	}
	p.conns[target] = conn
	p.logger.Debug("grpc client created", zap.String("target", target))
	return conn, nil
}

// Size 目前保留的連線數
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns)
}

// Close 關閉所有連線，之後 GetConnection 會回傳錯誤
func (p *Pool) Close() error {
	p.mu.Lock()
	conns := p.conns
	p.conns = nil
	p.mu.Unlock()

	var errs []error
	for target, conn := range conns {
		if err := conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", target, err))
		}
	}
	return errors.Join(errs...)
}

// LoggingInterceptor 記錄每個呼叫的方法、狀態碼與耗時
func LoggingInterceptor(logger *zap.Logger) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		start := time.Now()
		err := invoker(ctx, method, req, reply, cc, opts...)
		logger.Debug("grpc call",
			zap.String("method", method),
			zap.String("target", cc.Target()),
			zap.String("code", status.Code(err).String()),
			zap.Duration("latency", time.Since(start)),
		)
		return err
	}
}
