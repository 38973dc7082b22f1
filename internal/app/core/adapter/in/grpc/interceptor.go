package grpc

import (
	"context"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// UnaryLoggingInterceptor 記錄每個請求的方法、狀態碼與耗時
// 並把 handler 的 panic 轉成 codes.Internal，避免整個 server 掛掉
func UnaryLoggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	logger = logger.Named("grpc")
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		start := time.Now()
		defer func() {
			if r := recover(); r != nil {
				logger.Error("panic in grpc handler",
					zap.String("method", info.FullMethod),
					zap.Any("panic", r),
					zap.Stack("stack"),
				)
				resp, err = nil, status.Errorf(codes.Internal, "internal error: %v", r)
			}

			code := status.Code(err)
			logger.Log(levelFor(code), "grpc request",
				zap.String("method", info.FullMethod),
				zap.String("code", code.String()),
				zap.Duration("latency", time.Since(start)),
				zap.Error(err),
			)
		}()
		return handler(ctx, req)
	}
}

// levelFor 業務錯誤屬於正常流程，只有伺服器端錯誤才提高等級
func levelFor(code codes.Code) zapcore.Level {
	switch code {
	case codes.OK, codes.NotFound, codes.AlreadyExists, codes.InvalidArgument,
		codes.FailedPrecondition, codes.Canceled:
		return zapcore.DebugLevel
	case codes.Aborted, codes.Unavailable, codes.DeadlineExceeded:
		return zapcore.WarnLevel
	default:
		return zapcore.ErrorLevel
	}
}
