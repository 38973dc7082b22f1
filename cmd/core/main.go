package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	grpc_adapter "github.com/JoeShih716/go-bank-ledger/internal/app/core/adapter/in/grpc"
	http_adapter "github.com/JoeShih716/go-bank-ledger/internal/app/core/adapter/in/http"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-bank-ledger/internal/config"
	"github.com/JoeShih716/go-bank-ledger/pkg/logger"
)

func main() {
	var (
		configPath string
		envFile    string
	)

	rootCmd := &cobra.Command{
		Use:   "core",
		Short: "Bank ledger server (gRPC + REST)",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var envFiles []string
			if envFile != "" {
				envFiles = append(envFiles, envFile)
			}
			cfg, err := config.Load(configPath, envFiles...)
			if err != nil {
				return err
			}
			log, err := logger.New(cfg.Log)
			if err != nil {
				return err
			}
			defer log.Sync() //nolint:errcheck

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, log)
		},
	}
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "config/config.yaml", "path to the YAML config file (empty for defaults)")
	rootCmd.Flags().StringVar(&envFile, "env-file", "", "dotenv file to load (default .env if present)")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// run 組裝所有元件並阻塞到收到結束訊號
func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	// 1. 儲存層
	st, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.Close(log)

	// 2. 指標與事件
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	pubs, err := openPublishers(ctx, cfg, log, reg)
	if err != nil {
		return err
	}
	defer pubs.Close(log)

	// 3. 帳本核心 (含背景對帳)
	core := usecase.NewCoreUseCase(st.ledger, st.readModels, pubs.publisher, log, cfg.Ledger)
	core.Start(ctx)
	defer core.Close()

	// 4. gRPC
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(grpc_adapter.UnaryLoggingInterceptor(log)))
	grpc_adapter.Register(grpcServer, grpc_adapter.NewGrpcServer(core))
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(grpc_adapter.ServiceName, healthpb.HealthCheckResponse_SERVING)

	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Server.GRPCAddr, err)
	}

	// 5. REST
	httpServer := &http.Server{
		Addr: cfg.Server.HTTPAddr,
		Handler: http_adapter.NewRouter(http_adapter.NewHandler(core), log, http_adapter.RouterOptions{
			RequestTimeout: cfg.Server.RequestTimeout,
			Gatherer:       reg,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting gRPC server", zap.String("addr", cfg.Server.GRPCAddr))
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		log.Info("starting HTTP server", zap.String("addr", cfg.Server.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down servers")
		healthServer.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.Server.ShutdownTimeout)
		defer cancel()

		stopped := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stopped)
		}()
		httpErr := httpServer.Shutdown(shutdownCtx)
		select {
		case <-stopped:
		case <-shutdownCtx.Done():
			log.Warn("grpc graceful stop timed out, forcing")
			grpcServer.Stop()
		}
		return httpErr
	})

	err = g.Wait()
	log.Info("server exited", zap.Error(err))
	return err
}
