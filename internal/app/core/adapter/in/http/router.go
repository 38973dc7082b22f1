package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// RouterOptions 路由設定
type RouterOptions struct {
	// RequestTimeout 單一請求逾時，0 表示不限制
	RequestTimeout time.Duration
	// Gatherer /metrics 的資料來源，nil 時不掛載 /metrics
	Gatherer prometheus.Gatherer
}

// NewRouter 組出 REST 路由
//
//	/api/bank/...  帳本操作
//	/health        存活檢查
//	/metrics       Prometheus 指標
func NewRouter(h *Handler, logger *zap.Logger, opts RouterOptions) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger.Named("http")))
	r.Use(middleware.Recoverer)
	if opts.RequestTimeout > 0 {
		r.Use(middleware.Timeout(opts.RequestTimeout))
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/bank", func(r chi.Router) {
		r.Route("/accounts", func(r chi.Router) {
			r.Post("/transfer", h.Transfer)
			r.Post("/create", h.CreateAccount)
			r.Put("/update", h.UpdateAccount)
			r.Get("/{accountId}/balance", h.GetBalance)
			r.Get("/{accountId}/transactions", h.ListTransactions)
			r.Get("/{accountId}/profile", h.GetCustomerProfile)
			r.Get("/{accountId}/interest", h.SimulateInterest)
			r.Delete("/{accountId}", h.CloseAccount)
		})
		r.Get("/customers/{customerId}/loans", h.GetActiveLoans)
		r.Get("/loans/{loanId}", h.GetLoanStatus)
	})

	return r
}

// requestLogger 以 zap 記錄每個請求，取代 chi 內建以 std log 輸出的 middleware.Logger
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				status := ww.Status()
				fields := []zap.Field{
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", status),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("latency", time.Since(start)),
					zap.String("request_id", middleware.GetReqID(r.Context())),
				}
				if status >= http.StatusInternalServerError {
					logger.Warn("http request", fields...)
					return
				}
				logger.Debug("http request", fields...)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
