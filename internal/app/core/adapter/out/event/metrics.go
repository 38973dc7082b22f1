package event

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
)

// MetricsPublisher 把事件轉成 Prometheus 指標
type MetricsPublisher struct {
	events      *prometheus.CounterVec
	transferred prometheus.Counter
	alerts      prometheus.Counter
}

// NewMetricsPublisher 在 reg 上註冊指標；reg 為 nil 時使用預設 registry
func NewMetricsPublisher(reg prometheus.Registerer) *MetricsPublisher {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &MetricsPublisher{
		events: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_events_total",
				Help: "Total number of ledger events by type",
			},
			[]string{"type"},
		),
		transferred: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ledger_transferred_amount_total",
				Help: "Sum of amounts moved by completed or reconciled transfers",
			},
		),
		alerts: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ledger_alerts_total",
				Help: "Total number of events that need operator attention",
			},
		),
	}
}

func (p *MetricsPublisher) Publish(ctx context.Context, e domain.Event) error {
	p.events.WithLabelValues(string(e.Type)).Inc()
	switch e.Type {
	case domain.EventTransferCompleted, domain.EventTransferReconciled:
		amount, _ := e.Amount.Float64()
		p.transferred.Add(amount)
	}
	if e.IsAlert() {
		p.alerts.Inc()
	}
	return nil
}
