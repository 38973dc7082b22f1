package usecase

import (
	"context"

	"go.uber.org/zap"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
)

// notifier 包裝 EventPublisher；發佈失敗只記錄，不影響帳本結果
type notifier struct {
	publisher EventPublisher
	logger    *zap.Logger
}

func newNotifier(publisher EventPublisher, logger *zap.Logger) *notifier {
	return &notifier{publisher: publisher, logger: logger}
}

func (n *notifier) publish(ctx context.Context, event domain.Event) {
	if event.IsAlert() {
		n.logger.Error("ledger alert",
			zap.String("event", string(event.Type)),
			zap.String("transfer_id", event.TransferID),
			zap.String("account_id", event.AccountID),
			zap.String("reason", event.Reason),
		)
	}
	if n.publisher == nil {
		return
	}
	// 事件不應因呼叫端取消而遺失
	if err := n.publisher.Publish(context.WithoutCancel(ctx), event); err != nil {
		n.logger.Warn("publish event failed",
			zap.String("event", string(event.Type)),
			zap.String("key", event.Key()),
			zap.Error(err),
		)
	}
}
