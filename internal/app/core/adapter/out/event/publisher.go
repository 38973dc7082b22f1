// Package event 帳本事件的對外發佈 (取代全域廣播)
package event

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/usecase"
)

var (
	_ usecase.EventPublisher = (*LogPublisher)(nil)
	_ usecase.EventPublisher = (Multi)(nil)
	_ usecase.EventPublisher = (*Recorder)(nil)
)

// encode 所有 broker 共用的事件編碼
func encode(e domain.Event) ([]byte, error) {
	return json.Marshal(e)
}

// LogPublisher 把事件寫入結構化日誌，一定會啟用 (維運可見的管道)
type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger.Named("events")}
}

func (p *LogPublisher) Publish(ctx context.Context, e domain.Event) error {
	fields := []zap.Field{
		zap.String("event", string(e.Type)),
		zap.String("key", e.Key()),
		zap.String("amount", e.Amount.String()),
	}
	if e.From != "" {
		fields = append(fields, zap.String("from", e.From), zap.String("to", e.To))
	}
	if e.State != "" {
		fields = append(fields, zap.String("state", e.State))
	}
	if e.Reason != "" {
		fields = append(fields, zap.String("reason", e.Reason))
	}

	if e.IsAlert() {
		p.logger.Warn("ledger event", fields...)
		return nil
	}
	p.logger.Info("ledger event", fields...)
	return nil
}

// Multi 依序發佈到多個 publisher，單一失敗不影響其他
type Multi []usecase.EventPublisher

func (m Multi) Publish(ctx context.Context, e domain.Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder 記錄所有事件，供測試斷言
type Recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Publish(ctx context.Context, e domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

// Events 回傳目前記錄的事件複本
func (r *Recorder) Events() []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfType 篩選指定類型的事件
func (r *Recorder) OfType(typ domain.EventType) []domain.Event {
	var out []domain.Event
	for _, e := range r.Events() {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

// Reset 清空記錄
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}
