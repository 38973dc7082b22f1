package usecase

import (
	"context"
	"time"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
)

// RetryPolicy 單一步驟的重試設定 (指數退避)
// 只有 domain.ErrStoreUnavailable 會被重試，業務錯誤直接回傳
type RetryPolicy struct {
	Attempts       int           `yaml:"attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:       5,
		InitialBackoff: 50 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
	}
}

// Do 執行 fn，遇到可重試錯誤時退避後再試，直到成功、遇到不可重試錯誤或次數用完
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	backoff := p.InitialBackoff

	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(ctx); err == nil || !domain.IsRetryable(err) {
			return err
		}
		if i == attempts-1 {
			break
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}

		backoff *= 2
		if p.MaxBackoff > 0 && backoff > p.MaxBackoff {
			backoff = p.MaxBackoff
		}
	}
	return err
}
