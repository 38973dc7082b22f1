package usecase

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
)

func queued(s *Sequencer, accountID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lanes[accountID]
	if !ok {
		return 0
	}
	return len(l.jobs)
}

func TestSequencerFIFOPerAccount(t *testing.T) {
	s := NewSequencer(16)
	defer s.Close()

	gate := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = s.Do(context.Background(), "A", func(ctx context.Context) error {
			close(started)
			<-gate
			return nil
		})
	}()
	<-started

	var (
		mu    sync.Mutex
		order []int
		wg    sync.WaitGroup
	)
	for i := range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Do(context.Background(), "A", func(ctx context.Context) error {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil
			}))
		}()
		require.Eventually(t, func() bool { return queued(s, "A") == i+1 }, time.Second, time.Millisecond)
	}
	close(gate)
	wg.Wait()

	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestSequencerSerializesSameAccount(t *testing.T) {
	s := NewSequencer(4)
	defer s.Close()

	var running, maxRunning atomic.Int32
	var wg sync.WaitGroup
	for range 40 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Do(context.Background(), "A", func(ctx context.Context) error {
				n := running.Add(1)
				for {
					m := maxRunning.Load()
					if n <= m || maxRunning.CompareAndSwap(m, n) {
						break
					}
				}
				time.Sleep(100 * time.Microsecond)
				running.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxRunning.Load())
}

func TestSequencerAccountsRunInParallel(t *testing.T) {
	s := NewSequencer(1)
	defer s.Close()

	var barrier sync.WaitGroup
	barrier.Add(2)
	done := make(chan struct{})
	go func() {
		var wg sync.WaitGroup
		for _, id := range []string{"A", "B"} {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = s.Do(context.Background(), id, func(ctx context.Context) error {
					// 兩個帳戶都進來才能離開
					barrier.Done()
					barrier.Wait()
					return nil
				})
			}()
		}
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("different accounts were not run in parallel")
	}
}

func TestSequencerReclaimsIdleLanes(t *testing.T) {
	s := NewSequencer(4)
	defer s.Close()

	for _, id := range []string{"A", "B", "C"} {
		require.NoError(t, s.Do(context.Background(), id, func(ctx context.Context) error { return nil }))
	}
	assert.Eventually(t, func() bool { return s.Lanes() == 0 }, time.Second, time.Millisecond)
}

func TestSequencerErrorsAndPanics(t *testing.T) {
	s := NewSequencer(4)
	defer s.Close()
	ctx := context.Background()

	boom := errors.New("boom")
	assert.ErrorIs(t, s.Do(ctx, "A", func(ctx context.Context) error { return boom }), boom)

	err := s.Do(ctx, "A", func(ctx context.Context) error { panic("bad") })
	var pe *PanicError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "bad", pe.Value)

	// 通道在 panic 之後仍可使用
	assert.NoError(t, s.Do(ctx, "A", func(ctx context.Context) error { return nil }))
}

func TestSequencerSkipsCancelledJobs(t *testing.T) {
	s := NewSequencer(4)
	defer s.Close()

	gate := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = s.Do(context.Background(), "A", func(ctx context.Context) error {
			close(started)
			<-gate
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	var ran atomic.Bool
	result := make(chan error, 1)
	go func() {
		result <- s.Do(ctx, "A", func(ctx context.Context) error {
			ran.Store(true)
			return nil
		})
	}()
	require.Eventually(t, func() bool { return queued(s, "A") == 1 }, time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-result, context.Canceled)

	close(gate)
	require.NoError(t, s.Do(context.Background(), "A", func(ctx context.Context) error { return nil }))
	assert.False(t, ran.Load())
}

func TestSequencerCloseAndHandoff(t *testing.T) {
	s := NewSequencer(4)

	gate := make(chan struct{})
	started := make(chan struct{})
	handedOff := make(chan error, 1)
	go func() {
		_ = s.Do(context.Background(), "A", func(ctx context.Context) error {
			close(started)
			<-gate
			// Close 已開始，交接仍然可以完成
			h := s.Handoff("B")
			go func() {
				handedOff <- h.Do(context.Background(), func(ctx context.Context) error { return nil })
			}()
			return nil
		})
	}()
	<-started

	closed := make(chan struct{})
	go func() {
		s.Close()
		close(closed)
	}()
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.closed
	}, time.Second, time.Millisecond)

	assert.ErrorIs(t, s.Do(context.Background(), "C", func(ctx context.Context) error { return nil }), ErrSequencerClosed)

	close(gate)
	assert.NoError(t, <-handedOff)
	<-closed
	assert.Zero(t, s.Lanes())
}

func TestRetryPolicy(t *testing.T) {
	p := RetryPolicy{Attempts: 4, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
	ctx := context.Background()

	calls := 0
	err := p.Do(ctx, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return domain.ErrStoreUnavailable
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	err = p.Do(ctx, func(ctx context.Context) error {
		calls++
		return domain.ErrStoreUnavailable
	})
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.Equal(t, 4, calls)

	// 業務錯誤不重試
	calls = 0
	err = p.Do(ctx, func(ctx context.Context) error {
		calls++
		return domain.ErrInsufficientFunds
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.Equal(t, 1, calls)

	// ctx 結束時停止退避
	slow := RetryPolicy{Attempts: 10, InitialBackoff: time.Hour}
	cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	calls = 0
	start := time.Now()
	err = slow.Do(cctx, func(ctx context.Context) error {
		calls++
		return domain.ErrStoreUnavailable
	})
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.Equal(t, 1, calls)
	assert.Less(t, time.Since(start), time.Second)
}
