package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrSequencerClosed 序列器已關閉，不再接受新工作
var ErrSequencerClosed = errors.New("sequencer closed")

// laneJob 排入帳戶通道的工作，Result 讓呼叫端可以等待結果
type laneJob struct {
	ctx    context.Context
	fn     func(ctx context.Context) error
	result chan error
}

// lane 單一帳戶的輸送帶
// refs 為「已取得、排隊中、執行中」的工作數，歸零才關閉通道
type lane struct {
	jobs chan *laneJob
	refs int
}

// Sequencer 依帳戶序列化所有變更操作
//
// 每個帳戶在有工作時擁有一條專屬 goroutine (single writer)，
// 工作依到達順序逐一執行；不同帳戶之間彼此並行、沒有順序保證。
// 閒置的通道會自動回收，所以不會因帳戶數量無限增長。
//
// Do(等待) -> lane Channel -> run loop (逐一執行) -> Result Channel -> Do(收到結果)
type Sequencer struct {
	mu     sync.Mutex
	lanes  map[string]*lane
	buffer int
	closed bool
	wg     sync.WaitGroup
	// Pool 減少 GC 壓力
	jobPool sync.Pool
}

// NewSequencer 建立序列器
//
// 參數:
//
//	buffer: 每個帳戶通道可排隊的工作數，滿了之後 Do 會阻塞 (背壓)
func NewSequencer(buffer int) *Sequencer {
	if buffer < 1 {
		buffer = 1
	}
	return &Sequencer{
		lanes:  make(map[string]*lane),
		buffer: buffer,
		jobPool: sync.Pool{
			New: func() any {
				return &laneJob{result: make(chan error, 1)}
			},
		},
	}
}

// Do 在 accountID 的通道上執行 fn，並等待結果
//
// 參數:
//
//	ctx: 上下文；工作開始前若已取消則不會執行
//	accountID: 帳戶 ID
//	fn: 要序列化執行的工作
//
// 回傳:
//
//	error: fn 的錯誤、ctx 錯誤或 ErrSequencerClosed
//
// 注意: 呼叫端放棄等待時，已經開始執行的 fn 仍會跑完
func (s *Sequencer) Do(ctx context.Context, accountID string, fn func(ctx context.Context) error) error {
	l, err := s.acquire(accountID)
	if err != nil {
		return err
	}
	return s.submit(ctx, accountID, l, fn)
}

// Handoff 預先在 accountID 的通道上保留一個位置，讓目前執行中的工作
// 把後續步驟交給另一個帳戶，而不必在自己的通道上等待。
// 保留在 Close 之後仍然有效，Close 會等交接的工作做完；
// 回傳的 Handoff 必須呼叫一次 Do
//
// 只能在通道工作 (fn) 內呼叫
func (s *Sequencer) Handoff(accountID string) *Handoff {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &Handoff{seq: s, accountID: accountID, lane: s.laneLocked(accountID)}
}

// Handoff 已保留的通道位置
type Handoff struct {
	seq       *Sequencer
	accountID string
	lane      *lane
}

// Do 在保留的通道上執行 fn 並等待結果
func (h *Handoff) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	return h.seq.submit(ctx, h.accountID, h.lane, fn)
}

func (s *Sequencer) submit(ctx context.Context, accountID string, l *lane, fn func(ctx context.Context) error) error {
	job := s.jobPool.Get().(*laneJob)
	job.ctx = ctx
	job.fn = fn
	// 清空 Channel (理論上應該是空的)
	select {
	case <-job.result:
	default:
	}

	select {
	case l.jobs <- job:
	case <-ctx.Done():
		s.release(accountID, l)
		s.recycle(job)
		return ctx.Err()
	}

	select {
	case err := <-job.result:
		s.recycle(job)
		return err
	case <-ctx.Done():
		// job 仍可能在執行中，不放回 Pool
		return ctx.Err()
	}
}

// Lanes 回傳目前存活的帳戶通道數
func (s *Sequencer) Lanes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lanes)
}

// Close 停止接受新工作，並等待所有通道把手上的工作做完
func (s *Sequencer) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Sequencer) acquire(accountID string) (*lane, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSequencerClosed
	}
	return s.laneLocked(accountID), nil
}

// laneLocked 取得 (必要時建立) 通道並增加參考數；呼叫端需持有 s.mu
func (s *Sequencer) laneLocked(accountID string) *lane {
	l, ok := s.lanes[accountID]
	if !ok {
		l = &lane{jobs: make(chan *laneJob, s.buffer)}
		s.lanes[accountID] = l
		s.wg.Add(1)
		go s.run(accountID, l)
	}
	l.refs++
	return l
}

func (s *Sequencer) release(accountID string, l *lane) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(s.lanes, accountID)
		close(l.jobs)
	}
}

func (s *Sequencer) run(accountID string, l *lane) {
	defer s.wg.Done()
	for job := range l.jobs {
		job.result <- s.execute(job)
		s.release(accountID, l)
	}
}

func (s *Sequencer) execute(job *laneJob) (err error) {
	if err := job.ctx.Err(); err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()
	return job.fn(job.ctx)
}

func (s *Sequencer) recycle(job *laneJob) {
	job.ctx = nil
	job.fn = nil
	s.jobPool.Put(job)
}

// PanicError 工作在通道內 panic 時回傳給呼叫端，通道本身繼續運作
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("lane job panicked: %v", e.Value)
}
