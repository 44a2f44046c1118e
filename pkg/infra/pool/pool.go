package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kart-io/logger"
	"github.com/panjf2000/ants/v2"
)

// Config 工作池配置。
type Config struct {
	// Capacity 最大并发 worker 数
	Capacity int
	// ExpiryDuration worker 空闲回收时间
	ExpiryDuration time.Duration
	// Nonblocking 为 true 时池满直接返回 ErrPoolOverload
	Nonblocking bool
	// MaxBlockingTasks 阻塞模式下最多排队的提交者，0 表示不限
	MaxBlockingTasks int
	// PanicHandler 任务 panic 时调用，为空时记录日志
	PanicHandler func(interface{})
}

// BlockingConfig 返回阻塞提交的配置：池满时提交方等待空闲 worker，
// 因此一个批次里的文档不会因为并发上限被拒绝。
func BlockingConfig(concurrency int) Config {
	if concurrency <= 0 {
		concurrency = 1
	}
	return Config{Capacity: concurrency, ExpiryDuration: 30 * time.Second}
}

// Stats is a snapshot of pool usage.
type Stats struct {
	Capacity        int   `json:"capacity"`
	Running         int   `json:"running"`
	SubmittedTasks  int64 `json:"submitted_tasks"`
	CompletedTasks  int64 `json:"completed_tasks"`
	SkippedTasks    int64 `json:"skipped_tasks"`
	RejectedTasks   int64 `json:"rejected_tasks"`
	PanicRecovered  int64 `json:"panic_recovered"`
	TotalWaitTimeNs int64 `json:"total_wait_time_ns"`
}

// Pool wraps an ants pool with counters.
type Pool struct {
	name string
	ants *ants.Pool

	submitted atomic.Int64
	completed atomic.Int64
	skipped   atomic.Int64
	rejected  atomic.Int64
	panics    atomic.Int64
	waitNs    atomic.Int64

	closeOnce sync.Once
	closed    atomic.Bool
}

// New creates a named worker pool.
func New(name string, cfg Config) (*Pool, error) {
	if cfg.Capacity <= 0 {
		return nil, fmt.Errorf("%w: capacity must be positive, got %d", ErrInvalidConfig, cfg.Capacity)
	}

	handler := cfg.PanicHandler
	if handler == nil {
		handler = func(r interface{}) {
			logger.Errorw("worker panic recovered", "pool", name, "panic", r)
		}
	}
	ap, err := ants.NewPool(cfg.Capacity,
		ants.WithExpiryDuration(cfg.ExpiryDuration),
		ants.WithNonblocking(cfg.Nonblocking),
		ants.WithMaxBlockingTasks(cfg.MaxBlockingTasks),
		ants.WithPanicHandler(handler),
	)
	if err != nil {
		return nil, fmt.Errorf("create pool %s: %w", name, err)
	}

	logger.Infow("worker pool created", "pool", name, "capacity", cfg.Capacity, "nonblocking", cfg.Nonblocking)
	return &Pool{name: name, ants: ap}, nil
}

// Submit 提交任务。ctx 在任务真正开始前被取消时任务被跳过，
// 用于关闭时丢弃还在排队的工作。
func (p *Pool) Submit(ctx context.Context, task func()) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	queued := time.Now()
	p.submitted.Add(1)
	err := p.ants.Submit(func() {
		p.waitNs.Add(int64(time.Since(queued)))
		if ctx.Err() != nil {
			p.skipped.Add(1)
			return
		}
		defer func() {
			if r := recover(); r != nil {
				p.panics.Add(1)
				panic(r) // ants 的 PanicHandler 负责记录
			}
			p.completed.Add(1)
		}()
		task()
	})
	if err == nil {
		return nil
	}

	p.submitted.Add(-1)
	p.rejected.Add(1)
	switch {
	case errors.Is(err, ants.ErrPoolOverload):
		return ErrPoolOverload
	case errors.Is(err, ants.ErrPoolClosed):
		return ErrPoolClosed
	}
	return err
}

// Close 释放池并等待运行中的任务，最多等待 timeout。重复调用无副作用。
func (p *Pool) Close(timeout time.Duration) error {
	var err error
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		err = p.ants.ReleaseTimeout(timeout)
		logger.Infow("worker pool released", "pool", p.name, "completed", p.completed.Load())
	})
	return err
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Capacity:        p.ants.Cap(),
		Running:         p.ants.Running(),
		SubmittedTasks:  p.submitted.Load(),
		CompletedTasks:  p.completed.Load(),
		SkippedTasks:    p.skipped.Load(),
		RejectedTasks:   p.rejected.Load(),
		PanicRecovered:  p.panics.Load(),
		TotalWaitTimeNs: p.waitNs.Load(),
	}
}
