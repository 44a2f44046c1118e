package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNewInvalidConfig(t *testing.T) {
	if _, err := New("batch", Config{}); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("期望 ErrInvalidConfig, 实际 %v", err)
	}
	if c := BlockingConfig(0); c.Capacity != 1 {
		t.Errorf("期望容量 1, 实际 %d", c.Capacity)
	}
}

func TestSubmitRunsEveryTask(t *testing.T) {
	p, err := New("batch", BlockingConfig(3))
	if err != nil {
		t.Fatalf("创建池失败: %v", err)
	}
	defer p.Close(time.Second)

	var counter atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		if err := p.Submit(context.Background(), func() {
			defer wg.Done()
			counter.Add(1)
		}); err != nil {
			t.Errorf("提交任务失败: %v", err)
			wg.Done()
		}
	}
	wg.Wait()

	if counter.Load() != 50 {
		t.Errorf("期望执行 50 个任务, 实际 %d", counter.Load())
	}
	waitFor(t, func() bool { return p.Stats().CompletedTasks == 50 })
	if s := p.Stats(); s.SubmittedTasks != 50 || s.Capacity != 3 {
		t.Errorf("统计不匹配: %+v", s)
	}
}

func TestSubmitSkipsCanceledWork(t *testing.T) {
	p, err := New("batch", BlockingConfig(1))
	if err != nil {
		t.Fatalf("创建池失败: %v", err)
	}
	defer p.Close(time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Submit(ctx, func() {}); !errors.Is(err, context.Canceled) {
		t.Errorf("期望 context.Canceled, 实际 %v", err)
	}

	// 占住唯一的 worker，排队的任务在开始前被取消
	release := make(chan struct{})
	if err := p.Submit(context.Background(), func() { <-release }); err != nil {
		t.Fatalf("提交任务失败: %v", err)
	}
	queuedCtx, cancelQueued := context.WithCancel(context.Background())
	var executed atomic.Bool
	submitted := make(chan error, 1)
	go func() {
		submitted <- p.Submit(queuedCtx, func() { executed.Store(true) })
	}()
	cancelQueued()
	close(release)
	if err := <-submitted; err != nil && !errors.Is(err, context.Canceled) {
		t.Fatalf("提交任务失败: %v", err)
	}

	waitFor(t, func() bool { return p.Stats().Running == 0 })
	if executed.Load() {
		t.Error("已取消的任务不应执行")
	}
}

func TestPanicIsRecovered(t *testing.T) {
	var recovered atomic.Bool
	cfg := BlockingConfig(1)
	cfg.PanicHandler = func(interface{}) { recovered.Store(true) }

	p, err := New("batch", cfg)
	if err != nil {
		t.Fatalf("创建池失败: %v", err)
	}
	defer p.Close(time.Second)

	if err := p.Submit(context.Background(), func() { panic("boom") }); err != nil {
		t.Fatalf("提交任务失败: %v", err)
	}
	waitFor(t, recovered.Load)
	if got := p.Stats().PanicRecovered; got != 1 {
		t.Errorf("期望 1 次 panic, 实际 %d", got)
	}
}

func TestClosedPoolRejects(t *testing.T) {
	p, err := New("batch", BlockingConfig(1))
	if err != nil {
		t.Fatalf("创建池失败: %v", err)
	}
	if err := p.Close(time.Second); err != nil {
		t.Fatalf("关闭池失败: %v", err)
	}
	if err := p.Close(time.Second); err != nil {
		t.Errorf("重复关闭不应报错: %v", err)
	}
	if err := p.Submit(context.Background(), func() {}); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("期望 ErrPoolClosed, 实际 %v", err)
	}
}
