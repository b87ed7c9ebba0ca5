package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"imageConverter/errs"
)

type funcRunner func(ctx context.Context, task Task)

func (f funcRunner) Run(ctx context.Context, task Task) { f(ctx, task) }

func TestSubmit_ExecutesTasks(t *testing.T) {
	p := NewPool(2, 10, zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var count atomic.Int32
	var wg sync.WaitGroup
	wg.Add(5)
	p.Start(ctx, funcRunner(func(context.Context, Task) {
		count.Add(1)
		wg.Done()
	}))

	for i := 0; i < 5; i++ {
		if err := p.Submit(Task{JobID: "job", TaskID: i}); err != nil {
			t.Fatalf("Submit(%d) failed: %v", i, err)
		}
	}

	wg.Wait()
	if got := count.Load(); got != 5 {
		t.Errorf("Expected 5 executions, got %d", got)
	}
}

func TestSubmit_QueueFull(t *testing.T) {
	p := NewPool(1, 2, zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	started := make(chan struct{}, 8)
	release := make(chan struct{})
	p.Start(ctx, funcRunner(func(context.Context, Task) {
		started <- struct{}{}
		<-release
	}))
	defer close(release)

	// Occupy the single worker, then fill the backlog.
	if err := p.Submit(Task{TaskID: 0}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	<-started
	if err := p.Submit(Task{TaskID: 1}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if err := p.Submit(Task{TaskID: 2}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	// Backlog exhausted: the next submission is rejected.
	err := p.Submit(Task{TaskID: 3})
	if err == nil {
		t.Fatal("Expected QUEUE_FULL at capacity")
	}
	if errs.KindOf(err) != errs.KindQueueFull {
		t.Errorf("Expected QUEUE_FULL, got %s", errs.KindOf(err))
	}
}

func TestConcurrencyIsBounded(t *testing.T) {
	const workers = 2
	p := NewPool(workers, 20, zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var current, peak atomic.Int32
	var wg sync.WaitGroup
	wg.Add(10)
	p.Start(ctx, funcRunner(func(context.Context, Task) {
		defer wg.Done()
		n := current.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		current.Add(-1)
	}))

	for i := 0; i < 10; i++ {
		if err := p.Submit(Task{TaskID: i}); err != nil {
			t.Fatalf("Submit(%d) failed: %v", i, err)
		}
	}

	wg.Wait()
	if got := peak.Load(); got > workers {
		t.Errorf("Concurrency peaked at %d, bound is %d", got, workers)
	}
}

func TestWorkerSurvivesPanic(t *testing.T) {
	p := NewPool(1, 10, zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{}, 2)
	p.Start(ctx, funcRunner(func(_ context.Context, task Task) {
		if task.TaskID == 0 {
			panic("task exploded")
		}
		done <- struct{}{}
	}))

	p.Submit(Task{TaskID: 0})
	p.Submit(Task{TaskID: 1})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Worker did not survive the panic")
	}
}
