package strategy

import (
	"context"
	stdErrors "errors"
	"testing"
	"time"
)

func TestProcessorExecutesQueuedRun(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	catalog := NewCatalog(CatalogConfig{MarketAddress: testMarketAddr, PoolAddress: testPoolAddr})
	store := NewMemoryStore()
	queue := NewMemoryQueue(16)
	executor := &fakeExecutor{}
	runner := NewRunner(executor, store, NewFanout())
	service := NewService(catalog, store, queue, runner)
	processor := NewProcessor(runner, store, queue)

	go func() {
		if err := processor.Start(ctx); err != nil && !stdErrors.Is(err, context.Canceled) && !stdErrors.Is(err, context.DeadlineExceeded) {
			t.Errorf("processor exited: %v", err)
		}
	}()

	run, err := service.Submit(ctx, SubmitRequest{Strategy: "moon", Amount: "10"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		stored, err := store.Get(ctx, run.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if stored.Status == RunSucceeded {
			if executor.callCount() != 3 {
				t.Fatalf("expected 3 executed steps, got %d", executor.callCount())
			}
			return
		}
		select {
		case <-deadline:
			t.Fatalf("run stuck in %s", stored.Status)
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestProcessorSkipsTerminalRun(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	catalog := NewCatalog(CatalogConfig{MarketAddress: testMarketAddr, PoolAddress: testPoolAddr})
	store := NewMemoryStore()
	queue := NewMemoryQueue(16)
	executor := &fakeExecutor{}
	runner := NewRunner(executor, store, NewFanout())
	service := NewService(catalog, store, queue, runner)
	processor := NewProcessor(runner, store, queue)

	run, err := service.Submit(ctx, SubmitRequest{Strategy: "bearish", Amount: "1"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	// 消费前取消，处理器应确认消息但不执行任何步骤。
	if _, err := service.Cancel(ctx, run.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	go func() {
		if err := processor.Start(ctx); err != nil && !stdErrors.Is(err, context.Canceled) && !stdErrors.Is(err, context.DeadlineExceeded) {
			t.Errorf("processor exited: %v", err)
		}
	}()

	time.Sleep(200 * time.Millisecond)
	if executor.callCount() != 0 {
		t.Fatalf("executor ran %d steps for a cancelled run", executor.callCount())
	}
	stored, err := store.Get(ctx, run.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != RunCancelled {
		t.Fatalf("status = %s, want cancelled", stored.Status)
	}
}
