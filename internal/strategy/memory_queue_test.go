package strategy

import (
	"context"
	"sync"
	"testing"
)

func TestMemoryQueuePublishAfterClose(t *testing.T) {
	queue := NewMemoryQueue(4)
	if err := queue.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := queue.Publish(context.Background(), "run-1"); err == nil {
		t.Fatal("expected error publishing to a closed queue")
	}
	// 重复关闭是安全的。
	if err := queue.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestMemoryQueuePublishCloseRace(t *testing.T) {
	// 发布与关闭并发执行时每个发布要么成功要么报错，绝不 panic。
	for i := 0; i < 100; i++ {
		queue := NewMemoryQueue(1)
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = queue.Publish(context.Background(), "run-1")
		}()
		go func() {
			defer wg.Done()
			_ = queue.Close()
		}()
		wg.Wait()
	}
}
