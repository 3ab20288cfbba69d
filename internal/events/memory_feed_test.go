package events

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMemoryFeedDelivers(t *testing.T) {
	t.Parallel()

	feed := NewMemoryFeed(8)
	defer feed.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu       sync.Mutex
		received []UsageEvent
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = feed.Consume(ctx, 2, func(_ context.Context, event UsageEvent) error {
			mu.Lock()
			received = append(received, event)
			mu.Unlock()
			return nil
		})
	}()

	for i := 0; i < 3; i++ {
		if err := feed.Publish(context.Background(), UsageEvent{ToolID: "market", Success: true}); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		count := len(received)
		mu.Unlock()
		if count == 3 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("expected 3 events, got %d", count)
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	<-done
}

func TestMemoryFeedDropsWhenFull(t *testing.T) {
	t.Parallel()

	feed := NewMemoryFeed(1)
	defer feed.Close()

	if err := feed.Publish(context.Background(), UsageEvent{ToolID: "a"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	// 第二条没有消费者接收，必须立刻失败而不是阻塞。
	if err := feed.Publish(context.Background(), UsageEvent{ToolID: "b"}); err == nil {
		t.Fatal("expected buffer-full error")
	}
}

func TestMemoryFeedPublishDuringClose(t *testing.T) {
	t.Parallel()

	feed := NewMemoryFeed(4)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// 关闭后发布必须拿到错误返回,绝不允许 panic。
			_ = feed.Publish(context.Background(), UsageEvent{ToolID: "market"})
		}()
	}
	_ = feed.Close()
	wg.Wait()

	if err := feed.Publish(context.Background(), UsageEvent{ToolID: "market"}); err == nil {
		t.Fatal("expected error after close")
	}
}

func TestNewFeedDriverSelection(t *testing.T) {
	t.Parallel()

	feed, err := NewFeed(Config{Driver: ""})
	if err != nil {
		t.Fatalf("new feed: %v", err)
	}
	feed.Close()

	if _, err := NewFeed(Config{Driver: "kafka"}); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}
