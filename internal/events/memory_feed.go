package events

import (
	"context"
	"errors"
	"sync"
)

// MemoryFeed 使用 channel 模拟事件流，用于单机部署与测试。
type MemoryFeed struct {
	ch     chan UsageEvent
	mu     sync.Mutex
	closed bool
}

// NewMemoryFeed 创建一个内存事件流。
func NewMemoryFeed(size int) *MemoryFeed {
	if size <= 0 {
		size = 256
	}
	return &MemoryFeed{ch: make(chan UsageEvent, size)}
}

// Publish 投递事件。缓冲已满时丢弃而不是阻塞请求路径。发送在锁内完成,
// 与 Close 互斥,杜绝向已关闭 channel 发送。
func (f *MemoryFeed) Publish(ctx context.Context, event UsageEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("事件流已关闭")
	}
	select {
	case f.ch <- event:
		return nil
	default:
		return errors.New("事件流缓冲已满")
	}
}

// Consume 启动指定数量的工作协程消费事件。
func (f *MemoryFeed) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case event, ok := <-f.ch:
					if !ok {
						return
					}
					_ = handler(ctx, event)
				}
			}
		}()
	}
	<-ctx.Done()
	wg.Wait()
	return ctx.Err()
}

// Close 关闭内存事件流。
func (f *MemoryFeed) Close() error {
	f.mu.Lock()
	if !f.closed {
		close(f.ch)
		f.closed = true
	}
	f.mu.Unlock()
	return nil
}
