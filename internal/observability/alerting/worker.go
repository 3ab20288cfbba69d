package alerting

import (
	"context"
	"fmt"
	"sync"
	"time"

	xerrors "ChainBazaar/internal/errors"
	"ChainBazaar/internal/events"
	"ChainBazaar/pkg/logger"
)

// CodeToolDegraded 表示某个工具在窗口内连续失败超过阈值。
const CodeToolDegraded xerrors.Code = "TOOL_DEGRADED"

func init() {
	xerrors.Register(CodeToolDegraded, xerrors.Attributes{
		Message:  "tool failure rate exceeded threshold",
		Severity: xerrors.SeverityCritical,
		Alert:    true,
	})
}

// Worker 消费用量事件流，在工具连续失败时触发告警。
// 告警触发后该工具的计数清零，避免同一故障反复轰炸渠道。
type Worker struct {
	feed       events.Consumer
	dispatcher Dispatcher
	threshold  int
	window     time.Duration

	mu       sync.Mutex
	failures map[string][]time.Time
}

// NewWorker 创建告警工作器。threshold 非正时取 3，window 非正时取 5 分钟。
func NewWorker(feed events.Consumer, dispatcher Dispatcher, threshold int, window time.Duration) *Worker {
	if threshold <= 0 {
		threshold = 3
	}
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &Worker{
		feed:       feed,
		dispatcher: dispatcher,
		threshold:  threshold,
		window:     window,
		failures:   make(map[string][]time.Time),
	}
}

// Run 启动消费循环，阻塞到 ctx 取消。
func (w *Worker) Run(ctx context.Context) error {
	return w.feed.Consume(ctx, 1, w.handle)
}

func (w *Worker) handle(ctx context.Context, event events.UsageEvent) error {
	if event.Success {
		w.mu.Lock()
		delete(w.failures, event.ToolID)
		w.mu.Unlock()
		return nil
	}

	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}

	w.mu.Lock()
	recent := append(w.failures[event.ToolID], occurredAt)
	cutoff := occurredAt.Add(-w.window)
	trimmed := recent[:0]
	for _, at := range recent {
		if at.After(cutoff) {
			trimmed = append(trimmed, at)
		}
	}
	triggered := len(trimmed) >= w.threshold
	if triggered {
		delete(w.failures, event.ToolID)
	} else {
		w.failures[event.ToolID] = trimmed
	}
	w.mu.Unlock()

	if !triggered {
		return nil
	}

	alert := Event{
		Code:      CodeToolDegraded,
		Message:   fmt.Sprintf("tool %s failed %d times within %s", event.ToolID, w.threshold, w.window),
		Severity:  xerrors.SeverityCritical,
		ToolID:    event.ToolID,
		AgentID:   event.AgentID,
		ErrorType: event.ErrorType,
		Metadata: map[string]string{
			"status_code": fmt.Sprintf("%d", event.StatusCode),
		},
		OccurredAt: occurredAt,
	}
	if err := w.dispatcher.Notify(ctx, alert); err != nil {
		logger.L().Warn("告警发送失败", "tool_id", event.ToolID, "error", err)
	}
	return nil
}
