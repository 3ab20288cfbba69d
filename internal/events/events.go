// Package events 承载调用结束后的用量事件流。网关在每次工具执行后
// 尽力投递一条事件，告警等后台消费者据此驱动，投递失败不影响请求本身。
package events

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// UsageEvent 描述一次已完成的工具调用。
type UsageEvent struct {
	ToolID         string    `json:"tool_id"`
	AgentID        string    `json:"agent_id"`
	PaymentID      string    `json:"payment_id,omitempty"`
	Success        bool      `json:"success"`
	StatusCode     int       `json:"status_code"`
	ErrorType      string    `json:"error_type,omitempty"`
	ResponseTimeMs int64     `json:"response_time_ms"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// Handler 处理一条用量事件。
type Handler func(ctx context.Context, event UsageEvent) error

// Producer 负责向事件流投递。
type Producer interface {
	Publish(ctx context.Context, event UsageEvent) error
	Close() error
}

// Consumer 负责从事件流消费。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Feed 同时具备生产与消费能力。
type Feed interface {
	Producer
	Consumer
}

// Config 描述事件流驱动及其参数。
type Config struct {
	Driver   string
	URL      string
	Queue    string
	Capacity int
}

// NewFeed 按配置选择事件流实现，空驱动默认内存。
func NewFeed(cfg Config) (Feed, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "memory":
		return NewMemoryFeed(cfg.Capacity), nil
	case "rabbitmq":
		return NewRabbitMQFeed(RabbitMQConfig{URL: cfg.URL, Queue: cfg.Queue})
	default:
		return nil, fmt.Errorf("不支持的事件流驱动: %s", cfg.Driver)
	}
}
