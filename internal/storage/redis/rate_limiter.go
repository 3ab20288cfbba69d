package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"ChainBazaar/pkg/logger"
)

// RateLimiter 基于 Redis 计数器做固定窗口限流。
// Redis 不可用时放行请求:限流是保护措施,不是计费的一部分。
type RateLimiter struct {
	client *goredis.Client
	prefix string
	limit  int64
	window time.Duration
}

// Config 描述限流器的连接与阈值参数。
type Config struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	Limit    int64
	Window   time.Duration
}

// NewRateLimiter 创建 Redis 限流器。
func NewRateLimiter(cfg Config) (*RateLimiter, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, fmt.Errorf("Redis 地址不能为空")
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 3
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Hour
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "bazaar:ratelimit"
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &RateLimiter{
		client: client,
		prefix: cfg.Prefix,
		limit:  cfg.Limit,
		window: cfg.Window,
	}, nil
}

// Allow 对 key 计数并判断是否放行。窗口在第一次计数时开启。
func (r *RateLimiter) Allow(ctx context.Context, key string) bool {
	redisKey := r.prefix + ":" + key

	count, err := r.client.Incr(ctx, redisKey).Result()
	if err != nil {
		logger.L().Warn("限流计数失败，放行请求", "key", key, "error", err)
		return true
	}
	if count == 1 {
		if err := r.client.Expire(ctx, redisKey, r.window).Err(); err != nil {
			logger.L().Warn("设置限流窗口失败", "key", key, "error", err)
		}
	}
	return count <= r.limit
}

// Close 释放 Redis 连接。
func (r *RateLimiter) Close() error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Close()
}

// AlwaysAllow 是无 Redis 环境下的空实现。
type AlwaysAllow struct{}

// Allow 恒定放行。
func (AlwaysAllow) Allow(context.Context, string) bool { return true }

// Close 实现关闭接口。
func (AlwaysAllow) Close() error { return nil }
