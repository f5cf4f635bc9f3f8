package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"poll-ledger-backend/config"
)

// NewClient 创建Redis客户端并测试连接
func NewClient(ctx context.Context, cfg config.Redis) (*redis.Client, error) {
	logger := slog.Default().With("module", "cache")
	logger.Info("初始化Redis连接", "event", "redis_connecting", "addr", cfg.Addr)

	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 3 * time.Second,
		ReadTimeout: 3 * time.Second,
		PoolSize:    10,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(ErrRedisNotAvailable, "ping %s: %v", cfg.Addr, err)
	}

	logger.Info("Redis连接初始化成功", "event", "redis_ready", "addr", cfg.Addr, "db", cfg.DB)
	return client, nil
}

// Close 关闭Redis连接
func Close(client redis.UniversalClient) {
	if client == nil {
		return
	}
	logger := slog.Default().With("module", "cache")
	if err := client.Close(); err != nil {
		logger.Error("关闭Redis连接错误", "event", "redis_close_failed", "error", err)
		return
	}
	logger.Info("Redis连接已关闭", "event", "redis_closed")
}
