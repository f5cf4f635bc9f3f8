package mq

import (
	"log/slog"

	"github.com/redis/go-redis/v9"

	"poll-ledger-backend/config"
	"poll-ledger-backend/ledger"
)

// Sinks 构建事件发送器时可用的依赖
type Sinks struct {
	Redis  redis.UniversalClient
	Hub    ledger.Emitter
	Logger *slog.Logger
}

// Adapter 按配置组合事件发送器，并负责关闭它们
type Adapter struct {
	Emitter ledger.MultiEmitter
	Queue   *RedisQueue
	Rocket  *RocketProducer
}

// NewAdapter 根据EVENT_SINKS创建事件发送器。无法使用的sink会记录警告后跳过。
func NewAdapter(cfg config.Events, sinks Sinks) *Adapter {
	logger := ledger.ResolveLogger(sinks.Logger)
	a := &Adapter{}

	for _, name := range cfg.Sinks {
		switch name {
		case config.SinkLog:
			a.Emitter = append(a.Emitter, ledger.LogEmitter{Logger: logger})
		case config.SinkWebsocket:
			if sinks.Hub != nil {
				a.Emitter = append(a.Emitter, sinks.Hub)
			}
		case config.SinkRedis:
			if sinks.Redis == nil {
				logger.Warn("redis event sink requested without redis", "event", "sink_skipped", "sink", name)
				continue
			}
			a.Queue = NewRedisQueue(sinks.Redis, cfg.Queue, logger)
			a.Emitter = append(a.Emitter, a.Queue)
		case config.SinkRocketMQ:
			p, err := NewRocketProducer(cfg, logger)
			if err != nil {
				logger.Warn("rocketmq unavailable", "event", "sink_skipped", "sink", name, "error", err)
				continue
			}
			a.Rocket = p
			a.Emitter = append(a.Emitter, p)
		default:
			logger.Warn("unknown event sink", "event", "sink_skipped", "sink", name)
		}
	}
	return a
}

// Close 关闭消费者和生产者
func (a *Adapter) Close() {
	if a.Queue != nil {
		a.Queue.Stop()
	}
	if a.Rocket != nil {
		a.Rocket.Close()
	}
}
