package mq

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"

	"poll-ledger-backend/ledger"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Message 队列中的消息结构
type Message struct {
	MessageID string       `json:"message_id"` // 用于幂等性处理
	Timestamp int64        `json:"timestamp"`
	Event     ledger.Event `json:"event"`
}

// Handler 处理一条出队的事件
type Handler func(ctx context.Context, ev ledger.Event) error

// RedisQueue 基于Redis列表实现的事件队列
type RedisQueue struct {
	client       redis.UniversalClient
	name         string
	maxRetries   int
	pollTimeout  time.Duration
	idempotentTT time.Duration
	logger       *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewRedisQueue 创建新的基于Redis的事件队列
func NewRedisQueue(client redis.UniversalClient, name string, logger *slog.Logger) *RedisQueue {
	return &RedisQueue{
		client:       client,
		name:         name,
		maxRetries:   3,
		pollTimeout:  time.Second,
		idempotentTT: 48 * time.Hour,
		logger:       ledger.ResolveLogger(logger).With("module", "mq", "queue", name),
	}
}

func (q *RedisQueue) processingName() string { return q.name + ":processing" }
func (q *RedisQueue) deadLetterName() string { return q.name + ":dead_letter" }
func (q *RedisQueue) retriesName() string    { return q.name + ":retries" }
func (q *RedisQueue) idsName() string        { return q.name + ":message_ids" }

// Emit 发送事件到主队列，同一事件ID只入队一次
func (q *RedisQueue) Emit(ctx context.Context, ev ledger.Event) error {
	body, err := json.Marshal(Message{MessageID: ev.ID, Timestamp: time.Now().Unix(), Event: ev})
	if err != nil {
		return err
	}

	added, err := q.client.SAdd(ctx, q.idsName(), ev.ID).Result()
	if err != nil {
		return err
	}
	if added == 0 {
		q.logger.DebugContext(ctx, "duplicate event skipped", "event_id", ev.ID)
		return nil
	}
	// 设置过期时间，避免集合无限增长
	q.client.Expire(ctx, q.idsName(), q.idempotentTT)

	return q.client.LPush(ctx, q.name, body).Err()
}

// Start 启动消费者，事件按入队顺序交给handler
func (q *RedisQueue) Start(ctx context.Context, handler Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return
	}
	ctx, q.cancel = context.WithCancel(ctx)
	q.running = true

	q.wg.Add(1)
	go q.consumeLoop(ctx, handler)
	q.logger.Info("queue consumer started")
}

// Stop 关闭消费者并等待当前消息处理完成
func (q *RedisQueue) Stop() {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	q.cancel()
	q.running = false
	q.mu.Unlock()

	q.wg.Wait()
	q.logger.Info("queue consumer stopped")
}

func (q *RedisQueue) consumeLoop(ctx context.Context, handler Handler) {
	defer q.wg.Done()
	for {
		if ctx.Err() != nil {
			return
		}
		// 原子地从主队列取出并移动到处理中队列
		raw, err := q.client.BRPopLPush(ctx, q.name, q.processingName(), q.pollTimeout).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
				q.logger.Warn("dequeue failed", "error", err)
				time.Sleep(q.pollTimeout)
			}
			continue
		}
		q.process(ctx, handler, raw)
	}
}

func (q *RedisQueue) process(ctx context.Context, handler Handler, raw string) {
	defer q.client.LRem(context.WithoutCancel(ctx), q.processingName(), 1, raw)

	var msg Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		q.logger.Warn("undecodable message moved to dead letter", "error", err)
		q.client.LPush(ctx, q.deadLetterName(), raw)
		return
	}

	if err := handler(ctx, msg.Event); err != nil {
		retries, _ := q.client.HIncrBy(ctx, q.retriesName(), msg.MessageID, 1).Result()
		if int(retries) > q.maxRetries {
			q.logger.Warn("message exceeded retries, moved to dead letter",
				"message_id", msg.MessageID, "error", err)
			q.client.LPush(ctx, q.deadLetterName(), raw)
			q.client.HDel(ctx, q.retriesName(), msg.MessageID)
			return
		}
		q.logger.Info("message requeued", "message_id", msg.MessageID,
			"retries", strconv.FormatInt(retries, 10), "error", err)
		q.client.LPush(ctx, q.name, raw)
		return
	}
	q.client.HDel(ctx, q.retriesName(), msg.MessageID)
}

// Stats 获取各队列的消息数量统计
func (q *RedisQueue) Stats(ctx context.Context) map[string]int64 {
	stats := make(map[string]int64, 3)
	stats["main_queue"], _ = q.client.LLen(ctx, q.name).Result()
	stats["processing_queue"], _ = q.client.LLen(ctx, q.processingName()).Result()
	stats["dead_letter_queue"], _ = q.client.LLen(ctx, q.deadLetterName()).Result()
	return stats
}
