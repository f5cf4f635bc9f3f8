package mq

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/apache/rocketmq-client-go/v2"
	"github.com/apache/rocketmq-client-go/v2/primitive"
	"github.com/apache/rocketmq-client-go/v2/producer"
	"github.com/pkg/errors"

	"poll-ledger-backend/config"
	"poll-ledger-backend/ledger"
)

// sender 是RocketMQ生产者中用到的部分
type sender interface {
	SendSync(ctx context.Context, msgs ...*primitive.Message) (*primitive.SendResult, error)
	Shutdown() error
}

// RocketProducer 把账本事件发送到RocketMQ主题
type RocketProducer struct {
	p       sender
	topic   string
	timeout time.Duration
	logger  *slog.Logger
}

// NewRocketProducer 创建并启动RocketMQ生产者
func NewRocketProducer(cfg config.Events, logger *slog.Logger) (*RocketProducer, error) {
	p, err := rocketmq.NewProducer(
		producer.WithNameServer(cfg.RocketNameSrv),
		producer.WithGroupName(cfg.RocketGroup),
		producer.WithRetry(cfg.RocketRetries),
		producer.WithSendMsgTimeout(cfg.PublishTimeout),
		producer.WithVIPChannel(false),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create rocketmq producer")
	}
	if err := p.Start(); err != nil {
		return nil, errors.Wrap(err, "start rocketmq producer")
	}
	return newRocketProducer(p, cfg.RocketTopic, cfg.PublishTimeout, logger), nil
}

func newRocketProducer(p sender, topic string, timeout time.Duration, logger *slog.Logger) *RocketProducer {
	return &RocketProducer{
		p:       p,
		topic:   topic,
		timeout: timeout,
		logger:  ledger.ResolveLogger(logger).With("module", "mq", "topic", topic),
	}
}

// Emit 同步发送事件；同一投票的事件使用相同的分区键以保证顺序
func (r *RocketProducer) Emit(ctx context.Context, ev ledger.Event) error {
	body, err := json.Marshal(Message{MessageID: ev.ID, Timestamp: time.Now().Unix(), Event: ev})
	if err != nil {
		return err
	}

	msg := primitive.NewMessage(r.topic, body)
	msg.WithTag(string(ev.Type))
	msg.WithKeys([]string{ev.ID})
	msg.WithShardingKey(strconv.FormatUint(ev.PollID, 10))

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	res, err := r.p.SendSync(ctx, msg)
	if err != nil {
		return errors.Wrap(err, "rocketmq send")
	}
	r.logger.DebugContext(ctx, "event published", "msg_id", res.MsgID, "event_id", ev.ID)
	return nil
}

// Close 关闭RocketMQ生产者
func (r *RocketProducer) Close() {
	if err := r.p.Shutdown(); err != nil {
		r.logger.Warn("rocketmq shutdown failed", "error", err)
	}
}
