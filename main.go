package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"poll-ledger-backend/cache"
	"poll-ledger-backend/config"
	"poll-ledger-backend/database"
	"poll-ledger-backend/docstore"
	"poll-ledger-backend/handlers"
	"poll-ledger-backend/ledger"
	"poll-ledger-backend/mq"
	"poll-ledger-backend/routes"
	"poll-ledger-backend/websocket"
)

// closers 按注册的逆序关闭资源
type closers []func()

func (c *closers) add(fn func()) { *c = append(*c, fn) }

func (c closers) closeAll() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

func newLogger(cfg config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})).
		With("service", cfg.ServiceName)
}

// openRedis 按需连接Redis，多个组件共享同一个客户端
func openRedis(ctx context.Context, cfg config.Config, res *closers) func() (*redis.Client, error) {
	var client *redis.Client
	return func() (*redis.Client, error) {
		if client != nil {
			return client, nil
		}
		c, err := cache.NewClient(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		client = c
		res.add(func() { cache.Close(c) })
		return client, nil
	}
}

// openStore 根据STORE_BACKEND创建账本存储
func openStore(ctx context.Context, cfg config.Config, redisClient func() (*redis.Client, error), res *closers) (ledger.Store, error) {
	switch cfg.Store {
	case config.StoreMemory:
		return ledger.NewMemoryStore(), nil
	case config.StoreSQL:
		db, err := database.Open(cfg.Database)
		if err != nil {
			return nil, err
		}
		res.add(func() { database.Close(db) })
		return database.NewStore(db), nil
	case config.StoreRedis:
		client, err := redisClient()
		if err != nil {
			return nil, err
		}
		return cache.NewStore(client, cfg.Redis.Prefix), nil
	case config.StoreFirestore:
		client, err := docstore.Open(ctx, cfg.Firestore)
		if err != nil {
			return nil, err
		}
		res.add(func() { _ = client.Close() })
		return docstore.NewStore(client, cfg.Firestore.Collection), nil
	default:
		return nil, errors.Errorf("unknown store backend %q", cfg.Store)
	}
}

// openLocker 根据LOCK_BACKEND创建锁，none时返回nil
func openLocker(cfg config.Config, redisClient func() (*redis.Client, error)) (ledger.Locker, error) {
	switch cfg.Lock.Backend {
	case config.LockNone, "":
		return nil, nil
	case config.LockLocal:
		return ledger.NewLocalLocker(), nil
	case config.LockRedis:
		client, err := redisClient()
		if err != nil {
			return nil, err
		}
		return cache.NewDistLocker(client, cfg.Lock.Expiry), nil
	default:
		return nil, errors.Errorf("unknown lock backend %q", cfg.Lock.Backend)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	var res closers
	defer res.closeAll()

	redisClient := openRedis(ctx, cfg, &res)

	store, err := openStore(ctx, cfg, redisClient, &res)
	if err != nil {
		return errors.Wrap(err, "open store")
	}
	logger.Info("账本存储初始化成功", "event", "store_ready", "backend", cfg.Store)

	locker, err := openLocker(cfg, redisClient)
	if err != nil {
		return errors.Wrap(err, "open locker")
	}

	hub := websocket.NewHub(logger)
	go hub.Run(ctx)

	sinks := mq.Sinks{Logger: logger}
	if !cfg.Events.Relay {
		sinks.Hub = hub
	}
	if cfg.Events.HasSink(config.SinkRedis) {
		if client, err := redisClient(); err == nil {
			sinks.Redis = client
		} else {
			logger.Warn("Redis不可用，跳过事件队列", "event", "sink_skipped", "error", err)
		}
	}
	events := mq.NewAdapter(cfg.Events, sinks)
	res.add(events.Close)

	// 中继模式下websocket只推送从队列消费到的事件
	if cfg.Events.Relay && events.Queue != nil {
		events.Queue.Start(ctx, hub.Emit)
		logger.Info("事件中继已启动", "event", "relay_started", "queue", cfg.Events.Queue)
	}

	opts := []ledger.Option{ledger.WithEmitter(events.Emitter), ledger.WithLogger(logger)}
	if locker != nil {
		opts = append(opts, ledger.WithLocker(locker))
	}
	svc := ledger.NewService(store, ledger.Config{
		Namespace:         cfg.Ledger.Namespace,
		EnforcePollWindow: cfg.Ledger.EnforcePollWindow,
		Retry:             ledger.RetryPolicy{MaxAttempts: cfg.Ledger.MaxRetries, Backoff: ledger.DefaultRetryPolicy.Backoff},
	}, opts...)

	deps := routes.Deps{Service: svc, Hub: hub, Logger: logger}
	if cfg.RateLimit.Enabled {
		if client, err := redisClient(); err == nil {
			deps.Limiter = cache.NewRateLimiter(client, cfg.Redis.Prefix, cfg.RateLimit.UserRate, cfg.RateLimit.UserBurst)
		} else {
			logger.Warn("Redis不可用，使用本地限流器", "event", "ratelimit_local", "error", err)
			deps.Limiter = handlers.NewLocalLimiter(cfg.RateLimit.UserRate, cfg.RateLimit.UserBurst)
		}
	}

	gin.SetMode(gin.ReleaseMode)
	srv := routes.StartServer(routes.SetupRouter(deps), cfg.HTTPPort, logger)

	<-ctx.Done()
	logger.Info("关闭服务器...", "event", "shutdown")

	// 不接受新请求并等待现有请求完成
	if err := srv.Shutdown(5 * time.Second); err != nil {
		return errors.Wrap(err, "server shutdown")
	}
	return nil
}

func main() {
	cfg := config.Load()
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	// 等待中断信号以优雅地关闭服务器
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("服务器异常退出", "event", "fatal", "error", err)
		os.Exit(1)
	}
	logger.Info("服务器优雅关闭", "event", "stopped")
}
