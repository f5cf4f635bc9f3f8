package cache

import (
	"context"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"poll-ledger-backend/ledger"
)

// DistLocker 基于redsync的分布式锁，实现ledger.Locker
type DistLocker struct {
	rs     *redsync.Redsync
	expiry time.Duration
	tries  int
}

// NewDistLocker 使用现有的Redis客户端创建分布式锁
func NewDistLocker(client redis.UniversalClient, expiry time.Duration) *DistLocker {
	pool := goredis.NewPool(client)
	return &DistLocker{
		rs:     redsync.New(pool),
		expiry: expiry,
		tries:  32,
	}
}

func (l *DistLocker) newMutex(key string) *redsync.Mutex {
	return l.rs.NewMutex("ledger:lock:"+key,
		redsync.WithExpiry(l.expiry),
		redsync.WithTries(l.tries),                  // 最大重试次数
		redsync.WithRetryDelay(50*time.Millisecond), // 重试延迟
		redsync.WithDriftFactor(0.01),               // 时钟漂移因子
	)
}

// Lock 按排序后的顺序依次加锁，任何一个失败都会释放已获取的锁
func (l *DistLocker) Lock(ctx context.Context, keys []string) (func(), error) {
	keys = ledger.SortKeys(keys)
	held := make([]*redsync.Mutex, 0, len(keys))
	unlock := func() {
		for i := len(held) - 1; i >= 0; i-- {
			// 确保解锁，即使请求上下文已取消
			_, _ = held[i].UnlockContext(context.Background())
		}
	}

	for _, k := range keys {
		m := l.newMutex(k)
		if err := m.LockContext(ctx); err != nil {
			unlock()
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, errors.Wrapf(ErrLockNotAcquired, "%s: %v", k, err)
		}
		held = append(held, m)
	}
	return unlock, nil
}
