package cache

import (
	"errors"
	"fmt"

	"poll-ledger-backend/ledger"
)

var (
	// ErrRedisNotAvailable Redis不可用错误
	ErrRedisNotAvailable = errors.New("redis not available")

	// ErrLockNotAcquired 获取锁失败，按写冲突处理，调用方可以重试
	ErrLockNotAcquired = fmt.Errorf("distributed lock not acquired: %w", ledger.ErrConflict)

	// ErrCorruptRecord 记录字段缺失或无法解析
	ErrCorruptRecord = errors.New("corrupt ledger record in redis")
)
