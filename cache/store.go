package cache

import (
	"context"
	"strconv"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"poll-ledger-backend/ledger"
)

// Store 基于Redis的账本存储
//
// 每条记录保存为一个hash(kind, data, version)。Update会WATCH所有读取过的键，
// 写入在MULTI/EXEC中统一提交，被并发修改时返回ledger.ErrConflict。
type Store struct {
	client redis.UniversalClient
	prefix string
}

// NewStore 创建Redis账本存储
func NewStore(client redis.UniversalClient, prefix string) *Store {
	return &Store{client: client, prefix: prefix}
}

func (s *Store) key(addr ledger.Address) string {
	return s.prefix + addr.String()
}

func (s *Store) Update(ctx context.Context, fn func(tx ledger.Tx) error) error {
	err := s.client.Watch(ctx, func(rtx *redis.Tx) error {
		btx := ledger.NewBufferedTx(func(addr ledger.Address) (ledger.Entry, bool, error) {
			key := s.key(addr)
			if err := rtx.Watch(ctx, key).Err(); err != nil {
				return ledger.Entry{}, false, errors.Wrapf(err, "watch %s", key)
			}
			return read(ctx, rtx, key)
		}, false)

		if err := fn(btx); err != nil {
			return err
		}
		writes := btx.Writes()
		if len(writes) == 0 {
			return nil
		}

		_, err := rtx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, w := range writes {
				pipe.HSet(ctx, s.key(w.Addr),
					"kind", w.Entry.Kind,
					"data", w.Entry.Data,
					"version", w.Entry.Version,
				)
			}
			return nil
		})
		return err
	})
	if errors.Is(err, redis.TxFailedErr) {
		return ledger.ErrConflict
	}
	return err
}

func (s *Store) View(ctx context.Context, fn func(tx ledger.Tx) error) error {
	return fn(ledger.NewBufferedTx(func(addr ledger.Address) (ledger.Entry, bool, error) {
		return read(ctx, s.client, s.key(addr))
	}, true))
}

func (s *Store) Ping(ctx context.Context) error {
	return errors.WithStack(s.client.Ping(ctx).Err())
}

// read 读取一条记录，键不存在时ok为false
func read(ctx context.Context, c redis.Cmdable, key string) (ledger.Entry, bool, error) {
	vals, err := c.HGetAll(ctx, key).Result()
	if err != nil {
		return ledger.Entry{}, false, errors.Wrapf(err, "hgetall %s", key)
	}
	if len(vals) == 0 {
		return ledger.Entry{}, false, nil
	}
	kind, ok := vals["kind"]
	if !ok {
		return ledger.Entry{}, false, errors.Wrapf(ErrCorruptRecord, "%s: missing kind", key)
	}
	version, err := strconv.ParseInt(vals["version"], 10, 64)
	if err != nil {
		return ledger.Entry{}, false, errors.Wrapf(ErrCorruptRecord, "%s: version %q", key, vals["version"])
	}
	return ledger.Entry{Kind: kind, Data: []byte(vals["data"]), Version: version}, true, nil
}
