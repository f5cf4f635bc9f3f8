package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"poll-ledger-backend/config"
	"poll-ledger-backend/ledger"
	"poll-ledger-backend/ledger/ledgertest"
	"poll-ledger-backend/models"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := NewClient(context.Background(), config.Redis{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { Close(client) })
	return mr, client
}

func TestStoreContract(t *testing.T) {
	ledgertest.RunStoreSuite(t, func(t *testing.T) ledger.Store {
		_, client := newTestClient(t)
		return NewStore(client, "ledger:")
	})
}

func TestScenarioWithDistLocker(t *testing.T) {
	_, client := newTestClient(t)
	svc := ledger.NewService(NewStore(client, "ledger:"), ledger.Config{},
		ledger.WithLocker(NewDistLocker(client, 2*time.Second)))
	ledgertest.RunScenario(t, svc)
}

func TestStoreLayout(t *testing.T) {
	mr, client := newTestClient(t)
	store := NewStore(client, "ledger:")
	addr := ledger.NewDeriver("redis").Poll(1)

	require.NoError(t, store.Update(context.Background(), func(tx ledger.Tx) error {
		return tx.CreateIfAbsent(addr, &models.Poll{PollID: 1, Description: "q"})
	}))

	key := "ledger:" + addr.String()
	assert.Equal(t, models.KindPoll, mr.HGet(key, "kind"))
	assert.Equal(t, "1", mr.HGet(key, "version"))
	assert.Contains(t, mr.HGet(key, "data"), `"description":"q"`)
}

func TestStoreDetectsWatchedWrite(t *testing.T) {
	_, client := newTestClient(t)
	store := NewStore(client, "ledger:")
	addr := ledger.NewDeriver("redis").Poll(1)
	ctx := context.Background()

	err := store.Update(ctx, func(tx ledger.Tx) error {
		var rec models.VoterRecord
		if _, err := tx.GetOrCreate(addr, &rec); err != nil {
			return err
		}
		// another connection writes the watched key before EXEC
		require.NoError(t, client.HSet(ctx, "ledger:"+addr.String(),
			"kind", models.KindVoterRecord, "version", 1, "data", "{}").Err())
		rec.Voted = true
		return tx.Save(addr, &rec)
	})
	assert.ErrorIs(t, err, ledger.ErrConflict)
}

func TestStoreRejectsCorruptRecord(t *testing.T) {
	mr, client := newTestClient(t)
	store := NewStore(client, "ledger:")
	addr := ledger.NewDeriver("redis").Poll(1)
	mr.HSet("ledger:"+addr.String(), "kind", models.KindPoll, "version", "x")

	err := store.View(context.Background(), func(tx ledger.Tx) error {
		return tx.Load(addr, &models.Poll{})
	})
	assert.ErrorIs(t, err, ErrCorruptRecord)
}

func TestNewClientUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewClient(context.Background(), config.Redis{Addr: addr})
	assert.ErrorIs(t, err, ErrRedisNotAvailable)
}
