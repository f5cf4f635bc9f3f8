package websocket

import (
	"context"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"poll-ledger-backend/ledger"
)

func runHub(t *testing.T) *Hub {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	hub := NewHub(nil)
	go hub.Run(ctx)
	return hub
}

func TestHubRoutesEventsByPoll(t *testing.T) {
	hub := runHub(t)
	one := NewClient(1, nil)
	two := NewClient(2, nil)
	hub.RegisterClient(one)
	hub.RegisterClient(two)
	require.Eventually(t, func() bool {
		return hub.ClientCount(1) == 1 && hub.ClientCount(2) == 1
	}, time.Second, 5*time.Millisecond)

	ev := ledger.Event{ID: "e1", Type: ledger.EventVoteCast, PollID: 1, CandidateName: "Apple", CandidateVotes: 1, TotalVotes: 1}
	require.NoError(t, hub.Emit(context.Background(), ev))

	select {
	case payload := <-one.Messages():
		var got ledger.Event
		require.NoError(t, jsoniter.Unmarshal(payload, &got))
		assert.Equal(t, ev.ID, got.ID)
		assert.Equal(t, "Apple", got.CandidateName)
	case <-time.After(time.Second):
		t.Fatal("subscriber of poll 1 got nothing")
	}
	assert.Empty(t, two.Messages())
}

func TestHubUnregisterClosesClient(t *testing.T) {
	hub := runHub(t)
	c := NewClient(7, nil)
	hub.RegisterClient(c)
	require.Eventually(t, func() bool { return hub.ClientCount(7) == 1 }, time.Second, 5*time.Millisecond)

	hub.UnregisterClient(c)
	require.Eventually(t, func() bool { return hub.ClientCount(7) == 0 }, time.Second, 5*time.Millisecond)
	_, ok := <-c.Messages()
	assert.False(t, ok)
}

func TestHubDropsSlowClient(t *testing.T) {
	hub := runHub(t)
	c := NewClient(3, nil)
	hub.RegisterClient(c)
	require.Eventually(t, func() bool { return hub.ClientCount(3) == 1 }, time.Second, 5*time.Millisecond)

	for i := 0; i < cap(c.send)+1; i++ {
		hub.BroadcastToPoll(3, []byte("x"))
	}
	assert.Equal(t, 0, hub.ClientCount(3))
}

func TestHubShutdownReleasesClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(nil)
	go hub.Run(ctx)

	c := NewClient(9, nil)
	hub.RegisterClient(c)
	cancel()
	<-hub.done

	// 关闭后注册不会阻塞，通道直接关闭
	late := NewClient(9, nil)
	hub.RegisterClient(late)
	_, ok := <-late.Messages()
	assert.False(t, ok)
	assert.Equal(t, 0, hub.ClientCount(9))
}
