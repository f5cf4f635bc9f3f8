package cache

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"poll-ledger-backend/config"
)

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func TestClientLifecycleLogsStructured(t *testing.T) {
	buf := captureLogs(t)
	mr := miniredis.RunT(t)

	client, err := NewClient(context.Background(), config.Redis{Addr: mr.Addr()})
	require.NoError(t, err)
	Close(client)

	out := buf.String()
	assert.Contains(t, out, `"event":"redis_connecting"`)
	assert.Contains(t, out, `"event":"redis_ready"`)
	assert.Contains(t, out, `"event":"redis_closed"`)
	assert.Contains(t, out, `"module":"cache"`)
	assert.Contains(t, out, `"addr":"`+mr.Addr()+`"`)
}
