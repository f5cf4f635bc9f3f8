package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"STORE_BACKEND", "ENFORCE_POLL_WINDOW", "EVENT_SINKS", "SERVER_PORT", "LOCK_BACKEND", "LOG_LEVEL"} {
		t.Setenv(k, "")
	}
	cfg := Load()

	assert.Equal(t, "8090", cfg.HTTPPort)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, StoreMemory, cfg.Store)
	assert.False(t, cfg.Ledger.EnforcePollWindow)
	assert.Equal(t, 3, cfg.Ledger.MaxRetries)
	assert.Equal(t, LockNone, cfg.Lock.Backend)
	assert.True(t, cfg.Events.HasSink(SinkLog))
	assert.True(t, cfg.Events.HasSink(SinkWebsocket))
	assert.False(t, cfg.Events.HasSink(SinkRocketMQ))
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORE_BACKEND", "SQL")
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("ENFORCE_POLL_WINDOW", "true")
	t.Setenv("LEDGER_NAMESPACE", "staging")
	t.Setenv("EVENT_SINKS", "log, RocketMQ ,,redis")
	t.Setenv("ROCKETMQ_NAMESRV_ADDR", "ns1:9876,ns2:9876")
	t.Setenv("LOCK_EXPIRY", "750ms")
	t.Setenv("USER_RATE_LIMIT", "2.5")
	t.Setenv("REDIS_DB", "4")

	cfg := Load()
	assert.Equal(t, StoreSQL, cfg.Store)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.True(t, cfg.Ledger.EnforcePollWindow)
	assert.Equal(t, "staging", cfg.Ledger.Namespace)
	assert.Equal(t, []string{"log", "rocketmq", "redis"}, cfg.Events.Sinks)
	assert.Equal(t, []string{"ns1:9876", "ns2:9876"}, cfg.Events.RocketNameSrv)
	assert.Equal(t, 750*time.Millisecond, cfg.Lock.Expiry)
	assert.Equal(t, 2.5, cfg.RateLimit.UserRate)
	assert.Equal(t, 4, cfg.Redis.DB)
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("ENFORCE_POLL_WINDOW", "maybe")
	t.Setenv("MAX_RETRIES", "many")
	t.Setenv("USER_RATE_LIMIT", "-1")

	cfg := Load()
	assert.False(t, cfg.Ledger.EnforcePollWindow)
	assert.Equal(t, 3, cfg.Ledger.MaxRetries)
	assert.Equal(t, float64(10), cfg.RateLimit.UserRate)
}
