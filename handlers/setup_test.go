package handlers

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/require"

	"poll-ledger-backend/ledger"
	"poll-ledger-backend/websocket"
)

// testEnv 测试用的路由和依赖
type testEnv struct {
	router *gin.Engine
	svc    *ledger.Service
	hub    *websocket.Hub
	store  *ledger.MemoryStore
	now    time.Time
}

// SetupTestEnvironment 使用内存存储创建与main.go相同的路由
func SetupTestEnvironment(t *testing.T, cfg ledger.Config, extra ...gin.HandlerFunc) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	env := &testEnv{store: ledger.NewMemoryStore(), now: time.Unix(1_700_000_000, 0)}
	env.hub = websocket.NewHub(nil)
	go env.hub.Run(ctx)
	env.svc = ledger.NewService(env.store, cfg,
		ledger.WithEmitter(env.hub),
		ledger.WithClock(ledger.ClockFunc(func() time.Time { return env.now })),
	)

	router := gin.New()
	config := cors.DefaultConfig()
	config.AllowOrigins = []string{"*"}
	config.AllowHeaders = []string{"Origin", "Content-Type", IdentityHeader}
	router.Use(cors.New(config))

	api := router.Group("/api")
	health := NewHealthHandler(env.store)
	api.GET("/health", health.HealthCheck)
	api.GET("/status", health.SystemStatus)
	NewPollHandler(env.svc, nil).RegisterRoutes(api, extra...)
	api.GET("/polls/:id/live", NewLiveHandler(env.svc, env.hub).HandleSSE)

	env.router = router
	return env
}

// do 发送JSON请求，identity为空时不带身份头
func (e *testEnv) do(t *testing.T, method, path, identity string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, jsoniter.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if identity != "" {
		req.Header.Set(IdentityHeader, identity)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, jsoniter.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}
