package routes

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"poll-ledger-backend/handlers"
	"poll-ledger-backend/ledger"
	"poll-ledger-backend/websocket"
)

// Server 是HTTP服务器的封装
type Server struct {
	*http.Server
}

// Deps 路由依赖
type Deps struct {
	Service *ledger.Service
	Hub     *websocket.Hub
	// Limiter 为nil时不限流
	Limiter handlers.Limiter
	Logger  *slog.Logger
}

// SetupRouter 设置和配置Gin路由
func SetupRouter(deps Deps) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), handlers.RequestLogger(deps.Logger))

	// 配置CORS中间件
	router.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"}, // 生产环境中应限制为前端域名
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", handlers.IdentityHeader},
		ExposeHeaders: []string{"Content-Length", handlers.RequestIDHeader},
		MaxAge:        12 * time.Hour,
	}))

	api := router.Group("/api")

	// 健康检查端点
	health := handlers.NewHealthHandler(deps.Service.Store())
	api.GET("/health", health.HealthCheck)
	api.GET("/status", health.SystemStatus)

	var writeMiddleware []gin.HandlerFunc
	if deps.Limiter != nil {
		rl := handlers.NewRateLimit(deps.Limiter, deps.Logger)
		writeMiddleware = append(writeMiddleware, rl.Middleware())
		api.GET("/ratelimit/stats", rl.Stats)
	}

	handlers.NewPollHandler(deps.Service, deps.Logger).RegisterRoutes(api, writeMiddleware...)

	// 实时更新端点（WebSocket和SSE）
	if deps.Hub != nil {
		api.GET("/polls/:id/ws", websocket.NewHandler(deps.Hub).Serve)
		api.GET("/polls/:id/live", handlers.NewLiveHandler(deps.Service, deps.Hub).HandleSSE)
	}

	return router
}

// StartServer 在单独的goroutine中启动HTTP服务器
func StartServer(router *gin.Engine, port string, logger *slog.Logger) *Server {
	logger = ledger.ResolveLogger(logger)
	addr := ":" + port

	srv := &Server{
		&http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}

	go func() {
		logger.Info("服务器启动", "event", "server_started", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("服务器启动失败", "event", "server_failed", "error", err)
		}
	}()

	return srv
}

// Shutdown 在超时内优雅关闭服务器
func (s *Server) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.Server.Shutdown(ctx)
}
