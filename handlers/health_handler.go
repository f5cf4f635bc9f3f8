package handlers

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"

	"poll-ledger-backend/ledger"
)

// SystemInfo 系统状态信息
type SystemInfo struct {
	Status       string    `json:"status"`
	Version      string    `json:"version"`
	Uptime       string    `json:"uptime"`
	StartTime    time.Time `json:"start_time"`
	CurrentTime  time.Time `json:"current_time"`
	GoVersion    string    `json:"go_version"`
	NumGoroutine int       `json:"num_goroutine"`
	NumCPU       int       `json:"num_cpu"`
	StoreStatus  string    `json:"store_status"`
}

// Version 应用版本，可通过构建参数注入
var Version = "0.1.0"

// HealthHandler 健康检查
type HealthHandler struct {
	store   ledger.Store
	started time.Time
}

// NewHealthHandler 创建健康检查处理器
func NewHealthHandler(store ledger.Store) *HealthHandler {
	return &HealthHandler{store: store, started: time.Now()}
}

// HealthCheck 处理 GET /api/health，存储不可用时返回503
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	if err := h.store.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unavailable",
			"error":  err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// SystemStatus 处理 GET /api/status
func (h *HealthHandler) SystemStatus(c *gin.Context) {
	storeStatus := "ok"
	if err := h.store.Ping(c.Request.Context()); err != nil {
		storeStatus = "error"
	}

	c.JSON(http.StatusOK, SystemInfo{
		Status:       "ok",
		Version:      Version,
		Uptime:       time.Since(h.started).String(),
		StartTime:    h.started,
		CurrentTime:  time.Now(),
		GoVersion:    runtime.Version(),
		NumGoroutine: runtime.NumGoroutine(),
		NumCPU:       runtime.NumCPU(),
		StoreStatus:  storeStatus,
	})
}
