package handlers

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"poll-ledger-backend/ledger"
)

// RequestIDHeader 请求ID头
const RequestIDHeader = "X-Request-ID"

// RequestLogger 为每个请求分配请求ID并记录访问日志
func RequestLogger(logger *slog.Logger) gin.HandlerFunc {
	logger = ledger.ResolveLogger(logger).With("module", "http")
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(RequestIDHeader, id)

		start := time.Now()
		c.Next()

		logger.InfoContext(c.Request.Context(), "request",
			"event", "http_request",
			"request_id", id,
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"identity", c.GetString(identityKey),
		)
	}
}
