package handlers

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"poll-ledger-backend/ledger"
	"poll-ledger-backend/websocket"
)

// heartbeatInterval SSE心跳间隔
var heartbeatInterval = 15 * time.Second

// LiveHandler 通过SSE推送投票事件
type LiveHandler struct {
	svc *ledger.Service
	hub *websocket.Hub
}

// NewLiveHandler 创建SSE处理器
func NewLiveHandler(svc *ledger.Service, hub *websocket.Hub) *LiveHandler {
	return &LiveHandler{svc: svc, hub: hub}
}

// HandleSSE 处理 GET /api/polls/:id/live。先发送投票快照，之后每个账本事件一条消息。
func (h *LiveHandler) HandleSSE(c *gin.Context) {
	pollID, ok := pollParam(c)
	if !ok {
		return
	}
	snapshot, err := h.svc.Poll(c.Request.Context(), pollID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no") // 禁用Nginx缓冲

	client := websocket.NewClient(pollID, nil)
	h.hub.RegisterClient(client)
	defer h.hub.UnregisterClient(client)

	c.SSEvent("snapshot", snapshot)
	c.Writer.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case msg, ok := <-client.Messages():
			if !ok {
				return false
			}
			c.Render(-1, sseData{event: "ledger", data: msg})
			return true
		case <-heartbeat.C:
			c.SSEvent("heartbeat", gin.H{"time": time.Now().Format(time.RFC3339)})
			return true
		}
	})
}

// sseData 直接写出已序列化的事件，避免二次编码
type sseData struct {
	event string
	data  []byte
}

func (s sseData) Render(w http.ResponseWriter) error {
	if _, err := io.WriteString(w, "event:"+s.event+"\ndata:"); err != nil {
		return err
	}
	if _, err := w.Write(s.data); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n\n")
	return err
}

func (s sseData) WriteContentType(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
}
