package websocket

import (
	"context"
	"log/slog"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/gorilla/websocket"

	"poll-ledger-backend/ledger"
)

// Client 代表一个WebSocket连接客户端
type Client struct {
	// 订阅的投票ID
	PollID uint64

	// WebSocket连接
	conn *websocket.Conn

	// 消息发送通道
	send chan []byte
}

// NewClient 创建客户端，conn为nil时只通过Messages读取消息
func NewClient(pollID uint64, conn *websocket.Conn) *Client {
	return &Client{PollID: pollID, conn: conn, send: make(chan []byte, 256)}
}

// Messages 返回客户端的发送通道，Hub注销客户端时关闭
func (c *Client) Messages() <-chan []byte { return c.send }

// Hub 维护活跃的客户端集合并向客户端广播账本事件
type Hub struct {
	// 已注册的客户端，按投票ID分组
	clients map[uint64]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	// 互斥锁保护clients map
	mu     sync.RWMutex
	logger *slog.Logger
}

// NewHub 创建一个新的Hub
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[uint64]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     ledger.ResolveLogger(logger).With("module", "websocket"),
	}
}

// Run 启动Hub消息处理循环，直到ctx结束
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if _, ok := h.clients[client.PollID]; !ok {
				h.clients[client.PollID] = make(map[*Client]bool)
			}
			h.clients[client.PollID][client] = true
			n := len(h.clients[client.PollID])
			h.mu.Unlock()
			h.logger.Debug("client registered", "poll_id", client.PollID, "clients", n)

		case client := <-h.unregister:
			h.mu.Lock()
			h.remove(client)
			h.mu.Unlock()
			h.logger.Debug("client unregistered", "poll_id", client.PollID)

		case <-ctx.Done():
			h.mu.Lock()
			for _, set := range h.clients {
				for client := range set {
					h.remove(client)
				}
			}
			h.mu.Unlock()
			return
		}
	}
}

// remove 调用方需持有写锁
func (h *Hub) remove(client *Client) {
	set, ok := h.clients[client.PollID]
	if !ok {
		return
	}
	if _, ok := set[client]; !ok {
		return
	}
	delete(set, client)
	close(client.send)
	if len(set) == 0 {
		delete(h.clients, client.PollID)
	}
}

// Emit 实现ledger.Emitter，把事件广播给订阅该投票的客户端
func (h *Hub) Emit(_ context.Context, ev ledger.Event) error {
	payload, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(ev)
	if err != nil {
		return err
	}
	h.BroadcastToPoll(ev.PollID, payload)
	return nil
}

// BroadcastToPoll 向特定投票的所有连接客户端广播消息
func (h *Hub) BroadcastToPoll(pollID uint64, payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients[pollID] {
		select {
		case client.send <- payload:
		default:
			// 客户端的发送缓冲区已满，断开连接
			h.remove(client)
		}
	}
}

// ClientCount 返回订阅某个投票的客户端数量
func (h *Hub) ClientCount(pollID uint64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[pollID])
}

// RegisterClient 注册客户端到Hub
func (h *Hub) RegisterClient(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		close(client.send)
	}
}

// UnregisterClient 从Hub中注销客户端
func (h *Hub) UnregisterClient(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}
