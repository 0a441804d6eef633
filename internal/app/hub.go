package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Hub fans already-serialized frames out to websocket clients. A client
// that cannot keep up is disconnected rather than slowing everyone else.
type Hub struct {
	logger *slog.Logger

	broadcast  chan []byte
	register   chan *wsClient
	unregister chan *wsClient
	// done is closed when Run returns.
	done chan struct{}

	mu      sync.Mutex
	clients map[*wsClient]struct{}

	sendBuf int

	// onMessage receives every text frame a client sends. May be nil.
	onMessage func([]byte)
	// greeting returns the frames sent to a client right after it connects.
	greeting func() [][]byte
}

// NewHub constructs a hub. Call Run(ctx) to start it.
func NewHub(logger *slog.Logger, sendBuf int, onMessage func([]byte), greeting func() [][]byte) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if sendBuf <= 0 {
		sendBuf = 32
	}
	return &Hub{
		logger:     logger.With("component", "ws"),
		broadcast:  make(chan []byte, 128),
		register:   make(chan *wsClient, 64),
		unregister: make(chan *wsClient, 64),
		done:       make(chan struct{}),
		clients:    make(map[*wsClient]struct{}),
		sendBuf:    sendBuf,
		onMessage:  onMessage,
		greeting:   greeting,
	}
}

// Run processes hub events until ctx is cancelled, then disconnects all
// clients.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.closeAllClients()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("client registered", "remote_addr", c.remoteAddr, "clients", n)

		case c := <-h.unregister:
			h.removeClient(c, "unregister")

		case msg := <-h.broadcast:
			var slow []*wsClient
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					slow = append(slow, c)
				}
			}
			h.mu.Unlock()

			for _, c := range slow {
				h.removeClient(c, "slow_client")
			}
		}
	}
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// BroadcastBytes queues msg for every client. It never blocks; the message
// is dropped if the hub queue is full.
func (h *Hub) BroadcastBytes(msg []byte) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("broadcast queue full, dropping message", "bytes", len(msg))
	}
}

// leave queues c for removal. Once Run has returned the hub has already
// closed every client, so there is nothing left to do.
func (h *Hub) leave(c *wsClient) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		_ = c.conn.Close()
		close(c.send)
		delete(h.clients, c)
	}
}

func (h *Hub) removeClient(c *wsClient, reason string) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
	}
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		_ = c.conn.Close()
		close(c.send)
		h.logger.Info("client disconnected", "remote_addr", c.remoteAddr, "reason", reason, "clients", n)
	}
}

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeHTTP upgrades the request and registers the connection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", "error", err)
		return
	}

	c := &wsClient{
		hub:        h,
		conn:       conn,
		send:       make(chan []byte, h.sendBuf),
		remoteAddr: r.RemoteAddr,
	}
	if h.greeting != nil {
		for _, frame := range h.greeting() {
			c.send <- frame
		}
	}
	select {
	case <-h.done:
		_ = conn.Close()
		return
	default:
	}
	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	}

	// The request context ends when this handler returns; the pumps live
	// until the connection fails or the hub drops the client.
	go c.writePump()
	go c.readPump()
}

const (
	writeWait  = 5 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = 20 * time.Second
)

type wsClient struct {
	hub        *Hub
	conn       *websocket.Conn
	send       chan []byte
	remoteAddr string
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) {
					c.hub.logger.Debug("write failed", "remote_addr", c.remoteAddr, "error", err)
				}
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *wsClient) readPump() {
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		kind, msg, err := c.conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				c.hub.logger.Debug("client closed", "remote_addr", c.remoteAddr, "code", ce.Code)
			}
			c.hub.leave(c)
			return
		}
		if kind == websocket.TextMessage && c.hub.onMessage != nil {
			c.hub.onMessage(msg)
		}
	}
}
