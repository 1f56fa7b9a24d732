package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/codecrew-dev/codecrew/internal/logbook"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second
	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Maximum message size allowed from peer. The stream is one-way, so
	// clients only ever send control frames.
	maxMessageSize = 512

	clientBuffer = 64
	hubBuffer    = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// streamEvent is the frame sent to every stream subscriber for each message
// the engine stores.
type streamEvent struct {
	Type      string          `json:"type"`
	Payload   logbook.Message `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

type wsClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// Hub fans engine messages out to websocket subscribers. A slow client whose
// buffer fills is dropped rather than allowed to stall the engine. Clients
// join and leave directly under the mutex, so connection handling never
// depends on the broadcast loop being up.
type Hub struct {
	logger    Logger
	broadcast chan []byte

	mu      sync.RWMutex
	clients map[*wsClient]bool
}

func newHub(logger Logger) *Hub {
	if logger == nil {
		logger = nopLogger{}
	}
	return &Hub{
		logger:    logger,
		broadcast: make(chan []byte, hubBuffer),
		clients:   make(map[*wsClient]bool),
	}
}

// run drains the broadcast queue until ctx is cancelled.
func (h *Hub) run(ctx context.Context) {
	defer h.closeAll()
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-h.broadcast:
			h.mu.RLock()
			var slow []*wsClient
			for client := range h.clients {
				select {
				case client.send <- frame:
				default:
					slow = append(slow, client)
				}
			}
			h.mu.RUnlock()
			for _, client := range slow {
				h.drop(client)
			}
		}
	}
}

func (h *Hub) add(client *wsClient) {
	h.mu.Lock()
	h.clients[client] = true
	h.mu.Unlock()
	h.logger.Printf("bridge: stream client connected: %s", client.id)
}

func (h *Hub) drop(client *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
		h.logger.Printf("bridge: stream client disconnected: %s", client.id)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
}

func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// observe is installed as the engine's message observer. It runs under the
// engine lock, so it never blocks: a full hub buffer drops the frame.
func (h *Hub) observe(msg logbook.Message) {
	frame, err := json.Marshal(streamEvent{
		Type:      "message",
		Payload:   msg,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		h.logger.Printf("bridge: encode stream frame: %v", err)
		return
	}
	select {
	case h.broadcast <- frame:
	default:
	}
}

func (h *Hub) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("bridge: websocket upgrade failed: %v", err)
		return
	}
	client := &wsClient{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, clientBuffer),
	}
	h.add(client)
	go client.writePump()
	go client.readPump(h)
}

// readPump discards client frames and watches for disconnects.
func (c *wsClient) readPump(h *Hub) {
	defer func() {
		h.drop(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
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
