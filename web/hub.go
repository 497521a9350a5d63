package web

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	goutils "go.viam.com/utils"

	"go.viam.com/netft/logging"
	"go.viam.com/netft/pipeline"
)

const (
	writeWait      = 5 * time.Second
	clientBacklog  = 16
	streamOutputs  = "outputs"
	streamCancel   = "cancel"
	streamResponse = "response"
)

// StreamMessage is one message sent to stream subscribers.
type StreamMessage struct {
	Type     string                `json:"type"`
	Outputs  *pipeline.Outputs     `json:"outputs,omitempty"`
	Cancel   *pipeline.CancelEvent `json:"cancel,omitempty"`
	Response *pipeline.Response    `json:"response,omitempty"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans messages out to websocket subscribers. Subscribers that fall behind are dropped.
type Hub struct {
	logger   logging.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	workers sync.WaitGroup
}

// NewHub returns an empty hub.
func NewHub(logger logging.Logger) *Hub {
	return &Hub{
		logger:  logger,
		clients: map[*client]struct{}{},
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the request and subscribes the connection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debugw("websocket upgrade failed", "error", err)
		return
	}
	c := &client{conn: conn, send: make(chan []byte, clientBacklog)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	h.workers.Add(2)
	goutils.ManagedGo(func() { h.writeLoop(c) }, h.workers.Done)
	goutils.ManagedGo(func() { h.readLoop(c) }, h.workers.Done)
}

// readLoop discards what the client sends and notices when it goes away.
func (h *Hub) readLoop(c *client) {
	defer h.remove(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(c *client) {
	defer func() {
		//nolint:errcheck
		c.conn.Close()
	}()
	for msg := range c.send {
		//nolint:errcheck
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.remove(c)
			return
		}
	}
	//nolint:errcheck
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// Len is the number of subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) broadcast(msg StreamMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Errorw("cannot encode stream message", "type", msg.Type, "error", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.logger.Warn("dropping slow stream subscriber")
			delete(h.clients, c)
			close(c.send)
		}
	}
}

// PublishOutputs sends one cycle's outputs to every subscriber.
func (h *Hub) PublishOutputs(_ context.Context, out pipeline.Outputs) {
	h.broadcast(StreamMessage{Type: streamOutputs, Outputs: &out})
}

// PublishResponse sends a calibration response to every subscriber.
func (h *Hub) PublishResponse(_ context.Context, resp pipeline.Response) {
	h.broadcast(StreamMessage{Type: streamResponse, Response: &resp})
}

// Cancel sends a cancel event to every subscriber.
func (h *Hub) Cancel(_ context.Context, ev pipeline.CancelEvent) {
	h.broadcast(StreamMessage{Type: streamCancel, Cancel: &ev})
}

// Close disconnects every subscriber and waits for their goroutines.
func (h *Hub) Close() {
	h.mu.Lock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	h.workers.Wait()
}

var _ pipeline.Canceller = (*Hub)(nil)
